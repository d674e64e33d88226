package silero

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/auricle-ai/auricle-go/pkg/ai/vad"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
)

type vadStream struct {
	opts   options
	load   func() (inference, error)
	input  chan *rtc.AudioFrame
	events chan vad.Event
	ctx    context.Context
	cancel context.CancelFunc
	closed chan struct{}
}

func newStream(opts options, load func() (inference, error)) *vadStream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &vadStream{
		opts:   opts,
		load:   load,
		input:  make(chan *rtc.AudioFrame, 64),
		events: make(chan vad.Event, 64),
		ctx:    ctx,
		cancel: cancel,
		closed: make(chan struct{}),
	}
	go s.run()
	return s
}

// PushFrame never blocks on inference; when the detector falls behind, the
// frame is dropped rather than stalling the audio path.
func (s *vadStream) PushFrame(frame *rtc.AudioFrame) error {
	if frame.SampleRate != s.opts.sampleRate {
		return fmt.Errorf("silero: expected %dHz input, got %dHz", s.opts.sampleRate, frame.SampleRate)
	}
	if frame.NumChannels != 1 {
		return fmt.Errorf("silero: expected mono input, got %d channels", frame.NumChannels)
	}
	select {
	case <-s.closed:
		return errors.New("silero: stream closed")
	default:
	}
	select {
	case s.input <- frame:
		return nil
	case <-s.ctx.Done():
		return errors.New("silero: stream closed")
	default:
		slog.Warn("silero inference falling behind, dropping frame")
		return nil
	}
}

func (s *vadStream) EndInput() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
		close(s.input)
		return nil
	}
}

func (s *vadStream) Events() <-chan vad.Event { return s.events }

func (s *vadStream) Close() {
	s.cancel()
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

// detectorState is the per-stream speech state machine.
type detectorState struct {
	speaking bool

	timestamp       time.Duration
	speechDuration  time.Duration
	silenceDuration time.Duration

	// Raw accumulations count consecutive windows on one side of the
	// threshold and reset when a window lands on the other side.
	rawSpeech  time.Duration
	rawSilence time.Duration

	prefixFrames []*rtc.AudioFrame
	prefixTotal  time.Duration
	speechFrames []*rtc.AudioFrame
	speechTotal  time.Duration
}

func (s *vadStream) run() {
	defer close(s.events)

	inf, err := s.load()
	if err != nil {
		slog.Error("silero model load failed", "error", err)
		return
	}
	defer inf.destroy()

	windowSamples := inf.windowSize()
	windowDuration := time.Duration(windowSamples) * time.Second / time.Duration(s.opts.sampleRate)
	deactivation := s.opts.activationThreshold - deactivationOffset

	var (
		state   detectorState
		window  = make([]float32, 0, windowSamples)
		scratch = make([]float32, windowSamples)
	)

	for {
		var frame *rtc.AudioFrame
		select {
		case f, ok := <-s.input:
			if !ok {
				return
			}
			frame = f
		case <-s.ctx.Done():
			return
		}

		s.bufferFrame(&state, frame)

		samples := frameSamples(frame)
		for len(samples) > 0 {
			need := windowSamples - len(window)
			if need > len(samples) {
				window = append(window, samples...)
				break
			}
			window = append(window, samples[:need]...)
			samples = samples[need:]

			copy(scratch, window)
			window = window[:0]

			start := time.Now()
			prob, err := inf.infer(scratch)
			if err != nil {
				slog.Error("silero inference failed", "error", err)
				return
			}
			wasSpeaking := state.speaking
			s.processWindow(&state, float64(prob), windowDuration, deactivation, time.Since(start))
			if wasSpeaking && !state.speaking {
				// Fresh recurrent state for the next utterance.
				inf.reset()
			}
		}
	}
}

// bufferFrame records audio for the current speech run, or for the prefix
// padding window preceding the next one.
func (s *vadStream) bufferFrame(state *detectorState, frame *rtc.AudioFrame) {
	if state.speaking {
		if state.speechTotal < s.opts.maxBufferedSpeech {
			state.speechFrames = append(state.speechFrames, frame)
			state.speechTotal += frame.Duration()
		}
		return
	}
	state.prefixFrames = append(state.prefixFrames, frame)
	state.prefixTotal += frame.Duration()
	for state.prefixTotal > s.opts.prefixPadding && len(state.prefixFrames) > 1 {
		state.prefixTotal -= state.prefixFrames[0].Duration()
		state.prefixFrames = state.prefixFrames[1:]
	}
}

func (s *vadStream) processWindow(state *detectorState, prob float64, windowDuration time.Duration, deactivation float64, inferenceDuration time.Duration) {
	state.timestamp += windowDuration

	threshold := s.opts.activationThreshold
	if state.speaking {
		threshold = deactivation
	}
	if prob >= threshold {
		state.rawSpeech += windowDuration
		state.rawSilence = 0
	} else {
		state.rawSilence += windowDuration
		state.rawSpeech = 0
	}
	if state.speaking {
		state.speechDuration += windowDuration
	} else {
		state.silenceDuration += windowDuration
	}

	s.emit(vad.Event{
		Type:                  vad.EventInferenceDone,
		Timestamp:             state.timestamp,
		Probability:           prob,
		SpeechDuration:        state.speechDuration,
		SilenceDuration:       state.silenceDuration,
		RawAccumulatedSpeech:  state.rawSpeech,
		RawAccumulatedSilence: state.rawSilence,
		Speaking:              state.speaking,
		InferenceDuration:     inferenceDuration,
	})

	if !state.speaking && state.rawSpeech >= s.opts.minSpeechDuration {
		state.speaking = true
		state.speechDuration = state.rawSpeech
		state.silenceDuration = 0
		state.speechFrames = append([]*rtc.AudioFrame(nil), state.prefixFrames...)
		state.speechTotal = state.prefixTotal
		state.prefixFrames = nil
		state.prefixTotal = 0

		s.emit(vad.Event{
			Type:                  vad.EventStartOfSpeech,
			Timestamp:             state.timestamp,
			Probability:           prob,
			SpeechDuration:        state.speechDuration,
			RawAccumulatedSpeech:  state.rawSpeech,
			RawAccumulatedSilence: state.rawSilence,
			Speaking:              true,
		})
		return
	}

	if state.speaking && state.rawSilence >= s.opts.minSilenceDuration {
		state.speaking = false
		state.silenceDuration = state.rawSilence
		state.speechDuration = 0
		frames := state.speechFrames
		state.speechFrames = nil
		state.speechTotal = 0

		s.emit(vad.Event{
			Type:                  vad.EventEndOfSpeech,
			Timestamp:             state.timestamp,
			Probability:           prob,
			SilenceDuration:       state.silenceDuration,
			RawAccumulatedSpeech:  state.rawSpeech,
			RawAccumulatedSilence: state.rawSilence,
			Speaking:              false,
			Frames:                frames,
		})
	}
}

func (s *vadStream) emit(ev vad.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func frameSamples(frame *rtc.AudioFrame) []float32 {
	out := make([]float32, frame.SamplesPerChannel)
	for i := range out {
		sample := int16(binary.LittleEndian.Uint16(frame.Data[i*2:]))
		out[i] = float32(sample) / 32768
	}
	return out
}
