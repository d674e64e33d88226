// Package fake provides a deterministic synthesizer for tests: a sine tone
// whose duration is proportional to the text length.
package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/auricle-ai/auricle-go/pkg/ai/tts"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
	"github.com/google/uuid"
)

const (
	sampleRate    = 16000
	frameDuration = 10 * time.Millisecond
	// Synthesized speech length per input character.
	perCharDuration = 10 * time.Millisecond
)

// FakeTTS synthesizes a 440 Hz tone. It implements both the chunked and the
// streaming contracts so tests can exercise either path.
type FakeTTS struct {
	mu sync.Mutex

	// SynthesizeCalls counts chunked synthesis requests.
	SynthesizeCalls int
	// Texts records every synthesized segment in order.
	Texts []string
}

// New creates a fake synthesizer.
func New() *FakeTTS {
	return &FakeTTS{}
}

func (f *FakeTTS) Label() string { return "fake-tts" }

func (f *FakeTTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{Streaming: true}
}

func (f *FakeTTS) SampleRate() int  { return sampleRate }
func (f *FakeTTS) NumChannels() int { return 1 }

func (f *FakeTTS) record(text string, chunked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if chunked {
		f.SynthesizeCalls++
	}
	f.Texts = append(f.Texts, text)
}

// toneFrames generates the audio for one text segment.
func toneFrames(text string) []*rtc.AudioFrame {
	total := time.Duration(len(text)) * perCharDuration
	frameCount := int(total / frameDuration)
	if frameCount == 0 {
		frameCount = 1
	}

	samplesPerFrame := sampleRate / 100
	frames := make([]*rtc.AudioFrame, 0, frameCount)
	for i := 0; i < frameCount; i++ {
		data := make([]byte, samplesPerFrame*2)
		for j := 0; j < samplesPerFrame; j++ {
			n := i*samplesPerFrame + j
			sample := 0.3 * math.Sin(2*math.Pi*440*float64(n)/float64(sampleRate))
			v := int16(sample * 32767)
			data[j*2] = byte(v)
			data[j*2+1] = byte(v >> 8)
		}
		frames = append(frames, &rtc.AudioFrame{
			Data:              data,
			SampleRate:        sampleRate,
			SamplesPerChannel: samplesPerFrame,
			NumChannels:       1,
			Timestamp:         time.Duration(i) * frameDuration,
		})
	}
	return frames
}

func (f *FakeTTS) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (tts.ChunkedStream, error) {
	f.record(text, true)

	s := &fakeChunkedStream{events: make(chan tts.SynthesizedAudio, 64)}
	go func() {
		defer close(s.events)
		requestID := uuid.NewString()
		frames := toneFrames(text)
		for i, frame := range frames {
			select {
			case s.events <- tts.SynthesizedAudio{
				RequestID: requestID,
				Frame:     frame,
				IsFinal:   i == len(frames)-1,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return s, nil
}

type fakeChunkedStream struct {
	events chan tts.SynthesizedAudio
}

func (s *fakeChunkedStream) Events() <-chan tts.SynthesizedAudio { return s.events }
func (s *fakeChunkedStream) Err() error                          { return nil }
func (s *fakeChunkedStream) Close()                              {}

func (f *FakeTTS) Stream(ctx context.Context, opts tts.SynthesizeOptions) (tts.SynthesizeStream, error) {
	return &fakeSynthStream{
		tts:       f,
		ctx:       ctx,
		requestID: uuid.NewString(),
		segmentID: uuid.NewString(),
		events:    make(chan tts.SynthesizedAudio, 256),
	}, nil
}

// fakeSynthStream buffers pushed text and synthesizes it on Flush/EndInput,
// one segment per flush.
type fakeSynthStream struct {
	tts       *FakeTTS
	ctx       context.Context
	requestID string

	mu        sync.Mutex
	segmentID string
	buf       string
	events    chan tts.SynthesizedAudio
	closed    bool
}

func (s *fakeSynthStream) PushText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf += text
	return nil
}

func (s *fakeSynthStream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *fakeSynthStream) flushLocked() error {
	if s.buf == "" {
		return nil
	}
	text := s.buf
	s.buf = ""
	s.tts.record(text, false)

	frames := toneFrames(text)
	for i, frame := range frames {
		delta := ""
		if i == 0 {
			delta = text
		}
		select {
		case s.events <- tts.SynthesizedAudio{
			RequestID: s.requestID,
			SegmentID: s.segmentID,
			Frame:     frame,
			IsFinal:   i == len(frames)-1,
			DeltaText: delta,
		}:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
	s.segmentID = uuid.NewString()
	return nil
}

func (s *fakeSynthStream) EndInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flushLocked()
	s.closed = true
	close(s.events)
	return err
}

func (s *fakeSynthStream) Events() <-chan tts.SynthesizedAudio { return s.events }

func (s *fakeSynthStream) Err() error { return nil }

func (s *fakeSynthStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
