package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/auricle-ai/auricle-go/pkg/ai"
	"github.com/auricle-ai/auricle-go/pkg/ai/stt"
	"github.com/auricle-ai/auricle-go/pkg/ai/vad"
	"github.com/auricle-ai/auricle-go/pkg/metrics"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
)

// HumanInput fans microphone audio into VAD and STT and dispatches their
// events to the agent. It owns no policy: deciding what a transcript or a
// probability means is the agent's job.
type HumanInput struct {
	vad      vad.VAD
	stt      stt.STT
	frames   <-chan *rtc.AudioFrame
	language string
	conn     ai.ConnectOptions

	onStartOfSpeech     func(ev vad.Event)
	onVADInferenceDone  func(ev vad.Event)
	onEndOfSpeech       func(ev vad.Event)
	onInterimTranscript func(ev stt.SpeechEvent)
	onFinalTranscript   func(ev stt.SpeechEvent)
	onMetrics           func(m metrics.STT)

	speaking atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHumanInput creates the input fan-out for one audio source. Callbacks are
// installed by the agent before Start.
func NewHumanInput(v vad.VAD, s stt.STT, frames <-chan *rtc.AudioFrame, language string, conn ai.ConnectOptions) *HumanInput {
	return &HumanInput{
		vad:      v,
		stt:      s,
		frames:   frames,
		language: language,
		conn:     conn,
		done:     make(chan struct{}),
	}
}

// Speaking reports whether VAD currently detects user speech.
func (h *HumanInput) Speaking() bool { return h.speaking.Load() }

// Start opens the VAD and STT streams and begins pumping audio. It returns
// once the streams are running.
func (h *HumanInput) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	vadStream := h.vad.Stream()
	sttStream, err := h.stt.Stream(ctx, stt.RecognizeOptions{Language: h.language, Conn: h.conn})
	if err != nil {
		cancel()
		vadStream.Close()
		return err
	}

	go h.pumpAudio(ctx, vadStream, sttStream)
	go h.forwardVADEvents(vadStream)
	go h.forwardSTTEvents(sttStream)
	return nil
}

// Close stops the input pumps.
func (h *HumanInput) Close() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *HumanInput) pumpAudio(ctx context.Context, vadStream vad.Stream, sttStream stt.RecognizeStream) {
	defer vadStream.Close()
	defer sttStream.Close()

	for {
		select {
		case frame, ok := <-h.frames:
			if !ok {
				vadStream.EndInput()
				sttStream.EndInput()
				return
			}
			if err := vadStream.PushFrame(frame); err != nil {
				slog.Warn("vad rejected frame", "error", err)
			}
			if err := sttStream.PushFrame(frame); err != nil {
				slog.Warn("stt rejected frame", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *HumanInput) forwardVADEvents(stream vad.Stream) {
	defer close(h.done)
	for ev := range stream.Events() {
		switch ev.Type {
		case vad.EventStartOfSpeech:
			h.speaking.Store(true)
			if h.onStartOfSpeech != nil {
				h.onStartOfSpeech(ev)
			}
		case vad.EventInferenceDone:
			if h.onVADInferenceDone != nil {
				h.onVADInferenceDone(ev)
			}
		case vad.EventEndOfSpeech:
			h.speaking.Store(false)
			if h.onEndOfSpeech != nil {
				h.onEndOfSpeech(ev)
			}
		}
	}
}

func (h *HumanInput) forwardSTTEvents(stream stt.RecognizeStream) {
	for ev := range stream.Events() {
		switch ev.Type {
		case stt.SpeechEventInterimTranscript:
			if h.onInterimTranscript != nil {
				h.onInterimTranscript(ev)
			}
		case stt.SpeechEventFinalTranscript:
			if h.onFinalTranscript != nil {
				h.onFinalTranscript(ev)
			}
		case stt.SpeechEventRecognitionUsage:
			if h.onMetrics != nil && ev.Usage != nil {
				h.onMetrics(metrics.STT{
					Base: metrics.Base{
						Timestamp: time.Now(),
						Label:     h.stt.Label(),
						RequestID: ev.RequestID,
					},
					AudioDuration: ev.Usage.AudioDuration,
					Streamed:      h.stt.Capabilities().Streaming,
				})
			}
		}
	}
	if err := stream.Err(); err != nil {
		slog.Error("stt stream terminated", "error", err)
	}
}
