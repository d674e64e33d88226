package stt

import (
	"context"
	"log/slog"

	"github.com/auricle-ai/auricle-go/pkg/ai"
	"github.com/auricle-ai/auricle-go/pkg/ai/vad"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
	"github.com/google/uuid"
)

// StreamAdapter lends the streaming contract to a whole-utterance
// recognizer. A VAD segments the incoming audio; each detected speech run is
// combined into a single frame and transcribed with Recognize.
type StreamAdapter struct {
	stt STT
	vad vad.VAD
}

// NewStreamAdapter wraps a non-streaming recognizer.
func NewStreamAdapter(s STT, v vad.VAD) *StreamAdapter {
	return &StreamAdapter{stt: s, vad: v}
}

func (a *StreamAdapter) Label() string { return a.stt.Label() }

func (a *StreamAdapter) Capabilities() Capabilities {
	return Capabilities{Streaming: true, InterimResults: false}
}

// Recognize passes through to the wrapped recognizer.
func (a *StreamAdapter) Recognize(ctx context.Context, frame *rtc.AudioFrame, opts RecognizeOptions) (*SpeechEvent, error) {
	return a.stt.Recognize(ctx, frame, opts)
}

// Stream opens a VAD-segmented session over the wrapped recognizer.
func (a *StreamAdapter) Stream(ctx context.Context, opts RecognizeOptions) (RecognizeStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &adapterStream{
		adapter: a,
		opts:    opts,
		vadStream: a.vad.Stream(),
		eventCh: make(chan SpeechEvent, 16),
		cancel:  cancel,
	}
	go s.run(ctx)
	return s, nil
}

type adapterStream struct {
	adapter   *StreamAdapter
	opts      RecognizeOptions
	vadStream vad.Stream
	eventCh   chan SpeechEvent
	cancel    context.CancelFunc
	err       error
}

func (s *adapterStream) run(ctx context.Context) {
	defer close(s.eventCh)

	for ev := range s.vadStream.Events() {
		switch ev.Type {
		case vad.EventStartOfSpeech:
			s.send(ctx, SpeechEvent{Type: SpeechEventStartOfSpeech})

		case vad.EventEndOfSpeech:
			s.send(ctx, SpeechEvent{Type: SpeechEventEndOfSpeech})
			if len(ev.Frames) == 0 {
				continue
			}

			frames := make([]rtc.AudioFrame, 0, len(ev.Frames))
			for _, f := range ev.Frames {
				frames = append(frames, *f)
			}
			merged, err := rtc.CombineFrames(frames)
			if err != nil {
				slog.Warn("failed to combine speech frames", "error", err)
				continue
			}

			var result *SpeechEvent
			err = ai.Retry(ctx, s.opts.Conn, func(ctx context.Context) error {
				var rerr error
				result, rerr = s.adapter.stt.Recognize(ctx, merged, s.opts)
				return rerr
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.err = err
				return
			}

			result.Type = SpeechEventFinalTranscript
			if result.RequestID == "" {
				result.RequestID = uuid.NewString()
			}
			s.send(ctx, *result)
		}
	}
}

func (s *adapterStream) send(ctx context.Context, ev SpeechEvent) {
	select {
	case s.eventCh <- ev:
	case <-ctx.Done():
	}
}

func (s *adapterStream) PushFrame(frame *rtc.AudioFrame) error {
	return s.vadStream.PushFrame(frame)
}

// Flush is a no-op: utterance boundaries come from the VAD.
func (s *adapterStream) Flush() error { return nil }

func (s *adapterStream) EndInput() error { return s.vadStream.EndInput() }

func (s *adapterStream) Events() <-chan SpeechEvent { return s.eventCh }

func (s *adapterStream) Err() error { return s.err }

func (s *adapterStream) Close() {
	s.cancel()
	s.vadStream.Close()
}
