package tts

import (
	"context"

	"github.com/auricle-ai/auricle-go/pkg/ai"
	"github.com/auricle-ai/auricle-go/pkg/tokenize"
	"github.com/google/uuid"
)

// StreamAdapter lends the streaming contract to a chunked-only synthesizer.
// Pushed text runs through a sentence stream; each completed sentence is
// synthesized end-to-end and its last frame is re-emitted with IsFinal set,
// so downstream consumers see segment boundaries exactly as a native
// streaming provider would report them.
type StreamAdapter struct {
	tts       TTS
	tokenizer tokenize.SentenceTokenizer
}

// NewStreamAdapter wraps a chunked-only synthesizer.
func NewStreamAdapter(t TTS, tokenizer tokenize.SentenceTokenizer) *StreamAdapter {
	return &StreamAdapter{tts: t, tokenizer: tokenizer}
}

func (a *StreamAdapter) Label() string { return a.tts.Label() }

func (a *StreamAdapter) Capabilities() Capabilities {
	return Capabilities{Streaming: true}
}

func (a *StreamAdapter) SampleRate() int  { return a.tts.SampleRate() }
func (a *StreamAdapter) NumChannels() int { return a.tts.NumChannels() }

// Synthesize passes through to the wrapped synthesizer.
func (a *StreamAdapter) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (ChunkedStream, error) {
	return a.tts.Synthesize(ctx, text, opts)
}

// Stream opens a sentence-segmented session over the wrapped synthesizer.
func (a *StreamAdapter) Stream(ctx context.Context, opts SynthesizeOptions) (SynthesizeStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &adapterStream{
		adapter:   a,
		opts:      opts,
		sentences: a.tokenizer.Stream(),
		eventCh:   make(chan SynthesizedAudio, 32),
		cancel:    cancel,
	}
	go s.run(ctx)
	return s, nil
}

type adapterStream struct {
	adapter   *StreamAdapter
	opts      SynthesizeOptions
	sentences tokenize.TokenStream
	eventCh   chan SynthesizedAudio
	cancel    context.CancelFunc
	err       error
}

func (s *adapterStream) run(ctx context.Context) {
	defer close(s.eventCh)

	for tok := range s.sentences.Events() {
		if err := s.synthesizeSegment(ctx, tok); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.err = err
			return
		}
	}
}

func (s *adapterStream) synthesizeSegment(ctx context.Context, tok tokenize.TokenData) error {
	// Each sentence becomes its own segment; IsFinal on its last frame marks
	// the boundary for downstream consumers.
	segmentID := uuid.NewString()
	return ai.Retry(ctx, s.opts.Conn, func(ctx context.Context) error {
		chunked, err := s.adapter.tts.Synthesize(ctx, tok.Token, s.opts)
		if err != nil {
			return err
		}
		defer chunked.Close()

		// Hold one frame back so the last can be marked final.
		var pending *SynthesizedAudio
		for audio := range chunked.Events() {
			if pending != nil {
				if !s.send(ctx, *pending) {
					return ctx.Err()
				}
			}
			audio.SegmentID = segmentID
			audio.IsFinal = false
			pending = &audio
		}
		if err := chunked.Err(); err != nil {
			return err
		}
		if pending != nil {
			pending.IsFinal = true
			if !s.send(ctx, *pending) {
				return ctx.Err()
			}
		}
		return nil
	})
}

func (s *adapterStream) send(ctx context.Context, audio SynthesizedAudio) bool {
	select {
	case s.eventCh <- audio:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *adapterStream) PushText(text string) error { return s.sentences.PushText(text) }

func (s *adapterStream) Flush() error { return s.sentences.Flush() }

func (s *adapterStream) EndInput() error { return s.sentences.EndInput() }

func (s *adapterStream) Events() <-chan SynthesizedAudio { return s.eventCh }

func (s *adapterStream) Err() error { return s.err }

func (s *adapterStream) Close() {
	s.cancel()
	s.sentences.Close()
}
