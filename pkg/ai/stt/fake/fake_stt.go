// Package fake provides a scriptable recognizer for tests: the test injects
// interim and final transcripts directly.
package fake

import (
	"context"
	"errors"
	"sync"

	"github.com/auricle-ai/auricle-go/pkg/ai/stt"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
	"github.com/google/uuid"
)

// FakeSTT broadcasts test-injected transcripts to every open stream.
type FakeSTT struct {
	mu      sync.Mutex
	streams []*FakeStream

	// RecognizeText is returned by the batch Recognize call.
	RecognizeText string
}

// New creates a fake recognizer.
func New() *FakeSTT {
	return &FakeSTT{}
}

func (f *FakeSTT) Label() string { return "fake-stt" }

func (f *FakeSTT) Capabilities() stt.Capabilities {
	return stt.Capabilities{Streaming: true, InterimResults: true}
}

func (f *FakeSTT) Recognize(ctx context.Context, frame *rtc.AudioFrame, opts stt.RecognizeOptions) (*stt.SpeechEvent, error) {
	return &stt.SpeechEvent{
		Type:      stt.SpeechEventFinalTranscript,
		RequestID: uuid.NewString(),
		Alternatives: []stt.SpeechData{
			{Text: f.RecognizeText, Language: opts.Language, Confidence: 1},
		},
	}, nil
}

func (f *FakeSTT) Stream(ctx context.Context, opts stt.RecognizeOptions) (stt.RecognizeStream, error) {
	s := &FakeStream{events: make(chan stt.SpeechEvent, 64)}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

// EmitInterim delivers an interim transcript to every open stream.
func (f *FakeSTT) EmitInterim(text string) {
	f.emit(stt.SpeechEvent{
		Type:         stt.SpeechEventInterimTranscript,
		RequestID:    uuid.NewString(),
		Alternatives: []stt.SpeechData{{Text: text, Language: "en", Confidence: 0.5}},
	})
}

// EmitFinal delivers a final transcript to every open stream.
func (f *FakeSTT) EmitFinal(text string) {
	f.emit(stt.SpeechEvent{
		Type:         stt.SpeechEventFinalTranscript,
		RequestID:    uuid.NewString(),
		Alternatives: []stt.SpeechData{{Text: text, Language: "en", Confidence: 1}},
	})
}

func (f *FakeSTT) emit(ev stt.SpeechEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.streams {
		s.emit(ev)
	}
}

// FakeStream is one fake recognition session.
type FakeStream struct {
	mu     sync.Mutex
	events chan stt.SpeechEvent
	closed bool

	FramesPushed int
}

func (s *FakeStream) emit(ev stt.SpeechEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

func (s *FakeStream) PushFrame(frame *rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("fake stt: stream closed")
	}
	s.FramesPushed++
	return nil
}

func (s *FakeStream) Flush() error { return nil }

func (s *FakeStream) EndInput() error {
	s.Close()
	return nil
}

func (s *FakeStream) Events() <-chan stt.SpeechEvent { return s.events }

func (s *FakeStream) Err() error { return nil }

func (s *FakeStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
