// Package fake provides a scriptable VAD for tests: the test emits detection
// events directly instead of running inference.
package fake

import (
	"sync"
	"time"

	"github.com/auricle-ai/auricle-go/pkg/ai/vad"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
)

// FakeVAD broadcasts test-injected events to every open stream.
type FakeVAD struct {
	mu      sync.Mutex
	streams []*FakeStream
}

// New creates a fake detector.
func New() *FakeVAD {
	return &FakeVAD{}
}

func (f *FakeVAD) Capabilities() vad.Capabilities {
	return vad.Capabilities{UpdateInterval: 32 * time.Millisecond}
}

func (f *FakeVAD) Stream() vad.Stream {
	s := &FakeStream{events: make(chan vad.Event, 64)}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s
}

// Emit delivers an event to every open stream.
func (f *FakeVAD) Emit(ev vad.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.streams {
		s.emit(ev)
	}
}

// EmitStartOfSpeech is shorthand for a start event.
func (f *FakeVAD) EmitStartOfSpeech() {
	f.Emit(vad.Event{Type: vad.EventStartOfSpeech, Speaking: true})
}

// EmitInferenceDone is shorthand for one inference window.
func (f *FakeVAD) EmitInferenceDone(probability float64, rawSpeech time.Duration) {
	f.Emit(vad.Event{
		Type:                 vad.EventInferenceDone,
		Probability:          probability,
		RawAccumulatedSpeech: rawSpeech,
		Speaking:             rawSpeech > 0,
	})
}

// EmitEndOfSpeech is shorthand for an end event carrying the buffered frames.
func (f *FakeVAD) EmitEndOfSpeech(frames []*rtc.AudioFrame) {
	f.Emit(vad.Event{Type: vad.EventEndOfSpeech, Frames: frames})
}

// FakeStream is one fake detection session.
type FakeStream struct {
	mu     sync.Mutex
	events chan vad.Event
	closed bool

	FramesPushed int
}

func (s *FakeStream) emit(ev vad.Event) {
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
	s.FramesPushed++
	return nil
}

func (s *FakeStream) EndInput() error {
	s.Close()
	return nil
}

func (s *FakeStream) Events() <-chan vad.Event { return s.events }

func (s *FakeStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
