package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/auricle-ai/auricle-go/pkg/rtc"
	"github.com/auricle-ai/auricle-go/pkg/transcription"
)

// ErrSynthesisInterrupted is returned by Play when the synthesis was
// interrupted before playout could start.
var ErrSynthesisInterrupted = errors.New("pipeline: synthesis interrupted")

// SynthesisHandle owns one speech's synthesis: a bounded buffer of audio
// frames being produced by TTS, and the transcript forwarder pacing its
// captions. Playout starts only when Play is called, so synthesis can run
// ahead while a previous speech is still playing.
type SynthesisHandle struct {
	speechID string
	fwd      *transcription.Forwarder
	bufCh    chan *rtc.AudioFrame
	playout  *AgentPlayout
	cancel   context.CancelFunc

	interruptOnce sync.Once
	interruptCh   chan struct{}
	done          chan struct{}

	mu         sync.Mutex
	playHandle *PlayoutHandle
}

func (h *SynthesisHandle) SpeechID() string { return h.speechID }

// Forwarder returns the transcript forwarder tracking this speech.
func (h *SynthesisHandle) Forwarder() *transcription.Forwarder { return h.fwd }

// PlayedText returns the text estimated to have been heard so far.
func (h *SynthesisHandle) PlayedText() string { return h.fwd.PlayedText() }

// Play hands the buffered audio to the playout. It fails when the synthesis
// was interrupted before playout.
func (h *SynthesisHandle) Play() (*PlayoutHandle, error) {
	if h.Interrupted() {
		return nil, ErrSynthesisInterrupted
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.playHandle != nil {
		return nil, errors.New("pipeline: synthesis already playing")
	}
	h.playHandle = h.playout.play(h.speechID, h.bufCh, h.fwd)
	return h.playHandle, nil
}

// Interrupt stops synthesis and, when playing, the playout. Frames already
// buffered are dropped.
func (h *SynthesisHandle) Interrupt() {
	h.interruptOnce.Do(func() {
		close(h.interruptCh)
		h.cancel()

		h.mu.Lock()
		play := h.playHandle
		h.mu.Unlock()
		if play != nil {
			play.Interrupt()
		}
	})
}

// Interrupted reports whether Interrupt was called.
func (h *SynthesisHandle) Interrupted() bool {
	select {
	case <-h.interruptCh:
		return true
	default:
		return false
	}
}

// Done is closed once synthesis finished producing frames, successfully or
// not.
func (h *SynthesisHandle) Done() <-chan struct{} { return h.done }
