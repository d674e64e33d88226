package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
)

// SpeechHandle tracks one queued or playing agent speech from creation to
// commitment. A reply handle is created as soon as a user turn is validated
// and initialized later, once the LLM stream exists. Tool speeches nest under
// the speech whose function calls produced them.
type SpeechHandle struct {
	id                 string
	allowInterruptions bool
	addToChatCtx       bool
	isReply            bool
	userQuestion       string

	// Tool speech bookkeeping. extraToolsMessages carries the assistant
	// tool_calls message plus tool results to splice into the chat context
	// when this speech commits. fncTextMessageID points at the text message
	// committed alongside the calls, so an interrupted tool speech can
	// retract it.
	extraToolsMessages []*llm.ChatMessage
	fncNestedDepth     int
	fncTextMessageID   string

	mu          sync.Mutex
	source      SpeechSource
	synthesis   *SynthesisHandle
	initialized chan struct{}
	cancelled   bool
	cancelChan  chan struct{}
	cancelOnce  sync.Once

	userCommitted   bool
	speechCommitted bool

	nested        []*SpeechHandle
	nestedChanged chan struct{}
	nestedDone    chan struct{}
	nestedOnce    sync.Once
}

func newSpeechHandle(allowInterruptions, addToChatCtx bool) *SpeechHandle {
	return &SpeechHandle{
		id:                 uuid.NewString(),
		allowInterruptions: allowInterruptions,
		addToChatCtx:       addToChatCtx,
		initialized:        make(chan struct{}),
		cancelChan:         make(chan struct{}),
		nestedChanged:      make(chan struct{}, 1),
		nestedDone:         make(chan struct{}),
	}
}

// newReplySpeechHandle creates the handle for an assistant reply to a user
// turn. The source arrives later through Initialize.
func newReplySpeechHandle(allowInterruptions, addToChatCtx bool, userQuestion string) *SpeechHandle {
	h := newSpeechHandle(allowInterruptions, addToChatCtx)
	h.isReply = true
	h.userQuestion = userQuestion
	return h
}

// newSaySpeechHandle creates the handle for an explicit Say.
func newSaySpeechHandle(allowInterruptions, addToChatCtx bool) *SpeechHandle {
	return newSpeechHandle(allowInterruptions, addToChatCtx)
}

// newToolSpeechHandle creates the handle for speech produced by a tool
// round-trip.
func newToolSpeechHandle(allowInterruptions, addToChatCtx bool, extraToolsMessages []*llm.ChatMessage, fncTextMessageID string, depth int) *SpeechHandle {
	h := newSpeechHandle(allowInterruptions, addToChatCtx)
	h.extraToolsMessages = extraToolsMessages
	h.fncTextMessageID = fncTextMessageID
	h.fncNestedDepth = depth
	return h
}

func (h *SpeechHandle) ID() string                { return h.id }
func (h *SpeechHandle) AllowInterruptions() bool  { return h.allowInterruptions }
func (h *SpeechHandle) AddToChatCtx() bool        { return h.addToChatCtx }
func (h *SpeechHandle) IsReply() bool             { return h.isReply }
func (h *SpeechHandle) UserQuestion() string      { return h.userQuestion }
func (h *SpeechHandle) FunctionNestedDepth() int  { return h.fncNestedDepth }

// Initialize binds the synthesized source to the handle and releases anyone
// waiting in WaitForInitialization. A handle cancelled before initialization
// interrupts the synthesis immediately.
func (h *SpeechHandle) Initialize(source SpeechSource, synthesis *SynthesisHandle) {
	h.mu.Lock()
	if h.isInitializedLocked() {
		h.mu.Unlock()
		panic("pipeline: speech handle already initialized")
	}
	h.source = source
	h.synthesis = synthesis
	cancelled := h.cancelled
	close(h.initialized)
	h.mu.Unlock()

	if cancelled && synthesis != nil {
		synthesis.Interrupt()
	}
}

func (h *SpeechHandle) isInitializedLocked() bool {
	select {
	case <-h.initialized:
		return true
	default:
		return false
	}
}

// Initialized reports whether a source has been bound.
func (h *SpeechHandle) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isInitializedLocked()
}

// WaitForInitialization blocks until the handle is initialized, cancelled, or
// the context expires. A handle cancelled before initialization releases its
// waiters; the playout loop must not stall behind a reply whose synthesis
// never materialized.
func (h *SpeechHandle) WaitForInitialization(ctx context.Context) error {
	select {
	case <-h.initialized:
		if h.Interrupted() {
			return context.Canceled
		}
		return nil
	case <-h.cancelChan:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Source returns the bound speech source. Valid only after initialization.
func (h *SpeechHandle) Source() SpeechSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.source
}

// Synthesis returns the bound synthesis handle, nil before initialization.
func (h *SpeechHandle) Synthesis() *SynthesisHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.synthesis
}

// Cancel stops the speech. With cancelNested it also cancels every queued
// nested speech and marks the nested queue done.
func (h *SpeechHandle) Cancel(cancelNested bool) {
	h.mu.Lock()
	h.cancelled = true
	h.cancelOnce.Do(func() { close(h.cancelChan) })
	synthesis := h.synthesis
	var nested []*SpeechHandle
	if cancelNested {
		nested = append(nested, h.nested...)
	}
	h.mu.Unlock()

	if synthesis != nil {
		synthesis.Interrupt()
	}
	if cancelNested {
		for _, n := range nested {
			n.Cancel(true)
		}
		h.MarkNestedSpeechDone()
	}
}

// Interrupt cancels the speech if it allows interruptions; otherwise it is a
// no-op.
func (h *SpeechHandle) Interrupt() {
	if !h.allowInterruptions {
		return
	}
	h.Cancel(false)
}

// Interrupted reports whether the speech was cancelled or its synthesis
// interrupted.
func (h *SpeechHandle) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return true
	}
	return h.synthesis != nil && h.synthesis.Interrupted()
}

// MarkUserCommitted records that the user turn preceding this speech was
// appended to the chat context.
func (h *SpeechHandle) MarkUserCommitted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.userCommitted = true
}

func (h *SpeechHandle) UserCommitted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.userCommitted
}

// MarkSpeechCommitted records that the spoken text was appended to the chat
// context.
func (h *SpeechHandle) MarkSpeechCommitted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.speechCommitted = true
}

func (h *SpeechHandle) SpeechCommitted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.speechCommitted
}

// AddNestedSpeech queues a speech to play inside this speech's turn, ahead of
// the main queue.
func (h *SpeechHandle) AddNestedSpeech(nested *SpeechHandle) {
	h.mu.Lock()
	h.nested = append(h.nested, nested)
	h.mu.Unlock()

	select {
	case h.nestedChanged <- struct{}{}:
	default:
	}
}

// popNestedSpeech removes and returns the oldest nested speech, or nil.
func (h *SpeechHandle) popNestedSpeech() *SpeechHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.nested) == 0 {
		return nil
	}
	nested := h.nested[0]
	h.nested = h.nested[1:]
	return nested
}

func (h *SpeechHandle) nestedSpeechPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.nested) > 0
}

// NestedSpeechChanged signals when a nested speech is queued.
func (h *SpeechHandle) NestedSpeechChanged() <-chan struct{} { return h.nestedChanged }

// MarkNestedSpeechDone declares that no further nested speech will be queued.
func (h *SpeechHandle) MarkNestedSpeechDone() {
	h.nestedOnce.Do(func() { close(h.nestedDone) })
}

// NestedSpeechDone is closed once the nested queue is final.
func (h *SpeechHandle) NestedSpeechDone() <-chan struct{} { return h.nestedDone }

func (h *SpeechHandle) nestedSpeechFinished() bool {
	select {
	case <-h.nestedDone:
		return true
	default:
		return false
	}
}
