// Package fake provides a scripted chat model for tests.
package fake

import (
	"context"
	"strings"
	"sync"

	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
	"github.com/google/uuid"
)

// Turn scripts one completion. Content is streamed word by word; when
// CallFunction is set the stream requests that tool call before finishing.
type Turn struct {
	Content       string
	CallFunction  string
	CallArguments string
}

// FakeLLM replays scripted turns in order. When the script runs out, the
// last turn repeats.
type FakeLLM struct {
	mu     sync.Mutex
	script []Turn
	next   int

	// ChatCalls counts completion requests.
	ChatCalls int

	// ChatErr, when set, fails every completion request.
	ChatErr error
}

// New creates a fake model with the given script.
func New(script ...Turn) *FakeLLM {
	if len(script) == 0 {
		script = []Turn{{Content: "This is a scripted reply."}}
	}
	return &FakeLLM{script: script}
}

func (f *FakeLLM) Label() string { return "fake-llm" }

func (f *FakeLLM) Capabilities() llm.Capabilities { return llm.Capabilities{} }

func (f *FakeLLM) Chat(ctx context.Context, opts llm.ChatOptions) (llm.Stream, error) {
	f.mu.Lock()
	turn := f.script[f.next]
	if f.next < len(f.script)-1 {
		f.next++
	}
	f.ChatCalls++
	chatErr := f.ChatErr
	f.mu.Unlock()

	if chatErr != nil {
		return nil, chatErr
	}

	s := &fakeStream{
		chatCtx: opts.ChatCtx,
		fncCtx:  opts.FncCtx,
		events:  make(chan llm.ChatChunk, 64),
	}
	go s.run(ctx, turn)
	return s, nil
}

type fakeStream struct {
	chatCtx *llm.ChatContext
	fncCtx  *llm.FunctionContext

	mu     sync.Mutex
	calls  []llm.FunctionCallInfo
	events chan llm.ChatChunk
	err    error
}

func (s *fakeStream) run(ctx context.Context, turn Turn) {
	defer close(s.events)
	requestID := uuid.NewString()

	send := func(chunk llm.ChatChunk) bool {
		chunk.RequestID = requestID
		select {
		case s.events <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	words := strings.Fields(turn.Content)
	for i, w := range words {
		if i < len(words)-1 {
			w += " "
		}
		if !send(llm.ChatChunk{Choices: []llm.Choice{{Delta: llm.ChoiceDelta{Role: llm.RoleAssistant, Content: w}}}}) {
			return
		}
	}

	if turn.CallFunction != "" && s.fncCtx != nil {
		call, err := llm.NewFunctionCallInfo(s.fncCtx, uuid.NewString(), turn.CallFunction, turn.CallArguments)
		if err != nil {
			s.err = err
			return
		}
		s.mu.Lock()
		s.calls = append(s.calls, call)
		s.mu.Unlock()
		if !send(llm.ChatChunk{Choices: []llm.Choice{{Delta: llm.ChoiceDelta{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.FunctionCallInfo{call},
		}}}}) {
			return
		}
	}

	promptTokens := len(s.chatCtx.Messages)
	send(llm.ChatChunk{Usage: &llm.CompletionUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: len(words),
		TotalTokens:      promptTokens + len(words),
	}})
}

func (s *fakeStream) Events() <-chan llm.ChatChunk { return s.events }

func (s *fakeStream) ChatContext() *llm.ChatContext { return s.chatCtx }

func (s *fakeStream) FunctionContext() *llm.FunctionContext { return s.fncCtx }

func (s *fakeStream) FunctionCalls() []llm.FunctionCallInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.FunctionCallInfo(nil), s.calls...)
}

func (s *fakeStream) ExecuteFunctions(ctx context.Context) []*llm.CalledFunction {
	var out []*llm.CalledFunction
	for _, call := range s.FunctionCalls() {
		out = append(out, call.Execute(ctx))
	}
	return out
}

func (s *fakeStream) Err() error { return s.err }

func (s *fakeStream) Close() {}
