package llm

import (
	"context"

	"github.com/auricle-ai/auricle-go/pkg/ai"
)

// ToolChoice controls whether the model may, must, or must not call tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// ChatOptions configures one completion request.
type ChatOptions struct {
	ChatCtx *ChatContext
	FncCtx  *FunctionContext

	Temperature       *float32
	N                 int
	ParallelToolCalls *bool
	ToolChoice        ToolChoice

	Conn ai.ConnectOptions
}

// ChoiceDelta is the incremental content of one chunk.
type ChoiceDelta struct {
	Role      ChatRole
	Content   string
	ToolCalls []FunctionCallInfo
}

// Choice is one alternative completion within a chunk.
type Choice struct {
	Delta ChoiceDelta
	Index int
}

// CompletionUsage reports token consumption. At most one usage record is
// emitted per stream, on or before termination.
type CompletionUsage struct {
	CompletionTokens int
	PromptTokens     int
	TotalTokens      int
}

// ChatChunk is one streamed increment of the completion.
type ChatChunk struct {
	RequestID string
	Choices   []Choice
	Usage     *CompletionUsage
}

// Capabilities describes a chat model provider.
type Capabilities struct {
	// RequiresPersistentFunctions keeps tool declarations in follow-up
	// requests even after the calls were answered.
	RequiresPersistentFunctions bool
}

// LLM is the chat model contract.
type LLM interface {
	Label() string
	Capabilities() Capabilities
	Chat(ctx context.Context, opts ChatOptions) (Stream, error)
}

// Stream is one in-flight completion. Events closes when the completion
// finishes or fails; Err reports the terminal error afterwards. Close
// cancels the request. FunctionCalls returns the tool calls collected so
// far; ExecuteFunctions runs them all and returns the outcomes.
type Stream interface {
	Events() <-chan ChatChunk
	ChatContext() *ChatContext
	FunctionContext() *FunctionContext
	FunctionCalls() []FunctionCallInfo
	ExecuteFunctions(ctx context.Context) []*CalledFunction
	Err() error
	Close()
}
