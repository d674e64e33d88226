package pipeline

import (
	"context"
	"sync"

	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
)

type callContextKey struct{}

// AgentCallContext is handed to function handlers through their
// context.Context. It exposes the agent for mid-call speech and lets the
// handler append extra messages to the conversation once the call commits.
type AgentCallContext struct {
	agent     *VoicePipelineAgent
	llmStream llm.Stream

	mu                sync.Mutex
	extraChatMessages []*llm.ChatMessage
	metadata          map[string]any
}

func newAgentCallContext(agent *VoicePipelineAgent, stream llm.Stream) *AgentCallContext {
	return &AgentCallContext{agent: agent, llmStream: stream, metadata: make(map[string]any)}
}

// CallContextFrom extracts the call context inside a function handler.
func CallContextFrom(ctx context.Context) (*AgentCallContext, bool) {
	cc, ok := ctx.Value(callContextKey{}).(*AgentCallContext)
	return cc, ok
}

func withCallContext(ctx context.Context, cc *AgentCallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// Agent returns the agent executing the call.
func (c *AgentCallContext) Agent() *VoicePipelineAgent { return c.agent }

// LLMStream returns the completion stream that produced the call.
func (c *AgentCallContext) LLMStream() llm.Stream { return c.llmStream }

// AddExtraChatMessage queues a message to append to the chat context when
// the speech containing this call commits.
func (c *AgentCallContext) AddExtraChatMessage(msg *llm.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extraChatMessages = append(c.extraChatMessages, msg)
}

// ExtraChatMessages returns the queued messages.
func (c *AgentCallContext) ExtraChatMessages() []*llm.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*llm.ChatMessage(nil), c.extraChatMessages...)
}

// StoreMetadata attaches arbitrary state to the call, shared across handlers
// of the same tool round-trip.
func (c *AgentCallContext) StoreMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// Metadata reads state stored by StoreMetadata.
func (c *AgentCallContext) Metadata(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}
