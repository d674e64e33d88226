// Package llm defines the chat model contract: a persistent chat context,
// callable function declarations, and a streaming completion interface with
// tool-call support.
package llm

import (
	"github.com/google/uuid"
)

// ChatRole is the author of a chat message.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleTool      ChatRole = "tool"
)

// ChatMessage is one entry of the conversation history.
type ChatMessage struct {
	ID      string
	Role    ChatRole
	Content string

	// Name qualifies tool messages with the function name.
	Name string

	// ToolCalls holds the calls an assistant message requested.
	ToolCalls []FunctionCallInfo

	// ToolCallID links a tool result message to the call that produced it.
	ToolCallID string

	// ToolErr records a tool execution failure reported back to the model.
	ToolErr error
}

// NewChatMessage creates a message with a fresh id.
func NewChatMessage(role ChatRole, content string) *ChatMessage {
	return &ChatMessage{ID: uuid.NewString(), Role: role, Content: content}
}

// Copy returns a deep copy of the message.
func (m *ChatMessage) Copy() *ChatMessage {
	cp := *m
	cp.ToolCalls = append([]FunctionCallInfo(nil), m.ToolCalls...)
	return &cp
}

// ChatContext is the ordered conversation history handed to the model.
type ChatContext struct {
	Messages []*ChatMessage
}

// NewChatContext creates an empty context.
func NewChatContext() *ChatContext {
	return &ChatContext{}
}

// AppendMessage appends a new message and returns it.
func (c *ChatContext) AppendMessage(role ChatRole, content string) *ChatMessage {
	msg := NewChatMessage(role, content)
	c.Messages = append(c.Messages, msg)
	return msg
}

// Append adds an existing message.
func (c *ChatContext) Append(msg *ChatMessage) *ChatContext {
	c.Messages = append(c.Messages, msg)
	return c
}

// Copy returns a deep copy: mutating the copy's messages never affects the
// original. Used to snapshot the context per reply while tools append to
// their own view.
func (c *ChatContext) Copy() *ChatContext {
	cp := &ChatContext{Messages: make([]*ChatMessage, 0, len(c.Messages))}
	for _, m := range c.Messages {
		cp.Messages = append(cp.Messages, m.Copy())
	}
	return cp
}

// IndexByID returns the position of the message with the given id, or -1.
func (c *ChatContext) IndexByID(id string) int {
	for i, m := range c.Messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}
