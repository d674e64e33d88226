package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// FunctionHandler executes one tool call. arguments is the raw JSON the
// model produced; the returned value is serialized back into the chat
// context as the tool result.
type FunctionHandler func(ctx context.Context, arguments string) (any, error)

// FunctionInfo declares one callable function exposed to the model.
type FunctionInfo struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object describing the arguments.
	Parameters map[string]any
	Handler    FunctionHandler
}

// FunctionContext is the set of functions a reply may call.
type FunctionContext struct {
	functions map[string]*FunctionInfo
}

// NewFunctionContext creates an empty function set.
func NewFunctionContext() *FunctionContext {
	return &FunctionContext{functions: make(map[string]*FunctionInfo)}
}

// Register adds a function. Registering a duplicate name is a programming
// error and panics, matching plugin registration behavior.
func (c *FunctionContext) Register(info *FunctionInfo) {
	if info.Name == "" {
		panic("llm: function registered without a name")
	}
	if _, ok := c.functions[info.Name]; ok {
		panic(fmt.Sprintf("llm: function %q registered twice", info.Name))
	}
	c.functions[info.Name] = info
}

// Lookup returns the function with the given name.
func (c *FunctionContext) Lookup(name string) (*FunctionInfo, bool) {
	info, ok := c.functions[name]
	return info, ok
}

// Functions returns all registered functions.
func (c *FunctionContext) Functions() []*FunctionInfo {
	out := make([]*FunctionInfo, 0, len(c.functions))
	for _, f := range c.functions {
		out = append(out, f)
	}
	return out
}

// Len reports the number of registered functions.
func (c *FunctionContext) Len() int { return len(c.functions) }

// FunctionCallInfo is one tool call requested by the model.
type FunctionCallInfo struct {
	ToolCallID   string
	FunctionName string
	RawArguments string

	fnc *FunctionInfo
}

// NewFunctionCallInfo resolves a model-requested call against the function
// context. An unknown function name is a terminal error for the call, not
// for the turn.
func NewFunctionCallInfo(fncCtx *FunctionContext, toolCallID, name, rawArguments string) (FunctionCallInfo, error) {
	info, ok := fncCtx.Lookup(name)
	if !ok {
		return FunctionCallInfo{}, fmt.Errorf("llm: model requested unknown function %q", name)
	}
	if rawArguments != "" && !json.Valid([]byte(rawArguments)) {
		return FunctionCallInfo{}, fmt.Errorf("llm: invalid arguments for %q: not valid JSON", name)
	}
	return FunctionCallInfo{
		ToolCallID:   toolCallID,
		FunctionName: name,
		RawArguments: rawArguments,
		fnc:          info,
	}, nil
}

// Execute runs the handler. Handler errors are captured in the result, never
// propagated: one failing tool must not abort the remaining tools.
func (c FunctionCallInfo) Execute(ctx context.Context) *CalledFunction {
	called := &CalledFunction{CallInfo: c}
	if c.fnc == nil || c.fnc.Handler == nil {
		called.Err = fmt.Errorf("llm: function %q has no handler", c.FunctionName)
		return called
	}

	defer func() {
		if r := recover(); r != nil {
			called.Err = fmt.Errorf("llm: function %q panicked: %v", c.FunctionName, r)
		}
	}()
	called.Result, called.Err = c.fnc.Handler(ctx, c.RawArguments)
	return called
}

// CalledFunction is the outcome of one executed tool call.
type CalledFunction struct {
	CallInfo FunctionCallInfo
	Result   any
	Err      error
}

// ToolMessage renders the outcome as the tool message appended to the chat
// context for the follow-up completion.
func (c *CalledFunction) ToolMessage() *ChatMessage {
	msg := NewChatMessage(RoleTool, "")
	msg.Name = c.CallInfo.FunctionName
	msg.ToolCallID = c.CallInfo.ToolCallID
	if c.Err != nil {
		msg.Content = "an error occurred while executing the function"
		msg.ToolErr = c.Err
		return msg
	}
	switch v := c.Result.(type) {
	case nil:
		msg.Content = ""
	case string:
		msg.Content = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			msg.Content = fmt.Sprintf("%v", v)
		} else {
			msg.Content = string(b)
		}
	}
	return msg
}
