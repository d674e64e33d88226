package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"
)

func newWeatherContext(t *testing.T) *FunctionContext {
	t.Helper()
	fncCtx := NewFunctionContext()
	fncCtx.Register(&FunctionInfo{
		Name:        "get_weather",
		Description: "Look up the current weather for a location.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, arguments string) (any, error) {
			return "sunny, 22C", nil
		},
	})
	return fncCtx
}

func TestFunctionCallExecution(t *testing.T) {
	is := is.New(t)

	fncCtx := newWeatherContext(t)
	call, err := NewFunctionCallInfo(fncCtx, "call_1", "get_weather", `{"location":"Lisbon"}`)
	is.NoErr(err)

	called := call.Execute(context.Background())
	is.NoErr(called.Err)
	is.Equal(called.Result, "sunny, 22C")

	msg := called.ToolMessage()
	is.Equal(msg.Role, RoleTool)
	is.Equal(msg.ToolCallID, "call_1")
	is.Equal(msg.Content, "sunny, 22C")
}

func TestFunctionCallErrors(t *testing.T) {
	fncCtx := newWeatherContext(t)

	t.Run("unknown function", func(t *testing.T) {
		is := is.New(t)
		_, err := NewFunctionCallInfo(fncCtx, "call_1", "launch_rocket", "{}")
		is.True(err != nil)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		is := is.New(t)
		_, err := NewFunctionCallInfo(fncCtx, "call_1", "get_weather", "{not json")
		is.True(err != nil)
	})

	t.Run("handler error captured, not propagated", func(t *testing.T) {
		is := is.New(t)

		failCtx := NewFunctionContext()
		failCtx.Register(&FunctionInfo{
			Name: "flaky",
			Handler: func(ctx context.Context, arguments string) (any, error) {
				return nil, errors.New("backend down")
			},
		})
		call, err := NewFunctionCallInfo(failCtx, "call_2", "flaky", "{}")
		is.NoErr(err)

		called := call.Execute(context.Background())
		is.True(called.Err != nil)

		msg := called.ToolMessage()
		is.True(msg.ToolErr != nil)
		is.Equal(msg.Content, "an error occurred while executing the function")
	})

	t.Run("panicking handler captured", func(t *testing.T) {
		is := is.New(t)

		panicCtx := NewFunctionContext()
		panicCtx.Register(&FunctionInfo{
			Name: "broken",
			Handler: func(ctx context.Context, arguments string) (any, error) {
				panic("boom")
			},
		})
		call, err := NewFunctionCallInfo(panicCtx, "call_3", "broken", "{}")
		is.NoErr(err)

		called := call.Execute(context.Background())
		is.True(called.Err != nil)
	})
}

func TestChatContextCopy(t *testing.T) {
	is := is.New(t)

	ctx := NewChatContext()
	ctx.AppendMessage(RoleSystem, "You are a helpful voice assistant.")
	user := ctx.AppendMessage(RoleUser, "hello")

	cp := ctx.Copy()
	cp.Messages[1].Content = "changed"

	is.Equal(user.Content, "hello") // copy must not alias originals
	is.Equal(ctx.IndexByID(user.ID), 1)
	is.Equal(cp.IndexByID("missing"), -1)
}
