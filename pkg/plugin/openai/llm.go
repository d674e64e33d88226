package openai

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/auricle-ai/auricle-go/pkg/ai"
	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
)

// LLM streams chat completions from the OpenAI API, including tool calls.
type LLM struct {
	client *goopenai.Client
	model  string
}

// NewLLM creates the chat provider.
func NewLLM(cfg Config) (*LLM, error) {
	cfg, err := cfg.resolve(defaultLLMModel)
	if err != nil {
		return nil, err
	}
	return &LLM{client: cfg.client(), model: cfg.Model}, nil
}

func (l *LLM) Label() string { return "openai." + l.model }

func (l *LLM) Capabilities() llm.Capabilities {
	return llm.Capabilities{RequiresPersistentFunctions: false}
}

func (l *LLM) Chat(ctx context.Context, opts llm.ChatOptions) (llm.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &chatStream{
		llm:     l,
		chatCtx: opts.ChatCtx,
		fncCtx:  opts.FncCtx,
		events:  make(chan llm.ChatChunk, 64),
		cancel:  cancel,
	}
	go s.run(ctx, opts)
	return s, nil
}

func buildMessages(chatCtx *llm.ChatContext) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(chatCtx.Messages))
	for _, msg := range chatCtx.Messages {
		m := goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		switch msg.Role {
		case llm.RoleAssistant:
			for _, call := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, goopenai.ToolCall{
					ID:   call.ToolCallID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      call.FunctionName,
						Arguments: call.RawArguments,
					},
				})
			}
		case llm.RoleTool:
			m.ToolCallID = msg.ToolCallID
			m.Name = msg.Name
		}
		out = append(out, m)
	}
	return out
}

func buildTools(fncCtx *llm.FunctionContext) []goopenai.Tool {
	if fncCtx == nil || fncCtx.Len() == 0 {
		return nil
	}
	tools := make([]goopenai.Tool, 0, fncCtx.Len())
	for _, fn := range fncCtx.Functions() {
		tools = append(tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		})
	}
	return tools
}

type chatStream struct {
	llm     *LLM
	chatCtx *llm.ChatContext
	fncCtx  *llm.FunctionContext
	events  chan llm.ChatChunk
	cancel  context.CancelFunc

	mu    sync.Mutex
	calls []llm.FunctionCallInfo
	err   error
}

// pendingCall accumulates streamed tool-call fragments by index.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (s *chatStream) run(ctx context.Context, opts llm.ChatOptions) {
	defer close(s.events)

	req := goopenai.ChatCompletionRequest{
		Model:    s.llm.model,
		Messages: buildMessages(opts.ChatCtx),
		Tools:    buildTools(opts.FncCtx),
		StreamOptions: &goopenai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.N > 0 {
		req.N = opts.N
	}
	if opts.ParallelToolCalls != nil {
		req.ParallelToolCalls = *opts.ParallelToolCalls
	}
	if opts.ToolChoice != "" && len(req.Tools) > 0 {
		req.ToolChoice = string(opts.ToolChoice)
	}

	conn := opts.Conn
	if conn == (ai.ConnectOptions{}) {
		conn = ai.DefaultConnectOptions
	}

	var upstream *goopenai.ChatCompletionStream
	err := ai.Retry(ctx, conn, func(ctx context.Context) error {
		var openErr error
		upstream, openErr = s.llm.client.CreateChatCompletionStream(ctx, req)
		if openErr != nil {
			return wrapError("chat completion", openErr)
		}
		return nil
	})
	if err != nil {
		s.setErr(err)
		return
	}
	defer upstream.Close()

	requestID := uuid.NewString()
	pending := make(map[int]*pendingCall)

	for {
		resp, recvErr := upstream.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				s.resolvePending(ctx, requestID, pending)
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.setErr(wrapError("chat stream", recvErr))
			return
		}
		if resp.ID != "" {
			requestID = resp.ID
		}

		if resp.Usage != nil {
			s.send(ctx, llm.ChatChunk{
				RequestID: requestID,
				Usage: &llm.CompletionUsage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			})
		}

		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				s.send(ctx, llm.ChatChunk{
					RequestID: requestID,
					Choices: []llm.Choice{{
						Index: choice.Index,
						Delta: llm.ChoiceDelta{
							Role:    llm.RoleAssistant,
							Content: choice.Delta.Content,
						},
					}},
				})
			}

			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				pc, ok := pending[idx]
				if !ok {
					pc = &pendingCall{}
					pending[idx] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args.WriteString(tc.Function.Arguments)
			}

			if choice.FinishReason == goopenai.FinishReasonToolCalls {
				s.resolvePending(ctx, requestID, pending)
				pending = make(map[int]*pendingCall)
			}
		}
	}
}

// resolvePending turns accumulated fragments into resolved calls and emits
// them as one chunk.
func (s *chatStream) resolvePending(ctx context.Context, requestID string, pending map[int]*pendingCall) {
	if len(pending) == 0 || s.fncCtx == nil {
		return
	}

	var resolved []llm.FunctionCallInfo
	for _, pc := range pending {
		if pc.name == "" {
			continue
		}
		call, err := llm.NewFunctionCallInfo(s.fncCtx, pc.id, pc.name, pc.args.String())
		if err != nil {
			s.setErr(err)
			continue
		}
		resolved = append(resolved, call)
	}
	if len(resolved) == 0 {
		return
	}

	s.mu.Lock()
	s.calls = append(s.calls, resolved...)
	s.mu.Unlock()

	s.send(ctx, llm.ChatChunk{
		RequestID: requestID,
		Choices: []llm.Choice{{
			Delta: llm.ChoiceDelta{Role: llm.RoleAssistant, ToolCalls: resolved},
		}},
	})
}

func (s *chatStream) send(ctx context.Context, chunk llm.ChatChunk) {
	select {
	case s.events <- chunk:
	case <-ctx.Done():
	}
}

func (s *chatStream) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *chatStream) Events() <-chan llm.ChatChunk { return s.events }

func (s *chatStream) ChatContext() *llm.ChatContext { return s.chatCtx }

func (s *chatStream) FunctionContext() *llm.FunctionContext { return s.fncCtx }

func (s *chatStream) FunctionCalls() []llm.FunctionCallInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.FunctionCallInfo(nil), s.calls...)
}

func (s *chatStream) ExecuteFunctions(ctx context.Context) []*llm.CalledFunction {
	var out []*llm.CalledFunction
	for _, call := range s.FunctionCalls() {
		out = append(out, call.Execute(ctx))
	}
	return out
}

func (s *chatStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *chatStream) Close() { s.cancel() }
