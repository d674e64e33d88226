package pipeline

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
	llmfake "github.com/auricle-ai/auricle-go/pkg/ai/llm/fake"
	sttfake "github.com/auricle-ai/auricle-go/pkg/ai/stt/fake"
	ttsfake "github.com/auricle-ai/auricle-go/pkg/ai/tts/fake"
	vadfake "github.com/auricle-ai/auricle-go/pkg/ai/vad/fake"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
	"github.com/auricle-ai/auricle-go/pkg/transcription"
)

// testSink records everything played. With paced set it sleeps for each
// frame's duration, approximating a real-time audio track.
type testSink struct {
	paced bool

	mu         sync.Mutex
	frames     int
	duration   time.Duration
	lastSample int16
}

func (s *testSink) CaptureFrame(frame *rtc.AudioFrame) error {
	if s.paced {
		time.Sleep(frame.Duration())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.duration += frame.Duration()
	if len(frame.Data) >= 2 {
		s.lastSample = int16(binary.LittleEndian.Uint16(frame.Data))
	}
	return nil
}

func (s *testSink) playedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

type testEnv struct {
	agent *VoicePipelineAgent
	vad   *vadfake.FakeVAD
	stt   *sttfake.FakeSTT
	llm   *llmfake.FakeLLM
	tts   *ttsfake.FakeTTS
	sink  *testSink
}

func newTestEnv(t *testing.T, script []llmfake.Turn, paced bool, opts ...Option) *testEnv {
	t.Helper()

	env := &testEnv{
		vad:  vadfake.New(),
		stt:  sttfake.New(),
		llm:  llmfake.New(script...),
		tts:  ttsfake.New(),
		sink: &testSink{paced: paced},
	}

	all := append([]Option{
		WithEndpointingDelay(20*time.Millisecond, 200*time.Millisecond),
	}, opts...)
	env.agent = NewVoicePipelineAgent(env.vad, env.stt, env.llm, env.tts, all...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(env.agent.Close)

	frames := make(chan *rtc.AudioFrame)
	if err := env.agent.Start(ctx, frames, env.sink); err != nil {
		t.Fatalf("starting agent: %v", err)
	}
	return env
}

// userSays simulates one full user turn through the fakes.
func (e *testEnv) userSays(text string) {
	e.vad.EmitStartOfSpeech()
	e.vad.EmitInferenceDone(0.9, 100*time.Millisecond)
	e.stt.EmitInterim(text)
	e.vad.EmitEndOfSpeech(nil)
	e.stt.EmitFinal(text)
}

func eventChan(a *VoicePipelineAgent, ev EventType) <-chan any {
	ch := make(chan any, 16)
	a.On(ev, func(payload any) {
		select {
		case ch <- payload:
		default:
		}
	})
	return ch
}

func waitEvent(t *testing.T, ch <-chan any, timeout time.Duration, what string) any {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

func (e *testEnv) chatMessages() []*llm.ChatMessage {
	e.agent.mu.Lock()
	defer e.agent.mu.Unlock()
	return append([]*llm.ChatMessage(nil), e.agent.chatCtx.Messages...)
}

func TestAgentRepliesToUserTurn(t *testing.T) {
	is := is.New(t)

	env := newTestEnv(t, nil, false)
	userCommitted := eventChan(env.agent, EventUserSpeechCommitted)
	agentCommitted := eventChan(env.agent, EventAgentSpeechCommitted)

	env.userSays("what's the weather like today?")

	userMsg := waitEvent(t, userCommitted, 5*time.Second, "user_speech_committed").(*llm.ChatMessage)
	is.Equal(userMsg.Role, llm.RoleUser)
	is.Equal(userMsg.Content, "what's the weather like today?")

	agentMsg := waitEvent(t, agentCommitted, 5*time.Second, "agent_speech_committed").(*llm.ChatMessage)
	is.Equal(agentMsg.Role, llm.RoleAssistant)
	is.Equal(agentMsg.Content, "This is a scripted reply.")

	msgs := env.chatMessages()
	is.Equal(len(msgs), 2)
	is.Equal(msgs[0].Role, llm.RoleUser)
	is.Equal(msgs[1].Role, llm.RoleAssistant)
	is.True(env.sink.playedFrames() > 0)
}

func TestSayPlaysAndCommits(t *testing.T) {
	is := is.New(t)

	env := newTestEnv(t, nil, false)
	agentCommitted := eventChan(env.agent, EventAgentSpeechCommitted)

	handle, err := env.agent.Say(TextSource("Hello! How can I help?"), true, true)
	is.NoErr(err)

	msg := waitEvent(t, agentCommitted, 5*time.Second, "agent_speech_committed").(*llm.ChatMessage)
	is.Equal(msg.Content, "Hello! How can I help?")
	is.True(handle.SpeechCommitted())

	msgs := env.chatMessages()
	is.Equal(len(msgs), 1)
	is.Equal(msgs[0].Role, llm.RoleAssistant)
}

func TestSayWithoutChatContext(t *testing.T) {
	is := is.New(t)

	env := newTestEnv(t, nil, false)
	stopped := eventChan(env.agent, EventAgentStoppedSpeaking)

	_, err := env.agent.Say(TextSource("One moment please."), true, false)
	is.NoErr(err)

	waitEvent(t, stopped, 5*time.Second, "agent_stopped_speaking")
	is.Equal(len(env.chatMessages()), 0) // addToChatCtx was false
}

func TestBargeInCommitsPartialReply(t *testing.T) {
	is := is.New(t)

	longReply := strings.TrimSpace(strings.Repeat("alpha bravo charlie delta ", 10))
	env := newTestEnv(t, []llmfake.Turn{{Content: longReply}}, true)

	started := eventChan(env.agent, EventAgentStartedSpeaking)
	interrupted := eventChan(env.agent, EventAgentSpeechInterrupted)
	userCommitted := eventChan(env.agent, EventUserSpeechCommitted)

	env.userSays("tell me absolutely everything about it")

	waitEvent(t, started, 5*time.Second, "agent_started_speaking")
	waitEvent(t, userCommitted, 5*time.Second, "user_speech_committed")

	// Barge in once a good chunk has played.
	time.Sleep(700 * time.Millisecond)
	env.vad.EmitStartOfSpeech()
	env.vad.EmitInferenceDone(0.95, 600*time.Millisecond)

	msg := waitEvent(t, interrupted, 5*time.Second, "agent_speech_interrupted").(*llm.ChatMessage)
	is.True(strings.HasSuffix(msg.Content, "..."))
	is.True(len(msg.Content) < len(longReply)) // only the heard prefix committed

	spoken := strings.TrimSuffix(msg.Content, "...")
	if spoken != "" {
		is.True(strings.HasPrefix(longReply, spoken))
	}
}

func TestEarlyInterruptLeavesHistoryUncommitted(t *testing.T) {
	is := is.New(t)

	longReply := strings.TrimSpace(strings.Repeat("echo foxtrot golf hotel ", 10))
	env := newTestEnv(t, []llmfake.Turn{{Content: longReply}}, true)

	started := eventChan(env.agent, EventAgentStartedSpeaking)
	userCommitted := eventChan(env.agent, EventUserSpeechCommitted)

	env.userSays("please read the full report")
	waitEvent(t, started, 5*time.Second, "agent_started_speaking")

	// Interrupt before anything was meaningfully heard.
	env.vad.EmitStartOfSpeech()
	env.vad.EmitInferenceDone(0.99, 600*time.Millisecond)

	select {
	case <-userCommitted:
		t.Fatal("user turn committed despite near-immediate interruption")
	case <-time.After(600 * time.Millisecond):
	}
	is.Equal(len(env.chatMessages()), 0)
}

func TestFailedReplyDoesNotStallQueue(t *testing.T) {
	is := is.New(t)

	env := newTestEnv(t, nil, false)
	env.llm.ChatErr = errTest
	agentCommitted := eventChan(env.agent, EventAgentSpeechCommitted)

	env.userSays("is anyone there?")

	// Let validation queue the reply and its completion fail.
	time.Sleep(300 * time.Millisecond)
	is.Equal(len(env.chatMessages()), 0) // failed turn leaves the history unchanged

	// The queue must keep serving speech after the failed turn.
	_, err := env.agent.Say(TextSource("Are you still there?"), true, true)
	is.NoErr(err)

	msg := waitEvent(t, agentCommitted, 3*time.Second, "agent_speech_committed after failed reply").(*llm.ChatMessage)
	is.Equal(msg.Content, "Are you still there?")
}

func TestFunctionCallRoundTrip(t *testing.T) {
	is := is.New(t)

	argsCh := make(chan string, 1)
	fncCtx := llm.NewFunctionContext()
	fncCtx.Register(&llm.FunctionInfo{
		Name:        "get_weather",
		Description: "Fetch the current weather for a location",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, arguments string) (any, error) {
			if _, ok := CallContextFrom(ctx); !ok {
				t.Error("handler invoked without a call context")
			}
			argsCh <- arguments
			return "sunny, 24C", nil
		},
	})

	script := []llmfake.Turn{
		{Content: "Let me check.", CallFunction: "get_weather", CallArguments: `{"location":"Tokyo"}`},
		{Content: "It is sunny in Tokyo."},
	}
	env := newTestEnv(t, script, false, WithFunctionContext(fncCtx))

	collected := eventChan(env.agent, EventFunctionCallsCollected)
	finished := eventChan(env.agent, EventFunctionCallsFinished)
	agentCommitted := eventChan(env.agent, EventAgentSpeechCommitted)

	env.userSays("how's the weather in tokyo?")

	first := waitEvent(t, agentCommitted, 5*time.Second, "first agent_speech_committed").(*llm.ChatMessage)
	is.Equal(first.Content, "Let me check.")

	calls := waitEvent(t, collected, 5*time.Second, "function_calls_collected").([]llm.FunctionCallInfo)
	is.Equal(len(calls), 1)
	is.Equal(calls[0].FunctionName, "get_weather")

	outcomes := waitEvent(t, finished, 5*time.Second, "function_calls_finished").([]*llm.CalledFunction)
	is.Equal(len(outcomes), 1)
	is.NoErr(outcomes[0].Err)
	is.Equal(outcomes[0].Result, "sunny, 24C")

	second := waitEvent(t, agentCommitted, 5*time.Second, "second agent_speech_committed").(*llm.ChatMessage)
	is.Equal(second.Content, "It is sunny in Tokyo.")

	is.Equal(<-argsCh, `{"location":"Tokyo"}`)
	is.Equal(env.llm.ChatCalls, 2)

	// The history holds the round-trip exactly once: user question, the
	// tool_calls message carrying the spoken text, the tool result, and the
	// follow-up answer.
	msgs := env.chatMessages()
	is.Equal(len(msgs), 4)
	is.Equal(msgs[0].Role, llm.RoleUser)
	is.Equal(msgs[1].Role, llm.RoleAssistant)
	is.Equal(msgs[1].Content, "Let me check.")
	is.Equal(len(msgs[1].ToolCalls), 1)
	is.Equal(msgs[2].Role, llm.RoleTool)
	is.Equal(msgs[2].Content, "sunny, 24C")
	is.Equal(msgs[3].Role, llm.RoleAssistant)
	is.Equal(msgs[3].Content, "It is sunny in Tokyo.")
}

func TestMetricsEmittedPerTurn(t *testing.T) {
	is := is.New(t)

	env := newTestEnv(t, nil, false)
	metricsCh := eventChan(env.agent, EventMetricsCollected)
	agentCommitted := eventChan(env.agent, EventAgentSpeechCommitted)

	env.userSays("say something brief.")
	waitEvent(t, agentCommitted, 5*time.Second, "agent_speech_committed")

	// At least the EOU, LLM and TTS records for this turn.
	seen := 0
	for seen < 3 {
		waitEvent(t, metricsCh, 5*time.Second, "metrics_collected")
		seen++
	}
	is.True(seen >= 3)
}

func TestUserTranscriptForwarding(t *testing.T) {
	is := is.New(t)

	var mu sync.Mutex
	var finals []string
	env := newTestEnv(t, nil, false, WithUserTranscriptHandler(func(text string, final bool) {
		if final {
			mu.Lock()
			finals = append(finals, text)
			mu.Unlock()
		}
	}))
	agentCommitted := eventChan(env.agent, EventAgentSpeechCommitted)

	env.userSays("note this down.")
	waitEvent(t, agentCommitted, 5*time.Second, "agent_speech_committed")

	mu.Lock()
	defer mu.Unlock()
	is.Equal(finals, []string{"note this down."})
}

func TestPlayoutVolumeDucking(t *testing.T) {
	is := is.New(t)

	sink := &testSink{}
	playout := NewAgentPlayout(sink)
	playout.SetTargetVolume(0)

	const amplitude = 10000
	frames := make(chan *rtc.AudioFrame, 64)
	for i := 0; i < 50; i++ {
		data := make([]byte, 160*2)
		for j := 0; j < len(data); j += 2 {
			binary.LittleEndian.PutUint16(data[j:], uint16(int16(amplitude)))
		}
		frame, err := rtc.NewAudioFrame(data, 16000, 1, 160)
		is.NoErr(err)
		frames <- frame
	}
	close(frames)

	fwd := transcription.NewForwarder(transcription.Options{})
	handle := playout.play("speech-1", frames, fwd)
	<-handle.Done()

	is.Equal(handle.TimePlayed(), 500*time.Millisecond)
	sink.mu.Lock()
	last := sink.lastSample
	sink.mu.Unlock()
	is.True(last < amplitude/10) // gain converged toward zero
}
