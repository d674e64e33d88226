// Package pipeline implements the voice agent core: a streaming orchestrator
// coupling a human speaker and a synthetic agent. It ingests microphone
// audio through VAD and STT, decides when the user's turn ended, synthesizes
// an LLM reply through TTS, and arbitrates interruptions, barge-in, tool
// calls and speech commitment to the persistent chat context.
package pipeline

import "sync"

// EventType identifies an agent lifecycle event.
type EventType string

const (
	EventUserStartedSpeaking    EventType = "user_started_speaking"
	EventUserStoppedSpeaking    EventType = "user_stopped_speaking"
	EventAgentStartedSpeaking   EventType = "agent_started_speaking"
	EventAgentStoppedSpeaking   EventType = "agent_stopped_speaking"
	EventUserSpeechCommitted    EventType = "user_speech_committed"
	EventAgentSpeechCommitted   EventType = "agent_speech_committed"
	EventAgentSpeechInterrupted EventType = "agent_speech_interrupted"
	EventFunctionCallsCollected EventType = "function_calls_collected"
	EventFunctionCallsFinished  EventType = "function_calls_finished"
	EventMetricsCollected       EventType = "metrics_collected"
)

// emitter is a synchronous callback registry. Subscribers must not block:
// the hot path invokes them inline.
type emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]func(payload any)
}

func (e *emitter) On(event EventType, fn func(payload any)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[EventType][]func(any))
	}
	e.handlers[event] = append(e.handlers[event], fn)
}

func (e *emitter) emit(event EventType, payload any) {
	e.mu.RLock()
	handlers := e.handlers[event]
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(payload)
	}
}
