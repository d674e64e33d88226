// Package metrics defines the value records emitted after each pipeline
// stage completes. Records for one turn share a SequenceID so STT, LLM, TTS
// and end-of-utterance numbers can be joined.
package metrics

import "time"

// Base carries the fields common to every record.
type Base struct {
	Timestamp  time.Time
	Label      string
	RequestID  string
	SequenceID string
	Error      error
}

// STT reports one recognition session.
type STT struct {
	Base
	AudioDuration time.Duration
	Duration      time.Duration
	Streamed      bool
}

// LLM reports one completion.
type LLM struct {
	Base
	TTFT             time.Duration
	Duration         time.Duration
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	TokensPerSecond  float64
	Cancelled        bool
}

// TTS reports one synthesis.
type TTS struct {
	Base
	AudioDuration time.Duration
	TTFB          time.Duration
	Duration      time.Duration
	Cancelled     bool
}

// VAD reports aggregated detector inference timing.
type VAD struct {
	Base
	InferenceCount        int
	InferenceDurationTotal time.Duration
	IdleTime              time.Duration
}

// PipelineEOU reports endpointing quality for one turn.
type PipelineEOU struct {
	Base
	// EndOfUtteranceDelay is VAD end-of-speech to reply validation.
	EndOfUtteranceDelay time.Duration
	// TranscriptionDelay is VAD end-of-speech to the last final transcript.
	TranscriptionDelay time.Duration
}
