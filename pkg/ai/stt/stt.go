// Package stt defines the speech-to-text contract: push audio frames in,
// receive interim and final transcripts out. Providers that only support
// whole-utterance recognition are adapted to the streaming contract by
// StreamAdapter.
package stt

import (
	"context"
	"time"

	"github.com/auricle-ai/auricle-go/pkg/ai"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
)

// SpeechEventType identifies a recognition event.
type SpeechEventType string

const (
	SpeechEventStartOfSpeech     SpeechEventType = "start_of_speech"
	SpeechEventInterimTranscript SpeechEventType = "interim_transcript"
	SpeechEventFinalTranscript   SpeechEventType = "final_transcript"
	SpeechEventRecognitionUsage  SpeechEventType = "recognition_usage"
	SpeechEventEndOfSpeech       SpeechEventType = "end_of_speech"
)

// SpeechData is one transcription hypothesis.
type SpeechData struct {
	Language   string
	Text       string
	Confidence float64
	StartTime  time.Duration
	EndTime    time.Duration
}

// RecognitionUsage reports billable audio duration.
type RecognitionUsage struct {
	AudioDuration time.Duration
}

// SpeechEvent is a recognition result. RequestID identifies one recognition
// session and is stable across events of the same utterance. Alternatives
// are ordered most-probable first; Alternatives[0] is the working hypothesis.
type SpeechEvent struct {
	Type         SpeechEventType
	RequestID    string
	Alternatives []SpeechData
	Usage        *RecognitionUsage
}

// Capabilities describes a recognizer.
type Capabilities struct {
	Streaming      bool
	InterimResults bool
}

// RecognizeOptions configures one recognition session.
type RecognizeOptions struct {
	Language string
	Conn     ai.ConnectOptions
}

// STT is the recognizer contract. Recognize transcribes a whole utterance;
// Stream opens a continuous session. Providers without native streaming
// return Capabilities().Streaming == false and are wrapped by StreamAdapter.
type STT interface {
	Label() string
	Capabilities() Capabilities
	Recognize(ctx context.Context, frame *rtc.AudioFrame, opts RecognizeOptions) (*SpeechEvent, error)
	Stream(ctx context.Context, opts RecognizeOptions) (RecognizeStream, error)
}

// RecognizeStream is one streaming recognition session. PushFrame feeds
// audio; Flush marks an utterance boundary so buffered audio is transcribed
// now; EndInput flushes and ends the session. Events closes after EndInput
// once all pending results were delivered, or after Close. Err reports the
// terminal error, if any, once Events is closed. Sessions must be
// restartable by the provider across transient failures without losing
// pushed audio.
type RecognizeStream interface {
	PushFrame(frame *rtc.AudioFrame) error
	Flush() error
	EndInput() error
	Events() <-chan SpeechEvent
	Err() error
	Close()
}
