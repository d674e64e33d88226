// Package vad defines the voice activity detection contract. A VAD stream
// consumes raw audio frames and reports when speech starts, how likely the
// current window contains speech, and when speech ends.
package vad

import (
	"time"

	"github.com/auricle-ai/auricle-go/pkg/rtc"
)

// EventType identifies a VAD event.
type EventType string

const (
	// EventStartOfSpeech fires once when speech is first detected after
	// silence.
	EventStartOfSpeech EventType = "start_of_speech"
	// EventInferenceDone fires on every inference window with the current
	// speech probability and accumulated durations.
	EventInferenceDone EventType = "inference_done"
	// EventEndOfSpeech fires once when the detector decides speech has
	// ended.
	EventEndOfSpeech EventType = "end_of_speech"
)

// Event is a detection result. SpeechDuration and SilenceDuration are
// smoothed by the detector's activation thresholds; the Raw values count
// every windowed sample regardless of threshold and drive interruption
// and volume decisions.
type Event struct {
	Type      EventType
	Timestamp time.Duration

	// Probability that the current window contains speech, [0, 1].
	Probability float64

	SpeechDuration  time.Duration
	SilenceDuration time.Duration

	RawAccumulatedSpeech  time.Duration
	RawAccumulatedSilence time.Duration

	// Speaking reports the detector's current state.
	Speaking bool

	// Frames holds the audio accumulated for the speech run; populated on
	// end_of_speech for detectors that buffer.
	Frames []*rtc.AudioFrame

	// InferenceDuration is how long the model inference took.
	InferenceDuration time.Duration
}

// Capabilities describes a detector.
type Capabilities struct {
	UpdateInterval time.Duration
}

// VAD creates detection streams.
type VAD interface {
	Stream() Stream
	Capabilities() Capabilities
}

// Stream is one detection session. PushFrame never blocks on inference;
// events are delivered on the Events channel, which closes after EndInput
// or Close.
type Stream interface {
	PushFrame(frame *rtc.AudioFrame) error
	EndInput() error
	Events() <-chan Event
	Close()
}
