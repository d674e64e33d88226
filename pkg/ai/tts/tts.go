// Package tts defines the text-to-speech contract: push text in, receive
// synthesized audio frames out. Chunked-only providers are adapted to the
// streaming contract by StreamAdapter.
package tts

import (
	"context"

	"github.com/auricle-ai/auricle-go/pkg/ai"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
)

// SynthesizedAudio is one frame of synthesized speech. IsFinal marks the
// last frame of a segment, letting consumers detect sentence boundaries and
// resumed streams after a retry.
type SynthesizedAudio struct {
	RequestID string
	SegmentID string
	Frame     *rtc.AudioFrame
	IsFinal   bool

	// DeltaText is the text newly covered by this frame, when the provider
	// reports alignment.
	DeltaText string
}

// Capabilities describes a synthesizer.
type Capabilities struct {
	Streaming bool
}

// SynthesizeOptions configures a synthesis session.
type SynthesizeOptions struct {
	Conn ai.ConnectOptions
}

// TTS is the synthesizer contract. Synthesize converts one complete text;
// Stream opens an incremental session. Providers without native streaming
// return Capabilities().Streaming == false and are wrapped by StreamAdapter.
type TTS interface {
	Label() string
	Capabilities() Capabilities
	SampleRate() int
	NumChannels() int
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (ChunkedStream, error)
	Stream(ctx context.Context, opts SynthesizeOptions) (SynthesizeStream, error)
}

// ChunkedStream delivers the audio of one complete text. Events closes when
// synthesis finishes or fails; Err reports the terminal error afterwards.
type ChunkedStream interface {
	Events() <-chan SynthesizedAudio
	Err() error
	Close()
}

// SynthesizeStream is one incremental synthesis session. PushText feeds
// text; Flush marks a segment boundary, forcing synthesis of buffered text;
// EndInput flushes and ends the session. Events closes after EndInput once
// all audio was delivered, or after Close.
type SynthesizeStream interface {
	PushText(text string) error
	Flush() error
	EndInput() error
	Events() <-chan SynthesizedAudio
	Err() error
	Close()
}
