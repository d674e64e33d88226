package pipeline

import (
	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
)

type sourceKind int

const (
	sourceText sourceKind = iota + 1
	sourceTextStream
	sourceLLMStream
)

// SpeechSource is what a speech is synthesized from: a fixed string, a
// streamed string, or a live LLM completion.
type SpeechSource struct {
	kind       sourceKind
	text       string
	textStream <-chan string
	llmStream  llm.Stream
}

// TextSource speaks a fixed string.
func TextSource(text string) SpeechSource {
	return SpeechSource{kind: sourceText, text: text}
}

// TextStreamSource speaks text as it arrives on the channel. The producer
// must close the channel to end the speech.
func TextStreamSource(ch <-chan string) SpeechSource {
	return SpeechSource{kind: sourceTextStream, textStream: ch}
}

// LLMStreamSource speaks the assistant deltas of a chat completion stream.
func LLMStreamSource(stream llm.Stream) SpeechSource {
	return SpeechSource{kind: sourceLLMStream, llmStream: stream}
}

func (s SpeechSource) valid() bool { return s.kind != 0 }

// LLMStream returns the underlying completion stream, or nil for text
// sources.
func (s SpeechSource) LLMStream() llm.Stream {
	if s.kind == sourceLLMStream {
		return s.llmStream
	}
	return nil
}
