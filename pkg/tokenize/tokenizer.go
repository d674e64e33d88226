// Package tokenize provides sentence and word tokenizers plus the buffered
// token stream that shapes incremental text for speech synthesis: chunks
// large enough for good prosody, small enough for low latency.
package tokenize

// TokenData is one emitted token. SegmentID is stable between emissions and
// rotates on every explicit flush.
type TokenData struct {
	Token     string
	SegmentID string
}

// TokenStream is a push-based text tokenizer. PushText may be called any
// number of times; Flush forces out the buffered remainder and starts a new
// segment; EndInput flushes and closes the event channel.
type TokenStream interface {
	PushText(text string) error
	Flush() error
	EndInput() error
	Events() <-chan TokenData
	Close()
}

// SentenceTokenizer splits text into sentences.
type SentenceTokenizer interface {
	Tokenize(text string) []string
	Stream() TokenStream
}

// WordTokenizer splits text into words.
type WordTokenizer interface {
	Tokenize(text string) []string
	Stream() TokenStream
}
