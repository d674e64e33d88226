package tokenize

import (
	"strings"
	"unicode"
)

const (
	defaultMinSentenceLen = 20
	defaultStreamCtxLen   = 10
)

type basicSentenceTokenizer struct {
	minSentenceLen int
	streamCtxLen   int
}

// SentenceTokenizerOption configures the basic sentence tokenizer.
type SentenceTokenizerOption func(*basicSentenceTokenizer)

// WithMinSentenceLength merges sentences shorter than n characters into the
// following one.
func WithMinSentenceLength(n int) SentenceTokenizerOption {
	return func(t *basicSentenceTokenizer) { t.minSentenceLen = n }
}

// WithStreamContextLength sets how much text must accumulate before the
// streaming tokenizer attempts a split.
func WithStreamContextLength(n int) SentenceTokenizerOption {
	return func(t *basicSentenceTokenizer) { t.streamCtxLen = n }
}

// NewSentenceTokenizer returns a rule-based sentence tokenizer. It splits on
// terminal punctuation, keeps the punctuation attached to the sentence, and
// avoids splitting inside decimal numbers and single-letter abbreviations.
func NewSentenceTokenizer(opts ...SentenceTokenizerOption) SentenceTokenizer {
	t := &basicSentenceTokenizer{
		minSentenceLen: defaultMinSentenceLen,
		streamCtxLen:   defaultStreamCtxLen,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *basicSentenceTokenizer) Tokenize(text string) []string {
	return splitSentences(text, t.minSentenceLen)
}

func (t *basicSentenceTokenizer) Stream() TokenStream {
	return NewBufferedTokenStream(
		func(text string) []string { return splitSentences(text, t.minSentenceLen) },
		t.minSentenceLen,
		t.streamCtxLen,
	)
}

func splitSentences(text string, minLength int) []string {
	var sentences []string
	runes := []rune(text)

	var buf strings.Builder
	flushBuf := func() {
		s := strings.TrimSpace(buf.String())
		buf.Reset()
		if s == "" {
			return
		}
		// Short fragments are merged into the previous sentence so the
		// synthesizer never receives a two-word chunk.
		if len(sentences) > 0 && len(sentences[len(sentences)-1]) < minLength {
			sentences[len(sentences)-1] += " " + s
			return
		}
		sentences = append(sentences, s)
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		buf.WriteRune(r)

		if r != '.' && r != '!' && r != '?' {
			if r == '\n' {
				flushBuf()
			}
			continue
		}

		// Consume runs of terminal punctuation ("?!", "...").
		for i+1 < len(runes) && (runes[i+1] == '.' || runes[i+1] == '!' || runes[i+1] == '?') {
			i++
			buf.WriteRune(runes[i])
		}

		if r == '.' && i+1 < len(runes) {
			next := runes[i+1]
			// Decimal number or an abbreviation like "e.g." keeps the
			// period inside the sentence.
			if unicode.IsDigit(next) || unicode.IsLetter(next) {
				continue
			}
		}

		flushBuf()
	}
	flushBuf()

	// The trailing sentence may still be under the minimum; merge it back.
	if len(sentences) > 1 && len(sentences[len(sentences)-1]) < minLength {
		last := sentences[len(sentences)-1]
		sentences = sentences[:len(sentences)-1]
		sentences[len(sentences)-1] += " " + last
	}

	return sentences
}

type basicWordTokenizer struct {
	ignorePunctuation bool
}

// WordTokenizerOption configures the basic word tokenizer.
type WordTokenizerOption func(*basicWordTokenizer)

// WithIgnorePunctuation strips punctuation from word edges when set.
func WithIgnorePunctuation(ignore bool) WordTokenizerOption {
	return func(t *basicWordTokenizer) { t.ignorePunctuation = ignore }
}

// NewWordTokenizer returns a whitespace word tokenizer.
func NewWordTokenizer(opts ...WordTokenizerOption) WordTokenizer {
	t := &basicWordTokenizer{ignorePunctuation: true}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *basicWordTokenizer) Tokenize(text string) []string {
	words := strings.Fields(text)
	if !t.ignorePunctuation {
		return words
	}

	out := words[:0]
	for _, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool {
			return unicode.IsPunct(r) && r != '\'' && r != '-'
		})
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func (t *basicWordTokenizer) Stream() TokenStream {
	return NewBufferedTokenStream(t.Tokenize, 1, 1)
}

// HyphenateWord splits a word into pronounceable parts at vowel-group
// boundaries. Used to estimate per-word speaking time when pacing
// transcriptions against synthesized audio.
func HyphenateWord(word string) []string {
	runes := []rune(word)
	if len(runes) <= 3 {
		return []string{word}
	}

	isVowel := func(r rune) bool {
		switch unicode.ToLower(r) {
		case 'a', 'e', 'i', 'o', 'u', 'y':
			return true
		}
		return false
	}

	var parts []string
	start := 0
	seenVowel := false
	for i, r := range runes {
		if isVowel(r) {
			seenVowel = true
			continue
		}
		// Split before a consonant that follows a vowel group, keeping at
		// least two runes per part.
		if seenVowel && i-start >= 2 && len(runes)-i >= 2 {
			parts = append(parts, string(runes[start:i]))
			start = i
			seenVowel = false
		}
	}
	parts = append(parts, string(runes[start:]))
	return parts
}
