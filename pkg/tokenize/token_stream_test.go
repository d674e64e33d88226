package tokenize

import (
	"strings"
	"testing"

	"github.com/matryer/is"
)

func collect(t *testing.T, s TokenStream) []TokenData {
	t.Helper()
	var out []TokenData
	for tok := range s.Events() {
		out = append(out, tok)
	}
	return out
}

func TestBufferedTokenStream_ChunkingIndependence(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog and keeps running"
	wt := NewWordTokenizer()
	want := strings.Join(wt.Tokenize(text), " ")

	chunkSizes := []int{1, 3, 7, len(text)}
	for _, size := range chunkSizes {
		is := is.New(t)

		stream := wt.Stream()
		for i := 0; i < len(text); i += size {
			end := i + size
			if end > len(text) {
				end = len(text)
			}
			is.NoErr(stream.PushText(text[i:end]))
		}
		is.NoErr(stream.EndInput())

		var tokens []string
		for tok := range stream.Events() {
			tokens = append(tokens, tok.Token)
		}
		is.Equal(strings.Join(tokens, " "), want) // output must not depend on chunking
	}
}

func TestBufferedTokenStream_PeriodForcesEmission(t *testing.T) {
	is := is.New(t)

	stream := NewSentenceTokenizer().Stream()
	is.NoErr(stream.PushText("Hi."))

	// The token must be available before EndInput.
	select {
	case tok := <-stream.Events():
		is.Equal(tok.Token, "Hi.")
	default:
		t.Fatal("expected token emitted on period without flush")
	}
	is.NoErr(stream.EndInput())
}

func TestBufferedTokenStream_ShortTokensJoined(t *testing.T) {
	is := is.New(t)

	// Tokens shorter than minTokenLen accumulate until the threshold.
	stream := NewBufferedTokenStream(strings.Fields, 8, 1)
	is.NoErr(stream.PushText("a b c reasonably long tail"))
	is.NoErr(stream.EndInput())

	tokens := collect(t, stream)
	for _, tok := range tokens[:len(tokens)-1] {
		if len(tok.Token) < 8 {
			t.Fatalf("token %q shorter than minimum", tok.Token)
		}
	}
}

func TestBufferedTokenStream_FlushRotatesSegment(t *testing.T) {
	is := is.New(t)

	stream := NewWordTokenizer().Stream()
	is.NoErr(stream.PushText("first segment words"))
	is.NoErr(stream.Flush())
	is.NoErr(stream.PushText("second segment words"))
	is.NoErr(stream.EndInput())

	tokens := collect(t, stream)
	is.True(len(tokens) >= 2)

	segments := map[string]bool{}
	for _, tok := range tokens {
		segments[tok.SegmentID] = true
	}
	is.Equal(len(segments), 2) // flush starts a new segment

	// Tokens within a segment share the id; ordering is preserved.
	first := tokens[0].SegmentID
	sawSecond := false
	for _, tok := range tokens {
		if tok.SegmentID != first {
			sawSecond = true
		} else if sawSecond {
			t.Fatal("segment ids interleaved")
		}
	}
}

func TestBufferedTokenStream_EmptyFlushEmitsNothing(t *testing.T) {
	is := is.New(t)

	stream := NewWordTokenizer().Stream()
	is.NoErr(stream.Flush())
	is.NoErr(stream.EndInput())

	is.Equal(len(collect(t, stream)), 0)
}

func TestBufferedTokenStream_AllPeriodsEmitNoEmptyTokens(t *testing.T) {
	is := is.New(t)

	stream := NewWordTokenizer().Stream()
	is.NoErr(stream.PushText("..."))
	is.NoErr(stream.EndInput())

	for _, tok := range collect(t, stream) {
		is.True(strings.TrimSpace(tok.Token) != "")
	}
}

func TestBufferedTokenStream_ClosedRejectsInput(t *testing.T) {
	is := is.New(t)

	stream := NewWordTokenizer().Stream()
	is.NoErr(stream.EndInput())

	is.Equal(stream.PushText("late"), ErrStreamClosed)
	is.Equal(stream.Flush(), ErrStreamClosed)
	is.Equal(stream.EndInput(), ErrStreamClosed)
}
