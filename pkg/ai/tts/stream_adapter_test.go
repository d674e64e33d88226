package tts_test

import (
	"context"
	"testing"

	"github.com/auricle-ai/auricle-go/pkg/ai/tts"
	"github.com/auricle-ai/auricle-go/pkg/ai/tts/fake"
	"github.com/auricle-ai/auricle-go/pkg/tokenize"
	"github.com/matryer/is"
)

func TestStreamAdapter_SegmentBoundaries(t *testing.T) {
	is := is.New(t)

	fakeTTS := fake.New()
	adapter := tts.NewStreamAdapter(fakeTTS, tokenize.NewSentenceTokenizer())

	stream, err := adapter.Stream(context.Background(), tts.SynthesizeOptions{})
	is.NoErr(err)

	is.NoErr(stream.PushText("The first sentence goes here. And the second sentence follows."))
	is.NoErr(stream.EndInput())

	var events []tts.SynthesizedAudio
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	is.NoErr(stream.Err())
	is.True(len(events) > 0)

	// One chunked synthesis per sentence.
	is.Equal(fakeTTS.SynthesizeCalls, 2)

	// Exactly the last frame of each segment is final.
	finals := 0
	segments := map[string]bool{}
	for i, ev := range events {
		segments[ev.SegmentID] = true
		if ev.IsFinal {
			finals++
			last := i == len(events)-1 || events[i+1].SegmentID != ev.SegmentID
			is.True(last) // a final frame must end its segment
		}
	}
	is.Equal(finals, 2)
	is.Equal(len(segments), 2)
}

func TestStreamAdapter_EmptyInput(t *testing.T) {
	is := is.New(t)

	adapter := tts.NewStreamAdapter(fake.New(), tokenize.NewSentenceTokenizer())
	stream, err := adapter.Stream(context.Background(), tts.SynthesizeOptions{})
	is.NoErr(err)
	is.NoErr(stream.EndInput())

	for range stream.Events() {
		t.Fatal("no audio expected for empty input")
	}
	is.NoErr(stream.Err())
}
