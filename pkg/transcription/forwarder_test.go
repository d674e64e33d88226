package transcription

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestForwarder_PlayedText(t *testing.T) {
	is := is.New(t)

	fwd := NewForwarder(Options{})
	fwd.PushText("Hello there, how are you doing today?")
	fwd.MarkTextSegmentEnd()
	fwd.PushAudio(2 * time.Second)
	fwd.MarkAudioSegmentEnd()

	// Nothing played before playout starts.
	is.Equal(fwd.PlayedText(), "")

	fwd.SegmentPlayoutStarted()
	fwd.SegmentPlayoutFinished()

	is.Equal(fwd.PlayedText(), "Hello there, how are you doing today?")
}

func TestForwarder_PartialSegmentPacing(t *testing.T) {
	is := is.New(t)

	fwd := NewForwarder(Options{Speed: 1000}) // effectively instant
	fwd.PushText("one two three")
	fwd.MarkTextSegmentEnd()
	fwd.PushAudio(10 * time.Second)

	fwd.SegmentPlayoutStarted()
	time.Sleep(10 * time.Millisecond)

	// High speed: everything estimated spoken already, segment still open.
	is.Equal(fwd.PlayedText(), "one two three")

	slow := NewForwarder(Options{Speed: 0.0001})
	slow.PushText("one two three")
	slow.MarkTextSegmentEnd()
	slow.PushAudio(10 * time.Second)
	slow.SegmentPlayoutStarted()

	// Low speed: nothing estimated spoken yet.
	is.Equal(slow.PlayedText(), "")
}

func TestForwarder_SegmentCallback(t *testing.T) {
	is := is.New(t)

	var got []Segment
	fwd := NewForwarder(Options{OnSegment: func(seg Segment) { got = append(got, seg) }})

	fwd.PushText("first segment")
	fwd.MarkTextSegmentEnd()
	fwd.PushText("second segment")
	fwd.MarkTextSegmentEnd()

	fwd.SegmentPlayoutStarted()
	fwd.SegmentPlayoutFinished()
	fwd.SegmentPlayoutStarted()
	fwd.SegmentPlayoutFinished()

	is.Equal(len(got), 2)
	is.Equal(got[0].Text, "first segment")
	is.Equal(got[1].Text, "second segment")
	is.True(got[0].Final)
	is.True(got[0].ID != got[1].ID)
}

func TestForwarder_ClosedIgnoresPushes(t *testing.T) {
	is := is.New(t)

	fwd := NewForwarder(Options{})
	fwd.Close()
	fwd.PushText("late")
	fwd.SegmentPlayoutStarted()

	is.True(fwd.Closed())
	is.Equal(fwd.PlayedText(), "")
}
