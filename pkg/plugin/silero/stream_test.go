package silero

import (
	"math"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/auricle-ai/auricle-go/pkg/ai/vad"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
)

// scriptedInference replays a fixed probability sequence, one per window.
type scriptedInference struct {
	probs  []float32
	next   int
	resets int
}

func (f *scriptedInference) windowSize() int { return windowSize16k }

func (f *scriptedInference) infer(window []float32) (float32, error) {
	if f.next >= len(f.probs) {
		return 0, nil
	}
	p := f.probs[f.next]
	f.next++
	return p, nil
}

func (f *scriptedInference) reset()   { f.resets++ }
func (f *scriptedInference) destroy() {}

func testOptions() options {
	o := defaultOptions()
	o.minSpeechDuration = 50 * time.Millisecond   // 2 windows at 16kHz
	o.minSilenceDuration = 90 * time.Millisecond  // 3 windows
	o.prefixPadding = 64 * time.Millisecond       // 2 frames
	return o
}

func windowFrame(t *testing.T) *rtc.AudioFrame {
	t.Helper()
	frame, err := rtc.NewAudioFrame(make([]byte, windowSize16k*2), 16000, 1, windowSize16k)
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func collectEvents(t *testing.T, s *vadStream, types ...vad.EventType) []vad.Event {
	t.Helper()
	var out []vad.Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("events closed, still waiting for %v", types[len(out):])
			}
			if ev.Type == types[len(out)] {
				out = append(out, ev)
				if len(out) == len(types) {
					return out
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", types[len(out):])
		}
	}
}

func TestSpeechDetectionRoundTrip(t *testing.T) {
	is := is.New(t)

	inf := &scriptedInference{probs: []float32{
		0.1, 0.1, // leading silence, lands in the prefix buffer
		0.9, 0.9, 0.9, 0.9, // speech
		0.1, 0.1, 0.1, // trailing silence
	}}
	s := newStream(testOptions(), func() (inference, error) { return inf, nil })
	defer s.Close()

	for i := 0; i < 9; i++ {
		is.NoErr(s.PushFrame(windowFrame(t)))
	}

	evs := collectEvents(t, s, vad.EventStartOfSpeech, vad.EventEndOfSpeech)

	start := evs[0]
	is.True(start.Speaking)
	is.True(start.RawAccumulatedSpeech >= 50*time.Millisecond)

	end := evs[1]
	is.True(!end.Speaking)
	is.True(end.RawAccumulatedSilence >= 90*time.Millisecond)
	// Buffered speech includes the prefix padding frames.
	is.True(len(end.Frames) >= 4)

	is.Equal(inf.resets, 1)
}

func TestSingleNoisyWindowDoesNotActivate(t *testing.T) {
	is := is.New(t)

	inf := &scriptedInference{probs: []float32{0.9, 0.1, 0.9, 0.1, 0.9, 0.1}}
	s := newStream(testOptions(), func() (inference, error) { return inf, nil })
	defer s.Close()

	for i := 0; i < 6; i++ {
		is.NoErr(s.PushFrame(windowFrame(t)))
	}
	is.NoErr(s.EndInput())

	for ev := range s.Events() {
		if ev.Type == vad.EventStartOfSpeech {
			t.Fatal("start of speech fired from alternating windows")
		}
	}
}

func TestInferenceDoneCarriesProbability(t *testing.T) {
	is := is.New(t)

	inf := &scriptedInference{probs: []float32{0.7}}
	s := newStream(testOptions(), func() (inference, error) { return inf, nil })
	defer s.Close()

	is.NoErr(s.PushFrame(windowFrame(t)))

	evs := collectEvents(t, s, vad.EventInferenceDone)
	is.True(math.Abs(evs[0].Probability-0.7) < 1e-6)
	is.True(!evs[0].Speaking)
	is.Equal(evs[0].RawAccumulatedSpeech, 32*time.Millisecond)
}

func TestPushFrameRejectsWrongFormat(t *testing.T) {
	is := is.New(t)

	s := newStream(testOptions(), func() (inference, error) {
		return &scriptedInference{}, nil
	})
	defer s.Close()

	frame, err := rtc.NewAudioFrame(make([]byte, 320*2), 8000, 1, 320)
	is.NoErr(err)
	is.True(s.PushFrame(frame) != nil)
}
