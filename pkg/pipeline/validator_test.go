package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
	turnfake "github.com/auricle-ai/auricle-go/pkg/turn/fake"
)

var errTest = errors.New("induced failure")

func testSnapshot(transcript string) *llm.ChatContext {
	ctx := llm.NewChatContext()
	ctx.AppendMessage(llm.RoleUser, transcript)
	return ctx
}

func TestComputeDelayWhileSpeaking(t *testing.T) {
	is := is.New(t)

	v := newDeferredReplyValidation(time.Second, 10*time.Second, nil, testSnapshot, func() {})
	v.OnHumanStartOfSpeech()

	_, ok := v.computeDelay()
	is.True(!ok) // no validation while the user speaks
}

func TestComputeDelayWithoutTranscript(t *testing.T) {
	is := is.New(t)

	v := newDeferredReplyValidation(time.Second, 10*time.Second, nil, testSnapshot, func() {})

	delay, ok := v.computeDelay()
	is.True(ok)
	is.Equal(delay, finalTranscriptTimeout)
}

func TestComputeDelayPunctuationReduction(t *testing.T) {
	is := is.New(t)

	plain := newDeferredReplyValidation(time.Second, 10*time.Second, nil, testSnapshot, func() {})
	plain.mu.Lock()
	plain.lastFinalTranscript = "I think we should go"
	plain.lastEndOfSpeechTime = time.Now()
	plain.mu.Unlock()

	punctuated := newDeferredReplyValidation(time.Second, 10*time.Second, nil, testSnapshot, func() {})
	punctuated.mu.Lock()
	punctuated.lastFinalTranscript = "I think we should go."
	punctuated.lastEndOfSpeechTime = time.Now()
	punctuated.mu.Unlock()

	plainDelay, ok := plain.computeDelay()
	is.True(ok)
	punctDelay, ok := punctuated.computeDelay()
	is.True(ok)

	is.True(punctDelay < plainDelay)
	is.True(plainDelay > 900*time.Millisecond)
	is.True(punctDelay > 650*time.Millisecond && punctDelay < 800*time.Millisecond)
}

func TestLateFinalTranscriptDoesNotStretchDelay(t *testing.T) {
	is := is.New(t)

	v := newDeferredReplyValidation(time.Second, 10*time.Second, nil, testSnapshot, func() {})
	now := time.Now()
	v.mu.Lock()
	v.lastFinalTranscript = "hello there"
	v.lastStartOfSpeechTime = now.Add(-2 * time.Second)
	v.lastEndOfSpeechTime = now.Add(-900 * time.Millisecond)
	v.lastFinalTranscriptTime = now // recognizer lagging VAD
	v.mu.Unlock()

	delay, ok := v.computeDelay()
	is.True(ok)
	// Counted from end-of-speech, not from the straggling transcript.
	is.True(delay < 200*time.Millisecond)
}

func TestEarlyFinalTranscriptMovesReferenceEarlier(t *testing.T) {
	is := is.New(t)

	v := newDeferredReplyValidation(time.Second, 10*time.Second, nil, testSnapshot, func() {})
	now := time.Now()
	v.mu.Lock()
	v.lastFinalTranscript = "hello there"
	v.lastStartOfSpeechTime = now.Add(-2 * time.Second)
	v.lastFinalTranscriptTime = now.Add(-1500 * time.Millisecond)
	v.lastEndOfSpeechTime = now.Add(-100 * time.Millisecond)
	v.mu.Unlock()

	delay, ok := v.computeDelay()
	is.True(ok)
	is.Equal(delay, time.Duration(0)) // a second already elapsed since the transcript
}

func TestEndOfSpeechWithoutTranscriptSchedulesTimeout(t *testing.T) {
	is := is.New(t)

	fired := make(chan struct{}, 1)
	v := newDeferredReplyValidation(20*time.Millisecond, 200*time.Millisecond, nil, testSnapshot, func() {
		fired <- struct{}{}
	})

	v.OnHumanStartOfSpeech()
	v.OnHumanEndOfSpeech()
	is.True(v.Validating()) // timeout validation pending despite no transcript

	select {
	case <-fired:
		t.Fatal("validation fired before the transcript timeout")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestValidationFiresAfterDelay(t *testing.T) {
	is := is.New(t)

	fired := make(chan struct{})
	v := newDeferredReplyValidation(20*time.Millisecond, 200*time.Millisecond, nil, testSnapshot, func() {
		close(fired)
	})

	v.OnHumanStartOfSpeech()
	v.OnHumanFinalTranscript("hello there", "en")
	v.OnHumanEndOfSpeech()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("validation never fired")
	}
	is.True(!v.Validating())
}

func TestNewSpeechCancelsPendingValidation(t *testing.T) {
	fired := make(chan struct{}, 1)
	v := newDeferredReplyValidation(100*time.Millisecond, time.Second, nil, testSnapshot, func() {
		fired <- struct{}{}
	})

	v.OnHumanStartOfSpeech()
	v.OnHumanEndOfSpeech()
	v.OnHumanFinalTranscript("wait I am", "en")
	v.OnHumanStartOfSpeech() // user resumed speaking

	select {
	case <-fired:
		t.Fatal("validation fired despite resumed speech")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestTurnDetectorStretchesDelay(t *testing.T) {
	is := is.New(t)

	detector := turnfake.New(0.1) // confident the user is not done
	fired := make(chan struct{})
	v := newDeferredReplyValidation(20*time.Millisecond, 400*time.Millisecond, detector, testSnapshot, func() {
		close(fired)
	})

	start := time.Now()
	v.OnHumanStartOfSpeech()
	v.OnHumanEndOfSpeech()
	v.OnHumanFinalTranscript("so what I wanted to say is", "en")

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("validation never fired")
	}
	is.True(time.Since(start) >= 300*time.Millisecond) // stretched toward max delay
	is.True(detector.Predictions >= 1)
}

func TestTurnDetectorConfidentKeepsShortDelay(t *testing.T) {
	is := is.New(t)

	detector := turnfake.New(0.9)
	fired := make(chan struct{})
	v := newDeferredReplyValidation(20*time.Millisecond, 2*time.Second, detector, testSnapshot, func() {
		close(fired)
	})

	start := time.Now()
	v.OnHumanStartOfSpeech()
	v.OnHumanEndOfSpeech()
	v.OnHumanFinalTranscript("that is all.", "en")

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("validation never fired")
	}
	is.True(time.Since(start) < time.Second)
}

func TestTurnDetectorFailureFallsBack(t *testing.T) {
	detector := turnfake.New(0.1)
	detector.Err = errTest

	fired := make(chan struct{})
	v := newDeferredReplyValidation(20*time.Millisecond, 10*time.Second, detector, testSnapshot, func() {
		close(fired)
	})

	v.OnHumanStartOfSpeech()
	v.OnHumanEndOfSpeech()
	v.OnHumanFinalTranscript("hello", "en")

	// The detector failing must not stretch the delay to the maximum.
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("validation never fired after detector failure")
	}
}
