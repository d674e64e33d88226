package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
	"github.com/auricle-ai/auricle-go/pkg/turn"
)

const (
	endpointPunctuation = ".!?"

	// A transcript ending with terminal punctuation is likely complete, so
	// the endpointing delay shrinks by this factor.
	punctuationReduceFactor = 0.75

	// How long to wait for a final transcript after VAD end-of-speech before
	// validating anyway.
	finalTranscriptTimeout = 5 * time.Second
)

// deferredReplyValidation decides when the user's turn has ended. Every
// final transcript and VAD end-of-speech schedules a validation after a
// computed delay; new user speech cancels it. When a turn detector is
// available and confident the user is not done, the delay stretches to the
// maximum endpointing delay.
type deferredReplyValidation struct {
	validate     func()
	chatSnapshot func(transcript string) *llm.ChatContext
	detector     turn.Detector
	minDelay     time.Duration
	maxDelay     time.Duration

	mu                      sync.Mutex
	lastFinalTranscript     string
	lastLanguage            string
	lastFinalTranscriptTime time.Time
	lastStartOfSpeechTime   time.Time
	lastEndOfSpeechTime     time.Time
	speaking                bool
	taskCancel              context.CancelFunc
	taskDone                chan struct{}
}

// newDeferredReplyValidation wires the validator. chatSnapshot must return a
// detached copy of the conversation including the pending transcript as the
// last user message; validate fires on the validator's own goroutine.
func newDeferredReplyValidation(minDelay, maxDelay time.Duration, detector turn.Detector, chatSnapshot func(transcript string) *llm.ChatContext, validate func()) *deferredReplyValidation {
	return &deferredReplyValidation{
		validate:     validate,
		chatSnapshot: chatSnapshot,
		detector:     detector,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
	}
}

func (v *deferredReplyValidation) Validating() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.taskDone != nil
}

func (v *deferredReplyValidation) OnHumanStartOfSpeech() {
	v.mu.Lock()
	v.speaking = true
	v.lastStartOfSpeechTime = time.Now()
	cancel := v.taskCancel
	v.taskCancel = nil
	v.taskDone = nil
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// OnHumanEndOfSpeech always schedules a validation. Without a final
// transcript yet the delay is the transcript timeout, so a recognizer that
// drops the final cannot lock the turn up forever.
func (v *deferredReplyValidation) OnHumanEndOfSpeech() {
	v.mu.Lock()
	v.speaking = false
	v.lastEndOfSpeechTime = time.Now()
	v.mu.Unlock()

	v.scheduleValidation()
}

func (v *deferredReplyValidation) OnHumanFinalTranscript(transcript, language string) {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return
	}

	v.mu.Lock()
	if v.lastFinalTranscript != "" {
		v.lastFinalTranscript += " "
	}
	v.lastFinalTranscript += text
	v.lastLanguage = language
	v.lastFinalTranscriptTime = time.Now()
	speaking := v.speaking
	v.mu.Unlock()

	if !speaking {
		v.scheduleValidation()
	}
}

// Close cancels any pending validation.
func (v *deferredReplyValidation) Close() {
	v.mu.Lock()
	cancel := v.taskCancel
	v.taskCancel = nil
	v.taskDone = nil
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// computeDelay returns how long to wait before validating, or false while
// the user is still speaking.
func (v *deferredReplyValidation) computeDelay() (time.Duration, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.speaking {
		return 0, false
	}
	if v.lastFinalTranscript == "" {
		return finalTranscriptTimeout, true
	}

	delay := v.minDelay
	if strings.ContainsAny(v.lastFinalTranscript[len(v.lastFinalTranscript)-1:], endpointPunctuation) {
		delay = time.Duration(float64(delay) * punctuationReduceFactor)
	}

	// The turn truly ended at VAD end-of-speech. A final transcript that
	// arrived while the user was still speaking moves the reference earlier;
	// one that straggled in after end-of-speech must not move it later, or
	// every turn where the recognizer lags VAD pays the transcription delay
	// twice.
	reference := v.lastEndOfSpeechTime
	if v.lastFinalTranscriptTime.After(v.lastStartOfSpeechTime) &&
		v.lastFinalTranscriptTime.Before(v.lastEndOfSpeechTime) {
		reference = v.lastFinalTranscriptTime
	}
	if reference.IsZero() {
		reference = v.lastFinalTranscriptTime
	}
	if !reference.IsZero() {
		delay -= time.Since(reference)
	}
	if delay < 0 {
		delay = 0
	}
	return delay, true
}

func (v *deferredReplyValidation) scheduleValidation() {
	delay, ok := v.computeDelay()
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	v.mu.Lock()
	if v.taskCancel != nil {
		v.taskCancel()
	}
	v.taskCancel = cancel
	v.taskDone = done
	transcript := v.lastFinalTranscript
	language := v.lastLanguage
	v.mu.Unlock()

	go v.validationTask(ctx, done, delay, transcript, language)
}

func (v *deferredReplyValidation) validationTask(ctx context.Context, done chan struct{}, delay time.Duration, transcript, language string) {
	defer close(done)

	if v.detector != nil && transcript != "" && v.detector.SupportsLanguage(language) {
		delay = v.detectorAdjustedDelay(ctx, delay, transcript, language)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}

	v.mu.Lock()
	v.lastFinalTranscript = ""
	v.lastFinalTranscriptTime = time.Time{}
	if v.taskDone == done {
		v.taskCancel = nil
		v.taskDone = nil
	}
	v.mu.Unlock()

	v.validate()
}

// detectorAdjustedDelay consults the turn detector: when it is confident the
// user has not finished, the wait stretches to the maximum endpointing
// delay. Detector failures keep the computed delay.
func (v *deferredReplyValidation) detectorAdjustedDelay(ctx context.Context, delay time.Duration, transcript, language string) time.Duration {
	start := time.Now()

	probability, err := v.detector.PredictEndOfTurn(ctx, v.chatSnapshot(transcript), language)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("turn detection failed, using computed delay", "error", err)
		}
		return delay
	}

	threshold, err := v.detector.UnlikelyThreshold(language)
	if err != nil {
		slog.Warn("missing turn-detector threshold, using computed delay", "language", language, "error", err)
		return delay
	}

	if probability < threshold {
		delay = v.maxDelay
	}

	delay -= time.Since(start)
	if delay < 0 {
		delay = 0
	}
	return delay
}
