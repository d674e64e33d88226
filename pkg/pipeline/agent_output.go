package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/auricle-ai/auricle-go/pkg/ai"
	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
	"github.com/auricle-ai/auricle-go/pkg/ai/tts"
	"github.com/auricle-ai/auricle-go/pkg/metrics"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
	"github.com/auricle-ai/auricle-go/pkg/transcription"
)

// frameBufferSize bounds how far synthesis may run ahead of playout.
const frameBufferSize = 256

// AgentOutput drives text-to-speech for the agent: it feeds a text source
// into the synthesizer, buffers the resulting audio for playout, and keeps
// the transcript forwarder fed so barge-in can measure what was heard.
type AgentOutput struct {
	tts     tts.TTS
	playout *AgentPlayout
	conn    ai.ConnectOptions

	// onMetrics, when set, receives a metrics.TTS after each synthesis.
	onMetrics func(m metrics.TTS)
}

func NewAgentOutput(t tts.TTS, playout *AgentPlayout, conn ai.ConnectOptions) *AgentOutput {
	return &AgentOutput{tts: t, playout: playout, conn: conn}
}

// Synthesize starts synthesizing the tts text source in the background and
// returns immediately. The transcript source feeds the forwarder unmodified,
// so user-visible captions show the original text even when a before-TTS
// hook rewrote what is spoken.
func (o *AgentOutput) Synthesize(ctx context.Context, speechID string, ttsSource, transcriptSource <-chan string, fwd *transcription.Forwarder) *SynthesisHandle {
	ctx, cancel := context.WithCancel(ctx)
	handle := &SynthesisHandle{
		speechID:    speechID,
		fwd:         fwd,
		bufCh:       make(chan *rtc.AudioFrame, frameBufferSize),
		playout:     o.playout,
		cancel:      cancel,
		interruptCh: make(chan struct{}),
		done:        make(chan struct{}),
	}

	go o.synthesizeTask(ctx, handle, ttsSource, transcriptSource)
	return handle
}

func (o *AgentOutput) synthesizeTask(ctx context.Context, handle *SynthesisHandle, ttsSource, transcriptSource <-chan string) {
	defer close(handle.done)
	defer close(handle.bufCh)
	defer handle.cancel()

	start := time.Now()

	stream, err := o.tts.Stream(ctx, tts.SynthesizeOptions{Conn: o.conn})
	if err != nil {
		slog.Error("opening tts stream", "speech_id", handle.speechID, "error", err)
		return
	}
	defer stream.Close()

	var (
		ttfb          time.Duration
		audioDuration time.Duration
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case text, ok := <-transcriptSource:
				if !ok {
					handle.fwd.MarkTextSegmentEnd()
					return nil
				}
				handle.fwd.PushText(text)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case text, ok := <-ttsSource:
				if !ok {
					return stream.EndInput()
				}
				if err := stream.PushText(text); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		first := true
		for audio := range stream.Events() {
			if audio.Frame == nil {
				continue
			}
			if first {
				ttfb = time.Since(start)
				first = false
			}
			audioDuration += audio.Frame.Duration()
			handle.fwd.PushAudio(audio.Frame.Duration())

			select {
			case handle.bufCh <- audio.Frame:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		handle.fwd.MarkAudioSegmentEnd()
		return stream.Err()
	})

	err = g.Wait()
	cancelled := handle.Interrupted() || ctx.Err() != nil
	if err != nil && !cancelled {
		slog.Error("synthesis failed", "speech_id", handle.speechID, "error", err)
	}

	if o.onMetrics != nil {
		o.onMetrics(metrics.TTS{
			Base: metrics.Base{
				Timestamp: time.Now(),
				Label:     o.tts.Label(),
				RequestID: handle.speechID,
				Error:     err,
			},
			TTFB:          ttfb,
			Duration:      time.Since(start),
			AudioDuration: audioDuration,
			Cancelled:     cancelled,
		})
	}
}

// llmStreamText drains an LLM stream into a text channel, reporting usage
// through the returned metrics callback when the stream ends.
func llmStreamText(ctx context.Context, stream llm.Stream, label string, onMetrics func(m metrics.LLM)) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)

		start := time.Now()
		var (
			ttft      time.Duration
			first     = true
			usage     llm.CompletionUsage
			requestID string
			tokens    int
		)

		for chunk := range stream.Events() {
			requestID = chunk.RequestID
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if first {
					ttft = time.Since(start)
					first = false
				}
				tokens++
				select {
				case out <- choice.Delta.Content:
				case <-ctx.Done():
					return
				}
			}
		}

		if onMetrics != nil {
			duration := time.Since(start)
			m := metrics.LLM{
				Base: metrics.Base{
					Timestamp: time.Now(),
					Label:     label,
					RequestID: requestID,
					Error:     stream.Err(),
				},
				TTFT:             ttft,
				Duration:         duration,
				PromptTokens:     usage.PromptTokens,
				CompletionTokens: usage.CompletionTokens,
				TotalTokens:      usage.TotalTokens,
				Cancelled:        ctx.Err() != nil,
			}
			if usage.CompletionTokens > 0 && duration > 0 {
				m.TokensPerSecond = float64(usage.CompletionTokens) / duration.Seconds()
			} else if tokens > 0 && duration > 0 {
				m.TokensPerSecond = float64(tokens) / duration.Seconds()
			}
			onMetrics(m)
		}
	}()
	return out
}

// teeText copies a text channel into two, blocking on the slower consumer so
// backpressure propagates to the producer.
func teeText(ctx context.Context, in <-chan string) (<-chan string, <-chan string) {
	a := make(chan string)
	b := make(chan string)
	go func() {
		defer close(a)
		defer close(b)
		for text := range in {
			select {
			case a <- text:
			case <-ctx.Done():
				return
			}
			select {
			case b <- text:
			case <-ctx.Done():
				return
			}
		}
	}()
	return a, b
}

// textChan wraps a fixed string as a closed-after-one-send channel.
func textChan(text string) <-chan string {
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return ch
}
