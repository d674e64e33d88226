package openai

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/auricle-ai/auricle-go/pkg/ai"
	"github.com/auricle-ai/auricle-go/pkg/ai/tts"
	"github.com/auricle-ai/auricle-go/pkg/audio"
)

// The PCM response format is 24kHz mono 16-bit little-endian.
const (
	ttsSampleRate    = 24000
	ttsNumChannels   = 1
	ttsFrameDuration = 10 * time.Millisecond
)

// TTS synthesizes complete sentences through the speech API. It has no
// incremental session; wrap it with tts.StreamAdapter to feed it from an
// LLM token stream.
type TTS struct {
	client *goopenai.Client
	model  string
	voice  string
	speed  float64
}

// NewTTS creates the speech provider.
func NewTTS(cfg Config, voice string, speed float64) (*TTS, error) {
	cfg, err := cfg.resolve(defaultTTSModel)
	if err != nil {
		return nil, err
	}
	if voice == "" {
		voice = defaultVoice
	}
	if speed == 0 {
		speed = 1
	}
	return &TTS{client: cfg.client(), model: cfg.Model, voice: voice, speed: speed}, nil
}

func (t *TTS) Label() string { return "openai." + t.model }

func (t *TTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{Streaming: false}
}

func (t *TTS) SampleRate() int  { return ttsSampleRate }
func (t *TTS) NumChannels() int { return ttsNumChannels }

func (t *TTS) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (tts.ChunkedStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &chunkedStream{
		events: make(chan tts.SynthesizedAudio, 32),
		cancel: cancel,
	}
	go s.run(ctx, t, text, opts)
	return s, nil
}

func (t *TTS) Stream(ctx context.Context, opts tts.SynthesizeOptions) (tts.SynthesizeStream, error) {
	return nil, errors.New("openai: speech api has no streaming session, wrap with tts.NewStreamAdapter")
}

type chunkedStream struct {
	events chan tts.SynthesizedAudio
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func (s *chunkedStream) run(ctx context.Context, t *TTS, text string, opts tts.SynthesizeOptions) {
	defer close(s.events)

	conn := opts.Conn
	if conn == (ai.ConnectOptions{}) {
		conn = ai.DefaultConnectOptions
	}

	var resp io.ReadCloser
	err := ai.Retry(ctx, conn, func(ctx context.Context) error {
		raw, openErr := t.client.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
			Model:          goopenai.SpeechModel(t.model),
			Input:          text,
			Voice:          goopenai.SpeechVoice(t.voice),
			ResponseFormat: goopenai.SpeechResponseFormatPcm,
			Speed:          t.speed,
		})
		if openErr != nil {
			return wrapError("speech synthesis", openErr)
		}
		resp = raw
		return nil
	})
	if err != nil {
		s.setErr(err)
		return
	}
	defer resp.Close()

	requestID := uuid.NewString()
	segmentID := uuid.NewString()
	stream := audio.NewByteStream(ttsSampleRate, ttsNumChannels, ttsFrameDuration)
	first := true

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Read(buf)
		if n > 0 {
			for _, frame := range stream.Write(buf[:n]) {
				delta := ""
				if first {
					delta = text
					first = false
				}
				if !s.send(ctx, tts.SynthesizedAudio{
					RequestID: requestID,
					SegmentID: segmentID,
					Frame:     frame,
					DeltaText: delta,
				}) {
					return
				}
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				if ctx.Err() == nil {
					s.setErr(wrapError("speech synthesis", readErr))
				}
				return
			}
			break
		}
	}

	frames := stream.Flush()
	for i, frame := range frames {
		delta := ""
		if first {
			delta = text
			first = false
		}
		if !s.send(ctx, tts.SynthesizedAudio{
			RequestID: requestID,
			SegmentID: segmentID,
			Frame:     frame,
			IsFinal:   i == len(frames)-1,
			DeltaText: delta,
		}) {
			return
		}
	}
}

func (s *chunkedStream) send(ctx context.Context, ev tts.SynthesizedAudio) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *chunkedStream) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *chunkedStream) Events() <-chan tts.SynthesizedAudio { return s.events }

func (s *chunkedStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *chunkedStream) Close() { s.cancel() }
