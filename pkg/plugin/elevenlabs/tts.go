// Package elevenlabs provides ElevenLabs speech synthesis, both the chunked
// HTTP endpoint and the incremental stream-input websocket protocol.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/auricle-ai/auricle-go/pkg/ai"
	"github.com/auricle-ai/auricle-go/pkg/ai/tts"
	"github.com/auricle-ai/auricle-go/pkg/audio"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
	"github.com/auricle-ai/auricle-go/pkg/tokenize"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	authHeader     = "xi-api-key"

	defaultModel        = "eleven_flash_v2_5"
	defaultVoiceID      = "EXAVITQu4vr4xnSDxMaL"
	defaultOutputFormat = "pcm_16000"

	numChannels   = 1
	frameDuration = 10 * time.Millisecond

	// Idle sockets older than this are not reused; the server times them out.
	wsMaxSessionAge = 2 * time.Minute
	wsPoolCapacity  = 2
)

// VoiceSettings tune the synthesis of one voice. Zero pointers are omitted
// from the request so the voice keeps its server-side defaults.
type VoiceSettings struct {
	Stability       float64  `json:"stability"`
	SimilarityBoost float64  `json:"similarity_boost"`
	Style           *float64 `json:"style,omitempty"`
	UseSpeakerBoost *bool    `json:"use_speaker_boost,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
}

// Config holds the provider settings.
type Config struct {
	APIKey  string
	BaseURL string
	VoiceID string
	Model   string
	// Language restricts synthesis to one language code. Optional.
	Language string
	// OutputFormat must be a pcm_<rate> format.
	OutputFormat     string
	StreamingLatency int
	Settings         *VoiceSettings
	// ChunkLengthSchedule controls how much text the server buffers before
	// each generation, in characters. Valid range per entry is [50, 500].
	ChunkLengthSchedule []int
}

func (c Config) resolve() (Config, error) {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("ELEVEN_API_KEY")
	}
	if c.APIKey == "" {
		return c, errors.New("elevenlabs: missing api key (set ELEVEN_API_KEY or provide api_key)")
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.VoiceID == "" {
		c.VoiceID = defaultVoiceID
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.OutputFormat == "" {
		c.OutputFormat = defaultOutputFormat
	}
	if c.StreamingLatency == 0 {
		c.StreamingLatency = 3
	}
	if len(c.ChunkLengthSchedule) == 0 {
		c.ChunkLengthSchedule = []int{80, 120, 200, 260}
	}
	return c, nil
}

func sampleRateFromFormat(format string) (int, error) {
	parts := strings.Split(format, "_")
	if len(parts) < 2 || parts[0] != "pcm" {
		return 0, fmt.Errorf("elevenlabs: unsupported output format %q, expected pcm_<rate>", format)
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("elevenlabs: unsupported output format %q: %w", format, err)
	}
	return rate, nil
}

// TTS synthesizes speech through the ElevenLabs API. Streaming sessions
// speak the stream-input websocket protocol, one socket per segment, with a
// prewarmed pool hiding the dial latency.
type TTS struct {
	cfg        Config
	sampleRate int
	httpClient *http.Client
	pool       *wsPool
	words      tokenize.WordTokenizer
}

// NewTTS creates the provider.
func NewTTS(cfg Config) (*TTS, error) {
	cfg, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	rate, err := sampleRateFromFormat(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	t := &TTS{
		cfg:        cfg,
		sampleRate: rate,
		httpClient: &http.Client{},
		// punctuation stays in the token stream, it helps intonation
		words: tokenize.NewWordTokenizer(tokenize.WithIgnorePunctuation(false)),
	}
	t.pool = newWSPool(t.dialStream, wsMaxSessionAge, wsPoolCapacity)
	return t, nil
}

func (t *TTS) Label() string { return "elevenlabs." + t.cfg.Model }

func (t *TTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{Streaming: true}
}

func (t *TTS) SampleRate() int  { return t.sampleRate }
func (t *TTS) NumChannels() int { return numChannels }

// Prewarm dials a websocket ahead of the first synthesis.
func (t *TTS) Prewarm(ctx context.Context) { t.pool.Prewarm(ctx) }

// Close drops all pooled connections.
func (t *TTS) Close() { t.pool.Close() }

func (t *TTS) synthesizeURL() string {
	return fmt.Sprintf("%s/text-to-speech/%s/stream?model_id=%s&output_format=%s&optimize_streaming_latency=%d",
		t.cfg.BaseURL, t.cfg.VoiceID, t.cfg.Model, t.cfg.OutputFormat, t.cfg.StreamingLatency)
}

func (t *TTS) streamURL() string {
	base := strings.Replace(t.cfg.BaseURL, "http", "ws", 1)
	u := fmt.Sprintf("%s/text-to-speech/%s/stream-input?model_id=%s&output_format=%s&optimize_streaming_latency=%d",
		base, t.cfg.VoiceID, t.cfg.Model, t.cfg.OutputFormat, t.cfg.StreamingLatency)
	if t.cfg.Language != "" {
		u += "&language_code=" + url.QueryEscape(t.cfg.Language)
	}
	return u
}

func (t *TTS) dialStream(ctx context.Context) (*websocket.Conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	header := http.Header{authHeader: []string{t.cfg.APIKey}}
	conn, _, err := dialer.DialContext(ctx, t.streamURL(), header)
	if err != nil {
		return nil, wrapError("stream connect", err)
	}
	return conn, nil
}

func wrapError(op string, err error) error {
	return ai.NewRetryableAPIError(fmt.Sprintf("elevenlabs: %s failed", op), err)
}

// Synthesize converts one complete text through the chunked HTTP endpoint.
func (t *TTS) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (tts.ChunkedStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &chunkedStream{
		events: make(chan tts.SynthesizedAudio, 32),
		cancel: cancel,
	}
	go s.run(ctx, t, text, opts)
	return s, nil
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

	body, err := json.Marshal(map[string]any{
		"text":           text,
		"model_id":       t.cfg.Model,
		"voice_settings": t.cfg.Settings,
	})
	if err != nil {
		s.setErr(err)
		return
	}

	var resp *http.Response
	err = ai.Retry(ctx, conn, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, t.synthesizeURL(), bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set(authHeader, t.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		raw, doErr := t.httpClient.Do(req)
		if doErr != nil {
			return wrapError("synthesize", doErr)
		}
		if raw.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(raw.Body, 4096))
			raw.Body.Close()
			return ai.NewAPIStatusError(
				fmt.Sprintf("elevenlabs: synthesize failed: %s", strings.TrimSpace(string(detail))),
				raw.StatusCode, nil)
		}
		resp = raw
		return nil
	})
	if err != nil {
		s.setErr(err)
		return
	}
	defer resp.Body.Close()

	requestID := uuid.NewString()
	segmentID := uuid.NewString()
	stream := audio.NewByteStream(t.sampleRate, numChannels, frameDuration)
	emit := newFrameEmitter(s.events, requestID, segmentID)

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, frame := range stream.Write(buf[:n]) {
				if !emit.push(ctx, frame, "") {
					return
				}
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				if ctx.Err() == nil {
					s.setErr(wrapError("synthesize", readErr))
				}
				return
			}
			break
		}
	}
	for _, frame := range stream.Flush() {
		if !emit.push(ctx, frame, "") {
			return
		}
	}
	emit.finish(ctx)
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

// frameEmitter delays each frame by one so the last frame of a segment can
// be re-emitted with IsFinal set.
type frameEmitter struct {
	events    chan<- tts.SynthesizedAudio
	requestID string
	segmentID string
	last      *tts.SynthesizedAudio
}

func newFrameEmitter(events chan<- tts.SynthesizedAudio, requestID, segmentID string) *frameEmitter {
	return &frameEmitter{events: events, requestID: requestID, segmentID: segmentID}
}

func (e *frameEmitter) push(ctx context.Context, frame *rtc.AudioFrame, delta string) bool {
	if e.last != nil {
		if !e.send(ctx, *e.last) {
			return false
		}
	}
	e.last = &tts.SynthesizedAudio{
		RequestID: e.requestID,
		SegmentID: e.segmentID,
		Frame:     frame,
		DeltaText: delta,
	}
	return true
}

func (e *frameEmitter) finish(ctx context.Context) bool {
	if e.last == nil {
		return true
	}
	e.last.IsFinal = true
	ok := e.send(ctx, *e.last)
	e.last = nil
	return ok
}

func (e *frameEmitter) send(ctx context.Context, ev tts.SynthesizedAudio) bool {
	select {
	case e.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
