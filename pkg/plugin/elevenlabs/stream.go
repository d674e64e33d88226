package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/auricle-ai/auricle-go/pkg/ai"
	"github.com/auricle-ai/auricle-go/pkg/ai/tts"
	"github.com/auricle-ai/auricle-go/pkg/audio"
	"github.com/auricle-ai/auricle-go/pkg/tokenize"
)

// Stream opens an incremental synthesis session. Pushed text is split into
// words and relayed over the stream-input websocket; each flush boundary
// becomes its own segment on its own socket.
func (t *TTS) Stream(ctx context.Context, opts tts.SynthesizeOptions) (tts.SynthesizeStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &synthStream{
		tts:    t,
		cancel: cancel,
		input:  make(chan inputItem, 64),
		events: make(chan tts.SynthesizedAudio, 32),
		done:   make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

type inputItem struct {
	text  string
	flush bool
	end   bool
}

type synthStream struct {
	tts    *TTS
	cancel context.CancelFunc
	input  chan inputItem
	events chan tts.SynthesizedAudio
	done   chan struct{}

	mu    sync.Mutex
	ended bool
	err   error
}

func (s *synthStream) PushText(text string) error {
	return s.push(inputItem{text: text})
}

func (s *synthStream) Flush() error {
	return s.push(inputItem{flush: true})
}

// push enqueues one item. The done case keeps callers from blocking on a
// full buffer after the session was interrupted or failed.
func (s *synthStream) push(item inputItem) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return errors.New("elevenlabs: input already ended")
	}
	s.mu.Unlock()

	select {
	case s.input <- item:
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return errors.New("elevenlabs: stream closed")
	}
}

// EndInput marks the end with a sentinel item instead of closing the
// channel, so a push racing it cannot hit a closed channel.
func (s *synthStream) EndInput() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	s.mu.Unlock()

	select {
	case s.input <- inputItem{end: true}:
	case <-s.done:
	}
	return nil
}

func (s *synthStream) Events() <-chan tts.SynthesizedAudio { return s.events }

func (s *synthStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *synthStream) Close() { s.cancel() }

func (s *synthStream) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *synthStream) run(ctx context.Context) {
	defer close(s.events)
	defer close(s.done)

	requestID := uuid.NewString()
	segments := make(chan tokenize.TokenStream, 4)

	g, ctx := errgroup.WithContext(ctx)

	// Split the input into word streams, one per segment. A flush ends the
	// current segment; the next pushed text starts a new one.
	g.Go(func() error {
		defer close(segments)
		var words tokenize.TokenStream
		for {
			select {
			case item := <-s.input:
				if item.end {
					if words != nil {
						words.EndInput()
					}
					return nil
				}
				if item.flush {
					if words != nil {
						words.EndInput()
						words = nil
					}
					continue
				}
				if words == nil {
					words = s.tts.words.Stream()
					select {
					case segments <- words:
					case <-ctx.Done():
						words.Close()
						return ctx.Err()
					}
				}
				if err := words.PushText(item.text); err != nil {
					return err
				}
			case <-ctx.Done():
				if words != nil {
					words.Close()
				}
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		for words := range segments {
			if err := s.runSegment(ctx, words, requestID); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.setErr(err)
	}
}

type streamMessage struct {
	Audio               string `json:"audio"`
	IsFinal             bool   `json:"isFinal"`
	Error               string `json:"error"`
	NormalizedAlignment *struct {
		Chars []string `json:"chars"`
	} `json:"normalizedAlignment"`
}

// runSegment relays one word stream over one websocket. The final flush
// consumes the socket, so it is discarded afterwards and a replacement is
// prewarmed for the next segment.
func (s *synthStream) runSegment(ctx context.Context, words tokenize.TokenStream, requestID string) error {
	pc, err := s.tts.pool.Get(ctx)
	if err != nil {
		return err
	}
	defer s.tts.pool.Discard(pc)
	go s.tts.pool.Prewarm(context.Background())

	conn := pc.conn
	segmentID := uuid.NewString()

	init := map[string]any{
		"text":           " ",
		"voice_settings": s.tts.cfg.Settings,
		"generation_config": map[string]any{
			"chunk_length_schedule": s.tts.cfg.ChunkLengthSchedule,
		},
	}
	if err := conn.WriteJSON(init); err != nil {
		return wrapError("stream init", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case data, ok := <-words.Events():
				if !ok {
					if err := conn.WriteJSON(map[string]any{"flush": true}); err != nil {
						return wrapError("stream send", err)
					}
					// Empty text ends the generation; the server answers
					// with isFinal and closes the socket.
					if err := conn.WriteJSON(map[string]string{"text": ""}); err != nil {
						return wrapError("stream send", err)
					}
					return nil
				}
				tok := data.Token
				pkt := map[string]string{"text": tok + " "}
				if isPunctuation(tok) {
					pkt["text"] = tok
				}
				if err := conn.WriteJSON(pkt); err != nil {
					return wrapError("stream send", err)
				}
				// Flushing after sentence punctuation keeps the server from
				// buffering across sentence boundaries.
				if endsWithPunctuation(tok) {
					if err := conn.WriteJSON(map[string]any{"flush": true}); err != nil {
						return wrapError("stream send", err)
					}
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		bs := audio.NewByteStream(s.tts.sampleRate, numChannels, frameDuration)
		emit := newFrameEmitter(s.events, requestID, segmentID)
		pendingDelta := ""

		for {
			var msg streamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return wrapError("stream receive", err)
			}
			if msg.Error != "" {
				return ai.NewAPIError("elevenlabs: "+msg.Error, nil)
			}
			if msg.NormalizedAlignment != nil {
				pendingDelta += strings.Join(msg.NormalizedAlignment.Chars, "")
			}
			if msg.Audio != "" {
				raw, decErr := base64.StdEncoding.DecodeString(msg.Audio)
				if decErr != nil {
					return wrapError("stream receive", decErr)
				}
				for _, frame := range bs.Write(raw) {
					if !emit.push(ctx, frame, pendingDelta) {
						return ctx.Err()
					}
					pendingDelta = ""
				}
			}
			if msg.IsFinal {
				for _, frame := range bs.Flush() {
					if !emit.push(ctx, frame, pendingDelta) {
						return ctx.Err()
					}
					pendingDelta = ""
				}
				emit.finish(ctx)
				return nil
			}
		}
	})

	return g.Wait()
}

func isPunctuation(tok string) bool {
	switch tok {
	case ".", ",", "!", "?", ";", ":", "$":
		return true
	}
	return false
}

func endsWithPunctuation(tok string) bool {
	if tok == "" {
		return false
	}
	return strings.ContainsAny(tok[len(tok)-1:], ".,!?;:")
}
