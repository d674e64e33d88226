package tokenize

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrStreamClosed is returned by PushText, Flush and EndInput after the
// stream was ended or closed.
var ErrStreamClosed = errors.New("tokenize: stream closed")

// TokenizeFunc splits accumulated text into tokens. It must be prefix-stable:
// feeding it a longer buffer never changes tokens it already produced for the
// shorter prefix, except possibly the last one.
type TokenizeFunc func(text string) []string

func newSegmentID() string {
	return "SG_" + uuid.NewString()[:12]
}

// BufferedTokenStream accumulates pushed text and emits tokens as soon as a
// boundary is certain. A token boundary is certain once the tokenizer returns
// more than one token for the buffered text: every token but the last cannot
// change when more text arrives. Periods force processing immediately so a
// terminal "Hi." is never held back waiting for context.
type BufferedTokenStream struct {
	mu       sync.Mutex
	tokenize TokenizeFunc

	minTokenLen int
	minCtxLen   int

	eventCh   chan TokenData
	segmentID string
	inBuf     string
	outBuf    string
	closed    bool
}

// NewBufferedTokenStream creates a stream around tokenize. Tokens shorter
// than minTokenLen are held and joined with following tokens; processing is
// deferred until at least minCtxLen characters are buffered.
func NewBufferedTokenStream(tokenize TokenizeFunc, minTokenLen, minCtxLen int) *BufferedTokenStream {
	return &BufferedTokenStream{
		tokenize:    tokenize,
		minTokenLen: minTokenLen,
		minCtxLen:   minCtxLen,
		eventCh:     make(chan TokenData, 64),
		segmentID:   newSegmentID(),
	}
}

// Events returns the token channel. Closed after EndInput or Close.
func (s *BufferedTokenStream) Events() <-chan TokenData { return s.eventCh }

// PushText appends text to the stream. Text containing a period is split at
// the period and the prefix is processed immediately.
func (s *BufferedTokenStream) PushText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushTextLocked(text)
}

func (s *BufferedTokenStream) pushTextLocked(text string) error {
	if s.closed {
		return ErrStreamClosed
	}

	if idx := strings.IndexByte(text, '.'); idx >= 0 {
		s.inBuf += text[:idx+1]
		s.processBuffer(true)
		if idx+1 < len(text) {
			return s.pushTextLocked(text[idx+1:])
		}
		return nil
	}

	s.inBuf += text
	if len(s.inBuf) < s.minCtxLen {
		return nil
	}
	s.processBuffer(false)
	return nil
}

func (s *BufferedTokenStream) processBuffer(force bool) {
	if !force && len(s.inBuf) < s.minCtxLen {
		return
	}

	for {
		tokens := s.tokenize(s.inBuf)

		if len(tokens) <= 1 && !force {
			return
		}

		if len(tokens) == 1 && force {
			s.appendOut(tokens[0])
			s.maybeEmit()
			s.inBuf = ""
			return
		}

		if len(tokens) > 1 {
			tok := tokens[0]
			s.appendOut(tok)
			s.maybeEmit()

			idx := strings.Index(s.inBuf, tok)
			if idx < 0 {
				idx = 0
			}
			s.inBuf = strings.TrimLeft(s.inBuf[idx+len(tok):], " \t\r\n")
			continue
		}

		return
	}
}

func (s *BufferedTokenStream) appendOut(tok string) {
	if s.outBuf != "" {
		s.outBuf += " "
	}
	s.outBuf += tok
}

// maybeEmit sends the pending output once it contains a period or reached the
// minimum token length. Empty buffers are never emitted.
func (s *BufferedTokenStream) maybeEmit() {
	if s.outBuf == "" {
		return
	}
	if !strings.Contains(s.outBuf, ".") && len(s.outBuf) < s.minTokenLen {
		return
	}
	s.eventCh <- TokenData{Token: s.outBuf, SegmentID: s.segmentID}
	s.outBuf = ""
}

// Flush emits everything buffered regardless of size and rotates the segment
// id, so the next token starts a new segment.
func (s *BufferedTokenStream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *BufferedTokenStream) flushLocked() error {
	if s.closed {
		return ErrStreamClosed
	}

	if s.inBuf != "" || s.outBuf != "" {
		if tokens := s.tokenize(s.inBuf); len(tokens) > 0 {
			s.appendOut(strings.Join(tokens, " "))
		}
		if s.outBuf != "" {
			s.eventCh <- TokenData{Token: s.outBuf, SegmentID: s.segmentID}
		}
		s.segmentID = newSegmentID()
	}

	s.inBuf = ""
	s.outBuf = ""
	return nil
}

// EndInput flushes the remainder and closes the event channel. No further
// pushes are accepted.
func (s *BufferedTokenStream) EndInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	s.closed = true
	close(s.eventCh)
	return nil
}

// Close abandons buffered text and closes the event channel. Safe to call
// after EndInput.
func (s *BufferedTokenStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.eventCh)
}
