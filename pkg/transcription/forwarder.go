// Package transcription paces user-visible transcripts against synthesized
// audio, so captions appear roughly when the words are heard and barge-in
// can tell exactly how much of a reply was actually spoken.
package transcription

import (
	"strings"
	"sync"
	"time"

	"github.com/auricle-ai/auricle-go/pkg/tokenize"
	"github.com/google/uuid"
)

// Estimated speaking rate in hyphenated parts per second.
const defaultSpeed = 3.83

// Segment is one finished transcript segment delivered to the sink.
type Segment struct {
	ID    string
	Text  string
	Final bool
}

// Options configures a Forwarder.
type Options struct {
	// Speed is the estimated speaking rate in hyphenated word parts per
	// second. Zero selects the default.
	Speed float64
	// WordTokenizer splits segment text for pacing. Nil selects the basic
	// tokenizer.
	WordTokenizer tokenize.WordTokenizer
	// Hyphenate estimates per-word speaking weight. Nil selects
	// tokenize.HyphenateWord.
	Hyphenate func(word string) []string
	// OnSegment is invoked whenever a segment's transcript advances; final
	// is set when the segment finished playing. May be nil.
	OnSegment func(seg Segment)
}

type segment struct {
	id            string
	text          string
	audioDuration time.Duration
	playoutStart  time.Time
	played        bool
}

// Forwarder synchronizes one reply's transcript with its audio. Text and
// audio are pushed independently as synthesis produces them; segment
// boundaries are marked by the synthesis pipeline; playout reports when each
// segment starts and finishes playing.
type Forwarder struct {
	opts Options

	mu       sync.Mutex
	segments []*segment
	textIdx  int // segment receiving pushed text
	audioIdx int // segment receiving pushed audio
	playIdx  int // segment currently playing
	closed   bool
}

// NewForwarder creates a forwarder for one reply.
func NewForwarder(opts Options) *Forwarder {
	if opts.Speed <= 0 {
		opts.Speed = defaultSpeed
	}
	if opts.WordTokenizer == nil {
		opts.WordTokenizer = tokenize.NewWordTokenizer()
	}
	if opts.Hyphenate == nil {
		opts.Hyphenate = tokenize.HyphenateWord
	}
	return &Forwarder{opts: opts}
}

func (f *Forwarder) segmentAt(idx int) *segment {
	for len(f.segments) <= idx {
		f.segments = append(f.segments, &segment{id: "SG_" + uuid.NewString()[:12]})
	}
	return f.segments[idx]
}

// PushText appends transcript text to the current text segment.
func (f *Forwarder) PushText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.segmentAt(f.textIdx).text += text
}

// MarkTextSegmentEnd closes the current text segment.
func (f *Forwarder) MarkTextSegmentEnd() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.segmentAt(f.textIdx)
	f.textIdx++
}

// PushAudio accounts synthesized audio duration for the current segment.
func (f *Forwarder) PushAudio(duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.segmentAt(f.audioIdx).audioDuration += duration
}

// MarkAudioSegmentEnd closes the current audio segment.
func (f *Forwarder) MarkAudioSegmentEnd() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.segmentAt(f.audioIdx)
	f.audioIdx++
}

// SegmentPlayoutStarted is called by playout when a segment's first frame
// plays.
func (f *Forwarder) SegmentPlayoutStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.segmentAt(f.playIdx).playoutStart = time.Now()
}

// SegmentPlayoutFinished is called by playout when a segment fully played.
func (f *Forwarder) SegmentPlayoutFinished() {
	f.mu.Lock()
	seg := f.segmentAt(f.playIdx)
	seg.played = true
	f.playIdx++
	cb := f.opts.OnSegment
	out := Segment{ID: seg.id, Text: seg.text, Final: true}
	f.mu.Unlock()

	if cb != nil {
		cb(out)
	}
}

// PlayedText returns the text estimated to have been heard so far: all
// finished segments plus a wall-clock paced prefix of the playing one.
func (f *Forwarder) PlayedText() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var sb strings.Builder
	for i, seg := range f.segments {
		if seg.played {
			sb.WriteString(seg.text)
			continue
		}
		if i != f.playIdx || seg.playoutStart.IsZero() {
			break
		}

		elapsed := time.Since(seg.playoutStart)
		if seg.audioDuration > 0 && elapsed > seg.audioDuration {
			elapsed = seg.audioDuration
		}
		sb.WriteString(f.pacedPrefix(seg.text, elapsed))
		break
	}
	return sb.String()
}

// pacedPrefix returns the words of text estimated spoken within elapsed.
func (f *Forwarder) pacedPrefix(text string, elapsed time.Duration) string {
	budget := float64(elapsed) / float64(time.Second) * f.opts.Speed
	if budget <= 0 {
		return ""
	}

	words := f.opts.WordTokenizer.Tokenize(text)
	var sb strings.Builder
	spent := 0.0
	for _, w := range words {
		spent += float64(len(f.opts.Hyphenate(w)))
		if spent > budget {
			break
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(w)
	}
	return sb.String()
}

// Close stops the forwarder. Pending segments are dropped.
func (f *Forwarder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// Closed reports whether Close was called.
func (f *Forwarder) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
