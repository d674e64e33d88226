package pipeline

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/auricle-ai/auricle-go/pkg/rtc"
	"github.com/auricle-ai/auricle-go/pkg/transcription"
)

// AudioSink receives the agent's playable audio frames. Implementations are
// expected to pace: CaptureFrame should not return faster than real time, or
// TimePlayed and barge-in accounting drift from what the listener heard.
type AudioSink interface {
	CaptureFrame(frame *rtc.AudioFrame) error
}

// volumeSmoothing is the per-frame convergence factor toward the target
// volume, keeping ducking transitions click-free.
const volumeSmoothing = 0.15

// AgentPlayout serializes agent speech playout to a sink. One speech plays at
// a time; the next handle waits for the previous one to finish or be
// interrupted. Volume ducking while the user speaks is applied here.
type AgentPlayout struct {
	sink AudioSink

	mu           sync.Mutex
	targetVolume float64
	smoothed     float64
	last         *PlayoutHandle

	onStarted func()
	onStopped func(interrupted bool)
}

func NewAgentPlayout(sink AudioSink) *AgentPlayout {
	return &AgentPlayout{sink: sink, targetVolume: 1, smoothed: 1}
}

// SetTargetVolume sets the gain playout converges to, in [0, 1].
func (p *AgentPlayout) SetTargetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	p.mu.Lock()
	p.targetVolume = v
	p.mu.Unlock()
}

// TargetVolume returns the current target gain.
func (p *AgentPlayout) TargetVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targetVolume
}

// setCallbacks installs playout lifecycle hooks. Must be called before the
// first play.
func (p *AgentPlayout) setCallbacks(onStarted func(), onStopped func(interrupted bool)) {
	p.mu.Lock()
	p.onStarted = onStarted
	p.onStopped = onStopped
	p.mu.Unlock()
}

// PlayoutHandle tracks one speech's playout. Done closes when the speech
// finished or was interrupted; TimePlayed then reports how much audio was
// actually delivered.
type PlayoutHandle struct {
	speechID string
	fwd      *transcription.Forwarder

	interruptOnce sync.Once
	interruptCh   chan struct{}
	done          chan struct{}

	mu         sync.Mutex
	timePlayed time.Duration
}

func (h *PlayoutHandle) SpeechID() string { return h.speechID }

// TimePlayed is the duration of audio delivered to the sink so far.
func (h *PlayoutHandle) TimePlayed() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timePlayed
}

// Interrupt stops the playout after the frame in flight.
func (h *PlayoutHandle) Interrupt() {
	h.interruptOnce.Do(func() { close(h.interruptCh) })
}

func (h *PlayoutHandle) Interrupted() bool {
	select {
	case <-h.interruptCh:
		return true
	default:
		return false
	}
}

// Done closes when the playout ended.
func (h *PlayoutHandle) Done() <-chan struct{} { return h.done }

// play schedules the frame channel for playout after any speech currently
// playing.
func (p *AgentPlayout) play(speechID string, frames <-chan *rtc.AudioFrame, fwd *transcription.Forwarder) *PlayoutHandle {
	handle := &PlayoutHandle{
		speechID:    speechID,
		fwd:         fwd,
		interruptCh: make(chan struct{}),
		done:        make(chan struct{}),
	}

	p.mu.Lock()
	prev := p.last
	p.last = handle
	p.mu.Unlock()

	go p.playoutTask(handle, prev, frames)
	return handle
}

func (p *AgentPlayout) playoutTask(handle *PlayoutHandle, prev *PlayoutHandle, frames <-chan *rtc.AudioFrame) {
	defer close(handle.done)

	if prev != nil {
		select {
		case <-prev.Done():
		case <-handle.interruptCh:
			return
		}
	}

	firstFrame := true
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				if !firstFrame {
					if !handle.Interrupted() {
						handle.fwd.SegmentPlayoutFinished()
					}
					p.notifyStopped(handle.Interrupted())
				}
				return
			}

			if firstFrame {
				firstFrame = false
				handle.fwd.SegmentPlayoutStarted()
				p.notifyStarted()
			}

			if err := p.sink.CaptureFrame(p.applyVolume(frame)); err != nil {
				handle.Interrupt()
				p.notifyStopped(true)
				return
			}

			handle.mu.Lock()
			handle.timePlayed += frame.Duration()
			handle.mu.Unlock()

		case <-handle.interruptCh:
			if !firstFrame {
				p.notifyStopped(true)
			}
			return
		}
	}
}

// applyVolume scales samples toward the target volume. Frames pass through
// untouched at unity gain.
func (p *AgentPlayout) applyVolume(frame *rtc.AudioFrame) *rtc.AudioFrame {
	p.mu.Lock()
	p.smoothed += (p.targetVolume - p.smoothed) * volumeSmoothing
	vol := p.smoothed
	p.mu.Unlock()

	if vol > 0.999 {
		return frame
	}

	out := frame.Clone()
	for i := 0; i+1 < len(out.Data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(out.Data[i:]))
		binary.LittleEndian.PutUint16(out.Data[i:], uint16(int16(float64(sample)*vol)))
	}
	return out
}

func (p *AgentPlayout) notifyStarted() {
	p.mu.Lock()
	fn := p.onStarted
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *AgentPlayout) notifyStopped(interrupted bool) {
	p.mu.Lock()
	fn := p.onStopped
	p.mu.Unlock()
	if fn != nil {
		fn(interrupted)
	}
}
