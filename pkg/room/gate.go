package room

import "sync/atomic"

// AudioGate drops microphone frames while an uninterruptible agent message
// plays, so barge-in attempts cannot reach the recognizer.
type AudioGate struct {
	closed atomic.Bool
}

// SetClosed closes or opens the gate.
func (g *AudioGate) SetClosed(closed bool) {
	g.closed.Store(closed)
}

// Closed reports whether microphone frames are being discarded.
func (g *AudioGate) Closed() bool {
	return g.closed.Load()
}
