package elevenlabs

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsPool keeps prewarmed websocket connections so a synthesis segment does
// not pay the TLS and upgrade handshake on its critical path. Connections
// older than maxAge are dropped on checkout since the server times idle
// sockets out.
type wsPool struct {
	connect  func(ctx context.Context) (*websocket.Conn, error)
	maxAge   time.Duration
	capacity int

	mu     sync.Mutex
	idle   []*pooledConn
	closed bool
}

type pooledConn struct {
	conn        *websocket.Conn
	connectedAt time.Time
}

func newWSPool(connect func(ctx context.Context) (*websocket.Conn, error), maxAge time.Duration, capacity int) *wsPool {
	return &wsPool{connect: connect, maxAge: maxAge, capacity: capacity}
}

// Get returns a live connection, dialing when no idle one is fresh enough.
func (p *wsPool) Get(ctx context.Context) (*pooledConn, error) {
	p.mu.Lock()
	for len(p.idle) > 0 {
		pc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if time.Since(pc.connectedAt) < p.maxAge {
			p.mu.Unlock()
			return pc, nil
		}
		pc.conn.Close()
	}
	p.mu.Unlock()

	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	return &pooledConn{conn: conn, connectedAt: time.Now()}, nil
}

// Discard closes a connection that cannot be reused. Stream-input sockets
// are consumed by their final flush, so every checkout ends here.
func (p *wsPool) Discard(pc *pooledConn) {
	pc.conn.Close()
}

// Prewarm dials one connection ahead of time, ignoring failures.
func (p *wsPool) Prewarm(ctx context.Context) {
	conn, err := p.connect(ctx)
	if err != nil {
		return
	}
	pc := &pooledConn{conn: conn, connectedAt: time.Now()}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.idle) >= p.capacity {
		conn.Close()
		return
	}
	p.idle = append(p.idle, pc)
}

func (p *wsPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, pc := range p.idle {
		pc.conn.Close()
	}
	p.idle = nil
}
