// Package worker implements the dispatch worker: a reconnecting websocket
// client that registers with the dispatch server, answers pings, and runs
// voice agent jobs as they are assigned.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Signal is a server-to-worker message.
type Signal struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Command is a worker-to-server message.
type Command struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

type socketClient struct {
	url   string
	token string
	conn  *websocket.Conn
}

func newSocketClient(url, token string) *socketClient {
	return &socketClient{url: url, token: token}
}

func (c *socketClient) connect(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}
	c.conn = conn
	return nil
}

func (c *socketClient) readSignal() (*Signal, error) {
	if c.conn == nil {
		return nil, errors.New("not connected")
	}
	var signal Signal
	if err := c.conn.ReadJSON(&signal); err != nil {
		return nil, fmt.Errorf("reading signal: %w", err)
	}
	return &signal, nil
}

func (c *socketClient) writeCommand(cmd *Command) error {
	if c.conn == nil {
		return errors.New("not connected")
	}
	if err := c.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("writing command: %w", err)
	}
	return nil
}

func (c *socketClient) close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
