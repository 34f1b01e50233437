// SPDX-License-Identifier: LGPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RelaySession is the fallback transport used when direct negotiation
// fails: it dials the first reachable host:port from an invite's
// relay_hints and exchanges raw binary frames over a WebSocket
// connection.
type RelaySession struct {
	conn *websocket.Conn

	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu    sync.Mutex
	state State
}

// DialRelay tries each hint in order and returns a RelaySession for the
// first one that accepts a WebSocket handshake at path.
func DialRelay(ctx context.Context, hints []string, path string) (*RelaySession, error) {
	if len(hints) == 0 {
		return nil, fmt.Errorf("transport: no relay hints to dial")
	}

	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	var lastErr error
	for _, hint := range hints {
		url := fmt.Sprintf("ws://%s%s", hint, path)
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			lastErr = err
			continue
		}
		return &RelaySession{
			conn:         conn,
			dialTimeout:  10 * time.Second,
			readTimeout:  KeepaliveInterval * MissedKeepaliveMax,
			writeTimeout: 10 * time.Second,
			state:        StateActive,
		}, nil
	}
	return nil, fmt.Errorf("transport: all relay hints failed, last error: %w", lastErr)
}

// AcceptRelay wraps an already-upgraded websocket connection on the
// rendezvous relay's server side.
func AcceptRelay(conn *websocket.Conn) *RelaySession {
	return &RelaySession{
		conn:         conn,
		dialTimeout:  10 * time.Second,
		readTimeout:  KeepaliveInterval * MissedKeepaliveMax,
		writeTimeout: 10 * time.Second,
		state:        StateActive,
	}
}

func (s *RelaySession) Send(ctx context.Context, frame []byte) error {
	if s.State() != StateActive {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("transport: set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("transport: relay write: %w", err)
	}
	return nil
}

func (s *RelaySession) Recv(ctx context.Context) ([]byte, error) {
	if s.State() != StateActive {
		return nil, ErrClosed
	}
	deadline := time.Now().Add(s.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("transport: set read deadline: %w", err)
	}
	kind, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("transport: relay read: %w", err)
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("transport: unexpected relay frame kind %d", kind)
	}
	return data, nil
}

func (s *RelaySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

func (s *RelaySession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
