package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hackabby/interview-live/pkg/session/protocol"
)

const (
	defaultConnectTimeout = 15 * time.Second
	wsEventBuffer         = 64
)

// WSConfig configures the live websocket transport.
type WSConfig struct {
	URL            string
	Header         http.Header
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// WS is the live network transport.
type WS struct {
	cfg    WSConfig
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
	stop   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewWS creates an unconnected live transport.
func NewWS(cfg WSConfig) *WS {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WS{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, wsEventBuffer),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

// Connect dials the peer. Calling Connect again after success is a no-op.
func (t *WS) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	// Re-check under the lock: a concurrent Close that saw no connection has
	// already closed done, and a dial here would start a readLoop that closes
	// it again.
	if t.closed.Load() {
		return ErrClosed
	}
	if t.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.ConnectTimeout}
	conn, resp, err := dialer.DialContext(dialCtx, t.cfg.URL, t.cfg.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: status %d: %w", t.cfg.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}
	t.conn = conn
	go t.readLoop(conn)
	return nil
}

// Send marshals and writes one client frame.
func (t *WS) Send(msg protocol.ClientMessage) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("transport is not connected")
	}

	data, err := protocol.EncodeClientMessage(msg)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Events yields decoded inbound frames in arrival order.
func (t *WS) Events() <-chan Event {
	return t.events
}

// Close releases the channel. Safe to call multiple times.
func (t *WS) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.stop)
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn != nil {
			t.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			t.writeMu.Unlock()
			_ = conn.Close()
			<-t.done
		} else {
			close(t.done)
		}
		close(t.events)
	})
	return nil
}

func (t *WS) readLoop(conn *websocket.Conn) {
	defer close(t.done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if t.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			t.emit(DisconnectedEvent{Err: err})
			return
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			var de *protocol.DecodeError
			if !errors.As(err, &de) {
				de = &protocol.DecodeError{Code: "bad_frame", Message: err.Error()}
			}
			t.logger.Warn("rejected inbound frame", "code", de.Code, "param", de.Param)
			t.emit(DecodeFailedEvent{Err: de})
			continue
		}
		t.emit(MessageEvent{Msg: msg})
	}
}

func (t *WS) emit(ev Event) {
	if t.closed.Load() {
		return
	}
	select {
	case t.events <- ev:
	case <-t.stop:
	}
}
