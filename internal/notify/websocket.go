package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"

	"github.com/compresr/web-performance-monitor/internal/monitoring"
)

const (
	defaultWSWriteTimeout = 5 * time.Second
	defaultWSBufferSize   = 16
)

var errHubClosed = errors.New("websocket hub closed")

// WebSocket is a hub that pushes alert summaries to live subscribers.
// Mount it as an http.Handler; every accepted connection becomes a subscriber.
type WebSocket struct {
	cfg WebSocketConfig

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	msgs      chan []byte
	closeSlow func()
}

// NewWebSocket creates the hub.
func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWSWriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultWSBufferSize
	}
	if cfg.Path == "" {
		cfg.Path = "/ws/alerts"
	}
	return &WebSocket{cfg: cfg, subs: make(map[*subscriber]struct{})}
}

func (h *WebSocket) Name() string  { return "websocket" }
func (h *WebSocket) Enabled() bool { return h.cfg.Enabled }

// Path is where the hub expects to be mounted.
func (h *WebSocket) Path() string { return h.cfg.Path }

// Subscribers returns the number of connected subscribers.
func (h *WebSocket) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams alerts until the peer leaves.
func (h *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket: accept failed")
		return
	}
	defer conn.CloseNow()

	sub := &subscriber{
		msgs: make(chan []byte, h.cfg.BufferSize),
		closeSlow: func() {
			conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
		},
	}
	if err := h.add(sub); err != nil {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(sub)

	// Subscribers never send; CloseRead handles control frames and reports departure.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.msgs:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *WebSocket) add(s *subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHubClosed
	}
	h.subs[s] = struct{}{}
	return nil
}

func (h *WebSocket) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// Send queues a JSON summary for every subscriber. A subscriber whose queue is
// full is disconnected. Returns ErrNoSubscribers when nobody received it.
func (h *WebSocket) Send(_ context.Context, ev *monitoring.PerformanceEvent, _ []byte) error {
	if !h.cfg.Enabled {
		return ErrChannelDisabled
	}
	msg, err := alertPayload(ev)
	if err != nil {
		return fmt.Errorf("websocket: build payload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHubClosed
	}

	delivered := 0
	for s := range h.subs {
		select {
		case s.msgs <- msg:
			delivered++
		default:
			go s.closeSlow()
		}
	}
	if delivered == 0 {
		return ErrNoSubscribers
	}
	return nil
}

// TestConnection succeeds while the hub accepts subscribers.
func (h *WebSocket) TestConnection(_ context.Context) error {
	if !h.cfg.Enabled {
		return ErrChannelDisabled
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHubClosed
	}
	return nil
}

// Close disconnects every subscriber and refuses new ones.
func (h *WebSocket) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for s := range h.subs {
		close(s.msgs)
	}
	h.subs = make(map[*subscriber]struct{})
	return nil
}

func alertPayload(ev *monitoring.PerformanceEvent) ([]byte, error) {
	fields := []struct {
		path  string
		value any
	}{
		{"type", "slow_request"},
		{"endpoint", ev.Endpoint},
		{"method", ev.Method},
		{"duration_seconds", ev.DurationSeconds()},
		{"timestamp", ev.Timestamp.UTC().Format(time.RFC3339Nano)},
		{"fingerprint", ev.Fingerprint()},
		{"summary", ev.Summary()},
	}
	out := []byte(`{}`)
	var err error
	for _, f := range fields {
		if out, err = sjson.SetBytes(out, f.path, f.value); err != nil {
			return nil, err
		}
	}
	if ev.Status != 0 {
		out, _ = sjson.SetBytes(out, "status", ev.Status)
	}
	if ev.Error != "" {
		out, _ = sjson.SetBytes(out, "error", ev.Error)
	}
	return out, nil
}
