// Package chat serves the negotiation WebSocket and fans envelopes out to
// every connection of a session.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/orchestrator"
)

const writeTimeout = 10 * time.Second

// Sender is one participant connection.
type Sender interface {
	Send(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Hub tracks the live connections of every session.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[Sender]struct{}
}

var _ orchestrator.Broadcaster = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[Sender]struct{}),
	}
}

// Register adds a connection to a session. A session may have any number of
// connections, one per participant device.
func (h *Hub) Register(sid string, s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[sid]; !exists {
		h.active[sid] = make(map[Sender]struct{})
	}
	h.active[sid][s] = struct{}{}
	slog.Info("Chat connection registered", "session_id", sid, "connections", len(h.active[sid]))
}

// Unregister removes a connection. Unknown connections are ignored.
func (h *Hub) Unregister(sid string, s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[sid]
	if !ok {
		return
	}
	if _, exists := conns[s]; !exists {
		return
	}
	delete(conns, s)
	if len(conns) == 0 {
		delete(h.active, sid)
	}
	slog.Info("Chat connection unregistered", "session_id", sid, "connections", len(conns))
}

// Count returns the number of live connections of a session.
func (h *Hub) Count(sid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[sid])
}

// CloseSession closes every connection of a session.
func (h *Hub) CloseSession(sid string) {
	h.mu.Lock()
	conns := h.active[sid]
	delete(h.active, sid)
	h.mu.Unlock()

	for s := range conns {
		_ = s.Close(websocket.StatusNormalClosure, "session closed")
	}
	if len(conns) > 0 {
		slog.Info("Chat session closed", "session_id", sid, "connections", len(conns))
	}
}

// Broadcast delivers env to every connection of the session concurrently.
// A failed or slow recipient never blocks the others; failures are logged.
func (h *Hub) Broadcast(ctx context.Context, sid string, env domain.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal envelope", "session_id", sid, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]Sender, 0, len(h.active[sid]))
	for s := range h.active[sid] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var g errgroup.Group
	for _, s := range targets {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			defer cancel()
			if err := s.Send(sendCtx, data); err != nil {
				slog.Warn("Broadcast delivery failed", "session_id", sid, "event", string(env.HD.Event), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// wsSender adapts a websocket connection to Sender. Writes are serialized
// because broadcasts and direct replies may overlap.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSender) Send(ctx context.Context, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsSender) Close(code websocket.StatusCode, reason string) error {
	return w.conn.Close(code, reason)
}
