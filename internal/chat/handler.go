package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/identity"
	"github.com/ashureev/doq-mediator/internal/orchestrator"
	"github.com/ashureev/doq-mediator/internal/store"
)

// StatusMissingSession closes a handshake that carries no usable session id.
const StatusMissingSession websocket.StatusCode = 4001

const defaultTurnTimeout = 3 * time.Minute

// Turns is the orchestrator surface the handler drives.
type Turns interface {
	HandleTurn(ctx context.Context, req orchestrator.Request) orchestrator.Result
	Relay(ctx context.Context, req orchestrator.Request) orchestrator.Result
	Greet(ctx context.Context, sid string) (bool, error)
}

// Handler serves the negotiation WebSocket.
type Handler struct {
	turns         Turns
	hub           *Hub
	directory     store.Directory
	locks         *SessionLocks
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
	turnTimeout   time.Duration
}

// NewHandler creates a WebSocket handler.
func NewHandler(turns Turns, hub *Hub, directory store.Directory, locks *SessionLocks, limiter *RateLimiter, allowedOrigin string, isDev bool) *Handler {
	if locks == nil {
		locks = NewSessionLocks()
	}
	return &Handler{
		turns:         turns,
		hub:           hub,
		directory:     directory,
		locks:         locks,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		turnTimeout:   defaultTurnTimeout,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hs, ok := identity.HandshakeFromRequest(r)
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("Chat connection request", "session_id", hs.SID, "role", string(hs.Role), "user_id", userID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	if !ok {
		slog.Warn("Chat handshake without session id", "ip", identity.IPFromRequest(r))
		_ = ws.Close(StatusMissingSession, "missing session id")
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", hs.SID)
		}
	}()

	ctx := r.Context()
	if h.directory != nil {
		if err := h.directory.UpsertSessionInfo(ctx, hs.SessionInfo(userID)); err != nil {
			slog.Warn("Failed to update session directory", "session_id", hs.SID, "error", err)
		}
	}

	conn := &wsSender{conn: ws}
	h.hub.Register(hs.SID, conn)
	defer h.hub.Unregister(hs.SID, conn)

	h.greet(ctx, hs.SID)
	h.readLoop(ctx, ws, conn, hs, rateLimitKey(hs, userID))
	slog.Info("Chat connection ended", "session_id", hs.SID, "role", string(hs.Role))
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) greet(ctx context.Context, sid string) {
	unlock := h.locks.Lock(sid)
	defer unlock()
	if _, err := h.turns.Greet(ctx, sid); err != nil {
		slog.Warn("Failed to send greeting", "session_id", sid, "error", err)
	}
}

// rateLimitKey identifies the connection's caller for rate limiting. The role
// carried in an envelope is client-chosen and never part of the key.
func rateLimitKey(hs identity.Handshake, userID string) string {
	caller := userID
	if caller == "" {
		caller = string(hs.Role)
	}
	return hs.SID + ":" + caller
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, conn *wsSender, hs identity.Handshake, limitKey string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", hs.SID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", hs.SID)
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			h.reply(ctx, conn, rejection(hs.SID, "", "malformed envelope"))
			continue
		}
		h.dispatch(ctx, conn, hs, limitKey, env)
	}
}

// dispatch routes one inbound envelope by event.
func (h *Handler) dispatch(ctx context.Context, conn *wsSender, hs identity.Handshake, limitKey string, env domain.Envelope) {
	event, ok := domain.ParseEvent(string(env.HD.Event))
	if !ok {
		h.reply(ctx, conn, rejection(hs.SID, env.HD.Role, "unsupported event"))
		return
	}

	role := env.HD.Role
	if event == domain.EventLLMInvoke && env.HD.Asker != "" {
		role = env.HD.Asker
	}
	if role == "" {
		role = string(hs.Role)
	}

	if event == domain.EventTyping {
		env.HD.SID = hs.SID
		env.HD.Role = role
		h.hub.Broadcast(ctx, hs.SID, env)
		return
	}

	if !h.limiter.Allow(limitKey) {
		h.reply(ctx, conn, domain.Envelope{
			HD: domain.Header{SID: hs.SID, Event: domain.EventLLMError, Role: string(domain.RoleAssistant), Asker: role},
			BD: domain.Body{Text: "요청이 너무 많습니다. 잠시 후 다시 시도해 주세요.", State: domain.StatusBadRequest, Meta: map[string]any{"reason": "rate_limited"}},
		})
		return
	}

	req := orchestrator.Request{
		SID:          hs.SID,
		Role:         role,
		Text:         env.BD.Text,
		UserName:     env.HD.UserName,
		ContractDate: env.HD.ContractDate,
	}

	// Turns outlive a dropped socket so the session is saved consistently.
	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.turnTimeout)
	defer cancel()
	unlock := h.locks.Lock(hs.SID)
	defer unlock()

	var res orchestrator.Result
	switch event {
	case domain.EventChatMessage:
		res = h.turns.Relay(turnCtx, req)
	case domain.EventLLMInvoke:
		res = h.turns.HandleTurn(turnCtx, req)
	default:
		h.reply(ctx, conn, rejection(hs.SID, role, "unsupported event"))
		return
	}
	if res.Failed {
		h.reply(ctx, conn, res.Reply)
	}
}

// reply sends an envelope to the requesting connection only.
func (h *Handler) reply(ctx context.Context, conn Sender, env domain.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal reply", "error", err)
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Send(sendCtx, data); err != nil {
		slog.Debug("Failed to send reply", "error", err)
	}
}

func rejection(sid, role, reason string) domain.Envelope {
	return domain.Envelope{
		HD: domain.Header{SID: sid, Event: domain.EventLLMError, Role: string(domain.RoleAssistant), Asker: role},
		BD: domain.Body{Text: reason, State: domain.StatusBadRequest},
	}
}
