// Package api provides HTTP handlers for the DoQ session and archive API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/doq-mediator/internal/negotiation"
	"github.com/ashureev/doq-mediator/internal/store"
)

// Snapshots is the snapshot store surface used by the read and delete paths.
type Snapshots interface {
	Get(ctx context.Context, sid string) (*negotiation.State, error)
	Delete(ctx context.Context, sid string) error
	ListAll(ctx context.Context) (map[string]*negotiation.State, error)
}

// SessionCloser disconnects the live connections of a session.
type SessionCloser interface {
	CloseSession(sid string)
}

// Handler provides the session and archive endpoints.
type Handler struct {
	snapshots Snapshots
	log       store.ChatLog
	directory store.Directory
	sessions  SessionCloser
	logger    *slog.Logger
}

// NewHandler creates a new Handler with common dependencies. sessions may be
// nil when no live connections need closing.
func NewHandler(snapshots Snapshots, log store.ChatLog, directory store.Directory, sessions SessionCloser, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		snapshots: snapshots,
		log:       log,
		directory: directory,
		sessions:  sessions,
		logger:    logger,
	}
}

// Routes mounts the endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/session/connect", h.Connect)
	r.Get("/session/{sid}/state", h.State)
	r.Delete("/session/{sid}", h.DeleteSession)
	r.Get("/archive/sessions", h.ListSessions)
	r.Get("/archive/session/{sid}", h.GetSession)
}

// response is the body shape of every endpoint: a status code mirrored in
// the payload, plus data on success or detail on failure.
type response struct {
	State  int    `json:"state"`
	Data   any    `json:"data,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// OK writes a success envelope carrying data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, response{State: http.StatusOK, Data: data})
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, response{State: status, Detail: message})
}
