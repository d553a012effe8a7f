package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/identity"
)

const maxConnectBody = 16 << 10

// ConnectRequest registers a new negotiation session.
type ConnectRequest struct {
	UserID       string `json:"userId"`
	ClientName   string `json:"client_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
	ContractDate string `json:"contract_date,omitempty"`
}

// Connect allocates a session id and records its directory entry.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConnectBody)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		Error(w, http.StatusBadRequest, "userId is required")
		return
	}

	sid := uuid.NewString()
	info := &domain.SessionInfo{
		SID:          sid,
		UserID:       req.UserID,
		ClientName:   identity.SanitizeName(req.ClientName),
		ProviderName: identity.SanitizeName(req.ProviderName),
		ContractDate: identity.SanitizeDate(req.ContractDate),
	}
	if err := h.directory.UpsertSessionInfo(r.Context(), info); err != nil {
		h.logger.Error("Failed to register session", "session_id", sid, "error", err)
		Error(w, http.StatusInternalServerError, "failed to register session")
		return
	}

	h.logger.Info("Session connected", "session_id", sid, "user_id", req.UserID)
	OK(w, map[string]string{"sid": sid})
}

// State returns the current snapshot of a session.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	sid, ok := identity.SanitizeSessionID(chi.URLParam(r, "sid"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	st, err := h.snapshots.Get(r.Context(), sid)
	if err != nil {
		h.logger.Error("Failed to load session state", "session_id", sid, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if st == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	OK(w, st.ToSnapshot())
}

// DeleteSession drops the snapshot of a session and disconnects its
// participants. The chat log is kept.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := identity.SanitizeSessionID(chi.URLParam(r, "sid"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if err := h.snapshots.Delete(r.Context(), sid); err != nil {
		h.logger.Error("Failed to delete session", "session_id", sid, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	if h.sessions != nil {
		h.sessions.CloseSession(sid)
	}

	h.logger.Info("Session deleted", "session_id", sid)
	OK(w, map[string]string{"sid": sid})
}
