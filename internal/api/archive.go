package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/identity"
	"github.com/ashureev/doq-mediator/internal/negotiation"
	"github.com/ashureev/doq-mediator/internal/store"
)

// SessionSummary is one row of the archive listing.
type SessionSummary struct {
	SID         string  `json:"sid"`
	UserName    string  `json:"user_name"`
	CurrentStep string  `json:"current_step"`
	UpdatedAt   string  `json:"updated_at"`
	Progress    float64 `json:"progress"`
}

// ArchivedMessage is one chat log record as served by the archive.
type ArchivedMessage struct {
	ID          string          `json:"id"`
	Participant string          `json:"participant"`
	Message     domain.Envelope `json:"message"`
}

// ArchivedSession is a session snapshot with its full chat log.
type ArchivedSession struct {
	State       negotiation.Snapshot `json:"state"`
	ChatHistory []ArchivedMessage    `json:"chat_history"`
}

// ListSessions returns a summary of every known session, most recently
// updated first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	all, err := h.snapshots.ListAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	summaries := make([]SessionSummary, 0, len(all))
	for sid, st := range all {
		snap := st.ToSnapshot()
		summaries = append(summaries, SessionSummary{
			SID:         sid,
			UserName:    displayName(st),
			CurrentStep: snap.CurrentStep,
			UpdatedAt:   snap.UpdatedAt,
			Progress:    snap.ProgressPercentage,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt != summaries[j].UpdatedAt {
			return summaries[i].UpdatedAt > summaries[j].UpdatedAt
		}
		return summaries[i].SID < summaries[j].SID
	})
	OK(w, summaries)
}

// GetSession returns a session snapshot and its chat log. Records that no
// longer decode are skipped.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
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

	recs, err := h.log.Range(r.Context(), store.StreamKey(sid), 0)
	if err != nil {
		h.logger.Error("Failed to load chat history", "session_id", sid, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load chat history")
		return
	}

	history := make([]ArchivedMessage, 0, len(recs))
	for _, rec := range recs {
		env, err := rec.Envelope()
		if err != nil {
			h.logger.Warn("Skipping unreadable chat record", "session_id", sid, "record_id", rec.ID, "error", err)
			continue
		}
		history = append(history, ArchivedMessage{ID: rec.ID, Participant: rec.Participant, Message: env})
	}

	OK(w, ArchivedSession{State: st.ToSnapshot(), ChatHistory: history})
}

func displayName(st *negotiation.State) string {
	for _, role := range domain.NegotiatingRoles() {
		if p, ok := st.Participants[role]; ok && p.Name != "" {
			return p.Name
		}
	}
	return ""
}
