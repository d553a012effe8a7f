// Package history reconstructs conversation context from the chat log.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/store"
)

// DefaultLimit is the number of records a turn reads back.
const DefaultLimit = 20

// Line is one displayable utterance.
type Line struct {
	ID          string
	Participant string
	Role        domain.Role
	Name        string
	Text        string
	Step        string
}

// Speaker returns the label used when the line is rendered into a prompt.
func (l Line) Speaker() string {
	label := l.Role.DisplayName()
	if l.Name != "" && l.Role != domain.RoleAssistant {
		return fmt.Sprintf("%s(%s)", label, l.Name)
	}
	return label
}

// String renders the line as "speaker: text".
func (l Line) String() string {
	return l.Speaker() + ": " + l.Text
}

// FromUser reports whether a negotiating participant wrote the line.
func (l Line) FromUser() bool {
	return l.Role == domain.RoleClient || l.Role == domain.RoleProvider
}

// History is the reconstructed context of a session in chronological order.
type History struct {
	Lines []Line
	// LatestDraft is the newest non-empty contract draft in the window.
	LatestDraft string
	// Skipped counts records that could not be decoded.
	Skipped int
}

// Strings renders every line.
func (h History) Strings() []string {
	out := make([]string, 0, len(h.Lines))
	for _, l := range h.Lines {
		out = append(out, l.String())
	}
	return out
}

// Tail returns the last n lines.
func (h History) Tail(n int) []Line {
	if n <= 0 || n >= len(h.Lines) {
		return h.Lines
	}
	return h.Lines[len(h.Lines)-n:]
}

// UserLines renders the lines written by negotiating participants.
func (h History) UserLines() []string {
	var out []string
	for _, l := range h.Lines {
		if l.FromUser() {
			out = append(out, l.String())
		}
	}
	return out
}

// LastFrom returns the newest line spoken by role.
func (h History) LastFrom(role domain.Role) (Line, bool) {
	for i := len(h.Lines) - 1; i >= 0; i-- {
		if h.Lines[i].Role == role {
			return h.Lines[i], true
		}
	}
	return Line{}, false
}

// Reader loads History from a chat log.
type Reader struct {
	log    store.ChatLog
	limit  int
	logger *slog.Logger
}

// NewReader creates a reader returning at most limit records per load.
func NewReader(log store.ChatLog, limit int, logger *slog.Logger) *Reader {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{log: log, limit: limit, logger: logger}
}

// Load reads the most recent records of a session. The draft is taken from
// the newest record carrying one. Records that fail to decode are skipped.
func (r *Reader) Load(ctx context.Context, sid string) (History, error) {
	recs, err := r.log.Range(ctx, store.StreamKey(sid), r.limit)
	if err != nil {
		return History{}, fmt.Errorf("read history %s: %w", sid, err)
	}
	return Reconstruct(recs, r.logger), nil
}

// Reconstruct builds a History from records in chronological order.
func Reconstruct(recs []domain.ChatRecord, logger *slog.Logger) History {
	if logger == nil {
		logger = slog.Default()
	}
	var h History
	reversed := make([]Line, 0, len(recs))

	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		env, err := rec.Envelope()
		if err != nil {
			h.Skipped++
			logger.Warn("Skipping corrupt chat record", "record_id", rec.ID, "error", err)
			continue
		}
		if h.LatestDraft == "" {
			if d := strings.TrimSpace(env.Draft()); d != "" {
				h.LatestDraft = env.Draft()
			}
		}
		if env.HD.Event == domain.EventTyping {
			continue
		}
		text := strings.TrimSpace(env.BD.Text)
		if text == "" {
			continue
		}
		reversed = append(reversed, lineOf(rec, env, text))
	}

	h.Lines = make([]Line, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		h.Lines = append(h.Lines, reversed[i])
	}
	return h
}

func lineOf(rec domain.ChatRecord, env domain.Envelope, text string) Line {
	l := Line{
		ID:          rec.ID,
		Participant: rec.Participant,
		Text:        text,
		Step:        env.HD.Step,
	}
	if rec.Participant == domain.ParticipantAssistant {
		l.Role = domain.RoleAssistant
		return l
	}
	role, ok := domain.ParseRole(env.HD.Role)
	if !ok {
		role, ok = domain.ParseRole(env.HD.Asker)
	}
	if ok {
		l.Role = role
	} else {
		l.Role = domain.Role(env.HD.Role)
	}
	l.Name = env.HD.UserName
	return l
}
