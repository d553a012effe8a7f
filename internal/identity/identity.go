// Package identity provides anonymous per-device identity and session
// handshake parameters.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/doq-mediator/internal/domain"
)

const (
	AnonCookieName    = "doq_anon_id"
	SessionHeaderName = "X-DOQ-Session-ID"
	anonCookieMaxAge  = 30 * 24 * time.Hour
	maxNameLength     = 64
)

type contextKey int

const (
	userIDKey contextKey = iota
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
	datePattern      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// SanitizeSessionID trims id and reports whether it is a usable session id.
func SanitizeSessionID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// SanitizeName trims a display name and caps its length.
func SanitizeName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if r := []rune(name); len(r) > maxNameLength {
		name = string(r[:maxNameLength])
	}
	return name
}

// SanitizeDate keeps only YYYY-MM-DD dates.
func SanitizeDate(date string) string {
	date = strings.TrimSpace(date)
	if !datePattern.MatchString(date) {
		return ""
	}
	return date
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else {
		generated, err := generateAnonID()
		if err != nil {
			return "", err
		}
		id = generated
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

// Middleware injects an anonymous per-device user id.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// Handshake is the identity a participant presents when joining a session.
type Handshake struct {
	SID          string
	Role         domain.Role
	ClientName   string
	ProviderName string
	ContractDate string
}

// HandshakeFromRequest parses the chat handshake query. The session id may
// also come from the session header. ok is false when the session id is
// missing or malformed.
func HandshakeFromRequest(r *http.Request) (Handshake, bool) {
	q := r.URL.Query()
	raw := q.Get("sid")
	if raw == "" {
		raw = r.Header.Get(SessionHeaderName)
	}
	sid, ok := SanitizeSessionID(raw)
	if !ok {
		return Handshake{}, false
	}
	hs := Handshake{
		SID:          sid,
		ClientName:   SanitizeName(q.Get("client_name")),
		ProviderName: SanitizeName(q.Get("provider_name")),
		ContractDate: SanitizeDate(q.Get("contract_date")),
	}
	if role, ok := domain.ParseRole(q.Get("role")); ok {
		hs.Role = role
	}
	return hs, true
}

// SessionInfo converts the handshake into a directory update.
func (h Handshake) SessionInfo(userID string) *domain.SessionInfo {
	return &domain.SessionInfo{
		SID:          h.SID,
		UserID:       userID,
		ClientName:   h.ClientName,
		ProviderName: h.ProviderName,
		ContractDate: h.ContractDate,
	}
}

// IPFromRequest returns a normalized remote IP for logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
