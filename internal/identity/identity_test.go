package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/doq-mediator/internal/domain"
)

func TestSanitizeSessionID(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"  3f1c-9a  ", "3f1c-9a", true},
		{"chat:session:1", "chat:session:1", true},
		{"", "", false},
		{"has space", "", false},
		{"../etc/passwd", "", false},
		{strings.Repeat("a", 129), "", false},
	}
	for _, tt := range tests {
		got, ok := SanitizeSessionID(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("SanitizeSessionID(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSanitizeNameAndDate(t *testing.T) {
	if got := SanitizeName("  김   의뢰  "); got != "김 의뢰" {
		t.Errorf("expected collapsed whitespace, got %q", got)
	}
	if got := []rune(SanitizeName(strings.Repeat("가", 100))); len(got) != maxNameLength {
		t.Errorf("expected name capped at %d runes, got %d", maxNameLength, len(got))
	}
	if got := SanitizeDate(" 2025-03-01 "); got != "2025-03-01" {
		t.Errorf("expected date kept, got %q", got)
	}
	if got := SanitizeDate("March 1st"); got != "" {
		t.Errorf("expected malformed date dropped, got %q", got)
	}
}

func TestHandshakeFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/session/chat?sid=s-1&role=designer&client_name=%EA%B9%80&contract_date=2025-03-01", nil)
	hs, ok := HandshakeFromRequest(r)
	if !ok {
		t.Fatal("expected handshake accepted")
	}
	if hs.SID != "s-1" || hs.Role != domain.RoleProvider || hs.ClientName != "김" || hs.ContractDate != "2025-03-01" {
		t.Errorf("unexpected handshake %+v", hs)
	}

	info := hs.SessionInfo("anon_1")
	if info.SID != "s-1" || info.UserID != "anon_1" || info.ClientName != "김" {
		t.Errorf("unexpected session info %+v", info)
	}
}

func TestHandshakeFromRequest_HeaderFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/session/chat?role=unknown", nil)
	r.Header.Set(SessionHeaderName, "s-2")
	hs, ok := HandshakeFromRequest(r)
	if !ok || hs.SID != "s-2" {
		t.Fatalf("expected header session id, got %+v %v", hs, ok)
	}
	if hs.Role != "" {
		t.Errorf("expected unknown role left empty, got %q", hs.Role)
	}

	if _, ok := HandshakeFromRequest(httptest.NewRequest(http.MethodGet, "/v1/session/chat", nil)); ok {
		t.Error("expected missing session id rejected")
	}
}

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if !isValidAnonID(seen) {
		t.Fatalf("expected generated anonymous id, got %q", seen)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != seen {
		t.Fatalf("expected identity cookie, got %+v", cookies)
	}
	if cookies[0].Secure {
		t.Error("expected insecure cookie in development")
	}

	first := seen
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: first})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != first {
		t.Errorf("expected cookie identity reused, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "forged"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "forged" {
		t.Error("expected malformed cookie replaced")
	}
}
