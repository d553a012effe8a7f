package domain

import (
	"strings"
	"time"
)

// Role is the side a participant speaks for.
type Role string

const (
	RoleClient    Role = "client"
	RoleProvider  Role = "provider"
	RoleAssistant Role = "assistant"
)

// ParseRole maps canonical and legacy role names onto the two negotiating
// roles. The second return value is false for anything else.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client", "갑", "의뢰인":
		return RoleClient, true
	case "provider", "을", "designer", "디자이너", "서비스 제공자":
		return RoleProvider, true
	}
	return "", false
}

// NegotiatingRoles returns the two human roles in a fixed order.
func NegotiatingRoles() []Role {
	return []Role{RoleClient, RoleProvider}
}

// Opposite returns the other negotiating role.
func (r Role) Opposite() Role {
	if r == RoleClient {
		return RoleProvider
	}
	return RoleClient
}

// DisplayName returns the Korean label used in prompts and notices.
func (r Role) DisplayName() string {
	switch r {
	case RoleClient:
		return "의뢰인"
	case RoleProvider:
		return "서비스 제공자"
	case RoleAssistant:
		return "DoQ"
	}
	return string(r)
}

// Participant is identity metadata for one side of a negotiation.
type Participant struct {
	Name         string `json:"name,omitempty"`
	Role         Role   `json:"role"`
	ContractDate string `json:"contract_date,omitempty"`
}

// Merge applies non-empty fields of other over p (last writer wins per field).
func (p Participant) Merge(other Participant) Participant {
	if strings.TrimSpace(other.Name) != "" {
		p.Name = strings.TrimSpace(other.Name)
	}
	if other.Role != "" {
		p.Role = other.Role
	}
	if strings.TrimSpace(other.ContractDate) != "" {
		p.ContractDate = strings.TrimSpace(other.ContractDate)
	}
	return p
}

// SessionInfo is the static identity record kept by the session directory.
type SessionInfo struct {
	SID          string    `json:"sid"`
	UserID       string    `json:"user_id,omitempty"`
	ClientName   string    `json:"client_name,omitempty"`
	ProviderName string    `json:"provider_name,omitempty"`
	ContractDate string    `json:"contract_date,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NameFor returns the participant name registered for a role.
func (s *SessionInfo) NameFor(role Role) string {
	if s == nil {
		return ""
	}
	switch role {
	case RoleClient:
		return s.ClientName
	case RoleProvider:
		return s.ProviderName
	}
	return ""
}

// Participants expands the directory record into per-role participants.
func (s *SessionInfo) Participants() []Participant {
	if s == nil {
		return nil
	}
	var out []Participant
	for _, role := range NegotiatingRoles() {
		name := s.NameFor(role)
		if name == "" && s.ContractDate == "" {
			continue
		}
		out = append(out, Participant{Name: name, Role: role, ContractDate: s.ContractDate})
	}
	return out
}

// Merge applies non-empty fields of other over s.
func (s SessionInfo) Merge(other SessionInfo) SessionInfo {
	if other.UserID != "" {
		s.UserID = other.UserID
	}
	if other.ClientName != "" {
		s.ClientName = other.ClientName
	}
	if other.ProviderName != "" {
		s.ProviderName = other.ProviderName
	}
	if other.ContractDate != "" {
		s.ContractDate = other.ContractDate
	}
	return s
}
