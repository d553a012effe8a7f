package negotiation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/doq-mediator/internal/domain"
)

// Snapshot is the persisted JSON form of a State. Step identifiers are plain
// strings here; FromSnapshot is the only place they are normalized.
type Snapshot struct {
	SID                string                        `json:"sid"`
	Participants       map[string]domain.Participant `json:"participants,omitempty"`
	UserInfo           *LegacyUserInfo               `json:"user_info,omitempty"`
	CurrentStep        string                        `json:"current_step"`
	StepHistory        []string                      `json:"step_history"`
	CollectedData      map[string]any                `json:"collected_data"`
	RoleInputs         map[string][]SnapshotInput    `json:"role_inputs"`
	Conflicts          []SnapshotConflict            `json:"conflicts"`
	CreatedAt          string                        `json:"created_at"`
	UpdatedAt          string                        `json:"updated_at"`
	ProgressPercentage float64                       `json:"progress_percentage"`
}

// LegacyUserInfo is the single-participant identity block of older snapshots.
type LegacyUserInfo struct {
	UserName     string `json:"user_name,omitempty"`
	UserRole     string `json:"user_role,omitempty"`
	ContractDate string `json:"contract_date,omitempty"`
}

// SnapshotInput is the persisted form of a RoleInput.
type SnapshotInput struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Step      string `json:"step"`
}

// SnapshotConflict is the persisted form of a Conflict. DesignerPosition is
// read from older snapshots only.
type SnapshotConflict struct {
	Step             string `json:"step"`
	Description      string `json:"description"`
	ClientPosition   string `json:"client_position"`
	ProviderPosition string `json:"provider_position,omitempty"`
	DesignerPosition string `json:"designer_position,omitempty"`
	Timestamp        string `json:"timestamp"`
	Resolved         bool   `json:"resolved"`
}

// Role keys found in stored snapshots, coalesced in this order.
var roleAliases = map[domain.Role][]string{
	domain.RoleClient:   {"client", "갑", "의뢰인"},
	domain.RoleProvider: {"provider", "을", "designer", "디자이너", "서비스 제공자"},
}

// ToSnapshot converts the state into its persisted form. Every recognized
// field is emitted, unset ones as null.
func (s *State) ToSnapshot() Snapshot {
	snap := Snapshot{
		SID:                s.SID,
		CurrentStep:        s.CurrentStep.String(),
		StepHistory:        make([]string, 0, len(s.StepHistory)),
		CollectedData:      make(map[string]any, len(fieldOrder)),
		RoleInputs:         make(map[string][]SnapshotInput, 2),
		Conflicts:          make([]SnapshotConflict, 0, len(s.Conflicts)),
		CreatedAt:          formatTime(s.CreatedAt),
		UpdatedAt:          formatTime(s.UpdatedAt),
		ProgressPercentage: s.Progress(),
	}
	for _, step := range s.StepHistory {
		snap.StepHistory = append(snap.StepHistory, step.String())
	}
	for _, f := range fieldOrder {
		if v, ok := s.Field(f); ok {
			snap.CollectedData[string(f)] = v
		} else {
			snap.CollectedData[string(f)] = nil
		}
	}
	for _, role := range domain.NegotiatingRoles() {
		inputs := make([]SnapshotInput, 0, len(s.RoleInputs[role]))
		for _, in := range s.RoleInputs[role] {
			inputs = append(inputs, SnapshotInput{
				Text:      in.Text,
				Timestamp: formatTime(in.Timestamp),
				Step:      in.Step.String(),
			})
		}
		snap.RoleInputs[string(role)] = inputs
	}
	for _, c := range s.Conflicts {
		snap.Conflicts = append(snap.Conflicts, SnapshotConflict{
			Step:             c.Step.String(),
			Description:      c.Description,
			ClientPosition:   c.ClientPosition,
			ProviderPosition: c.ProviderPosition,
			Timestamp:        formatTime(c.Timestamp),
			Resolved:         c.Resolved,
		})
	}
	if len(s.Participants) > 0 {
		snap.Participants = make(map[string]domain.Participant, len(s.Participants))
		for role, p := range s.Participants {
			snap.Participants[string(role)] = p
		}
	}
	return snap
}

// FromSnapshot rebuilds a State. Unknown step names fall back to
// StepIntroduction and legacy role keys are folded into client/provider.
func FromSnapshot(snap Snapshot) *State {
	sid := snap.SID
	if sid == "" {
		sid = "unknown"
	}
	s := &State{
		SID:          sid,
		CurrentStep:  lenientStep(snap.CurrentStep),
		Participants: make(map[domain.Role]domain.Participant),
		Fields:       make(map[Field]string),
		RoleInputs:   make(map[domain.Role][]RoleInput),
		CreatedAt:    parseTime(snap.CreatedAt),
		UpdatedAt:    parseTime(snap.UpdatedAt),
	}

	for _, name := range snap.StepHistory {
		step, ok := ParseStep(name)
		if !ok {
			continue
		}
		if n := len(s.StepHistory); n > 0 && s.StepHistory[n-1] == step {
			continue
		}
		s.StepHistory = append(s.StepHistory, step)
	}
	if !s.visited(s.CurrentStep) {
		s.StepHistory = append(s.StepHistory, s.CurrentStep)
	}

	for key, raw := range snap.CollectedData {
		f, ok := ParseField(key)
		if !ok {
			continue
		}
		if v := stringify(raw); v != "" {
			s.Fields[f] = v
		}
	}

	for _, role := range domain.NegotiatingRoles() {
		for _, alias := range roleAliases[role] {
			for _, in := range snap.RoleInputs[alias] {
				s.RoleInputs[role] = append(s.RoleInputs[role], RoleInput{
					Text:      in.Text,
					Timestamp: parseTime(in.Timestamp),
					Step:      lenientStep(in.Step),
				})
			}
		}
	}

	for _, c := range snap.Conflicts {
		provider := c.ProviderPosition
		if provider == "" {
			provider = c.DesignerPosition
		}
		s.Conflicts = append(s.Conflicts, Conflict{
			Step:             lenientStep(c.Step),
			Description:      c.Description,
			ClientPosition:   c.ClientPosition,
			ProviderPosition: provider,
			Timestamp:        parseTime(c.Timestamp),
			Resolved:         c.Resolved,
		})
	}

	for key, p := range snap.Participants {
		role, ok := domain.ParseRole(key)
		if !ok {
			continue
		}
		p.Role = role
		s.Participants[role] = s.Participants[role].Merge(p)
	}
	if ui := snap.UserInfo; ui != nil {
		if role, ok := domain.ParseRole(ui.UserRole); ok {
			if _, exists := s.Participants[role]; !exists {
				s.Participants[role] = domain.Participant{
					Name:         ui.UserName,
					Role:         role,
					ContractDate: ui.ContractDate,
				}
			}
		}
	}
	return s
}

// Encode serializes a state as snapshot JSON.
func Encode(s *State) ([]byte, error) {
	data, err := json.Marshal(s.ToSnapshot())
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", s.SID, err)
	}
	return data, nil
}

// Decode parses snapshot JSON into a state.
func Decode(data []byte) (*State, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return FromSnapshot(snap), nil
}

func lenientStep(name string) Step {
	step, _ := ParseStep(name)
	return step
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Older snapshots carry naive local isoformat timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
