package negotiation

import (
	"strings"
	"time"

	"github.com/ashureev/doq-mediator/internal/domain"
)

// now is the clock used for every timestamp; tests may replace it.
var now = func() time.Time { return time.Now().UTC() }

// RoleInput is one raw utterance recorded for a role.
type RoleInput struct {
	Text      string
	Timestamp time.Time
	Step      Step
}

// Conflict is an explicitly flagged disagreement between the two sides.
type Conflict struct {
	Step             Step
	Description      string
	ClientPosition   string
	ProviderPosition string
	Timestamp        time.Time
	Resolved         bool
}

// State is the negotiation state of one session. It is not safe for
// concurrent use; callers serialize turns per session.
type State struct {
	SID          string
	CurrentStep  Step
	StepHistory  []Step
	Participants map[domain.Role]domain.Participant
	Fields       map[Field]string
	RoleInputs   map[domain.Role][]RoleInput
	Conflicts    []Conflict
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// New creates a state at the introduction step with nothing collected.
func New(sid string, participants ...domain.Participant) *State {
	ts := now()
	s := &State{
		SID:          sid,
		CurrentStep:  StepIntroduction,
		StepHistory:  []Step{StepIntroduction},
		Participants: make(map[domain.Role]domain.Participant),
		Fields:       make(map[Field]string),
		RoleInputs:   make(map[domain.Role][]RoleInput),
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	for _, p := range participants {
		s.mergeParticipant(p)
	}
	return s
}

func (s *State) touch() {
	s.UpdatedAt = now()
}

// Progress is derived from the current step.
func (s *State) Progress() float64 {
	return s.CurrentStep.Progress()
}

// Completed reports whether the negotiation reached its terminal step.
func (s *State) Completed() bool {
	return s.CurrentStep == StepCompleted
}

// Advance moves to the next step and returns it. It is a no-op at
// StepCompleted.
func (s *State) Advance() Step {
	if s.Completed() {
		return s.CurrentStep
	}
	s.CurrentStep = s.CurrentStep.Next()
	if n := len(s.StepHistory); n == 0 || s.StepHistory[n-1] != s.CurrentStep {
		s.StepHistory = append(s.StepHistory, s.CurrentStep)
	}
	s.touch()
	return s.CurrentStep
}

// JumpTo sets the current step unconditionally, backward jumps included.
// StepCompleted is never superseded, so a jump out of it is ignored.
func (s *State) JumpTo(step Step) Step {
	if !step.Valid() || s.Completed() {
		return s.CurrentStep
	}
	s.CurrentStep = step
	if !s.visited(step) {
		s.StepHistory = append(s.StepHistory, step)
	}
	s.touch()
	return s.CurrentStep
}

func (s *State) visited(step Step) bool {
	for _, h := range s.StepHistory {
		if h == step {
			return true
		}
	}
	return false
}

// RecordInput appends an utterance to the role's audit trail. Unknown roles
// are ignored.
func (s *State) RecordInput(role, text string) bool {
	r, ok := domain.ParseRole(role)
	if !ok {
		return false
	}
	s.RoleInputs[r] = append(s.RoleInputs[r], RoleInput{
		Text:      text,
		Timestamp: now(),
		Step:      s.CurrentStep,
	})
	s.touch()
	return true
}

// LastInput returns the most recent utterance of a role.
func (s *State) LastInput(role domain.Role) (RoleInput, bool) {
	inputs := s.RoleInputs[role]
	if len(inputs) == 0 {
		return RoleInput{}, false
	}
	return inputs[len(inputs)-1], true
}

// InputsAt returns every utterance recorded at step, keyed by role.
func (s *State) InputsAt(step Step) map[domain.Role][]string {
	out := make(map[domain.Role][]string)
	for role, inputs := range s.RoleInputs {
		for _, in := range inputs {
			if in.Step == step {
				out[role] = append(out[role], in.Text)
			}
		}
	}
	return out
}

// Field returns a collected value.
func (s *State) Field(f Field) (string, bool) {
	v, ok := s.Fields[f]
	return v, ok && v != ""
}

// SetField stores value under key if the key is recognized and the field is
// still empty. Unknown keys are ignored. It reports whether a write happened.
func (s *State) SetField(key, value string) bool {
	f, ok := ParseField(key)
	if !ok {
		return false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	if cur, set := s.Field(f); set && cur != "" {
		return false
	}
	s.Fields[f] = value
	s.touch()
	return true
}

// CorrectField overwrites a recognized field. It is the explicit correction
// path around the write-once policy of SetField.
func (s *State) CorrectField(key, value string) bool {
	f, ok := ParseField(key)
	if !ok {
		return false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	s.Fields[f] = value
	s.touch()
	return true
}

// FlagConflict records a disagreement at the current step and jumps to
// StepConflictResolution. It returns the conflict's index.
func (s *State) FlagConflict(description, clientPosition, providerPosition string) int {
	s.Conflicts = append(s.Conflicts, Conflict{
		Step:             s.CurrentStep,
		Description:      description,
		ClientPosition:   clientPosition,
		ProviderPosition: providerPosition,
		Timestamp:        now(),
	})
	s.JumpTo(StepConflictResolution)
	s.touch()
	return len(s.Conflicts) - 1
}

// ResolveConflict marks a conflict resolved. Out of range indexes are ignored.
func (s *State) ResolveConflict(idx int) bool {
	if idx < 0 || idx >= len(s.Conflicts) {
		return false
	}
	s.Conflicts[idx].Resolved = true
	s.touch()
	return true
}

// OpenConflicts returns unresolved conflicts.
func (s *State) OpenConflicts() []Conflict {
	var out []Conflict
	for _, c := range s.Conflicts {
		if !c.Resolved {
			out = append(out, c)
		}
	}
	return out
}

// MatchesConfirmationIntent reports whether text expresses agreement. It
// never mutates the state.
func (s *State) MatchesConfirmationIntent(text string) bool {
	return MatchesConfirmationIntent(text)
}

// MatchesConfirmationIntent tests text against the confirmation pattern set.
func MatchesConfirmationIntent(text string) bool {
	return Confirmation.Match(text)
}

// MergeParticipant applies identity metadata, last writer wins per field.
// Participant names also seed the client/provider name fields.
func (s *State) MergeParticipant(p domain.Participant) bool {
	if !s.mergeParticipant(p) {
		return false
	}
	s.touch()
	return true
}

func (s *State) mergeParticipant(p domain.Participant) bool {
	role, ok := domain.ParseRole(string(p.Role))
	if !ok {
		return false
	}
	p.Role = role
	merged := s.Participants[role].Merge(p)
	s.Participants[role] = merged
	if merged.Name != "" {
		switch role {
		case domain.RoleClient:
			s.SetField(string(FieldClientName), merged.Name)
		case domain.RoleProvider:
			s.SetField(string(FieldProviderName), merged.Name)
		}
	}
	return true
}

// ContractDate returns the first non-empty contract date among participants.
func (s *State) ContractDate() string {
	for _, role := range domain.NegotiatingRoles() {
		if d := s.Participants[role].ContractDate; d != "" {
			return d
		}
	}
	return ""
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.StepHistory = append([]Step(nil), s.StepHistory...)
	c.Participants = make(map[domain.Role]domain.Participant, len(s.Participants))
	for k, v := range s.Participants {
		c.Participants[k] = v
	}
	c.Fields = make(map[Field]string, len(s.Fields))
	for k, v := range s.Fields {
		c.Fields[k] = v
	}
	c.RoleInputs = make(map[domain.Role][]RoleInput, len(s.RoleInputs))
	for k, v := range s.RoleInputs {
		c.RoleInputs[k] = append([]RoleInput(nil), v...)
	}
	c.Conflicts = append([]Conflict(nil), s.Conflicts...)
	return &c
}
