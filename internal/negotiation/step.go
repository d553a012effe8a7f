// Package negotiation implements the per-session conversation state machine
// that tracks a contract negotiation through a fixed sequence of topics.
package negotiation

import (
	"fmt"
	"math"
	"strings"
)

// Step is one stage of the negotiation. The zero value is StepIntroduction.
type Step int

const (
	StepIntroduction Step = iota
	StepWorkScope
	StepWorkPeriod
	StepBudget
	StepRevisions
	StepCopyright
	StepConfidentiality
	StepConflictResolution
	StepFinalization
	StepCompleted
)

var stepNames = [...]string{
	StepIntroduction:       "introduction",
	StepWorkScope:          "work_scope",
	StepWorkPeriod:         "work_period",
	StepBudget:             "budget",
	StepRevisions:          "revisions",
	StepCopyright:          "copyright",
	StepConfidentiality:    "confidentiality",
	StepConflictResolution: "conflict_resolution",
	StepFinalization:       "finalization",
	StepCompleted:          "completed",
}

var stepLabels = [...]string{
	StepIntroduction:       "소개 및 인사",
	StepWorkScope:          "작업 범위",
	StepWorkPeriod:         "작업 기간",
	StepBudget:             "대금",
	StepRevisions:          "수정 횟수",
	StepCopyright:          "저작권 귀속",
	StepConfidentiality:    "비밀 유지 및 특약",
	StepConflictResolution: "조건 충돌 조정",
	StepFinalization:       "최종 확인",
	StepCompleted:          "완료",
}

// Each step persists its agreed input into one collected field.
var stepFields = [...]Field{
	StepIntroduction:       FieldWorkScope,
	StepWorkScope:          FieldWorkScope,
	StepWorkPeriod:         FieldWorkPeriod,
	StepBudget:             FieldBudget,
	StepRevisions:          FieldRevisionCount,
	StepCopyright:          FieldCopyrightOwner,
	StepConfidentiality:    FieldConfidentialityTerms,
	StepConflictResolution: FieldSpecialConditions,
	StepFinalization:       FieldSpecialConditions,
	StepCompleted:          "",
}

// Steps returns every step in declared order.
func Steps() []Step {
	out := make([]Step, len(stepNames))
	for i := range stepNames {
		out[i] = Step(i)
	}
	return out
}

// Valid reports whether s is a declared step.
func (s Step) Valid() bool {
	return s >= StepIntroduction && s <= StepCompleted
}

func (s Step) String() string {
	if !s.Valid() {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// Label returns the Korean display label.
func (s Step) Label() string {
	if !s.Valid() {
		return s.String()
	}
	return stepLabels[s]
}

// Field returns the collected field the step's agreement is stored in.
// StepCompleted maps to no field.
func (s Step) Field() Field {
	if !s.Valid() {
		return ""
	}
	return stepFields[s]
}

// Next returns the following step; StepCompleted is absorbing.
func (s Step) Next() Step {
	if !s.Valid() || s >= StepCompleted {
		return StepCompleted
	}
	return s + 1
}

// Previous returns the preceding step, or StepIntroduction.
func (s Step) Previous() Step {
	if !s.Valid() || s <= StepIntroduction {
		return StepIntroduction
	}
	return s - 1
}

// RequiresAgreement reports whether leaving the step needs both sides to
// consent, so a one-sided completion signal must not advance it.
func (s Step) RequiresAgreement() bool {
	switch s {
	case StepWorkScope, StepWorkPeriod, StepBudget, StepRevisions, StepFinalization:
		return true
	}
	return false
}

// Progress is index/(count-1)*100 rounded to one decimal, clamped to 100.
func (s Step) Progress() float64 {
	if !s.Valid() {
		return 0
	}
	if s == StepCompleted {
		return 100
	}
	p := float64(s) / float64(len(stepNames)-1) * 100
	p = math.Round(p*10) / 10
	return math.Min(p, 100)
}

// MarshalText implements encoding.TextMarshaler.
func (s Step) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid step %d", int(s))
	}
	return []byte(stepNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It is strict; lenient
// recovery happens once in FromSnapshot.
func (s *Step) UnmarshalText(text []byte) error {
	step, ok := ParseStep(string(text))
	if !ok {
		return fmt.Errorf("unknown step %q", string(text))
	}
	*s = step
	return nil
}

// ParseStep resolves a step name. Legacy spellings such as "WORK_SCOPE" or
// "ChatStep.BUDGET" are accepted.
func ParseStep(name string) (Step, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "chatstep.")
	for i, candidate := range stepNames {
		if candidate == n {
			return Step(i), true
		}
	}
	return StepIntroduction, false
}
