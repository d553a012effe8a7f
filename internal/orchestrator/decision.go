package orchestrator

import (
	"context"
	"strings"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/history"
	"github.com/ashureev/doq-mediator/internal/llmjson"
	"github.com/ashureev/doq-mediator/internal/negotiation"
	"github.com/ashureev/doq-mediator/internal/oracle"
	"github.com/ashureev/doq-mediator/internal/prompt"
)

// Decision sources.
const (
	SourceGuard          = "completed_guard"
	SourceOracle         = "oracle"
	SourceOracleFallback = "oracle_fallback"
	SourceConfirmation   = "confirmation_pattern"
	SourceMutual         = "mutual_agreement"
	SourceClassification = "classification"
	SourceAutoAdvance    = "auto_advance"
	SourceCompletion     = "completion_keyword"
	SourceNone           = "none"
)

// Decision is the outcome of the advancement chain.
type Decision struct {
	Advance bool   `json:"advance"`
	Reason  string `json:"reason"`
	Source  string `json:"source"`
}

// decisionInput is what the advancement chain looks at for one turn.
type decisionInput struct {
	Step      negotiation.Step
	Role      domain.Role
	Utterance string
	Lines     []history.Line
	// Classification is nil when field extraction failed.
	Classification *oracle.ClassifyResult
}

// decide runs the advancement signals in priority order and returns the first
// one that fires. Nothing advances past StepCompleted.
func (o *Orchestrator) decide(ctx context.Context, in decisionInput) Decision {
	if in.Step == negotiation.StepCompleted {
		return Decision{Reason: "negotiation already completed", Source: SourceGuard}
	}

	if d := o.oracleDecision(ctx, in); d.Advance {
		return d
	}

	if negotiation.MatchesConfirmationIntent(in.Utterance) {
		return Decision{Advance: true, Reason: "utterance matches confirmation pattern", Source: SourceConfirmation}
	}

	if reason, ok := mutualAgreement(in.Lines, in.Role, in.Utterance); ok {
		return Decision{Advance: true, Reason: reason, Source: SourceMutual}
	}

	if c := in.Classification; c != nil && (c.IsComplete || c.NextAction == oracle.ActionAdvance) {
		if !in.Step.RequiresAgreement() {
			return Decision{Advance: true, Reason: "classifier reported step complete", Source: SourceClassification}
		}
	}

	if in.Step == negotiation.StepIntroduction && strings.TrimSpace(in.Utterance) != "" {
		return Decision{Advance: true, Reason: "introduction advances on any utterance", Source: SourceAutoAdvance}
	}

	if in.Step == negotiation.StepFinalization && negotiation.Completion.Match(in.Utterance) {
		return Decision{Advance: true, Reason: "completion keyword at finalization", Source: SourceCompletion}
	}

	return Decision{Reason: "no advancement signal", Source: SourceNone}
}

// oracleDecision asks the oracle whether the step is agreed. An oracle error
// or unparseable answer falls back to the confirmation predicate.
func (o *Orchestrator) oracleDecision(ctx context.Context, in decisionInput) Decision {
	lines := make([]string, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, l.String())
	}
	raw, err := o.oracle.Generate(ctx, prompt.AdvanceDecision(in.Step, lines, in.Utterance), oracle.Options{
		Temperature: 0.1,
		MaxTokens:   256,
	})
	if err == nil {
		if advance, ok := llmjson.ExtractBool(raw, "should_advance"); ok {
			reason := "oracle judged step not yet agreed"
			if advance {
				reason = "oracle judged step agreed"
			}
			if m, err := llmjson.Object(raw); err == nil {
				if r := llmjson.String(m, "reason"); r != "" {
					reason = r
				}
			}
			return Decision{Advance: advance, Reason: reason, Source: SourceOracle}
		}
		o.logger.Warn("Unparseable advance decision", "step", in.Step.String(), "error", llmjson.ErrNoStructuredData)
	} else {
		o.logger.Warn("Advance decision oracle call failed", "step", in.Step.String(), "error", err)
	}

	if negotiation.MatchesConfirmationIntent(in.Utterance) {
		return Decision{Advance: true, Reason: "oracle unavailable, utterance matches confirmation pattern", Source: SourceOracleFallback}
	}
	return Decision{Reason: "oracle unavailable, no confirmation", Source: SourceOracleFallback}
}

// mutualAgreement infers bilateral consent from the recent user lines. Both
// roles must have spoken within the window. Then either the current
// utterance confirms, or the previous user line proposed terms and the
// current line, from the other role, accepts them without a counter-offer.
func mutualAgreement(window []history.Line, role domain.Role, utterance string) (string, bool) {
	users := make([]history.Line, 0, len(window)+1)
	for _, l := range window {
		if l.FromUser() {
			users = append(users, l)
		}
	}
	if n := len(users); n == 0 || users[n-1].Role != role || users[n-1].Text != strings.TrimSpace(utterance) {
		users = append(users, history.Line{Role: role, Text: strings.TrimSpace(utterance)})
	}

	spoke := make(map[domain.Role]bool, 2)
	for _, l := range users {
		spoke[l.Role] = true
	}
	if !spoke[domain.RoleClient] || !spoke[domain.RoleProvider] {
		return "", false
	}

	if negotiation.Confirmation.Match(utterance) {
		return "both sides spoke and the current utterance confirms", true
	}

	if len(users) < 2 {
		return "", false
	}
	prev, cur := users[len(users)-2], users[len(users)-1]
	if prev.Role == cur.Role {
		return "", false
	}
	if negotiation.Proposal.Match(prev.Text) &&
		negotiation.Acceptance.Match(cur.Text) &&
		!negotiation.CounterProposal.Match(cur.Text) {
		return "proposal accepted by the other side", true
	}
	return "", false
}
