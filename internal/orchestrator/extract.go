package orchestrator

import (
	"context"
	"strings"

	"github.com/ashureev/doq-mediator/internal/history"
	"github.com/ashureev/doq-mediator/internal/llmjson"
	"github.com/ashureev/doq-mediator/internal/negotiation"
	"github.com/ashureev/doq-mediator/internal/oracle"
	"github.com/ashureev/doq-mediator/internal/prompt"
)

// extractFields classifies the utterance against the current step and merges
// extracted fields into the state. On failure the raw utterance is written to
// the step's field if that field is still empty. The result is nil when
// classification failed.
func (o *Orchestrator) extractFields(ctx context.Context, st *negotiation.State, utterance string, lines []history.Line) *oracle.ClassifyResult {
	step := st.CurrentStep
	recent := make([]string, 0, len(lines))
	for _, l := range lines {
		recent = append(recent, l.String())
	}

	res, err := oracle.Classify(ctx, o.oracle, oracle.ClassifyRequest{
		Utterance:     utterance,
		Step:          step.String(),
		StepLabel:     step.Label(),
		ExpectedField: string(step.Field()),
		Context:       strings.Join(recent, "\n"),
	})
	if err != nil {
		o.logger.Warn("Field classification failed, keeping raw utterance",
			"session_id", st.SID, "step", step.String(), "error", err)
		st.SetField(string(step.Field()), utterance)
		return nil
	}

	for key, value := range res.ExtractedFields {
		if st.SetField(key, value) {
			o.logger.Debug("Field extracted", "session_id", st.SID, "field", key)
		}
	}
	return &res
}

// summarizeStep writes the agreed value of the step's field before the step
// is left. A parsed summary is an explicit correction and replaces any
// provisional value; otherwise the raw utterance fills the field only if it is
// still empty.
func (o *Orchestrator) summarizeStep(ctx context.Context, st *negotiation.State, utterance string) {
	step := st.CurrentStep
	field := string(step.Field())

	raw, err := o.oracle.Generate(ctx, prompt.Summarization(step, st.InputsAt(step), utterance), oracle.Options{
		Temperature: 0.2,
		MaxTokens:   256,
	})
	if err == nil {
		if m, perr := llmjson.Object(raw); perr == nil {
			if v := llmjson.String(m, "value"); v != "" {
				st.CorrectField(field, v)
				return
			}
		}
		o.logger.Warn("Unparseable step summary, keeping raw utterance", "session_id", st.SID, "step", step.String())
	} else {
		o.logger.Warn("Step summary oracle call failed", "session_id", st.SID, "step", step.String(), "error", err)
	}
	st.SetField(field, utterance)
}
