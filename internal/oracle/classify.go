package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/doq-mediator/internal/llmjson"
)

// NextAction is the classifier's suggestion for the conversation.
type NextAction string

const (
	ActionAskMore NextAction = "ask_more"
	ActionConfirm NextAction = "confirm"
	ActionAdvance NextAction = "advance"
	ActionClarify NextAction = "clarify"
)

func parseNextAction(s string) NextAction {
	switch a := NextAction(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionConfirm, ActionAdvance, ActionClarify:
		return a
	}
	return ActionAskMore
}

// ClassifyRequest describes one utterance to classify against a step.
type ClassifyRequest struct {
	Utterance     string
	Step          string
	StepLabel     string
	ExpectedField string
	Context       string
}

// ClassifyResult is the structured answer of Classify.
type ClassifyResult struct {
	IsComplete          bool
	ExtractedFields     map[string]string
	NextAction          NextAction
	ClarificationNeeded string
}

const classifyPrompt = `당신은 계약 협의 대화를 분석하는 분류기입니다.
현재 단계: %s (%s)
이 단계에서 수집해야 하는 항목: %s

최근 대화:
%s

분석할 발화:
"""%s"""

아래 JSON 형식으로만 답하세요. 다른 설명은 쓰지 마세요.
{"is_complete": true|false, "extracted_fields": {"<항목 키>": "<값>"}, "next_action": "ask_more|confirm|advance|clarify", "clarification_needed": null 또는 "<확인이 필요한 질문>"}`

type classifyWire struct {
	IsComplete          any            `json:"is_complete"`
	ExtractedFields     map[string]any `json:"extracted_fields"`
	NextAction          string         `json:"next_action"`
	ClarificationNeeded *string        `json:"clarification_needed"`
}

// Classify asks o to classify an utterance against the step's expected field.
// Any oracle error or unparseable reply is returned so callers can fall back.
func Classify(ctx context.Context, o Oracle, req ClassifyRequest) (ClassifyResult, error) {
	recent := strings.TrimSpace(req.Context)
	if recent == "" {
		recent = "(없음)"
	}
	prompt := fmt.Sprintf(classifyPrompt, req.Step, req.StepLabel, req.ExpectedField, recent, req.Utterance)

	raw, err := o.Generate(ctx, prompt, Options{Temperature: 0.1, MaxTokens: 512})
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("classify: %w", err)
	}

	var wire classifyWire
	if err := llmjson.Decode(raw, &wire); err != nil {
		return ClassifyResult{}, fmt.Errorf("classify: %w", err)
	}

	res := ClassifyResult{
		IsComplete:      truthy(wire.IsComplete),
		ExtractedFields: make(map[string]string, len(wire.ExtractedFields)),
		NextAction:      parseNextAction(wire.NextAction),
	}
	for k, v := range wire.ExtractedFields {
		if s := llmjson.String(wire.ExtractedFields, k); s != "" && v != nil {
			res.ExtractedFields[k] = s
		}
	}
	if wire.ClarificationNeeded != nil {
		res.ClarificationNeeded = strings.TrimSpace(*wire.ClarificationNeeded)
	}
	return res, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	}
	return false
}
