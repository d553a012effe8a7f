package prompt

import (
	"fmt"
	"strings"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/negotiation"
)

// Variant selects the closing instructions of a reply prompt.
type Variant int

const (
	VariantDefault Variant = iota
	VariantClarification
	VariantTransition
)

func (v Variant) String() string {
	switch v {
	case VariantClarification:
		return "clarification"
	case VariantTransition:
		return "transition"
	}
	return "default"
}

// Input is everything a reply prompt is assembled from.
type Input struct {
	State         *negotiation.State
	PreviousStep  negotiation.Step
	Role          domain.Role
	UserName      string
	Utterance     string
	History       []string
	UserHistory   []string
	Reference     string
	PreviousDraft string
	Clarification string
	Transitioned  bool
	SideAnswered  bool
}

// SelectVariant picks clarification over transition over default.
func SelectVariant(in Input) Variant {
	switch {
	case strings.TrimSpace(in.Clarification) != "":
		return VariantClarification
	case in.Transitioned:
		return VariantTransition
	}
	return VariantDefault
}

const systemInstructions = `당신은 "DoQ"입니다. 의뢰인과 서비스 제공자 사이의 디자인 용역 계약 협의를 중립적으로 중재합니다.
- 한국어 존댓말로 간결하게 답합니다.
- 어느 한쪽에 유리하게 판단하지 않고 양측의 합의를 확인합니다.
- 합의되지 않은 조건을 계약서에 확정된 것처럼 쓰지 않습니다.
- 아래의 참고 자료와 수집된 정보 밖의 사실을 지어내지 않습니다.`

const contextSection = `[현재 단계] {{ step_label }} ({{ step }}), 진행률 {{ progress }}%
[단계 안내] {{ step_guidance }}
[이전 단계] {{ previous_step_label }}: {{ previous_step_guidance }}

[수집된 정보 요약]
{{ collected_summary }}

[수집된 정보]
{{ collected_data }}

[역할별 발화]
{{ role_inputs }}

[참고 자료]
{{ reference }}

[최근 대화]
{{ history }}

[계약서 양식]
{{ contract_template }}

[직전 계약서 초안]
{{ contract_draft }}`

const utteranceSection = `[{{ user_role }} {{ user_name }}의 발화]
{{ user_text }}`

const outputFormat = `반드시 아래 JSON 형식으로만 답하세요.
{"USER_MESSAGE": "<참여자에게 보낼 메시지>", "CONTRACT_DRAFT": "<갱신된 계약서 전문 또는 null>"}`

var variantInstructions = map[Variant]string{
	VariantDefault: `현재 단계의 논의를 이어가세요. 합의가 필요한 항목이 남아 있다면 양측에게 확인 질문을 하세요.
{{ side_answer_note }}`,
	VariantClarification: `발화에서 다음 사항이 불분명합니다: {{ clarification }}
이 점을 정중하게 되물어 확인하세요. 계약서 초안은 바꾸지 마세요.`,
	VariantTransition: `방금 '{{ previous_step_label }}' 단계가 정리되어 '{{ step_label }}' 단계로 넘어왔습니다.
정리된 내용을 한 문장으로 확인하고, 새 단계에서 정할 내용을 안내하며 첫 질문을 하세요.
계약서 초안에 정리된 내용을 반영하세요.`,
}

// Placeholders computes every value a reply prompt can reference.
func Placeholders(in Input) map[string]any {
	s := in.State
	previousDraft := in.PreviousDraft
	if previousDraft == "" {
		previousDraft = "(없음)"
	}
	reference := in.Reference
	if strings.TrimSpace(reference) == "" {
		reference = "(없음)"
	}
	history := strings.Join(in.History, "\n")
	if history == "" {
		history = "(없음)"
	}
	sideNote := ""
	if in.SideAnswered {
		sideNote = "참여자의 질문에는 이미 별도로 답변했으니 다시 설명하지 마세요."
	}
	return map[string]any{
		"step":                   s.CurrentStep,
		"step_label":             s.CurrentStep.Label(),
		"step_guidance":          Guidance(s.CurrentStep),
		"previous_step_label":    in.PreviousStep.Label(),
		"previous_step_guidance": Guidance(in.PreviousStep),
		"progress":               s.Progress(),
		"collected_summary":      CollectedSummary(s),
		"collected_data":         CollectedData(s),
		"role_inputs":            RoleInputs(s),
		"reference":              reference,
		"history":                history,
		"user_history":           in.UserHistory,
		"contract_template":      ContractTemplate(s),
		"contract_draft":         previousDraft,
		"user_role":              in.Role.DisplayName(),
		"user_name":              in.UserName,
		"user_text":              in.Utterance,
		"clarification":          in.Clarification,
		"side_answer_note":       sideNote,
	}
}

// userDerivedKeys are the placeholders carrying participant-authored text.
var userDerivedKeys = []string{"user_text", "collected_data", "role_inputs", "user_history"}

// UserDerived picks the placeholders that must pass the injection guard.
func UserDerived(values map[string]any) map[string]any {
	out := make(map[string]any, len(userDerivedKeys))
	for _, k := range userDerivedKeys {
		if v, ok := values[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Build renders the reply prompt for a variant.
func Build(v Variant, values map[string]any) string {
	return Compose([]string{
		systemInstructions,
		contextSection,
		utteranceSection,
		variantInstructions[v],
		outputFormat,
	}, values)
}

// CollectedSummary lists every field with its value or "(미정)".
func CollectedSummary(s *negotiation.State) string {
	var b strings.Builder
	for _, f := range negotiation.Fields() {
		v, _ := s.Field(f)
		fmt.Fprintf(&b, "- %s: %s\n", f.Label(), orUndecided(v))
	}
	return strings.TrimRight(b.String(), "\n")
}

// CollectedData returns the field map with nil for unset fields.
func CollectedData(s *negotiation.State) map[string]any {
	out := make(map[string]any, len(negotiation.Fields()))
	for _, f := range negotiation.Fields() {
		if v, ok := s.Field(f); ok {
			out[string(f)] = v
		} else {
			out[string(f)] = nil
		}
	}
	return out
}

// RoleInputs returns raw utterances per role.
func RoleInputs(s *negotiation.State) map[string][]string {
	out := make(map[string][]string, 2)
	for _, role := range domain.NegotiatingRoles() {
		texts := make([]string, 0, len(s.RoleInputs[role]))
		for _, in := range s.RoleInputs[role] {
			texts = append(texts, in.Text)
		}
		out[string(role)] = texts
	}
	return out
}
