package prompt

import (
	"fmt"
	"strings"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/negotiation"
)

const advanceDecisionTemplate = `당신은 계약 협의의 진행 여부를 판단합니다.
현재 단계: {{ step_label }} ({{ step }})
단계 안내: {{ step_guidance }}

최근 대화:
{{ history }}

마지막 발화:
{{ user_text }}

이 단계에서 정해야 할 내용에 대해 의뢰인과 서비스 제공자가 모두 명시적으로 동의했다면 true, 아니면 false로 판단하세요.
한쪽의 제안만 있거나 조건이 남아 있다면 false입니다.
JSON으로만 답하세요: {"should_advance": true|false, "reason": "<짧은 이유>"}`

// AdvanceDecision asks whether the current step has been agreed.
func AdvanceDecision(step negotiation.Step, history []string, utterance string) string {
	return Render(advanceDecisionTemplate, map[string]any{
		"step":          step,
		"step_label":    step.Label(),
		"step_guidance": Guidance(step),
		"history":       orNone(strings.Join(history, "\n")),
		"user_text":     utterance,
	})
}

const questionDetectionTemplate = `다음 발화가 계약 용어나 법률에 대한 설명을 요청하는 질문인지 판단하세요.
협상 조건을 제시하거나 답하는 발화라면 false입니다.

발화:
{{ user_text }}

JSON으로만 답하세요: {"is_question": true|false}`

// QuestionDetection asks whether an utterance is a definitional or legal
// question rather than negotiation content.
func QuestionDetection(utterance string) string {
	return Render(questionDetectionTemplate, map[string]any{"user_text": utterance})
}

const summarizationTemplate = `'{{ step_label }}' 단계에서 합의된 내용을 계약서의 '{{ field_label }}' 항목에 들어갈 한 문장으로 정리하세요.

의뢰인 발화:
{{ client_inputs }}

서비스 제공자 발화:
{{ provider_inputs }}

마지막 발화:
{{ user_text }}

JSON으로만 답하세요: {"value": "<정리된 내용>"}`

// Summarization asks for the agreed value of the step's field.
func Summarization(step negotiation.Step, inputs map[domain.Role][]string, utterance string) string {
	return Render(summarizationTemplate, map[string]any{
		"step_label":      step.Label(),
		"field_label":     step.Field().Label(),
		"client_inputs":   orNone(strings.Join(inputs[domain.RoleClient], "\n")),
		"provider_inputs": orNone(strings.Join(inputs[domain.RoleProvider], "\n")),
		"user_text":       utterance,
	})
}

const ragAnswerTemplate = `아래 참고 조항을 바탕으로 질문에 쉽고 정확하게 답하세요. 참고 조항에 없는 내용은 일반적인 설명임을 밝혀 주세요.

참고 조항:
{{ context }}

질문: {{ query }}
답변:`

// RAGAnswer asks for an answer grounded on retrieved reference text.
func RAGAnswer(question, reference string) string {
	return Render(ragAnswerTemplate, map[string]any{
		"context": orNone(reference),
		"query":   question,
	})
}

// TransitionNotice announces a step change.
func TransitionNotice(from, to negotiation.Step) string {
	if to == negotiation.StepCompleted {
		return fmt.Sprintf("'%s' 단계가 확인되었습니다. 다음 단계로 이동합니다: 모든 협의가 끝나 계약서를 작성했습니다.", from.Label())
	}
	return fmt.Sprintf("'%s' 단계가 정리되었습니다. 다음 단계로 이동합니다: %s", from.Label(), to.Label())
}

// Greeting is the fixed introduction sent when a session starts.
func Greeting(clientName, providerName string) string {
	client := clientName
	if client == "" {
		client = domain.RoleClient.DisplayName()
	}
	provider := providerName
	if provider == "" {
		provider = domain.RoleProvider.DisplayName()
	}
	return fmt.Sprintf("안녕하세요, %s님과 %s님. 계약 협의를 돕는 DoQ입니다. "+
		"작업 범위, 기간, 대금, 수정 횟수, 저작권, 비밀 유지 순서로 함께 정리해 보겠습니다. "+
		"먼저 어떤 작업을 의뢰하시려는지 말씀해 주세요.", client, provider)
}

// FallbackReply is sent when the oracle cannot produce a reply.
const FallbackReply = "죄송합니다. 잠시 응답을 만들지 못했습니다. 방금 말씀을 한 번 더 보내 주시겠어요?"

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(없음)"
	}
	return s
}
