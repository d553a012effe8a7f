package prompt

import "github.com/ashureev/doq-mediator/internal/negotiation"

var stepGuidance = map[negotiation.Step]string{
	negotiation.StepIntroduction: "양측을 환영하고 DoQ가 계약 협의를 중재한다는 점을 소개하세요. " +
		"의뢰하려는 작업이 무엇인지 간단히 물어보세요.",
	negotiation.StepWorkScope: "작업 범위를 구체화하세요. 결과물의 종류, 수량, 파일 형식, 포함되지 않는 작업을 " +
		"양측이 모두 확인하도록 유도하세요.",
	negotiation.StepWorkPeriod: "작업 기간을 정하세요. 시작일, 종료일, 중간 검수 일정을 확인하고 " +
		"양측이 같은 일정에 동의하는지 확인하세요.",
	negotiation.StepBudget: "대금을 정하세요. 총액, 부가세 포함 여부, 착수금과 잔금 비율, 지급 시기를 확인하세요. " +
		"한쪽의 금액 제시만으로 합의된 것으로 보지 마세요.",
	negotiation.StepRevisions: "무상 수정 횟수와 추가 수정 시 비용을 정하세요. 양측의 동의를 확인하세요.",
	negotiation.StepCopyright: "결과물의 저작권 귀속 시점과 대상, 포트폴리오 사용 가능 여부를 정하세요.",
	negotiation.StepConfidentiality: "비밀 유지 범위와 기간, 그 밖의 특약 사항을 확인하세요.",
	negotiation.StepConflictResolution: "양측 입장이 충돌한 조건을 정리하고 중립적인 절충안을 제시하세요. " +
		"어느 한쪽의 편을 들지 마세요.",
	negotiation.StepFinalization: "지금까지 합의된 조건을 요약해 보여주고, 양측이 최종 확인하면 계약서를 작성한다고 안내하세요.",
	negotiation.StepCompleted:    "계약서 작성이 완료되었음을 알리고 서명 절차를 안내하세요.",
}

// Guidance returns the mediator instructions for a step.
func Guidance(step negotiation.Step) string {
	return stepGuidance[step]
}
