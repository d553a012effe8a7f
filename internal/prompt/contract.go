package prompt

import (
	"strings"

	"github.com/ashureev/doq-mediator/internal/negotiation"
)

const undecided = "(미정)"

const contractTemplate = `디자인 용역 계약서

의뢰인(이하 "갑"): {{ client_name }} {{ client_company }}
서비스 제공자(이하 "을"): {{ provider_name }} {{ provider_company }}
계약일: {{ contract_date }}

제1조 (목적)
본 계약은 갑이 을에게 의뢰하는 {{ category }} 용역의 수행에 관한 제반 사항을 정함을 목적으로 한다.

제2조 (작업 범위)
{{ work_scope }}

제3조 (작업 기간)
{{ work_period }} (시작일: {{ start_date }}, 종료일: {{ end_date }})

제4조 (대금 및 지급)
{{ budget }}

제5조 (수정)
무상 수정 횟수: {{ revision_count }}

제6조 (저작권)
{{ copyright_owner }}

제7조 (비밀 유지)
{{ confidentiality_terms }}

제8조 (특약 사항)
{{ special_conditions }}

제9조 (분쟁 해결)
본 계약에 관하여 분쟁이 발생한 경우 갑과 을은 상호 협의하여 해결하며, 협의가 이루어지지 않을 때에는 관할 법원의 판단에 따른다.

갑: {{ client_name }} (서명)
을: {{ provider_name }} (서명)`

// ContractTemplate returns the contract skeleton with only the party names
// and contract date resolved. Term placeholders stay for the model to fill.
func ContractTemplate(s *negotiation.State) string {
	clientName, _ := s.Field(negotiation.FieldClientName)
	clientCompany, _ := s.Field(negotiation.FieldClientCompany)
	providerName, _ := s.Field(negotiation.FieldProviderName)
	providerCompany, _ := s.Field(negotiation.FieldProviderCompany)
	values := map[string]any{
		"contract_date":    orUndecided(s.ContractDate()),
		"client_name":      orUndecided(clientName),
		"client_company":   clientCompany,
		"provider_name":    orUndecided(providerName),
		"provider_company": providerCompany,
	}
	return strings.TrimSpace(collapseSpaces(Render(contractTemplate, values)))
}

// RenderContract fills every placeholder from the collected fields. It
// produces the final draft without a model call.
func RenderContract(s *negotiation.State) string {
	values := map[string]any{
		"contract_date": orUndecided(s.ContractDate()),
	}
	for _, f := range negotiation.Fields() {
		v, _ := s.Field(f)
		values[string(f)] = orUndecided(v)
	}
	for _, f := range []negotiation.Field{negotiation.FieldClientCompany, negotiation.FieldProviderCompany} {
		if v, _ := s.Field(f); v == "" {
			values[string(f)] = ""
		}
	}
	return strings.TrimSpace(collapseSpaces(Render(contractTemplate, values)))
}

func orUndecided(v string) string {
	if strings.TrimSpace(v) == "" {
		return undecided
	}
	return v
}

func collapseSpaces(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.Join(lines, "\n")
}
