package negotiation

import "strings"

// Field is a named piece of contract data collected from the conversation.
type Field string

const (
	FieldClientName           Field = "client_name"
	FieldClientCompany        Field = "client_company"
	FieldProviderName         Field = "provider_name"
	FieldProviderCompany      Field = "provider_company"
	FieldCategory             Field = "category"
	FieldWorkScope            Field = "work_scope"
	FieldWorkPeriod           Field = "work_period"
	FieldStartDate            Field = "start_date"
	FieldEndDate              Field = "end_date"
	FieldBudget               Field = "budget"
	FieldRevisionCount        Field = "revision_count"
	FieldCopyrightOwner       Field = "copyright_owner"
	FieldConfidentialityTerms Field = "confidentiality_terms"
	FieldSpecialConditions    Field = "special_conditions"
)

var fieldOrder = []Field{
	FieldClientName,
	FieldClientCompany,
	FieldProviderName,
	FieldProviderCompany,
	FieldCategory,
	FieldWorkScope,
	FieldWorkPeriod,
	FieldStartDate,
	FieldEndDate,
	FieldBudget,
	FieldRevisionCount,
	FieldCopyrightOwner,
	FieldConfidentialityTerms,
	FieldSpecialConditions,
}

var fieldLabels = map[Field]string{
	FieldClientName:           "의뢰인 이름",
	FieldClientCompany:        "의뢰인 회사",
	FieldProviderName:         "서비스 제공자 이름",
	FieldProviderCompany:      "서비스 제공자 회사",
	FieldCategory:             "프로젝트 카테고리",
	FieldWorkScope:            "작업 범위",
	FieldWorkPeriod:           "작업 기간",
	FieldStartDate:            "시작일",
	FieldEndDate:              "종료일",
	FieldBudget:               "대금",
	FieldRevisionCount:        "수정 횟수",
	FieldCopyrightOwner:       "저작권 귀속",
	FieldConfidentialityTerms: "비밀 유지 조건",
	FieldSpecialConditions:    "특약 사항",
}

// Fields returns every recognized field in display order.
func Fields() []Field {
	out := make([]Field, len(fieldOrder))
	copy(out, fieldOrder)
	return out
}

// ParseField resolves a field key.
func ParseField(key string) (Field, bool) {
	f := Field(strings.ToLower(strings.TrimSpace(key)))
	_, ok := fieldLabels[f]
	return f, ok
}

// Label returns the Korean display label.
func (f Field) Label() string {
	if l, ok := fieldLabels[f]; ok {
		return l
	}
	return string(f)
}
