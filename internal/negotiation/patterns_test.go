package negotiation

import "testing"

func TestPatternSets(t *testing.T) {
	tests := []struct {
		name string
		set  *PatternSet
		text string
		want bool
	}{
		{"confirm agree", Confirmation, "좋습니다, 그렇게 진행하죠", true},
		{"confirm english", Confirmation, "OK, deal.", true},
		{"confirm amount demand", Confirmation, "150만원은 받아야 합니다", false},
		{"confirm plain amount", Confirmation, "100만원", false},
		{"confirm empty", Confirmation, "   ", false},
		{"confirm refused", Confirmation, "동의하지 않습니다", false},
		{"confirm unable", Confirmation, "확정할 수 없어요", false},
		{"confirm cannot agree", Confirmation, "그 금액은 동의 못 합니다", false},
		{"confirm not ok", Confirmation, "not ok", false},
		{"confirm bare noun", Confirmation, "동의 여부는 내일 말씀드릴게요", false},
		{"confirm difficult", Confirmation, "그렇게 진행하기는 어렵습니다", false},
		{"confirm finalize", Confirmation, "이 금액으로 확정하죠", true},
		{"proposal amount", Proposal, "100만원", true},
		{"proposal period", Proposal, "3주 정도면 어떠세요", true},
		{"proposal question", Proposal, "작업 범위가 궁금합니다", false},
		{"acceptance short", Acceptance, "네!", true},
		{"acceptance agree", Acceptance, "그걸로 하죠", true},
		{"acceptance not", Acceptance, "150만원은 받아야 합니다", false},
		{"acceptance refused", Acceptance, "그 금액은 동의 못 합니다", false},
		{"acceptance cannot", Acceptance, "받아들이기 어렵습니다", false},
		{"acceptance english refusal", Acceptance, "I don't accept that", false},
		{"negation korean", Negation, "수정은 안 됩니다", true},
		{"negation greeting", Negation, "안녕하세요", false},
		{"counter", CounterProposal, "좋아요, 대신 수정은 2회로 해주세요", true},
		{"counter none", CounterProposal, "좋아요", false},
		{"completion draft", Completion, "이제 계약서 작성해 주세요", true},
		{"completion sign", Completion, "서명하겠습니다", true},
		{"completion none", Completion, "수정 횟수는 3회", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.set.Match(tt.text); got != tt.want {
				t.Errorf("%s.Match(%q) = %v, want %v", tt.set.Name(), tt.text, got, tt.want)
			}
		})
	}
}

func TestParseStep(t *testing.T) {
	tests := []struct {
		in     string
		want   Step
		wantOK bool
	}{
		{"budget", StepBudget, true},
		{" WORK_PERIOD ", StepWorkPeriod, true},
		{"ChatStep.COMPLETED", StepCompleted, true},
		{"negotiating", StepIntroduction, false},
		{"", StepIntroduction, false},
	}
	for _, tt := range tests {
		got, ok := ParseStep(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseStep(%q) = %s, %v; want %s, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestStep_RequiresAgreement(t *testing.T) {
	agreed := map[Step]bool{
		StepWorkScope:    true,
		StepWorkPeriod:   true,
		StepBudget:       true,
		StepRevisions:    true,
		StepFinalization: true,
	}
	for _, step := range Steps() {
		if got := step.RequiresAgreement(); got != agreed[step] {
			t.Errorf("%s: expected %v, got %v", step, agreed[step], got)
		}
	}
}
