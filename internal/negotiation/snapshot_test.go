package negotiation

import (
	"encoding/json"
	"testing"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	s := New("sid-rt", domain.Participant{Name: "김의뢰", Role: domain.RoleClient, ContractDate: "2025-01-10"})
	s.RecordInput("client", "로고 디자인을 의뢰하고 싶습니다.")
	s.Advance()
	s.SetField("work_scope", "로고 디자인")
	s.RecordInput("provider", "시안 3개 제공 가능합니다")
	s.Advance()
	s.FlagConflict("기간", "2주", "4주")
	s.ResolveConflict(0)

	data, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if diff := cmp.Diff(s, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_EmitsEveryField(t *testing.T) {
	s := New("sid-1")
	s.SetField("budget", "100만원")

	snap := s.ToSnapshot()
	if len(snap.CollectedData) != len(Fields()) {
		t.Fatalf("expected %d collected keys, got %d", len(Fields()), len(snap.CollectedData))
	}
	if snap.CollectedData["work_scope"] != nil {
		t.Errorf("expected unset field as null, got %v", snap.CollectedData["work_scope"])
	}
	if snap.CollectedData["budget"] != "100만원" {
		t.Errorf("expected budget, got %v", snap.CollectedData["budget"])
	}
}

func TestFromSnapshot_UnknownStepFallsBack(t *testing.T) {
	raw := `{"sid":"sid-x","current_step":"haggling","step_history":["introduction","haggling"],
		"collected_data":{},"role_inputs":{},"conflicts":[]}`

	s, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if s.CurrentStep != StepIntroduction {
		t.Errorf("expected introduction, got %s", s.CurrentStep)
	}
	if len(s.StepHistory) != 1 || s.StepHistory[0] != StepIntroduction {
		t.Errorf("unexpected history %v", s.StepHistory)
	}
}

func TestFromSnapshot_LegacyShapes(t *testing.T) {
	raw := map[string]any{
		"sid":          "sid-legacy",
		"current_step": "ChatStep.BUDGET",
		"step_history": []string{"INTRODUCTION", "work_scope", "work_scope", "work_period"},
		"user_info":    map[string]any{"user_name": "박디자", "user_role": "designer", "contract_date": "2024-12-01"},
		"collected_data": map[string]any{
			"work_scope":     "포스터",
			"revision_count": 3,
			"mystery":        "ignored",
		},
		"role_inputs": map[string]any{
			"갑": []map[string]any{{"text": "포스터 부탁드려요", "timestamp": "2024-12-01T10:00:00.123456", "step": "work_scope"}},
			"을": []map[string]any{{"text": "네", "timestamp": "2024-12-01T10:01:00", "step": "WORK_SCOPE"}},
		},
		"conflicts": []map[string]any{{
			"step": "budget", "description": "d", "client_position": "a", "designer_position": "b",
			"timestamp": "2024-12-01T10:02:00", "resolved": false,
		}},
		"created_at": "2024-12-01T09:59:59.5",
		"updated_at": "not a time",
	}
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}

	s, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if s.CurrentStep != StepBudget {
		t.Errorf("expected budget, got %s", s.CurrentStep)
	}
	wantHistory := []Step{StepIntroduction, StepWorkScope, StepWorkPeriod, StepBudget}
	if diff := cmp.Diff(wantHistory, s.StepHistory); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	if v, _ := s.Field(FieldRevisionCount); v != "3" {
		t.Errorf("expected numeric field stringified, got %q", v)
	}
	if len(s.RoleInputs[domain.RoleClient]) != 1 || len(s.RoleInputs[domain.RoleProvider]) != 1 {
		t.Errorf("expected legacy role keys coalesced, got %v", s.RoleInputs)
	}
	if s.RoleInputs[domain.RoleProvider][0].Step != StepWorkScope {
		t.Errorf("expected legacy input step normalized")
	}
	if s.RoleInputs[domain.RoleClient][0].Timestamp.IsZero() {
		t.Error("expected isoformat timestamp parsed")
	}
	if s.Conflicts[0].ProviderPosition != "b" {
		t.Errorf("expected designer_position mapped, got %+v", s.Conflicts[0])
	}
	if p := s.Participants[domain.RoleProvider]; p.Name != "박디자" {
		t.Errorf("expected legacy user_info as provider participant, got %+v", p)
	}
	if s.CreatedAt.IsZero() {
		t.Error("expected created_at parsed")
	}
	if !s.UpdatedAt.IsZero() {
		t.Error("expected unparseable updated_at to be zero")
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	if _, err := Decode([]byte("{")); err == nil {
		t.Error("expected error")
	}
}
