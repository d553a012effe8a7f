package history

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/store"
)

type fakeLog struct {
	recs  map[string][]domain.ChatRecord
	err   error
	count int
}

func (f *fakeLog) Append(_ context.Context, key string, rec domain.ChatRecord) (string, error) {
	if f.recs == nil {
		f.recs = make(map[string][]domain.ChatRecord)
	}
	f.recs[key] = append(f.recs[key], rec)
	return rec.ID, nil
}

func (f *fakeLog) Range(_ context.Context, key string, count int) ([]domain.ChatRecord, error) {
	f.count = count
	if f.err != nil {
		return nil, f.err
	}
	recs := f.recs[key]
	if count > 0 && len(recs) > count {
		recs = recs[len(recs)-count:]
	}
	return recs, nil
}

func record(t *testing.T, id, participant string, env domain.Envelope) domain.ChatRecord {
	t.Helper()
	rec, err := domain.NewChatRecord(participant, env)
	if err != nil {
		t.Fatal(err)
	}
	rec.ID = id
	return rec
}

func userEnv(role, name, text string) domain.Envelope {
	return domain.Envelope{
		HD: domain.Header{SID: "s", Event: domain.EventChatMessage, Role: role, UserName: name},
		BD: domain.Body{Text: text, State: domain.StatusOK},
	}
}

func replyEnv(text string, draft *string) domain.Envelope {
	return domain.Envelope{
		HD: domain.Header{SID: "s", Event: domain.EventLLMResponse, Role: string(domain.RoleAssistant)},
		BD: domain.Body{Text: text, ContractDraft: draft, State: domain.StatusOK},
	}
}

func ptr(s string) *string { return &s }

func TestReconstruct_OrderAndNewestDraftWins(t *testing.T) {
	recs := []domain.ChatRecord{
		record(t, "1", domain.ParticipantUser, userEnv("client", "김의뢰", "로고를 맡기고 싶어요")),
		record(t, "2", domain.ParticipantAssistant, replyEnv("좋습니다", ptr("초안 v1"))),
		{ID: "3", Participant: domain.ParticipantUser, Body: "{broken"},
		record(t, "4", domain.ParticipantUser, userEnv("designer", "박디자", "2주면 됩니다")),
		record(t, "5", domain.ParticipantAssistant, replyEnv("확인했습니다", ptr("초안 v2"))),
		record(t, "6", domain.ParticipantAssistant, replyEnv("", nil)),
	}

	h := Reconstruct(recs, nil)

	if h.LatestDraft != "초안 v2" {
		t.Errorf("expected newest draft, got %q", h.LatestDraft)
	}
	if h.Skipped != 1 {
		t.Errorf("expected 1 skipped record, got %d", h.Skipped)
	}
	want := []string{
		"의뢰인(김의뢰): 로고를 맡기고 싶어요",
		"DoQ: 좋습니다",
		"서비스 제공자(박디자): 2주면 됩니다",
		"DoQ: 확인했습니다",
	}
	got := h.Strings()
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if h.Lines[2].Role != domain.RoleProvider {
		t.Errorf("expected legacy role coalesced to provider, got %s", h.Lines[2].Role)
	}
}

func TestReconstruct_OlderDraftIgnored(t *testing.T) {
	recs := []domain.ChatRecord{
		record(t, "1", domain.ParticipantAssistant, replyEnv("a", ptr("old"))),
		record(t, "2", domain.ParticipantAssistant, replyEnv("b", ptr(""))),
		record(t, "3", domain.ParticipantAssistant, replyEnv("c", ptr("new"))),
	}
	if h := Reconstruct(recs, nil); h.LatestDraft != "new" {
		t.Errorf("expected new, got %q", h.LatestDraft)
	}
}

func TestReconstruct_AllCorrupt(t *testing.T) {
	recs := []domain.ChatRecord{{ID: "1", Body: "x"}, {ID: "2", Body: "{"}}
	h := Reconstruct(recs, nil)
	if len(h.Lines) != 0 || h.LatestDraft != "" || h.Skipped != 2 {
		t.Errorf("expected empty history, got %+v", h)
	}
}

func TestReader_Load(t *testing.T) {
	log := &fakeLog{}
	ctx := context.Background()
	key := store.StreamKey("s")
	for i := 0; i < 30; i++ {
		_, _ = log.Append(ctx, key, record(t, "", domain.ParticipantUser, userEnv("client", "", "안녕하세요")))
	}

	h, err := NewReader(log, 0, nil).Load(ctx, "s")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if log.count != DefaultLimit || len(h.Lines) != DefaultLimit {
		t.Errorf("expected %d records read, got count=%d lines=%d", DefaultLimit, log.count, len(h.Lines))
	}
}

func TestReader_LoadError(t *testing.T) {
	log := &fakeLog{err: errors.New("db closed")}
	if _, err := NewReader(log, 5, nil).Load(context.Background(), "s"); err == nil {
		t.Fatal("expected error")
	}
}

func TestHistory_Helpers(t *testing.T) {
	h := History{Lines: []Line{
		{Role: domain.RoleClient, Text: "100만원 어떠세요"},
		{Role: domain.RoleAssistant, Text: "확인"},
		{Role: domain.RoleProvider, Text: "좋아요"},
	}}

	if got := h.UserLines(); len(got) != 2 {
		t.Errorf("expected 2 user lines, got %v", got)
	}
	if l, ok := h.LastFrom(domain.RoleClient); !ok || l.Text != "100만원 어떠세요" {
		t.Errorf("unexpected last client line %+v", l)
	}
	if _, ok := h.LastFrom("nobody"); ok {
		t.Error("expected no line for unknown role")
	}
	if got := h.Tail(2); len(got) != 2 || got[0].Text != "확인" {
		t.Errorf("unexpected tail %+v", got)
	}
	if got := h.Tail(0); len(got) != 3 {
		t.Errorf("expected whole history for n=0, got %d", len(got))
	}
}
