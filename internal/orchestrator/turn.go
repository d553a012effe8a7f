package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/guard"
	"github.com/ashureev/doq-mediator/internal/history"
	"github.com/ashureev/doq-mediator/internal/llmjson"
	"github.com/ashureev/doq-mediator/internal/negotiation"
	"github.com/ashureev/doq-mediator/internal/oracle"
	"github.com/ashureev/doq-mediator/internal/prompt"
)

const (
	genericErrorText = "요청을 처리하는 중 오류가 발생했습니다. 잠시 후 다시 시도해 주세요."
	completionText   = "모든 항목이 합의되어 계약서를 작성했습니다. 내용을 확인해 주세요."
	diagnosticLimit  = 200
)

// Request is one inbound utterance.
type Request struct {
	SID  string
	Role string
	// Text is the utterance. When empty the role's most recent persisted
	// utterance is used instead.
	Text         string
	UserName     string
	ContractDate string
}

// Result describes what a turn produced.
type Result struct {
	// Reply is the final envelope of the turn.
	Reply    domain.Envelope
	Decision Decision
	Step     negotiation.Step
	// Refused is set when the input guard rejected the utterance.
	Refused bool
	// Failed is set when the turn aborted. Reply was not broadcast and
	// should be sent to the requester only.
	Failed bool
}

// HandleTurn processes one utterance end to end. Failures never escape as
// errors or panics; they come back as an llm.error envelope in a Failed
// result and leave the stored state untouched.
func (o *Orchestrator) HandleTurn(ctx context.Context, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Turn panicked", "session_id", req.SID, "panic", r, "stack", string(debug.Stack()))
			res = o.failure(req, domain.StatusServerError, fmt.Sprint(r))
		}
	}()

	res, err := o.runTurn(ctx, req)
	if err != nil {
		status := domain.StatusServerError
		if errors.Is(err, ErrInvalidRequest) {
			status = domain.StatusBadRequest
		}
		o.logger.Error("Turn failed", "session_id", req.SID, "role", req.Role, "error", err)
		return o.failure(req, status, err.Error())
	}
	return res
}

func (o *Orchestrator) failure(req Request, status int, detail string) Result {
	role, _ := domain.ParseRole(req.Role)
	return Result{
		Reply:  errorEnvelope(req.SID, role, status, genericErrorText, truncateRunes(detail, diagnosticLimit)),
		Failed: true,
	}
}

func (o *Orchestrator) runTurn(ctx context.Context, req Request) (Result, error) {
	role, err := validate(req)
	if err != nil {
		return Result{}, err
	}
	sid := req.SID

	text := strings.TrimSpace(req.Text)
	fresh := text != ""
	var h history.History
	if !fresh {
		h = o.loadHistory(ctx, sid)
		last, ok := h.LastFrom(role)
		if !ok {
			return Result{}, fmt.Errorf("%w: no utterance from %s to answer", ErrInvalidRequest, role)
		}
		text = last.Text
	}

	if hit, rejected := o.guard.Check(text); rejected {
		return o.refuse(ctx, sid, role, hit), nil
	}

	st, created, err := o.snapshots.GetOrCreate(ctx, sid)
	if err != nil {
		return Result{}, fmt.Errorf("load session: %w", err)
	}
	if created {
		o.logger.Info("Session state created", "session_id", sid)
	}
	o.applyIdentity(ctx, st, role, req)
	name := st.Participants[role].Name

	if fresh {
		o.publish(ctx, sid, domain.ParticipantUser, userEnvelope(sid, role, name, st.CurrentStep.String(), text))
		h = o.loadHistory(ctx, sid)
	}
	if fresh {
		st.RecordInput(string(role), text)
	}
	window := h.Tail(o.opts.AgreementWindow)

	// Assistant envelopes produced before the second guard are held back
	// until the turn is known to commit.
	var pending []domain.Envelope

	reference := o.reference(ctx, text)
	answer, sideAnswered := o.answerQuestion(ctx, st, role, text, reference)
	if sideAnswered {
		pending = append(pending, answer)
	}

	var cls *oracle.ClassifyResult
	if !st.Completed() {
		cls = o.extractFields(ctx, st, text, window)
	}

	previous := st.CurrentStep
	decision := o.decide(ctx, decisionInput{
		Step:           previous,
		Role:           role,
		Utterance:      text,
		Lines:          window,
		Classification: cls,
	})
	o.logger.Info("Advance decision",
		"session_id", sid,
		"role", string(role),
		"step", previous.String(),
		"advance", decision.Advance,
		"reason", decision.Reason,
		"source", decision.Source,
	)

	if decision.Advance {
		o.summarizeStep(ctx, st, text)
		next := st.Advance()
		pending = append(pending, assistantEnvelope(st, role,
			prompt.TransitionNotice(previous, next), "", map[string]any{
				"kind":     "transition",
				"from":     previous.String(),
				"to":       next.String(),
				"decision": decision,
			}))

		if next == negotiation.StepCompleted {
			draft := h.LatestDraft
			if strings.TrimSpace(draft) == "" {
				draft = prompt.RenderContract(st)
			}
			env := assistantEnvelope(st, role, completionText, draft, map[string]any{
				"kind":     "contract",
				"decision": decision,
			})
			o.publishAll(ctx, sid, pending)
			o.publish(ctx, sid, domain.ParticipantAssistant, env)
			o.save(ctx, st)
			o.logger.Info("Negotiation completed", "session_id", sid)
			return Result{Reply: env, Decision: decision, Step: next}, nil
		}
	}

	in := prompt.Input{
		State:         st,
		PreviousStep:  st.CurrentStep.Previous(),
		Role:          role,
		UserName:      name,
		Utterance:     text,
		History:       h.Strings(),
		UserHistory:   h.UserLines(),
		Reference:     reference,
		PreviousDraft: h.LatestDraft,
		Transitioned:  decision.Advance,
		SideAnswered:  sideAnswered,
	}
	if cls != nil && !decision.Advance {
		in.Clarification = cls.ClarificationNeeded
	}

	if hit, rejected := o.guard.CheckAll(prompt.UserDerived(prompt.Placeholders(in))); rejected {
		return o.refuse(ctx, sid, role, hit), nil
	}
	o.publishAll(ctx, sid, pending)

	reply := o.generateReply(ctx, st, in)
	env := assistantEnvelope(st, role, reply.Message, reply.Draft, map[string]any{
		"kind":     "reply",
		"variant":  prompt.SelectVariant(in).String(),
		"parse":    reply.Source,
		"decision": decision,
	})
	o.publish(ctx, sid, domain.ParticipantAssistant, env)
	o.save(ctx, st)

	return Result{Reply: env, Decision: decision, Step: st.CurrentStep}, nil
}

func validate(req Request) (domain.Role, error) {
	if strings.TrimSpace(req.SID) == "" {
		return "", fmt.Errorf("%w: missing session id", ErrInvalidRequest)
	}
	role, ok := domain.ParseRole(req.Role)
	if !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, req.Role)
	}
	return role, nil
}

// generateReply makes the single reply-generation call. An oracle failure
// degrades to the fallback text with the previous draft kept.
func (o *Orchestrator) generateReply(ctx context.Context, st *negotiation.State, in prompt.Input) Reply {
	variant := prompt.SelectVariant(in)
	text, kept := o.budget.Fit(variant, in)
	if kept < len(in.History) {
		o.logger.Info("Prompt trimmed to token budget", "session_id", st.SID, "history_kept", kept, "history_total", len(in.History))
	}

	raw, err := o.oracle.Generate(ctx, text, oracle.Options{
		Temperature: o.opts.Temperature,
		MaxTokens:   o.opts.MaxTokens,
	})
	if err != nil || strings.TrimSpace(raw) == "" {
		if err == nil {
			err = oracle.ErrEmptyCompletion
		}
		o.logger.Warn("Reply generation failed", "session_id", st.SID, "step", st.CurrentStep.String(), "error", err)
		return Reply{Message: prompt.FallbackReply, Draft: in.PreviousDraft, Source: "fallback"}
	}

	reply := ParseReply(raw, in.PreviousDraft)
	if reply.Message == "" {
		o.logger.Warn("Reply without participant message", "session_id", st.SID, "parse", reply.Source)
		reply.Message = prompt.FallbackReply
	}
	return reply
}

// answerQuestion detects a definitional or legal question and answers it from
// reference material ahead of the main reply. It returns the answer envelope
// and whether there is one; the caller publishes it.
func (o *Orchestrator) answerQuestion(ctx context.Context, st *negotiation.State, role domain.Role, text, reference string) (domain.Envelope, bool) {
	if !o.opts.QuestionDetection || st.CurrentStep == negotiation.StepIntroduction || st.Completed() {
		return domain.Envelope{}, false
	}

	raw, err := o.oracle.Generate(ctx, prompt.QuestionDetection(text), oracle.Options{Temperature: 0, MaxTokens: 64})
	if err != nil {
		o.logger.Warn("Question detection failed", "session_id", st.SID, "error", err)
		return domain.Envelope{}, false
	}
	isQuestion, ok := llmjson.ExtractBool(raw, "is_question")
	if !ok || !isQuestion {
		return domain.Envelope{}, false
	}

	answer, err := o.oracle.Generate(ctx, prompt.RAGAnswer(text, reference), oracle.Options{Temperature: 0.3, MaxTokens: 1024})
	if err != nil || strings.TrimSpace(answer) == "" {
		o.logger.Warn("Reference answer failed", "session_id", st.SID, "error", err)
		return domain.Envelope{}, false
	}
	return assistantEnvelope(st, role, strings.TrimSpace(answer), "", map[string]any{
		"kind": "answer",
	}), true
}

func (o *Orchestrator) reference(ctx context.Context, query string) string {
	ref, err := o.retriever.Search(ctx, query, o.opts.TopK)
	if err != nil {
		o.logger.Warn("Reference search failed", "error", err)
		return ""
	}
	return ref
}

func (o *Orchestrator) loadHistory(ctx context.Context, sid string) history.History {
	h, err := o.history.Load(ctx, sid)
	if err != nil {
		o.logger.Warn("History unavailable, continuing without it", "session_id", sid, "error", err)
		return history.History{}
	}
	return h
}

// applyIdentity merges directory and request identity into the state.
func (o *Orchestrator) applyIdentity(ctx context.Context, st *negotiation.State, role domain.Role, req Request) {
	if o.directory != nil {
		info, err := o.directory.GetSessionInfo(ctx, st.SID)
		if err != nil {
			o.logger.Warn("Session directory lookup failed", "session_id", st.SID, "error", err)
		}
		for _, p := range info.Participants() {
			st.MergeParticipant(p)
		}
	}
	if req.UserName != "" || req.ContractDate != "" {
		st.MergeParticipant(domain.Participant{Name: req.UserName, Role: role, ContractDate: req.ContractDate})
	}
}

func (o *Orchestrator) refuse(ctx context.Context, sid string, role domain.Role, hit guard.Hit) Result {
	o.logger.Warn("Input rejected", "session_id", sid, "role", string(role), "match", hit.String())
	env := refusalEnvelope(sid, role, guard.RefusalText)
	o.publish(ctx, sid, domain.ParticipantAssistant, env)
	return Result{
		Reply:    env,
		Decision: Decision{Reason: "input rejected", Source: "input_guard"},
		Refused:  true,
	}
}

func (o *Orchestrator) save(ctx context.Context, st *negotiation.State) {
	if err := o.snapshots.Save(ctx, st); err != nil {
		o.logger.Error("Failed to save session snapshot", "session_id", st.SID, "step", st.CurrentStep.String(), "error", err)
	}
}
