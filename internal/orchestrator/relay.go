package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/prompt"
	"github.com/ashureev/doq-mediator/internal/store"
)

// Relay records a plain participant message without consulting the oracle.
// The message is appended to the log, broadcast, and added to the role's
// input trail. Rejected input is answered with the refusal instead.
func (o *Orchestrator) Relay(ctx context.Context, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Relay panicked", "session_id", req.SID, "panic", r, "stack", string(debug.Stack()))
			res = o.failure(req, domain.StatusServerError, fmt.Sprint(r))
		}
	}()

	res, err := o.relay(ctx, req)
	if err != nil {
		status := domain.StatusServerError
		if errors.Is(err, ErrInvalidRequest) {
			status = domain.StatusBadRequest
		}
		o.logger.Error("Relay failed", "session_id", req.SID, "role", req.Role, "error", err)
		return o.failure(req, status, err.Error())
	}
	return res
}

func (o *Orchestrator) relay(ctx context.Context, req Request) (Result, error) {
	role, err := validate(req)
	if err != nil {
		return Result{}, err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Result{}, fmt.Errorf("%w: empty message", ErrInvalidRequest)
	}
	if hit, rejected := o.guard.Check(text); rejected {
		return o.refuse(ctx, req.SID, role, hit), nil
	}

	st, _, err := o.snapshots.GetOrCreate(ctx, req.SID)
	if err != nil {
		return Result{}, fmt.Errorf("load session: %w", err)
	}
	o.applyIdentity(ctx, st, role, req)

	env := userEnvelope(req.SID, role, st.Participants[role].Name, st.CurrentStep.String(), text)
	o.publish(ctx, req.SID, domain.ParticipantUser, env)
	st.RecordInput(string(role), text)
	o.save(ctx, st)

	return Result{Reply: env, Step: st.CurrentStep}, nil
}

// Greet sends the fixed introduction when a session has no history yet. It
// reports whether the greeting was sent.
func (o *Orchestrator) Greet(ctx context.Context, sid string) (bool, error) {
	recs, err := o.log.Range(ctx, store.StreamKey(sid), 1)
	if err != nil {
		return false, fmt.Errorf("check session history: %w", err)
	}
	if len(recs) > 0 {
		return false, nil
	}

	st, _, err := o.snapshots.GetOrCreate(ctx, sid)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	o.applyIdentity(ctx, st, "", Request{})

	text := prompt.Greeting(st.Participants[domain.RoleClient].Name, st.Participants[domain.RoleProvider].Name)
	o.publish(ctx, sid, domain.ParticipantAssistant, assistantEnvelope(st, "", text, "", map[string]any{
		"kind": "greeting",
	}))
	o.save(ctx, st)
	return true, nil
}
