package orchestrator

import (
	"context"
	"time"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/negotiation"
	"github.com/ashureev/doq-mediator/internal/store"
)

// Broadcaster delivers an envelope to every connection of a session.
// Delivery failures are the broadcaster's concern and never reach the turn.
type Broadcaster interface {
	Broadcast(ctx context.Context, sid string, env domain.Envelope)
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(ctx context.Context, sid string, env domain.Envelope)

// Broadcast calls f.
func (f BroadcasterFunc) Broadcast(ctx context.Context, sid string, env domain.Envelope) {
	f(ctx, sid, env)
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// assistantEnvelope builds an llm.response addressed to the session.
func assistantEnvelope(st *negotiation.State, asker domain.Role, text, draft string, meta map[string]any) domain.Envelope {
	progress := st.Progress()
	env := domain.Envelope{
		HD: domain.Header{
			SID:          st.SID,
			Event:        domain.EventLLMResponse,
			Role:         string(domain.RoleAssistant),
			Asker:        string(asker),
			Step:         st.CurrentStep.String(),
			RoleName:     domain.RoleAssistant.DisplayName(),
			ContractDate: st.ContractDate(),
			Timestamp:    timestamp(),
		},
		BD: domain.Body{
			Text:               text,
			CurrentStep:        st.CurrentStep.String(),
			ProgressPercentage: &progress,
			State:              domain.StatusOK,
			Meta:               meta,
		},
	}
	if draft != "" {
		env.BD.ContractDraft = &draft
	}
	return env
}

// refusalEnvelope carries the fixed refusal for a rejected input.
func refusalEnvelope(sid string, asker domain.Role, text string) domain.Envelope {
	return domain.Envelope{
		HD: domain.Header{
			SID:       sid,
			Event:     domain.EventLLMResponse,
			Role:      string(domain.RoleAssistant),
			Asker:     string(asker),
			RoleName:  domain.RoleAssistant.DisplayName(),
			Timestamp: timestamp(),
		},
		BD: domain.Body{
			Text:  text,
			State: domain.StatusBadRequest,
			Meta:  map[string]any{"reason": "input_rejected"},
		},
	}
}

// errorEnvelope is the generic failure reply sent to the requester.
func errorEnvelope(sid string, asker domain.Role, status int, text, detail string) domain.Envelope {
	env := domain.Envelope{
		HD: domain.Header{
			SID:       sid,
			Event:     domain.EventLLMError,
			Role:      string(domain.RoleAssistant),
			Asker:     string(asker),
			Timestamp: timestamp(),
		},
		BD: domain.Body{Text: text, State: status},
	}
	if detail != "" {
		env.BD.Meta = map[string]any{"detail": detail}
	}
	return env
}

// userEnvelope echoes a participant utterance to the session.
func userEnvelope(sid string, role domain.Role, name, step, text string) domain.Envelope {
	return domain.Envelope{
		HD: domain.Header{
			SID:       sid,
			Event:     domain.EventChatMessage,
			Role:      string(role),
			Step:      step,
			UserName:  name,
			RoleName:  role.DisplayName(),
			Timestamp: timestamp(),
		},
		BD: domain.Body{Text: text, State: domain.StatusOK},
	}
}

// publish appends env to the session log and broadcasts it. A failed append
// is logged and the envelope is still delivered.
func (o *Orchestrator) publish(ctx context.Context, sid, participant string, env domain.Envelope) {
	rec, err := domain.NewChatRecord(participant, env)
	if err == nil {
		_, err = o.log.Append(ctx, store.StreamKey(sid), rec)
	}
	if err != nil {
		o.logger.Warn("Failed to persist chat record", "session_id", sid, "event", string(env.HD.Event), "error", err)
	}
	o.out.Broadcast(ctx, sid, env)
}

func (o *Orchestrator) publishAll(ctx context.Context, sid string, envs []domain.Envelope) {
	for _, env := range envs {
		o.publish(ctx, sid, domain.ParticipantAssistant, env)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
