// Package domain contains core domain types for the DoQ mediator.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event identifies the kind of envelope exchanged with participants.
type Event string

const (
	// EventLLMInvoke asks the mediator to run a turn.
	EventLLMInvoke Event = "llm.invoke"
	// EventLLMResponse carries a mediator reply.
	EventLLMResponse Event = "llm.response"
	// EventLLMError carries a mediator failure.
	EventLLMError Event = "llm.error"
	// EventChatMessage is a plain participant utterance.
	EventChatMessage Event = "chat.message"
	// EventTyping is a transient typing indicator.
	EventTyping Event = "typing"
)

// ParseEvent normalizes an inbound event name. "chat.llm" is accepted as an
// alias of llm.invoke.
func ParseEvent(s string) (Event, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(EventLLMInvoke), "chat.llm":
		return EventLLMInvoke, true
	case string(EventLLMResponse):
		return EventLLMResponse, true
	case string(EventLLMError):
		return EventLLMError, true
	case string(EventChatMessage):
		return EventChatMessage, true
	case string(EventTyping):
		return EventTyping, true
	}
	return "", false
}

// Status codes carried in Body.State.
const (
	StatusOK          = 200
	StatusBadRequest  = 400
	StatusNotFound    = 404
	StatusServerError = 500
)

// Participant tags stored alongside every log record.
const (
	ParticipantUser      = "user"
	ParticipantAssistant = "assistant"
)

// Header is the routing part of an envelope.
type Header struct {
	SID          string `json:"sid"`
	Event        Event  `json:"event"`
	Role         string `json:"role"`
	Asker        string `json:"asker,omitempty"`
	Step         string `json:"step,omitempty"`
	UserName     string `json:"user_name,omitempty"`
	RoleName     string `json:"role_name,omitempty"`
	ContractDate string `json:"contract_date,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// Body is the payload part of an envelope.
type Body struct {
	Text               string         `json:"text,omitempty"`
	ContractDraft      *string        `json:"contract_draft,omitempty"`
	CurrentStep        string         `json:"current_step,omitempty"`
	ProgressPercentage *float64       `json:"progress_percentage,omitempty"`
	State              int            `json:"state"`
	Meta               map[string]any `json:"meta,omitempty"`
}

// Envelope wraps every message exchanged with participants and every record
// persisted to the chat log.
type Envelope struct {
	HD Header `json:"hd"`
	BD Body   `json:"bd"`
}

// Draft returns the contract draft carried by the envelope, or "".
func (e Envelope) Draft() string {
	if e.BD.ContractDraft == nil {
		return ""
	}
	return *e.BD.ContractDraft
}

// ChatRecord is one persisted unit of the append-only chat log.
type ChatRecord struct {
	ID          string `json:"id,omitempty"`
	Participant string `json:"participant"`
	Body        string `json:"body"`
}

// NewChatRecord serializes an envelope into a log record.
func NewChatRecord(participant string, env Envelope) (ChatRecord, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return ChatRecord{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return ChatRecord{Participant: participant, Body: string(data)}, nil
}

// Envelope decodes the record body.
func (r ChatRecord) Envelope() (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(r.Body), &env); err != nil {
		return Envelope{}, fmt.Errorf("decode chat record %s: %w", r.ID, err)
	}
	return env, nil
}
