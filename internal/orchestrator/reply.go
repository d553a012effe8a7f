package orchestrator

import (
	"strings"

	"github.com/ashureev/doq-mediator/internal/llmjson"
)

const (
	keyUserMessage   = "USER_MESSAGE"
	keyContractDraft = "CONTRACT_DRAFT"
)

// Reply is the structured part of a reply-generation completion.
type Reply struct {
	Message string
	Draft   string
	// Source names the parse stage that produced the reply.
	Source string
}

// ParseReply extracts the participant message and contract draft from raw
// oracle output. It tries a tolerant JSON parse, then the contents of a
// fenced block, then USER_MESSAGE:/CONTRACT_DRAFT: sections. When no stage
// yields a draft the previous draft is carried forward, so a draft never
// regresses to empty.
func ParseReply(raw, previousDraft string) Reply {
	r := parseReply(raw)
	if strings.TrimSpace(r.Draft) == "" || isNullLiteral(r.Draft) {
		r.Draft = previousDraft
	}
	return r
}

func parseReply(raw string) Reply {
	var m map[string]any
	if err := llmjson.ParseBare(raw, &m); err == nil {
		if r, ok := replyFromMap(m, "json"); ok {
			return r
		}
	}
	m = nil
	if err := llmjson.ParseFenced(raw, &m); err == nil {
		if r, ok := replyFromMap(m, "fenced"); ok {
			return r
		}
	}
	sections := llmjson.SplitLabeled(raw, keyUserMessage, keyContractDraft)
	if msg := sections[keyUserMessage]; msg != "" {
		return Reply{Message: msg, Draft: sections[keyContractDraft], Source: "labeled"}
	}
	return Reply{Message: plainText(raw), Source: "raw"}
}

func replyFromMap(m map[string]any, source string) (Reply, bool) {
	msg := lookup(m, keyUserMessage)
	draft := lookup(m, keyContractDraft)
	if msg == "" && draft == "" {
		return Reply{}, false
	}
	return Reply{Message: msg, Draft: draft, Source: source}, true
}

func lookup(m map[string]any, key string) string {
	if v := llmjson.String(m, key); v != "" {
		return v
	}
	return llmjson.String(m, strings.ToLower(key))
}

// plainText keeps model output that is not structured at all, unless it
// looks like a broken JSON attempt that would read as noise to a person.
func plainText(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "```") {
		return ""
	}
	return s
}

func isNullLiteral(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "null", "none", "nil":
		return true
	}
	return false
}
