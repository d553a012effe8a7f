// Package llmjson extracts structured data from free-form model output.
//
// Every call site that parses model replies goes through the same ordered
// fallback chain: the whole reply as tolerant JSON, then the contents of a
// fenced code block, then the outermost brace-delimited object embedded in
// prose. Callers that need a boolean or labeled sections layer their own
// last-resort fallbacks on top (ExtractBool, SplitLabeled).
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoStructuredData is returned when no JSON object can be recovered.
var ErrNoStructuredData = errors.New("no structured data in model output")

var fencedRE = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

// Decode unmarshals the first JSON object recovered from text into v.
func Decode(text string, v any) error {
	for _, candidate := range candidates(text) {
		if err := unmarshalTolerant(candidate, v); err == nil {
			return nil
		}
	}
	return ErrNoStructuredData
}

// Object is Decode into a generic map.
func Object(text string) (map[string]any, error) {
	var m map[string]any
	if err := Decode(text, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNoStructuredData
	}
	return m, nil
}

// ParseFenced decodes only the contents of a fenced code block.
func ParseFenced(text string, v any) error {
	m := fencedRE.FindStringSubmatch(text)
	if m == nil {
		return ErrNoStructuredData
	}
	if err := unmarshalTolerant(strings.TrimSpace(m[1]), v); err != nil {
		return fmt.Errorf("fenced block: %w", err)
	}
	return nil
}

// ParseBare decodes the whole text, or the outermost object embedded in it.
func ParseBare(text string, v any) error {
	trimmed := strings.TrimSpace(text)
	if err := unmarshalTolerant(trimmed, v); err == nil {
		return nil
	}
	if obj, ok := outerObject(trimmed); ok {
		if err := unmarshalTolerant(obj, v); err == nil {
			return nil
		}
	}
	return ErrNoStructuredData
}

func candidates(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	out := []string{trimmed}
	if m := fencedRE.FindStringSubmatch(trimmed); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}
	if obj, ok := outerObject(trimmed); ok {
		out = append(out, obj)
	}
	return out
}

func outerObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func unmarshalTolerant(s string, v any) error {
	if !strings.HasPrefix(s, "{") {
		return ErrNoStructuredData
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	return json.Unmarshal([]byte(repair(s)), v)
}

// repair escapes raw control characters inside string literals and drops
// trailing commas before a closing bracket, the two defects models produce
// most often.
func repair(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
				b.WriteByte(c)
			case c == '\\':
				escaped = true
				b.WriteByte(c)
			case c == '"':
				inString = false
				b.WriteByte(c)
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\r':
				b.WriteString(`\r`)
			case c == '\t':
				b.WriteString(`\t`)
			case c < 0x20:
				fmt.Fprintf(&b, `\u%04x`, c)
			default:
				b.WriteByte(c)
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ExtractBool recovers a boolean answer for key. It tries the structured
// chain, then a "key": true|false fragment, then a bare true/false reply.
func ExtractBool(text, key string) (bool, bool) {
	if m, err := Object(text); err == nil {
		if v, ok := asBool(m[key]); ok {
			return v, true
		}
	}
	re := regexp.MustCompile(`(?i)"?` + regexp.QuoteMeta(key) + `"?\s*[:=]\s*"?(true|false)"?`)
	if m := re.FindStringSubmatch(text); m != nil {
		return strings.EqualFold(m[1], "true"), true
	}
	bare := strings.ToLower(strings.Trim(strings.TrimSpace(text), "`.\"' \n"))
	switch bare {
	case "true", "yes":
		return true, true
	case "false", "no":
		return false, true
	}
	return false, false
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}

// String returns m[key] as a trimmed string; non-string scalars are
// formatted and objects or arrays are re-encoded as JSON.
func String(m map[string]any, key string) string {
	switch t := m[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64, bool:
		return fmt.Sprint(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// SplitLabeled splits text on literal "LABEL:" markers and returns the
// trimmed section following each label that is present.
func SplitLabeled(text string, labels ...string) map[string]string {
	type pos struct {
		label string
		start int
		body  int
	}
	var found []pos
	for _, l := range labels {
		marker := l + ":"
		if i := strings.Index(text, marker); i >= 0 {
			found = append(found, pos{label: l, start: i, body: i + len(marker)})
		}
	}
	out := make(map[string]string, len(found))
	for _, p := range found {
		end := len(text)
		for _, q := range found {
			if q.start > p.start && q.start < end {
				end = q.start
			}
		}
		section := strings.TrimSpace(text[p.body:end])
		section = strings.TrimSpace(strings.Trim(section, "`"))
		if section != "" {
			out[p.label] = section
		}
	}
	return out
}
