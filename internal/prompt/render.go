// Package prompt assembles the text sent to the oracle.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var placeholderRE = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render substitutes {{ key }} placeholders. Maps and slices are rendered as
// indented JSON, nil as "", and unknown placeholders are left intact.
func Render(text string, values map[string]any) string {
	if len(values) == 0 {
		return text
	}
	return placeholderRE.ReplaceAllStringFunc(text, func(m string) string {
		key := placeholderRE.FindStringSubmatch(m)[1]
		v, ok := values[key]
		if !ok {
			return m
		}
		return toString(v)
	})
}

// Compose renders each non-empty part and joins them with blank lines.
func Compose(parts []string, values map[string]any) string {
	rendered := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		rendered = append(rendered, Render(p, values))
	}
	return strings.Join(rendered, "\n\n")
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(t)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(t); err != nil {
			return fmt.Sprint(t)
		}
		return strings.TrimRight(buf.String(), "\n")
	}
}
