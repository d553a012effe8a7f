// Package guard detects prompt-injection attempts in text bound for the
// language model.
package guard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// RefusalText is sent instead of a model reply when input is rejected.
const RefusalText = "죄송합니다. 해당 요청은 처리할 수 없습니다. 계약 협의와 관련된 내용으로 다시 말씀해 주세요."

// Role and instruction override attempts, jailbreak vocabulary and
// system-prompt extraction attempts.
var defaultPatterns = []string{
	`무시하(?:고|세요|십시오|하라)`,
	`(?:지금까지|이전|기존).*(?:무시|초기화)`,
	`system\s*prompt`,
	`프롬프트.*?무시`,
	`지침.*?무시`,
	`규칙.*?무시`,
	`instruction.*?(?:ignore|bypass)`,
	`prompt.*?(?:ignore|override|bypass)`,
	`잊어버리(?:고|세요|십시오|라)`,
	`역할.*?(?:변경|바꿔|change role)`,
	`(?:너|당신|AI).*(?:이제|지금부터).*`,
	`(?:이전|기존).*?지시.*?(?:무시|삭제|변경)`,

	`gpt.*?로.*?변경`,
	`모델.*?바꿔`,
	`너는.*?더 이상.*?아니다`,
	`stop.*?being`,
	`you are now`,
	`from now on.*?act as`,
	`pretend to be`,

	`developer.*?mode`,
	`dev.*?mode`,
	`jailbreak`,
	`탈옥`,
	`우회.*?필터`,
	`제한.*?해제`,
	`restrictions.*?(?:off|disable)`,

	`(?:assistant|ai).*?(?:규칙|지침).*?변경`,
	`override.*?rules`,
	`ignore.*?all.*?previous.*?instructions`,
	`disregard.*?rules`,
	`forget.*?instructions`,
	`reset.*?instructions`,

	`말투.*?바꿔`,
	`시스템.*?접근`,
	`/mnt/data`,
	`파일.*?목록`,
	`tool.*?list`,
	`run.*?code`,

	`\[?end.*?prompt\]?`,
	`</?system>`,
	`</?assistant>`,
	`</?instruction>`,
}

// Hit describes the first pattern that matched.
type Hit struct {
	Key     string
	Pattern string
}

func (h Hit) String() string {
	return fmt.Sprintf("%s matched %q", h.Key, h.Pattern)
}

// Guard checks text against a fixed adversarial pattern set.
type Guard struct {
	patterns []*regexp.Regexp
}

// New compiles the default pattern set plus any extra expressions.
func New(extra ...string) (*Guard, error) {
	g := &Guard{}
	for _, expr := range append(append([]string(nil), defaultPatterns...), extra...) {
		re, err := regexp.Compile(`(?i)` + expr)
		if err != nil {
			return nil, fmt.Errorf("compile injection pattern %q: %w", expr, err)
		}
		g.patterns = append(g.patterns, re)
	}
	return g, nil
}

// Default returns a guard over the built-in pattern set.
func Default() *Guard {
	g, err := New()
	if err != nil {
		panic(err)
	}
	return g
}

// Check tests a single string.
func (g *Guard) Check(text string) (Hit, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Hit{}, false
	}
	for _, re := range g.patterns {
		if re.MatchString(text) {
			return Hit{Key: "text", Pattern: strings.TrimPrefix(re.String(), "(?i)")}, true
		}
	}
	return Hit{}, false
}

// CheckAll tests every string value in fields, including strings nested in
// maps and slices. Keys are visited in sorted order so the reported hit is
// deterministic.
func (g *Guard) CheckAll(fields map[string]any) (Hit, bool) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if hit, ok := g.checkValue(fields[k]); ok {
			hit.Key = k
			return hit, true
		}
	}
	return Hit{}, false
}

func (g *Guard) checkValue(v any) (Hit, bool) {
	switch t := v.(type) {
	case string:
		return g.Check(t)
	case []string:
		for _, s := range t {
			if hit, ok := g.Check(s); ok {
				return hit, true
			}
		}
	case []any:
		for _, item := range t {
			if hit, ok := g.checkValue(item); ok {
				return hit, true
			}
		}
	case map[string]string:
		for _, s := range t {
			if hit, ok := g.Check(s); ok {
				return hit, true
			}
		}
	case map[string][]string:
		for _, list := range t {
			if hit, ok := g.checkValue(list); ok {
				return hit, true
			}
		}
	case map[string]any:
		for _, item := range t {
			if hit, ok := g.checkValue(item); ok {
				return hit, true
			}
		}
	}
	return Hit{}, false
}
