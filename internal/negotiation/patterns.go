package negotiation

import (
	"regexp"
	"strings"
)

// PatternSet is a compiled family of case-insensitive regular expressions.
// A set with a veto never matches text the veto set matches.
type PatternSet struct {
	name     string
	patterns []*regexp.Regexp
	veto     *PatternSet
}

// NewPatternSet compiles each expression with the case-insensitive flag.
// It panics on an invalid expression, like regexp.MustCompile.
func NewPatternSet(name string, exprs ...string) *PatternSet {
	ps := &PatternSet{name: name, patterns: make([]*regexp.Regexp, 0, len(exprs))}
	for _, expr := range exprs {
		ps.patterns = append(ps.patterns, regexp.MustCompile(`(?i)`+expr))
	}
	return ps
}

// Except returns a copy of the set that rejects any text veto matches.
func (ps *PatternSet) Except(veto *PatternSet) *PatternSet {
	return &PatternSet{name: ps.name, patterns: ps.patterns, veto: veto}
}

// Name identifies the set in logs.
func (ps *PatternSet) Name() string { return ps.name }

// Match reports whether any pattern matches text.
func (ps *PatternSet) Match(text string) bool {
	_, ok := ps.FirstMatch(text)
	return ok
}

// FirstMatch returns the expression of the first matching pattern.
func (ps *PatternSet) FirstMatch(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if ps.veto != nil && ps.veto.Match(text) {
		return "", false
	}
	for _, re := range ps.patterns {
		if re.MatchString(text) {
			return strings.TrimPrefix(re.String(), "(?i)"), true
		}
	}
	return "", false
}

// Negation detects refusal or inability, which overrides any agreement
// wording in the same utterance.
var Negation = NewPatternSet("negation",
	`않`,
	`못`,
	`없`,
	`안\s`,
	`어렵`,
	`\bnot\b`,
	`\bno\b`,
	`n't\b`,
)

var confirmationExprs = []string{
	`동의(?:합니다|해요|하겠습니다|할게요|함)`,
	`알겠습니다`,
	`좋(?:아요|습니다|네요)`,
	`그렇게\s*(?:하죠|합시다|하겠습니다|해요|진행)`,
	`확정(?:합니다|할게요|하겠습니다|하죠|합시다)`,
	`진행(?:하겠습니다|할게요|해\s*주세요|합시다)`,
	`다음\s*단계`,
	`수락(?:합니다|할게요|하겠습니다)`,
	`괜찮(?:습니다|아요)`,
	`\b(?:ok|okay|agree[sd]?|deal|confirm(?:ed)?)\b`,
}

// Confirmation detects explicit agreement or go-ahead intent.
var Confirmation = NewPatternSet("confirmation", confirmationExprs...).Except(Negation)

// Proposal detects an utterance putting concrete terms on the table.
var Proposal = NewPatternSet("proposal",
	`\d[\d,\.]*\s*(?:만\s*원|만원|천\s*원|원|주|일|회|개월|달|시간)`,
	`하시죠`,
	`어떠(?:세요|신가요|십니까)`,
	`할까요`,
	`제안`,
	`\bpropose\b`,
	`\bhow about\b`,
)

// Acceptance detects a reply accepting the other side's proposal.
var Acceptance = NewPatternSet("acceptance", append([]string{
	`^\s*(?:네|예|응|넵|그래요|콜)\s*[.!]*\s*$`,
	`그(?:걸로|것으로)\s*(?:하죠|해요|합시다|할게요)`,
	`받아들이`,
	`\baccept(?:ed)?\b`,
}, confirmationExprs...)...).Except(Negation)

// CounterProposal detects hedges that turn an apparent acceptance into a
// new proposal.
var CounterProposal = NewPatternSet("counter_proposal",
	`대신`,
	`하지만`,
	`그런데`,
	`다만`,
	`어렵`,
	`말고`,
	`\binstead\b`,
	`\bbut\b`,
)

// Completion detects a request to finish and issue the contract.
var Completion = NewPatternSet("completion",
	`계약서\s*(?:를\s*)?(?:작성|생성|만들|발행)`,
	`최종\s*확인`,
	`완료`,
	`마무리`,
	`서명`,
	`\bfinali[sz]e\b`,
)
