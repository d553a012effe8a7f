package prompt

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Budget caps the size of an assembled reply prompt in cl100k tokens.
type Budget struct {
	max   int
	codec tokenizer.Codec
}

// NewBudget returns a budget of limit tokens. A non-positive limit disables it.
func NewBudget(limit int) (*Budget, error) {
	if limit <= 0 {
		return &Budget{}, nil
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &Budget{max: limit, codec: codec}, nil
}

// Count returns the token count of text, or 0 when the budget is disabled.
func (b *Budget) Count(text string) int {
	if b == nil || b.codec == nil {
		return 0
	}
	ids, _, err := b.codec.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// Fit builds the prompt for v, dropping history lines oldest first and then
// halving the reference context until it fits. It returns the prompt and
// the number of history lines kept.
func (b *Budget) Fit(v Variant, in Input) (string, int) {
	out := Build(v, Placeholders(in))
	if b == nil || b.max <= 0 {
		return out, len(in.History)
	}
	for b.Count(out) > b.max {
		switch {
		case len(in.History) > 0:
			in.History = in.History[1:]
		case len([]rune(in.Reference)) > 16:
			r := []rune(in.Reference)
			in.Reference = string(r[:len(r)/2])
		default:
			return out, len(in.History)
		}
		out = Build(v, Placeholders(in))
	}
	return out, len(in.History)
}
