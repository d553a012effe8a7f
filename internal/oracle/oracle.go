// Package oracle provides text-completion backends used to mediate a
// negotiation, behind a single Generate call.
package oracle

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownProvider is returned by Registry.New for unregistered ids.
	ErrUnknownProvider = errors.New("unknown oracle provider")
	// ErrEmptyCompletion is returned when a backend produced no text.
	ErrEmptyCompletion = errors.New("empty completion")
)

// Options controls sampling for a single call.
type Options struct {
	Temperature float32
	MaxTokens   int32
}

// Oracle is a request/response text-completion capability.
type Oracle interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, prompt string, opts Options) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return f(ctx, prompt, opts)
}

// ProviderConfig selects and configures a backend.
type ProviderConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	// Reply is the canned completion of the static provider.
	Reply string
}
