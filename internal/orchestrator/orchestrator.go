// Package orchestrator runs negotiation turns: it guards input, reconstructs
// history, decides whether the current step is agreed, asks the oracle for a
// reply and records the outcome.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ashureev/doq-mediator/internal/domain"
	"github.com/ashureev/doq-mediator/internal/guard"
	"github.com/ashureev/doq-mediator/internal/history"
	"github.com/ashureev/doq-mediator/internal/negotiation"
	"github.com/ashureev/doq-mediator/internal/oracle"
	"github.com/ashureev/doq-mediator/internal/prompt"
	"github.com/ashureev/doq-mediator/internal/retrieval"
	"github.com/ashureev/doq-mediator/internal/store"
)

// ErrInvalidRequest marks a turn that cannot run with the given input.
var ErrInvalidRequest = errors.New("invalid turn request")

// Snapshots loads and saves negotiation state.
type Snapshots interface {
	GetOrCreate(ctx context.Context, sid string) (*negotiation.State, bool, error)
	Save(ctx context.Context, st *negotiation.State) error
}

// HistoryLoader reads recent conversation context.
type HistoryLoader interface {
	Load(ctx context.Context, sid string) (history.History, error)
}

// Options tunes turn behavior.
type Options struct {
	// AgreementWindow is how many history lines the mutual-agreement
	// heuristic looks back.
	AgreementWindow int
	// QuestionDetection enables the side-channel answer for legal or
	// definitional questions.
	QuestionDetection bool
	// TopK is the number of reference blocks retrieved per turn.
	TopK int
	// Temperature and MaxTokens apply to reply generation.
	Temperature float32
	MaxTokens   int32
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		AgreementWindow:   10,
		QuestionDetection: true,
		TopK:              3,
		Temperature:       0.4,
		MaxTokens:         2048,
	}
}

// Deps are the collaborators of an Orchestrator. Retriever, Guard, Budget,
// Directory and Logger are optional.
type Deps struct {
	Snapshots Snapshots
	History   HistoryLoader
	Log       store.ChatLog
	Directory store.Directory
	Oracle    oracle.Oracle
	Retriever retrieval.Retriever
	Guard     *guard.Guard
	Budget    *prompt.Budget
	Out       Broadcaster
	Logger    *slog.Logger
}

// Orchestrator runs turns. It keeps no per-session state of its own; callers
// serialize turns per session.
type Orchestrator struct {
	snapshots Snapshots
	history   HistoryLoader
	log       store.ChatLog
	directory store.Directory
	oracle    oracle.Oracle
	retriever retrieval.Retriever
	guard     *guard.Guard
	budget    *prompt.Budget
	out       Broadcaster
	opts      Options
	logger    *slog.Logger
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.AgreementWindow <= 0 {
		opts.AgreementWindow = def.AgreementWindow
	}
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}

	o := &Orchestrator{
		snapshots: deps.Snapshots,
		history:   deps.History,
		log:       deps.Log,
		directory: deps.Directory,
		oracle:    deps.Oracle,
		retriever: deps.Retriever,
		guard:     deps.Guard,
		budget:    deps.Budget,
		out:       deps.Out,
		opts:      opts,
		logger:    deps.Logger,
	}
	if o.retriever == nil {
		o.retriever = retrieval.Nop{}
	}
	if o.guard == nil {
		o.guard = guard.Default()
	}
	if o.out == nil {
		o.out = BroadcasterFunc(func(context.Context, string, domain.Envelope) {})
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
