// Package graph runs a conversation turn as an explicit state machine over the
// session store, the intent router, the provider selector, the correction
// ledger and the tool loop.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/tutorgraph/internal/composer"
	"github.com/kalambet/tutorgraph/internal/correction"
	"github.com/kalambet/tutorgraph/internal/intent"
	"github.com/kalambet/tutorgraph/internal/metrics"
	"github.com/kalambet/tutorgraph/internal/provider"
	"github.com/kalambet/tutorgraph/internal/selector"
	"github.com/kalambet/tutorgraph/internal/storage"
	"github.com/kalambet/tutorgraph/internal/tools"
)

const (
	DefaultMaxToolRounds   = 5
	defaultProviderTimeout = 60 * time.Second
	defaultStorageTimeout  = 5 * time.Second
)

var (
	ErrEmptySession = errors.New("session id is required")
	ErrEmptyQuery   = errors.New("query is required")
)

// Store is the session persistence used by the executor.
type Store interface {
	EnsureSession(ctx context.Context, id, userID string) error
	GetSession(ctx context.Context, id string) (storage.Session, error)
	History(ctx context.Context, id string) ([]storage.Message, error)
	AppendTurn(ctx context.Context, id, userContent, assistantContent string, meta map[string]string) error
}

// Options tunes the executor. Zero values use the defaults.
type Options struct {
	MaxToolRounds   int
	ProviderTimeout time.Duration
	StorageTimeout  time.Duration
	// DefaultProvider answers when the selected provider is not registered.
	DefaultProvider string
	// SearchProvider failures are reported without detail.
	SearchProvider string
}

// Deps are the collaborators built once at startup.
type Deps struct {
	Store     Store
	Router    *intent.Router
	Selector  *selector.Selector
	Ledger    *correction.Ledger
	Composer  *composer.Composer
	Providers *provider.Registry
	Tools     *tools.Registry
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// TurnInput is one user message.
type TurnInput struct {
	SessionID string
	UserID    string
	Query     string
}

// TurnResult is what a surface renders after a turn.
type TurnResult struct {
	SessionID string
	Answer    string
	Provider  string
	// Override is the sticky provider after this turn, empty for auto.
	Override      string
	Intent        intent.Intent
	Outcome       Outcome
	ToolsUsed     []string
	ToolRounds    int
	SessionActive bool
}

type node func(ctx context.Context, st *TurnState) (Update, error)

// Executor runs turns. It is safe for concurrent use; turns of the same
// session are serialised.
type Executor struct {
	store     Store
	router    *intent.Router
	selector  *selector.Selector
	ledger    *correction.Ledger
	composer  *composer.Composer
	providers *provider.Registry
	tools     *tools.Registry
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      Options

	nodes map[State]node
	locks *sessionLocks
}

// New creates an Executor. Store, Router, Selector, Ledger and Providers are
// required.
func New(d Deps, opts Options) *Executor {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = defaultStorageTimeout
	}
	if d.Composer == nil {
		d.Composer = composer.New(0, 0)
	}
	if d.Tools == nil {
		d.Tools = tools.NewRegistry(0)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	e := &Executor{
		store:     d.Store,
		router:    d.Router,
		selector:  d.Selector,
		ledger:    d.Ledger,
		composer:  d.Composer,
		providers: d.Providers,
		tools:     d.Tools,
		metrics:   d.Metrics,
		logger:    d.Logger,
		opts:      opts,
		locks:     newSessionLocks(),
	}
	e.nodes = map[State]node{
		InputSession:       e.inputSession,
		ModelSelector:      e.modelSelector,
		ChatLLM:            e.chatLLM,
		Tools:              e.runTools,
		FeedbackCorrection: e.feedbackCorrection,
	}
	return e
}

// RunTurn processes one user message end to end and persists the user
// message with the final answer. Storage failures and cancellation are
// returned as errors and leave the session unchanged; provider and tool
// failures become the answer.
func (e *Executor) RunTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, ErrEmptySession
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if in.UserID == "" {
		in.UserID = storage.DefaultUserID
	}

	unlock, err := e.locks.lock(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	st := &TurnState{
		SessionID: in.SessionID,
		UserID:    in.UserID,
		Input:     in.Query,
		Query:     in.Query,
	}
	if err := e.run(ctx, st); err != nil {
		return nil, err
	}
	if err := e.commit(ctx, st); err != nil {
		return nil, err
	}
	e.metrics.Turn(string(st.Intent), string(st.Outcome), time.Since(start).Seconds())

	e.logger.Info("turn complete",
		"session", st.SessionID,
		"intent", st.Intent,
		"provider", st.Provider,
		"outcome", st.Outcome,
		"tool_rounds", st.ToolRounds,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &TurnResult{
		SessionID:     st.SessionID,
		Answer:        st.Answer,
		Provider:      st.Provider,
		Override:      st.Override,
		Intent:        st.Intent,
		Outcome:       st.Outcome,
		ToolsUsed:     st.ToolsUsed,
		ToolRounds:    st.ToolRounds,
		SessionActive: true,
	}, nil
}

// run advances the state machine from Start to End, one node at a time.
func (e *Executor) run(ctx context.Context, st *TurnState) error {
	limit := 8 + 2*(e.opts.MaxToolRounds+1)

	state := Start
	for steps := 0; state != End; steps++ {
		if steps > limit {
			return fmt.Errorf("turn exceeded %d transitions at %s", limit, state)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if n, ok := e.nodes[state]; ok {
			u, err := n(ctx, st)
			if err != nil {
				return fmt.Errorf("%s: %w", state, err)
			}
			st.apply(u)
		}

		to, err := next(state, st)
		if err != nil {
			return err
		}
		e.logger.Debug("graph transition", "session", st.SessionID, "from", state, "to", to)
		state = to
	}
	return nil
}

func (e *Executor) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.StorageTimeout)
}

// inputSession loads the session, its history and the correction ledger, then
// classifies the input. Switch commands are always queries.
func (e *Executor) inputSession(ctx context.Context, st *TurnState) (Update, error) {
	sctx, cancel := e.storageCtx(ctx)
	defer cancel()

	if err := e.store.EnsureSession(sctx, st.SessionID, st.UserID); err != nil {
		return Update{}, fmt.Errorf("ensuring session: %w", err)
	}
	sess, err := e.store.GetSession(sctx, st.SessionID)
	if err != nil {
		return Update{}, fmt.Errorf("loading session: %w", err)
	}
	history, err := e.store.History(sctx, st.SessionID)
	if err != nil {
		return Update{}, fmt.Errorf("loading history: %w", err)
	}
	corrections, err := e.ledger.Snapshot(sctx)
	if err != nil {
		return Update{}, fmt.Errorf("loading corrections: %w", err)
	}

	in := intent.Query
	if !e.selector.IsCommand(st.Query) {
		in = e.router.Classify(ctx, st.Query, history)
	}

	return Update{
		Session:     &sess,
		History:     history,
		Corrections: &corrections,
		Override:    ptr(sess.Metadata[storage.MetaModelOverride]),
		Intent:      &in,
	}, nil
}

// feedbackCorrection records the correction and rewrites the working query.
func (e *Executor) feedbackCorrection(ctx context.Context, st *TurnState) (Update, error) {
	sctx, cancel := e.storageCtx(ctx)
	defer cancel()

	applied, err := e.ledger.Apply(sctx, st.Query, st.History)
	if err != nil {
		return Update{}, err
	}
	corrections, err := e.ledger.Snapshot(sctx)
	if err != nil {
		return Update{}, fmt.Errorf("reloading corrections: %w", err)
	}
	e.logger.Info("correction recorded", "session", st.SessionID, "key", applied.Key)

	return Update{
		Query:       &applied.Query,
		Correction:  &applied,
		Corrections: &corrections,
	}, nil
}

// modelSelector resolves the provider and builds the provider-bound prompt.
func (e *Executor) modelSelector(ctx context.Context, st *TurnState) (Update, error) {
	sel := e.selector.Resolve(ctx, st.Query, st.Override)

	name := sel.Provider
	if _, ok := e.providers.Get(name); !ok && e.opts.DefaultProvider != "" {
		e.logger.Warn("selected provider unavailable, using default", "provider", name, "default", e.opts.DefaultProvider)
		name = strings.ToLower(e.opts.DefaultProvider)
	}
	e.logger.Debug("provider selected", "session", st.SessionID, "provider", name, "class", sel.Class, "command", sel.Command)

	return Update{
		Provider: &name,
		Class:    &sel.Class,
		Override: &sel.Override,
		Pending:  e.composer.Compose(st.Corrections, st.History, st.Query),
	}, nil
}

// commit persists the user input, the answer and a changed override in one
// transaction. Nothing is written for a cancelled turn.
func (e *Executor) commit(ctx context.Context, st *TurnState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sctx, cancel := e.storageCtx(ctx)
	defer cancel()

	var meta map[string]string
	if st.Override != st.Session.Metadata[storage.MetaModelOverride] {
		meta = map[string]string{storage.MetaModelOverride: st.Override}
	}
	if err := e.store.AppendTurn(sctx, st.SessionID, st.Input, st.Answer, meta); err != nil {
		return fmt.Errorf("persisting turn: %w", err)
	}

	st.apply(Update{History: []storage.Message{
		{SessionID: st.SessionID, Role: storage.RoleUser, Content: st.Input},
		{SessionID: st.SessionID, Role: storage.RoleAssistant, Content: st.Answer},
	}})
	return nil
}
