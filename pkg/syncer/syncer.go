// Package syncer runs the batch import of bank emails into expenses for one
// user at a time.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/dedup"
	"github.com/ArionMiles/bankmail/pkg/extract"
)

// DefaultCooldown is the minimum gap between two auto syncs of a user.
const DefaultCooldown = 5 * time.Minute

// Options tune a sync. Zero values take defaults.
type Options struct {
	Cooldown       time.Duration
	Concurrency    int
	FetchTimeout   time.Duration
	PersistTimeout time.Duration
	// Attempts applies to fetch and to every insert.
	Attempts   uint
	RetryDelay time.Duration
	Now        func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.GOMAXPROCS(0)
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = time.Minute
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 10 * time.Second
	}
	if o.Attempts == 0 {
		o.Attempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Deps are the collaborators of an Orchestrator. Source may be nil, in which
// case every request must carry its emails.
type Deps struct {
	Engine   *extract.Engine
	Dedup    *dedup.Policy
	Source   api.EmailSource
	Configs  api.ConfigStore
	Expenses api.ExpenseStore
	State    api.SyncStateStore
	Logger   *slog.Logger
}

// Request describes one sync invocation.
type Request struct {
	UserID string
	Period api.Period
	// Emails, when non-nil, replace fetching from the source.
	Emails []api.EmailMessage
	Mode   api.SyncMode
}

// Orchestrator drives Fetching, Processing and Persisting for a user.
type Orchestrator struct {
	deps   Deps
	opts   Options
	locks  *keyedMutex
	logger *slog.Logger
}

// New creates an orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if deps.Configs == nil || deps.Expenses == nil || deps.State == nil {
		return nil, errors.New("config, expense and sync state stores are required")
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.New(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()

	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		locks:  newKeyedMutex(),
		logger: logger.With("component", "syncer"),
	}, nil
}

type phase string

const (
	phaseFetching   phase = "fetching"
	phaseProcessing phase = "processing"
	phasePersisting phase = "persisting"
	phaseDone       phase = "done"
	phaseFailed     phase = "failed"
	phaseCooldown   phase = "skipped_cooldown"
)

// Sync imports the user's emails of req.Period. Syncs of the same user run
// one at a time; different users never wait on each other.
//
// Only a source failure (api.ErrSourceUnavailable), a store failure before
// processing, or cancellation return an error. Per-email failures are counted
// as skipped.
func (o *Orchestrator) Sync(ctx context.Context, req Request) (*api.SyncSummary, error) {
	if req.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if req.Mode == "" {
		req.Mode = api.SyncManual
	}
	logger := o.logger.With("user_id", req.UserID, "period", req.Period.String(), "mode", string(req.Mode))

	unlock := o.locks.Lock(req.UserID)
	defer unlock()

	now := o.opts.Now()
	if req.Mode == api.SyncAuto {
		last, err := o.deps.State.LastSync(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("reading last sync: %w", err)
		}
		if !last.IsZero() && now.Sub(last) < o.opts.Cooldown {
			logger.Info("sync state", "state", phaseCooldown, "last_sync", last)
			return &api.SyncSummary{State: api.SyncStateSkippedCooldown}, nil
		}
	}

	logger.Debug("sync state", "state", phaseFetching)
	emails, err := o.fetch(ctx, req)
	if err != nil {
		logger.Error("sync state", "state", phaseFailed, "error", err)
		return nil, err
	}

	configs, err := o.deps.Configs.ListConfigs(ctx, req.UserID)
	if err != nil {
		logger.Error("sync state", "state", phaseFailed, "error", err)
		return nil, fmt.Errorf("listing configs: %w", err)
	}

	logger.Debug("sync state", "state", phaseProcessing, "emails", len(emails), "configs", len(configs))
	results, err := o.process(ctx, emails, configs)
	if err != nil {
		logger.Warn("sync state", "state", phaseFailed, "error", err)
		return nil, err
	}

	logger.Debug("sync state", "state", phasePersisting)
	summary, err := o.persist(ctx, logger, req.UserID, results)
	if err != nil {
		logger.Warn("sync state", "state", phaseFailed, "error", err)
		return nil, err
	}
	summary.EmailsChecked = len(emails)

	if err := o.deps.State.SetLastSync(ctx, req.UserID, now); err != nil {
		logger.Error("recording last sync", "error", err)
	}

	logger.Info("sync state",
		"state", phaseDone,
		"emails_checked", summary.EmailsChecked,
		"added", summary.NewExpensesAdded,
		"skipped", summary.Skipped,
		"duplicates", summary.Duplicates,
	)
	return summary, nil
}

// LastSync returns the user's last completed sync, zero if none.
func (o *Orchestrator) LastSync(ctx context.Context, userID string) (time.Time, error) {
	return o.deps.State.LastSync(ctx, userID)
}

func (o *Orchestrator) fetch(ctx context.Context, req Request) ([]api.EmailMessage, error) {
	if req.Emails != nil {
		return req.Emails, nil
	}
	if o.deps.Source == nil {
		return nil, fmt.Errorf("%w: no email source configured", api.ErrSourceUnavailable)
	}

	var emails []api.EmailMessage
	err := retry.Do(
		func() error {
			fctx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
			defer cancel()

			var err error
			emails, err = o.deps.Source.Fetch(fctx, req.UserID, req.Period)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(o.opts.Attempts),
		retry.Delay(o.opts.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", api.ErrSourceUnavailable, err)
	}
	return emails, nil
}

// process runs the engine over emails with bounded fan-out, keeping input order.
func (o *Orchestrator) process(ctx context.Context, emails []api.EmailMessage, configs []api.BankEmailConfig) ([]api.ExtractionResult, error) {
	results := make([]api.ExtractionResult, len(emails))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for i := range emails {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = o.deps.Engine.Process(emails[i], configs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (o *Orchestrator) persist(ctx context.Context, logger *slog.Logger, userID string, results []api.ExtractionResult) (*api.SyncSummary, error) {
	summary := &api.SyncSummary{State: api.SyncStateDone}

	existing, err := o.existingFor(ctx, userID, results)
	if err != nil {
		return nil, err
	}

	for _, res := range results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !res.Extracted() {
			summary.Skipped++
			logger.Debug("email skipped", "message_id", res.MessageID, "outcome", string(res.Outcome), "reason", res.Reason)
			continue
		}

		exp := o.newExpense(userID, res)
		if o.deps.Dedup.IsDuplicate(exp, existing) {
			summary.Skipped++
			summary.Duplicates++
			logger.Debug("duplicate expense", "message_id", res.MessageID, "amount", exp.Amount.String())
			continue
		}

		err := o.insert(ctx, &exp)
		switch {
		case err == nil:
			existing = append(existing, exp)
			summary.NewExpensesAdded++
		case errors.Is(err, api.ErrPersistenceConflict):
			summary.Skipped++
			summary.Duplicates++
			logger.Debug("expense rejected by store", "message_id", res.MessageID)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			summary.Skipped++
			logger.Warn("failed to persist expense", "message_id", res.MessageID, "error", err)
		}
	}
	return summary, nil
}

// existingFor lists the stored expenses covering every day the results touch.
func (o *Orchestrator) existingFor(ctx context.Context, userID string, results []api.ExtractionResult) ([]api.Expense, error) {
	var from, to time.Time
	for _, res := range results {
		if !res.Extracted() {
			continue
		}
		start, end := o.deps.Dedup.DayBounds(o.expenseDate(res))
		if from.IsZero() || start.Before(from) {
			from = start
		}
		if end.After(to) {
			to = end
		}
	}
	if from.IsZero() {
		return nil, nil
	}

	existing, err := o.deps.Expenses.ListExpenses(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	return existing, nil
}

func (o *Orchestrator) insert(ctx context.Context, exp *api.Expense) error {
	return retry.Do(
		func() error {
			pctx, cancel := context.WithTimeout(ctx, o.opts.PersistTimeout)
			defer cancel()
			return o.deps.Expenses.InsertIfNotDuplicate(pctx, exp, o.deps.Dedup.Check())
		},
		retry.Context(ctx),
		retry.Attempts(o.opts.Attempts),
		retry.Delay(o.opts.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && !errors.Is(err, api.ErrPersistenceConflict)
		}),
	)
}

func (o *Orchestrator) newExpense(userID string, res api.ExtractionResult) api.Expense {
	return api.Expense{
		ID:              uuid.NewString(),
		UserID:          userID,
		Amount:          res.Amount,
		Description:     res.Description,
		BankName:        res.BankName,
		TransactionType: res.TransactionType,
		Category:        res.Category,
		Date:            o.expenseDate(res),
		Source:          api.SourceEmail,
		MessageID:       res.MessageID,
		ConfigID:        res.MatchedConfigID,
		CreatedAt:       o.opts.Now().UTC(),
	}
}

func (o *Orchestrator) expenseDate(res api.ExtractionResult) time.Time {
	if res.ReceivedAt.IsZero() {
		return o.opts.Now()
	}
	return res.ReceivedAt
}
