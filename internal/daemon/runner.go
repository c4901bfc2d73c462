// Package daemon runs the periodic auto sync of every user.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/syncer"
)

// Syncer runs one sync request.
type Syncer interface {
	Sync(ctx context.Context, req syncer.Request) (*api.SyncSummary, error)
}

// UserLister enumerates the users that own configs.
type UserLister interface {
	ListUsers(ctx context.Context) ([]string, error)
}

// Config controls the schedule.
type Config struct {
	Interval time.Duration
	// Location defines the current month. Defaults to UTC.
	Location *time.Location
	Now      func() time.Time
}

// Runner triggers an auto sync of the current month for each user on every
// tick. The sync cooldown still applies, so a tick shortly after a manual
// sync is a no-op for that user.
type Runner struct {
	syncer Syncer
	users  UserLister
	cfg    Config
	logger *slog.Logger
}

// New creates a runner.
func New(s Syncer, users UserLister, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		syncer: s,
		users:  users,
		cfg:    cfg,
		logger: logger.With("component", "daemon"),
	}
}

// Run ticks until ctx is canceled. The first round starts immediately.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("auto sync started", "interval", r.cfg.Interval)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("auto sync stopped", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// Round is the outcome of one RunOnce call.
type Round struct {
	Users   int
	Synced  int
	Skipped int
	Failed  int
}

// RunOnce auto-syncs every user once. Failures are logged and counted; they
// never stop the round.
func (r *Runner) RunOnce(ctx context.Context) Round {
	var round Round

	users, err := r.users.ListUsers(ctx)
	if err != nil {
		r.logger.Error("listing users", "error", err)
		return round
	}
	round.Users = len(users)
	period := api.CurrentMonth(r.cfg.Now().In(r.cfg.Location))

	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		summary, err := r.syncer.Sync(ctx, syncer.Request{UserID: userID, Period: period, Mode: api.SyncAuto})
		switch {
		case err != nil:
			round.Failed++
			level := slog.LevelError
			if errors.Is(err, context.Canceled) {
				level = slog.LevelDebug
			}
			r.logger.Log(ctx, level, "auto sync failed", "user_id", userID, "error", err)
		case summary.State == api.SyncStateSkippedCooldown:
			round.Skipped++
		default:
			round.Synced++
			r.logger.Debug("auto sync done", "user_id", userID, "added", summary.NewExpensesAdded)
		}
	}

	r.logger.Info("auto sync round complete",
		"users", round.Users,
		"synced", round.Synced,
		"skipped", round.Skipped,
		"failed", round.Failed,
	)
	return round
}
