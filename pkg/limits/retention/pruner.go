package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"modelbench/gatekeeper/pkg/limits/storage"
)

// MinKeepDays keeps every bucket the trailing day window can still read.
const MinKeepDays = 2

// Config contains configuration for the retention pruner.
type Config struct {
	// KeepDays is how many days of usage buckets to keep.
	// Values below MinKeepDays are raised to it.
	KeepDays int

	// Schedule is a cron expression for scheduling pruning.
	// Example: "17 * * * *" (hourly at minute 17)
	Schedule string
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		KeepDays: MinKeepDays,
		Schedule: "17 * * * *",
	}
}

// Target is another store pruned on the same schedule, e.g. the audit trail.
type Target struct {
	Name     string
	KeepDays int
	Prune    func(ctx context.Context, before time.Time) (int64, error)
}

// Pruner deletes usage buckets that no rate limit window can read anymore.
// Budget records are never pruned.
type Pruner struct {
	ledger    storage.UsageLedger
	config    *Config
	targets   []Target
	logger    *slog.Logger
	now       func() time.Time
	scheduler *Scheduler
}

// NewPruner creates a new retention pruner.
func NewPruner(ledger storage.UsageLedger, config *Config) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	if config.KeepDays < MinKeepDays {
		config.KeepDays = MinKeepDays
	}

	pruner := &Pruner{
		ledger: ledger,
		config: config,
		logger: slog.Default().With("component", "retention"),
		now:    time.Now,
	}

	pruner.scheduler = NewScheduler(pruner)

	return pruner
}

// Cutoff returns the window start before which buckets are deleted.
func (p *Pruner) Cutoff() time.Time {
	return p.now().UTC().Truncate(time.Minute).Add(-time.Duration(p.config.KeepDays) * 24 * time.Hour)
}

// AddTarget registers t. Call it before Start. A target with KeepDays below one
// keeps one day.
func (p *Pruner) AddTarget(t Target) {
	if t.KeepDays < 1 {
		t.KeepDays = 1
	}
	p.targets = append(p.targets, t)
}

// Prune deletes buckets older than KeepDays and returns how many were removed.
// Targets are pruned after the buckets; their failures are joined into the
// returned error.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.Cutoff()

	deleted, err := p.ledger.PruneBuckets(ctx, cutoff)
	if err != nil {
		err = fmt.Errorf("prune usage buckets: %w", err)
		return 0, errors.Join(err, p.pruneTargets(ctx))
	}

	if deleted == 0 {
		p.logger.Debug("no usage buckets pruned", "cutoff", cutoff)
	} else {
		p.logger.Info("usage buckets pruned",
			"deleted_count", deleted,
			"cutoff", cutoff,
			"keep_days", p.config.KeepDays,
		)
	}

	return deleted, p.pruneTargets(ctx)
}

func (p *Pruner) pruneTargets(ctx context.Context) error {
	var errs []error
	now := p.now().UTC()
	for _, t := range p.targets {
		before := now.Add(-time.Duration(t.KeepDays) * 24 * time.Hour)
		n, err := t.Prune(ctx, before)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", t.Name, err))
			continue
		}
		if n > 0 {
			p.logger.Info("records pruned",
				"target", t.Name,
				"deleted_count", n,
				"cutoff", before,
			)
		}
	}
	return errors.Join(errs...)
}

// Start begins scheduled pruning.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops scheduled pruning.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the next scheduled pruning time, nil when not scheduled.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
