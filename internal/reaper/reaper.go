package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/metrics"
	"github.com/robfig/cron/v3"
)

// PurgeFunc deletes whatever expired before now and reports how many rows
// it removed. Repository methods like DeleteExpired match it directly.
type PurgeFunc func(ctx context.Context, now time.Time) (int, error)

type target struct {
	kind  string
	purge PurgeFunc
}

// Reaper periodically purges expired pending registrations, spent OTPs and
// expired cache entries.
type Reaper struct {
	targets []target
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
}

func New(logger *slog.Logger) *Reaper {
	return &Reaper{
		logger:  logger.With("component", "reaper"),
		now:     time.Now,
		timeout: time.Minute,
	}
}

// Add registers a purge target. kind is used as the metric label.
func (r *Reaper) Add(kind string, fn PurgeFunc) *Reaper {
	r.targets = append(r.targets, target{kind: kind, purge: fn})
	return r
}

func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// Start runs a cycle on every tick of the standard cron expression schedule and
// blocks until ctx is cancelled. An in-flight cycle finishes before Start
// returns.
func (r *Reaper) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("parse purge schedule %q: %w", schedule, err)
	}

	r.logger.Info("reaper started", "schedule", schedule, "targets", len(r.targets))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("reaper shut down")
	return nil
}

// RunOnce purges every target once. A failing target is logged and does
// not stop the others. It returns the total number of purged rows.
func (r *Reaper) RunOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	start := time.Now()
	defer func() {
		metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	now := r.now()
	total := 0
	for _, t := range r.targets {
		n, err := t.purge(ctx, now)
		if err != nil {
			r.logger.ErrorContext(ctx, "purge failed", "kind", t.kind, "error", err)
			continue
		}
		if n > 0 {
			metrics.ReaperPurgedTotal.WithLabelValues(t.kind).Add(float64(n))
			r.logger.InfoContext(ctx, "purged expired rows", "kind", t.kind, "count", n)
		}
		total += n
	}
	return total
}

// ValidateSchedule reports whether schedule is a valid standard cron expression.
func ValidateSchedule(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}
