package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/webhook"
)

const (
	DefaultCleanupSchedule    = "0 3 * * *"
	DefaultRetention          = 90 * 24 * time.Hour
	DefaultDeliveredRetention = 30 * 24 * time.Hour
)

// CleanupConfig tunes the retention job
type CleanupConfig struct {
	// Schedule is a standard five field cron expression evaluated in the clock's zone
	Schedule           string
	Retention          time.Duration
	DeliveredRetention time.Duration // 0 keeps delivered events for the full Retention
	Clock              clock.Clock
	Logger             zerolog.Logger
}

// Cleanup deletes terminal events past their retention
type Cleanup struct {
	store              webhook.Writer
	schedule           cron.Schedule
	retention          time.Duration
	deliveredRetention time.Duration
	clock              clock.Clock
	logger             zerolog.Logger
}

// CleanupResult reports how many events one run removed
type CleanupResult struct {
	Expired   int // terminal events older than the retention
	Delivered int // delivered events older than the delivered retention
}

// NewCleanup parses the schedule and returns the job
func NewCleanup(store webhook.Writer, cfg CleanupConfig) (*Cleanup, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultCleanupSchedule
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parsing cleanup schedule %q: %w", cfg.Schedule, err)
	}
	return &Cleanup{
		store:              store,
		schedule:           schedule,
		retention:          cfg.Retention,
		deliveredRetention: cfg.DeliveredRetention,
		clock:              cfg.Clock,
		logger:             cfg.Logger,
	}, nil
}

// Next returns the first scheduled run after t
func (c *Cleanup) Next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

// Run executes the job on its schedule until ctx is cancelled
func (c *Cleanup) Run(ctx context.Context) error {
	for {
		now := c.clock.Now()
		next := c.Next(now)
		c.logger.Debug().Time("next_run", next).Msg("cleanup scheduled")

		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(next.Sub(now)):
		}

		if _, err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("cleanup failed")
		}
	}
}

// RunOnce deletes every terminal event past its retention
func (c *Cleanup) RunOnce(ctx context.Context) (CleanupResult, error) {
	now := c.clock.Now()
	var res CleanupResult

	n, err := c.store.DeleteTerminalBefore(ctx,
		[]webhook.Status{webhook.Delivered, webhook.Failed, webhook.Cancelled},
		now.Add(-c.retention))
	if err != nil {
		return res, fmt.Errorf("deleting expired events: %w", err)
	}
	res.Expired = n

	if c.deliveredRetention > 0 && c.deliveredRetention < c.retention {
		n, err = c.store.DeleteTerminalBefore(ctx, []webhook.Status{webhook.Delivered}, now.Add(-c.deliveredRetention))
		if err != nil {
			return res, fmt.Errorf("deleting delivered events: %w", err)
		}
		res.Delivered = n
	}

	c.logger.Info().Int("expired", res.Expired).Int("delivered", res.Delivered).Msg("cleanup finished")
	return res, nil
}
