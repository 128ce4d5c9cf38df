package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/webhook"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultBatchSize   = 50
	DefaultConcurrency = 10
)

// Deliverer performs one delivery attempt
type Deliverer interface {
	Deliver(ctx context.Context, id string) (webhook.Event, error)
}

// RetryConfig tunes the retry sweep
type RetryConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	Clock       clock.Clock
	Logger      zerolog.Logger
	// Heartbeat, when set, runs once per sweep to advertise this instance
	Heartbeat func(ctx context.Context) error
}

/* RetrySweeper periodically hands due events to the delivery worker
 * One event failing or panicking never stops the sweep
 */
type RetrySweeper struct {
	queue     webhook.Queue
	deliverer Deliverer

	interval    time.Duration
	batchSize   int
	concurrency int
	clock       clock.Clock
	logger      zerolog.Logger
	heartbeat   func(ctx context.Context) error
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Found     int
	Processed int
	Errors    int
}

// NewRetrySweeper creates a sweeper with defaults for unset fields
func NewRetrySweeper(queue webhook.Queue, deliverer Deliverer, cfg RetryConfig) *RetrySweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &RetrySweeper{
		queue:       queue,
		deliverer:   deliverer,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		heartbeat:   cfg.Heartbeat,
	}
}

// Run sweeps immediately and then every interval until ctx is cancelled
func (s *RetrySweeper) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Int("batch_size", s.batchSize).Msg("retry scheduler started")
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("retry sweep failed")
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("retry scheduler stopped")
			return nil
		case <-s.clock.After(s.interval):
		}
	}
}

// Sweep delivers up to one batch of due events with bounded concurrency
func (s *RetrySweeper) Sweep(ctx context.Context) (SweepResult, error) {
	if s.heartbeat != nil {
		if err := s.heartbeat(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("sending scheduler heartbeat")
		}
	}

	due, err := s.queue.FindDue(ctx, s.clock.Now(), s.batchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("finding due events: %w", err)
	}
	if len(due) == 0 {
		return SweepResult{}, nil
	}

	var processed, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, ev := range due {
		g.Go(func() error {
			if err := s.deliver(ctx, ev.ID); err != nil {
				failed.Add(1)
				s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("retry delivery failed")
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := SweepResult{Found: len(due), Processed: int(processed.Load()), Errors: int(failed.Load())}
	s.logger.Debug().Int("found", res.Found).Int("processed", res.Processed).Int("errors", res.Errors).Msg("retry sweep finished")
	return res, nil
}

func (s *RetrySweeper) deliver(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic delivering event: %v", r)
		}
	}()
	_, err = s.deliverer.Deliver(ctx, id)
	return err
}
