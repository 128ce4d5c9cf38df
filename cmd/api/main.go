package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httplog"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/config"
	"github.com/marcelsud/webhook-outbox/delivery"
	"github.com/marcelsud/webhook-outbox/events"
	"github.com/marcelsud/webhook-outbox/internal/http/chi"
	"github.com/marcelsud/webhook-outbox/metrics"
	"github.com/marcelsud/webhook-outbox/notify"
	"github.com/marcelsud/webhook-outbox/scheduler"
	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/memory"
	"github.com/marcelsud/webhook-outbox/webhook/redis"
)

const TIMEOUT = 30 * time.Second

const (
	busWorkers   = 4
	busQueueSize = 256
)

/* The composition root: every service object is built here, wired by explicit
 * injection, started under one errgroup and stopped in reverse order
 * Imports only go one way: down. cmd imports the business layers, which import storage
 */

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
	}
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	logger := httplog.NewLogger("webhook-outbox", httplog.Options{
		JSON:     true,
		LogLevel: cfg.LogLevel,
	})

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	subs := subscription.NewLoader()
	if err := subs.Load(cfg.SubscriptionsFile); err != nil {
		return fmt.Errorf("loading subscriptions: %w", err)
	}

	workerID := fmt.Sprintf("%s-%s", cfg.InstanceID, uuid.NewString()[:8])
	st, err := openStore(cfg, workerID)
	if err != nil {
		return err
	}
	defer st.repo.Close(context.Background())

	var hub *notify.Hub
	collector := metrics.NewStoreCollector(
		st.repo,
		metrics.ClientCounterFunc(func() int { return hub.ClientCount() }),
		st.instances,
		nil,
	)
	exporter, err := metrics.NewOTelExporter(collector, nil)
	if err != nil {
		return fmt.Errorf("creating metrics exporter: %w", err)
	}
	defer exporter.Shutdown(context.Background())

	hub = notify.NewHub(notify.HubConfig{
		KeepAlive: cfg.KeepAlive(),
		Logger:    logger.With().Str("component", "notify").Logger(),
		Recorder:  exporter,
	})

	alerter := delivery.NewThresholdAlerter(
		cfg.AlertThreshold,
		cfg.AlertWindow(),
		nil,
		logger.With().Str("component", "alert").Logger(),
		hub,
	)

	worker := delivery.NewWorker(st.repo, subs, delivery.Config{
		Timeout:      cfg.DeliveryTimeout(),
		MaxRedirects: cfg.DeliveryMaxRedirects,
		WorkerID:     workerID,
		DeliveredTTL: cfg.DeliveredRetention(),
		Logger:       logger.With().Str("component", "delivery").Logger(),
		Alerter:      alerter,
		Recorder:     exporter,
	})

	service := webhook.NewService(st.repo, subs, webhook.ServiceConfig{
		Logger:    logger.With().Str("component", "webhook").Logger(),
		Deliverer: worker,
		Platform:  cfg.Platform,
		Instance:  cfg.InstanceID,
	})

	bus := events.NewBus(logger.With().Str("component", "bus").Logger(), busWorkers, busQueueSize)
	bus.Subscribe("webhooks", service.HandleEvent)
	bus.Subscribe("notifications", hub.HandleEvent)
	bus.Start()

	sweeper := scheduler.NewRetrySweeper(st.repo, worker, scheduler.RetryConfig{
		Interval:    cfg.RetryInterval(),
		BatchSize:   cfg.RetryBatchSize,
		Concurrency: cfg.RetryConcurrency,
		Logger:      logger.With().Str("component", "retry").Logger(),
		Heartbeat:   st.heartbeat,
	})

	cleanup, err := scheduler.NewCleanup(st.repo, scheduler.CleanupConfig{
		Schedule:           cfg.CleanupSchedule,
		Retention:          cfg.Retention(),
		DeliveredRetention: cfg.DeliveredRetention(),
		Logger:             logger.With().Str("component", "cleanup").Logger(),
	})
	if err != nil {
		return fmt.Errorf("creating cleanup job: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	r := chi.Handlers(gctx, service, chi.Options{
		Publisher:     bus,
		Hub:           hub,
		Subscriptions: subs,
		Metrics:       exporter.ServeHTTP(),
		LogLevel:      cfg.LogLevel,
	})
	srv := &http.Server{
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout: the notification stream is long-lived
		Addr:        ":" + cfg.Port,
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return cleanup.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Str("worker_id", workerID).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return shutdown(gctx, srv, logger) })

	err = g.Wait()

	// drain in dependency order: producers first
	bus.Close()
	service.Wait()
	hub.Close()
	return err
}

func shutdown(ctx context.Context, server *http.Server, logger zerolog.Logger) error {
	<-ctx.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	logger.Info().Msg("shutting down server")
	if err := server.Shutdown(ctxTimeout); err != nil {
		return fmt.Errorf("forcing closing the server: %w", err)
	}
	return nil
}

// store bundles the repository with the optional instance bookkeeping it supports
type store struct {
	repo      webhook.Repository
	heartbeat func(ctx context.Context) error
	instances metrics.InstanceLister
}

func openStore(cfg *config.Config, workerID string) (store, error) {
	if cfg.Store == config.StoreMemory {
		return store{repo: memory.NewRepository(clock.Real())}, nil
	}

	repo, err := redis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return store{}, err
	}
	return store{
		repo: repo,
		heartbeat: func(ctx context.Context) error {
			return repo.SetInstanceHeartbeat(ctx, cfg.InstanceID, workerID, time.Now())
		},
		instances: func(ctx context.Context) ([]metrics.InstanceInfo, error) {
			beats, err := repo.ActiveInstances(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]metrics.InstanceInfo, 0, len(beats))
			for _, b := range beats {
				out = append(out, metrics.InstanceInfo{
					InstanceID:    b.InstanceID,
					WorkerID:      b.WorkerID,
					LastHeartbeat: b.LastHeartbeat,
				})
			}
			return out, nil
		},
	}, nil
}
