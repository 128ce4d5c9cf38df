package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-chi/httplog"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/config"
	"github.com/marcelsud/webhook-outbox/delivery"
	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/memory"
	"github.com/marcelsud/webhook-outbox/webhook/redis"
)

/* cli - sends a synthetic webhook.test event to one subscription and waits for the first attempt
 * Usage: go run cmd/cli/main.go <subscription-id>
 */

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: cli <subscription-id>")
		os.Exit(1)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(subscriptionID string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	logger := httplog.NewLogger("webhook-outbox-cli", httplog.Options{LogLevel: cfg.LogLevel})
	ctx := context.Background()

	subs := subscription.NewLoader()
	if err := subs.Load(cfg.SubscriptionsFile); err != nil {
		return fmt.Errorf("loading subscriptions: %w", err)
	}

	var repo webhook.Repository
	if cfg.Store == config.StoreMemory {
		repo = memory.NewRepository(clock.Real())
	} else {
		r, err := redis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		repo = r
	}
	defer repo.Close(ctx)

	worker := delivery.NewWorker(repo, subs, delivery.Config{
		Timeout:      cfg.DeliveryTimeout(),
		MaxRedirects: cfg.DeliveryMaxRedirects,
		WorkerID:     cfg.InstanceID + "-cli",
		Logger:       logger,
	})
	s := webhook.NewService(repo, subs, webhook.ServiceConfig{
		Logger:    logger,
		Deliverer: worker,
		Platform:  cfg.Platform,
		Instance:  cfg.InstanceID,
	})

	ev, err := s.SendTest(ctx, subscriptionID)
	if err != nil {
		return err
	}
	s.Wait()

	ev, err = s.Get(ctx, ev.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Event:       %s\n", ev.ID)
	fmt.Printf("URL:         %s %s\n", ev.Method, ev.URL)
	fmt.Printf("Status:      %s\n", ev.Status)
	fmt.Printf("Attempts:    %d\n", ev.RetryCount+1)
	if ev.Response != nil {
		fmt.Printf("HTTP status: %d (%s)\n", ev.Response.StatusCode, ev.RequestDuration)
	}
	if ev.Error != nil {
		fmt.Printf("Error:       %s\n", ev.Error.Message)
	}
	if ev.Status == webhook.Pending {
		fmt.Printf("Next retry:  %s\n", ev.NextRetryAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
