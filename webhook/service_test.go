package webhook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/events"
	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/memory"
	"github.com/marcelsud/webhook-outbox/webhook/mocks"
	"github.com/marcelsud/webhook-outbox/webhook/payload"
	"github.com/marcelsud/webhook-outbox/webhook/signature"
)

var epoch = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

const subscriptionsYAML = `
subscriptions:
  - id: shop
    url: https://shop.example.com/hooks
    secret: shop-secret
    events: ["order.*"]
    headers:
      Authorization: Bearer abc
  - id: billing
    url: https://billing.example.com/hooks
    secret: billing-secret
    events: ["payment.*", "refund.*"]
    retry:
      max_retries: 3
  - id: off
    url: https://off.example.com/hooks
    secret: off-secret
    enabled: false
    events: ["*"]
`

func newSubscriptions(t *testing.T) *subscription.Loader {
	t.Helper()
	subs := subscription.NewLoader()
	require.NoError(t, subs.Parse([]byte(subscriptionsYAML)))
	return subs
}

type fixture struct {
	clock *clock.Fake
	repo  *memory.Repository
	subs  *subscription.Loader
	svc   *webhook.Service
}

func newFixture(t *testing.T, deliverer webhook.Deliverer) fixture {
	t.Helper()
	clk := clock.NewFake(epoch)
	repo := memory.NewRepository(clk)
	subs := newSubscriptions(t)
	svc := webhook.NewService(repo, subs, webhook.ServiceConfig{
		Clock:     clk,
		Logger:    zerolog.Nop(),
		Deliverer: deliverer,
		Platform:  "web",
		Instance:  "api-1",
	})
	return fixture{clock: clk, repo: repo, subs: subs, svc: svc}
}

func orderInput() webhook.CreateInput {
	return webhook.CreateInput{
		EventType:  webhook.OrderCreated,
		Payload:    map[string]any{"orderId": "o-1", "total": 42.5},
		EntityType: "order",
		EntityID:   "o-1",
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("success - fans out to enabled matching subscriptions", func(t *testing.T) {
		f := newFixture(t, nil)

		created, err := f.svc.Create(ctx, orderInput())

		require.NoError(t, err)
		require.Len(t, created, 1)
		ev := created[0]
		assert.Equal(t, "shop", ev.SubscriptionID)
		assert.Equal(t, webhook.Pending, ev.Status)
		assert.Equal(t, 0, ev.RetryCount)
		assert.Equal(t, subscription.DefaultMaxRetries, ev.MaxRetries)
		assert.Equal(t, epoch.Add(webhook.DefaultNormalDelay), ev.NextRetryAt)
		assert.Equal(t, "https://shop.example.com/hooks", ev.URL)
		assert.Equal(t, "POST", ev.Method)
		assert.Equal(t, "web", ev.Metadata.Platform)
		assert.Equal(t, "api-1", ev.Metadata.ServerInstance)
		assert.Equal(t, signature.Method, ev.SignatureMethod)
	})

	t.Run("success - headers and signature", func(t *testing.T) {
		f := newFixture(t, nil)

		created, err := f.svc.Create(ctx, orderInput())
		require.NoError(t, err)
		ev := created[0]

		assert.Equal(t, "application/json", ev.Headers["Content-Type"])
		assert.Equal(t, "Bearer abc", ev.Headers["Authorization"])
		assert.Equal(t, "order.created", ev.Headers["X-Webhook-Event"])
		assert.Equal(t, ev.IdempotencyKey, ev.Headers["X-Webhook-Id"])
		assert.Equal(t, "1", ev.Headers["X-Webhook-Delivery-Attempt"])
		assert.Equal(t, signature.FormatTimestamp(epoch), ev.Headers["X-Webhook-Timestamp"])
		assert.Equal(t, ev.Signature, ev.Headers["X-Webhook-Signature"])

		secret, err := signature.NewSecret("shop-secret")
		require.NoError(t, err)
		assert.True(t, signature.Verify(secret, epoch, ev.Payload, ev.Signature))
	})

	t.Run("success - payload envelope", func(t *testing.T) {
		f := newFixture(t, nil)
		in := orderInput()
		in.CorrelationID = "corr-9"

		created, err := f.svc.Create(ctx, in)
		require.NoError(t, err)

		env, err := payload.Parse(created[0].Payload)
		require.NoError(t, err)
		assert.Equal(t, "order.created", env.Event)
		assert.Equal(t, created[0].ID, env.Metadata.DeliveryID)
		assert.Equal(t, "order", env.Metadata.EntityType)
		assert.Equal(t, "o-1", env.Metadata.EntityID)
		assert.Equal(t, "shop", env.Metadata.SubscriptionID)
		assert.Equal(t, "corr-9", env.Metadata.CorrelationID)
		assert.JSONEq(t, `{"orderId":"o-1","total":42.5}`, string(env.Data))
	})

	t.Run("success - subscription settings", func(t *testing.T) {
		f := newFixture(t, nil)
		in := orderInput()
		in.EventType = webhook.PaymentCompleted
		in.EntityType = "payment"

		created, err := f.svc.Create(ctx, in)

		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, "billing", created[0].SubscriptionID)
		assert.Equal(t, 3, created[0].MaxRetries)
	})

	t.Run("success - explicit zero retries is kept", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.subs.Parse([]byte(`
subscriptions:
  - id: once
    url: https://once.example.com/hooks
    secret: once-secret
    events: ["order.*"]
    retry:
      max_retries: 0
`)))

		created, err := f.svc.Create(ctx, orderInput())

		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, "once", created[0].SubscriptionID)
		assert.Equal(t, 0, created[0].MaxRetries)
	})

	t.Run("no matching subscription returns empty", func(t *testing.T) {
		f := newFixture(t, nil)
		in := orderInput()
		in.EventType = webhook.CourierStatusChanged
		in.EntityType = "courier"

		created, err := f.svc.Create(ctx, in)

		require.NoError(t, err)
		assert.Empty(t, created)
	})

	t.Run("high priority dispatches immediately", func(t *testing.T) {
		deliverer := mocks.NewDeliverer(t)
		f := newFixture(t, deliverer)
		deliverer.On("Deliver", mock.Anything, mock.AnythingOfType("string")).
			Return(webhook.Event{}, nil).Once()

		in := orderInput()
		in.Priority = webhook.High
		created, err := f.svc.Create(ctx, in)
		f.svc.Wait()

		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, epoch, created[0].NextRetryAt)
		deliverer.AssertCalled(t, "Deliver", mock.Anything, created[0].ID)
	})

	t.Run("normal priority waits for scheduler", func(t *testing.T) {
		deliverer := mocks.NewDeliverer(t)
		f := newFixture(t, deliverer)

		_, err := f.svc.Create(ctx, orderInput())
		f.svc.Wait()

		require.NoError(t, err)
		deliverer.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
	})

	t.Run("dispatch failure does not fail creation", func(t *testing.T) {
		deliverer := mocks.NewDeliverer(t)
		f := newFixture(t, deliverer)
		deliverer.On("Deliver", mock.Anything, mock.Anything).
			Return(webhook.Event{}, errors.New("boom")).Once()

		in := orderInput()
		in.Priority = webhook.High
		created, err := f.svc.Create(ctx, in)
		f.svc.Wait()

		require.NoError(t, err)
		assert.Len(t, created, 1)
	})

	t.Run("idempotent - same key returns same record and dispatches once", func(t *testing.T) {
		deliverer := mocks.NewDeliverer(t)
		f := newFixture(t, deliverer)
		deliverer.On("Deliver", mock.Anything, mock.Anything).Return(webhook.Event{}, nil).Once()

		in := orderInput()
		in.Priority = webhook.High
		in.IdempotencyKey = "order-o-1-created"

		first, err := f.svc.Create(ctx, in)
		require.NoError(t, err)
		second, err := f.svc.Create(ctx, in)
		require.NoError(t, err)
		f.svc.Wait()

		require.Len(t, first, 1)
		require.Len(t, second, 1)
		assert.Equal(t, first[0].ID, second[0].ID)
		assert.Equal(t, "order-o-1-created:shop", first[0].IdempotencyKey)
		assert.Equal(t, "order-o-1-created:shop", first[0].Headers["X-Webhook-Id"])

		_, total, err := f.repo.List(ctx, webhook.Filter{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("targeted subscription bypasses filter and enabled flag", func(t *testing.T) {
		f := newFixture(t, nil)
		in := orderInput()
		in.SubscriptionID = "off"

		created, err := f.svc.Create(ctx, in)

		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, "off", created[0].SubscriptionID)
	})

	t.Run("unknown targeted subscription", func(t *testing.T) {
		f := newFixture(t, nil)
		in := orderInput()
		in.SubscriptionID = "missing"

		_, err := f.svc.Create(ctx, in)

		assert.ErrorIs(t, err, webhook.ErrNotFound)
	})

	t.Run("validation errors", func(t *testing.T) {
		f := newFixture(t, nil)
		cases := map[string]func(*webhook.CreateInput){
			"unknown event type": func(in *webhook.CreateInput) { in.EventType = "order.exploded" },
			"missing entity id":  func(in *webhook.CreateInput) { in.EntityID = "" },
			"missing payload":    func(in *webhook.CreateInput) { in.Payload = nil },
			"invalid priority":   func(in *webhook.CreateInput) { in.Priority = webhook.Priority(9) },
		}
		for name, mutate := range cases {
			t.Run(name, func(t *testing.T) {
				in := orderInput()
				mutate(&in)

				_, err := f.svc.Create(ctx, in)

				assert.ErrorIs(t, err, webhook.ErrValidation)
			})
		}
	})

	t.Run("repository error", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		svc := webhook.NewService(repo, newSubscriptions(t), webhook.ServiceConfig{
			Clock:  clock.NewFake(epoch),
			Logger: zerolog.Nop(),
		})
		repo.On("Create", ctx, webhook.MatchEvent(func(ev webhook.Event) bool {
			return ev.SubscriptionID == "shop" && ev.Status == webhook.Pending
		})).Return(webhook.Event{}, false, errors.New("redis down"))

		_, err := svc.Create(ctx, orderInput())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "storing webhook event")
	})
}

func TestHandleEvent(t *testing.T) {
	ctx := events.WithCorrelationID(context.Background(), "corr-1")
	deliverer := mocks.NewDeliverer(t)
	f := newFixture(t, deliverer)
	deliverer.On("Deliver", mock.Anything, mock.Anything).Return(webhook.Event{}, nil)

	err := f.svc.HandleEvent(ctx, events.OrderCreated{OrderID: "o-7", OrderNumber: "1007", Total: 10})
	f.svc.Wait()
	require.NoError(t, err)

	items, err := f.repo.ListByEntity(ctx, "order", "o-7")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, webhook.OrderCreated, items[0].EventType)
	assert.Equal(t, "corr-1", items[0].Metadata.CorrelationID)
	assert.Equal(t, epoch, items[0].NextRetryAt, "order.created is high priority")
}

func seed(t *testing.T, f fixture, status webhook.Status) webhook.Event {
	t.Helper()
	created, err := f.svc.Create(context.Background(), orderInput())
	require.NoError(t, err)
	ev := created[0]
	ev.Status = status
	require.NoError(t, f.repo.Save(context.Background(), ev))
	return ev
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("success - failed event is reset", func(t *testing.T) {
		f := newFixture(t, nil)
		ev := seed(t, f, webhook.Failed)
		ev.RetryCount = 5
		ev.FailedAt = epoch
		require.NoError(t, f.repo.Save(ctx, ev))
		f.clock.Advance(time.Hour)

		got, err := f.svc.Retry(ctx, ev.ID)

		require.NoError(t, err)
		assert.Equal(t, webhook.Pending, got.Status)
		assert.Equal(t, 0, got.RetryCount)
		assert.Equal(t, epoch.Add(time.Hour), got.NextRetryAt)
		assert.True(t, got.FailedAt.IsZero())

		stored, err := f.repo.Get(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.Pending, stored.Status)
	})

	t.Run("pending event is moved forward", func(t *testing.T) {
		f := newFixture(t, nil)
		ev := seed(t, f, webhook.Pending)

		got, err := f.svc.Retry(ctx, ev.ID)

		require.NoError(t, err)
		assert.Equal(t, epoch, got.NextRetryAt)
	})

	for _, status := range []webhook.Status{webhook.Delivered, webhook.Cancelled, webhook.Sending} {
		t.Run("rejects "+status.String(), func(t *testing.T) {
			f := newFixture(t, nil)
			ev := seed(t, f, status)

			got, err := f.svc.Retry(ctx, ev.ID)

			assert.ErrorIs(t, err, webhook.ErrInvalidState)
			assert.Equal(t, status, got.Status)
		})
	}

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.svc.Retry(ctx, "missing")

		assert.ErrorIs(t, err, webhook.ErrNotFound)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	for _, status := range []webhook.Status{webhook.Pending, webhook.Sending} {
		t.Run("success - "+status.String(), func(t *testing.T) {
			f := newFixture(t, nil)
			ev := seed(t, f, status)

			got, err := f.svc.Cancel(ctx, ev.ID, "customer request")

			require.NoError(t, err)
			assert.Equal(t, webhook.Cancelled, got.Status)
			assert.Equal(t, "customer request", got.CancelReason)
			assert.Equal(t, epoch, got.CancelledAt)
			assert.True(t, got.NextRetryAt.IsZero())
		})
	}

	for _, status := range []webhook.Status{webhook.Delivered, webhook.Failed, webhook.Cancelled} {
		t.Run("rejects "+status.String(), func(t *testing.T) {
			f := newFixture(t, nil)
			ev := seed(t, f, status)

			got, err := f.svc.Cancel(ctx, ev.ID, "too late")

			assert.ErrorIs(t, err, webhook.ErrInvalidState)
			assert.Equal(t, status, got.Status)
		})
	}

	t.Run("reason is required", func(t *testing.T) {
		f := newFixture(t, nil)
		ev := seed(t, f, webhook.Pending)

		_, err := f.svc.Cancel(ctx, ev.ID, "")

		assert.ErrorIs(t, err, webhook.ErrValidation)
	})
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	delivered := seed(t, f, webhook.Delivered)
	delivered.RequestDuration = 100 * time.Millisecond
	require.NoError(t, f.repo.Save(ctx, delivered))

	delivered2 := seed(t, f, webhook.Delivered)
	delivered2.RequestDuration = 300 * time.Millisecond
	require.NoError(t, f.repo.Save(ctx, delivered2))

	failed := seed(t, f, webhook.Failed)
	failed.FailedAt = epoch
	require.NoError(t, f.repo.Save(ctx, failed))

	seed(t, f, webhook.Pending)

	// an event outside the window
	f.clock.Set(epoch.Add(-48 * time.Hour))
	seed(t, f, webhook.Failed)
	f.clock.Set(epoch)

	st, err := f.svc.Stats(ctx, 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.ByStatus[webhook.Delivered])
	assert.Equal(t, 1, st.ByStatus[webhook.Failed])
	assert.Equal(t, 1, st.ByStatus[webhook.Pending])
	assert.Equal(t, 0, st.ByStatus[webhook.Cancelled])
	assert.Equal(t, 200*time.Millisecond, st.AvgDuration)
	assert.InDelta(t, 66.67, st.SuccessRate, 0.01)
	require.Len(t, st.RecentFailures, 1)
	assert.Equal(t, failed.ID, st.RecentFailures[0].ID)

	_, err = f.svc.Stats(ctx, 0)
	assert.ErrorIs(t, err, webhook.ErrValidation)
}

func TestTimeline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first := seed(t, f, webhook.Delivered)
	f.clock.Advance(time.Minute)
	in := orderInput()
	in.EventType = webhook.OrderStatusChanged
	second, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	items, err := f.svc.Timeline(ctx, "order", "o-1")

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, second[0].ID, items[1].ID)

	_, err = f.svc.Timeline(ctx, "order", "")
	assert.ErrorIs(t, err, webhook.ErrValidation)
}

func TestSendTest(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		deliverer := mocks.NewDeliverer(t)
		f := newFixture(t, deliverer)
		deliverer.On("Deliver", mock.Anything, mock.Anything).Return(webhook.Event{}, nil).Once()

		ev, err := f.svc.SendTest(ctx, "billing")
		f.svc.Wait()

		require.NoError(t, err)
		assert.Equal(t, webhook.TestEvent, ev.EventType)
		assert.Equal(t, "billing", ev.SubscriptionID)

		env, err := payload.Parse(ev.Payload)
		require.NoError(t, err)
		assert.True(t, env.Metadata.Test)
		assert.Contains(t, string(env.Data), "This is a test webhook")
	})

	t.Run("unknown subscription", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.svc.SendTest(ctx, "nope")

		assert.ErrorIs(t, err, webhook.ErrNotFound)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	for i := 0; i < 25; i++ {
		seed(t, f, webhook.Pending)
		f.clock.Advance(time.Second)
	}

	page, err := f.svc.List(ctx, webhook.Filter{Page: 2})

	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, webhook.DefaultPageSize, page.Limit)
	assert.Len(t, page.Items, 5)

	_, err = f.svc.List(ctx, webhook.Filter{SortBy: "color"})
	assert.ErrorIs(t, err, webhook.ErrValidation)
}
