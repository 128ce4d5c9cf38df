package delivery_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/delivery"
	"github.com/marcelsud/webhook-outbox/webhook"
)

type sinkFunc func(ctx context.Context, a delivery.Alert)

func (f sinkFunc) Alert(ctx context.Context, a delivery.Alert) { f(ctx, a) }

func TestThresholdAlerter(t *testing.T) {
	ctx := context.Background()
	failed := func(id, sub string) webhook.Event {
		return webhook.Event{
			ID:             id,
			SubscriptionID: sub,
			EventType:      webhook.OrderCreated,
			Status:         webhook.Failed,
			Error:          &webhook.ErrorSnapshot{Message: "HTTP_500", Code: "HTTP_500"},
		}
	}

	t.Run("raises once the threshold is reached inside the window", func(t *testing.T) {
		clk := clock.NewFake(epoch)
		var alerts []delivery.Alert
		a := delivery.NewThresholdAlerter(3, 15*time.Minute, clk, zerolog.Nop(), sinkFunc(func(_ context.Context, al delivery.Alert) {
			alerts = append(alerts, al)
		}))

		a.PermanentFailure(ctx, failed("e1", "shop"))
		clk.Advance(time.Minute)
		a.PermanentFailure(ctx, failed("e2", "billing"))
		a.PermanentFailure(ctx, failed("e3", "shop"))
		assert.Empty(t, alerts)

		clk.Advance(time.Minute)
		a.PermanentFailure(ctx, failed("e4", "shop"))

		require.Len(t, alerts, 1)
		assert.Equal(t, "shop", alerts[0].SubscriptionID)
		assert.Equal(t, 3, alerts[0].Failures)
		assert.Equal(t, "e4", alerts[0].LastEventID)
		assert.Equal(t, "HTTP_500", alerts[0].LastError)

		// count resets after an alert
		a.PermanentFailure(ctx, failed("e5", "shop"))
		assert.Len(t, alerts, 1)
	})

	t.Run("failures outside the window are forgotten", func(t *testing.T) {
		clk := clock.NewFake(epoch)
		raised := 0
		a := delivery.NewThresholdAlerter(2, 15*time.Minute, clk, zerolog.Nop(), sinkFunc(func(context.Context, delivery.Alert) {
			raised++
		}))

		a.PermanentFailure(ctx, failed("e1", "shop"))
		clk.Advance(20 * time.Minute)
		a.PermanentFailure(ctx, failed("e2", "shop"))

		assert.Equal(t, 0, raised)
	})
}
