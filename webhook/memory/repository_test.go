package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/memory"
)

var epoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func newEvent(id, key string, createdAt time.Time) webhook.Event {
	return webhook.Event{
		ID:             id,
		IdempotencyKey: key,
		EventType:      webhook.OrderCreated,
		EntityType:     "order",
		EntityID:       "o-1",
		SubscriptionID: "sub-1",
		Status:         webhook.Pending,
		MaxRetries:     5,
		NextRetryAt:    createdAt,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("success - new event", func(t *testing.T) {
		repo := memory.NewRepository(clock.NewFake(epoch))

		ev, created, err := repo.Create(ctx, newEvent("e-1", "k-1", epoch))

		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "e-1", ev.ID)
	})

	t.Run("duplicate idempotency key returns existing", func(t *testing.T) {
		repo := memory.NewRepository(clock.NewFake(epoch))
		_, _, err := repo.Create(ctx, newEvent("e-1", "k-1", epoch))
		require.NoError(t, err)

		ev, created, err := repo.Create(ctx, newEvent("e-2", "k-1", epoch))

		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "e-1", ev.ID)

		_, err = repo.Get(ctx, "e-2")
		assert.ErrorIs(t, err, webhook.ErrNotFound)
	})

	t.Run("concurrent creates with one key store one record", func(t *testing.T) {
		repo := memory.NewRepository(clock.NewFake(epoch))

		var wg sync.WaitGroup
		var mu sync.Mutex
		createdCount := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, created, err := repo.Create(ctx, newEvent(string(rune('a'+i)), "same", epoch))
				if err == nil && created {
					mu.Lock()
					createdCount++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, createdCount)
		_, total, err := repo.List(ctx, webhook.Filter{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("missing key is rejected", func(t *testing.T) {
		repo := memory.NewRepository(clock.NewFake(epoch))

		_, _, err := repo.Create(ctx, newEvent("e-1", "", epoch))

		assert.ErrorIs(t, err, webhook.ErrValidation)
	})
}

func TestClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("success - pending becomes sending", func(t *testing.T) {
		repo := memory.NewRepository(clock.NewFake(epoch))
		_, _, err := repo.Create(ctx, newEvent("e-1", "k-1", epoch))
		require.NoError(t, err)

		ev, err := repo.Claim(ctx, "e-1", "worker-a", epoch, time.Minute)

		require.NoError(t, err)
		assert.Equal(t, webhook.Sending, ev.Status)
		assert.Equal(t, "worker-a", ev.ClaimedBy)
		assert.Equal(t, epoch.Add(time.Minute), ev.LeaseUntil)
	})

	t.Run("second claim inside lease fails", func(t *testing.T) {
		repo := memory.NewRepository(clock.NewFake(epoch))
		_, _, err := repo.Create(ctx, newEvent("e-1", "k-1", epoch))
		require.NoError(t, err)
		_, err = repo.Claim(ctx, "e-1", "worker-a", epoch, time.Minute)
		require.NoError(t, err)

		_, err = repo.Claim(ctx, "e-1", "worker-b", epoch.Add(30*time.Second), time.Minute)

		assert.ErrorIs(t, err, webhook.ErrNotClaimable)
	})

	t.Run("expired lease can be reclaimed", func(t *testing.T) {
		repo := memory.NewRepository(clock.NewFake(epoch))
		_, _, err := repo.Create(ctx, newEvent("e-1", "k-1", epoch))
		require.NoError(t, err)
		_, err = repo.Claim(ctx, "e-1", "worker-a", epoch, time.Minute)
		require.NoError(t, err)

		ev, err := repo.Claim(ctx, "e-1", "worker-b", epoch.Add(2*time.Minute), time.Minute)

		require.NoError(t, err)
		assert.Equal(t, "worker-b", ev.ClaimedBy)
	})

	t.Run("terminal events are not claimable", func(t *testing.T) {
		repo := memory.NewRepository(clock.NewFake(epoch))
		ev := newEvent("e-1", "k-1", epoch)
		ev.Status = webhook.Delivered
		_, _, err := repo.Create(ctx, ev)
		require.NoError(t, err)

		_, err = repo.Claim(ctx, "e-1", "worker-a", epoch, time.Minute)

		assert.ErrorIs(t, err, webhook.ErrNotClaimable)
	})
}

func TestSaveClaimed(t *testing.T) {
	ctx := context.Background()

	t.Run("success - owner writes the outcome", func(t *testing.T) {
		repo := memory.NewRepository(clock.NewFake(epoch))
		_, _, err := repo.Create(ctx, newEvent("e-1", "k-1", epoch))
		require.NoError(t, err)
		claimed, err := repo.Claim(ctx, "e-1", "worker-a", epoch, time.Minute)
		require.NoError(t, err)

		claimed.Status = webhook.Delivered
		claimed.ClaimedBy = ""
		saved, err := repo.SaveClaimed(ctx, claimed, "worker-a")

		require.NoError(t, err)
		assert.Equal(t, webhook.Delivered, saved.Status)
		stored, err := repo.Get(ctx, "e-1")
		require.NoError(t, err)
		assert.Equal(t, webhook.Delivered, stored.Status)
	})

	t.Run("cancel during attempt wins", func(t *testing.T) {
		repo := memory.NewRepository(clock.NewFake(epoch))
		_, _, err := repo.Create(ctx, newEvent("e-1", "k-1", epoch))
		require.NoError(t, err)
		claimed, err := repo.Claim(ctx, "e-1", "worker-a", epoch, time.Minute)
		require.NoError(t, err)

		cancelled := claimed
		cancelled.Status = webhook.Cancelled
		cancelled.CancelReason = "operator stop"
		cancelled.ClaimedBy = ""
		require.NoError(t, repo.Save(ctx, cancelled))

		retry := claimed
		retry.Status = webhook.Pending
		retry.RetryCount = 1
		kept, err := repo.SaveClaimed(ctx, retry, "worker-a")

		assert.ErrorIs(t, err, webhook.ErrLeaseLost)
		assert.Equal(t, webhook.Cancelled, kept.Status)
		assert.Equal(t, "operator stop", kept.CancelReason)
	})

	t.Run("reclaimed event rejects the old owner", func(t *testing.T) {
		repo := memory.NewRepository(clock.NewFake(epoch))
		_, _, err := repo.Create(ctx, newEvent("e-1", "k-1", epoch))
		require.NoError(t, err)
		first, err := repo.Claim(ctx, "e-1", "worker-a", epoch, time.Minute)
		require.NoError(t, err)
		_, err = repo.Claim(ctx, "e-1", "worker-b", epoch.Add(2*time.Minute), time.Minute)
		require.NoError(t, err)

		first.Status = webhook.Delivered
		kept, err := repo.SaveClaimed(ctx, first, "worker-a")

		assert.ErrorIs(t, err, webhook.ErrLeaseLost)
		assert.Equal(t, "worker-b", kept.ClaimedBy)
	})

	t.Run("missing event", func(t *testing.T) {
		repo := memory.NewRepository(clock.NewFake(epoch))

		_, err := repo.SaveClaimed(ctx, newEvent("e-1", "k-1", epoch), "worker-a")

		assert.ErrorIs(t, err, webhook.ErrNotFound)
	})
}

func TestFindDue(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository(clock.NewFake(epoch))

	due := newEvent("due", "k-due", epoch)
	later := newEvent("later", "k-later", epoch)
	later.NextRetryAt = epoch.Add(time.Hour)
	stale := newEvent("stale", "k-stale", epoch)
	stale.Status = webhook.Sending
	stale.LeaseUntil = epoch.Add(-time.Second)
	done := newEvent("done", "k-done", epoch)
	done.Status = webhook.Delivered

	for _, ev := range []webhook.Event{due, later, stale, done} {
		_, _, err := repo.Create(ctx, ev)
		require.NoError(t, err)
	}

	got, err := repo.FindDue(ctx, epoch, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, ev := range got {
		ids = append(ids, ev.ID)
	}
	assert.ElementsMatch(t, []string{"due", "stale"}, ids)

	n, err := repo.CountDue(ctx, epoch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	limited, err := repo.FindDue(ctx, epoch, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSetTTL(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(epoch)
	repo := memory.NewRepository(clk)
	_, _, err := repo.Create(ctx, newEvent("e-1", "k-1", epoch))
	require.NoError(t, err)

	require.NoError(t, repo.SetTTL(ctx, "e-1", time.Hour))

	clk.Advance(59 * time.Minute)
	_, err = repo.Get(ctx, "e-1")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	_, err = repo.Get(ctx, "e-1")
	assert.ErrorIs(t, err, webhook.ErrNotFound)

	_, err = repo.GetByIdempotencyKey(ctx, "k-1")
	assert.ErrorIs(t, err, webhook.ErrNotFound)
}

func TestDeleteTerminalBefore(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository(clock.NewFake(epoch))

	old := epoch.Add(-100 * 24 * time.Hour)
	oldDelivered := newEvent("old-delivered", "k1", old)
	oldDelivered.Status = webhook.Delivered
	oldPending := newEvent("old-pending", "k2", old)
	newFailed := newEvent("new-failed", "k3", epoch)
	newFailed.Status = webhook.Failed

	for _, ev := range []webhook.Event{oldDelivered, oldPending, newFailed} {
		_, _, err := repo.Create(ctx, ev)
		require.NoError(t, err)
	}

	n, err := repo.DeleteTerminalBefore(ctx,
		[]webhook.Status{webhook.Delivered, webhook.Failed, webhook.Cancelled, webhook.Pending},
		epoch.Add(-90*24*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = repo.Get(ctx, "old-pending")
	assert.NoError(t, err, "non-terminal events are never deleted")
	_, err = repo.Get(ctx, "new-failed")
	assert.NoError(t, err)
}

func TestListAndCount(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository(clock.NewFake(epoch))

	for i, status := range []webhook.Status{webhook.Pending, webhook.Delivered, webhook.Delivered, webhook.Failed} {
		ev := newEvent(string(rune('a'+i)), string(rune('a'+i)), epoch.Add(time.Duration(i)*time.Minute))
		ev.Status = status
		_, _, err := repo.Create(ctx, ev)
		require.NoError(t, err)
	}

	items, total, err := repo.List(ctx, webhook.Filter{Status: webhook.Delivered})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "c", items[0].ID, "newest first by default")

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[webhook.Pending])
	assert.Equal(t, 2, counts[webhook.Delivered])
	assert.Equal(t, 0, counts[webhook.Cancelled])

	timeline, err := repo.ListByEntity(ctx, "order", "o-1")
	require.NoError(t, err)
	require.Len(t, timeline, 4)
	assert.Equal(t, "a", timeline[0].ID)
}
