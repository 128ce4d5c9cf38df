package subscription_test

import (
	"context"
	"os"
	"testing"

	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
subscriptions:
  - id: "pos"
    url: "https://pos.example.com/webhooks"
    secret: "pos-secret"
    events: ["order.*"]
    headers:
      X-Api-Key: "abc"
    retry:
      max_retries: 3
    platform: "web"
  - id: "accounting"
    url: "https://books.example.com/hook"
    secret: "acc-secret"
    method: "put"
    events: ["payment.completed", "refund.*"]
  - id: "legacy"
    url: "https://legacy.example.com/hook"
    secret: "legacy-secret"
    enabled: false
    events: ["order.created"]
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "subscriptions-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(content)
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoader_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("success - valid subscriptions file", func(t *testing.T) {
		loader := subscription.NewLoader()
		require.NoError(t, loader.Load(writeTemp(t, validYAML)))

		assert.Len(t, loader.List(), 3)

		pos, err := loader.Get(ctx, "pos")
		require.NoError(t, err)
		assert.Equal(t, "POST", pos.Method)
		assert.True(t, pos.Enabled)
		assert.Equal(t, 3, pos.MaxRetries)
		assert.Equal(t, "abc", pos.Headers["X-Api-Key"])

		acc, err := loader.Get(ctx, "accounting")
		require.NoError(t, err)
		assert.Equal(t, "PUT", acc.Method)
		assert.Equal(t, subscription.DefaultMaxRetries, acc.MaxRetries)

		legacy, err := loader.Get(ctx, "legacy")
		require.NoError(t, err)
		assert.False(t, legacy.Enabled)
	})

	t.Run("error - file not found", func(t *testing.T) {
		err := subscription.NewLoader().Load("nonexistent.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading subscriptions file")
	})

	t.Run("error - invalid YAML", func(t *testing.T) {
		err := subscription.NewLoader().Load(writeTemp(t, `invalid yaml content: [[[`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing subscriptions YAML")
	})

	t.Run("error - duplicate id", func(t *testing.T) {
		content := `
subscriptions:
  - {id: "a", url: "https://a.example.com", secret: "s", events: ["order.created"]}
  - {id: "a", url: "https://b.example.com", secret: "s", events: ["order.created"]}
`
		err := subscription.NewLoader().Load(writeTemp(t, content))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate id a")
	})

	t.Run("failed reload keeps the previous set", func(t *testing.T) {
		loader := subscription.NewLoader()
		require.NoError(t, loader.Load(writeTemp(t, validYAML)))
		require.Error(t, loader.Parse([]byte(`subscriptions: [{id: ""}]`)))
		assert.Len(t, loader.List(), 3)
	})
}

func TestLoader_Matching(t *testing.T) {
	ctx := context.Background()
	loader := subscription.NewLoader()
	require.NoError(t, loader.Load(writeTemp(t, validYAML)))

	t.Run("wildcard filter matches and disabled subscriptions are skipped", func(t *testing.T) {
		subs, err := loader.Matching(ctx, "order.created")
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, "pos", subs[0].ID)
	})

	t.Run("no match is empty, not an error", func(t *testing.T) {
		subs, err := loader.Matching(ctx, "courier.statusChanged")
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	t.Run("toggling enabled changes matching", func(t *testing.T) {
		require.NoError(t, loader.SetEnabled("pos", false))
		subs, err := loader.Matching(ctx, "order.created")
		require.NoError(t, err)
		assert.Empty(t, subs)
		require.NoError(t, loader.SetEnabled("pos", true))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := loader.Get(ctx, "nope")
		assert.ErrorIs(t, err, subscription.ErrNotFound)
		assert.ErrorIs(t, loader.SetEnabled("nope", true), subscription.ErrNotFound)
	})
}

func TestSubscription_Validate(t *testing.T) {
	valid := func() subscription.Subscription {
		return subscription.Subscription{
			ID:      "test",
			URL:     "https://example.com/hook",
			Secret:  "s3cr3t",
			Enabled: true,
			Events:  []string{"order.created"},
			Method:  "POST",
		}
	}

	t.Run("valid subscription", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*subscription.Subscription)
		msg    string
	}{
		{"empty id", func(s *subscription.Subscription) { s.ID = "" }, "id cannot be empty"},
		{"empty url", func(s *subscription.Subscription) { s.URL = "" }, "url cannot be empty"},
		{"relative url", func(s *subscription.Subscription) { s.URL = "/hook" }, "absolute http(s) url"},
		{"get method", func(s *subscription.Subscription) { s.Method = "GET" }, "method must be"},
		{"negative retries", func(s *subscription.Subscription) { s.MaxRetries = -1 }, "max_retries cannot be negative"},
		{"empty secret", func(s *subscription.Subscription) { s.Secret = "" }, "invalid secret"},
		{"no events", func(s *subscription.Subscription) { s.Events = nil }, "events cannot be empty"},
		{"bad event", func(s *subscription.Subscription) { s.Events = []string{"bad event"} }, "invalid event"},
		{"reserved header", func(s *subscription.Subscription) {
			s.Headers = map[string]string{"x-webhook-signature": "spoof"}
		}, "is reserved"},
	}

	for _, tt := range tests {
		t.Run("error - "+tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
