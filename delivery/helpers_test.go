package delivery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/delivery"
	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/memory"
)

var epoch = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

const secret = "receiver-secret"

type recordingAlerter struct {
	mu     sync.Mutex
	events []webhook.Event
}

func (r *recordingAlerter) PermanentFailure(_ context.Context, ev webhook.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type harness struct {
	clock   *clock.Fake
	repo    *memory.Repository
	subs    *subscription.Loader
	svc     *webhook.Service
	worker  *delivery.Worker
	alerter *recordingAlerter
	hits    *atomic.Int32
	server  *httptest.Server
}

type harnessOption func(*delivery.Config)

// newHarness wires a worker against an httptest endpoint running handler
func newHarness(t *testing.T, handler http.HandlerFunc, opts ...harnessOption) *harness {
	t.Helper()
	hits := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	return newHarnessForURL(t, server.URL, hits, server, opts...)
}

func newHarnessForURL(t *testing.T, url string, hits *atomic.Int32, server *httptest.Server, opts ...harnessOption) *harness {
	t.Helper()
	clk := clock.NewFake(epoch)
	repo := memory.NewRepository(clk)
	subs := subscription.NewLoader()
	require.NoError(t, subs.Put(subscription.Subscription{
		ID:         "sub-1",
		URL:        url,
		Secret:     secret,
		Enabled:    true,
		Events:     []string{"*"},
		MaxRetries: 5,
	}))

	alerter := &recordingAlerter{}
	cfg := delivery.Config{
		Timeout:      2 * time.Second,
		MaxRedirects: 3,
		WorkerID:     "worker-test",
		DeliveredTTL: delivery.DefaultDeliveredTTL,
		Clock:        clk,
		Logger:       zerolog.Nop(),
		Alerter:      alerter,
		Random:       func() float64 { return 0.5 },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &harness{
		clock:   clk,
		repo:    repo,
		subs:    subs,
		svc:     webhook.NewService(repo, subs, webhook.ServiceConfig{Clock: clk, Logger: zerolog.Nop()}),
		worker:  delivery.NewWorker(repo, subs, cfg),
		alerter: alerter,
		hits:    hits,
		server:  server,
	}
}

// create stores one high priority order.created event for sub-1
func (h *harness) create(t *testing.T) webhook.Event {
	t.Helper()
	created, err := h.svc.Create(context.Background(), webhook.CreateInput{
		EventType:      webhook.OrderCreated,
		Payload:        map[string]string{"orderId": "o-1"},
		EntityType:     "order",
		EntityID:       "o-1",
		SubscriptionID: "sub-1",
		Priority:       webhook.High,
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	return created[0]
}
