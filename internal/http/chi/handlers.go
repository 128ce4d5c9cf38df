package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"

	"github.com/marcelsud/webhook-outbox/notify"
	"github.com/marcelsud/webhook-outbox/subscription"
	"github.com/marcelsud/webhook-outbox/webhook"
)

// DefaultRequestTimeout bounds every admin request except the notification stream
const DefaultRequestTimeout = 30 * time.Second

// StreamHub is the part of the notification hub the stream endpoint needs
type StreamHub interface {
	AddClient(id string, ch notify.Channel) error
	RemoveClient(id string)
}

// SubscriptionLister lists the configured subscriptions
type SubscriptionLister interface {
	List() []subscription.Subscription
}

// Options wires the optional collaborators of the admin API
type Options struct {
	Publisher      Publisher
	Hub            StreamHub
	Subscriptions  SubscriptionLister
	Metrics        http.Handler
	LogLevel       string
	RequestTimeout time.Duration
}

// Handlers sets up the admin API routes
func Handlers(ctx context.Context, webhookService webhook.UseCase, opts Options) *chi.Mux {
	logger := httplog.NewLogger("webhook-outbox", httplog.Options{
		JSON:     true,
		LogLevel: opts.LogLevel,
	})
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		// The stream outlives any request timeout
		if opts.Hub != nil {
			r.Method(http.MethodGet, "/notifications/stream", streamNotifications(opts.Hub))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))

			if opts.Publisher != nil {
				r.Method(http.MethodPost, "/events", postDomainEvent(opts.Publisher))
			}

			r.Method(http.MethodGet, "/webhook-events", listEvents(webhookService))
			r.Method(http.MethodGet, "/webhook-events/stats", getStats(webhookService))
			r.Method(http.MethodGet, "/webhook-events/timeline/{entityType}/{entityId}", getTimeline(webhookService))
			r.Method(http.MethodGet, "/webhook-events/{id}", getEvent(webhookService))
			r.Method(http.MethodPost, "/webhook-events/{id}/retry", retryEvent(webhookService))
			r.Method(http.MethodPost, "/webhook-events/{id}/cancel", cancelEvent(webhookService))

			if opts.Subscriptions != nil {
				r.Method(http.MethodGet, "/subscriptions", getSubscriptions(opts.Subscriptions))
			}
			r.Method(http.MethodPost, "/subscriptions/{id}/test", sendTest(webhookService))
		})
	})

	return r
}
