package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marcelsud/webhook-outbox/webhook"
)

// subscriptionResponse never exposes the signing secret
type subscriptionResponse struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	Method     string   `json:"method"`
	Enabled    bool     `json:"enabled"`
	Events     []string `json:"events"`
	MaxRetries int      `json:"maxRetries"`
	Platform   string   `json:"platform,omitempty"`
}

// getSubscriptions handles GET /v1/subscriptions
func getSubscriptions(subs SubscriptionLister) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		all := subs.List()

		responses := make([]subscriptionResponse, 0, len(all))
		for _, s := range all {
			responses = append(responses, subscriptionResponse{
				ID:         s.ID,
				URL:        s.URL,
				Method:     s.Method,
				Enabled:    s.Enabled,
				Events:     s.Events,
				MaxRetries: s.MaxRetries,
				Platform:   s.Platform,
			})
		}
		writeJSON(w, http.StatusOK, responses)
	})
}

// sendTest handles POST /v1/subscriptions/:id/test
func sendTest(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ev, err := webhookService.SendTest(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, toEventResponse(ev))
	})
}
