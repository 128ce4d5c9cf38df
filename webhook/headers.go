package webhook

const (
	HeaderContentType = "Content-Type"
	HeaderUserAgent   = "User-Agent"
	HeaderSignature   = "X-Webhook-Signature"
	HeaderTimestamp   = "X-Webhook-Timestamp"
	HeaderEvent       = "X-Webhook-Event"
	HeaderID          = "X-Webhook-Id"
	HeaderAttempt     = "X-Webhook-Delivery-Attempt"

	ContentTypeJSON = "application/json"
	UserAgent       = "webhook-outbox/1.0"
)

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
