package delivery

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/marcelsud/webhook-outbox/webhook"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRedirects = 3
	// ResponseBodyLimit is how many characters of the response body are kept
	ResponseBodyLimit = 1000
	// bytes read from the wire before truncating to ResponseBodyLimit characters
	responseReadLimit = 4 * ResponseBodyLimit
)

// HTTPDoer is the part of *http.Client the worker uses
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

/* NewHTTPClient returns a client with a fixed timeout that follows at most maxRedirects
 * Redirects that would change the method (301, 302, 303 on a POST) are refused:
 * the follow-up request would drop the signed body
 */
func NewHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRedirects < 0 {
		maxRedirects = DefaultMaxRedirects
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if original := via[0].Method; req.Method != original {
				return fmt.Errorf("redirect would change method from %s to %s", original, req.Method)
			}
			return nil
		},
	}
}

// snapshot keeps the status, first header values and the head of the body
func snapshot(resp *http.Response, receivedAt time.Time) *webhook.Response {
	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
	return &webhook.Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       truncate(string(body), ResponseBodyLimit),
		ReceivedAt: receivedAt,
	}
}

// truncate cuts s to at most n characters without splitting a rune
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	var b strings.Builder
	count := 0
	for _, r := range s {
		if count == n {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}
