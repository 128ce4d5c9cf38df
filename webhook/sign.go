package webhook

import (
	"fmt"
	"strconv"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook/signature"
)

/* Signed returns a copy of the event carrying a fresh signature over its payload
 * The timestamp header, signature header and attempt header are rewritten
 * so each attempt stays inside the receiver's replay window
 */
func (e Event) Signed(secret signature.Secret, at time.Time) (Event, error) {
	sig, err := signature.Sign(secret, at, e.Payload)
	if err != nil {
		return e, fmt.Errorf("signing payload: %w", err)
	}

	e.Headers = cloneHeaders(e.Headers)
	e.Headers[HeaderSignature] = sig
	e.Headers[HeaderTimestamp] = signature.FormatTimestamp(at)
	e.Headers[HeaderAttempt] = strconv.Itoa(e.Attempt())
	e.Signature = sig
	e.SignatureMethod = signature.Method
	return e, nil
}
