package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
)

// Kind tells the worker whether a failure is worth retrying
type Kind int

const (
	Transient Kind = iota + 1
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Failure codes persisted on the error snapshot
const (
	CodeConnRefused  = "ECONNREFUSED"
	CodeTimeout      = "ETIMEDOUT"
	CodeConnReset    = "ECONNRESET"
	CodeNotFound     = "ENOTFOUND"
	CodeConnAborted  = "ECONNABORTED"
	CodeInvalid      = "EINVALID"
	CodeRequest      = "EREQUEST"
	codeStatusPrefix = "HTTP_"
)

// Error is a classified delivery failure
type Error struct {
	Kind       Kind
	Code       string
	StatusCode int // set when the endpoint answered
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s delivery failure %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s delivery failure %s: %v", e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed on a later attempt
func (e *Error) Retryable() bool {
	return e.Kind == Transient
}

// retryableStatus lists the HTTP statuses worth another attempt
var retryableStatus = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// StatusError classifies a non-2xx response
func StatusError(status int) *Error {
	kind := Permanent
	if _, ok := retryableStatus[status]; ok {
		kind = Transient
	}
	return &Error{
		Kind:       kind,
		Code:       fmt.Sprintf("%s%d", codeStatusPrefix, status),
		StatusCode: status,
		Err:        fmt.Errorf("endpoint responded %d %s", status, http.StatusText(status)),
	}
}

// InvalidError marks failures of the record itself, never retried
func InvalidError(err error) *Error {
	return &Error{Kind: Permanent, Code: CodeInvalid, Err: err}
}

/* Classify maps a transport error onto a delivery Error
 * Connection refused, reset, aborted, DNS failures and timeouts are transient
 * Anything else (bad url, too many redirects, tls) is permanent
 */
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}

	transient := func(code string) *Error {
		return &Error{Kind: Transient, Code: code, Err: err}
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return transient(CodeConnRefused)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return transient(CodeConnReset)
	case errors.Is(err, syscall.ECONNABORTED):
		return transient(CodeConnAborted)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return transient(CodeTimeout)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return transient(CodeTimeout)
		}
		return transient(CodeNotFound)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transient(CodeTimeout)
	}

	// the peer hung up mid-response
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return transient(CodeConnReset)
	}

	return &Error{Kind: Permanent, Code: CodeRequest, Err: err}
}
