package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook/payload"
)

const (
	// SecretPrefix is the prefix for Standard Webhooks symmetric secrets
	SecretPrefix = "whsec_"

	// Prefix is prepended to every hex encoded signature
	Prefix = "sha256="

	// Method is the signing method recorded on every event
	Method = "hmac-sha256"

	// MinSecretBytes is the minimum recommended secret size (192 bits)
	MinSecretBytes = 24

	// MaxSecretBytes is the maximum recommended secret size (512 bits)
	MaxSecretBytes = 64

	// DefaultMaxAge is how old a signed timestamp may be before it is rejected
	DefaultMaxAge = 5 * time.Minute

	// DefaultClockSkew is how far in the future a signed timestamp may be
	DefaultClockSkew = 30 * time.Second
)

// Code identifies why a verification failed
type Code string

const (
	InvalidTimestamp Code = "INVALID_TIMESTAMP"
	FutureTimestamp  Code = "FUTURE_TIMESTAMP"
	ExpiredTimestamp Code = "EXPIRED_TIMESTAMP"
	InvalidSignature Code = "INVALID_SIGNATURE"
)

// Secret represents a subscription signing secret
type Secret struct {
	raw     []byte
	encoded string
}

// GenerateSecret creates a new cryptographically secure signing secret
// between MinSecretBytes and MaxSecretBytes in size.
func GenerateSecret(size int) (Secret, error) {
	if size < MinSecretBytes || size > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	bytes := make([]byte, size)
	if _, err := rand.Read(bytes); err != nil {
		return Secret{}, fmt.Errorf("generating random bytes: %w", err)
	}

	return Secret{
		raw:     bytes,
		encoded: SecretPrefix + base64.StdEncoding.EncodeToString(bytes),
	}, nil
}

// ParseSecret parses a base64-encoded secret with the whsec_ prefix
func ParseSecret(encoded string) (Secret, error) {
	if !strings.HasPrefix(encoded, SecretPrefix) {
		return Secret{}, fmt.Errorf("secret must start with %s prefix", SecretPrefix)
	}

	b64 := strings.TrimPrefix(encoded, SecretPrefix)
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Secret{}, fmt.Errorf("decoding base64 secret: %w", err)
	}

	if len(raw) < MinSecretBytes || len(raw) > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	return Secret{
		raw:     raw,
		encoded: encoded,
	}, nil
}

// NewSecret accepts either a whsec_ secret or a plain shared string
func NewSecret(s string) (Secret, error) {
	if strings.HasPrefix(s, SecretPrefix) {
		return ParseSecret(s)
	}
	if s == "" {
		return Secret{}, fmt.Errorf("secret cannot be empty")
	}
	return Secret{raw: []byte(s), encoded: s}, nil
}

// String returns the secret as it was configured
func (s Secret) String() string {
	return s.encoded
}

// Bytes returns the raw secret bytes
func (s Secret) Bytes() []byte {
	return s.raw
}

// FormatTimestamp renders a signing timestamp as unix seconds
func FormatTimestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// ParseTimestamp parses a unix seconds signing timestamp
func ParseTimestamp(s string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// Sign computes HMAC-SHA256 over "{timestamp}.{body}" and returns it hex
// encoded with the sha256= prefix. body must already be canonical JSON,
// which is what goes on the wire
func Sign(secret Secret, timestamp time.Time, body []byte) (string, error) {
	if len(secret.Bytes()) == 0 {
		return "", fmt.Errorf("secret cannot be empty")
	}
	return Prefix + hex.EncodeToString(digest(secret, FormatTimestamp(timestamp), body)), nil
}

// SignValue canonicalizes v before signing it
func SignValue(secret Secret, timestamp time.Time, v any) (string, error) {
	body, err := payload.Canonical(v)
	if err != nil {
		return "", fmt.Errorf("canonicalizing payload: %w", err)
	}
	return Sign(secret, timestamp, body)
}

// Verify recomputes the signature and compares it in constant time
func Verify(secret Secret, timestamp time.Time, body []byte, sig string) bool {
	if len(secret.Bytes()) == 0 || !strings.HasPrefix(sig, Prefix) {
		return false
	}

	expected, err := hex.DecodeString(strings.TrimPrefix(sig, Prefix))
	if err != nil {
		return false
	}

	return hmac.Equal(expected, digest(secret, FormatTimestamp(timestamp), body))
}

func digest(secret Secret, timestamp string, canonical []byte) []byte {
	mac := hmac.New(sha256.New, secret.Bytes())
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(canonical)
	return mac.Sum(nil)
}

// Window bounds the accepted age of a signed timestamp
type Window struct {
	MaxAge    time.Duration
	ClockSkew time.Duration
}

// DefaultWindow returns the 5 minute / 30 second replay window
func DefaultWindow() Window {
	return Window{MaxAge: DefaultMaxAge, ClockSkew: DefaultClockSkew}
}

// Result describes the outcome of a timestamp or full verification
type Result struct {
	Valid bool
	Code  Code
	Age   time.Duration
}

// ValidateTimestamp checks a header timestamp against the replay window
func ValidateTimestamp(header string, now time.Time, window Window) Result {
	ts, err := ParseTimestamp(header)
	if err != nil {
		return Result{Code: InvalidTimestamp}
	}
	return validateTime(ts, now, window)
}

func validateTime(ts, now time.Time, window Window) Result {
	if window.MaxAge <= 0 {
		window.MaxAge = DefaultMaxAge
	}
	if window.ClockSkew < 0 {
		window.ClockSkew = 0
	}

	age := now.Sub(ts)
	if age < -window.ClockSkew {
		return Result{Code: FutureTimestamp, Age: age}
	}
	if age > window.MaxAge {
		return Result{Code: ExpiredTimestamp, Age: age}
	}
	return Result{Valid: true, Age: age}
}

// VerifyAll validates the timestamp first and only then the signature
func VerifyAll(secret Secret, timestampHeader string, body []byte, sig string, now time.Time, window Window) Result {
	ts, err := ParseTimestamp(timestampHeader)
	if err != nil {
		return Result{Code: InvalidTimestamp}
	}

	res := validateTime(ts, now, window)
	if !res.Valid {
		return res
	}

	if !Verify(secret, ts, body, sig) {
		return Result{Code: InvalidSignature, Age: res.Age}
	}
	return res
}
