package signature

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	t.Run("success - minimum size", func(t *testing.T) {
		secret, err := GenerateSecret(MinSecretBytes)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(secret.String(), SecretPrefix))
		assert.Equal(t, MinSecretBytes, len(secret.Bytes()))
	})

	t.Run("error - too small", func(t *testing.T) {
		_, err := GenerateSecret(MinSecretBytes - 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "secret size must be between")
	})

	t.Run("error - too large", func(t *testing.T) {
		_, err := GenerateSecret(MaxSecretBytes + 1)
		require.Error(t, err)
	})

	t.Run("randomness - generates different secrets", func(t *testing.T) {
		secret1, err1 := GenerateSecret(32)
		secret2, err2 := GenerateSecret(32)
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.NotEqual(t, secret1.String(), secret2.String())
	})
}

func TestNewSecret(t *testing.T) {
	t.Run("success - plain shared secret", func(t *testing.T) {
		secret, err := NewSecret("shhh")
		require.NoError(t, err)
		assert.Equal(t, []byte("shhh"), secret.Bytes())
	})

	t.Run("success - whsec secret is decoded", func(t *testing.T) {
		original, err := GenerateSecret(32)
		require.NoError(t, err)

		parsed, err := NewSecret(original.String())
		require.NoError(t, err)
		assert.Equal(t, original.Bytes(), parsed.Bytes())
	})

	t.Run("error - empty", func(t *testing.T) {
		_, err := NewSecret("")
		require.Error(t, err)
	})

	t.Run("error - invalid base64", func(t *testing.T) {
		_, err := NewSecret(SecretPrefix + "not-valid-base64!!!")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding base64")
	})
}

func TestSignVerify(t *testing.T) {
	secret, err := NewSecret("top-secret")
	require.NoError(t, err)

	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"data":{"orderId":"ord_1"},"event":"order.created"}`)

	t.Run("success - round trip", func(t *testing.T) {
		sig, err := Sign(secret, ts, body)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sig, Prefix))
		assert.Len(t, strings.TrimPrefix(sig, Prefix), 64)
		assert.True(t, Verify(secret, ts, body, sig))
	})

	t.Run("signs timestamp dot body", func(t *testing.T) {
		sig, err := Sign(Secret{raw: []byte("key")}, time.Unix(1704110400, 0), []byte(`{"a":1}`))
		require.NoError(t, err)
		assert.Equal(t, Prefix+hexHMAC("key", `1704110400.{"a":1}`), sig)
	})

	t.Run("failure - any payload byte mutated", func(t *testing.T) {
		sig, err := Sign(secret, ts, body)
		require.NoError(t, err)

		for i := range body {
			mutated := append([]byte(nil), body...)
			mutated[i] ^= 0x01
			assert.False(t, Verify(secret, ts, mutated, sig), "byte %d", i)
		}
	})

	t.Run("failure - any secret byte mutated", func(t *testing.T) {
		sig, err := Sign(secret, ts, body)
		require.NoError(t, err)

		raw := secret.Bytes()
		for i := range raw {
			mutated := append([]byte(nil), raw...)
			mutated[i] ^= 0x01
			assert.False(t, Verify(Secret{raw: mutated}, ts, body, sig), "byte %d", i)
		}
	})

	t.Run("failure - different timestamp", func(t *testing.T) {
		sig, err := Sign(secret, ts, body)
		require.NoError(t, err)
		assert.False(t, Verify(secret, ts.Add(time.Second), body, sig))
	})

	t.Run("failure - malformed signatures", func(t *testing.T) {
		assert.False(t, Verify(secret, ts, body, "deadbeef"))
		assert.False(t, Verify(secret, ts, body, Prefix+"zz"))
		assert.False(t, Verify(secret, ts, body, ""))
	})

	t.Run("error - empty secret", func(t *testing.T) {
		_, err := Sign(Secret{}, ts, body)
		require.Error(t, err)
	})

	t.Run("sign value canonicalizes first", func(t *testing.T) {
		a, err := SignValue(secret, ts, map[string]int{"b": 2, "a": 1})
		require.NoError(t, err)
		b, err := Sign(secret, ts, []byte(`{"a":1,"b":2}`))
		require.NoError(t, err)
		assert.Equal(t, b, a)
	})
}

func TestValidateTimestamp(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	window := DefaultWindow()

	t.Run("now is valid", func(t *testing.T) {
		res := ValidateTimestamp(FormatTimestamp(now), now, window)
		assert.True(t, res.Valid)
		assert.Equal(t, time.Duration(0), res.Age)
	})

	t.Run("six minutes old is expired", func(t *testing.T) {
		res := ValidateTimestamp(FormatTimestamp(now.Add(-6*time.Minute)), now, window)
		assert.False(t, res.Valid)
		assert.Equal(t, ExpiredTimestamp, res.Code)
		assert.Equal(t, 6*time.Minute, res.Age)
	})

	t.Run("one minute ahead is in the future", func(t *testing.T) {
		res := ValidateTimestamp(FormatTimestamp(now.Add(time.Minute)), now, window)
		assert.False(t, res.Valid)
		assert.Equal(t, FutureTimestamp, res.Code)
	})

	t.Run("within clock skew is valid", func(t *testing.T) {
		res := ValidateTimestamp(FormatTimestamp(now.Add(20*time.Second)), now, window)
		assert.True(t, res.Valid)
	})

	t.Run("unparseable is invalid", func(t *testing.T) {
		res := ValidateTimestamp("not-a-number", now, window)
		assert.False(t, res.Valid)
		assert.Equal(t, InvalidTimestamp, res.Code)
	})
}

func TestVerifyAll(t *testing.T) {
	secret, err := NewSecret("top-secret")
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"event":"order.created"}`)

	t.Run("valid", func(t *testing.T) {
		sig, err := Sign(secret, now, body)
		require.NoError(t, err)
		res := VerifyAll(secret, FormatTimestamp(now), body, sig, now.Add(time.Minute), DefaultWindow())
		assert.True(t, res.Valid)
		assert.Equal(t, time.Minute, res.Age)
	})

	t.Run("expired short-circuits before the signature", func(t *testing.T) {
		res := VerifyAll(secret, FormatTimestamp(now), body, "garbage", now.Add(10*time.Minute), DefaultWindow())
		assert.Equal(t, ExpiredTimestamp, res.Code)
	})

	t.Run("bad signature", func(t *testing.T) {
		res := VerifyAll(secret, FormatTimestamp(now), body, Prefix+"00", now, DefaultWindow())
		assert.False(t, res.Valid)
		assert.Equal(t, InvalidSignature, res.Code)
	})

	t.Run("invalid timestamp", func(t *testing.T) {
		res := VerifyAll(secret, "", body, "", now, DefaultWindow())
		assert.Equal(t, InvalidTimestamp, res.Code)
	})
}
