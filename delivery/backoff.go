package delivery

import (
	"math/rand/v2"
	"time"
)

const (
	InitialDelay = time.Second
	MaxDelay     = 5 * time.Minute
	// JitterRatio bounds the random extra delay as a share of the base delay
	JitterRatio = 0.1
)

// BaseDelay returns min(MaxDelay, InitialDelay * 2^retryCount)
func BaseDelay(retryCount int) time.Duration {
	delay := InitialDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= MaxDelay {
			return MaxDelay
		}
	}
	return delay
}

/* Backoff adds jitter in [0, 10%] of the base delay
 * random must return values in [0, 1); nil uses math/rand/v2
 */
func Backoff(retryCount int, random func() float64) time.Duration {
	if random == nil {
		random = rand.Float64
	}
	base := BaseDelay(retryCount)
	jitter := time.Duration(float64(base) * JitterRatio * random())
	return base + jitter
}
