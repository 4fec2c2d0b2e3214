package client

import (
	"math/rand"
	"time"
)

// backoffDelay computes base * 2^(attempt-1) + jitter, capped at max.
// The jitter is uniform in [0, base/2) to spread out retries from multiple
// clients hitting the same struggling endpoint.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	if jitterRange := int64(base / 2); jitterRange > 0 {
		d += time.Duration(rand.Int63n(jitterRange))
	}
	if d > max {
		d = max
	}
	return d
}
