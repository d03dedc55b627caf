// Package backoff computes exponential retry delays with jitter for the
// change-stream reconnect loop.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// DefaultPolicy suits a database listening session: quick first retry,
// capped well below anything a human would notice in logs.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Duration returns the delay before the given attempt. Attempts start
// at 1.
func (p Policy) Duration(attempt int) time.Duration {
	return p.durationWithRand(attempt, rand.Float64())
}

func (p Policy) durationWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * random
	total := math.Min(float64(p.Max), base+jitter)
	return time.Duration(total)
}
