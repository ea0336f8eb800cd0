// Package backoff computes retry delays for failed completion calls.
package backoff

import (
	"math/rand"
	"time"
)

const (
	DefaultBase    = 5 * time.Second
	DefaultCeiling = 120 * time.Second
	DefaultJitter  = 0.1
)

// Policy maps a consecutive-failure count to a wait duration:
// min(Base*2^attempt, Ceiling) plus a uniform jitter of up to Jitter times
// that capped value. A Policy holds no state and is safe for concurrent use
// as long as Rand is.
type Policy struct {
	Base    time.Duration
	Ceiling time.Duration
	Jitter  float64
	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{Base: DefaultBase, Ceiling: DefaultCeiling, Jitter: DefaultJitter}
}

// Delay returns the wait before retry number attempt. Negative attempts are
// treated as zero.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.capped(attempt)
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	r := p.Rand
	if r == nil {
		r = rand.Float64
	}
	return d + time.Duration(float64(d)*p.Jitter*r())
}

// Max is the upper bound of Delay for any attempt.
func (p Policy) Max() time.Duration {
	if p.Jitter <= 0 {
		return p.Ceiling
	}
	return p.Ceiling + time.Duration(float64(p.Ceiling)*p.Jitter)
}

func (p Policy) capped(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		if p.Ceiling > 0 && d >= p.Ceiling {
			break
		}
		// stop doubling before overflow
		if d > (1<<62)/2 {
			break
		}
		d *= 2
	}
	if p.Ceiling > 0 && d > p.Ceiling {
		d = p.Ceiling
	}
	return d
}
