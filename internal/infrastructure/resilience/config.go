package resilience

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// RetryPolicy is exponential backoff capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// BreakerPolicy trips once FailureRatio of at least MinRequests calls in the
// current window failed. A disabled policy never builds a breaker.
type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

// Config tunes one Executor.
type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy
}

// StoreDefaults suits the record store: a few quick retries, and a breaker
// that opens after sustained failure so scans back off fast.
func StoreDefaults() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      5,
			FailureRatio:     0.6,
			OpenTimeout:      15 * time.Second,
			HalfOpenMaxCalls: 1,
		},
	}
}

// PublishDefaults suits outcome events. The client buffers while it
// reconnects, so a failed publish is retried once and a flapping broker is
// skipped for a short while instead of stalling every decision.
func PublishDefaults() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    2,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     200 * time.Millisecond,
			Multiplier:     2,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      3,
			FailureRatio:     0.5,
			OpenTimeout:      5 * time.Second,
			HalfOpenMaxCalls: 1,
		},
	}
}

// withDefaults fills zero or out-of-range values from StoreDefaults.
func (c Config) withDefaults() Config {
	def := StoreDefaults()
	c.Retry = c.Retry.withDefaults(def.Retry)
	c.Breaker = c.Breaker.withDefaults(def.Breaker)
	return c
}

func (p RetryPolicy) withDefaults(def RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	p.MaxBackoff = max(p.MaxBackoff, p.InitialBackoff)
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// wait is the pause after the given failed attempt, counting from 1.
func (p RetryPolicy) wait(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt && d < p.MaxBackoff; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	return min(d, p.MaxBackoff)
}

func (p BreakerPolicy) withDefaults(def BreakerPolicy) BreakerPolicy {
	if p.MinRequests == 0 {
		p.MinRequests = def.MinRequests
	}
	if p.FailureRatio <= 0 || p.FailureRatio > 1 {
		p.FailureRatio = def.FailureRatio
	}
	if p.OpenTimeout <= 0 {
		p.OpenTimeout = def.OpenTimeout
	}
	if p.HalfOpenMaxCalls == 0 {
		p.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return p
}

func (p BreakerPolicy) shouldTrip(counts gobreaker.Counts) bool {
	if counts.Requests < p.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= p.FailureRatio
}
