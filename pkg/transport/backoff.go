package transport

import (
	"math/rand/v2"
	"time"
)

// Backoff defaults for re-establishing a lost subscription.
const (
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
	DefaultBackoffFactor  = 2.0
	DefaultBackoffJitter  = 0.25
)

// BackoffConfig tunes a Backoff.
type BackoffConfig struct {
	// Initial is the first delay (default: 1s).
	Initial time.Duration

	// Max caps the delay (default: 60s).
	Max time.Duration

	// Multiplier grows the delay after each attempt (default: 2).
	Multiplier float64

	// Jitter is the maximum extra delay as a fraction of the base delay.
	// Zero disables jitter.
	Jitter float64
}

// DefaultBackoffConfig returns the default backoff: 1s doubling to 60s
// with up to 25% jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    DefaultInitialBackoff,
		Max:        DefaultMaxBackoff,
		Multiplier: DefaultBackoffFactor,
		Jitter:     DefaultBackoffJitter,
	}
}

// Backoff computes exponential delays between resubscription attempts.
// It is not safe for concurrent use.
type Backoff struct {
	config   BackoffConfig
	current  time.Duration
	attempts int
}

// NewBackoff creates a backoff. Unset fields of config take the defaults.
func NewBackoff(config BackoffConfig) *Backoff {
	if config.Initial <= 0 {
		config.Initial = DefaultInitialBackoff
	}
	if config.Max <= 0 {
		config.Max = DefaultMaxBackoff
	}
	if config.Max < config.Initial {
		config.Max = config.Initial
	}
	if config.Multiplier <= 1 {
		config.Multiplier = DefaultBackoffFactor
	}
	if config.Jitter < 0 {
		config.Jitter = 0
	}
	return &Backoff{config: config, current: config.Initial}
}

// Next returns the delay before the next attempt and advances the backoff.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	if b.config.Jitter > 0 {
		delay += time.Duration(float64(delay) * b.config.Jitter * rand.Float64())
	}

	b.attempts++
	b.current = min(time.Duration(float64(b.current)*b.config.Multiplier), b.config.Max)
	return delay
}

// Reset returns to the initial delay. Call it once a subscription is
// established again.
func (b *Backoff) Reset() {
	b.current = b.config.Initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
