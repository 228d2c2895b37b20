package client

import (
	"math/rand"
	"time"
)

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 30 * time.Second
)

// backoff computes reconnect delays: exponential growth from base up to
// cap, with full jitter so a fleet of clients does not thunder back in
// lockstep.
type backoff struct {
	base    time.Duration
	cap     time.Duration
	attempt int
}

func newBackoff(base, cap time.Duration) *backoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if cap <= 0 {
		cap = defaultBackoffCap
	}
	return &backoff{base: base, cap: cap}
}

func (b *backoff) next() time.Duration {
	d := b.base << b.attempt
	if d > b.cap || d <= 0 {
		d = b.cap
	} else {
		b.attempt++
	}

	return time.Duration(rand.Int63n(int64(d)) + 1)
}

func (b *backoff) reset() {
	b.attempt = 0
}
