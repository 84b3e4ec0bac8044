// Package util contains utility analyzer functionality.
package util

import (
	"fmt"
	"time"
)

const (
	initialTimeoutLowerBound = 0
	maximumTimeoutUpperBound = time.Duration(1<<62 - 1)
)

// Backoff tracks the wait between analyzer iterations. Failures double the
// timeout up to the maximum; a success resets it.
type Backoff struct {
	initialTimeout time.Duration
	currentTimeout time.Duration
	maximumTimeout time.Duration
}

// NewBackoff returns a new backoff.
func NewBackoff(initialTimeout time.Duration, maximumTimeout time.Duration) (*Backoff, error) {
	if initialTimeout <= initialTimeoutLowerBound {
		return nil, fmt.Errorf(
			"initial timeout %fs less than lower bound %ds",
			initialTimeout.Seconds(),
			initialTimeoutLowerBound,
		)
	}
	if maximumTimeout >= maximumTimeoutUpperBound {
		return nil, fmt.Errorf(
			"maximum timeout %fs greater than upper bound %fs",
			maximumTimeout.Seconds(),
			maximumTimeoutUpperBound.Seconds(),
		)
	}
	if maximumTimeout < initialTimeout {
		return nil, fmt.Errorf("maximum timeout %s less than initial timeout %s", maximumTimeout, initialTimeout)
	}
	return &Backoff{initialTimeout, initialTimeout, maximumTimeout}, nil
}

// Failure increases the backoff timeout.
func (b *Backoff) Failure() {
	b.currentTimeout *= 2
	if b.currentTimeout > b.maximumTimeout {
		b.currentTimeout = b.maximumTimeout
	}
}

// Success resets the backoff timeout.
func (b *Backoff) Success() {
	b.currentTimeout = b.initialTimeout
}

// Timeout returns the backoff timeout.
func (b *Backoff) Timeout() time.Duration {
	return b.currentTimeout
}
