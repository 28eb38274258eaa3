package engine

import (
	"errors"
	"time"
)

// ErrBusy is returned when a bounded wait for the gate expires.
var ErrBusy = errors.New("inference engine busy")

// Gate admits one holder at a time. It is a capacity-1 channel semaphore, so
// waiters are served in no particular order.
type Gate struct {
	slot    chan struct{}
	timeout time.Duration
}

// NewGate returns an open gate. A positive timeout bounds how long Do waits
// for the slot; zero waits indefinitely.
func NewGate(timeout time.Duration) *Gate {
	return &Gate{slot: make(chan struct{}, 1), timeout: timeout}
}

// Do runs fn while holding the gate and reports how long it waited. Waiting
// is not tied to a request context; a queued call still runs
// after its caller goes away.
func (g *Gate) Do(fn func() error) (time.Duration, error) {
	start := time.Now()

	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()

		select {
		case g.slot <- struct{}{}:
		case <-timer.C:
			return time.Since(start), ErrBusy
		}
	} else {
		g.slot <- struct{}{}
	}
	defer func() { <-g.slot }()

	wait := time.Since(start)

	return wait, fn()
}
