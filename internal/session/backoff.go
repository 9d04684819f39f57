package session

import "time"

// Backoff yields initial, 2*initial, 4*initial, ... capped at max. It only
// starts over after Reset.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
	tries   int
}

func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, next: initial}
}

// Next returns the delay before the next retry and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.tries++
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

func (b *Backoff) Reset() {
	b.next = b.initial
	b.tries = 0
}

// Attempts counts Next calls since the last Reset.
func (b *Backoff) Attempts() int {
	return b.tries
}

// Scheduler runs f after d. The default wraps time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
