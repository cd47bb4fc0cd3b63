// Package circuitbreaker fails fast on outbound identity/OAuth provider
// calls once a provider starts timing out, instead of holding every login
// request for the full timeout.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrOpen is returned by Allow while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a per-provider circuit breaker. Consecutive failures beyond
// the threshold open it; after the cooldown one probe is let through and
// its outcome decides whether the breaker closes again.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	st       state
	failures int
	openedAt time.Time
	nowFunc  func() time.Time
}

func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		nowFunc:   time.Now,
	}
}

// Allow reports whether a call may proceed. While open it returns ErrOpen
// until the cooldown elapses, then admits a single half-open probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case stateClosed:
		return nil
	case stateOpen:
		if b.nowFunc().Sub(b.openedAt) >= b.cooldown {
			b.transition(stateHalfOpen)
			return nil
		}
		return ErrOpen
	case stateHalfOpen:
		// One probe at a time; concurrent callers wait for its verdict.
		return ErrOpen
	}
	return ErrOpen
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.st != stateClosed {
		b.transition(stateClosed)
	}
}

// RecordFailure counts a failed call; a half-open failure reopens
// immediately, a closed breaker opens at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	switch b.st {
	case stateHalfOpen:
		b.openedAt = b.nowFunc()
		b.transition(stateOpen)
	case stateClosed:
		if b.failures >= b.threshold {
			b.openedAt = b.nowFunc()
			b.transition(stateOpen)
		}
	}
}

// transition changes state; caller must hold mu.
func (b *Breaker) transition(next state) {
	old := b.st
	b.st = next
	log.Info().
		Str("provider", b.name).
		Str("old_state", old.String()).
		Str("new_state", next.String()).
		Msg("circuit breaker state transition")
}
