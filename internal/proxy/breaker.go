package proxy

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fluxytools/chatai/internal/completion"
)

// ErrCircuitOpen is returned without calling upstream while the breaker is open
var ErrCircuitOpen = errors.New("upstream temporarily unavailable")

// BreakerState is the circuit breaker state
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker stops calling the shared upstream after consecutive failures
// and lets a single trial request through once the cooldown has passed.
// A nil *Breaker always allows.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration

	failures int
	openedAt time.Time
	state    BreakerState
	trial    bool

	now    func() time.Time
	logger logrus.FieldLogger
}

// NewBreaker opens after threshold consecutive failures and stays open for
// cooldown. A non-positive threshold disables the breaker and returns nil.
func NewBreaker(threshold int, cooldown time.Duration, logger logrus.FieldLogger) *Breaker {
	if threshold <= 0 {
		return nil
	}
	return &Breaker{
		failureThreshold: threshold,
		cooldown:         cooldown,
		state:            StateClosed,
		now:              time.Now,
		logger:           logger.WithField("component", "breaker"),
	}
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	return b.state
}

// Allow reports whether a request may go upstream now
func (b *Breaker) Allow() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advanceLocked()
	switch b.state {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.trial {
			return ErrCircuitOpen
		}
		b.trial = true
	}
	return nil
}

// Record feeds the result of an allowed request back into the breaker
func (b *Breaker) Record(err error) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trial = false
	if !countsAsFailure(err) {
		if b.state != StateClosed {
			b.logger.Info("Upstream recovered, closing circuit")
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	switch {
	case b.state == StateHalfOpen:
		b.open()
	case b.state == StateClosed && b.failures >= b.failureThreshold:
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.logger.WithField("failures", b.failures).Warn("Opening circuit to upstream")
}

func (b *Breaker) advanceLocked() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = StateHalfOpen
		b.trial = false
	}
}

// countsAsFailure ignores client errors, which say nothing about upstream health
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *completion.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError || statusErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
