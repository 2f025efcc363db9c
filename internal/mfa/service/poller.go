package service

import (
	"context"
	"errors"
	"time"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
)

// ErrPollBudgetExhausted reports that polling stopped before the session
// reached a terminal state.
var ErrPollBudgetExhausted = errors.New("service: poll budget exhausted")

// MinPollInterval is the floor applied to caller-supplied intervals so a
// mistaken zero never tight-loops against the provider.
const MinPollInterval = 100 * time.Millisecond

// Poller repeatedly follows a session's challenge-poll link until the
// session turns terminal or leaves the waiting state, the attempt or
// time budget runs out, or the context is cancelled.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	MaxDuration time.Duration
}

// done reports whether the session no longer needs polling.
func pollDone(s *domain.Session) bool {
	if s.Status.Terminal() {
		return true
	}
	// Leaving the wait state (for example to COMPLETED via a confirmed
	// push) also ends polling; only active challenge waits continue.
	switch s.Status {
	case domain.StatusPushConfirmationRequired, domain.StatusAssertionRequired:
		return false
	}
	return true
}

// Run polls on behalf of the caller. A response that arrives after the
// context is cancelled is discarded in favour of the context error.
func (p Poller) Run(ctx context.Context, client *FlowClient, session *domain.Session) (*domain.Session, error) {
	interval := p.Interval
	if interval < MinPollInterval {
		interval = MinPollInterval
	}

	parent := ctx
	if p.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.MaxDuration)
		defer cancel()
	}

	// Separates caller cancellation from our own time budget expiring.
	stopErr := func() error {
		if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrPollBudgetExhausted
		}
		return ctx.Err()
	}

	current := session
	attempts := 0

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if pollDone(current) {
			return current, nil
		}
		if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
			return current, ErrPollBudgetExhausted
		}

		select {
		case <-ctx.Done():
			return current, stopErr()
		case <-ticker.C:
		}

		attempts++
		next, err := client.PollChallenge(ctx, current)
		if ctx.Err() != nil {
			// Cancelled while the request was in flight; whatever came
			// back no longer matters.
			return current, stopErr()
		}
		if err != nil {
			return current, err
		}
		current = next
	}
}
