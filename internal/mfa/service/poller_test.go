package service

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
)

func pendingSession() *domain.Session {
	return &domain.Session{
		ID:     "sess-1",
		Status: domain.StatusPushConfirmationRequired,
		Links: domain.ActionLinks{
			domain.ActionChallengePoll: "https://api.pingone.com/sess-1/poll",
		},
	}
}

func TestPollerRunsUntilTerminal(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sess-1/poll", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			writeSession(w, map[string]any{
				"id": "sess-1", "status": "PUSH_CONFIRMATION_REQUIRED",
				"_links": map[string]any{
					"challenge.poll": map[string]string{"href": "https://api.pingone.com/sess-1/poll"},
				},
			})
			return
		}
		writeSession(w, map[string]any{"id": "sess-1", "status": "COMPLETED"})
	})

	client, _, _ := newFlowHarness(t, mux)
	p := Poller{Interval: 10 * time.Millisecond, MaxAttempts: 10}

	final, err := p.Run(context.Background(), client, pendingSession())
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, final.Status)
	require.Equal(t, int32(3), polls.Load())
}

func TestPollerTerminalSessionNoRequests(t *testing.T) {
	t.Parallel()

	client, _, requests := newFlowHarness(t, http.NewServeMux())
	p := Poller{Interval: 10 * time.Millisecond}

	final, err := p.Run(context.Background(), client, &domain.Session{
		ID: "sess-1", Status: domain.StatusCanceled,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCanceled, final.Status)
	require.Equal(t, int32(0), requests.Load())
}

func TestPollerAttemptBudget(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sess-1/poll", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		writeSession(w, map[string]any{
			"id": "sess-1", "status": "PUSH_CONFIRMATION_REQUIRED",
			"_links": map[string]any{
				"challenge.poll": map[string]string{"href": "https://api.pingone.com/sess-1/poll"},
			},
		})
	})

	client, _, _ := newFlowHarness(t, mux)
	p := Poller{Interval: 10 * time.Millisecond, MaxAttempts: 2}

	final, err := p.Run(context.Background(), client, pendingSession())
	require.ErrorIs(t, err, ErrPollBudgetExhausted)
	require.Equal(t, domain.StatusPushConfirmationRequired, final.Status)
	require.Equal(t, int32(2), polls.Load())
}

func TestPollerTimeBudget(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sess-1/poll", func(w http.ResponseWriter, r *http.Request) {
		writeSession(w, map[string]any{
			"id": "sess-1", "status": "PUSH_CONFIRMATION_REQUIRED",
			"_links": map[string]any{
				"challenge.poll": map[string]string{"href": "https://api.pingone.com/sess-1/poll"},
			},
		})
	})

	client, _, _ := newFlowHarness(t, mux)
	p := Poller{Interval: 50 * time.Millisecond, MaxDuration: 200 * time.Millisecond}

	_, err := p.Run(context.Background(), client, pendingSession())
	require.ErrorIs(t, err, ErrPollBudgetExhausted)
}

func TestPollerCancellationDiscardsInFlight(t *testing.T) {
	t.Parallel()

	inFlight := make(chan struct{})
	release := make(chan struct{})
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sess-1/poll", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		close(inFlight)
		<-release
		writeSession(w, map[string]any{"id": "sess-1", "status": "COMPLETED"})
	})

	client, _, _ := newFlowHarness(t, mux)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		p := Poller{Interval: 10 * time.Millisecond, MaxAttempts: 50}
		_, err := p.Run(ctx, client, pendingSession())
		done <- err
	}()

	// Cancel while the first poll request is still being served.
	<-inFlight
	cancel()
	close(release)

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancellation")
	}

	// No further requests are issued once cancelled.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), polls.Load())
}

func TestPollerAppliesIntervalFloor(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sess-1/poll", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		writeSession(w, map[string]any{
			"id": "sess-1", "status": "PUSH_CONFIRMATION_REQUIRED",
			"_links": map[string]any{
				"challenge.poll": map[string]string{"href": "https://api.pingone.com/sess-1/poll"},
			},
		})
	})

	client, _, _ := newFlowHarness(t, mux)
	p := Poller{Interval: 0, MaxAttempts: 2}

	start := time.Now()
	_, err := p.Run(context.Background(), client, pendingSession())
	require.ErrorIs(t, err, ErrPollBudgetExhausted)
	// A zero interval must not tight-loop; two attempts take at least
	// two floored ticks.
	require.GreaterOrEqual(t, time.Since(start), 2*MinPollInterval)
}
