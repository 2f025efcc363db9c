// Package tracker records the API calls the console makes against the
// identity platform so the UI can replay a request log.
package tracker

import (
	"sync"
	"time"

	"github.com/curtismu7/mfa-console/pkg/idx"
)

// Call is one recorded request/response pair. Bodies are stored as the
// transport sent and received them, with credential material already
// redacted by the caller.
type Call struct {
	ID         idx.ID        `json:"id"`
	At         time.Time     `json:"at"`
	Method     string        `json:"method"`
	URL        string        `json:"url"`
	Status     int           `json:"status"`
	Duration   time.Duration `json:"durationMs"`
	RequestID  string        `json:"requestId,omitempty"`
	Error      string        `json:"error,omitempty"`
	Attempt    int           `json:"attempt"`
	BodySample string        `json:"bodySample,omitempty"`
}

// Tracker accepts call records. Implementations must be safe for
// concurrent use.
type Tracker interface {
	Record(call Call)
	Recent(n int) []Call
}

// Ring keeps the most recent calls in a fixed-size circular buffer.
type Ring struct {
	mu    sync.Mutex
	buf   []Call
	next  int
	count int
}

// NewRing returns a ring tracker holding at most capacity calls.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]Call, capacity)}
}

func (r *Ring) Record(call Call) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if call.ID.IsZero() {
		call.ID = idx.New()
	}
	if call.At.IsZero() {
		call.At = time.Now().UTC()
	}

	r.buf[r.next] = call
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Recent returns up to n calls, newest first. n <= 0 returns everything
// currently held.
func (r *Ring) Recent(n int) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.count {
		n = r.count
	}

	out := make([]Call, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.buf[(r.next-i+len(r.buf))%len(r.buf)])
	}
	return out
}

// Nop discards every call. Used when request logging is disabled.
type Nop struct{}

func (Nop) Record(Call)       {}
func (Nop) Recent(int) []Call { return nil }
