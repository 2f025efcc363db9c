package http

import (
	"sync"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
	"github.com/curtismu7/mfa-console/internal/mfa/service"
)

// flowEntry ties a live session to the environment it runs in and the
// parameters that started it, which the resend strategy needs to
// reinitialize faithfully.
type flowEntry struct {
	EnvironmentID string
	Session       *domain.Session
	Init          service.InitializeParams
}

// flowRegistry tracks sessions across HTTP requests. The provider owns
// the session state; this only remembers the latest server snapshot.
type flowRegistry struct {
	mu      sync.RWMutex
	entries map[string]*flowEntry
}

func newFlowRegistry() *flowRegistry {
	return &flowRegistry{entries: make(map[string]*flowEntry)}
}

func (f *flowRegistry) put(entry *flowEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.Session.ID] = entry
}

func (f *flowRegistry) get(id string) (*flowEntry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.entries[id]
	return entry, ok
}

// update replaces the stored snapshot after a server transition. A
// resend can hand back a session with a fresh id; the old entry stays
// addressable until it is overwritten, the new one is indexed under its
// own id.
func (f *flowRegistry) update(entry *flowEntry, session *domain.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()

	updated := &flowEntry{
		EnvironmentID: entry.EnvironmentID,
		Session:       session,
		Init:          entry.Init,
	}
	f.entries[session.ID] = updated
	if session.ID != entry.Session.ID {
		f.entries[entry.Session.ID] = updated
	}
}
