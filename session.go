package healthsync

import (
	"sync"

	"github.com/google/uuid"
)

// session is one open logging channel, identified by the device-assigned
// session id and scoped to the connection's lifetime.
type session struct {
	tag      uint32
	appID    uuid.UUID
	itemSize int
}

// sessionTable tracks open sessions for a single connection. Mutations are
// serialized by the service's inbound loop; the mutex covers the clear on
// disconnect, which can race with in-flight decode workers looking up their
// session.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[uint8]session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[uint8]session)}
}

// open records a session, replacing any stale entry with the same id.
func (t *sessionTable) open(id uint8, s session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[id] = s
}

// lookup returns the session for id, ok=false when none is open.
func (t *sessionTable) lookup(id uint8) (session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

// close removes the session for id and returns it.
func (t *sessionTable) close(id uint8) (session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	return s, ok
}

// clear drops every session. Called on disconnect: no session survives a
// reconnect.
func (t *sessionTable) clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.sessions)
	t.sessions = make(map[uint8]session)
	return n
}
