package master

import (
	"strings"
	"sync"
)

// Registry is the process-wide directory of connected clients, registered
// sessions, and per-IP connection counts.
//
// Locking discipline: clients and sessions each use a read-biased
// reader-writer lock, since list/count requests dominate mutation.
// ip_count uses a plain mutex. When more than one lock is needed, the
// acquisition order is sessions, then clients, then ip_count. No registry
// lock is ever held across a socket write.
type Registry struct {
	clientsMu sync.RWMutex
	clients   map[*ClientConn]struct{}

	sessionsMu sync.RWMutex
	sessions   []*Session
	sessionIdx map[sessionKey]*Session

	ipMu    sync.Mutex
	ipCount map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		clients:    make(map[*ClientConn]struct{}),
		sessionIdx: make(map[sessionKey]*Session),
		ipCount:    make(map[string]int),
	}
}

// -------------------------------------------------------------------------
// Clients
// -------------------------------------------------------------------------

// AddClient registers a newly accepted connection.
func (r *Registry) AddClient(c *ClientConn) {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()

	r.clients[c] = struct{}{}
}

// RemoveClient unregisters a connection. Returns false if it was already
// removed, so the disconnect hook can remain idempotent.
func (r *Registry) RemoveClient(c *ClientConn) bool {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return false
	}
	delete(r.clients, c)
	return true
}

// ClientCount returns the number of currently tracked connections.
func (r *Registry) ClientCount() int {
	r.clientsMu.RLock()
	defer r.clientsMu.RUnlock()

	return len(r.clients)
}

// SnapshotClients returns a copy of all currently tracked connections, for
// use by the ping sweeper. The lock is released before the caller acts on
// the result.
func (r *Registry) SnapshotClients() []*ClientConn {
	r.clientsMu.RLock()
	defer r.clientsMu.RUnlock()

	out := make([]*ClientConn, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

// -------------------------------------------------------------------------
// Sessions
// -------------------------------------------------------------------------

// RegisterSession inserts s into the registry under the sessions write
// lock, evicting and returning any prior session that shares s's key. The
// eviction happens before the insert so no two sessions with the same key
// are ever visible, even transiently, regardless of which worker owns the
// prior session. The caller is responsible for disconnecting the evicted
// session's owner.
func (r *Registry) RegisterSession(s *Session) (evicted *Session) {
	r.sessionsMu.Lock()
	defer r.sessionsMu.Unlock()

	key := s.Key()
	if prior, ok := r.sessionIdx[key]; ok {
		evicted = prior
		r.removeSessionLocked(prior)
	}

	r.sessions = append(r.sessions, s)
	r.sessionIdx[key] = s
	return evicted
}

// RemoveSession removes s from the registry if it is still the session
// registered under its key. Returns false if it was already replaced or
// removed (e.g. by a concurrent R collision eviction), keeping the
// disconnect hook idempotent.
func (r *Registry) RemoveSession(s *Session) bool {
	r.sessionsMu.Lock()
	defer r.sessionsMu.Unlock()

	if existing, ok := r.sessionIdx[s.Key()]; !ok || existing != s {
		return false
	}
	r.removeSessionLocked(s)
	return true
}

// removeSessionLocked removes s assuming the sessions write lock is held.
func (r *Registry) removeSessionLocked(s *Session) {
	delete(r.sessionIdx, s.Key())
	for i, entry := range r.sessions {
		if entry == s {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			break
		}
	}
}

// FindSession looks up a session by owner IP (case-insensitive) and port.
func (r *Registry) FindSession(ip string, port uint16) (*Session, bool) {
	r.sessionsMu.RLock()
	defer r.sessionsMu.RUnlock()

	s, ok := r.sessionIdx[sessionKey{ip: strings.ToLower(ip), port: port}]
	return s, ok
}

// SessionCount returns the number of currently registered sessions.
func (r *Registry) SessionCount() int {
	r.sessionsMu.RLock()
	defer r.sessionsMu.RUnlock()

	return len(r.sessions)
}

// SnapshotSessions returns a consistent, independently-owned copy of every
// registered session in registration order, for encoding a G response. The
// lock is released before the caller performs any network I/O.
func (r *Registry) SnapshotSessions() []Session {
	r.sessionsMu.RLock()
	defer r.sessionsMu.RUnlock()

	out := make([]Session, len(r.sessions))
	for i, s := range r.sessions {
		out[i] = *s
	}
	return out
}

// -------------------------------------------------------------------------
// Per-IP connection counts
// -------------------------------------------------------------------------

// IncIP increments the connection count for ip and returns the new count.
func (r *Registry) IncIP(ip string) int {
	r.ipMu.Lock()
	defer r.ipMu.Unlock()

	r.ipCount[ip]++
	return r.ipCount[ip]
}

// DecIP decrements the connection count for ip, removing the entry once it
// reaches zero.
func (r *Registry) DecIP(ip string) {
	r.ipMu.Lock()
	defer r.ipMu.Unlock()

	n, ok := r.ipCount[ip]
	if !ok {
		return
	}
	if n <= 1 {
		delete(r.ipCount, ip)
		return
	}
	r.ipCount[ip] = n - 1
}

// IPCount returns the current connection count for ip (zero if absent).
func (r *Registry) IPCount(ip string) int {
	r.ipMu.Lock()
	defer r.ipMu.Unlock()

	return r.ipCount[ip]
}
