package websocket

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry maps session ids to open sessions.
type Registry struct {
	sessions map[string]*ClientSession
	mutex    sync.RWMutex
	now      func() time.Time

	// activation orders Activate against EachActive.
	activation sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*ClientSession),
		now:      time.Now,
	}
}

// Register adds an inactive session for transport and returns its
// generated id. The session is visible to Get and All but receives no
// broadcasts until Activate.
func (r *Registry) Register(transport Transport, remoteAddr string) string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	id := newSessionID(now)
	for _, exists := r.sessions[id]; exists; _, exists = r.sessions[id] {
		id = newSessionID(now)
	}

	r.sessions[id] = &ClientSession{
		ID:          id,
		Transport:   transport,
		RemoteAddr:  remoteAddr,
		ConnectedAt: now,
	}

	return id
}

// Unregister removes a session. It reports whether the id was present.
func (r *Registry) Unregister(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return false
	}
	delete(r.sessions, id)
	return true
}

// UnregisterTransport removes the session backed by transport, if any.
func (r *Registry) UnregisterTransport(transport Transport) (string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for id, session := range r.sessions {
		if session.Transport == transport {
			delete(r.sessions, id)
			return id, true
		}
	}
	return "", false
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*ClientSession, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	session, exists := r.sessions[id]
	return session, exists
}

// All returns a snapshot of every registered session.
func (r *Registry) All() []*ClientSession {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sessions := make([]*ClientSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// Activate runs first and then marks the session active. No EachActive
// callback runs concurrently with first, so frames first sends precede any
// broadcast. first must not call Activate or EachActive. It reports whether
// the session was still registered.
func (r *Registry) Activate(id string, first func()) bool {
	r.activation.Lock()
	defer r.activation.Unlock()

	if first != nil {
		first()
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	session, exists := r.sessions[id]
	if exists {
		session.active = true
	}
	return exists
}

// EachActive calls fn for every active session.
func (r *Registry) EachActive(fn func(*ClientSession)) {
	r.activation.RLock()
	defer r.activation.RUnlock()

	r.mutex.RLock()
	sessions := make([]*ClientSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		if session.active {
			sessions = append(sessions, session)
		}
	}
	r.mutex.RUnlock()

	for _, session := range sessions {
		fn(session)
	}
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}

// Clients returns session metadata ordered by connect time.
func (r *Registry) Clients() []ClientInfo {
	sessions := r.All()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})

	infos := make([]ClientInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, ClientInfo{
			ClientID:    s.ID,
			RemoteAddr:  s.RemoteAddr,
			ConnectedAt: s.ConnectedAt.UnixMilli(),
		})
	}
	return infos
}

func newSessionID(at time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("client_%d_%s", at.UnixMilli(), random[:9])
}
