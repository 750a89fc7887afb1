package session

import (
	"sync"

	"github.com/backkem/mediarelay/pkg/transport"
)

// DefaultMaxSessions is the default registry capacity.
const DefaultMaxSessions = 4096

// Registry maps local ICE ufrags and remote UDP endpoints to sessions.
//
// The ufrag entry is created with the session. Endpoint entries are added
// lazily after the first authenticated binding request from that endpoint.
// An endpoint maps to at most one session; binding it again moves it.
//
// The lock is only held for map access. Callers never perform I/O or
// crypto while holding it.
type Registry struct {
	mu          sync.RWMutex
	maxSessions int

	byID       map[string]*Session
	byUfrag    map[string]*Session
	byEndpoint map[transport.Endpoint]*Session
	endpoints  map[*Session]map[transport.Endpoint]struct{}
}

// NewRegistry creates a registry holding at most maxSessions sessions.
// If maxSessions <= 0, DefaultMaxSessions is used.
func NewRegistry(maxSessions int) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Registry{
		maxSessions: maxSessions,
		byID:        make(map[string]*Session),
		byUfrag:     make(map[string]*Session),
		byEndpoint:  make(map[transport.Endpoint]*Session),
		endpoints:   make(map[*Session]map[transport.Endpoint]struct{}),
	}
}

// Add registers a session under its ID and local ufrag.
func (r *Registry) Add(s *Session) error {
	if s == nil {
		return ErrSessionNotFound
	}
	ufrag := s.LocalCredentials().Ufrag

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byID) >= r.maxSessions {
		return ErrRegistryFull
	}
	if _, ok := r.byID[s.ID()]; ok {
		return ErrDuplicateSession
	}
	if _, ok := r.byUfrag[ufrag]; ok {
		return ErrDuplicateSession
	}

	r.byID[s.ID()] = s
	r.byUfrag[ufrag] = s
	r.endpoints[s] = make(map[transport.Endpoint]struct{})
	return nil
}

// Remove drops the session and every endpoint bound to it.
// Removing an unknown session is a no-op.
func (r *Registry) Remove(s *Session) {
	if s == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byID[s.ID()]; !ok || cur != s {
		return
	}
	delete(r.byID, s.ID())
	if cur := r.byUfrag[s.LocalCredentials().Ufrag]; cur == s {
		delete(r.byUfrag, s.LocalCredentials().Ufrag)
	}
	for ep := range r.endpoints[s] {
		if r.byEndpoint[ep] == s {
			delete(r.byEndpoint, ep)
		}
	}
	delete(r.endpoints, s)
}

// Bind maps ep to s. If ep was bound to another session it is moved.
// Returns ErrSessionNotFound if s is not registered.
func (r *Registry) Bind(ep transport.Endpoint, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.endpoints[s]
	if !ok {
		return ErrSessionNotFound
	}
	if prev, ok := r.byEndpoint[ep]; ok && prev != s {
		delete(r.endpoints[prev], ep)
	}
	r.byEndpoint[ep] = s
	set[ep] = struct{}{}
	return nil
}

// FindByID returns the session with the given ID, or nil.
func (r *Registry) FindByID(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// FindByUfrag returns the session owning the local ufrag, or nil.
func (r *Registry) FindByUfrag(ufrag string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUfrag[ufrag]
}

// FindByEndpoint returns the session bound to ep, or nil.
func (r *Registry) FindByEndpoint(ep transport.Endpoint) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byEndpoint[ep]
}

// Endpoints returns the endpoints currently bound to s.
func (r *Registry) Endpoints(s *Session) []transport.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.endpoints[s]
	out := make([]transport.Endpoint, 0, len(set))
	for ep := range set {
		out = append(out, ep)
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// IsFull returns true if no more sessions can be added.
func (r *Registry) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID) >= r.maxSessions
}

// Sessions returns a snapshot of all registered sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// ForEach calls fn for each session in a snapshot taken under the lock.
// Iteration stops if fn returns false. fn runs without the lock held, so
// it may close sessions.
func (r *Registry) ForEach(fn func(*Session) bool) {
	for _, s := range r.Sessions() {
		if !fn(s) {
			return
		}
	}
}
