package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrDuplicateIdentity = errors.New("identity already registered")
	ErrSessionNotFound   = errors.New("session not found")
)

// SpaceSummary describes one occupied space.
type SpaceSummary struct {
	SpaceID  uuid.UUID
	Sessions int
}

// Registry is the table of live sessions, keyed by identity and indexed by
// space.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	spaces   map[uuid.UUID]map[string]*Session
	seq      uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		spaces:   make(map[uuid.UUID]map[string]*Session),
	}
}

// Register inserts s if no live session holds its identity. The check and
// the insert happen under one lock acquisition, so of two concurrent
// registrations for the same identity exactly one succeeds. Each successful
// registration is ordered after every earlier one (see RegisteredBefore).
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.Identity]; exists {
		return ErrDuplicateIdentity
	}

	r.seq++
	s.seq = r.seq
	r.sessions[s.Identity] = s
	members := r.spaces[s.SpaceID]
	if members == nil {
		members = make(map[string]*Session)
		r.spaces[s.SpaceID] = members
	}
	members[s.Identity] = s
	return nil
}

// Remove deletes whatever session holds identity. Removing an absent
// identity is a no-op.
func (r *Registry) Remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, exists := r.sessions[identity]; exists {
		r.deleteLocked(s)
	}
}

// Release deletes s only if the registry still maps its identity to s. It
// reports whether s was removed by this call.
func (r *Registry) Release(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.sessions[s.Identity]; !exists || current != s {
		return false
	}
	r.deleteLocked(s)
	return true
}

func (r *Registry) deleteLocked(s *Session) {
	delete(r.sessions, s.Identity)
	if members, ok := r.spaces[s.SpaceID]; ok {
		delete(members, s.Identity)
		if len(members) == 0 {
			delete(r.spaces, s.SpaceID)
		}
	}
}

// Get returns the session registered under identity.
func (r *Registry) Get(identity string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.sessions[identity]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// SnapshotForSpace returns the sessions in space at the moment of the call.
// The returned slice is owned by the caller; later registrations and
// removals do not affect it.
func (r *Registry) SnapshotForSpace(space uuid.UUID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.spaces[space]
	result := make([]*Session, 0, len(members))
	for _, s := range members {
		result = append(result, s)
	}
	return result
}

// List returns all live sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	return result
}

// Spaces returns every occupied space with its session count, ordered by
// space ID.
func (r *Registry) Spaces() []SpaceSummary {
	r.mu.RLock()
	result := make([]SpaceSummary, 0, len(r.spaces))
	for id, members := range r.spaces {
		result = append(result, SpaceSummary{SpaceID: id, Sessions: len(members)})
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].SpaceID.String() < result[j].SpaceID.String()
	})
	return result
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
