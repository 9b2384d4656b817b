package anomaly

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound          = errors.New("anomaly not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidSession    = errors.New("invalid session id")
	ErrInvalidID         = errors.New("invalid anomaly id")
)

// MutateFunc receives the current records of a session and returns the
// records to persist. Returning an error leaves the session untouched.
type MutateFunc func(records []*Anomaly) ([]*Anomaly, error)

type Store interface {
	// Save upserts a record by id within its session
	Save(ctx context.Context, a *Anomaly) error
	LoadSession(ctx context.Context, sessionID string) ([]*Anomaly, error)
	// Delete reports whether a record was removed
	Delete(ctx context.Context, id string) (bool, error)
	// Mutate runs one serialized read-modify-write cycle on a session
	Mutate(ctx context.Context, sessionID string, fn MutateFunc) error
}

// InMemoryStore is a threadsafe in-memory store for tests
type InMemoryStore struct {
	mu        sync.Mutex
	bySession map[string][]*Anomaly
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{bySession: make(map[string][]*Anomaly)}
}

func (s *InMemoryStore) Save(ctx context.Context, a *Anomaly) error {
	if err := CheckRecord(a); err != nil {
		return err
	}
	return s.Mutate(ctx, a.SessionID, func(records []*Anomaly) ([]*Anomaly, error) {
		return Upsert(records, a), nil
	})
}

func (s *InMemoryStore) LoadSession(ctx context.Context, sessionID string) ([]*Anomaly, error) {
	if !ValidSessionID(sessionID) {
		return nil, ErrInvalidSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.bySession[sessionID]), nil
}

func (s *InMemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	sessionID, _, ok := ParseID(id)
	if !ok {
		return false, ErrInvalidID
	}
	removed := false
	err := s.Mutate(ctx, sessionID, func(records []*Anomaly) ([]*Anomaly, error) {
		var kept []*Anomaly
		kept, removed = Remove(records, id)
		return kept, nil
	})
	return removed, err
}

func (s *InMemoryStore) Mutate(ctx context.Context, sessionID string, fn MutateFunc) error {
	if !ValidSessionID(sessionID) {
		return ErrInvalidSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(cloneAll(s.bySession[sessionID]))
	if err != nil {
		return err
	}
	s.bySession[sessionID] = cloneAll(next)
	return nil
}

// Sessions lists session ids holding at least one record
func (s *InMemoryStore) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, records := range s.bySession {
		if len(records) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Upsert replaces the record with a's id or appends a, returning the new list
func Upsert(records []*Anomaly, a *Anomaly) []*Anomaly {
	cp := a.Clone()
	cp.Normalize()
	for i, r := range records {
		if r.ID == a.ID {
			records[i] = cp
			return records
		}
	}
	return append(records, cp)
}

// Remove drops the record with id and reports whether it was present
func Remove(records []*Anomaly, id string) ([]*Anomaly, bool) {
	for i, r := range records {
		if r.ID == id {
			return append(records[:i:i], records[i+1:]...), true
		}
	}
	return records, false
}

// Find returns the record with id, or nil
func Find(records []*Anomaly, id string) *Anomaly {
	for _, r := range records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func cloneAll(records []*Anomaly) []*Anomaly {
	out := make([]*Anomaly, 0, len(records))
	for _, r := range records {
		if r != nil {
			out = append(out, r.Clone())
		}
	}
	return out
}
