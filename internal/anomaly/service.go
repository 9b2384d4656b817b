package anomaly

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var draftValidate = validator.New(validator.WithRequiredStructEnabled())

// transitions lists the allowed quarantine status moves
var transitions = map[QuarantineStatus][]QuarantineStatus{
	StatusActive:   {StatusResolved, StatusDeferred},
	StatusDeferred: {StatusActive, StatusResolved},
	StatusResolved: {StatusActive},
}

// CanTransition reports whether from -> to is an allowed move
func CanTransition(from, to QuarantineStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service { return &Service{store: store, now: time.Now} }

// WithClock replaces the time source used for created/updated stamps
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create allocates the next id in the draft's session and persists an active anomaly
func (s *Service) Create(ctx context.Context, draft Draft) (*Anomaly, error) {
	draft.SessionID = strings.TrimSpace(draft.SessionID)
	draft.Observation = strings.TrimSpace(draft.Observation)
	if draft.Source.Type == "" {
		draft.Source.Type = SourceManual
	}
	if err := draftValidate.Struct(draft); err != nil {
		return nil, fmt.Errorf("invalid anomaly: %w", err)
	}
	if !ValidSessionID(draft.SessionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSession, draft.SessionID)
	}

	var created *Anomaly
	err := s.store.Mutate(ctx, draft.SessionID, func(records []*Anomaly) ([]*Anomaly, error) {
		now := s.now().UTC()
		a := &Anomaly{
			ID:                FormatID(draft.SessionID, NextSeq(records)),
			SessionID:         draft.SessionID,
			Observation:       draft.Observation,
			Source:            draft.Source,
			ConflictsWith:     draft.Conflicts,
			QuarantineStatus:  StatusActive,
			SpawnedHypotheses: []string{},
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		a.Normalize()
		created = a
		return append(records, a.Clone()), nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get loads one anomaly by id
func (s *Service) Get(ctx context.Context, id string) (*Anomaly, error) {
	sessionID, _, ok := ParseID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	records, err := s.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if a := Find(records, id); a != nil {
		return a, nil
	}
	return nil, ErrNotFound
}

// ListSession returns every anomaly of a session in creation order
func (s *Service) ListSession(ctx context.Context, sessionID string) ([]*Anomaly, error) {
	return s.store.LoadSession(ctx, sessionID)
}

// Transition moves an anomaly to a new quarantine status. A note, when given,
// replaces the resolution note.
func (s *Service) Transition(ctx context.Context, id string, to QuarantineStatus, note string) (*Anomaly, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	return s.update(ctx, id, func(a *Anomaly) (bool, error) {
		if a.QuarantineStatus == to {
			return false, fmt.Errorf("%w: already %s", ErrInvalidTransition, to)
		}
		if !CanTransition(a.QuarantineStatus, to) {
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.QuarantineStatus, to)
		}
		a.QuarantineStatus = to
		if note = strings.TrimSpace(note); note != "" {
			a.ResolutionNote = note
		}
		return true, nil
	})
}

// LinkSpawnedHypothesis records that hypothesisID was created in response to
// the anomaly. Linking an already linked hypothesis is a no-op.
func (s *Service) LinkSpawnedHypothesis(ctx context.Context, id, hypothesisID string) (*Anomaly, error) {
	hypothesisID = strings.TrimSpace(hypothesisID)
	if hypothesisID == "" {
		return nil, errors.New("hypothesis id is required")
	}
	return s.update(ctx, id, func(a *Anomaly) (bool, error) {
		if containsFold(a.SpawnedHypotheses, hypothesisID) {
			return false, nil
		}
		a.SpawnedHypotheses = append(a.SpawnedHypotheses, hypothesisID)
		return true, nil
	})
}

// Delete removes an anomaly. It reports false when no such record existed.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	if _, _, ok := ParseID(id); !ok {
		return false, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return s.store.Delete(ctx, id)
}

func (s *Service) update(ctx context.Context, id string, apply func(a *Anomaly) (bool, error)) (*Anomaly, error) {
	sessionID, _, ok := ParseID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	var result *Anomaly
	err := s.store.Mutate(ctx, sessionID, func(records []*Anomaly) ([]*Anomaly, error) {
		a := Find(records, id)
		if a == nil {
			return nil, ErrNotFound
		}
		changed, err := apply(a)
		if err != nil {
			return nil, err
		}
		if changed {
			a.UpdatedAt = s.now().UTC()
		}
		result = a.Clone()
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
