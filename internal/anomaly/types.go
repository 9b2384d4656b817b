// Package anomaly models standalone anomaly records: observations that
// contradict a hypothesis or assumption of a research session.
package anomaly

import (
	"strings"
	"time"
)

type QuarantineStatus string

const (
	StatusActive   QuarantineStatus = "active"
	StatusResolved QuarantineStatus = "resolved"
	StatusDeferred QuarantineStatus = "deferred"
)

// Valid reports whether s is a known quarantine status
func (s QuarantineStatus) Valid() bool {
	return s == StatusActive || s == StatusResolved || s == StatusDeferred
}

// Source types
const (
	SourceManual        = "manual"
	SourceThreadMessage = "thread_message"
)

// Source records where an anomaly was observed
type Source struct {
	Type      string `json:"type" validate:"required"`
	Reference string `json:"reference,omitempty"`
}

// Conflicts names the hypotheses and assumptions an anomaly contradicts
type Conflicts struct {
	Hypotheses  []string `json:"hypotheses"`
	Assumptions []string `json:"assumptions"`
	Description string   `json:"description,omitempty"`
}

type Anomaly struct {
	ID                string           `json:"id"`
	SessionID         string           `json:"session_id"`
	Observation       string           `json:"observation"`
	Source            Source           `json:"source"`
	ConflictsWith     Conflicts        `json:"conflicts_with"`
	QuarantineStatus  QuarantineStatus `json:"quarantine_status"`
	SpawnedHypotheses []string         `json:"spawned_hypotheses"`
	ResolutionNote    string           `json:"resolution_note,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Draft is the caller-provided part of a new anomaly
type Draft struct {
	SessionID   string    `json:"session_id" validate:"required"`
	Observation string    `json:"observation" validate:"required"`
	Source      Source    `json:"source"`
	Conflicts   Conflicts `json:"conflicts_with"`
}

// Clone returns a deep copy
func (a *Anomaly) Clone() *Anomaly {
	if a == nil {
		return nil
	}
	cp := *a
	cp.ConflictsWith.Hypotheses = append([]string{}, a.ConflictsWith.Hypotheses...)
	cp.ConflictsWith.Assumptions = append([]string{}, a.ConflictsWith.Assumptions...)
	cp.SpawnedHypotheses = append([]string{}, a.SpawnedHypotheses...)
	return &cp
}

// Normalize replaces nil lists with empty ones
func (a *Anomaly) Normalize() {
	if a.ConflictsWith.Hypotheses == nil {
		a.ConflictsWith.Hypotheses = []string{}
	}
	if a.ConflictsWith.Assumptions == nil {
		a.ConflictsWith.Assumptions = []string{}
	}
	if a.SpawnedHypotheses == nil {
		a.SpawnedHypotheses = []string{}
	}
}

// ConflictsWithID reports whether the anomaly lists id as a conflicting hypothesis or assumption
func (a *Anomaly) ConflictsWithID(id string) bool {
	return containsFold(a.ConflictsWith.Hypotheses, id) || containsFold(a.ConflictsWith.Assumptions, id)
}

// SplitConflicts sorts artifact record ids into hypotheses (H*) and assumptions (A*).
// Other ids are dropped.
func SplitConflicts(ids []string) Conflicts {
	c := Conflicts{Hypotheses: []string{}, Assumptions: []string{}}
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		switch {
		case id == "":
		case strings.HasPrefix(strings.ToUpper(id), "H"):
			if !containsFold(c.Hypotheses, id) {
				c.Hypotheses = append(c.Hypotheses, id)
			}
		case strings.HasPrefix(strings.ToUpper(id), "A"):
			if !containsFold(c.Assumptions, id) {
				c.Assumptions = append(c.Assumptions, id)
			}
		}
	}
	return c
}

func containsFold(list []string, id string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(id)) {
			return true
		}
	}
	return false
}
