// Package artifact holds the versioned research document and the merge engine
// that folds parsed deltas onto it.
package artifact

import (
	"encoding/json"
	"time"

	"github.com/brenner/internal/delta"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusCompiled Status = "compiled"
)

// ResearchThreadID is the fixed id of the singleton research_thread record
const ResearchThreadID = "RT"

// Metadata describes one artifact version
type Metadata struct {
	SessionID       string                `json:"session_id"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	Version         int                   `json:"version"`
	Status          Status                `json:"status"`
	Contributors    []string              `json:"contributors"`
	NextIDs         map[delta.Section]int `json:"next_ids,omitempty"`
	SourceWatermark int64                 `json:"source_watermark,omitempty"`
}

// Artifact is the section-structured research document of one session
type Artifact struct {
	Metadata Metadata `json:"metadata"`
	Sections Sections `json:"sections"`
}

// Sections is the tagged union of section record collections
type Sections struct {
	ResearchThread      *ResearchThread      `json:"research_thread"`
	HypothesisSlate     []Hypothesis         `json:"hypothesis_slate"`
	PredictionsTable    []Prediction         `json:"predictions_table"`
	DiscriminativeTests []DiscriminativeTest `json:"discriminative_tests"`
	AssumptionLedger    []Assumption         `json:"assumption_ledger"`
	AnomalyRegister     []AnomalyEntry       `json:"anomaly_register"`
	AdversarialCritique []Critique           `json:"adversarial_critique"`
}

type ResearchThread struct {
	ID           string   `json:"id"`
	Statement    string   `json:"statement"`
	Context      string   `json:"context,omitempty"`
	WhyItMatters string   `json:"why_it_matters,omitempty"`
	Anchors      []string `json:"anchors,omitempty"`
}

type Hypothesis struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Claim            string   `json:"claim"`
	Mechanism        string   `json:"mechanism,omitempty"`
	Anchors          []string `json:"anchors,omitempty"`
	ThirdAlternative bool     `json:"third_alternative,omitempty"`
}

// Prediction maps one observable condition to each hypothesis' expected outcome
type Prediction struct {
	ID          string            `json:"id"`
	Condition   string            `json:"condition"`
	Predictions map[string]string `json:"predictions,omitempty"`
}

type TestScore struct {
	LikelihoodRatio float64 `json:"likelihood_ratio"`
	Cost            float64 `json:"cost"`
	Speed           float64 `json:"speed"`
	Ambiguity       float64 `json:"ambiguity"`
}

type DiscriminativeTest struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Procedure        string            `json:"procedure"`
	Discriminates    []string          `json:"discriminates,omitempty"`
	ExpectedOutcomes map[string]string `json:"expected_outcomes,omitempty"`
	PotencyCheck     string            `json:"potency_check,omitempty"`
	Feasibility      string            `json:"feasibility,omitempty"`
	Score            *TestScore        `json:"score,omitempty"`
}

type Assumption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Statement   string `json:"statement"`
	Load        string `json:"load,omitempty"`
	Test        string `json:"test,omitempty"`
	Status      string `json:"status,omitempty"`
	ScaleCheck  bool   `json:"scale_check,omitempty"`
	Calculation string `json:"calculation,omitempty"`
}

// AnomalyEntry is the in-artifact view of an anomaly; the standalone record
// lives in the session store
type AnomalyEntry struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Observation      string   `json:"observation"`
	ConflictsWith    []string `json:"conflicts_with,omitempty"`
	QuarantineStatus string   `json:"quarantine_status,omitempty"`
	ResolutionPlan   string   `json:"resolution_plan,omitempty"`
}

type Critique struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Attack               string `json:"attack"`
	Evidence             string `json:"evidence,omitempty"`
	CurrentStatus        string `json:"current_status,omitempty"`
	RealThirdAlternative bool   `json:"real_third_alternative,omitempty"`
}

func (r ResearchThread) RecordID() string     { return r.ID }
func (r Hypothesis) RecordID() string         { return r.ID }
func (r Prediction) RecordID() string         { return r.ID }
func (r DiscriminativeTest) RecordID() string { return r.ID }
func (r Assumption) RecordID() string         { return r.ID }
func (r AnomalyEntry) RecordID() string       { return r.ID }
func (r Critique) RecordID() string           { return r.ID }

// idPrefixes are the per-section prefixes of generated record ids
var idPrefixes = map[delta.Section]string{
	delta.SectionHypothesisSlate:     "H",
	delta.SectionPredictionsTable:    "P",
	delta.SectionDiscriminativeTests: "T",
	delta.SectionAssumptionLedger:    "A",
	delta.SectionAnomalyRegister:     "X",
	delta.SectionAdversarialCritique: "C",
}

// New returns an empty draft artifact at version 0
func New(sessionID string, createdAt time.Time) *Artifact {
	a := &Artifact{
		Metadata: Metadata{
			SessionID:    sessionID,
			CreatedAt:    createdAt,
			UpdatedAt:    createdAt,
			Status:       StatusDraft,
			Contributors: []string{},
		},
	}
	a.Normalize()
	return a
}

// Normalize replaces nil collections with empty ones so the persisted shape
// always carries every section as an array
func (a *Artifact) Normalize() {
	if a.Metadata.Contributors == nil {
		a.Metadata.Contributors = []string{}
	}
	s := &a.Sections
	if s.HypothesisSlate == nil {
		s.HypothesisSlate = []Hypothesis{}
	}
	if s.PredictionsTable == nil {
		s.PredictionsTable = []Prediction{}
	}
	if s.DiscriminativeTests == nil {
		s.DiscriminativeTests = []DiscriminativeTest{}
	}
	if s.AssumptionLedger == nil {
		s.AssumptionLedger = []Assumption{}
	}
	if s.AnomalyRegister == nil {
		s.AnomalyRegister = []AnomalyEntry{}
	}
	if s.AdversarialCritique == nil {
		s.AdversarialCritique = []Critique{}
	}
}

// Clone returns a deep copy
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		cp := *a
		return &cp
	}
	var cp Artifact
	if err := json.Unmarshal(data, &cp); err != nil {
		shallow := *a
		return &shallow
	}
	cp.Normalize()
	return &cp
}

// RecordIDs lists the ids present in a section, in order
func (a *Artifact) RecordIDs(section delta.Section) []string {
	s := a.Sections
	switch section {
	case delta.SectionResearchThread:
		if s.ResearchThread != nil {
			return []string{s.ResearchThread.ID}
		}
		return nil
	case delta.SectionHypothesisSlate:
		return idsOf(s.HypothesisSlate)
	case delta.SectionPredictionsTable:
		return idsOf(s.PredictionsTable)
	case delta.SectionDiscriminativeTests:
		return idsOf(s.DiscriminativeTests)
	case delta.SectionAssumptionLedger:
		return idsOf(s.AssumptionLedger)
	case delta.SectionAnomalyRegister:
		return idsOf(s.AnomalyRegister)
	case delta.SectionAdversarialCritique:
		return idsOf(s.AdversarialCritique)
	}
	return nil
}

// RecordCount is the total number of records across all sections
func (a *Artifact) RecordCount() int {
	n := 0
	for _, section := range delta.Sections {
		n += len(a.RecordIDs(section))
	}
	return n
}

type identified interface {
	RecordID() string
}

func idsOf[T identified](items []T) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.RecordID())
	}
	return out
}
