package delta

import (
	"time"
)

// Operation is the kind of edit a delta requests
type Operation string

const (
	OpAdd    Operation = "ADD"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Section names an artifact section a delta can target
type Section string

const (
	SectionResearchThread      Section = "research_thread"
	SectionHypothesisSlate     Section = "hypothesis_slate"
	SectionPredictionsTable    Section = "predictions_table"
	SectionDiscriminativeTests Section = "discriminative_tests"
	SectionAssumptionLedger    Section = "assumption_ledger"
	SectionAnomalyRegister     Section = "anomaly_register"
	SectionAdversarialCritique Section = "adversarial_critique"
)

// Sections lists every section in artifact order
var Sections = []Section{
	SectionResearchThread,
	SectionHypothesisSlate,
	SectionPredictionsTable,
	SectionDiscriminativeTests,
	SectionAssumptionLedger,
	SectionAnomalyRegister,
	SectionAdversarialCritique,
}

// Valid reports whether s is one of the known sections
func (s Section) Valid() bool {
	for _, known := range Sections {
		if s == known {
			return true
		}
	}
	return false
}

// Valid reports whether o is one of ADD, UPDATE, DELETE
func (o Operation) Valid() bool {
	return o == OpAdd || o == OpUpdate || o == OpDelete
}

// DeltaOperation is one parsed edit instruction. It only exists as merge input
// and is never persisted on its own.
type DeltaOperation struct {
	Operation       Operation      `json:"operation"`
	Section         Section        `json:"section"`
	TargetID        string         `json:"target_id,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	Rationale       string         `json:"rationale"`
	SourceMessageID int64          `json:"source_message_id"`
	SourceTimestamp time.Time      `json:"source_timestamp"`
	// BlockIndex is the position of the block within its message
	BlockIndex      int            `json:"block_index"`
	Author          string         `json:"author,omitempty"`
	Anchors         []int          `json:"anchors,omitempty"`
}

// Result is the outcome of parsing one fenced delta block
type Result struct {
	Index     int             `json:"index"`
	Valid     bool            `json:"valid"`
	Operation Operation       `json:"operation,omitempty"`
	Value     *DeltaOperation `json:"value,omitempty"`
	Error     string          `json:"error,omitempty"`
	RawBlock  string          `json:"raw_block,omitempty"`
	Repairs   []string        `json:"repairs,omitempty"`
}

// Operations returns the valid operations from a set of results, in block order
func Operations(results []Result) []DeltaOperation {
	var ops []DeltaOperation
	for _, r := range results {
		if r.Valid && r.Value != nil {
			ops = append(ops, *r.Value)
		}
	}
	return ops
}

// Failures returns the invalid results
func Failures(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Valid {
			out = append(out, r)
		}
	}
	return out
}
