package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/brenner/internal/delta"
)

// Reason codes attached to rejected operations
type Reason string

const (
	ReasonTargetNotFound       Reason = "target_not_found"
	ReasonDuplicateID          Reason = "duplicate_id"
	ReasonInvalidPayload       Reason = "invalid_payload"
	ReasonUnknownSection       Reason = "unknown_section"
	ReasonUnsupportedOperation Reason = "unsupported_operation"
)

// WarningDanglingConflict flags a deleted record that anomalies still conflict with
const WarningDanglingConflict = "dangling_conflict"

// Rejection is an operation the merge refused, returned as data
type Rejection struct {
	Operation delta.DeltaOperation `json:"operation"`
	Reason    Reason               `json:"reason"`
	Detail    string               `json:"detail,omitempty"`
}

// Warning is a non-fatal observation made while merging
type Warning struct {
	Code            string        `json:"code"`
	Section         delta.Section `json:"section"`
	RecordID        string        `json:"record_id"`
	ReferencedBy    []string      `json:"referenced_by,omitempty"`
	SourceMessageID int64         `json:"source_message_id"`
	Message         string        `json:"message"`
}

// Applied is an accepted operation and the record it landed on
type Applied struct {
	Operation delta.DeltaOperation `json:"operation"`
	RecordID  string               `json:"record_id"`
	Changed   bool                 `json:"changed"`
}

// MergeResult is the outcome of one Merge call
type MergeResult struct {
	Artifact *Artifact   `json:"artifact"`
	Applied  []Applied   `json:"applied"`
	Rejected []Rejection `json:"rejected"`
	Warnings []Warning   `json:"warnings"`
	Changed  bool        `json:"changed"`
}

// Merge folds operations onto current and returns the next artifact. The input
// is never mutated. Operations are applied in (SourceTimestamp, SourceMessageID,
// BlockIndex) order regardless of slice order. When nothing changes the returned artifact is
// current itself with version and timestamps untouched.
func Merge(current *Artifact, ops []delta.DeltaOperation) MergeResult {
	if current == nil {
		current = New("", time.Time{})
	}
	result := MergeResult{Artifact: current}
	if len(ops) == 0 {
		return result
	}

	sorted := SortOperations(ops)

	m := &merger{art: current.Clone()}
	if m.art.Metadata.NextIDs == nil {
		m.art.Metadata.NextIDs = map[delta.Section]int{}
	}

	var latest time.Time
	for _, op := range sorted {
		out := m.apply(op)
		if out.rejection != nil {
			result.Rejected = append(result.Rejected, *out.rejection)
			continue
		}
		result.Applied = append(result.Applied, Applied{Operation: op, RecordID: out.recordID, Changed: out.changed})
		result.Warnings = append(result.Warnings, out.warnings...)
		if !out.changed {
			continue
		}
		result.Changed = true
		if op.SourceTimestamp.After(latest) {
			latest = op.SourceTimestamp
		}
		m.addContributor(op.Author)
	}

	if !result.Changed {
		return result
	}

	next := m.art
	next.Metadata.Version = current.Metadata.Version + 1
	next.Metadata.UpdatedAt = latest
	if next.Metadata.UpdatedAt.Before(current.Metadata.UpdatedAt) {
		next.Metadata.UpdatedAt = current.Metadata.UpdatedAt
	}
	if next.Metadata.UpdatedAt.Before(next.Metadata.CreatedAt) {
		next.Metadata.UpdatedAt = next.Metadata.CreatedAt
	}
	result.Artifact = next
	return result
}

// SortOperations returns a copy of ops in deterministic fold order
func SortOperations(ops []delta.DeltaOperation) []delta.DeltaOperation {
	sorted := make([]delta.DeltaOperation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.SourceTimestamp.Equal(b.SourceTimestamp) {
			return a.SourceTimestamp.Before(b.SourceTimestamp)
		}
		if a.SourceMessageID != b.SourceMessageID {
			return a.SourceMessageID < b.SourceMessageID
		}
		return a.BlockIndex < b.BlockIndex
	})
	return sorted
}

type outcome struct {
	recordID  string
	changed   bool
	rejection *Rejection
	warnings  []Warning
}

func reject(op delta.DeltaOperation, reason Reason, format string, args ...any) outcome {
	return outcome{rejection: &Rejection{Operation: op, Reason: reason, Detail: fmt.Sprintf(format, args...)}}
}

type merger struct {
	art *Artifact
}

func (m *merger) apply(op delta.DeltaOperation) outcome {
	if !op.Operation.Valid() {
		return reject(op, ReasonUnsupportedOperation, "operation %q", op.Operation)
	}
	s := &m.art.Sections
	switch op.Section {
	case delta.SectionResearchThread:
		return m.applyResearchThread(op)
	case delta.SectionHypothesisSlate:
		return applyList(m, &s.HypothesisSlate, op)
	case delta.SectionPredictionsTable:
		return applyList(m, &s.PredictionsTable, op)
	case delta.SectionDiscriminativeTests:
		return applyList(m, &s.DiscriminativeTests, op)
	case delta.SectionAssumptionLedger:
		return applyList(m, &s.AssumptionLedger, op)
	case delta.SectionAnomalyRegister:
		return applyList(m, &s.AnomalyRegister, op)
	case delta.SectionAdversarialCritique:
		return applyList(m, &s.AdversarialCritique, op)
	}
	return reject(op, ReasonUnknownSection, "section %q", op.Section)
}

func (m *merger) applyResearchThread(op delta.DeltaOperation) outcome {
	s := &m.art.Sections
	switch op.Operation {
	case delta.OpAdd:
		if s.ResearchThread != nil {
			return reject(op, ReasonDuplicateID, "research thread already set")
		}
		rt, err := mergeRecord(ResearchThread{}, op.Payload, ResearchThreadID)
		if err != nil {
			return reject(op, ReasonInvalidPayload, "%v", err)
		}
		s.ResearchThread = &rt
		return outcome{recordID: ResearchThreadID, changed: true}
	case delta.OpUpdate:
		if s.ResearchThread == nil || s.ResearchThread.ID != op.TargetID {
			return reject(op, ReasonTargetNotFound, "no research thread %q", op.TargetID)
		}
		updated, err := mergeRecord(*s.ResearchThread, op.Payload, s.ResearchThread.ID)
		if err != nil {
			return reject(op, ReasonInvalidPayload, "%v", err)
		}
		changed := !sameRecord(*s.ResearchThread, updated)
		s.ResearchThread = &updated
		return outcome{recordID: updated.ID, changed: changed}
	default:
		if s.ResearchThread == nil || s.ResearchThread.ID != op.TargetID {
			return reject(op, ReasonTargetNotFound, "no research thread %q", op.TargetID)
		}
		s.ResearchThread = nil
		return outcome{recordID: op.TargetID, changed: true}
	}
}

func applyList[T identified](m *merger, items *[]T, op delta.DeltaOperation) outcome {
	switch op.Operation {
	case delta.OpAdd:
		id, counter, rej := m.resolveNewID(op, idsOf(*items))
		if rej != nil {
			return outcome{rejection: rej}
		}
		var zero T
		rec, err := mergeRecord(zero, op.Payload, id)
		if err != nil {
			return reject(op, ReasonInvalidPayload, "%v", err)
		}
		m.art.Metadata.NextIDs[op.Section] = counter
		*items = append(*items, rec)
		return outcome{recordID: id, changed: true}

	case delta.OpUpdate:
		idx := indexOf(*items, op.TargetID)
		if idx < 0 {
			return reject(op, ReasonTargetNotFound, "no %s record %q", op.Section, op.TargetID)
		}
		existing := (*items)[idx]
		updated, err := mergeRecord(existing, op.Payload, existing.RecordID())
		if err != nil {
			return reject(op, ReasonInvalidPayload, "%v", err)
		}
		changed := !sameRecord(existing, updated)
		(*items)[idx] = updated
		return outcome{recordID: op.TargetID, changed: changed}

	default:
		idx := indexOf(*items, op.TargetID)
		if idx < 0 {
			return reject(op, ReasonTargetNotFound, "no %s record %q", op.Section, op.TargetID)
		}
		*items = append((*items)[:idx], (*items)[idx+1:]...)
		return outcome{recordID: op.TargetID, changed: true, warnings: m.conflictWarnings(op)}
	}
}

// resolveNewID honors an unused caller-supplied id or allocates the next one
// from the section counter. The returned counter is committed by the caller
// once the record is accepted.
func (m *merger) resolveNewID(op delta.DeltaOperation, existing []string) (string, int, *Rejection) {
	prefix := idPrefixes[op.Section]
	taken := make(map[string]bool, len(existing))
	for _, id := range existing {
		taken[id] = true
	}

	counter, ok := m.art.Metadata.NextIDs[op.Section]
	if !ok {
		counter = maxSeq(prefix, existing)
	}

	if raw, present := op.Payload["id"]; present && raw != nil {
		requested, isString := raw.(string)
		requested = strings.TrimSpace(requested)
		if !isString || requested == "" {
			return "", 0, &Rejection{Operation: op, Reason: ReasonInvalidPayload, Detail: "id must be a non-empty string"}
		}
		if taken[requested] {
			return "", 0, &Rejection{Operation: op, Reason: ReasonDuplicateID, Detail: fmt.Sprintf("%s already has %q", op.Section, requested)}
		}
		if n, ok := seqOf(prefix, requested); ok && n > counter {
			counter = n
		}
		return requested, counter, nil
	}

	for {
		counter++
		id := prefix + strconv.Itoa(counter)
		if !taken[id] {
			return id, counter, nil
		}
	}
}

// conflictWarnings reports anomaly_register entries that still conflict with a
// deleted hypothesis or assumption. References are left in place.
func (m *merger) conflictWarnings(op delta.DeltaOperation) []Warning {
	if op.Section != delta.SectionHypothesisSlate && op.Section != delta.SectionAssumptionLedger {
		return nil
	}
	var refs []string
	for _, entry := range m.art.Sections.AnomalyRegister {
		for _, target := range entry.ConflictsWith {
			if strings.EqualFold(strings.TrimSpace(target), op.TargetID) {
				refs = append(refs, entry.ID)
				break
			}
		}
	}
	if len(refs) == 0 {
		return nil
	}
	return []Warning{{
		Code:            WarningDanglingConflict,
		Section:         op.Section,
		RecordID:        op.TargetID,
		ReferencedBy:    refs,
		SourceMessageID: op.SourceMessageID,
		Message:         fmt.Sprintf("%s deleted while anomalies %s still conflict with it", op.TargetID, strings.Join(refs, ", ")),
	}}
}

func (m *merger) addContributor(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	for _, c := range m.art.Metadata.Contributors {
		if c == name {
			return
		}
	}
	m.art.Metadata.Contributors = append(m.art.Metadata.Contributors, name)
}

// mergeRecord overlays payload fields onto existing (a shallow merge) and pins the id.
// Keys the record type does not define are an error.
func mergeRecord[T any](existing T, payload map[string]any, id string) (T, error) {
	var out T
	base := map[string]any{}
	data, err := json.Marshal(existing)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return out, err
	}
	for key, value := range payload {
		if key == "id" {
			continue
		}
		base[key] = value
	}
	base["id"] = id

	merged, err := json.Marshal(base)
	if err != nil {
		return out, err
	}
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("payload does not fit record shape: %w", err)
	}
	return out, nil
}

func sameRecord[T any](a, b T) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(da, db)
}

func indexOf[T identified](items []T, id string) int {
	for i, it := range items {
		if it.RecordID() == id {
			return i
		}
	}
	return -1
}

func maxSeq(prefix string, ids []string) int {
	max := 0
	for _, id := range ids {
		if n, ok := seqOf(prefix, id); ok && n > max {
			max = n
		}
	}
	return max
}

func seqOf(prefix, id string) (int, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(id[len(prefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
