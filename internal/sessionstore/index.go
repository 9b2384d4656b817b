package sessionstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/brenner/internal/anomaly"
	"github.com/brenner/internal/filestore"
	"github.com/brenner/internal/metrics"
)

const previewLength = 120

// IndexEntry is the lightweight projection of one anomaly
type IndexEntry struct {
	ID          string                   `json:"id"`
	SessionID   string                   `json:"session_id"`
	Status      anomaly.QuarantineStatus `json:"status"`
	Hypotheses  []string                 `json:"hypotheses"`
	Assumptions []string                 `json:"assumptions"`
	Spawned     []string                 `json:"spawned_hypotheses"`
	Preview     string                   `json:"preview"`
	CreatedAt   time.Time                `json:"created_at"`
}

// SessionInfo describes one indexed session file
type SessionInfo struct {
	Records  int    `json:"records"`
	Checksum string `json:"checksum"`
}

// Index aggregates every session file
type Index struct {
	Version  int                    `json:"version"`
	BuiltAt  time.Time              `json:"built_at"`
	Sessions map[string]SessionInfo `json:"sessions"`
	Entries  []IndexEntry           `json:"entries"`
	// Skipped lists session files the last rebuild could not read
	Skipped  []Warning              `json:"skipped,omitempty"`
}

// RebuildResult is the outcome of a full rescan
type RebuildResult struct {
	Index    *Index    `json:"index"`
	Sessions int       `json:"sessions"`
	Records  int       `json:"records"`
	Skipped  []Warning `json:"skipped"`
}

// Stats aggregates the index
type Stats struct {
	Total        int                              `json:"total"`
	Sessions     int                              `json:"sessions"`
	ByStatus     map[anomaly.QuarantineStatus]int `json:"by_status"`
	WithSpawned  int                              `json:"with_spawned_hypotheses"`
	ByHypothesis map[string]int                   `json:"by_hypothesis"`
	ByAssumption map[string]int                   `json:"by_assumption"`
}

func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func entryFor(a *anomaly.Anomaly) IndexEntry {
	preview := strings.Join(strings.Fields(a.Observation), " ")
	if runes := []rune(preview); len(runes) > previewLength {
		preview = strings.TrimSpace(string(runes[:previewLength-3])) + "..."
	}
	return IndexEntry{
		ID:          a.ID,
		SessionID:   a.SessionID,
		Status:      a.QuarantineStatus,
		Hypotheses:  append([]string{}, a.ConflictsWith.Hypotheses...),
		Assumptions: append([]string{}, a.ConflictsWith.Assumptions...),
		Spawned:     append([]string{}, a.SpawnedHypotheses...),
		Preview:     preview,
		CreatedAt:   a.CreatedAt,
	}
}

func newIndex(builtAt time.Time) *Index {
	return &Index{Version: fileVersion, BuiltAt: builtAt, Sessions: map[string]SessionInfo{}, Entries: []IndexEntry{}}
}

// setSession replaces every entry of one session
func (idx *Index) setSession(sessionID string, records []*anomaly.Anomaly, sum string) {
	kept := idx.Entries[:0]
	for _, e := range idx.Entries {
		if e.SessionID != sessionID {
			kept = append(kept, e)
		}
	}
	idx.Entries = kept
	delete(idx.Sessions, sessionID)
	if len(records) == 0 {
		return
	}
	for _, r := range records {
		idx.Entries = append(idx.Entries, entryFor(r))
	}
	idx.Sessions[sessionID] = SessionInfo{Records: len(records), Checksum: sum}
	idx.sort()
}

func (idx *Index) sort() {
	sort.SliceStable(idx.Entries, func(i, j int) bool {
		a, b := idx.Entries[i], idx.Entries[j]
		if a.SessionID != b.SessionID {
			return a.SessionID < b.SessionID
		}
		_, sa, _ := anomaly.ParseID(a.ID)
		_, sb, _ := anomaly.ParseID(b.ID)
		return sa < sb
	})
}

func (s *AnomalyStore) readIndexFile() (*Index, error) {
	raw, err := os.ReadFile(s.indexPath())
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	if idx.Sessions == nil || idx.Version != fileVersion {
		return nil, fmt.Errorf("index has unsupported layout (version %d)", idx.Version)
	}
	if idx.Entries == nil {
		idx.Entries = []IndexEntry{}
	}
	return &idx, nil
}

// refreshIndex folds one session's new state into the cached index. An index
// that cannot be read is left for the next LoadIndex to rebuild.
func (s *AnomalyStore) refreshIndex(sessionID string, records []*anomaly.Anomaly, sum string) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	idx, err := s.readIndexFile()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("session_id", sessionID).Msg("index unreadable; deferring to rebuild")
		}
		return
	}
	idx.setSession(sessionID, records, sum)
	idx.clearSkipped(sessionID)
	idx.BuiltAt = s.now().UTC()
	if err := filestore.WriteJSONAtomic(s.indexPath(), idx); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("index update failed")
	}
}

// clearSkipped forgets a skipped-file warning once its session was written again
func (idx *Index) clearSkipped(sessionID string) {
	if len(idx.Skipped) == 0 {
		return
	}
	kept := idx.Skipped[:0]
	for _, w := range idx.Skipped {
		if w.SessionID != sessionID {
			kept = append(kept, w)
		}
	}
	idx.Skipped = kept
}

// LoadIndex returns the cached index, rebuilding it first when the file is
// missing or unreadable. Warnings describe the session files the index leaves
// out, whether they were skipped now or by the rebuild that built the cache.
func (s *AnomalyStore) LoadIndex(ctx context.Context) (*Index, []Warning, error) {
	idx, err := s.readIndexFile()
	if err == nil {
		return idx, append([]Warning(nil), idx.Skipped...), nil
	}

	trigger := "missing"
	if !errors.Is(err, os.ErrNotExist) {
		trigger = "corrupt"
		w := Warning{File: s.indexPath(), Reason: err.Error()}
		s.warn(w)
	}
	result, err := s.rebuild(ctx, trigger)
	if err != nil {
		return nil, nil, err
	}
	return result.Index, result.Skipped, nil
}

// RebuildIndex rescans every session file and replaces the index. Concurrent
// callers share one scan; each caller stops waiting when its own ctx ends.
func (s *AnomalyStore) RebuildIndex(ctx context.Context) (*RebuildResult, error) {
	return s.rebuild(ctx, "manual")
}

func (s *AnomalyStore) rebuild(ctx context.Context, trigger string) (*RebuildResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scanCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan("rebuild", func() (any, error) {
		metrics.IndexRebuilds.WithLabelValues(trigger).Inc()
		start := time.Now()
		defer func() { metrics.IndexRebuildDuration.Observe(time.Since(start).Seconds()) }()

		s.indexMu.Lock()
		defer s.indexMu.Unlock()
		return s.scan(scanCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RebuildResult), nil
	}
}

type scanned struct {
	sessionID string
	records   []*anomaly.Anomaly
	sum       string
	warning   *Warning
}

// scan reads every session file with bounded parallelism and writes the
// resulting index. Caller holds indexMu.
func (s *AnomalyStore) scan(ctx context.Context) (*RebuildResult, error) {
	dir := filepath.Join(s.root, sessionsDir)
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	results := make([]scanned, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.scanFile(filepath.Join(dir, name))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idx := newIndex(s.now().UTC())
	result := &RebuildResult{Index: idx, Skipped: []Warning{}}
	for _, r := range results {
		if r.warning != nil {
			s.warn(*r.warning)
			result.Skipped = append(result.Skipped, *r.warning)
			continue
		}
		if len(r.records) == 0 {
			continue
		}
		for _, rec := range r.records {
			idx.Entries = append(idx.Entries, entryFor(rec))
		}
		idx.Sessions[r.sessionID] = SessionInfo{Records: len(r.records), Checksum: r.sum}
		result.Sessions++
		result.Records += len(r.records)
	}
	idx.sort()
	if len(result.Skipped) > 0 {
		idx.Skipped = append([]Warning(nil), result.Skipped...)
	}

	if err := filestore.WriteJSONAtomic(s.indexPath(), idx); err != nil {
		return nil, fmt.Errorf("writing index: %w", err)
	}
	s.log.Info().
		Int("sessions", result.Sessions).
		Int("records", result.Records).
		Int("skipped", len(result.Skipped)).
		Msg("anomaly index rebuilt")
	return result, nil
}

func (s *AnomalyStore) scanFile(path string) scanned {
	sessionID := strings.TrimSuffix(filepath.Base(path), ".json")
	out := scanned{sessionID: sessionID}
	if !anomaly.ValidSessionID(sessionID) {
		out.warning = &Warning{File: path, Reason: "file name is not a valid session id"}
		return out
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		out.warning = &Warning{File: path, SessionID: sessionID, Reason: err.Error()}
		return out
	}
	file, err := decodeSession(raw)
	if err != nil {
		out.warning = &Warning{File: path, SessionID: sessionID, Reason: fmt.Sprintf("parse error: %v", err)}
		return out
	}
	for _, r := range file.Records {
		if err := anomaly.CheckRecord(r); err != nil || r.SessionID != sessionID {
			out.warning = &Warning{File: path, SessionID: sessionID, Reason: fmt.Sprintf("record %q does not belong to this session", r.ID)}
			return out
		}
	}
	out.records = file.Records
	out.sum = checksum(raw)
	return out
}

// ByStatus lists entries with the given quarantine status
func (idx *Index) ByStatus(status anomaly.QuarantineStatus) []IndexEntry {
	return idx.filter(func(e IndexEntry) bool { return e.Status == status })
}

// ByHypothesis lists entries that conflict with a hypothesis id
func (idx *Index) ByHypothesis(id string) []IndexEntry {
	return idx.filter(func(e IndexEntry) bool { return containsFold(e.Hypotheses, id) })
}

// ByAssumption lists entries that conflict with an assumption id
func (idx *Index) ByAssumption(id string) []IndexEntry {
	return idx.filter(func(e IndexEntry) bool { return containsFold(e.Assumptions, id) })
}

// BySpawned lists entries that spawned the given hypothesis
func (idx *Index) BySpawned(id string) []IndexEntry {
	return idx.filter(func(e IndexEntry) bool { return containsFold(e.Spawned, id) })
}

// BySession lists the entries of one session
func (idx *Index) BySession(sessionID string) []IndexEntry {
	return idx.filter(func(e IndexEntry) bool { return e.SessionID == sessionID })
}

// Query combines the filters above; empty fields match everything
type Query struct {
	SessionID  string
	Status     anomaly.QuarantineStatus
	Hypothesis string
	Assumption string
	Spawned    string
}

func (idx *Index) Query(q Query) []IndexEntry {
	return idx.filter(func(e IndexEntry) bool {
		return (q.SessionID == "" || e.SessionID == q.SessionID) &&
			(q.Status == "" || e.Status == q.Status) &&
			(q.Hypothesis == "" || containsFold(e.Hypotheses, q.Hypothesis)) &&
			(q.Assumption == "" || containsFold(e.Assumptions, q.Assumption)) &&
			(q.Spawned == "" || containsFold(e.Spawned, q.Spawned))
	})
}

// SessionsWithRecords lists indexed session ids in order
func (idx *Index) SessionsWithRecords() []string {
	out := make([]string, 0, len(idx.Sessions))
	for id, info := range idx.Sessions {
		if info.Records > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Stats aggregates counts over the whole index
func (idx *Index) Stats() Stats {
	st := Stats{
		Total:        len(idx.Entries),
		Sessions:     len(idx.SessionsWithRecords()),
		ByStatus:     map[anomaly.QuarantineStatus]int{},
		ByHypothesis: map[string]int{},
		ByAssumption: map[string]int{},
	}
	for _, e := range idx.Entries {
		st.ByStatus[e.Status]++
		if len(e.Spawned) > 0 {
			st.WithSpawned++
		}
		for _, h := range e.Hypotheses {
			st.ByHypothesis[h]++
		}
		for _, a := range e.Assumptions {
			st.ByAssumption[a]++
		}
	}
	return st
}

func (idx *Index) filter(keep func(IndexEntry) bool) []IndexEntry {
	out := []IndexEntry{}
	for _, e := range idx.Entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func containsFold(list []string, id string) bool {
	for _, v := range list {
		if strings.EqualFold(v, id) {
			return true
		}
	}
	return false
}
