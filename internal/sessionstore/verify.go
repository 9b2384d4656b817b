package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Drift kinds reported by Verify
const (
	DriftChanged   = "changed"
	DriftMissing   = "missing"
	DriftUnindexed = "unindexed"
)

// Drift is one disagreement between the index and the session files
type Drift struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Indexed   string `json:"indexed_checksum,omitempty"`
	Actual    string `json:"actual_checksum,omitempty"`
}

// VerifyReport compares recorded fingerprints with the files on disk
type VerifyReport struct {
	Checked int     `json:"checked"`
	Drift   []Drift `json:"drift"`
}

// OK reports whether the index matches every session file
func (r *VerifyReport) OK() bool { return len(r.Drift) == 0 }

// Verify checks the cached index against the session files without modifying
// either. A missing index is an error; run RebuildIndex first.
func (s *AnomalyStore) Verify(ctx context.Context) (*VerifyReport, error) {
	idx, err := s.readIndexFile()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no index at %s: %w", s.indexPath(), err)
		}
		return nil, err
	}

	onDisk := map[string]bool{}
	entries, err := os.ReadDir(filepath.Join(s.root, sessionsDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		onDisk[strings.TrimSuffix(e.Name(), ".json")] = true
	}

	report := &VerifyReport{Drift: []Drift{}}
	ids := make([]string, 0, len(idx.Sessions))
	for id := range idx.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info := idx.Sessions[id]
		report.Checked++
		if !onDisk[id] {
			report.Drift = append(report.Drift, Drift{SessionID: id, Kind: DriftMissing, Indexed: info.Checksum})
			continue
		}
		raw, err := os.ReadFile(s.sessionPath(id))
		if err != nil {
			return nil, fmt.Errorf("reading session %s: %w", id, err)
		}
		if actual := checksum(raw); actual != info.Checksum {
			report.Drift = append(report.Drift, Drift{SessionID: id, Kind: DriftChanged, Indexed: info.Checksum, Actual: actual})
		}
	}

	var extra []string
	for id := range onDisk {
		if _, ok := idx.Sessions[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		report.Drift = append(report.Drift, Drift{SessionID: id, Kind: DriftUnindexed})
	}
	return report, nil
}
