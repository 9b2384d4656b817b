// Package sessionstore persists per-session record files on disk. Session
// files are the source of truth; the anomaly index is a derived cache that can
// be rebuilt from them at any time.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/brenner/internal/anomaly"
	"github.com/brenner/internal/filestore"
	"github.com/brenner/internal/metrics"
)

// ErrCorruptSession is returned when a write would replace a session file that
// cannot be parsed. The file is left as is for the operator to inspect.
var ErrCorruptSession = errors.New("session file is corrupt")

const (
	sessionsDir   = "sessions"
	indexFileName = "index.json"
	fileVersion   = 1
)

// Warning reports a file that was skipped or could not be read
type Warning struct {
	File      string `json:"file"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
}

type sessionFile struct {
	Version   int                `json:"version"`
	SessionID string             `json:"session_id"`
	Records   []*anomaly.Anomaly `json:"records"`
}

// Options configures an AnomalyStore
type Options struct {
	// RebuildWorkers bounds how many session files a rebuild reads at once
	RebuildWorkers int
	Logger         zerolog.Logger
	Clock          func() time.Time
}

// AnomalyStore is the file-backed anomaly store. Writes to one session are
// serialized; writes to different sessions run independently.
type AnomalyStore struct {
	root    string
	locks   *filestore.KeyedMutex
	indexMu sync.Mutex
	group   singleflight.Group
	workers int
	log     zerolog.Logger
	now     func() time.Time
}

var _ anomaly.Store = (*AnomalyStore)(nil)

// NewAnomalyStore opens (creating if needed) the store rooted at dir
func NewAnomalyStore(dir string, opts Options) (*AnomalyStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, sessionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating anomaly store: %w", err)
	}
	workers := opts.RebuildWorkers
	if workers <= 0 {
		workers = 4
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AnomalyStore{
		root:    dir,
		locks:   filestore.NewKeyedMutex(),
		workers: workers,
		log:     opts.Logger.With().Str("component", "anomaly_store").Logger(),
		now:     clock,
	}, nil
}

func (s *AnomalyStore) sessionPath(sessionID string) string {
	return filepath.Join(s.root, sessionsDir, sessionID+".json")
}

func (s *AnomalyStore) indexPath() string {
	return filepath.Join(s.root, indexFileName)
}

// Mutate runs fn against the current records of a session while holding that
// session's lock, then replaces the session file and refreshes its index entry.
func (s *AnomalyStore) Mutate(ctx context.Context, sessionID string, fn anomaly.MutateFunc) error {
	if !anomaly.ValidSessionID(sessionID) {
		return fmt.Errorf("%w: %q", anomaly.ErrInvalidSession, sessionID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	records, _, err := s.readSession(sessionID)
	if err != nil {
		metrics.StoreWrites.WithLabelValues("anomaly", metrics.ResultError).Inc()
		return err
	}

	next, err := fn(records)
	if err != nil {
		return err
	}
	for _, r := range next {
		if err := anomaly.CheckRecord(r); err != nil {
			return err
		}
		if r.SessionID != sessionID {
			return fmt.Errorf("%w: %s belongs to %s", anomaly.ErrInvalidID, r.ID, r.SessionID)
		}
		r.Normalize()
	}

	checksum, err := s.writeSession(sessionID, next)
	if err != nil {
		metrics.StoreWrites.WithLabelValues("anomaly", metrics.ResultError).Inc()
		return err
	}
	metrics.StoreWrites.WithLabelValues("anomaly", metrics.ResultOK).Inc()

	s.refreshIndex(sessionID, next, checksum)
	return nil
}

// Save upserts a record by id within its session
func (s *AnomalyStore) Save(ctx context.Context, a *anomaly.Anomaly) error {
	if err := anomaly.CheckRecord(a); err != nil {
		return err
	}
	return s.Mutate(ctx, a.SessionID, func(records []*anomaly.Anomaly) ([]*anomaly.Anomaly, error) {
		return anomaly.Upsert(records, a), nil
	})
}

// Delete removes a record and reports whether it existed
func (s *AnomalyStore) Delete(ctx context.Context, id string) (bool, error) {
	sessionID, _, ok := anomaly.ParseID(id)
	if !ok {
		return false, fmt.Errorf("%w: %q", anomaly.ErrInvalidID, id)
	}
	removed := false
	err := s.Mutate(ctx, sessionID, func(records []*anomaly.Anomaly) ([]*anomaly.Anomaly, error) {
		var kept []*anomaly.Anomaly
		kept, removed = anomaly.Remove(records, id)
		return kept, nil
	})
	return removed, err
}

// LoadSession returns the records of a session. An unreadable session file
// yields no records; the reason is logged and available from LoadSessionWithWarnings.
func (s *AnomalyStore) LoadSession(ctx context.Context, sessionID string) ([]*anomaly.Anomaly, error) {
	records, _, err := s.LoadSessionWithWarnings(ctx, sessionID)
	return records, err
}

// LoadSessionWithWarnings is LoadSession plus any storage warnings
func (s *AnomalyStore) LoadSessionWithWarnings(ctx context.Context, sessionID string) ([]*anomaly.Anomaly, []Warning, error) {
	if !anomaly.ValidSessionID(sessionID) {
		return nil, nil, fmt.Errorf("%w: %q", anomaly.ErrInvalidSession, sessionID)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	file, _, err := s.readSessionFile(sessionID)
	if err != nil {
		if errors.Is(err, ErrCorruptSession) {
			w := Warning{File: s.sessionPath(sessionID), SessionID: sessionID, Reason: err.Error()}
			s.warn(w)
			return []*anomaly.Anomaly{}, []Warning{w}, nil
		}
		return nil, nil, err
	}
	return file.Records, nil, nil
}

// readSession loads records for a write cycle. A corrupt file is an error here
// so a write never replaces data nobody could read.
func (s *AnomalyStore) readSession(sessionID string) ([]*anomaly.Anomaly, []byte, error) {
	file, raw, err := s.readSessionFile(sessionID)
	if err != nil {
		return nil, nil, err
	}
	return file.Records, raw, nil
}

func (s *AnomalyStore) readSessionFile(sessionID string) (*sessionFile, []byte, error) {
	path := s.sessionPath(sessionID)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &sessionFile{Version: fileVersion, SessionID: sessionID, Records: []*anomaly.Anomaly{}}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	file, err := decodeSession(raw)
	if err != nil {
		return nil, raw, fmt.Errorf("%w: %s: %v", ErrCorruptSession, filepath.Base(path), err)
	}
	if file.SessionID != "" && file.SessionID != sessionID {
		return nil, raw, fmt.Errorf("%w: %s holds session %q", ErrCorruptSession, filepath.Base(path), file.SessionID)
	}
	file.SessionID = sessionID
	return file, raw, nil
}

func decodeSession(raw []byte) (*sessionFile, error) {
	var file sessionFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	records := make([]*anomaly.Anomaly, 0, len(file.Records))
	for _, r := range file.Records {
		if r == nil {
			continue
		}
		r.Normalize()
		records = append(records, r)
	}
	file.Records = records
	return &file, nil
}

// writeSession replaces the session file, removing it when no records remain.
// It returns the checksum of the written bytes.
func (s *AnomalyStore) writeSession(sessionID string, records []*anomaly.Anomaly) (string, error) {
	path := s.sessionPath(sessionID)
	if len(records) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("removing %s: %w", path, err)
		}
		return "", nil
	}
	data, err := json.MarshalIndent(sessionFile{Version: fileVersion, SessionID: sessionID, Records: records}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding session %s: %w", sessionID, err)
	}
	data = append(data, '\n')
	if err := filestore.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", err
	}
	return checksum(data), nil
}

func (s *AnomalyStore) warn(w Warning) {
	metrics.StorageWarnings.Inc()
	s.log.Warn().Str("file", w.File).Str("session_id", w.SessionID).Msg(w.Reason)
}
