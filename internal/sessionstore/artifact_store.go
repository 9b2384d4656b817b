package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/brenner/internal/anomaly"
	"github.com/brenner/internal/artifact"
	"github.com/brenner/internal/filestore"
	"github.com/brenner/internal/metrics"
)

// ErrArtifactNotFound is returned when a session has no artifact yet
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore keeps one artifact file per session
type ArtifactStore struct {
	root  string
	locks *filestore.KeyedMutex
	log   zerolog.Logger
}

func NewArtifactStore(dir string, logger zerolog.Logger) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact store: %w", err)
	}
	return &ArtifactStore{
		root:  dir,
		locks: filestore.NewKeyedMutex(),
		log:   logger.With().Str("component", "artifact_store").Logger(),
	}, nil
}

func (s *ArtifactStore) path(sessionID string) string {
	return filepath.Join(s.root, sessionID+".json")
}

// Load reads the artifact of a session
func (s *ArtifactStore) Load(ctx context.Context, sessionID string) (*artifact.Artifact, error) {
	if !anomaly.ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: %q", anomaly.ErrInvalidSession, sessionID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read(sessionID)
}

func (s *ArtifactStore) read(sessionID string) (*artifact.Artifact, error) {
	path := s.path(sessionID)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var art artifact.Artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSession, filepath.Base(path), err)
	}
	art.Normalize()
	return &art, nil
}

// Update runs fn on the current artifact (nil when none exists) under the
// session lock and writes the artifact it returns. Returning the input pointer
// unchanged skips the write.
func (s *ArtifactStore) Update(ctx context.Context, sessionID string, fn func(current *artifact.Artifact) (*artifact.Artifact, error)) (*artifact.Artifact, error) {
	if !anomaly.ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: %q", anomaly.ErrInvalidSession, sessionID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	current, err := s.read(sessionID)
	if err != nil && !errors.Is(err, ErrArtifactNotFound) {
		metrics.StoreWrites.WithLabelValues("artifact", metrics.ResultError).Inc()
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil || next == current {
		return current, nil
	}
	if next.Metadata.SessionID != sessionID {
		return nil, fmt.Errorf("artifact for %q cannot be stored under %q", next.Metadata.SessionID, sessionID)
	}
	if err := filestore.WriteJSONAtomic(s.path(sessionID), next); err != nil {
		metrics.StoreWrites.WithLabelValues("artifact", metrics.ResultError).Inc()
		return nil, err
	}
	metrics.StoreWrites.WithLabelValues("artifact", metrics.ResultOK).Inc()
	s.log.Debug().Str("session_id", sessionID).Int("version", next.Metadata.Version).Msg("artifact saved")
	return next, nil
}

// Save replaces the artifact of its session
func (s *ArtifactStore) Save(ctx context.Context, art *artifact.Artifact) error {
	if art == nil {
		return errors.New("nil artifact")
	}
	_, err := s.Update(ctx, art.Metadata.SessionID, func(*artifact.Artifact) (*artifact.Artifact, error) {
		return art, nil
	})
	return err
}

// List returns the session ids that have an artifact
func (s *ArtifactStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(out)
	return out, nil
}
