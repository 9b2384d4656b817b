// Package messaging adapts the external message thread collaborator. The
// directory-backed implementation keeps one JSON file per thread.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/brenner/internal/anomaly"
	"github.com/brenner/internal/filestore"
	"github.com/brenner/pkg/models"
)

var ErrThreadNotFound = errors.New("thread not found")

// Outgoing is a message to append to a thread
type Outgoing struct {
	Sender      string
	Recipients  []string
	Subject     string
	Body        string
	Importance  models.Importance
	AckRequired bool
}

// Messenger reads threads and sends messages
type Messenger interface {
	ReadThread(ctx context.Context, threadID string) (*models.Thread, error)
	SendMessage(ctx context.Context, threadID string, msg Outgoing) (*models.Message, error)
}

// FileMessenger stores each thread as <dir>/<thread>.json
type FileMessenger struct {
	dir   string
	locks *filestore.KeyedMutex
	now   func() time.Time
}

var _ Messenger = (*FileMessenger)(nil)

func NewFileMessenger(dir string) *FileMessenger {
	return &FileMessenger{dir: dir, locks: filestore.NewKeyedMutex(), now: time.Now}
}

// WithClock replaces the time source used to stamp sent messages
func (m *FileMessenger) WithClock(now func() time.Time) *FileMessenger {
	m.now = now
	return m
}

func (m *FileMessenger) path(threadID string) string {
	return filepath.Join(m.dir, threadID+".json")
}

func (m *FileMessenger) ReadThread(ctx context.Context, threadID string) (*models.Thread, error) {
	if !anomaly.ValidSessionID(threadID) {
		return nil, fmt.Errorf("%w: thread %q", anomaly.ErrInvalidSession, threadID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.read(threadID)
}

func (m *FileMessenger) read(threadID string) (*models.Thread, error) {
	raw, err := os.ReadFile(m.path(threadID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading thread %s: %w", threadID, err)
	}
	var thread models.Thread
	if err := json.Unmarshal(raw, &thread); err != nil {
		return nil, fmt.Errorf("decoding thread %s: %w", threadID, err)
	}
	thread.ThreadID = threadID
	if thread.Messages == nil {
		thread.Messages = []models.Message{}
	}
	return &thread, nil
}

// SendMessage appends a message with the next id. A missing thread is created.
func (m *FileMessenger) SendMessage(ctx context.Context, threadID string, out Outgoing) (*models.Message, error) {
	if !anomaly.ValidSessionID(threadID) {
		return nil, fmt.Errorf("%w: thread %q", anomaly.ErrInvalidSession, threadID)
	}
	if strings.TrimSpace(out.Sender) == "" {
		return nil, errors.New("sender is required")
	}
	if strings.TrimSpace(out.Subject) == "" {
		return nil, errors.New("subject is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(threadID)
	defer unlock()

	thread, err := m.read(threadID)
	if errors.Is(err, ErrThreadNotFound) {
		thread = &models.Thread{ThreadID: threadID, Messages: []models.Message{}}
	} else if err != nil {
		return nil, err
	}

	importance := out.Importance
	if importance == "" {
		importance = models.ImportanceNormal
	}
	msg := models.Message{
		ID:          thread.MaxID() + 1,
		From:        out.Sender,
		To:          append([]string{}, out.Recipients...),
		Subject:     out.Subject,
		Body:        out.Body,
		CreatedAt:   m.now().UTC(),
		Importance:  importance,
		AckRequired: out.AckRequired,
	}
	thread.Messages = append(thread.Messages, msg)

	if err := filestore.WriteJSONAtomic(m.path(threadID), thread); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListThreads returns the ids of stored threads
func (m *FileMessenger) ListThreads(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	out := []string{}
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
