package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RunLog tees one pipeline run into its own JSON log file next to the
// process log.
type RunLog struct {
	path      string
	file      *os.File
	logger    zerolog.Logger
	startTime time.Time
	once      sync.Once
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// StartRunLog opens <dir>/<kind>_<subject>_<timestamp>.log and returns a run
// log whose logger writes to both the file and the process output.
func StartRunLog(dir, kind, subject, runID string, level zerolog.Level) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	start := time.Now()
	name := fmt.Sprintf("%s_%s_%s.log", kind, unsafeName.ReplaceAllString(subject, "_"), start.UTC().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	w := zerolog.MultiLevelWriter(Output(), file)
	logger := zerolog.New(w).Level(level).With().Timestamp().Str("run_id", runID).Logger()
	logger.Info().Str("kind", kind).Str("subject", subject).Msg("run started")

	return &RunLog{path: path, file: file, logger: logger, startTime: start}, nil
}

func (r *RunLog) Logger() zerolog.Logger { return r.logger }

func (r *RunLog) Path() string { return r.path }

// Close writes the trailer and closes the file. Safe to call twice.
func (r *RunLog) Close() error {
	var err error
	r.once.Do(func() {
		r.logger.Info().Dur("duration", time.Since(r.startTime)).Msg("run finished")
		err = r.file.Close()
	})
	return err
}
