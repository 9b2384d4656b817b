// Package ingest runs the thread-to-artifact pipeline: read new messages,
// parse their delta blocks, annotate citations, merge, and persist the
// artifact together with any anomaly side records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brenner/internal/anomaly"
	"github.com/brenner/internal/artifact"
	"github.com/brenner/internal/citation"
	"github.com/brenner/internal/delta"
	"github.com/brenner/internal/logging"
	"github.com/brenner/internal/messaging"
	"github.com/brenner/internal/metrics"
	"github.com/brenner/internal/sessionstore"
	"github.com/brenner/internal/threadstatus"
	"github.com/brenner/pkg/models"
)

// WarningStandaloneConflict flags a deleted record that stored anomalies still conflict with
const WarningStandaloneConflict = "standalone_anomaly_conflict"

// ErrNoArtifact is returned by Publish when nothing has been ingested yet
var ErrNoArtifact = errors.New("no artifact for thread")

// IndexReader is the part of the anomaly store the pipeline queries
type IndexReader interface {
	LoadIndex(ctx context.Context) (*sessionstore.Index, []sessionstore.Warning, error)
}

// ParseFailure is one delta block that could not be parsed
type ParseFailure struct {
	MessageID int64  `json:"message_id"`
	From      string `json:"from"`
	Block     int    `json:"block"`
	Error     string `json:"error"`
	RawBlock  string `json:"raw_block,omitempty"`
}

// Report summarizes one ingest run
type Report struct {
	RunID            string                 `json:"run_id"`
	ThreadID         string                 `json:"thread_id"`
	MessagesScanned  int                    `json:"messages_scanned"`
	Operations       int                    `json:"operations"`
	Applied          []artifact.Applied     `json:"applied"`
	ParseErrors      []ParseFailure         `json:"parse_errors"`
	Rejected         []artifact.Rejection   `json:"rejected"`
	Warnings         []artifact.Warning     `json:"warnings"`
	StorageWarnings  []sessionstore.Warning `json:"storage_warnings"`
	AnomaliesCreated []string               `json:"anomalies_created"`
	Changed          bool                   `json:"changed"`
	Version          int                    `json:"version"`
	Watermark        int64                  `json:"watermark"`
	LogFile          string                 `json:"log_file,omitempty"`
}

// Config holds pipeline settings
type Config struct {
	// Operator is the sender of published artifacts
	Operator   string
	AnchorBase string
	Registry   *threadstatus.Registry
	// RunLogDir, when set, receives one log file per ingest run
	RunLogDir string
}

type Pipeline struct {
	messenger messaging.Messenger
	artifacts *sessionstore.ArtifactStore
	anomalies *anomaly.Service
	index     IndexReader
	cfg       Config
	log       zerolog.Logger
}

func NewPipeline(messenger messaging.Messenger, artifacts *sessionstore.ArtifactStore, anomalies *anomaly.Service, index IndexReader, cfg Config, logger zerolog.Logger) *Pipeline {
	if cfg.Operator == "" {
		cfg.Operator = "Operator"
	}
	if cfg.Registry == nil {
		cfg.Registry = threadstatus.DefaultRegistry()
	}
	return &Pipeline{
		messenger: messenger,
		artifacts: artifacts,
		anomalies: anomalies,
		index:     index,
		cfg:       cfg,
		log:       logger.With().Str("component", "ingest").Logger(),
	}
}

// Ingest folds every message above the artifact's watermark into the artifact.
// Re-running it on an unchanged thread is a no-op.
func (p *Pipeline) Ingest(ctx context.Context, threadID string) (*Report, error) {
	start := time.Now()
	report := &Report{
		RunID:            uuid.NewString(),
		ThreadID:         threadID,
		Applied:          []artifact.Applied{},
		ParseErrors:      []ParseFailure{},
		Rejected:         []artifact.Rejection{},
		Warnings:         []artifact.Warning{},
		StorageWarnings:  []sessionstore.Warning{},
		AnomaliesCreated: []string{},
	}
	logger := p.log.With().Str("run_id", report.RunID).Str("thread_id", threadID).Logger()
	if p.cfg.RunLogDir != "" {
		run, err := logging.StartRunLog(p.cfg.RunLogDir, "ingest", threadID, report.RunID, p.log.GetLevel())
		if err != nil {
			logger.Warn().Err(err).Msg("run log unavailable")
		} else {
			defer run.Close()
			report.LogFile = run.Path()
			logger = run.Logger().With().Str("component", "ingest").Str("thread_id", threadID).Logger()
		}
	}

	err := p.ingest(ctx, threadID, report, logger)
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.IngestRuns.WithLabelValues(metrics.ResultError).Inc()
		logger.Error().Err(err).Msg("ingest failed")
		return nil, err
	}
	metrics.IngestRuns.WithLabelValues(metrics.ResultOK).Inc()

	logger.Info().
		Int("messages", report.MessagesScanned).
		Int("operations", report.Operations).
		Int("rejected", len(report.Rejected)).
		Int("parse_errors", len(report.ParseErrors)).
		Int("version", report.Version).
		Msg("ingest complete")
	return report, nil
}

func (p *Pipeline) ingest(ctx context.Context, threadID string, report *Report, logger zerolog.Logger) error {
	thread, err := p.messenger.ReadThread(ctx, threadID)
	if err != nil {
		return fmt.Errorf("reading thread: %w", err)
	}

	var merged artifact.MergeResult
	saved, err := p.artifacts.Update(ctx, threadID, func(current *artifact.Artifact) (*artifact.Artifact, error) {
		if current == nil {
			if len(thread.Messages) == 0 {
				return nil, nil
			}
			current = artifact.New(threadID, earliest(thread.Messages))
		}

		var ops []delta.DeltaOperation
		watermark := current.Metadata.SourceWatermark
		for _, msg := range thread.SortedByID() {
			if msg.ID <= current.Metadata.SourceWatermark {
				continue
			}
			report.MessagesScanned++
			if msg.ID > watermark {
				watermark = msg.ID
			}
			for _, res := range delta.ParseMessage(msg) {
				if !res.Valid {
					metrics.DeltaBlocks.WithLabelValues(metrics.ResultInvalid).Inc()
					report.ParseErrors = append(report.ParseErrors, ParseFailure{
						MessageID: msg.ID, From: msg.From, Block: res.Index, Error: res.Error, RawBlock: res.RawBlock,
					})
					continue
				}
				metrics.DeltaBlocks.WithLabelValues(metrics.ResultValid).Inc()
				op := *res.Value
				op.Anchors = Anchors(op)
				ops = append(ops, op)
			}
		}
		report.Operations = len(ops)

		merged = artifact.Merge(current, ops)
		next := merged.Artifact
		if merged.Changed {
			next.Metadata.Status = artifact.StatusDraft
		}
		if watermark > next.Metadata.SourceWatermark {
			if next == current {
				next = current.Clone()
			}
			next.Metadata.SourceWatermark = watermark
		}
		return next, nil
	})
	if err != nil {
		return fmt.Errorf("updating artifact: %w", err)
	}

	report.Applied = append(report.Applied, merged.Applied...)
	report.Rejected = append(report.Rejected, merged.Rejected...)
	report.Warnings = append(report.Warnings, merged.Warnings...)
	report.Changed = merged.Changed
	if saved != nil {
		report.Version = saved.Metadata.Version
		report.Watermark = saved.Metadata.SourceWatermark
	}
	for _, a := range merged.Applied {
		metrics.MergeOperations.WithLabelValues(string(a.Operation.Section), metrics.ResultAccepted).Inc()
	}
	for _, r := range merged.Rejected {
		metrics.MergeOperations.WithLabelValues(string(r.Operation.Section), metrics.ResultRejected).Inc()
		logger.Warn().
			Int64("message_id", r.Operation.SourceMessageID).
			Str("section", string(r.Operation.Section)).
			Str("reason", string(r.Reason)).
			Msg(r.Detail)
	}
	for _, f := range report.ParseErrors {
		logger.Warn().Int64("message_id", f.MessageID).Int("block", f.Block).Msg(f.Error)
	}

	if saved == nil || !merged.Changed {
		return nil
	}

	if err := p.createAnomalies(ctx, threadID, saved, merged.Applied, report); err != nil {
		return err
	}
	return p.enrichDeleteWarnings(ctx, threadID, merged.Applied, report)
}

// createAnomalies stores a standalone anomaly for every accepted anomaly_register ADD
func (p *Pipeline) createAnomalies(ctx context.Context, threadID string, art *artifact.Artifact, applied []artifact.Applied, report *Report) error {
	for _, a := range applied {
		if a.Operation.Section != delta.SectionAnomalyRegister || a.Operation.Operation != delta.OpAdd {
			continue
		}
		var entry *artifact.AnomalyEntry
		for i := range art.Sections.AnomalyRegister {
			if art.Sections.AnomalyRegister[i].ID == a.RecordID {
				entry = &art.Sections.AnomalyRegister[i]
				break
			}
		}
		if entry == nil {
			continue
		}
		observation := strings.TrimSpace(entry.Observation)
		if observation == "" {
			observation = entry.Name
		}
		conflicts := anomaly.SplitConflicts(entry.ConflictsWith)
		conflicts.Description = entry.Name
		created, err := p.anomalies.Create(ctx, anomaly.Draft{
			SessionID:   threadID,
			Observation: observation,
			Source: anomaly.Source{
				Type:      anomaly.SourceThreadMessage,
				Reference: fmt.Sprintf("%s#%d", threadID, a.Operation.SourceMessageID),
			},
			Conflicts: conflicts,
		})
		if err != nil {
			if errors.Is(err, sessionstore.ErrCorruptSession) {
				report.StorageWarnings = append(report.StorageWarnings, sessionstore.Warning{SessionID: threadID, Reason: err.Error()})
				continue
			}
			return fmt.Errorf("recording anomaly %s: %w", entry.ID, err)
		}
		report.AnomaliesCreated = append(report.AnomaliesCreated, created.ID)
	}
	return nil
}

// enrichDeleteWarnings adds a warning for each deleted hypothesis or assumption
// that stored anomalies of this session still conflict with
func (p *Pipeline) enrichDeleteWarnings(ctx context.Context, threadID string, applied []artifact.Applied, report *Report) error {
	var deletes []artifact.Applied
	for _, a := range applied {
		if a.Operation.Operation != delta.OpDelete {
			continue
		}
		if a.Operation.Section == delta.SectionHypothesisSlate || a.Operation.Section == delta.SectionAssumptionLedger {
			deletes = append(deletes, a)
		}
	}
	if len(deletes) == 0 || p.index == nil {
		return nil
	}

	idx, warnings, err := p.index.LoadIndex(ctx)
	if err != nil {
		return fmt.Errorf("loading anomaly index: %w", err)
	}
	report.StorageWarnings = append(report.StorageWarnings, warnings...)

	for _, d := range deletes {
		var entries []sessionstore.IndexEntry
		if d.Operation.Section == delta.SectionHypothesisSlate {
			entries = idx.ByHypothesis(d.RecordID)
		} else {
			entries = idx.ByAssumption(d.RecordID)
		}
		var refs []string
		for _, e := range entries {
			if e.SessionID == threadID && e.Status != anomaly.StatusResolved {
				refs = append(refs, e.ID)
			}
		}
		if len(refs) == 0 {
			continue
		}
		report.Warnings = append(report.Warnings, artifact.Warning{
			Code:            WarningStandaloneConflict,
			Section:         d.Operation.Section,
			RecordID:        d.RecordID,
			ReferencedBy:    refs,
			SourceMessageID: d.Operation.SourceMessageID,
			Message:         fmt.Sprintf("%s deleted while stored anomalies %s still conflict with it", d.RecordID, strings.Join(refs, ", ")),
		})
	}
	return nil
}

// Anchors collects the transcript anchors cited by an operation's rationale
// and its payload "anchors" list
func Anchors(op delta.DeltaOperation) []int {
	var entries []string
	switch v := op.Payload["anchors"].(type) {
	case []any:
		for _, item := range v {
			entries = append(entries, fmt.Sprint(item))
		}
	case string:
		entries = append(entries, v)
	}

	set := map[int]bool{}
	for _, n := range citation.Extract(op.Rationale) {
		set[n] = true
	}
	for _, n := range citation.ParseAnchors(entries) {
		set[n] = true
	}
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func earliest(msgs []models.Message) time.Time {
	var first time.Time
	for i, m := range msgs {
		if i == 0 || m.CreatedAt.Before(first) {
			first = m.CreatedAt
		}
	}
	return first.UTC()
}
