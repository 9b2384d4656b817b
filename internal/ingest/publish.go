package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/brenner/internal/artifact"
	"github.com/brenner/internal/messaging"
	"github.com/brenner/internal/sessionstore"
	"github.com/brenner/pkg/models"
)

// PublishResult is the message sent for a compiled artifact
type PublishResult struct {
	ThreadID string          `json:"thread_id"`
	Version  int             `json:"version"`
	Message  *models.Message `json:"message"`
}

// Publish renders the current artifact, posts it to the thread addressed to
// every registered agent, and marks the artifact compiled.
func (p *Pipeline) Publish(ctx context.Context, threadID string) (*PublishResult, error) {
	art, err := p.artifacts.Load(ctx, threadID)
	if errors.Is(err, sessionstore.ErrArtifactNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoArtifact, threadID)
	}
	if err != nil {
		return nil, err
	}

	body := artifact.RenderMarkdown(art, artifact.RenderOptions{AnchorBase: p.cfg.AnchorBase})
	msg, err := p.messenger.SendMessage(ctx, threadID, messaging.Outgoing{
		Sender:     p.cfg.Operator,
		Recipients: p.cfg.Registry.Agents(),
		Subject:    fmt.Sprintf("COMPILED: %s v%d", threadID, art.Metadata.Version),
		Body:       body,
		Importance: models.ImportanceHigh,
	})
	if err != nil {
		return nil, fmt.Errorf("sending compiled artifact: %w", err)
	}

	_, err = p.artifacts.Update(ctx, threadID, func(current *artifact.Artifact) (*artifact.Artifact, error) {
		if current == nil || current.Metadata.Status == artifact.StatusCompiled {
			return current, nil
		}
		next := current.Clone()
		next.Metadata.Status = artifact.StatusCompiled
		return next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("marking artifact compiled: %w", err)
	}

	p.log.Info().Str("thread_id", threadID).Int64("message_id", msg.ID).Int("version", art.Metadata.Version).Msg("artifact published")
	return &PublishResult{ThreadID: threadID, Version: art.Metadata.Version, Message: msg}, nil
}
