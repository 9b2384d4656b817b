package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/brenner/internal/anomaly"
	"github.com/brenner/internal/artifact"
	"github.com/brenner/internal/sessionstore"
)

// getArtifact handles GET /api/v1/sessions/:id/artifact?format=json|yaml|markdown
func (s *Server) getArtifact(c echo.Context) error {
	art, err := s.deps.Artifacts.Load(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	switch strings.ToLower(c.QueryParam("format")) {
	case "", "json":
		return c.JSON(http.StatusOK, art)
	case "yaml":
		out, err := artifact.ToYAML(art)
		if err != nil {
			return httpError(err)
		}
		return c.Blob(http.StatusOK, "application/yaml", out)
	case "markdown", "md":
		body := artifact.RenderMarkdown(art, artifact.RenderOptions{AnchorBase: s.deps.AnchorBase})
		return c.Blob(http.StatusOK, "text/markdown; charset=UTF-8", []byte(body))
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "format must be json, yaml or markdown")
	}
}

// listSessionAnomalies handles GET /api/v1/sessions/:id/anomalies. Corrupt
// session files are reported as warnings next to an empty list.
func (s *Server) listSessionAnomalies(c echo.Context) error {
	sessionID := c.Param("id")
	if !anomaly.ValidSessionID(sessionID) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	records, warnings, err := s.deps.Store.LoadSessionWithWarnings(c.Request().Context(), sessionID)
	if err != nil {
		return httpError(err)
	}
	if records == nil {
		records = []*anomaly.Anomaly{}
	}
	if warnings == nil {
		warnings = []sessionstore.Warning{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"anomalies":  records,
		"warnings":   warnings,
	})
}

type createAnomalyRequest struct {
	Observation   string         `json:"observation"`
	Source        anomaly.Source `json:"source"`
	ConflictsWith []string       `json:"conflicts_with"`
	Description   string         `json:"description"`
}

// createAnomaly handles POST /api/v1/sessions/:id/anomalies
func (s *Server) createAnomaly(c echo.Context) error {
	var req createAnomalyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	conflicts := anomaly.SplitConflicts(req.ConflictsWith)
	conflicts.Description = strings.TrimSpace(req.Description)
	created, err := s.deps.Anomalies.Create(c.Request().Context(), anomaly.Draft{
		SessionID:   c.Param("id"),
		Observation: req.Observation,
		Source:      req.Source,
		Conflicts:   conflicts,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}
