package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/brenner/internal/anomaly"
	"github.com/brenner/internal/sessionstore"
)

func (s *Server) loadIndex(c echo.Context) (*sessionstore.Index, []sessionstore.Warning, error) {
	idx, warnings, err := s.deps.Store.LoadIndex(c.Request().Context())
	if err != nil {
		return nil, nil, httpError(err)
	}
	if warnings == nil {
		warnings = []sessionstore.Warning{}
	}
	return idx, warnings, nil
}

// queryAnomalies handles GET /api/v1/anomalies with optional session,
// status, hypothesis, assumption and spawned filters
func (s *Server) queryAnomalies(c echo.Context) error {
	q := sessionstore.Query{
		SessionID:  c.QueryParam("session"),
		Status:     anomaly.QuarantineStatus(c.QueryParam("status")),
		Hypothesis: c.QueryParam("hypothesis"),
		Assumption: c.QueryParam("assumption"),
		Spawned:    c.QueryParam("spawned"),
	}
	if q.Status != "" && !q.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status "+string(q.Status))
	}

	idx, warnings, err := s.loadIndex(c)
	if err != nil {
		return err
	}
	entries := idx.Query(q)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"anomalies": entries,
		"warnings":  warnings,
		"meta": map[string]interface{}{
			"count":    len(entries),
			"built_at": idx.BuiltAt,
		},
	})
}

// anomalyStats handles GET /api/v1/anomalies/stats
func (s *Server) anomalyStats(c echo.Context) error {
	idx, _, err := s.loadIndex(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, idx.Stats())
}

type transitionRequest struct {
	Status anomaly.QuarantineStatus `json:"status"`
	Note   string                   `json:"note"`
}

// transitionAnomaly handles POST /api/v1/anomalies/:id/status
func (s *Server) transitionAnomaly(c echo.Context) error {
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	updated, err := s.deps.Anomalies.Transition(c.Request().Context(), c.Param("id"), req.Status, req.Note)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

type linkRequest struct {
	HypothesisID string `json:"hypothesis_id"`
}

// linkSpawned handles POST /api/v1/anomalies/:id/spawned
func (s *Server) linkSpawned(c echo.Context) error {
	var req linkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.HypothesisID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "hypothesis_id is required")
	}
	updated, err := s.deps.Anomalies.LinkSpawnedHypothesis(c.Request().Context(), c.Param("id"), req.HypothesisID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// deleteAnomaly handles DELETE /api/v1/anomalies/:id
func (s *Server) deleteAnomaly(c echo.Context) error {
	removed, err := s.deps.Anomalies.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if !removed {
		return echo.NewHTTPError(http.StatusNotFound, anomaly.ErrNotFound.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// rebuildIndex handles POST /api/v1/index/rebuild
func (s *Server) rebuildIndex(c echo.Context) error {
	result, err := s.deps.Store.RebuildIndex(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": result.Sessions,
		"records":  result.Records,
		"skipped":  result.Skipped,
		"built_at": result.Index.BuiltAt,
	})
}
