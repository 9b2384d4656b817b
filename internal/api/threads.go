package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/brenner/pkg/models"
)

func (s *Server) readThread(c echo.Context) (models.Thread, error) {
	thread, err := s.deps.Messenger.ReadThread(c.Request().Context(), c.Param("id"))
	if err != nil {
		return models.Thread{}, httpError(err)
	}
	return *thread, nil
}

// getThreadStatus handles GET /api/v1/threads/:id/status
func (s *Server) getThreadStatus(c echo.Context) error {
	thread, err := s.readThread(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.deps.Projector.Compute(thread))
}

// getThreadSummary handles GET /api/v1/threads/:id/summary
func (s *Server) getThreadSummary(c echo.Context) error {
	thread, err := s.readThread(c)
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, s.deps.Projector.Summary(thread))
}

// getThreadPending handles GET /api/v1/threads/:id/pending. The optional role
// query parameter narrows the answer to one role.
func (s *Server) getThreadPending(c echo.Context) error {
	thread, err := s.readThread(c)
	if err != nil {
		return err
	}

	response := map[string]interface{}{
		"thread_id":    thread.ThreadID,
		"pending":      nonNil(s.deps.Projector.PendingAgents(thread)),
		"pending_acks": nonNil(s.deps.Projector.AgentsWithPendingAcks(thread)),
	}
	if role := c.QueryParam("role"); role != "" {
		if _, ok := s.deps.Projector.Registry().Role(role); !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown role "+role)
		}
		response["role"] = role
		response["waiting"] = s.deps.Projector.IsWaitingForRole(thread, role)
	}
	return c.JSON(http.StatusOK, response)
}

// ingestThread handles POST /api/v1/threads/:id/ingest
func (s *Server) ingestThread(c echo.Context) error {
	report, err := s.deps.Pipeline.Ingest(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// publishThread handles POST /api/v1/threads/:id/publish
func (s *Server) publishThread(c echo.Context) error {
	result, err := s.deps.Pipeline.Publish(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, result)
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
