package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/brenner/internal/anomaly"
	"github.com/brenner/internal/ingest"
	"github.com/brenner/internal/messaging"
	"github.com/brenner/internal/sessionstore"
	"github.com/brenner/internal/threadstatus"
)

// Deps are the services the HTTP surface exposes
type Deps struct {
	Messenger  messaging.Messenger
	Projector  *threadstatus.Projector
	Pipeline   *ingest.Pipeline
	Artifacts  *sessionstore.ArtifactStore
	Anomalies  *anomaly.Service
	Store      *sessionstore.AnomalyStore
	AnchorBase string
	Logger     zerolog.Logger
}

// Server represents the API server
type Server struct {
	echo      *echo.Echo
	port      int
	rateLimit float64
	deps      Deps
	log       zerolog.Logger
}

// NewServer creates a new API server. rateLimit is the per-client request
// rate allowed on the ingest endpoint.
func NewServer(port int, rateLimit float64, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	server := &Server{
		echo:      e,
		port:      port,
		rateLimit: rateLimit,
		deps:      deps,
		log:       deps.Logger.With().Str("component", "api").Logger(),
	}
	if server.deps.Projector == nil {
		server.deps.Projector = threadstatus.NewProjector(nil)
	}

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := server.log.Info()
			if v.Error != nil {
				event = server.log.Warn().Err(v.Error)
			}
			event.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	limiter := middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(s.rateLimit)))

	// Threads
	v1.GET("/threads/:id/status", s.getThreadStatus)
	v1.GET("/threads/:id/summary", s.getThreadSummary)
	v1.GET("/threads/:id/pending", s.getThreadPending)
	v1.POST("/threads/:id/ingest", s.ingestThread, limiter)
	v1.POST("/threads/:id/publish", s.publishThread)

	// Sessions
	v1.GET("/sessions/:id/artifact", s.getArtifact)
	v1.GET("/sessions/:id/anomalies", s.listSessionAnomalies)
	v1.POST("/sessions/:id/anomalies", s.createAnomaly)

	// Anomalies
	v1.GET("/anomalies", s.queryAnomalies)
	v1.GET("/anomalies/stats", s.anomalyStats)
	v1.POST("/anomalies/:id/status", s.transitionAnomaly)
	v1.POST("/anomalies/:id/spawned", s.linkSpawned)
	v1.DELETE("/anomalies/:id", s.deleteAnomaly)

	v1.POST("/index/rebuild", s.rebuildIndex)
}

// ServeHTTP lets the server be driven directly by httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.port).Msg("api listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.log.Info().Msg("api shutting down")
	return s.echo.Shutdown(shutdownCtx)
}
