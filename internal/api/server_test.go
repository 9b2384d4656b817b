package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brenner/internal/anomaly"
	"github.com/brenner/internal/ingest"
	"github.com/brenner/internal/messaging"
	"github.com/brenner/internal/sessionstore"
	"github.com/brenner/internal/threadstatus"
)

const fence = "```"

type testEnv struct {
	server    *Server
	messenger *messaging.FileMessenger
}

func newTestEnv(t *testing.T, rateLimit float64) *testEnv {
	t.Helper()
	dir := t.TempDir()
	clock := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	messenger := messaging.NewFileMessenger(filepath.Join(dir, "threads")).WithClock(tick)
	artifacts, err := sessionstore.NewArtifactStore(filepath.Join(dir, "artifacts"), zerolog.Nop())
	require.NoError(t, err)
	store, err := sessionstore.NewAnomalyStore(filepath.Join(dir, "anomalies"), sessionstore.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	svc := anomaly.NewService(store).WithClock(tick)
	pipeline := ingest.NewPipeline(messenger, artifacts, svc, store, ingest.Config{Operator: "Operator"}, zerolog.Nop())

	server := NewServer(0, rateLimit, Deps{
		Messenger:  messenger,
		Projector:  threadstatus.NewProjector(nil),
		Pipeline:   pipeline,
		Artifacts:  artifacts,
		Anomalies:  svc,
		Store:      store,
		AnchorBase: "/transcript",
		Logger:     zerolog.Nop(),
	})
	return &testEnv{server: server, messenger: messenger}
}

func (e *testEnv) send(t *testing.T, from, subject, body string, to ...string) {
	t.Helper()
	_, err := e.messenger.SendMessage(context.Background(), "RS-1", messaging.Outgoing{
		Sender: from, Recipients: to, Subject: subject, Body: body, AckRequired: len(to) > 0,
	})
	require.NoError(t, err)
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func seedThread(t *testing.T, e *testEnv) {
	e.send(t, "Operator", "KICKOFF: positional information", "Begin.", "Codex", "Gemini", "Opus", "Claude")
	e.send(t, "Codex", "DELTA: hypotheses", fence+"delta\n"+
		`{"operation":"ADD","section":"hypothesis_slate","payload":{"name":"Gradient","claim":"Morphogen","anchors":["§12"]},"rationale":"r"}`+
		"\n"+fence+"\n")
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t, 5)

	rec := e.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = e.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestThreadEndpoints(t *testing.T) {
	e := newTestEnv(t, 5)
	seedThread(t, e)

	rec := e.do(t, http.MethodGet, "/api/v1/threads/RS-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, "gathering", status["phase"])
	assert.Equal(t, false, status["is_complete"])

	rec = e.do(t, http.MethodGet, "/api/v1/threads/RS-1/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Thread RS-1")

	rec = e.do(t, http.MethodGet, "/api/v1/threads/RS-1/pending?role=adversarial_critic", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode(t, rec)
	assert.Equal(t, []interface{}{"Gemini", "Opus", "Claude"}, pending["pending"])
	assert.Equal(t, []interface{}{"Claude", "Gemini", "Opus"}, pending["pending_acks"])
	assert.Equal(t, true, pending["waiting"])

	rec = e.do(t, http.MethodGet, "/api/v1/threads/RS-1/pending?role=librarian", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/threads/RS-404/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestPublishAndArtifact(t *testing.T) {
	e := newTestEnv(t, 5)
	seedThread(t, e)

	rec := e.do(t, http.MethodGet, "/api/v1/sessions/RS-1/artifact", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/v1/threads/RS-1/publish", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/threads/RS-1/ingest", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode(t, rec)
	assert.Equal(t, float64(1), report["version"])
	assert.Equal(t, true, report["changed"])

	rec = e.do(t, http.MethodGet, "/api/v1/sessions/RS-1/artifact", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Gradient")

	rec = e.do(t, http.MethodGet, "/api/v1/sessions/RS-1/artifact?format=yaml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "name: Gradient")

	rec = e.do(t, http.MethodGet, "/api/v1/sessions/RS-1/artifact?format=markdown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "### H1: Gradient")
	assert.Contains(t, rec.Body.String(), "/transcript#section-12")

	rec = e.do(t, http.MethodGet, "/api/v1/sessions/RS-1/artifact?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/threads/RS-1/publish", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	published := decode(t, rec)
	assert.Equal(t, float64(1), published["version"])

	rec = e.do(t, http.MethodGet, "/api/v1/threads/RS-1/status", "")
	assert.Equal(t, "complete", decode(t, rec)["phase"])
}

func TestIngestIsRateLimited(t *testing.T) {
	e := newTestEnv(t, 1)
	seedThread(t, e)

	rec := e.do(t, http.MethodPost, "/api/v1/threads/RS-1/ingest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/v1/threads/RS-1/ingest", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/threads/RS-1/status", "")
	assert.Equal(t, http.StatusOK, rec.Code, "only ingest is limited")
}

func TestAnomalyEndpoints(t *testing.T) {
	e := newTestEnv(t, 5)

	rec := e.do(t, http.MethodPost, "/api/v1/sessions/RS-1/anomalies", `{"observation":"Left-right inversion","conflicts_with":["H1","A2"],"description":"mirror"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	assert.Equal(t, "X-RS-1-1", created["id"])
	assert.Equal(t, "active", created["quarantine_status"])
	conflicts := created["conflicts_with"].(map[string]interface{})
	assert.Equal(t, []interface{}{"H1"}, conflicts["hypotheses"])
	assert.Equal(t, []interface{}{"A2"}, conflicts["assumptions"])

	rec = e.do(t, http.MethodPost, "/api/v1/sessions/RS-1/anomalies", `{"observation":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/v1/sessions/..bad/anomalies", `{"observation":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/v1/sessions/RS-1/anomalies", `{"observation":"Second","conflicts_with":["H2"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/sessions/RS-1/anomalies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["anomalies"], 2)

	rec = e.do(t, http.MethodGet, "/api/v1/anomalies?hypothesis=H1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode(t, rec)
	assert.Equal(t, float64(1), found["meta"].(map[string]interface{})["count"])

	rec = e.do(t, http.MethodGet, "/api/v1/anomalies?status=lost", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/anomalies/X-RS-1-1/status", `{"status":"deferred","note":"needs imaging"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deferred", decode(t, rec)["quarantine_status"])
	rec = e.do(t, http.MethodPost, "/api/v1/anomalies/X-RS-1-1/status", `{"status":"deferred"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/anomalies/X-RS-1-1/spawned", `{"hypothesis_id":"H3"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"H3"}, decode(t, rec)["spawned_hypotheses"])
	rec = e.do(t, http.MethodPost, "/api/v1/anomalies/X-RS-1-1/spawned", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/anomalies/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.Equal(t, float64(2), stats["total"])
	assert.Equal(t, float64(1), stats["with_spawned_hypotheses"])

	rec = e.do(t, http.MethodDelete, "/api/v1/anomalies/X-RS-1-2", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodDelete, "/api/v1/anomalies/X-RS-1-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, http.MethodDelete, "/api/v1/anomalies/nonsense", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/v1/anomalies/X-RS-1-9/status", `{"status":"resolved"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/index/rebuild", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rebuilt := decode(t, rec)
	assert.Equal(t, float64(1), rebuilt["sessions"])
	assert.Equal(t, float64(1), rebuilt["records"])
}
