package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/nanny/internal/journal"
	"github.com/mattjoyce/nanny/internal/supervisor"
)

type fakeSource struct {
	state    supervisor.State
	addr     *supervisor.ListeningAddress
	pid      int
	restarts int
}

func (f *fakeSource) State() supervisor.State               { return f.state }
func (f *fakeSource) Address() *supervisor.ListeningAddress { return f.addr }
func (f *fakeSource) PID() int                              { return f.pid }
func (f *fakeSource) Restarts() int                         { return f.restarts }

type fakeEvents struct {
	entries  []journal.Entry
	err      error
	gotLimit int
}

func (f *fakeEvents) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	f.gotLimit = limit
	return f.entries, f.err
}

func testServer(source StatusSource, events EventReader) *Server {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(Config{Listen: "127.0.0.1:0", ConfigDigest: "abc123"}, source, events, logger)
}

func TestHealthz(t *testing.T) {
	srv := testServer(&fakeSource{}, nil)

	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestStatusWhileRunning(t *testing.T) {
	source := &fakeSource{
		state:    supervisor.StateRunning,
		addr:     &supervisor.ListeningAddress{IP: "127.0.0.1", Port: 4000, URL: "http://127.0.0.1:4000"},
		pid:      4242,
		restarts: 2,
	}
	srv := testServer(source, nil)

	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.State)
	assert.Equal(t, 4242, resp.PID)
	assert.Equal(t, 2, resp.Restarts)
	assert.Equal(t, "http://127.0.0.1:4000", resp.URL)
	assert.Equal(t, "abc123", resp.ConfigDigest)
}

func TestStatusBeforeReadiness(t *testing.T) {
	srv := testServer(&fakeSource{state: supervisor.StateStarting, pid: 99}, nil)

	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "starting", resp.State)
	assert.Empty(t, resp.URL)
}

func TestEventsWithJournal(t *testing.T) {
	events := &fakeEvents{entries: []journal.Entry{
		{ID: "1", Kind: journal.KindRestart, Detail: "code 1", CreatedAt: time.Now()},
	}}
	srv := testServer(&fakeSource{}, events)

	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, httptest.NewRequest("GET", "/events?limit=7", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, events.gotLimit)
	var resp EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, journal.KindRestart, resp.Events[0].Kind)
}

func TestEventsBadLimit(t *testing.T) {
	srv := testServer(&fakeSource{}, &fakeEvents{})

	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, httptest.NewRequest("GET", "/events?limit=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, httptest.NewRequest("GET", "/events?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsWithoutJournal(t *testing.T) {
	srv := testServer(&fakeSource{}, nil)

	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, httptest.NewRequest("GET", "/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsJournalFailure(t *testing.T) {
	srv := testServer(&fakeSource{}, &fakeEvents{err: errors.New("db locked")})

	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, httptest.NewRequest("GET", "/events", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed to read journal", resp.Error)
}

func TestEventsEmptyJournalIsAnEmptyArray(t *testing.T) {
	srv := testServer(&fakeSource{}, &fakeEvents{})

	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, httptest.NewRequest("GET", "/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[]}`, rec.Body.String())
}
