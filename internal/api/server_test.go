package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
	"github.com/famewatch/enricher/internal/store/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewServer(store, zap.NewNop()), store
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestListRecords(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.PutRecord(context.Background(), catalog.SourceRecord{
		SubjectID:   "sub-1",
		SortKey:     catalog.SortKeyFor("web_search", at),
		RecordID:    "rec-1",
		RawPayload:  `{"query":"ada"}`,
		CollectedAt: at,
	}))
	require.NoError(t, store.PutRecord(context.Background(), catalog.SourceRecord{
		SubjectID:   "sub-1",
		SortKey:     catalog.SortKeyFor("video_channel", at),
		RecordID:    "rec-2",
		RawPayload:  `{"channel_id":"UC1"}`,
		CollectedAt: at,
	}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/subjects/sub-1/records?source=web_search", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		SubjectID string                 `json:"subject_id"`
		Count     int                    `json:"count"`
		Records   []catalog.SourceRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "sub-1", body.SubjectID)
	require.Equal(t, 1, body.Count)
	require.Equal(t, "rec-1", body.Records[0].RecordID)
}

func TestListRecordsUnknownSubjectIsEmpty(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/subjects/ghost/records", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Zero(t, body.Count)
}
