package videoapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
)

const channelsBody = `{"items":[{"id":"UC123","snippet":{"title":"Ada Lovelace"},"statistics":{"subscriberCount":"250000","videoCount":"87","viewCount":"4100000"}}]}`

func testCredential() catalog.Credential {
	return catalog.Credential{ID: "video-key-1", Kind: catalog.CredentialAPIKey, Secret: "vkey"}
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL}, zap.NewNop())
}

func TestFetchSearchesThenFetchesStatistics(t *testing.T) {
	t.Parallel()

	var paths []string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/search":
			require.Equal(t, "Ada Lovelace", r.URL.Query().Get("q"))
			require.Equal(t, "vkey", r.URL.Query().Get("key"))
			w.Write([]byte(`{"items":[{"id":{"channelId":"UC123"}}]}`))
		case "/channels":
			require.Equal(t, "UC123", r.URL.Query().Get("id"))
			w.Write([]byte(channelsBody))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	res := a.Fetch(context.Background(), catalog.Subject{ID: "sub-1", DisplayName: "Ada Lovelace"}, testCredential())

	require.True(t, res.OK())
	require.Equal(t, []string{"/search", "/channels"}, paths)
	require.Equal(t, "UC123", res.Fields["channel_id"])
	require.Equal(t, "250000", res.Fields["subscribers"])
	require.NotContains(t, res.SourceURI, "vkey")
}

func TestFetchSkipsSearchWithChannelIDAttribute(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/channels", r.URL.Path)
		require.Equal(t, "UC999", r.URL.Query().Get("id"))
		w.Write([]byte(channelsBody))
	})

	subject := catalog.Subject{
		ID:          "sub-2",
		DisplayName: "Ada Lovelace",
		Attributes:  map[string]string{"channel_id": "UC999"},
	}
	res := a.Fetch(context.Background(), subject, testCredential())

	require.True(t, res.OK())
}

func TestFetchNoChannelFound(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[]}`))
	})

	res := a.Fetch(context.Background(), catalog.Subject{ID: "sub-3", DisplayName: "Nobody Known"}, testCredential())

	require.Equal(t, catalog.FailureNotFound, res.Failure)
	require.True(t, res.Failure.Terminal())
}

func TestFetchQuotaExhaustedIsRetryable(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	res := a.Fetch(context.Background(), catalog.Subject{ID: "sub-4", DisplayName: "Ada Lovelace"}, testCredential())

	require.Equal(t, catalog.FailureRateLimit, res.Failure)
	require.Equal(t, catalog.StatusRateLimited, res.Status)
	require.False(t, res.Failure.Terminal())
}

func TestFetchRejectedKey(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	res := a.Fetch(context.Background(), catalog.Subject{ID: "sub-5", DisplayName: "Ada Lovelace"}, testCredential())

	require.Equal(t, catalog.FailureInvalidCredential, res.Failure)
	require.True(t, res.Failure.Terminal())
}

func TestFetchMalformedStatistics(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			w.Write([]byte(`{"items":[{"id":{"channelId":"UC123"}}]}`))
		default:
			w.Write([]byte(`not json`))
		}
	})

	res := a.Fetch(context.Background(), catalog.Subject{ID: "sub-6", DisplayName: "Ada Lovelace"}, testCredential())

	require.Equal(t, catalog.FailureMalformedResponse, res.Failure)
	require.False(t, res.Failure.Terminal())
}
