package profileapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
)

func testSubject() catalog.Subject {
	return catalog.Subject{
		ID:          "sub-1",
		DisplayName: "Ada Lovelace",
		Attributes:  map[string]string{"profile_handle": "adalovelace"},
	}
}

func testCredential() catalog.Credential {
	return catalog.Credential{
		ID:       "acct-1",
		Kind:     catalog.CredentialAccount,
		Username: "scraper_one",
		Secret:   "hunter2",
	}
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL}, zap.NewNop())
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "scraper_one", user)
		require.Equal(t, "hunter2", pass)
		require.Equal(t, "adalovelace", r.URL.Query().Get("username"))
		w.Write([]byte(`{"data":{"user":{"username":"adalovelace","full_name":"Ada Lovelace","biography":"mathematician","follower_count":120000,"media_count":42,"is_private":false,"is_verified":true}}}`))
	})

	res := a.Fetch(context.Background(), testSubject(), testCredential())

	require.True(t, res.OK())
	require.Equal(t, int64(120000), res.Fields["followers"])
	require.Equal(t, true, res.Fields["is_verified"])
	require.NotEmpty(t, res.RawPayload)
}

func TestFetchPrivateProfileStillSucceeds(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"user":{"username":"adalovelace","is_private":true}}}`))
	})

	res := a.Fetch(context.Background(), testSubject(), testCredential())

	require.True(t, res.OK())
	require.Equal(t, true, res.Fields["is_private"])
}

func TestFetchNotFound(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	res := a.Fetch(context.Background(), testSubject(), testCredential())

	require.Equal(t, catalog.StatusNotFound, res.Status)
	require.True(t, res.Failure.Terminal())
}

func TestFetchMissingUserDocument(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	})

	res := a.Fetch(context.Background(), testSubject(), testCredential())

	require.Equal(t, catalog.FailureNotFound, res.Failure)
}

func TestFetchRejectedAccount(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	res := a.Fetch(context.Background(), testSubject(), testCredential())

	require.Equal(t, catalog.FailureInvalidCredential, res.Failure)
	require.NotContains(t, res.Detail, "hunter2")
}

func TestFetchRateLimited(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	res := a.Fetch(context.Background(), testSubject(), testCredential())

	require.Equal(t, catalog.StatusRateLimited, res.Status)
	require.False(t, res.Failure.Terminal())
}

func TestResolveHandleFallsBackToGenericAttribute(t *testing.T) {
	t.Parallel()

	a := New(Config{BaseURL: "http://unused"}, zap.NewNop())

	handle, ok := a.ResolveHandle(catalog.Subject{Attributes: map[string]string{"handle": "ada"}})
	require.True(t, ok)
	require.Equal(t, "ada", handle)

	_, ok = a.ResolveHandle(catalog.Subject{DisplayName: "No Handle"})
	require.False(t, ok)
}
