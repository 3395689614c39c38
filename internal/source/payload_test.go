package source

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/famewatch/enricher/internal/catalog"
)

func TestCleanPayloadReencodesJSON(t *testing.T) {
	t.Parallel()

	cleaned := CleanPayload([]byte("  {\"b\": 1,\n \"a\": \"x\"}  "))
	require.JSONEq(t, `{"a":"x","b":1}`, string(cleaned))

	// Cleaning is idempotent on JSON input.
	require.Equal(t, cleaned, CleanPayload(cleaned))
}

func TestCleanPayloadCollapsesTextWhitespace(t *testing.T) {
	t.Parallel()

	cleaned := CleanPayload([]byte("hello \n\t  world"))
	require.Equal(t, "hello world", string(cleaned))
}

func TestCleanPayloadDropsInvalidUTF8(t *testing.T) {
	t.Parallel()

	cleaned := CleanPayload([]byte{'o', 'k', 0xff, '!'})
	require.True(t, utf8.Valid(cleaned))
	require.Equal(t, "ok!", string(cleaned))
}

func TestCleanPayloadEmpty(t *testing.T) {
	t.Parallel()

	require.Nil(t, CleanPayload([]byte("   ")))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTransportError(t *testing.T) {
	t.Parallel()

	require.Equal(t, catalog.FailureNone, ClassifyTransportError(nil))
	require.Equal(t, catalog.FailureTimeout, ClassifyTransportError(context.DeadlineExceeded))
	require.Equal(t, catalog.FailureTimeout, ClassifyTransportError(timeoutErr{}))
	require.Equal(t, catalog.FailureNetwork, ClassifyTransportError(errors.New("connection refused")))
}
