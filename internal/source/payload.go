// Package source holds helpers shared by the source adapters: payload
// cleaning and HTTP error classification. The adapters themselves live in
// subpackages, one per external source.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"regexp"
	"strings"

	"github.com/famewatch/enricher/internal/catalog"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// CleanPayload normalizes a raw response before persistence: JSON input is
// re-serialized for consistency, other text has whitespace collapsed and
// invalid UTF-8 dropped.
func CleanPayload(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err == nil {
		if reencoded, err := json.Marshal(decoded); err == nil {
			return reencoded
		}
	}

	text := whitespaceRun.ReplaceAllString(string(trimmed), " ")
	return []byte(strings.ToValidUTF8(text, ""))
}

// MarshalPayload encodes structured fields as the record's raw payload.
func MarshalPayload(fields map[string]any) ([]byte, error) {
	return json.Marshal(fields)
}

// ClassifyTransportError maps a transport-level error onto a failure kind.
func ClassifyTransportError(err error) catalog.FailureKind {
	if err == nil {
		return catalog.FailureNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return catalog.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return catalog.FailureTimeout
	}
	return catalog.FailureNetwork
}
