// Package searchapi implements the web-search source adapter. It queries a
// programmable search REST API by subject display name and persists the raw
// result set.
package searchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
	"github.com/famewatch/enricher/internal/source"
)

// SourceName prefixes record sort keys for this adapter.
const SourceName = "web_search"

// Config controls the adapter.
type Config struct {
	BaseURL     string
	EngineID    string
	Timeout     time.Duration
	ResultCount int
}

// Adapter fetches search results for a subject.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds an Adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ResultCount <= 0 {
		cfg.ResultCount = 10
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Name implements catalog.SourceAdapter.
func (a *Adapter) Name() string {
	return SourceName
}

// ResolveHandle uses the subject display name as the search query.
func (a *Adapter) ResolveHandle(subject catalog.Subject) (string, bool) {
	name := strings.TrimSpace(subject.DisplayName)
	return name, name != ""
}

type searchResponse struct {
	Items []json.RawMessage `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Fetch implements catalog.SourceAdapter.
func (a *Adapter) Fetch(ctx context.Context, subject catalog.Subject, credential catalog.Credential) catalog.FetchResult {
	query, ok := a.ResolveHandle(subject)
	if !ok {
		return catalog.Failuref(catalog.FailureInvalidHandle, "subject %s has no searchable name", subject.ID)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("key", credential.Secret)
	params.Set("cx", a.cfg.EngineID)
	params.Set("num", fmt.Sprint(a.cfg.ResultCount))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return catalog.Failuref(catalog.FailureInvalidRequest, "build search request: %v", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		kind := source.ClassifyTransportError(err)
		return catalog.Failuref(kind, "search request for %q: %v", query, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return catalog.Failuref(catalog.FailureNetwork, "read search response: %v", err)
	}

	if kind, detail := classifyHTTPStatus(resp.StatusCode); kind != catalog.FailureNone {
		return catalog.Failuref(kind, "search API %s", detail)
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return catalog.Failuref(catalog.FailureMalformedResponse, "decode search response: %v", err)
	}
	if decoded.Error != nil {
		return classifyAPIError(decoded.Error.Code, decoded.Error.Message)
	}

	a.logger.Info("search results fetched",
		zap.String("subject", subject.ID),
		zap.Int("items", len(decoded.Items)),
	)
	return catalog.FetchResult{
		Status:     catalog.StatusSuccess,
		RawPayload: source.CleanPayload(body),
		Fields: map[string]any{
			"query":      query,
			"item_count": len(decoded.Items),
		},
		SourceURI: a.cfg.BaseURL,
	}
}

func classifyHTTPStatus(status int) (catalog.FailureKind, string) {
	switch {
	case status == http.StatusOK:
		return catalog.FailureNone, ""
	case status == http.StatusTooManyRequests:
		return catalog.FailureRateLimit, "rate limited (429)"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return catalog.FailureInvalidCredential, fmt.Sprintf("rejected credential (%d)", status)
	case status == http.StatusBadRequest:
		return catalog.FailureInvalidRequest, "bad request (400)"
	case status == http.StatusNotFound:
		return catalog.FailureNotFound, "not found (404)"
	case status >= 500:
		return catalog.FailureNetwork, fmt.Sprintf("server error (%d)", status)
	default:
		return catalog.FailureMalformedResponse, fmt.Sprintf("unexpected status (%d)", status)
	}
}

// classifyAPIError handles errors the API reports inside a 200 body.
func classifyAPIError(code int, message string) catalog.FetchResult {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "api key") || strings.Contains(lower, "invalid") {
		return catalog.Failuref(catalog.FailureInvalidCredential, "search API error %d: %s", code, message)
	}
	if code == http.StatusTooManyRequests || strings.Contains(lower, "quota") {
		return catalog.Failuref(catalog.FailureRateLimit, "search API error %d: %s", code, message)
	}
	return catalog.Failuref(catalog.FailureMalformedResponse, "search API error %d: %s", code, message)
}
