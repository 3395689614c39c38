// Package profileapi implements the social-profile source adapter. It calls
// an authenticated profile REST endpoint with a rotated account credential
// and persists the profile document it returns.
package profileapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
	"github.com/famewatch/enricher/internal/source"
)

// SourceName prefixes record sort keys for this adapter.
const SourceName = "social_profile"

// Config controls the adapter.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Adapter fetches profile documents by handle.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds an Adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
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

// ResolveHandle looks up the subject's profile handle attribute.
func (a *Adapter) ResolveHandle(subject catalog.Subject) (string, bool) {
	if h := subject.Attribute("profile_handle"); h != "" {
		return h, true
	}
	if h := subject.Attribute("handle"); h != "" {
		return h, true
	}
	return "", false
}

type profileResponse struct {
	Data struct {
		User *struct {
			Username      string `json:"username"`
			FullName      string `json:"full_name"`
			Biography     string `json:"biography"`
			FollowerCount int64  `json:"follower_count"`
			MediaCount    int64  `json:"media_count"`
			IsPrivate     bool   `json:"is_private"`
			IsVerified    bool   `json:"is_verified"`
		} `json:"user"`
	} `json:"data"`
}

// Fetch implements catalog.SourceAdapter.
func (a *Adapter) Fetch(ctx context.Context, subject catalog.Subject, credential catalog.Credential) catalog.FetchResult {
	handle, ok := a.ResolveHandle(subject)
	if !ok {
		return catalog.Failuref(catalog.FailureInvalidHandle, "subject %s has no profile handle", subject.ID)
	}

	endpoint := fmt.Sprintf("%s/users/web_profile_info/?username=%s", a.cfg.BaseURL, url.QueryEscape(handle))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return catalog.Failuref(catalog.FailureInvalidRequest, "build profile request: %v", err)
	}
	req.SetBasicAuth(credential.Username, credential.Secret)
	if a.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", a.cfg.UserAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		kind := source.ClassifyTransportError(err)
		return catalog.Failuref(kind, "profile request for %q: %v", handle, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return catalog.Failuref(catalog.FailureNetwork, "read profile response: %v", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return catalog.Failuref(catalog.FailureRateLimit, "profile API rate limited handle %q", handle)
	case http.StatusUnauthorized, http.StatusForbidden:
		return catalog.Failuref(catalog.FailureInvalidCredential, "profile API rejected account %s (%d)", credential.Redacted(), resp.StatusCode)
	case http.StatusNotFound:
		return catalog.Failuref(catalog.FailureNotFound, "profile %q does not exist", handle)
	case http.StatusBadRequest:
		return catalog.Failuref(catalog.FailureInvalidRequest, "profile API bad request for %q", handle)
	default:
		if resp.StatusCode >= 500 {
			return catalog.Failuref(catalog.FailureNetwork, "profile API server error (%d)", resp.StatusCode)
		}
		return catalog.Failuref(catalog.FailureMalformedResponse, "profile API unexpected status (%d)", resp.StatusCode)
	}

	var decoded profileResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return catalog.Failuref(catalog.FailureMalformedResponse, "decode profile response: %v", err)
	}
	if decoded.Data.User == nil {
		return catalog.Failuref(catalog.FailureNotFound, "profile %q has no user document", handle)
	}

	user := decoded.Data.User
	a.logger.Info("profile fetched",
		zap.String("subject", subject.ID),
		zap.String("handle", handle),
		zap.Bool("private", user.IsPrivate),
	)
	return catalog.FetchResult{
		Status:     catalog.StatusSuccess,
		RawPayload: source.CleanPayload(body),
		Fields: map[string]any{
			"handle":      handle,
			"is_private":  user.IsPrivate,
			"is_verified": user.IsVerified,
			"followers":   user.FollowerCount,
			"posts":       user.MediaCount,
		},
		SourceURI: endpoint,
	}
}
