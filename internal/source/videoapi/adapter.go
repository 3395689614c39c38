// Package videoapi implements the video-platform source adapter. Resolving a
// subject takes two calls: a channel search by display name unless the
// subject already carries a channel id, then a statistics lookup for that
// channel. The statistics document is what gets persisted.
package videoapi

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
const SourceName = "video_channel"

// Config controls the adapter.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Adapter fetches channel statistics.
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

// ResolveHandle prefers an explicit channel id attribute and otherwise falls
// back to the display name, which Fetch resolves through channel search.
func (a *Adapter) ResolveHandle(subject catalog.Subject) (string, bool) {
	if id := subject.Attribute("channel_id"); id != "" {
		return id, true
	}
	name := strings.TrimSpace(subject.DisplayName)
	return name, name != ""
}

type searchResponse struct {
	Items []struct {
		ID struct {
			ChannelID string `json:"channelId"`
		} `json:"id"`
	} `json:"items"`
}

type channelsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
		Statistics struct {
			SubscriberCount string `json:"subscriberCount"`
			VideoCount      string `json:"videoCount"`
			ViewCount       string `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// Fetch implements catalog.SourceAdapter.
func (a *Adapter) Fetch(ctx context.Context, subject catalog.Subject, credential catalog.Credential) catalog.FetchResult {
	channelID := subject.Attribute("channel_id")
	if channelID == "" {
		name := strings.TrimSpace(subject.DisplayName)
		if name == "" {
			return catalog.Failuref(catalog.FailureInvalidHandle, "subject %s has no channel id or name", subject.ID)
		}
		id, failure := a.searchChannel(ctx, name, credential)
		if failure != nil {
			return *failure
		}
		channelID = id
	}
	return a.fetchChannel(ctx, subject, channelID, credential)
}

func (a *Adapter) searchChannel(ctx context.Context, name string, credential catalog.Credential) (string, *catalog.FetchResult) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "channel")
	params.Set("q", name)
	params.Set("maxResults", "1")
	params.Set("key", credential.Secret)

	body, failure := a.get(ctx, a.cfg.BaseURL+"/search?"+params.Encode(), "channel search")
	if failure != nil {
		return "", failure
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		res := catalog.Failuref(catalog.FailureMalformedResponse, "decode channel search: %v", err)
		return "", &res
	}
	if len(decoded.Items) == 0 || decoded.Items[0].ID.ChannelID == "" {
		res := catalog.Failuref(catalog.FailureNotFound, "no channel found for %q", name)
		return "", &res
	}
	return decoded.Items[0].ID.ChannelID, nil
}

func (a *Adapter) fetchChannel(ctx context.Context, subject catalog.Subject, channelID string, credential catalog.Credential) catalog.FetchResult {
	params := url.Values{}
	params.Set("part", "snippet,statistics")
	params.Set("id", channelID)
	params.Set("key", credential.Secret)
	endpoint := a.cfg.BaseURL + "/channels?" + params.Encode()

	body, failure := a.get(ctx, endpoint, "channel statistics")
	if failure != nil {
		return *failure
	}

	var decoded channelsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return catalog.Failuref(catalog.FailureMalformedResponse, "decode channel statistics: %v", err)
	}
	if len(decoded.Items) == 0 {
		return catalog.Failuref(catalog.FailureNotFound, "channel %s has no statistics document", channelID)
	}

	item := decoded.Items[0]
	a.logger.Info("channel statistics fetched",
		zap.String("subject", subject.ID),
		zap.String("channel_id", channelID),
	)
	return catalog.FetchResult{
		Status:     catalog.StatusSuccess,
		RawPayload: source.CleanPayload(body),
		Fields: map[string]any{
			"channel_id":  item.ID,
			"title":       item.Snippet.Title,
			"subscribers": item.Statistics.SubscriberCount,
			"videos":      item.Statistics.VideoCount,
			"views":       item.Statistics.ViewCount,
		},
		SourceURI: a.cfg.BaseURL + "/channels?id=" + url.QueryEscape(channelID),
	}
}

// get performs one API call and classifies any failure. A 403 means the key's
// daily quota is exhausted, which clears on its own, so it maps to the
// retryable rate-limit kind rather than a credential rejection.
func (a *Adapter) get(ctx context.Context, endpoint, operation string) ([]byte, *catalog.FetchResult) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		res := catalog.Failuref(catalog.FailureInvalidRequest, "build %s request: %v", operation, err)
		return nil, &res
	}

	resp, err := a.client.Do(req)
	if err != nil {
		kind := source.ClassifyTransportError(err)
		res := catalog.Failuref(kind, "%s request: %v", operation, err)
		return nil, &res
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		res := catalog.Failuref(catalog.FailureNetwork, "read %s response: %v", operation, err)
		return nil, &res
	}

	var kind catalog.FailureKind
	var detail string
	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		kind, detail = catalog.FailureRateLimit, fmt.Sprintf("%s quota exhausted (%d)", operation, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized:
		kind, detail = catalog.FailureInvalidCredential, fmt.Sprintf("%s rejected key (401)", operation)
	case resp.StatusCode == http.StatusBadRequest:
		kind, detail = catalog.FailureInvalidRequest, fmt.Sprintf("%s bad request (400)", operation)
	case resp.StatusCode == http.StatusNotFound:
		kind, detail = catalog.FailureNotFound, fmt.Sprintf("%s not found (404)", operation)
	case resp.StatusCode >= 500:
		kind, detail = catalog.FailureNetwork, fmt.Sprintf("%s server error (%d)", operation, resp.StatusCode)
	default:
		kind, detail = catalog.FailureMalformedResponse, fmt.Sprintf("%s unexpected status (%d)", operation, resp.StatusCode)
	}
	res := catalog.Failuref(kind, "%s", detail)
	return nil, &res
}
