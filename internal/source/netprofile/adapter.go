// Package netprofile implements the scraped social-profile source adapter.
// The upstream has no public API, so the adapter fetches the public profile
// page with gocolly, routes each attempt through a rotated egress proxy, and
// extracts fields from the JSON the page embeds.
package netprofile

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
	"github.com/famewatch/enricher/internal/source"
)

// SourceName prefixes record sort keys for this adapter.
const SourceName = "net_profile"

// defaultUserAgents is rotated when the config supplies none.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
}

var (
	followerRe  = regexp.MustCompile(`"follower_count"\s*:\s*(\d+)`)
	postCountRe = regexp.MustCompile(`"media_count"\s*:\s*(\d+)`)
	biographyRe = regexp.MustCompile(`"biography"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	privateRe   = regexp.MustCompile(`"is_private"\s*:\s*(true|false)`)
)

// Config controls the adapter.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgents []string
}

// Adapter scrapes public profile pages.
type Adapter struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds an Adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	return &Adapter{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Name implements catalog.SourceAdapter.
func (a *Adapter) Name() string {
	return SourceName
}

// ResolveHandle prefers the explicit attribute and falls back to the display
// name with spaces stripped, matching the upstream's vanity URL convention.
func (a *Adapter) ResolveHandle(subject catalog.Subject) (string, bool) {
	if h := subject.Attribute("net_handle"); h != "" {
		return h, true
	}
	if h := subject.Attribute("profile_handle"); h != "" {
		return h, true
	}
	name := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(subject.DisplayName), " ", ""))
	return name, name != ""
}

// Fetch implements catalog.SourceAdapter. The credential is the egress proxy
// for this attempt; an empty endpoint means a direct connection.
func (a *Adapter) Fetch(ctx context.Context, subject catalog.Subject, credential catalog.Credential) catalog.FetchResult {
	handle, ok := a.ResolveHandle(subject)
	if !ok {
		return catalog.Failuref(catalog.FailureInvalidHandle, "subject %s has no profile handle", subject.ID)
	}
	pageURL := fmt.Sprintf("%s/@%s", a.cfg.BaseURL, handle)

	collector := a.baseCollector.Clone()
	collector.UserAgent = a.pickUserAgent()
	collector.SetRequestTimeout(a.cfg.Timeout)
	if credential.Endpoint != "" {
		if err := collector.SetProxy(credential.Endpoint); err != nil {
			return catalog.Failuref(catalog.FailureInvalidRequest, "proxy %s: %v", credential.Redacted(), err)
		}
	}

	var (
		body       []byte
		statusCode int
		fetchErr   error
	)
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()
	select {
	case <-ctx.Done():
		return catalog.Failuref(catalog.FailureTimeout, "profile page fetch canceled: %v", ctx.Err())
	case err := <-done:
		if err != nil && fetchErr == nil {
			fetchErr = err
		}
	}

	if kind, detail := classifyPageOutcome(statusCode, fetchErr, handle); kind != catalog.FailureNone {
		return catalog.Failuref(kind, "%s", detail)
	}

	fields, extracted := extractFields(string(body), handle)
	if !extracted {
		return catalog.Failuref(catalog.FailureParse, "profile page for %q had no recognizable profile data", handle)
	}

	payload, err := source.MarshalPayload(fields)
	if err != nil {
		return catalog.Failuref(catalog.FailureParse, "encode extracted fields: %v", err)
	}

	a.logger.Info("profile page scraped",
		zap.String("subject", subject.ID),
		zap.String("handle", handle),
		zap.String("proxy", credential.Redacted()),
	)
	return catalog.FetchResult{
		Status:     catalog.StatusSuccess,
		RawPayload: payload,
		Fields:     fields,
		SourceURI:  pageURL,
	}
}

func (a *Adapter) pickUserAgent() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.UserAgents[a.rng.Intn(len(a.cfg.UserAgents))]
}

func classifyPageOutcome(statusCode int, fetchErr error, handle string) (catalog.FailureKind, string) {
	switch statusCode {
	case http.StatusOK:
		return catalog.FailureNone, ""
	case http.StatusTooManyRequests:
		return catalog.FailureRateLimit, fmt.Sprintf("profile page rate limited handle %q", handle)
	case http.StatusForbidden:
		return catalog.FailureDetected, fmt.Sprintf("profile page blocked request for %q", handle)
	case http.StatusNotFound:
		return catalog.FailureNotFound, fmt.Sprintf("profile %q does not exist", handle)
	}
	if statusCode >= 500 {
		return catalog.FailureNetwork, fmt.Sprintf("profile page server error (%d)", statusCode)
	}
	if fetchErr != nil {
		kind := source.ClassifyTransportError(fetchErr)
		return kind, fmt.Sprintf("profile page fetch for %q: %v", handle, fetchErr)
	}
	if statusCode != http.StatusOK {
		return catalog.FailureMalformedResponse, fmt.Sprintf("profile page unexpected status (%d)", statusCode)
	}
	return catalog.FailureNone, ""
}

// extractFields pulls the embedded profile JSON out of the page HTML. A page
// that matches none of the patterns is treated as unparseable rather than
// empty, since the upstream always embeds at least the handle document.
func extractFields(page, handle string) (map[string]any, bool) {
	fields := map[string]any{"handle": handle}
	matched := false

	if m := followerRe.FindStringSubmatch(page); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			fields["followers"] = n
			matched = true
		}
	}
	if m := postCountRe.FindStringSubmatch(page); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			fields["posts"] = n
			matched = true
		}
	}
	if m := biographyRe.FindStringSubmatch(page); m != nil {
		if bio, err := strconv.Unquote(`"` + m[1] + `"`); err == nil {
			fields["biography"] = bio
		} else {
			fields["biography"] = m[1]
		}
		matched = true
	}
	if m := privateRe.FindStringSubmatch(page); m != nil {
		fields["is_private"] = m[1] == "true"
		matched = true
	}
	return fields, matched
}
