// Package enrich derives weight and sentiment for newly collected records.
// The processor consumes store change events, so enrichment rides the same
// at-least-once feed regardless of which collector wrote the record.
package enrich

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
	"github.com/famewatch/enricher/internal/sentiment"
)

// completenessCeiling is the field count at which a payload counts as fully
// complete.
const completenessCeiling = 10

// defaultReliability applies to hosts missing from the reliability table.
const defaultReliability = 0.5

// hostReliability scores how much a source's payloads can be trusted.
var hostReliability = map[string]float64{
	"api.themoviedb.org": 0.95,
	"en.wikipedia.org":   0.90,
	"newsapi.org":        0.85,
	"youtube.com":        0.85,
	"twitter.com":        0.80,
	"instagram.com":      0.75,
}

// metadataKeys are payload fields that carry bookkeeping, not content, and
// never count toward completeness.
var metadataKeys = map[string]struct{}{
	"id":       {},
	"source":   {},
	"raw_text": {},
}

// Config controls the processor.
type Config struct {
	// MaxChars caps the text handed to the sentiment classifier.
	MaxChars int
}

// Summary reports what one batch did.
type Summary struct {
	Enriched int
	Skipped  int
	Failed   int
}

// Processor computes and persists derived fields.
type Processor struct {
	cfg        Config
	store      catalog.RecordStore
	classifier catalog.SentimentClassifier
	clock      catalog.Clock
	logger     *zap.Logger
}

// New builds a Processor.
func New(cfg Config, store catalog.RecordStore, classifier catalog.SentimentClassifier, clock catalog.Clock, logger *zap.Logger) *Processor {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 500
	}
	return &Processor{
		cfg:        cfg,
		store:      store,
		classifier: classifier,
		clock:      clock,
		logger:     logger,
	}
}

// ProcessBatch handles one batch of change events. Each event is isolated:
// a record that cannot be enriched is logged and skipped without affecting
// the rest of the batch.
func (p *Processor) ProcessBatch(ctx context.Context, events []catalog.ChangeEvent) Summary {
	var summary Summary
	for _, event := range events {
		switch p.processEvent(ctx, event) {
		case outcomeEnriched:
			summary.Enriched++
		case outcomeSkipped:
			summary.Skipped++
		case outcomeFailed:
			summary.Failed++
		}
	}
	return summary
}

type outcome int

const (
	outcomeEnriched outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (p *Processor) processEvent(ctx context.Context, event catalog.ChangeEvent) outcome {
	if event.Kind == catalog.ChangeRemove || event.After == nil {
		return outcomeSkipped
	}
	record := event.After
	if record.SubjectID == "" || record.SortKey == "" {
		p.logger.Warn("change event missing record key, skipping")
		return outcomeSkipped
	}

	fields, ok := parsePayload(record.RawPayload)
	if !ok {
		p.logger.Warn("record payload is not a JSON object, skipping",
			zap.String("subject", record.SubjectID),
			zap.String("sort_key", record.SortKey),
		)
		return outcomeSkipped
	}

	weight := Weight(fields, record.SourceURI)
	label := p.classify(ctx, record, fields)

	// Derived values are a pure function of the record image, so a
	// duplicate or self-triggered notification computes the same pair and
	// stops here. This is what makes at-least-once delivery safe.
	if record.Weight != nil && *record.Weight == weight &&
		record.Sentiment != nil && *record.Sentiment == label {
		return outcomeSkipped
	}

	if err := p.store.UpdateDerived(ctx, record.Key(), weight, label, p.clock.Now()); err != nil {
		p.logger.Error("derived field update failed",
			zap.String("subject", record.SubjectID),
			zap.String("sort_key", record.SortKey),
			zap.Error(err),
		)
		return outcomeFailed
	}

	p.logger.Info("record enriched",
		zap.String("subject", record.SubjectID),
		zap.String("sort_key", record.SortKey),
		zap.Float64("weight", weight),
		zap.String("sentiment", label),
	)
	return outcomeEnriched
}

func (p *Processor) classify(ctx context.Context, record *catalog.SourceRecord, fields map[string]any) string {
	text := textForClassification(fields, p.cfg.MaxChars)
	if text == "" {
		return sentiment.Neutral
	}
	label, err := p.classifier.Classify(ctx, text)
	if err != nil {
		p.logger.Warn("sentiment classification failed, defaulting to neutral",
			zap.String("subject", record.SubjectID),
			zap.Error(err),
		)
		return sentiment.Neutral
	}
	return label
}

func parsePayload(raw string) (map[string]any, bool) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, false
	}
	return fields, fields != nil
}

// Weight scores a record from payload completeness and source reliability,
// each contributing half, rounded to two decimals.
func Weight(fields map[string]any, sourceURI string) float64 {
	completeness := math.Min(float64(countNonEmpty(fields))/completenessCeiling, 1)
	return round2(0.5*completeness + 0.5*Reliability(sourceURI))
}

// Reliability returns the trust score for the source's host.
func Reliability(sourceURI string) float64 {
	parsed, err := url.Parse(sourceURI)
	if err != nil || parsed.Host == "" {
		return defaultReliability
	}
	host := strings.ToLower(parsed.Hostname())
	for suffix, score := range hostReliability {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return score
		}
	}
	return defaultReliability
}

func countNonEmpty(fields map[string]any) int {
	count := 0
	for key, value := range fields {
		if _, skip := metadataKeys[key]; skip {
			continue
		}
		switch v := value.(type) {
		case nil:
			continue
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
		case []any:
			if len(v) == 0 {
				continue
			}
		case map[string]any:
			if len(v) == 0 {
				continue
			}
		}
		count++
	}
	return count
}

// textForClassification joins the payload's free-text values in stable key
// order and truncates the result.
func textForClassification(fields map[string]any, maxChars int) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		if _, skip := metadataKeys[key]; skip {
			continue
		}
		if _, ok := fields[key].(string); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		s := strings.TrimSpace(fields[key].(string))
		if s == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(s)
	}
	text := b.String()
	if len(text) > maxChars {
		// Back up to a rune boundary so truncation never splits a
		// multibyte character.
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
