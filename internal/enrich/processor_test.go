package enrich

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
	"github.com/famewatch/enricher/internal/sentiment"
	"github.com/famewatch/enricher/internal/store/memory"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, string) (string, error) {
	return "", errors.New("backend unavailable")
}

func newTestProcessor(t *testing.T, store catalog.RecordStore, classifier catalog.SentimentClassifier) (*Processor, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	return New(Config{MaxChars: 500}, store, classifier, fixedClock{at: now}, zap.NewNop()), now
}

func insertEvent(record catalog.SourceRecord) catalog.ChangeEvent {
	return catalog.ChangeEvent{Kind: catalog.ChangeInsert, After: &record}
}

func wikipediaRecord(payload string) catalog.SourceRecord {
	collected := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return catalog.SourceRecord{
		SubjectID:   "sub-1",
		SortKey:     catalog.SortKeyFor("web_search", collected),
		RecordID:    "rec-1",
		DisplayName: "Ada Lovelace",
		RawPayload:  payload,
		SourceURI:   "https://en.wikipedia.org/wiki/Ada_Lovelace",
		CollectedAt: collected,
	}
}

func TestProcessBatchEnrichesInsertedRecord(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p, now := newTestProcessor(t, store, sentiment.NewLocal())
	record := wikipediaRecord(`{"biography":"A great mathematician with an amazing legacy","occupation":"mathematician"}`)
	require.NoError(t, store.PutRecord(context.Background(), record))

	summary := p.ProcessBatch(context.Background(), []catalog.ChangeEvent{insertEvent(record)})

	require.Equal(t, Summary{Enriched: 1}, summary)
	got, ok := store.Get(record.SubjectID, record.SortKey)
	require.True(t, ok)
	// Two non-empty fields against a 0.90 reliability host.
	require.Equal(t, 0.55, *got.Weight)
	require.Equal(t, sentiment.Positive, *got.Sentiment)
	require.Equal(t, now, *got.UpdatedAt)
	require.Equal(t, record.RawPayload, got.RawPayload)
}

func TestProcessBatchIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p, _ := newTestProcessor(t, store, sentiment.NewLocal())
	record := wikipediaRecord(`{"biography":"A great mathematician","occupation":"mathematician"}`)
	require.NoError(t, store.PutRecord(context.Background(), record))

	first := p.ProcessBatch(context.Background(), []catalog.ChangeEvent{insertEvent(record)})
	require.Equal(t, Summary{Enriched: 1}, first)

	enriched, _ := store.Get(record.SubjectID, record.SortKey)
	firstUpdatedAt := *enriched.UpdatedAt

	// Duplicate delivery of the enriched image computes the same pair and
	// must not write again.
	redelivered := p.ProcessBatch(context.Background(), []catalog.ChangeEvent{
		{Kind: catalog.ChangeModify, Before: &record, After: &enriched},
	})
	require.Equal(t, Summary{Skipped: 1}, redelivered)

	after, _ := store.Get(record.SubjectID, record.SortKey)
	require.Equal(t, firstUpdatedAt, *after.UpdatedAt)
}

func TestProcessBatchSkipsMalformedPayload(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p, _ := newTestProcessor(t, store, sentiment.NewLocal())
	record := wikipediaRecord(`<html>not json</html>`)
	require.NoError(t, store.PutRecord(context.Background(), record))

	summary := p.ProcessBatch(context.Background(), []catalog.ChangeEvent{insertEvent(record)})

	require.Equal(t, Summary{Skipped: 1}, summary)
	got, _ := store.Get(record.SubjectID, record.SortKey)
	require.Nil(t, got.Weight)
	require.Nil(t, got.Sentiment)
}

func TestProcessBatchIsolatesBadEvents(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p, _ := newTestProcessor(t, store, sentiment.NewLocal())
	good := wikipediaRecord(`{"biography":"wonderful and celebrated"}`)
	require.NoError(t, store.PutRecord(context.Background(), good))
	bad := wikipediaRecord(`{broken`)
	bad.SortKey = catalog.SortKeyFor("web_search", good.CollectedAt.Add(time.Hour))

	summary := p.ProcessBatch(context.Background(), []catalog.ChangeEvent{
		insertEvent(bad),
		{Kind: catalog.ChangeRemove, Before: &good},
		insertEvent(good),
	})

	require.Equal(t, Summary{Enriched: 1, Skipped: 2}, summary)
}

func TestProcessBatchClassifierErrorDefaultsNeutral(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p, _ := newTestProcessor(t, store, failingClassifier{})
	record := wikipediaRecord(`{"biography":"a great and amazing story"}`)
	require.NoError(t, store.PutRecord(context.Background(), record))

	summary := p.ProcessBatch(context.Background(), []catalog.ChangeEvent{insertEvent(record)})

	require.Equal(t, Summary{Enriched: 1}, summary)
	got, _ := store.Get(record.SubjectID, record.SortKey)
	require.Equal(t, sentiment.Neutral, *got.Sentiment)
}

func TestProcessBatchMissingRecordFails(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p, _ := newTestProcessor(t, store, sentiment.NewLocal())
	record := wikipediaRecord(`{"biography":"never persisted"}`)

	summary := p.ProcessBatch(context.Background(), []catalog.ChangeEvent{insertEvent(record)})

	require.Equal(t, Summary{Failed: 1}, summary)
}

func TestWeight(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		fields map[string]any
		uri    string
		want   float64
	}{
		{
			name:   "two fields high reliability host",
			fields: map[string]any{"biography": "text", "occupation": "mathematician"},
			uri:    "https://en.wikipedia.org/wiki/Ada",
			want:   0.55,
		},
		{
			name:   "empty payload unknown host",
			fields: map[string]any{},
			uri:    "https://example.com/x",
			want:   0.25,
		},
		{
			name: "completeness capped at ten fields",
			fields: map[string]any{
				"a": "1", "b": "2", "c": "3", "d": "4", "e": "5", "f": "6",
				"g": "7", "h": "8", "i": "9", "j": "10", "k": "11", "l": "12",
			},
			uri:  "https://en.wikipedia.org/wiki/Ada",
			want: 0.95,
		},
		{
			name:   "metadata keys excluded",
			fields: map[string]any{"id": "x", "source": "y", "raw_text": "z", "biography": "kept"},
			uri:    "https://example.com",
			want:   0.3,
		},
		{
			name:   "empty values excluded",
			fields: map[string]any{"biography": "  ", "tags": []any{}, "extra": map[string]any{}, "posts": float64(7)},
			uri:    "https://www.instagram.com/ada",
			want:   0.43,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Weight(tc.fields, tc.uri)
			require.InDelta(t, tc.want, got, 1e-9)
			require.GreaterOrEqual(t, got, 0.0)
			require.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestReliabilityMatchesSubdomains(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.85, Reliability("https://www.youtube.com/channel/UC123"))
	require.Equal(t, 0.75, Reliability("https://instagram.com/ada"))
	require.Equal(t, 0.5, Reliability("not a url"))
	require.Equal(t, 0.5, Reliability("https://unknown.example.net/page"))
}

func TestTextForClassificationTruncates(t *testing.T) {
	t.Parallel()

	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	text := textForClassification(map[string]any{"biography": string(long)}, 500)
	require.Len(t, text, 500)
}

func TestTextForClassificationTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	// Each é is two bytes; a 5-byte limit falls mid-rune and must back up.
	text := textForClassification(map[string]any{"biography": "ééééé"}, 5)
	require.True(t, utf8.ValidString(text))
	require.Equal(t, "éé", text)
}
