package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
	"github.com/famewatch/enricher/internal/config"
	"github.com/famewatch/enricher/internal/enrich"
	"github.com/famewatch/enricher/internal/orchestrator"
	"github.com/famewatch/enricher/internal/store/memory"
)

type stubApp struct {
	store  catalog.RecordStore
	closed bool
}

func (s *stubApp) Close()                     { s.closed = true }
func (s *stubApp) Logger() *zap.Logger        { return zap.NewNop() }
func (s *stubApp) Config() config.Config      { return config.Config{} }
func (s *stubApp) Store() catalog.RecordStore { return s.store }

func (s *stubApp) ChangeFeed(context.Context) (catalog.ChangeFeed, error) {
	return nil, errors.New("no feed in stub")
}

func (s *stubApp) Processor() (*enrich.Processor, error) {
	return nil, errors.New("no processor in stub")
}

func (s *stubApp) Orchestrator(sourceName string) (*orchestrator.Orchestrator, error) {
	return nil, fmt.Errorf("unknown source %q", sourceName)
}

func withStubApp(t *testing.T, stub *stubApp) {
	t.Helper()
	previous := newApp
	newApp = func(context.Context) (App, error) { return stub, nil }
	t.Cleanup(func() { newApp = previous })
}

func TestRecordsCommand(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.PutRecord(context.Background(), catalog.SourceRecord{
		SubjectID:   "sub-1",
		SortKey:     catalog.SortKeyFor("web_search", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		RecordID:    "rec-1",
		DisplayName: "Ada Lovelace",
		RawPayload:  `{"query":"Ada Lovelace"}`,
	}))

	stub := &stubApp{store: store}
	withStubApp(t, stub)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"records", "--subject", "sub-1"})

	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), `"record_id": "rec-1"`)
	require.True(t, stub.closed, "app should be closed after the command finishes")
}

func TestRecordsCommandRequiresSubject(t *testing.T) {
	withStubApp(t, &stubApp{store: memory.NewStore()})

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"records"})

	require.Error(t, root.Execute())
}

func TestCollectCommandUnknownSource(t *testing.T) {
	withStubApp(t, &stubApp{store: memory.NewStore()})

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"collect", "--source", "carrier_pigeon"})

	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "carrier_pigeon")
}

type scriptedFeed struct {
	batches [][]catalog.ChangeEvent
}

func (f *scriptedFeed) Next(context.Context) ([]catalog.ChangeEvent, error) {
	if len(f.batches) == 0 {
		return nil, context.Canceled
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

type countingProcessor struct {
	batches int
	events  int
}

func (p *countingProcessor) ProcessBatch(_ context.Context, events []catalog.ChangeEvent) enrich.Summary {
	p.batches++
	p.events += len(events)
	return enrich.Summary{Enriched: len(events)}
}

func TestConsumeFeedProcessesUntilCanceled(t *testing.T) {
	record := catalog.SourceRecord{SubjectID: "sub-1", SortKey: "web_search#2026-03-01T12:00:00Z"}
	feed := &scriptedFeed{batches: [][]catalog.ChangeEvent{
		{{Kind: catalog.ChangeInsert, After: &record}},
		{},
		{{Kind: catalog.ChangeModify, Before: &record, After: &record}, {Kind: catalog.ChangeInsert, After: &record}},
	}}
	processor := &countingProcessor{}

	err := consumeFeed(context.Background(), feed, processor, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 2, processor.batches, "empty batches should not reach the processor")
	require.Equal(t, 3, processor.events)
}

func TestConsumeFeedSurfacesFeedErrors(t *testing.T) {
	feed := &failingFeed{err: errors.New("stream torn down")}
	err := consumeFeed(context.Background(), feed, &countingProcessor{}, zap.NewNop())
	require.ErrorContains(t, err, "stream torn down")
}

type failingFeed struct {
	err error
}

func (f *failingFeed) Next(context.Context) ([]catalog.ChangeEvent, error) {
	return nil, f.err
}
