// Package memory provides in-process implementations of the record store,
// subject source, and change feed. Local runs and tests use it in place of
// the hosted store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
)

// Store is a mutex-guarded record store keyed by (subject_id, sort_key).
// Every mutation is mirrored onto the attached change feed, emulating the
// hosted store's stream.
type Store struct {
	mu      sync.Mutex
	records map[string]map[string]catalog.SourceRecord
	feed    *Feed
}

// NewStore builds an empty Store with an attached change feed. Tests use
// this form; long-lived callers should prefer NewStoreWithLogger so feed
// drops are visible.
func NewStore() *Store {
	return NewStoreWithLogger(zap.NewNop())
}

// NewStoreWithLogger builds an empty Store whose change feed reports
// dropped events to the given logger.
func NewStoreWithLogger(logger *zap.Logger) *Store {
	return &Store{
		records: make(map[string]map[string]catalog.SourceRecord),
		feed:    NewFeed(64, logger),
	}
}

// Feed returns the store's change feed.
func (s *Store) Feed() *Feed {
	return s.feed
}

// PutRecord implements catalog.RecordStore.
func (s *Store) PutRecord(_ context.Context, record catalog.SourceRecord) error {
	s.mu.Lock()
	partition, ok := s.records[record.SubjectID]
	if !ok {
		partition = make(map[string]catalog.SourceRecord)
		s.records[record.SubjectID] = partition
	}
	prev, existed := partition[record.SortKey]
	partition[record.SortKey] = record
	s.mu.Unlock()

	event := catalog.ChangeEvent{Kind: catalog.ChangeInsert, After: &record}
	if existed {
		event.Kind = catalog.ChangeModify
		event.Before = &prev
	}
	s.feed.Emit(event)
	return nil
}

// ListRecords implements catalog.RecordStore. Results are ordered by sort
// key, matching the hosted store's range query.
func (s *Store) ListRecords(_ context.Context, subjectID, sortKeyPrefix string) ([]catalog.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []catalog.SourceRecord
	for sortKey, record := range s.records[subjectID] {
		if sortKeyPrefix != "" && !strings.HasPrefix(sortKey, sortKeyPrefix) {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortKey < out[j].SortKey })
	return out, nil
}

// UpdateDerived implements catalog.RecordStore. Only weight, sentiment, and
// updated_at change; updating a missing record is an error, mirroring the
// hosted store's existence condition.
func (s *Store) UpdateDerived(_ context.Context, key catalog.RecordKey, weight float64, sentiment string, updatedAt time.Time) error {
	s.mu.Lock()
	record, ok := s.records[key.SubjectID][key.SortKey]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update derived: record %s/%s does not exist", key.SubjectID, key.SortKey)
	}
	prev := record
	record.Weight = &weight
	record.Sentiment = &sentiment
	record.UpdatedAt = &updatedAt
	s.records[key.SubjectID][key.SortKey] = record
	s.mu.Unlock()

	s.feed.Emit(catalog.ChangeEvent{Kind: catalog.ChangeModify, Before: &prev, After: &record})
	return nil
}

// Get returns a stored record, for assertions.
func (s *Store) Get(subjectID, sortKey string) (catalog.SourceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[subjectID][sortKey]
	return record, ok
}

// Feed is a buffered in-process change feed. Events are dropped when the
// buffer is full; drops are counted and logged so a slow local consumer is
// not silently lossy.
type Feed struct {
	events  chan catalog.ChangeEvent
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewFeed builds a Feed with the given buffer size.
func NewFeed(buffer int, logger *zap.Logger) *Feed {
	return &Feed{
		events: make(chan catalog.ChangeEvent, buffer),
		logger: logger,
	}
}

// Emit queues one event, dropping it when the buffer is full.
func (f *Feed) Emit(event catalog.ChangeEvent) {
	select {
	case f.events <- event:
	default:
		dropped := f.dropped.Add(1)
		f.logger.Warn("change feed buffer full, dropping event",
			zap.String("kind", string(event.Kind)),
			zap.Int64("dropped_total", dropped),
		)
	}
}

// Dropped returns how many events have been discarded since creation.
func (f *Feed) Dropped() int64 {
	return f.dropped.Load()
}

// Next implements catalog.ChangeFeed. It returns every queued event, blocking
// for the first one.
func (f *Feed) Next(ctx context.Context) ([]catalog.ChangeEvent, error) {
	var batch []catalog.ChangeEvent
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case event := <-f.events:
		batch = append(batch, event)
	}
	for {
		select {
		case event := <-f.events:
			batch = append(batch, event)
		default:
			return batch, nil
		}
	}
}

// Subjects is a fixed subject list.
type Subjects struct {
	subjects []catalog.Subject
}

// NewSubjects builds a SubjectSource over a static list.
func NewSubjects(subjects []catalog.Subject) *Subjects {
	return &Subjects{subjects: subjects}
}

// ListSubjects implements catalog.SubjectSource.
func (s *Subjects) ListSubjects(_ context.Context, limit int) ([]catalog.Subject, error) {
	if limit <= 0 || limit > len(s.subjects) {
		limit = len(s.subjects)
	}
	out := make([]catalog.Subject, limit)
	copy(out, s.subjects[:limit])
	return out, nil
}
