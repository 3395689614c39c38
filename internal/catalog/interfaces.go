package catalog

import (
	"context"
	"time"
)

// SourceAdapter performs the source-specific fetch for one subject. It is
// the only component aware of a source's protocol quirks; every failure is
// mapped onto the shared status vocabulary.
type SourceAdapter interface {
	// Name identifies the source; it prefixes the record sort key.
	Name() string
	// ResolveHandle extracts the subject's identifier for this source.
	// A missing handle is a valid skip, not an error.
	ResolveHandle(subject Subject) (string, bool)
	Fetch(ctx context.Context, subject Subject, credential Credential) FetchResult
}

// RecordStore is the persistent store consumed by the core. The store
// itself is an external collaborator: a partitioned key-value store
// addressed by (subject_id, source#timestamp).
type RecordStore interface {
	// PutRecord inserts or overwrites the full record.
	PutRecord(ctx context.Context, record SourceRecord) error
	// ListRecords returns all records for a subject, optionally filtered
	// by a sort-key prefix (source name).
	ListRecords(ctx context.Context, subjectID, sortKeyPrefix string) ([]SourceRecord, error)
	// UpdateDerived conditionally sets weight, sentiment, and the
	// updated-at timestamp on an existing record without touching any
	// other field.
	UpdateDerived(ctx context.Context, key RecordKey, weight float64, sentiment string, updatedAt time.Time) error
}

// SubjectSource lists the subjects a run should consider. limit <= 0 means
// all subjects.
type SubjectSource interface {
	ListSubjects(ctx context.Context, limit int) ([]Subject, error)
}

// ChangeKind tags a change feed event.
type ChangeKind string

// Change kinds delivered by the feed.
const (
	ChangeInsert ChangeKind = "insert"
	ChangeModify ChangeKind = "modify"
	ChangeRemove ChangeKind = "remove"
)

// ChangeEvent carries the before/after images of one mutated record.
// Delivery is at least once, possibly duplicated, and unordered.
type ChangeEvent struct {
	Kind   ChangeKind
	Before *SourceRecord
	After  *SourceRecord
}

// ChangeFeed delivers batches of store mutations.
type ChangeFeed interface {
	// Next blocks until at least one event is available or ctx finishes.
	Next(ctx context.Context) ([]ChangeEvent, error)
}

// Publisher pushes run summaries and enrichment events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// SentimentClassifier maps free text onto {positive, negative, neutral}.
type SentimentClassifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests for payload integrity tracking.
type Hasher interface {
	Hash(data []byte) (string, error)
}
