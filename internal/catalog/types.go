package catalog

import (
	"fmt"
	"time"
)

// Subject is one catalog entity being enriched with externally sourced
// data. Subjects are created by an external seeding process and are
// read-only here; identity is immutable.
type Subject struct {
	ID          string            `json:"subject_id"`
	DisplayName string            `json:"display_name"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Attribute returns the named attribute, or "" when absent.
func (s Subject) Attribute(name string) string {
	if s.Attributes == nil {
		return ""
	}
	return s.Attributes[name]
}

// CredentialKind distinguishes the credential types the rotation manager
// hands out.
type CredentialKind string

// Credential kinds.
const (
	CredentialAPIKey  CredentialKind = "api_key"
	CredentialAccount CredentialKind = "account"
	CredentialProxy   CredentialKind = "proxy"
)

// Credential is an API key, account login, or proxy endpoint used to
// authenticate or route one outbound request. Credentials live in process
// memory only and are never persisted.
type Credential struct {
	ID       string
	Kind     CredentialKind
	Secret   string
	Username string
	Endpoint string
}

// Redacted returns a loggable identifier that never exposes secret material.
func (c Credential) Redacted() string {
	if len(c.ID) > 10 {
		return c.ID[:10] + "..."
	}
	return c.ID
}

// FetchStatus is the shared status vocabulary every source adapter maps its
// outcomes onto, so orchestration logic is source-agnostic.
type FetchStatus string

// Fetch status values.
const (
	StatusSuccess       FetchStatus = "success"
	StatusNotFound      FetchStatus = "not_found"
	StatusRateLimited   FetchStatus = "rate_limited"
	StatusInvalidHandle FetchStatus = "invalid_handle"
	StatusParseError    FetchStatus = "parse_error"
	StatusNetworkError  FetchStatus = "network_error"

	// Orchestrator-level outcomes that never reach an adapter.
	StatusSkipped   FetchStatus = "skipped"
	StatusDuplicate FetchStatus = "duplicate"
	StatusFailed    FetchStatus = "failed"
)

// FailureKind classifies a failed attempt at the point of detection. The
// retry executor uses it to decide between backoff and giving up, and the
// rotation manager tracks it per credential.
type FailureKind string

// Failure kinds.
const (
	FailureNone              FailureKind = ""
	FailureTimeout           FailureKind = "timeout"
	FailureRateLimit         FailureKind = "rate_limit"
	FailureDetected          FailureKind = "detected"
	FailureNetwork           FailureKind = "network_error"
	FailureMalformedResponse FailureKind = "malformed_response"
	FailureParse             FailureKind = "parse_error"
	FailureNotFound          FailureKind = "not_found"
	FailureInvalidCredential FailureKind = "invalid_credential"
	FailureInvalidRequest    FailureKind = "invalid_request"
	FailureInvalidHandle     FailureKind = "invalid_handle"
	FailureNoCredentials     FailureKind = "no_credentials"
	FailureStoreWrite        FailureKind = "store_write_failure"
)

// Terminal reports whether the failure must never be retried.
func (k FailureKind) Terminal() bool {
	switch k {
	case FailureInvalidCredential, FailureInvalidRequest, FailureInvalidHandle,
		FailureNotFound, FailureParse, FailureNoCredentials:
		return true
	default:
		return false
	}
}

// Status maps a failure kind onto the shared fetch status vocabulary.
func (k FailureKind) Status() FetchStatus {
	switch k {
	case FailureNone:
		return StatusSuccess
	case FailureNotFound:
		return StatusNotFound
	case FailureRateLimit, FailureDetected:
		return StatusRateLimited
	case FailureInvalidHandle:
		return StatusInvalidHandle
	case FailureParse, FailureMalformedResponse:
		return StatusParseError
	case FailureTimeout, FailureNetwork:
		return StatusNetworkError
	default:
		return StatusFailed
	}
}

// FetchResult is the structured outcome of one adapter fetch. A result is
// never partial: on success RawPayload and SourceURI are set; on failure
// the kind and detail describe what happened.
type FetchResult struct {
	Status     FetchStatus
	Failure    FailureKind
	Detail     string
	RawPayload []byte
	Fields     map[string]any
	SourceURI  string
}

// OK reports whether the fetch succeeded.
func (r FetchResult) OK() bool {
	return r.Status == StatusSuccess
}

// Failuref builds a failed FetchResult with a formatted detail message.
func Failuref(kind FailureKind, format string, args ...any) FetchResult {
	return FetchResult{
		Status:  kind.Status(),
		Failure: kind,
		Detail:  fmt.Sprintf(format, args...),
	}
}

// RecordKey addresses one SourceRecord in the partitioned store.
type RecordKey struct {
	SubjectID string `json:"subject_id"`
	SortKey   string `json:"sort_key"`
}

// SortKeyFor builds the "source#timestamp" sort key for a record.
func SortKeyFor(source string, collectedAt time.Time) string {
	return fmt.Sprintf("%s#%s", source, collectedAt.UTC().Format(time.RFC3339Nano))
}

// ProcessingMetadata travels with each record so the enrichment side can
// tell where it came from and whether derived fields were filled in.
type ProcessingMetadata struct {
	CollectorName string `json:"collector_name"`
	SourceType    string `json:"source_type"`
	ContentHash   string `json:"content_hash,omitempty"`
	Processed     bool   `json:"processed"`
	Error         string `json:"error,omitempty"`
}

// SourceRecord is the unit persisted per (subject, source, timestamp). The
// orchestrator creates it with Weight and Sentiment unset; the enrichment
// processor fills those two fields exactly once in steady state. The key is
// immutable once written.
type SourceRecord struct {
	SubjectID   string             `json:"subject_id"`
	SortKey     string             `json:"sort_key"`
	RecordID    string             `json:"record_id"`
	DisplayName string             `json:"display_name"`
	RawPayload  string             `json:"raw_payload"`
	SourceURI   string             `json:"source_uri"`
	CollectedAt time.Time          `json:"collected_at"`
	Weight      *float64           `json:"weight,omitempty"`
	Sentiment   *string            `json:"sentiment,omitempty"`
	UpdatedAt   *time.Time         `json:"updated_at,omitempty"`
	Metadata    ProcessingMetadata `json:"metadata"`
}

// Key returns the record's full store key.
func (r SourceRecord) Key() RecordKey {
	return RecordKey{SubjectID: r.SubjectID, SortKey: r.SortKey}
}

// SubjectOutcome is the final per-subject result surfaced to the run summary.
type SubjectOutcome struct {
	SubjectID string      `json:"subject_id"`
	Name      string      `json:"name"`
	Status    FetchStatus `json:"status"`
	Failure   FailureKind `json:"failure,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Attempts  int         `json:"attempts,omitempty"`
}

// CredentialStats are per-credential counters maintained by the rotation
// manager and reported in the run summary.
type CredentialStats struct {
	Requests      int         `json:"requests"`
	Errors        int         `json:"errors"`
	ErrorRate     float64     `json:"error_rate"`
	LastError     FailureKind `json:"last_error,omitempty"`
	LastErrorTime time.Time   `json:"last_error_time,omitzero"`
}

// RunSummary is the structured output of one orchestrator invocation.
type RunSummary struct {
	Source      string                     `json:"source"`
	Total       int                        `json:"total"`
	Counts      map[FetchStatus]int        `json:"counts"`
	Retries     int                        `json:"retries"`
	Duration    time.Duration              `json:"duration"`
	Outcomes    []SubjectOutcome           `json:"details,omitempty"`
	Credentials map[string]CredentialStats `json:"credentials,omitempty"`
}
