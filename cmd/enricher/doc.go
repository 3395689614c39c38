// Package main hosts the enricher service entrypoint.
//
// Architecture overview:
//   - Collection: internal/orchestrator fans subjects out to a fixed worker
//     pool. Each subject goes through handle resolution, a within-run
//     duplicate check, a circuit breaker gate, and a bounded-retry fetch
//     that acquires a fresh credential from the rotation pool on every
//     attempt. Successful fetches are persisted as one record per
//     (subject, source, timestamp).
//   - Sources: internal/source holds one adapter per external source. The
//     three API-backed adapters speak JSON over HTTP; the scraped source
//     uses Colly with rotated user agents and optional proxies, and paces
//     its requests.
//   - Resilience: internal/rotation tracks per-credential error rates and
//     skips burned credentials; internal/breaker opens per run after
//     consecutive failures and cools down on a timer; internal/retry backs
//     off exponentially with jitter and never retries terminal failures.
//   - Enrichment: internal/enrich consumes the store's change feed and
//     fills in a relevance weight and a sentiment label per record. The
//     update is skipped when the stored values already match, so duplicate
//     and self-triggered deliveries converge instead of looping.
//   - Persistence: internal/store/memory backs tests and local runs;
//     internal/store/dynamo pairs a DynamoDB table with its stream as the
//     change feed. Run summaries are optionally published to Pub/Sub.
//   - Plumbing: Viper populates config from env/files with the ENRICHER
//     prefix; zap provides structured logging; Prometheus metrics are
//     exported on /metrics next to the chi read API.
//
// Quick checklist:
//   - Seed credentials via env: SEARCH_API_KEYS and VIDEO_API_KEYS
//     (pipe-separated, or SEARCH_API_KEY_1..N), PROFILE_ACCOUNTS, and
//     NET_PROXIES.
//   - Run a collection pass: go run ./cmd/enricher collect --source web_search
//   - Run the enrichment daemon: go run ./cmd/enricher enrich
//   - Inspect a subject: go run ./cmd/enricher records --subject <id>
package main
