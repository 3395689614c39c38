// Package catalog defines the core types shared across the collection and
// enrichment subsystems: subjects, credentials, source records, the fetch
// status vocabulary, and the interfaces the pipeline is wired through.
package catalog
