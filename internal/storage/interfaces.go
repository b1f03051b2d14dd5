// Package storage defines the uniform contract every persistence engine in
// hearth must honor, so callers never know which engine is active.
//
// The contract is deliberately small: generic row CRUD plus a filtered
// query, typed append helpers for the well-known tables, and a full-scan
// vector search. Capabilities that not every engine can offer (transaction
// brackets, compaction, snapshots) are expressed as optional interfaces that
// callers feature-check with a type assertion.
package storage

import (
	"context"
	"io"
)

// Storage is the operation set shared by all engines.
type Storage interface {
	// Engine returns a fixed tag identifying the concrete implementation
	// ("postgres", "sqlite", "badger"). Diagnostics only; branching
	// application logic on it is a design smell.
	Engine() string

	// Get fetches a row by primary key. Absence is not an error: a missing
	// row yields (nil, nil).
	Get(ctx context.Context, table, id string) (Row, error)

	// Put upserts a row: replace when a row with the same id exists,
	// insert otherwise. Idempotent under retry.
	Put(ctx context.Context, table string, row Row) error

	// Delete removes a row by id. Deleting a missing row is not an error.
	Delete(ctx context.Context, table, id string) error

	// Query performs a filtered, ordered, paginated read. Where clauses are
	// exact-match equality only; ordering beyond a single indexed field is
	// best-effort per engine (in-memory sort, no SQL-grade planning).
	Query(ctx context.Context, opts QueryOptions) ([]Row, error)

	// AddMessage, AddMemory and AddEmbedding are typed inserts into the
	// fixed well-known tables, semantically equivalent to Put.
	AddMessage(ctx context.Context, msg *MessageRow) error
	AddMemory(ctx context.Context, mem *MemoryRow) error
	AddEmbedding(ctx context.Context, emb *EmbeddingRow) error

	// VectorSearch computes cosine similarity between the query vector and
	// every embedding in the namespace (optionally filtered) and returns
	// the top-K matches by descending score. This is a full scan, not an
	// index; acceptable only at single-user data volumes.
	VectorSearch(ctx context.Context, opts VectorSearchOptions) ([]VectorMatch, error)

	// Close releases any resources held by the engine.
	Close() error
}

// Transactional is implemented by engines that can bracket a sequence of
// operations in a single transaction. Repositories feature-check this for
// cascade deletes and fall back to best-effort sequential cleanup when the
// active engine does not offer it.
type Transactional interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Compactor is implemented by engines that support the retention/archival
// pass (summarize and prune oversized chat histories, purge decayed
// memories).
type Compactor interface {
	Compact(ctx context.Context) (*CompactionReport, error)
}

// Snapshotter is implemented by engines that can serialize tables to the
// portable newline-delimited JSON snapshot format and restore from it.
// Passing no tables to ExportSnapshot exports every known table.
type Snapshotter interface {
	ExportSnapshot(ctx context.Context, w io.Writer, tables []string) error
	ImportSnapshot(ctx context.Context, r io.Reader) error
}
