// Package postgres implements the Storage contract on PostgreSQL. Rows are
// stored as JSONB with the indexed fields extracted into columns. When the
// pgvector extension is installed, vector search runs server-side on a
// cosine-distance index; otherwise it falls back to the shared full scan.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/sony/gobreaker"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/pkg/vector"
)

// EngineTag identifies this implementation in Storage.Engine().
const EngineTag = "postgres"

// ErrUnavailable is returned while the circuit breaker holds the database
// open after repeated failures.
var ErrUnavailable = errors.New("postgres: database unavailable")

// Engine is the PostgreSQL-backed storage engine.
type Engine struct {
	db                *sql.DB
	policy            storage.CompactionPolicy
	pgvectorAvailable bool
	breaker           *gobreaker.CircuitBreaker
}

var (
	_ storage.Storage       = (*Engine)(nil)
	_ storage.Transactional = (*Engine)(nil)
	_ storage.Compactor     = (*Engine)(nil)
	_ storage.Snapshotter   = (*Engine)(nil)
)

// txKey carries the transaction opened by WithTransaction through the
// context, so operations issued inside the bracket join it.
type txKey struct{}

// querier is the statement surface shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the transaction pinned to ctx, or the connection pool.
func (e *Engine) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return e.db
}

// Open connects to PostgreSQL at dsn, applies the schema, and probes for
// the pgvector extension. A server without pgvector still works; vector
// search just runs client-side.
func Open(dsn string, policy storage.CompactionPolicy) (*Engine, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	e := &Engine{db: db, policy: policy}

	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "postgres-storage",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("postgres: circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	if _, err := db.Exec(schemaDDL()); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension not available (falling back to client-side search): %v", err)
	} else if _, err := db.Exec(migrationPgvector); err != nil {
		log.Printf("postgres: pgvector migration failed (falling back to client-side search): %v", err)
	} else {
		e.pgvectorAvailable = true
	}

	return e, nil
}

// schemaDDL generates the per-table DDL from the table registry. All
// statements are idempotent so the schema can be reapplied on every start.
func schemaDDL() string {
	var b strings.Builder
	for _, table := range storage.TableNames() {
		spec := storage.Tables[table]
		fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\tid TEXT PRIMARY KEY", table)
		for _, field := range spec.Indexed {
			fmt.Fprintf(&b, ",\n\t%s TEXT", field)
		}
		b.WriteString(",\n\tcreated_at BIGINT,\n\tupdated_at BIGINT,\n\tdata JSONB NOT NULL\n);\n")
		for _, field := range spec.Indexed {
			fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);\n", table, field, table, field)
		}
	}
	return b.String()
}

// migrationPgvector adds the server-side vector column to embeddings.
// Guarded so it is safe to run on every start.
const migrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'embeddings' AND column_name = 'vec_data'
    ) THEN
        ALTER TABLE embeddings ADD COLUMN vec_data vector;
    END IF;
END
$$;
`

// Engine returns the implementation tag.
func (e *Engine) Engine() string { return EngineTag }

// Close closes the connection pool.
func (e *Engine) Close() error { return e.db.Close() }

// DB exposes the underlying handle for diagnostics tooling.
func (e *Engine) DB() *sql.DB { return e.db }

// PgvectorAvailable reports whether vector search runs server-side.
func (e *Engine) PgvectorAvailable() bool { return e.pgvectorAvailable }

// do routes a database operation through the circuit breaker so a dead
// server fails fast instead of stacking up timeouts.
func (e *Engine) do(op func() error) error {
	_, err := e.breaker.Execute(func() (any, error) {
		return nil, op()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func columns(table string) []string {
	cols := append([]string{}, storage.Tables[table].Indexed...)
	return append(cols, "created_at", "updated_at")
}

func columnValue(row storage.Row, field string) any {
	switch field {
	case "created_at", "updated_at":
		if _, ok := row[field]; !ok {
			return nil
		}
		return storage.RowInt64(row, field)
	default:
		if v, ok := row[field].(string); ok {
			return v
		}
		return nil
	}
}

// Get fetches a row by id; a missing row yields (nil, nil).
func (e *Engine) Get(ctx context.Context, table, id string) (storage.Row, error) {
	if !storage.KnownTable(table) {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownTable, table)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", storage.ErrInvalidInput)
	}

	var row storage.Row
	err := e.do(func() error {
		var data []byte
		err := e.q(ctx).QueryRowContext(ctx,
			fmt.Sprintf("SELECT data FROM %s WHERE id = $1", table), id).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("postgres: get %s/%s: %w", table, id, err)
		}
		if err := json.Unmarshal(data, &row); err != nil {
			return fmt.Errorf("postgres: get %s/%s: corrupt row: %w", table, id, err)
		}
		return nil
	})
	if err != nil || row == nil {
		return nil, err
	}
	return storage.NormalizeRow(row), nil
}

// Put upserts a row, replacing the stored version wholesale.
func (e *Engine) Put(ctx context.Context, table string, row storage.Row) error {
	if err := storage.ValidateRow(table, row); err != nil {
		return err
	}

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("%w: row is not serializable: %v", storage.ErrInvalidInput, err)
	}

	cols := columns(table)
	colNames := append([]string{"id"}, cols...)
	colNames = append(colNames, "data")

	placeholders := make([]string, len(colNames))
	args := make([]any, 0, len(colNames))
	args = append(args, row.ID())
	for _, c := range cols {
		args = append(args, columnValue(row, c))
	}
	args = append(args, data)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var updates []string
	for _, c := range colNames[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		table, strings.Join(colNames, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))

	return e.do(func() error {
		if _, err := e.q(ctx).ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("postgres: put %s/%s: %w", table, row.ID(), err)
		}
		return nil
	})
}

// Delete removes a row by id; missing rows are a no-op.
func (e *Engine) Delete(ctx context.Context, table, id string) error {
	if !storage.KnownTable(table) {
		return fmt.Errorf("%w: %q", storage.ErrUnknownTable, table)
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", storage.ErrInvalidInput)
	}

	return e.do(func() error {
		if _, err := e.q(ctx).ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE id = $1", table), id); err != nil {
			return fmt.Errorf("postgres: delete %s/%s: %w", table, id, err)
		}
		return nil
	})
}

// Query selects rows. Filters on extracted columns run in SQL; anything
// else is matched against the JSONB body with the containment operator.
func (e *Engine) Query(ctx context.Context, opts storage.QueryOptions) ([]storage.Row, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	columnSet := map[string]bool{"id": true}
	for _, c := range columns(opts.Table) {
		columnSet[c] = true
	}

	var (
		clauses []string
		args    []any
	)
	for field, value := range opts.Where {
		if columnSet[field] {
			args = append(args, value)
			clauses = append(clauses, fmt.Sprintf("%s = $%d", field, len(args)))
		} else {
			frag, err := json.Marshal(map[string]any{field: value})
			if err != nil {
				return nil, fmt.Errorf("%w: filter value for %q is not serializable", storage.ErrInvalidInput, field)
			}
			args = append(args, frag)
			clauses = append(clauses, fmt.Sprintf("data @> $%d", len(args)))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT data FROM %s", opts.Table)
	if len(clauses) > 0 {
		b.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	if opts.OrderBy != "" {
		// Sortable fields without an extracted column live only in the
		// JSONB body; they are numeric by contract. The id tiebreaker keeps
		// equal sort keys in a stable order across engines.
		orderExpr := opts.OrderBy
		if !columnSet[opts.OrderBy] {
			orderExpr = fmt.Sprintf("(data->>'%s')::numeric", opts.OrderBy)
		}
		dir := strings.ToUpper(opts.SortOrder)
		fmt.Fprintf(&b, " ORDER BY %s %s NULLS LAST, id %s", orderExpr, dir, dir)
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", opts.Offset)
	}

	var result []storage.Row
	err := e.do(func() error {
		rows, err := e.q(ctx).QueryContext(ctx, b.String(), args...)
		if err != nil {
			return fmt.Errorf("postgres: query %s: %w", opts.Table, err)
		}
		defer rows.Close()

		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				return fmt.Errorf("postgres: query %s: %w", opts.Table, err)
			}
			var row storage.Row
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("postgres: query %s: corrupt row: %w", opts.Table, err)
			}
			result = append(result, storage.NormalizeRow(row))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddMessage inserts into the messages table.
func (e *Engine) AddMessage(ctx context.Context, msg *storage.MessageRow) error {
	return storage.PutMessage(ctx, e, msg)
}

// AddMemory inserts into the memories table.
func (e *Engine) AddMemory(ctx context.Context, mem *storage.MemoryRow) error {
	return storage.PutMemory(ctx, e, mem)
}

// AddEmbedding inserts into the embeddings table. When pgvector is
// available the vector is mirrored into the server-side column so search
// can use the cosine-distance operator.
func (e *Engine) AddEmbedding(ctx context.Context, emb *storage.EmbeddingRow) error {
	if err := storage.PutEmbedding(ctx, e, emb); err != nil {
		return err
	}
	if !e.pgvectorAvailable {
		return nil
	}
	vec, err := vector.Decode(emb.Vec)
	if err != nil {
		return fmt.Errorf("%w: embedding %s: %v", storage.ErrInvalidInput, emb.ID, err)
	}
	return e.do(func() error {
		_, err := e.q(ctx).ExecContext(ctx,
			"UPDATE embeddings SET vec_data = $1 WHERE id = $2",
			pgvector.NewVector(vec), emb.ID)
		if err != nil {
			return fmt.Errorf("postgres: store vector %s: %w", emb.ID, err)
		}
		return nil
	})
}

// VectorSearch finds the embeddings most similar to the query vector.
// With pgvector the ranking happens server-side; without it the shared
// client-side scan is used.
func (e *Engine) VectorSearch(ctx context.Context, opts storage.VectorSearchOptions) ([]storage.VectorMatch, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}
	if !e.pgvectorAvailable || len(opts.Where) > 0 {
		return storage.SearchVectors(ctx, e, opts)
	}

	query := `
		SELECT id, ref_id, 1 - (vec_data <=> $1) AS score
		FROM embeddings
		WHERE namespace = $2 AND vec_data IS NOT NULL
		ORDER BY vec_data <=> $1
		LIMIT $3
	`

	var matches []storage.VectorMatch
	err := e.do(func() error {
		rows, err := e.q(ctx).QueryContext(ctx, query,
			pgvector.NewVector(opts.Query), opts.Namespace, opts.TopK)
		if err != nil {
			return fmt.Errorf("postgres: vector search: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var m storage.VectorMatch
			if err := rows.Scan(&m.ID, &m.RefID, &m.Score); err != nil {
				return fmt.Errorf("postgres: vector search: %w", err)
			}
			matches = append(matches, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// WithTransaction brackets fn in one database transaction: operations
// issued with the ctx passed to fn join it. Nested brackets join the
// outer transaction.
func (e *Engine) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("postgres: rollback after %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Compact runs the shared retention pass with the engine's policy.
func (e *Engine) Compact(ctx context.Context) (*storage.CompactionReport, error) {
	return storage.Compact(ctx, e, e.policy)
}

// ExportSnapshot writes the portable NDJSON snapshot.
func (e *Engine) ExportSnapshot(ctx context.Context, w io.Writer, tables []string) error {
	return storage.WriteSnapshot(ctx, e, w, tables)
}

// ImportSnapshot replays a snapshot. Rows are upserted individually; an
// interrupted import leaves earlier rows in place and can be retried.
func (e *Engine) ImportSnapshot(ctx context.Context, r io.Reader) error {
	_, err := storage.ReadSnapshot(ctx, e, r)
	return err
}
