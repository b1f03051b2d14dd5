// Package sqlite implements the Storage contract on SQLite via the pure-Go
// modernc driver. Each logical table is a SQL table holding the full row as
// JSON plus extracted columns for the indexed fields, so equality filters
// and ordering run in SQL while the row shape stays schema-flexible.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/emberfall/hearth/internal/storage"
)

// EngineTag identifies this implementation in Storage.Engine().
const EngineTag = "sqlite"

// Engine is the SQLite-backed storage engine.
type Engine struct {
	db     *sql.DB
	policy storage.CompactionPolicy

	// txMu serializes explicit transaction brackets. With a single open
	// connection the bracket spans exactly the operations issued inside it.
	txMu sync.Mutex
}

var (
	_ storage.Storage       = (*Engine)(nil)
	_ storage.Transactional = (*Engine)(nil)
	_ storage.Compactor     = (*Engine)(nil)
	_ storage.Snapshotter   = (*Engine)(nil)
)

// Open opens a SQLite database at dsn (a file path or ":memory:"),
// configures WAL mode, and creates the schema.
func Open(dsn string, policy storage.CompactionPolicy) (*Engine, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaDDL()); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &Engine{db: db, policy: policy}, nil
}

// schemaDDL generates the per-table DDL from the table registry: id primary
// key, one TEXT column per indexed field, integer timestamps, and the full
// row as JSON in data.
func schemaDDL() string {
	var b strings.Builder
	for _, table := range storage.TableNames() {
		spec := storage.Tables[table]
		fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\tid TEXT PRIMARY KEY", table)
		for _, field := range spec.Indexed {
			fmt.Fprintf(&b, ",\n\t%s TEXT", field)
		}
		b.WriteString(",\n\tcreated_at INTEGER,\n\tupdated_at INTEGER,\n\tdata TEXT NOT NULL\n);\n")
		for _, field := range spec.Indexed {
			fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);\n", table, field, table, field)
		}
	}
	return b.String()
}

// Engine returns the implementation tag.
func (e *Engine) Engine() string { return EngineTag }

// Close closes the database.
func (e *Engine) Close() error { return e.db.Close() }

// DB exposes the underlying handle for diagnostics tooling.
func (e *Engine) DB() *sql.DB { return e.db }

// columns returns the extracted column names for a table (minus id).
func columns(table string) []string {
	cols := append([]string{}, storage.Tables[table].Indexed...)
	return append(cols, "created_at", "updated_at")
}

// columnValue pulls a column's value out of the row for binding, mapping
// absent fields to NULL.
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

	var data string
	err := e.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE id = ?", table), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s/%s: %w", table, id, err)
	}

	var row storage.Row
	if err := json.Unmarshal([]byte(data), &row); err != nil {
		return nil, fmt.Errorf("sqlite: get %s/%s: corrupt row: %w", table, id, err)
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

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(colNames)), ", ")

	var updates []string
	for _, c := range colNames[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	args := make([]any, 0, len(colNames))
	args = append(args, row.ID())
	for _, c := range cols {
		args = append(args, columnValue(row, c))
	}
	args = append(args, string(data))

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		table, strings.Join(colNames, ", "), placeholders, strings.Join(updates, ", "))

	if _, err := e.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: put %s/%s: %w", table, row.ID(), err)
	}
	return nil
}

// Delete removes a row by id; missing rows are a no-op.
func (e *Engine) Delete(ctx context.Context, table, id string) error {
	if !storage.KnownTable(table) {
		return fmt.Errorf("%w: %q", storage.ErrUnknownTable, table)
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", storage.ErrInvalidInput)
	}

	if _, err := e.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id); err != nil {
		return fmt.Errorf("sqlite: delete %s/%s: %w", table, id, err)
	}
	return nil
}

// Query selects rows. Filters on extracted columns run in SQL; filters on
// fields that only live in the JSON body are applied in memory after the
// indexed portion, in which case pagination also moves in memory.
func (e *Engine) Query(ctx context.Context, opts storage.QueryOptions) ([]storage.Row, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	columnSet := map[string]bool{"id": true}
	for _, c := range columns(opts.Table) {
		columnSet[c] = true
	}

	var (
		clauses  []string
		args     []any
		residual = map[string]any{}
	)
	for field, value := range opts.Where {
		if columnSet[field] {
			clauses = append(clauses, fmt.Sprintf("%s = ?", field))
			args = append(args, value)
		} else {
			residual[field] = value
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT data FROM %s", opts.Table)
	if len(clauses) > 0 {
		b.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	if opts.OrderBy != "" {
		// Sortable fields without an extracted column live only in the JSON
		// body. The id tiebreaker keeps equal sort keys in a stable order
		// across engines.
		orderExpr := opts.OrderBy
		if !columnSet[opts.OrderBy] {
			orderExpr = fmt.Sprintf("json_extract(data, '$.%s')", opts.OrderBy)
		}
		dir := strings.ToUpper(opts.SortOrder)
		fmt.Fprintf(&b, " ORDER BY %s %s, id %s", orderExpr, dir, dir)
	}

	// Pagination can only be pushed down when SQL sees the final row set.
	pushDown := len(residual) == 0
	if pushDown {
		if opts.Limit > 0 {
			fmt.Fprintf(&b, " LIMIT %d", opts.Limit)
			if opts.Offset > 0 {
				fmt.Fprintf(&b, " OFFSET %d", opts.Offset)
			}
		} else if opts.Offset > 0 {
			fmt.Fprintf(&b, " LIMIT -1 OFFSET %d", opts.Offset)
		}
	}

	rows, err := e.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query %s: %w", opts.Table, err)
	}
	defer rows.Close()

	var result []storage.Row
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite: query %s: %w", opts.Table, err)
		}
		var row storage.Row
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, fmt.Errorf("sqlite: query %s: corrupt row: %w", opts.Table, err)
		}
		if !matchResidual(row, residual) {
			continue
		}
		result = append(result, storage.NormalizeRow(row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: query %s: %w", opts.Table, err)
	}

	if !pushDown {
		if opts.Offset > 0 {
			if opts.Offset >= len(result) {
				return []storage.Row{}, nil
			}
			result = result[opts.Offset:]
		}
		if opts.Limit > 0 && len(result) > opts.Limit {
			result = result[:opts.Limit]
		}
	}
	return result, nil
}

func matchResidual(row storage.Row, residual map[string]any) bool {
	for field, want := range residual {
		if fmt.Sprint(row[field]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// AddMessage inserts into the messages table.
func (e *Engine) AddMessage(ctx context.Context, msg *storage.MessageRow) error {
	return storage.PutMessage(ctx, e, msg)
}

// AddMemory inserts into the memories table.
func (e *Engine) AddMemory(ctx context.Context, mem *storage.MemoryRow) error {
	return storage.PutMemory(ctx, e, mem)
}

// AddEmbedding inserts into the embeddings table.
func (e *Engine) AddEmbedding(ctx context.Context, emb *storage.EmbeddingRow) error {
	return storage.PutEmbedding(ctx, e, emb)
}

// VectorSearch performs the shared full-scan cosine search.
func (e *Engine) VectorSearch(ctx context.Context, opts storage.VectorSearchOptions) ([]storage.VectorMatch, error) {
	return storage.SearchVectors(ctx, e, opts)
}

// WithTransaction brackets fn in a write transaction. The engine keeps one
// open connection, so statements issued by fn land inside the bracket.
func (e *Engine) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	e.txMu.Lock()
	defer e.txMu.Unlock()

	if _, err := e.db.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}

	if err := fn(ctx); err != nil {
		if _, rbErr := e.db.Exec("ROLLBACK"); rbErr != nil {
			return fmt.Errorf("sqlite: rollback after %v: %w", err, rbErr)
		}
		return err
	}

	if _, err := e.db.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
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

// ImportSnapshot replays a snapshot inside one write transaction.
func (e *Engine) ImportSnapshot(ctx context.Context, r io.Reader) error {
	return e.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := storage.ReadSnapshot(ctx, e, r)
		return err
	})
}
