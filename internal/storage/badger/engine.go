// Package badger implements the Storage contract on BadgerDB. It is the
// universal fallback engine: pure Go, no external process, works on every
// host, and supports an in-memory mode for tests.
package badger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/emberfall/hearth/internal/storage"
)

// EngineTag identifies this implementation in Storage.Engine().
const EngineTag = "badger"

// Engine is the BadgerDB-backed storage engine.
type Engine struct {
	db     *badgerdb.DB
	policy storage.CompactionPolicy
	logger *slog.Logger
}

var (
	_ storage.Storage       = (*Engine)(nil)
	_ storage.Transactional = (*Engine)(nil)
	_ storage.Compactor     = (*Engine)(nil)
	_ storage.Snapshotter   = (*Engine)(nil)
)

// txnKey carries the transaction opened by WithTransaction through the
// context, so operations issued inside the bracket join it.
type txnKey struct{}

func contextTxn(ctx context.Context) (*badgerdb.Txn, bool) {
	txn, ok := ctx.Value(txnKey{}).(*badgerdb.Txn)
	return txn, ok
}

// update runs fn in the context's pinned transaction when inside a
// WithTransaction bracket, or in its own write transaction otherwise.
func (e *Engine) update(ctx context.Context, fn func(txn *badgerdb.Txn) error) error {
	if txn, ok := contextTxn(ctx); ok {
		return fn(txn)
	}
	return e.db.Update(fn)
}

// view is the read-side counterpart of update.
func (e *Engine) view(ctx context.Context, fn func(txn *badgerdb.Txn) error) error {
	if txn, ok := contextTxn(ctx); ok {
		return fn(txn)
	}
	return e.db.View(fn)
}

// slogAdapter adapts slog.Logger to badger's Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

var _ badgerdb.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Errorf(msg string, items ...any)   { a.logger.Error(fmt.Sprintf(msg, items...)) }
func (a *slogAdapter) Warningf(msg string, items ...any) { a.logger.Warn(fmt.Sprintf(msg, items...)) }
func (a *slogAdapter) Infof(msg string, items ...any)    { a.logger.Info(fmt.Sprintf(msg, items...)) }
func (a *slogAdapter) Debugf(msg string, items ...any)   { a.logger.Debug(fmt.Sprintf(msg, items...)) }

// Open opens (or creates) a Badger database at path. An empty path opens an
// in-memory database, used by tests and as a last-ditch volatile fallback.
func Open(path string, policy storage.CompactionPolicy) (*Engine, error) {
	var opts badgerdb.Options
	if path == "" {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("badger: stat %s: %w", path, err)
			}
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, fmt.Errorf("badger: mkdir %s: %w", path, err)
			}
		} else if !info.IsDir() {
			return nil, fmt.Errorf("badger: %s is not a directory", path)
		}
		opts = badgerdb.DefaultOptions(path)
	}

	logger := slog.Default()
	opts.Logger = &slogAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}

	return &Engine{db: db, policy: policy, logger: logger}, nil
}

// Engine returns the implementation tag.
func (e *Engine) Engine() string { return EngineTag }

// Close closes the underlying database.
func (e *Engine) Close() error { return e.db.Close() }

// Get fetches a row by id; a missing row yields (nil, nil).
func (e *Engine) Get(ctx context.Context, table, id string) (storage.Row, error) {
	if !storage.KnownTable(table) {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownTable, table)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", storage.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var row storage.Row
	err := e.view(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(makeRowKey(table, id))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &row)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badger: get %s/%s: %w", table, id, err)
	}
	if row == nil {
		return nil, nil
	}
	return storage.NormalizeRow(row), nil
}

// Put upserts a row and refreshes its secondary index entries.
func (e *Engine) Put(ctx context.Context, table string, row storage.Row) error {
	if err := storage.ValidateRow(table, row); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("%w: row is not serializable: %v", storage.ErrInvalidInput, err)
	}

	id := row.ID()
	err = e.update(ctx, func(txn *badgerdb.Txn) error {
		if err := e.dropIndexEntries(txn, table, id); err != nil {
			return err
		}
		if err := txn.Set(makeRowKey(table, id), data); err != nil {
			return err
		}
		return e.writeIndexEntries(txn, table, row)
	})
	if err != nil {
		return fmt.Errorf("badger: put %s/%s: %w", table, id, err)
	}
	return nil
}

// Delete removes a row and its index entries; missing rows are a no-op.
func (e *Engine) Delete(ctx context.Context, table, id string) error {
	if !storage.KnownTable(table) {
		return fmt.Errorf("%w: %q", storage.ErrUnknownTable, table)
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", storage.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := e.update(ctx, func(txn *badgerdb.Txn) error {
		if err := e.dropIndexEntries(txn, table, id); err != nil {
			return err
		}
		return txn.Delete(makeRowKey(table, id))
	})
	if err != nil {
		return fmt.Errorf("badger: delete %s/%s: %w", table, id, err)
	}
	return nil
}

// writeIndexEntries adds index keys for the row's indexed string fields.
func (e *Engine) writeIndexEntries(txn *badgerdb.Txn, table string, row storage.Row) error {
	for _, field := range storage.Tables[table].Indexed {
		value, ok := row[field].(string)
		if !ok || value == "" {
			continue
		}
		if err := txn.Set(makeIndexKey(table, field, value, row.ID()), nil); err != nil {
			return err
		}
	}
	return nil
}

// dropIndexEntries removes the index keys belonging to the stored version
// of a row, if any.
func (e *Engine) dropIndexEntries(txn *badgerdb.Txn, table, id string) error {
	item, err := txn.Get(makeRowKey(table, id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var old storage.Row
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &old) }); err != nil {
		return err
	}

	for _, field := range storage.Tables[table].Indexed {
		value, ok := old[field].(string)
		if !ok || value == "" {
			continue
		}
		if err := txn.Delete(makeIndexKey(table, field, value, id)); err != nil {
			return err
		}
	}
	return nil
}

// Query selects rows with equality filters. When a filter names an indexed
// string field the candidate set comes from an index prefix scan; otherwise
// the whole table is scanned. Ordering and pagination are applied in
// memory, which is the documented limitation of this engine.
func (e *Engine) Query(ctx context.Context, opts storage.QueryOptions) ([]storage.Row, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indexField, indexValue := pickIndex(opts)

	var rows []storage.Row
	err := e.view(ctx, func(txn *badgerdb.Txn) error {
		var err error
		if indexField != "" {
			rows, err = e.loadByIndex(txn, opts.Table, indexField, indexValue)
		} else {
			rows, err = e.loadByScan(txn, opts.Table)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger: query %s: %w", opts.Table, err)
	}

	filtered := rows[:0]
	for _, row := range rows {
		if matchWhere(row, opts.Where) {
			filtered = append(filtered, storage.NormalizeRow(row))
		}
	}

	sortRows(filtered, opts.OrderBy, opts.SortOrder)
	return paginate(filtered, opts.Offset, opts.Limit), nil
}

// pickIndex chooses one indexed string-valued where clause, if any.
func pickIndex(opts storage.QueryOptions) (field, value string) {
	for _, f := range storage.Tables[opts.Table].Indexed {
		if v, ok := opts.Where[f].(string); ok && v != "" {
			return f, v
		}
	}
	return "", ""
}

func (e *Engine) loadByIndex(txn *badgerdb.Txn, table, field, value string) ([]storage.Row, error) {
	itOpts := badgerdb.DefaultIteratorOptions
	itOpts.Prefix = makeIndexPrefix(table, field, value)
	itOpts.PrefetchValues = false

	it := txn.NewIterator(itOpts)
	defer it.Close()

	var rows []storage.Row
	for it.Rewind(); it.Valid(); it.Next() {
		id := indexKeyID(it.Item().Key())
		if id == "" {
			continue
		}
		item, err := txn.Get(makeRowKey(table, id))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			continue // dangling index entry
		}
		if err != nil {
			return nil, err
		}
		var row storage.Row
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &row) }); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *Engine) loadByScan(txn *badgerdb.Txn, table string) ([]storage.Row, error) {
	itOpts := badgerdb.DefaultIteratorOptions
	itOpts.Prefix = makeTablePrefix(table)

	it := txn.NewIterator(itOpts)
	defer it.Close()

	var rows []storage.Row
	for it.Rewind(); it.Valid(); it.Next() {
		var row storage.Row
		err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &row) })
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
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

// WithTransaction brackets fn in one write transaction: every operation
// issued with the ctx passed to fn joins it, and nothing lands unless fn
// returns nil. Nested brackets join the outer transaction.
func (e *Engine) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := contextTxn(ctx); ok {
		return fn(ctx)
	}

	txn := e.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(context.WithValue(ctx, txnKey{}, txn)); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("badger: commit: %w", err)
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

// ImportSnapshot replays a snapshot inside a single write transaction, so a
// torn import leaves no partial state behind.
func (e *Engine) ImportSnapshot(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	txn := e.db.NewTransaction(true)
	defer txn.Discard()

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var line storage.SnapshotLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return fmt.Errorf("badger: import line %d: %w", lineNo, err)
		}
		if err := storage.ValidateRow(line.Table, line.Row); err != nil {
			return fmt.Errorf("badger: import line %d: %w", lineNo, err)
		}

		data, err := json.Marshal(storage.NormalizeRow(line.Row))
		if err != nil {
			return fmt.Errorf("badger: import line %d: %w", lineNo, err)
		}

		if err := e.dropIndexEntries(txn, line.Table, line.Row.ID()); err != nil {
			return fmt.Errorf("badger: import line %d: %w", lineNo, err)
		}
		if err := txn.Set(makeRowKey(line.Table, line.Row.ID()), data); err != nil {
			return fmt.Errorf("badger: import line %d: %w", lineNo, err)
		}
		if err := e.writeIndexEntries(txn, line.Table, line.Row); err != nil {
			return fmt.Errorf("badger: import line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("badger: import read: %w", err)
	}

	return txn.Commit()
}

// matchWhere reports whether a row satisfies every equality clause.
func matchWhere(row storage.Row, where map[string]any) bool {
	for field, want := range where {
		if !equalValues(row[field], want) {
			return false
		}
	}
	return true
}

// equalValues compares loosely across the numeric representations a JSON
// round trip produces.
func equalValues(got, want any) bool {
	if gf, ok := asFloat(got); ok {
		if wf, ok := asFloat(want); ok {
			return gf == wf
		}
		return false
	}
	return got == want
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// sortRows orders rows in memory on a single field, breaking ties on id so
// equal sort keys come back in the same order every engine produces.
func sortRows(rows []storage.Row, orderBy, sortOrder string) {
	if orderBy == "" {
		return
	}
	desc := sortOrder == "desc"
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i][orderBy], rows[j][orderBy]
		if equalValues(a, b) {
			less := rows[i].ID() < rows[j].ID()
			if desc {
				return !less
			}
			return less
		}
		less := lessValue(a, b)
		if desc {
			return !less
		}
		return less
	})
}

func lessValue(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af < bf
		}
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	return strings.Compare(as, bs) < 0
}

func paginate(rows []storage.Row, offset, limit int) []storage.Row {
	if offset >= len(rows) {
		return []storage.Row{}
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
