// Package repo holds the domain repositories. Each repository adapts one
// family of typed domain objects onto the generic row store: it stamps
// identifiers and timestamps on create, translates between struct fields
// and row fields, and implements the cascade rules for deletes.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/emberfall/hearth/internal/storage"
)

// ErrNotFound is returned when an update or targeted read names a row
// that does not exist.
var ErrNotFound = errors.New("repo: not found")

// Repos bundles every repository over one storage engine.
type Repos struct {
	Characters *CharacterRepo
	Chats      *ChatRepo
	Messages   *MessageRepo
	Assets     *AssetRepo
	DMs        *DMRepo
	Posts      *PostRepo
}

// New creates the repository bundle backed by s.
func New(s storage.Storage) *Repos {
	return &Repos{
		Characters: &CharacterRepo{s: s},
		Chats:      &ChatRepo{s: s},
		Messages:   &MessageRepo{s: s},
		Assets:     &AssetRepo{s: s},
		DMs:        &DMRepo{s: s},
		Posts:      &PostRepo{s: s},
	}
}

// withTx runs fn inside a transaction bracket when the engine offers one,
// and falls back to running it directly otherwise. Cascade deletes use
// this so engines with transactions get all-or-nothing semantics while
// the rest degrade to best-effort sequential deletes.
func withTx(ctx context.Context, s storage.Storage, fn func(ctx context.Context) error) error {
	if tx, ok := s.(storage.Transactional); ok {
		return tx.WithTransaction(ctx, fn)
	}
	return fn(ctx)
}

// newID returns a fresh UUID string.
func newID() string { return uuid.New().String() }

// millisToTime converts an epoch-millis row field to time.Time. Zero maps
// to the zero time rather than the epoch.
func millisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// timeToMillis converts a time.Time to epoch millis. The zero time maps
// to zero.
func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// mapOf converts a struct to its JSON object form for nesting inside a
// row.
func mapOf(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	return m, nil
}

// structFromMap decodes a nested row field back into a struct.
func structFromMap(m any, out any) error {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// deleteAll removes every row matching where from table.
func deleteAll(ctx context.Context, s storage.Storage, table string, where map[string]any) error {
	rows, err := s.Query(ctx, storage.QueryOptions{Table: table, Where: where})
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := s.Delete(ctx, table, row.ID()); err != nil {
			return err
		}
	}
	return nil
}
