// Package settings is the key/value settings layer on top of storage.
// Each setting is one row in the settings table whose id is the key and
// whose value is a JSON-encoded string.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/emberfall/hearth/internal/storage"
)

// ErrMalformedValue marks a stored value that exists but does not decode
// into the requested shape. Value.Load treats it as absent; direct Get
// callers see the error.
var ErrMalformedValue = errors.New("settings: malformed value")

// Store reads and writes settings rows.
type Store struct {
	storage storage.Storage
}

// NewStore creates a settings store backed by s.
func NewStore(s storage.Storage) *Store {
	return &Store{storage: s}
}

// Get loads the setting for key into out and reports whether it existed.
// Values are stored as JSON; a stored value that does not parse as JSON is
// treated as a plain string, which keeps settings written by older
// versions readable.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("%w: setting key is required", storage.ErrInvalidInput)
	}

	row, err := s.storage.Get(ctx, storage.TableSettings, key)
	if err != nil {
		return false, fmt.Errorf("settings: get %q: %w", key, err)
	}
	if row == nil {
		return false, nil
	}

	raw := storage.RowString(row, "value")
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		if sp, ok := out.(*string); ok {
			*sp = raw
			return true, nil
		}
		return false, fmt.Errorf("%w: get %q: %v", ErrMalformedValue, key, err)
	}
	return true, nil
}

// Set writes the setting for key, replacing any previous value wholesale.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	if key == "" {
		return fmt.Errorf("%w: setting key is required", storage.ErrInvalidInput)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: setting %q is not serializable: %v", storage.ErrInvalidInput, key, err)
	}

	row := storage.Row{
		"id":    key,
		"key":   key,
		"value": string(raw),
	}
	if prev, err := s.storage.Get(ctx, storage.TableSettings, key); err == nil && prev != nil {
		row["created_at"] = storage.RowInt64(prev, "created_at")
	} else {
		row["created_at"] = storage.NowMillis()
	}
	row["updated_at"] = storage.NowMillis()

	if err := s.storage.Put(ctx, storage.TableSettings, row); err != nil {
		return fmt.Errorf("settings: set %q: %w", key, err)
	}
	return nil
}

// Delete removes the setting for key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: setting key is required", storage.ErrInvalidInput)
	}
	if err := s.storage.Delete(ctx, storage.TableSettings, key); err != nil {
		return fmt.Errorf("settings: delete %q: %w", key, err)
	}
	return nil
}

// Keys lists every stored setting key in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.storage.Query(ctx, storage.QueryOptions{Table: storage.TableSettings})
	if err != nil {
		return nil, fmt.Errorf("settings: list keys: %w", err)
	}

	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.ID())
	}
	sort.Strings(keys)
	return keys, nil
}
