package repo

import (
	"context"
	"fmt"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/pkg/types"
)

// CharacterRepo manages character rows and their structured profiles.
type CharacterRepo struct {
	s storage.Storage
}

// Create stamps and persists a new character. A missing ID is generated;
// timestamps are always assigned here.
func (r *CharacterRepo) Create(ctx context.Context, c *types.Character) error {
	if c.ID == "" {
		c.ID = newID()
	}
	now := millisToTime(storage.NowMillis())
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	row, err := characterToRow(c)
	if err != nil {
		return err
	}
	return r.s.Put(ctx, storage.TableCharacters, row)
}

// Get returns the character, or (nil, nil) when absent.
func (r *CharacterRepo) Get(ctx context.Context, id string) (*types.Character, error) {
	row, err := r.s.Get(ctx, storage.TableCharacters, id)
	if err != nil || row == nil {
		return nil, err
	}
	return characterFromRow(row)
}

// List returns every character ordered by name.
func (r *CharacterRepo) List(ctx context.Context) ([]*types.Character, error) {
	rows, err := r.s.Query(ctx, storage.QueryOptions{
		Table:     storage.TableCharacters,
		OrderBy:   "name",
		SortOrder: "asc",
	})
	if err != nil {
		return nil, err
	}

	chars := make([]*types.Character, 0, len(rows))
	for _, row := range rows {
		c, err := characterFromRow(row)
		if err != nil {
			return nil, err
		}
		chars = append(chars, c)
	}
	return chars, nil
}

// Update applies fn to the stored character and writes the result back.
// CreatedAt is preserved; UpdatedAt is bumped. Returns ErrNotFound when
// the character does not exist.
func (r *CharacterRepo) Update(ctx context.Context, id string, fn func(*types.Character) error) (*types.Character, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: character %s", ErrNotFound, id)
	}

	createdAt := c.CreatedAt
	if err := fn(c); err != nil {
		return nil, err
	}
	c.ID = id
	c.CreatedAt = createdAt
	c.UpdatedAt = millisToTime(storage.NowMillis())

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	row, err := characterToRow(c)
	if err != nil {
		return nil, err
	}
	if err := r.s.Put(ctx, storage.TableCharacters, row); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes the character and everything scoped to it: chats (with
// their messages and participant rows), memories, assets, DM threads, and
// posts. Engines with transactions get the whole cascade atomically.
func (r *CharacterRepo) Delete(ctx context.Context, id string) error {
	return withTx(ctx, r.s, func(ctx context.Context) error {
		chats, err := r.s.Query(ctx, storage.QueryOptions{
			Table: storage.TableChats,
			Where: map[string]any{"character_id": id},
		})
		if err != nil {
			return err
		}
		for _, chat := range chats {
			if err := deleteChatCascade(ctx, r.s, chat.ID()); err != nil {
				return err
			}
		}

		dms, err := r.s.Query(ctx, storage.QueryOptions{
			Table: storage.TableDMs,
			Where: map[string]any{"character_id": id},
		})
		if err != nil {
			return err
		}
		for _, dm := range dms {
			if err := deleteDMCascade(ctx, r.s, dm.ID()); err != nil {
				return err
			}
		}

		for _, table := range []string{storage.TableMemories, storage.TableAssets, storage.TablePosts} {
			if err := deleteAll(ctx, r.s, table, map[string]any{"character_id": id}); err != nil {
				return err
			}
		}
		if err := deleteAll(ctx, r.s, storage.TableChatParticipants, map[string]any{"character_id": id}); err != nil {
			return err
		}

		return r.s.Delete(ctx, storage.TableCharacters, id)
	})
}

func characterToRow(c *types.Character) (storage.Row, error) {
	profile, err := mapOf(c.Profile)
	if err != nil {
		return nil, err
	}
	return storage.Row{
		"id":         c.ID,
		"name":       c.Name,
		"profile":    profile,
		"created_at": timeToMillis(c.CreatedAt),
		"updated_at": timeToMillis(c.UpdatedAt),
	}, nil
}

func characterFromRow(row storage.Row) (*types.Character, error) {
	c := &types.Character{
		ID:        row.ID(),
		Name:      storage.RowString(row, "name"),
		CreatedAt: millisToTime(storage.RowInt64(row, "created_at")),
		UpdatedAt: millisToTime(storage.RowInt64(row, "updated_at")),
	}
	if err := structFromMap(row["profile"], &c.Profile); err != nil {
		return nil, fmt.Errorf("repo: character %s: malformed profile: %w", c.ID, err)
	}
	return c, nil
}
