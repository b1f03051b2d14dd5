package repo

import (
	"context"
	"fmt"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/pkg/types"
)

// AssetRepo manages asset reference rows.
type AssetRepo struct {
	s storage.Storage
}

// Create stamps and persists an asset reference.
func (r *AssetRepo) Create(ctx context.Context, a *types.Asset) error {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CharacterID == "" {
		return fmt.Errorf("%w: asset character_id is required", storage.ErrInvalidInput)
	}
	if a.URL == "" {
		return fmt.Errorf("%w: asset url is required", storage.ErrInvalidInput)
	}
	if a.Kind == "" {
		a.Kind = "image"
	}
	now := millisToTime(storage.NowMillis())
	a.CreatedAt = now
	a.UpdatedAt = now

	return r.s.Put(ctx, storage.TableAssets, assetToRow(a))
}

// Get returns the asset, or (nil, nil) when absent.
func (r *AssetRepo) Get(ctx context.Context, id string) (*types.Asset, error) {
	row, err := r.s.Get(ctx, storage.TableAssets, id)
	if err != nil || row == nil {
		return nil, err
	}
	return assetFromRow(row), nil
}

// List returns a character's assets, newest first. An empty kind returns
// all kinds.
func (r *AssetRepo) List(ctx context.Context, characterID, kind string) ([]*types.Asset, error) {
	where := map[string]any{"character_id": characterID}
	if kind != "" {
		where["kind"] = kind
	}

	rows, err := r.s.Query(ctx, storage.QueryOptions{
		Table:     storage.TableAssets,
		Where:     where,
		OrderBy:   "created_at",
		SortOrder: "desc",
	})
	if err != nil {
		return nil, err
	}

	assets := make([]*types.Asset, 0, len(rows))
	for _, row := range rows {
		assets = append(assets, assetFromRow(row))
	}
	return assets, nil
}

// Delete removes one asset reference.
func (r *AssetRepo) Delete(ctx context.Context, id string) error {
	return r.s.Delete(ctx, storage.TableAssets, id)
}

func assetToRow(a *types.Asset) storage.Row {
	row := storage.Row{
		"id":           a.ID,
		"character_id": a.CharacterID,
		"kind":         a.Kind,
		"url":          a.URL,
		"created_at":   timeToMillis(a.CreatedAt),
		"updated_at":   timeToMillis(a.UpdatedAt),
	}
	if a.Metadata != nil {
		row["metadata"] = a.Metadata
	}
	return row
}

func assetFromRow(row storage.Row) *types.Asset {
	a := &types.Asset{
		ID:          row.ID(),
		CharacterID: storage.RowString(row, "character_id"),
		Kind:        storage.RowString(row, "kind"),
		URL:         storage.RowString(row, "url"),
		CreatedAt:   millisToTime(storage.RowInt64(row, "created_at")),
		UpdatedAt:   millisToTime(storage.RowInt64(row, "updated_at")),
	}
	if meta, ok := row["metadata"].(map[string]any); ok {
		a.Metadata = meta
	}
	return a
}
