package repo

import (
	"context"
	"fmt"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/pkg/types"
)

// PostRepo manages character feed posts.
type PostRepo struct {
	s storage.Storage
}

// Create stamps and persists a post.
func (r *PostRepo) Create(ctx context.Context, p *types.Post) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CharacterID == "" {
		return fmt.Errorf("%w: post character_id is required", storage.ErrInvalidInput)
	}
	if p.Content == "" && p.ImageURL == "" {
		return fmt.Errorf("%w: post needs content or an image", storage.ErrInvalidInput)
	}
	now := millisToTime(storage.NowMillis())
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Likes = 0

	return r.s.Put(ctx, storage.TablePosts, postToRow(p))
}

// Get returns the post, or (nil, nil) when absent.
func (r *PostRepo) Get(ctx context.Context, id string) (*types.Post, error) {
	row, err := r.s.Get(ctx, storage.TablePosts, id)
	if err != nil || row == nil {
		return nil, err
	}
	return postFromRow(row), nil
}

// Feed returns posts newest first. A non-empty characterID narrows the
// feed to one character.
func (r *PostRepo) Feed(ctx context.Context, characterID string, limit int) ([]*types.Post, error) {
	opts := storage.QueryOptions{
		Table:     storage.TablePosts,
		OrderBy:   "created_at",
		SortOrder: "desc",
		Limit:     limit,
	}
	if characterID != "" {
		opts.Where = map[string]any{"character_id": characterID}
	}

	rows, err := r.s.Query(ctx, opts)
	if err != nil {
		return nil, err
	}

	posts := make([]*types.Post, 0, len(rows))
	for _, row := range rows {
		posts = append(posts, postFromRow(row))
	}
	return posts, nil
}

// Like increments the post's like counter. Returns ErrNotFound when the
// post does not exist.
func (r *PostRepo) Like(ctx context.Context, id string) (*types.Post, error) {
	row, err := r.s.Get(ctx, storage.TablePosts, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: post %s", ErrNotFound, id)
	}

	row["likes"] = storage.RowInt64(row, "likes") + 1
	row["updated_at"] = storage.NowMillis()
	if err := r.s.Put(ctx, storage.TablePosts, row); err != nil {
		return nil, err
	}
	return postFromRow(row), nil
}

// Delete removes one post.
func (r *PostRepo) Delete(ctx context.Context, id string) error {
	return r.s.Delete(ctx, storage.TablePosts, id)
}

func postToRow(p *types.Post) storage.Row {
	return storage.Row{
		"id":           p.ID,
		"character_id": p.CharacterID,
		"content":      p.Content,
		"image_url":    p.ImageURL,
		"likes":        int64(p.Likes),
		"created_at":   timeToMillis(p.CreatedAt),
		"updated_at":   timeToMillis(p.UpdatedAt),
	}
}

func postFromRow(row storage.Row) *types.Post {
	return &types.Post{
		ID:          row.ID(),
		CharacterID: storage.RowString(row, "character_id"),
		Content:     storage.RowString(row, "content"),
		ImageURL:    storage.RowString(row, "image_url"),
		Likes:       int(storage.RowInt64(row, "likes")),
		CreatedAt:   millisToTime(storage.RowInt64(row, "created_at")),
		UpdatedAt:   millisToTime(storage.RowInt64(row, "updated_at")),
	}
}
