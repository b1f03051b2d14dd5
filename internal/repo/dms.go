package repo

import (
	"context"
	"fmt"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/pkg/types"
)

// DMRepo manages direct-message threads and their messages.
type DMRepo struct {
	s storage.Storage
}

// CreateConversation stamps and persists a DM thread.
func (r *DMRepo) CreateConversation(ctx context.Context, dm *types.DMConversation) error {
	if dm.ID == "" {
		dm.ID = newID()
	}
	if dm.CharacterID == "" {
		return fmt.Errorf("%w: dm character_id is required", storage.ErrInvalidInput)
	}
	now := millisToTime(storage.NowMillis())
	dm.CreatedAt = now
	dm.UpdatedAt = now

	return r.s.Put(ctx, storage.TableDMs, storage.Row{
		"id":           dm.ID,
		"character_id": dm.CharacterID,
		"title":        dm.Title,
		"created_at":   timeToMillis(dm.CreatedAt),
		"updated_at":   timeToMillis(dm.UpdatedAt),
	})
}

// GetConversation returns the thread, or (nil, nil) when absent.
func (r *DMRepo) GetConversation(ctx context.Context, id string) (*types.DMConversation, error) {
	row, err := r.s.Get(ctx, storage.TableDMs, id)
	if err != nil || row == nil {
		return nil, err
	}
	return dmFromRow(row), nil
}

// ListConversations returns a character's DM threads, most recently
// active first.
func (r *DMRepo) ListConversations(ctx context.Context, characterID string) ([]*types.DMConversation, error) {
	rows, err := r.s.Query(ctx, storage.QueryOptions{
		Table:     storage.TableDMs,
		Where:     map[string]any{"character_id": characterID},
		OrderBy:   "updated_at",
		SortOrder: "desc",
	})
	if err != nil {
		return nil, err
	}

	dms := make([]*types.DMConversation, 0, len(rows))
	for _, row := range rows {
		dms = append(dms, dmFromRow(row))
	}
	return dms, nil
}

// Send appends a message to a thread and bumps the thread's updated_at.
// The message's TurnIndex is always assigned here; callers do not choose
// thread positions.
func (r *DMRepo) Send(ctx context.Context, msg *types.DMMessage) error {
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.ConversationID == "" {
		return fmt.Errorf("%w: dm message conversation_id is required", storage.ErrInvalidInput)
	}
	if msg.Role == "" {
		return fmt.Errorf("%w: dm message role is required", storage.ErrInvalidInput)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = millisToTime(storage.NowMillis())
	}
	next, err := r.nextTurnIndex(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	msg.TurnIndex = next

	err = r.s.Put(ctx, storage.TableDMMessages, storage.Row{
		"id":              msg.ID,
		"conversation_id": msg.ConversationID,
		"role":            msg.Role,
		"content":         msg.Content,
		"turn_index":      int64(msg.TurnIndex),
		"created_at":      timeToMillis(msg.CreatedAt),
	})
	if err != nil {
		return err
	}

	conv, err := r.s.Get(ctx, storage.TableDMs, msg.ConversationID)
	if err != nil || conv == nil {
		return err
	}
	conv["updated_at"] = storage.NowMillis()
	return r.s.Put(ctx, storage.TableDMs, conv)
}

// Messages returns a thread's messages in send order. limit <= 0 means all.
func (r *DMRepo) Messages(ctx context.Context, conversationID string, limit, offset int) ([]*types.DMMessage, error) {
	rows, err := r.s.Query(ctx, storage.QueryOptions{
		Table:     storage.TableDMMessages,
		Where:     map[string]any{"conversation_id": conversationID},
		OrderBy:   "turn_index",
		SortOrder: "asc",
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]*types.DMMessage, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, &types.DMMessage{
			ID:             row.ID(),
			ConversationID: storage.RowString(row, "conversation_id"),
			Role:           storage.RowString(row, "role"),
			Content:        storage.RowString(row, "content"),
			TurnIndex:      int(storage.RowInt64(row, "turn_index")),
			CreatedAt:      millisToTime(storage.RowInt64(row, "created_at")),
		})
	}
	return msgs, nil
}

// DeleteConversation removes the thread and its messages.
func (r *DMRepo) DeleteConversation(ctx context.Context, id string) error {
	return withTx(ctx, r.s, func(ctx context.Context) error {
		return deleteDMCascade(ctx, r.s, id)
	})
}

// nextTurnIndex scans the thread for the highest turn index. Timestamps
// can collide within a millisecond, so ordering by created_at is not
// enough.
func (r *DMRepo) nextTurnIndex(ctx context.Context, conversationID string) (int, error) {
	rows, err := r.s.Query(ctx, storage.QueryOptions{
		Table: storage.TableDMMessages,
		Where: map[string]any{"conversation_id": conversationID},
	})
	if err != nil {
		return 0, err
	}
	next := 0
	for _, row := range rows {
		if idx := int(storage.RowInt64(row, "turn_index")); idx >= next {
			next = idx + 1
		}
	}
	return next, nil
}

// deleteDMCascade is shared with the character cascade.
func deleteDMCascade(ctx context.Context, s storage.Storage, conversationID string) error {
	if err := deleteAll(ctx, s, storage.TableDMMessages, map[string]any{"conversation_id": conversationID}); err != nil {
		return err
	}
	return s.Delete(ctx, storage.TableDMs, conversationID)
}

func dmFromRow(row storage.Row) *types.DMConversation {
	return &types.DMConversation{
		ID:          row.ID(),
		CharacterID: storage.RowString(row, "character_id"),
		Title:       storage.RowString(row, "title"),
		CreatedAt:   millisToTime(storage.RowInt64(row, "created_at")),
		UpdatedAt:   millisToTime(storage.RowInt64(row, "updated_at")),
	}
}
