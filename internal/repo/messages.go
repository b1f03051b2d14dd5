package repo

import (
	"context"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/pkg/types"
)

// MessageRepo manages chat messages. Messages are append-only; there is
// no update path.
type MessageRepo struct {
	s storage.Storage
}

// Append stamps and persists a message. A missing ID is generated and a
// zero CreatedAt becomes now. When TurnIndex is negative the next index
// for the chat is assigned.
func (r *MessageRepo) Append(ctx context.Context, msg *types.Message) error {
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = millisToTime(storage.NowMillis())
	}
	if msg.TurnIndex < 0 {
		next, err := r.nextTurnIndex(ctx, msg.ChatID)
		if err != nil {
			return err
		}
		msg.TurnIndex = next
	}

	return r.s.AddMessage(ctx, &storage.MessageRow{
		ID:         msg.ID,
		ChatID:     msg.ChatID,
		Role:       msg.Role,
		Content:    msg.Content,
		Metadata:   msg.Metadata,
		TurnIndex:  msg.TurnIndex,
		TokenCount: msg.TokenCount,
		CreatedAt:  timeToMillis(msg.CreatedAt),
	})
}

// List returns the chat's messages in turn order. limit <= 0 means all.
func (r *MessageRepo) List(ctx context.Context, chatID string, limit, offset int) ([]*types.Message, error) {
	rows, err := r.s.Query(ctx, storage.QueryOptions{
		Table:     storage.TableMessages,
		Where:     map[string]any{"chat_id": chatID},
		OrderBy:   "turn_index",
		SortOrder: "asc",
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, err
	}
	return messagesFromRows(rows), nil
}

// Recent returns the chat's newest messages, newest first.
func (r *MessageRepo) Recent(ctx context.Context, chatID string, limit int) ([]*types.Message, error) {
	rows, err := r.s.Query(ctx, storage.QueryOptions{
		Table:     storage.TableMessages,
		Where:     map[string]any{"chat_id": chatID},
		OrderBy:   "turn_index",
		SortOrder: "desc",
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}
	return messagesFromRows(rows), nil
}

// Count returns how many messages the chat holds.
func (r *MessageRepo) Count(ctx context.Context, chatID string) (int, error) {
	rows, err := r.s.Query(ctx, storage.QueryOptions{
		Table: storage.TableMessages,
		Where: map[string]any{"chat_id": chatID},
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Delete removes one message.
func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	return r.s.Delete(ctx, storage.TableMessages, id)
}

// nextTurnIndex scans the chat for the highest turn index. Timestamps can
// collide within a millisecond, so ordering by created_at is not enough.
func (r *MessageRepo) nextTurnIndex(ctx context.Context, chatID string) (int, error) {
	rows, err := r.s.Query(ctx, storage.QueryOptions{
		Table: storage.TableMessages,
		Where: map[string]any{"chat_id": chatID},
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

func messagesFromRows(rows []storage.Row) []*types.Message {
	msgs := make([]*types.Message, 0, len(rows))
	for _, row := range rows {
		msg := &types.Message{
			ID:         row.ID(),
			ChatID:     storage.RowString(row, "chat_id"),
			Role:       storage.RowString(row, "role"),
			Content:    storage.RowString(row, "content"),
			TurnIndex:  int(storage.RowInt64(row, "turn_index")),
			TokenCount: int(storage.RowInt64(row, "token_count")),
			CreatedAt:  millisToTime(storage.RowInt64(row, "created_at")),
		}
		if meta, ok := row["metadata"].(map[string]any); ok {
			msg.Metadata = meta
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
