package repo

import (
	"context"
	"fmt"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/pkg/types"
)

// ChatRepo manages chat sessions and their participant join rows.
type ChatRepo struct {
	s storage.Storage
}

// Create stamps and persists a new chat. The primary character is always
// recorded as a participant; extras adds more.
func (r *ChatRepo) Create(ctx context.Context, chat *types.Chat, extras ...string) error {
	if chat.ID == "" {
		chat.ID = newID()
	}
	if chat.CharacterID == "" {
		return fmt.Errorf("%w: chat character_id is required", storage.ErrInvalidInput)
	}
	now := millisToTime(storage.NowMillis())
	chat.CreatedAt = now
	chat.UpdatedAt = now

	return withTx(ctx, r.s, func(ctx context.Context) error {
		if err := r.s.Put(ctx, storage.TableChats, chatToRow(chat)); err != nil {
			return err
		}
		for _, charID := range append([]string{chat.CharacterID}, extras...) {
			if err := r.addParticipant(ctx, chat.ID, charID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the chat, or (nil, nil) when absent.
func (r *ChatRepo) Get(ctx context.Context, id string) (*types.Chat, error) {
	row, err := r.s.Get(ctx, storage.TableChats, id)
	if err != nil || row == nil {
		return nil, err
	}
	return chatFromRow(row), nil
}

// List returns chats, newest first. A non-empty characterID narrows the
// list to that character's chats.
func (r *ChatRepo) List(ctx context.Context, characterID string) ([]*types.Chat, error) {
	opts := storage.QueryOptions{
		Table:     storage.TableChats,
		OrderBy:   "updated_at",
		SortOrder: "desc",
	}
	if characterID != "" {
		opts.Where = map[string]any{"character_id": characterID}
	}

	rows, err := r.s.Query(ctx, opts)
	if err != nil {
		return nil, err
	}
	chats := make([]*types.Chat, 0, len(rows))
	for _, row := range rows {
		chats = append(chats, chatFromRow(row))
	}
	return chats, nil
}

// Rename updates the chat title. Returns ErrNotFound when absent.
func (r *ChatRepo) Rename(ctx context.Context, id, title string) error {
	row, err := r.s.Get(ctx, storage.TableChats, id)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("%w: chat %s", ErrNotFound, id)
	}
	row["title"] = title
	row["updated_at"] = storage.NowMillis()
	return r.s.Put(ctx, storage.TableChats, row)
}

// Touch bumps the chat's updated_at so it sorts to the top of List.
func (r *ChatRepo) Touch(ctx context.Context, id string) error {
	row, err := r.s.Get(ctx, storage.TableChats, id)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("%w: chat %s", ErrNotFound, id)
	}
	row["updated_at"] = storage.NowMillis()
	return r.s.Put(ctx, storage.TableChats, row)
}

// AddParticipant records a character as a member of the chat. Adding an
// existing participant is a no-op.
func (r *ChatRepo) AddParticipant(ctx context.Context, chatID, characterID string) error {
	return r.addParticipant(ctx, chatID, characterID)
}

func (r *ChatRepo) addParticipant(ctx context.Context, chatID, characterID string) error {
	if chatID == "" || characterID == "" {
		return fmt.Errorf("%w: chat and character ids are required", storage.ErrInvalidInput)
	}
	// Deterministic join id makes the add idempotent.
	return r.s.Put(ctx, storage.TableChatParticipants, storage.Row{
		"id":           chatID + ":" + characterID,
		"chat_id":      chatID,
		"character_id": characterID,
		"created_at":   storage.NowMillis(),
	})
}

// RemoveParticipant drops a character from the chat.
func (r *ChatRepo) RemoveParticipant(ctx context.Context, chatID, characterID string) error {
	return r.s.Delete(ctx, storage.TableChatParticipants, chatID+":"+characterID)
}

// Participants lists the character IDs present in the chat.
func (r *ChatRepo) Participants(ctx context.Context, chatID string) ([]string, error) {
	rows, err := r.s.Query(ctx, storage.QueryOptions{
		Table:     storage.TableChatParticipants,
		Where:     map[string]any{"chat_id": chatID},
		OrderBy:   "created_at",
		SortOrder: "asc",
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, storage.RowString(row, "character_id"))
	}
	return ids, nil
}

// Delete removes the chat with its messages, participant rows, and
// chat-scoped memories.
func (r *ChatRepo) Delete(ctx context.Context, id string) error {
	return withTx(ctx, r.s, func(ctx context.Context) error {
		return deleteChatCascade(ctx, r.s, id)
	})
}

// deleteChatCascade is shared with the character cascade, which already
// holds the transaction bracket.
func deleteChatCascade(ctx context.Context, s storage.Storage, chatID string) error {
	for _, t := range []struct {
		table string
		field string
	}{
		{storage.TableMessages, "chat_id"},
		{storage.TableChatParticipants, "chat_id"},
		{storage.TableMemories, "chat_id"},
	} {
		if err := deleteAll(ctx, s, t.table, map[string]any{t.field: chatID}); err != nil {
			return err
		}
	}
	return s.Delete(ctx, storage.TableChats, chatID)
}

func chatToRow(chat *types.Chat) storage.Row {
	return storage.Row{
		"id":           chat.ID,
		"title":        chat.Title,
		"character_id": chat.CharacterID,
		"created_at":   timeToMillis(chat.CreatedAt),
		"updated_at":   timeToMillis(chat.UpdatedAt),
	}
}

func chatFromRow(row storage.Row) *types.Chat {
	return &types.Chat{
		ID:          row.ID(),
		Title:       storage.RowString(row, "title"),
		CharacterID: storage.RowString(row, "character_id"),
		CreatedAt:   millisToTime(storage.RowInt64(row, "created_at")),
		UpdatedAt:   millisToTime(storage.RowInt64(row, "updated_at")),
	}
}
