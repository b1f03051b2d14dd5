package storage

import (
	"context"
	"fmt"

	"github.com/emberfall/hearth/pkg/types"
)

// MessageRow is the typed shape for the messages table.
type MessageRow struct {
	ID         string
	ChatID     string
	Role       string
	Content    string
	Metadata   map[string]any
	TurnIndex  int
	TokenCount int
	CreatedAt  int64 // epoch millis
}

// Validate checks the required fields.
func (m *MessageRow) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidInput)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidInput)
	}
	if m.ChatID == "" {
		return fmt.Errorf("%w: message chat_id is required", ErrInvalidInput)
	}
	if m.Role == "" {
		return fmt.Errorf("%w: message role is required", ErrInvalidInput)
	}
	return nil
}

// Row converts the message to its generic row form.
func (m *MessageRow) Row() Row {
	if m.CreatedAt == 0 {
		m.CreatedAt = NowMillis()
	}
	row := Row{
		"id":          m.ID,
		"chat_id":     m.ChatID,
		"role":        m.Role,
		"content":     m.Content,
		"turn_index":  int64(m.TurnIndex),
		"token_count": int64(m.TokenCount),
		"created_at":  m.CreatedAt,
	}
	if m.Metadata != nil {
		row["metadata"] = m.Metadata
	}
	return row
}

// MemoryRow is the typed shape for the memories table.
type MemoryRow struct {
	ID          string
	CharacterID string
	ChatID      string
	Source      string
	Kind        types.MemoryKind
	Content     string
	Importance  float64
	Decay       float64
	Tags        []string
	CreatedAt   int64
	UpdatedAt   int64
}

// Validate checks the required fields and score ranges.
func (m *MemoryRow) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil memory", ErrInvalidInput)
	}
	mem := types.Memory{
		ID:          m.ID,
		CharacterID: m.CharacterID,
		Kind:        m.Kind,
		Content:     m.Content,
		Importance:  m.Importance,
		Decay:       m.Decay,
	}
	if err := mem.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Row converts the memory to its generic row form.
func (m *MemoryRow) Row() Row {
	now := NowMillis()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = now
	}
	row := Row{
		"id":           m.ID,
		"character_id": m.CharacterID,
		"chat_id":      m.ChatID,
		"source":       m.Source,
		"kind":         string(m.Kind),
		"content":      m.Content,
		"importance":   m.Importance,
		"decay":        m.Decay,
		"created_at":   m.CreatedAt,
		"updated_at":   m.UpdatedAt,
	}
	if len(m.Tags) > 0 {
		tags := make([]any, len(m.Tags))
		for i, t := range m.Tags {
			tags[i] = t
		}
		row["tags"] = tags
	}
	return row
}

// EmbeddingRow is the typed shape for the embeddings table. Vec is the raw
// little-endian float32 buffer (see pkg/vector).
type EmbeddingRow struct {
	ID        string
	Namespace string
	RefID     string
	Model     string
	Dim       int
	Vec       []byte
	CreatedAt int64
}

// Validate checks the required fields and that the buffer matches Dim.
func (e *EmbeddingRow) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil embedding", ErrInvalidInput)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: embedding id is required", ErrInvalidInput)
	}
	if e.Namespace == "" {
		return fmt.Errorf("%w: embedding namespace is required", ErrInvalidInput)
	}
	if e.RefID == "" {
		return fmt.Errorf("%w: embedding ref_id is required", ErrInvalidInput)
	}
	if len(e.Vec) == 0 {
		return fmt.Errorf("%w: embedding vector is required", ErrInvalidInput)
	}
	if e.Dim > 0 && len(e.Vec) != e.Dim*4 {
		return fmt.Errorf("%w: vector buffer is %d bytes, dimension %d requires %d",
			ErrInvalidInput, len(e.Vec), e.Dim, e.Dim*4)
	}
	return nil
}

// Row converts the embedding to its generic row form.
func (e *EmbeddingRow) Row() Row {
	if e.CreatedAt == 0 {
		e.CreatedAt = NowMillis()
	}
	if e.Dim == 0 {
		e.Dim = len(e.Vec) / 4
	}
	return Row{
		"id":         e.ID,
		"namespace":  e.Namespace,
		"ref_id":     e.RefID,
		"model":      e.Model,
		"dim":        int64(e.Dim),
		"vec":        e.Vec,
		"created_at": e.CreatedAt,
	}
}

// PutMessage validates and upserts a message row. Engines delegate their
// AddMessage to this so the semantics stay identical across backends.
func PutMessage(ctx context.Context, s Storage, m *MessageRow) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.Put(ctx, TableMessages, m.Row())
}

// PutMemory validates and upserts a memory row.
func PutMemory(ctx context.Context, s Storage, m *MemoryRow) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.Put(ctx, TableMemories, m.Row())
}

// PutEmbedding validates and upserts an embedding row.
func PutEmbedding(ctx context.Context, s Storage, e *EmbeddingRow) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return s.Put(ctx, TableEmbeddings, e.Row())
}
