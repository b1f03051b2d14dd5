package sqlite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/pkg/vector"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := Open(":memory:", storage.CompactionPolicy{})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestEngineTag(t *testing.T) {
	eng := openTestEngine(t)
	require.Equal(t, "sqlite", eng.Engine())
}

func TestCRUD(t *testing.T) {
	ctx := context.Background()
	eng := openTestEngine(t)

	t.Run("get missing returns nil nil", func(t *testing.T) {
		row, err := eng.Get(ctx, storage.TableCharacters, "nope")
		require.NoError(t, err)
		require.Nil(t, row)
	})

	t.Run("put then get", func(t *testing.T) {
		err := eng.Put(ctx, storage.TableCharacters, storage.Row{
			"id":         "char-1",
			"name":       "Moss",
			"created_at": int64(1000),
		})
		require.NoError(t, err)

		row, err := eng.Get(ctx, storage.TableCharacters, "char-1")
		require.NoError(t, err)
		require.Equal(t, "Moss", row["name"])
		require.Equal(t, int64(1000), row["created_at"])
	})

	t.Run("put replaces wholesale", func(t *testing.T) {
		err := eng.Put(ctx, storage.TableCharacters, storage.Row{
			"id":   "char-1",
			"name": "Moss II",
		})
		require.NoError(t, err)

		row, err := eng.Get(ctx, storage.TableCharacters, "char-1")
		require.NoError(t, err)
		require.Equal(t, "Moss II", row["name"])
		require.NotContains(t, row, "created_at")
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, eng.Delete(ctx, storage.TableCharacters, "char-1"))
		require.NoError(t, eng.Delete(ctx, storage.TableCharacters, "char-1"))

		row, err := eng.Get(ctx, storage.TableCharacters, "char-1")
		require.NoError(t, err)
		require.Nil(t, row)
	})

	t.Run("unknown table rejected", func(t *testing.T) {
		_, err := eng.Get(ctx, "villains", "x")
		require.ErrorIs(t, err, storage.ErrUnknownTable)

		err = eng.Put(ctx, "villains", storage.Row{"id": "x"})
		require.ErrorIs(t, err, storage.ErrUnknownTable)
	})

	t.Run("row without id rejected", func(t *testing.T) {
		err := eng.Put(ctx, storage.TableCharacters, storage.Row{"name": "nameless"})
		require.ErrorIs(t, err, storage.ErrInvalidInput)
	})
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	eng := openTestEngine(t)

	for i := 0; i < 6; i++ {
		chatID := "chat-a"
		if i >= 4 {
			chatID = "chat-b"
		}
		err := eng.Put(ctx, storage.TableMessages, storage.Row{
			"id":         fmt.Sprintf("msg-%d", i),
			"chat_id":    chatID,
			"role":       "user",
			"content":    fmt.Sprintf("hello %d", i),
			"turn_index": int64(i),
			"created_at": int64(1000 + i),
		})
		require.NoError(t, err)
	}

	t.Run("indexed equality", func(t *testing.T) {
		rows, err := eng.Query(ctx, storage.QueryOptions{
			Table: storage.TableMessages,
			Where: map[string]any{"chat_id": "chat-b"},
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
	})

	t.Run("order limit offset in sql", func(t *testing.T) {
		rows, err := eng.Query(ctx, storage.QueryOptions{
			Table:     storage.TableMessages,
			Where:     map[string]any{"chat_id": "chat-a"},
			OrderBy:   "created_at",
			SortOrder: "desc",
			Limit:     2,
			Offset:    1,
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, "msg-2", rows[0].ID())
		require.Equal(t, "msg-1", rows[1].ID())
	})

	t.Run("residual filter on json field", func(t *testing.T) {
		rows, err := eng.Query(ctx, storage.QueryOptions{
			Table:     storage.TableMessages,
			Where:     map[string]any{"chat_id": "chat-a", "content": "hello 3"},
			OrderBy:   "created_at",
			SortOrder: "asc",
			Limit:     10,
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, "msg-3", rows[0].ID())
	})

	t.Run("order by turn index from json body", func(t *testing.T) {
		rows, err := eng.Query(ctx, storage.QueryOptions{
			Table:     storage.TableMessages,
			Where:     map[string]any{"chat_id": "chat-a"},
			OrderBy:   "turn_index",
			SortOrder: "desc",
			Limit:     2,
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, "msg-3", rows[0].ID())
		require.Equal(t, "msg-2", rows[1].ID())
	})

	t.Run("equal sort keys keep id order", func(t *testing.T) {
		// Rows written in the same millisecond must still come back in a
		// fixed order.
		for _, id := range []string{"tie-b", "tie-a"} {
			err := eng.Put(ctx, storage.TableMessages, storage.Row{
				"id":         id,
				"chat_id":    "chat-tie",
				"role":       "user",
				"content":    "simultaneous",
				"created_at": int64(2000),
			})
			require.NoError(t, err)
		}

		rows, err := eng.Query(ctx, storage.QueryOptions{
			Table:     storage.TableMessages,
			Where:     map[string]any{"chat_id": "chat-tie"},
			OrderBy:   "created_at",
			SortOrder: "asc",
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, "tie-a", rows[0].ID())
		require.Equal(t, "tie-b", rows[1].ID())
	})

	t.Run("unsortable field rejected", func(t *testing.T) {
		_, err := eng.Query(ctx, storage.QueryOptions{
			Table:   storage.TableMessages,
			OrderBy: "content",
		})
		require.ErrorIs(t, err, storage.ErrInvalidInput)
	})
}

func TestWithTransaction(t *testing.T) {
	ctx := context.Background()
	eng := openTestEngine(t)

	t.Run("commit keeps writes", func(t *testing.T) {
		err := eng.WithTransaction(ctx, func(ctx context.Context) error {
			return eng.Put(ctx, storage.TableChats, storage.Row{"id": "chat-1", "title": "kept"})
		})
		require.NoError(t, err)

		row, err := eng.Get(ctx, storage.TableChats, "chat-1")
		require.NoError(t, err)
		require.Equal(t, "kept", row["title"])
	})

	t.Run("error rolls writes back", func(t *testing.T) {
		boom := errors.New("boom")
		err := eng.WithTransaction(ctx, func(ctx context.Context) error {
			if err := eng.Put(ctx, storage.TableChats, storage.Row{"id": "chat-2", "title": "doomed"}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		row, err := eng.Get(ctx, storage.TableChats, "chat-2")
		require.NoError(t, err)
		require.Nil(t, row)
	})
}

func TestVectorSearch(t *testing.T) {
	ctx := context.Background()
	eng := openTestEngine(t)

	vectors := map[string][]float32{
		"close":   {1, 0.1},
		"farther": {0.3, 1},
	}
	for id, vec := range vectors {
		err := eng.AddEmbedding(ctx, &storage.EmbeddingRow{
			ID:        id,
			Namespace: "memories",
			RefID:     "ref-" + id,
			Vec:       vector.Encode(vec),
		})
		require.NoError(t, err)
	}

	matches, err := eng.VectorSearch(ctx, storage.VectorSearchOptions{
		Namespace: "memories",
		Query:     []float32{1, 0},
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "close", matches[0].ID)
	require.Greater(t, matches[0].Score, matches[1].Score)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openTestEngine(t)

	require.NoError(t, src.Put(ctx, storage.TableCharacters, storage.Row{"id": "c1", "name": "Wren"}))
	require.NoError(t, src.AddEmbedding(ctx, &storage.EmbeddingRow{
		ID:        "emb-1",
		Namespace: "memories",
		RefID:     "m1",
		Vec:       vector.Encode([]float32{0.5, -0.5}),
	}))

	var buf bytes.Buffer
	require.NoError(t, src.ExportSnapshot(ctx, &buf, nil))

	dst := openTestEngine(t)
	require.NoError(t, dst.ImportSnapshot(ctx, &buf))

	row, err := dst.Get(ctx, storage.TableCharacters, "c1")
	require.NoError(t, err)
	require.Equal(t, "Wren", row["name"])

	matches, err := dst.VectorSearch(ctx, storage.VectorSearchOptions{
		Namespace: "memories",
		Query:     []float32{0.5, -0.5},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.InDelta(t, 1.0, matches[0].Score, 1e-6)
}
