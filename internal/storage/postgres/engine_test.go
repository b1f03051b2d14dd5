package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/pkg/vector"
)

// openTestEngine connects to the database named by POSTGRES_TEST_DSN, or
// skips the test when no server is configured.
func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	eng, err := Open(dsn, storage.CompactionPolicy{})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestSchemaDDL(t *testing.T) {
	ddl := schemaDDL()

	for _, table := range storage.TableNames() {
		require.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS "+table)
	}
	require.Contains(t, ddl, "idx_messages_chat_id")
	require.Contains(t, ddl, "data JSONB NOT NULL")
	require.Equal(t, strings.Count(ddl, "PRIMARY KEY"), len(storage.TableNames()))
}

func TestColumnValue(t *testing.T) {
	row := storage.Row{
		"id":         "r1",
		"name":       "Ivy",
		"created_at": int64(42),
		"likes":      int64(7),
	}

	require.Equal(t, "Ivy", columnValue(row, "name"))
	require.Equal(t, int64(42), columnValue(row, "created_at"))
	require.Nil(t, columnValue(row, "updated_at"))
	require.Nil(t, columnValue(row, "missing"))
}

func TestVectorSearchValidation(t *testing.T) {
	// Option validation happens before any database access, so it is
	// checked without a server. The pgvector path must reject bad options
	// the same way the shared scan does.
	eng := &Engine{pgvectorAvailable: true}

	_, err := eng.VectorSearch(context.Background(), storage.VectorSearchOptions{
		Query: []float32{1, 0},
	})
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = eng.VectorSearch(context.Background(), storage.VectorSearchOptions{
		Namespace: "test",
	})
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestEngineIntegration(t *testing.T) {
	ctx := context.Background()
	eng := openTestEngine(t)

	t.Run("round trip", func(t *testing.T) {
		err := eng.Put(ctx, storage.TableCharacters, storage.Row{
			"id":         "pg-char-1",
			"name":       "Fern",
			"created_at": int64(5000),
		})
		require.NoError(t, err)
		defer eng.Delete(ctx, storage.TableCharacters, "pg-char-1")

		row, err := eng.Get(ctx, storage.TableCharacters, "pg-char-1")
		require.NoError(t, err)
		require.Equal(t, "Fern", row["name"])
		require.Equal(t, int64(5000), row["created_at"])
	})

	t.Run("jsonb containment filter", func(t *testing.T) {
		err := eng.Put(ctx, storage.TableMessages, storage.Row{
			"id":      "pg-msg-1",
			"chat_id": "pg-chat-1",
			"role":    "user",
			"content": "jsonb works",
		})
		require.NoError(t, err)
		defer eng.Delete(ctx, storage.TableMessages, "pg-msg-1")

		rows, err := eng.Query(ctx, storage.QueryOptions{
			Table: storage.TableMessages,
			Where: map[string]any{"chat_id": "pg-chat-1", "content": "jsonb works"},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, "pg-msg-1", rows[0].ID())
	})

	t.Run("transaction commit and rollback", func(t *testing.T) {
		err := eng.WithTransaction(ctx, func(ctx context.Context) error {
			return eng.Put(ctx, storage.TableChats, storage.Row{"id": "pg-tx-1", "title": "kept"})
		})
		require.NoError(t, err)
		defer eng.Delete(ctx, storage.TableChats, "pg-tx-1")

		row, err := eng.Get(ctx, storage.TableChats, "pg-tx-1")
		require.NoError(t, err)
		require.Equal(t, "kept", row["title"])

		boom := errors.New("boom")
		err = eng.WithTransaction(ctx, func(ctx context.Context) error {
			if err := eng.Put(ctx, storage.TableChats, storage.Row{"id": "pg-tx-2", "title": "doomed"}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		row, err = eng.Get(ctx, storage.TableChats, "pg-tx-2")
		require.NoError(t, err)
		require.Nil(t, row)
	})

	t.Run("vector search", func(t *testing.T) {
		ids := []string{"pg-emb-a", "pg-emb-b"}
		vecs := [][]float32{{1, 0}, {0, 1}}
		for i, id := range ids {
			err := eng.AddEmbedding(ctx, &storage.EmbeddingRow{
				ID:        id,
				Namespace: "pg-test",
				RefID:     "ref-" + id,
				Vec:       vector.Encode(vecs[i]),
			})
			require.NoError(t, err)
		}
		defer func() {
			for _, id := range ids {
				eng.Delete(ctx, storage.TableEmbeddings, id)
			}
		}()

		matches, err := eng.VectorSearch(ctx, storage.VectorSearchOptions{
			Namespace: "pg-test",
			Query:     []float32{1, 0},
			TopK:      2,
		})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		require.Equal(t, "pg-emb-a", matches[0].ID)
	})
}
