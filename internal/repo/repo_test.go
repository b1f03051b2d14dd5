package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/internal/storage/badger"
	"github.com/emberfall/hearth/internal/storage/sqlite"
	"github.com/emberfall/hearth/pkg/types"
)

// runWithEngines exercises a test against the two engines that run
// without an external server. Both bracket cascades in transactions but
// index and sort rows very differently.
func runWithEngines(t *testing.T, fn func(t *testing.T, s storage.Storage)) {
	t.Helper()

	t.Run("badger", func(t *testing.T) {
		eng, err := badger.Open("", storage.CompactionPolicy{})
		require.NoError(t, err)
		t.Cleanup(func() { eng.Close() })
		fn(t, eng)
	})

	t.Run("sqlite", func(t *testing.T) {
		eng, err := sqlite.Open(":memory:", storage.CompactionPolicy{})
		require.NoError(t, err)
		t.Cleanup(func() { eng.Close() })
		fn(t, eng)
	})
}

func TestCharacterLifecycle(t *testing.T) {
	runWithEngines(t, func(t *testing.T, s storage.Storage) {
		ctx := context.Background()
		repos := New(s)

		char := &types.Character{
			Name: "Juniper",
			Profile: types.CharacterProfile{
				Personality: types.PersonalityProfile{
					Traits:      []string{"curious", "stubborn"},
					SpeechStyle: "clipped",
				},
				Stats:     types.CharacterStats{Affection: 50, Energy: 80, Mood: 60},
				Backstory: "Grew up in the lighthouse.",
			},
		}
		require.NoError(t, repos.Characters.Create(ctx, char))
		require.NotEmpty(t, char.ID)
		require.False(t, char.CreatedAt.IsZero())

		got, err := repos.Characters.Get(ctx, char.ID)
		require.NoError(t, err)
		require.Equal(t, "Juniper", got.Name)
		require.Equal(t, []string{"curious", "stubborn"}, got.Profile.Personality.Traits)
		require.Equal(t, 80, got.Profile.Stats.Energy)

		t.Run("update is read-patch-write", func(t *testing.T) {
			updated, err := repos.Characters.Update(ctx, char.ID, func(c *types.Character) error {
				c.Profile.Stats.Affection = 75
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, 75, updated.Profile.Stats.Affection)
			require.Equal(t, "Juniper", updated.Name)
			require.Equal(t, got.CreatedAt, updated.CreatedAt)
			require.True(t, updated.UpdatedAt.After(updated.CreatedAt) || updated.UpdatedAt.Equal(updated.CreatedAt))
		})

		t.Run("update rejects invalid stats", func(t *testing.T) {
			_, err := repos.Characters.Update(ctx, char.ID, func(c *types.Character) error {
				c.Profile.Stats.Mood = 400
				return nil
			})
			require.ErrorIs(t, err, storage.ErrInvalidInput)
		})

		t.Run("update missing character", func(t *testing.T) {
			_, err := repos.Characters.Update(ctx, "ghost", func(c *types.Character) error { return nil })
			require.ErrorIs(t, err, ErrNotFound)
		})

		t.Run("list is ordered by name", func(t *testing.T) {
			require.NoError(t, repos.Characters.Create(ctx, &types.Character{Name: "Ash"}))
			chars, err := repos.Characters.List(ctx)
			require.NoError(t, err)
			require.Len(t, chars, 2)
			require.Equal(t, "Ash", chars[0].Name)
			require.Equal(t, "Juniper", chars[1].Name)
		})
	})
}

func TestCharacterDeleteCascades(t *testing.T) {
	runWithEngines(t, func(t *testing.T, s storage.Storage) {
		ctx := context.Background()
		repos := New(s)

		char := &types.Character{Name: "Rook"}
		require.NoError(t, repos.Characters.Create(ctx, char))

		chat := &types.Chat{Title: "evening", CharacterID: char.ID}
		require.NoError(t, repos.Chats.Create(ctx, chat))
		require.NoError(t, repos.Messages.Append(ctx, &types.Message{
			ChatID: chat.ID, Role: "user", Content: "hello",
		}))

		require.NoError(t, s.AddMemory(ctx, &storage.MemoryRow{
			ID:          "mem-1",
			CharacterID: char.ID,
			Kind:        types.MemoryFact,
			Content:     "likes rain",
			Importance:  0.9,
		}))

		require.NoError(t, repos.Assets.Create(ctx, &types.Asset{
			CharacterID: char.ID, URL: "file://avatar.png", Kind: "avatar",
		}))

		dm := &types.DMConversation{CharacterID: char.ID, Title: "private"}
		require.NoError(t, repos.DMs.CreateConversation(ctx, dm))
		require.NoError(t, repos.DMs.Send(ctx, &types.DMMessage{
			ConversationID: dm.ID, Role: "user", Content: "psst",
		}))

		require.NoError(t, repos.Posts.Create(ctx, &types.Post{
			CharacterID: char.ID, Content: "first post",
		}))

		require.NoError(t, repos.Characters.Delete(ctx, char.ID))

		gone, err := repos.Characters.Get(ctx, char.ID)
		require.NoError(t, err)
		require.Nil(t, gone)

		for _, table := range []string{
			storage.TableChats, storage.TableMessages, storage.TableChatParticipants,
			storage.TableMemories, storage.TableAssets, storage.TableDMs,
			storage.TableDMMessages, storage.TablePosts,
		} {
			rows, err := s.Query(ctx, storage.QueryOptions{Table: table})
			require.NoError(t, err)
			require.Empty(t, rows, "table %s should be empty after cascade", table)
		}
	})
}

func TestChatParticipants(t *testing.T) {
	runWithEngines(t, func(t *testing.T, s storage.Storage) {
		ctx := context.Background()
		repos := New(s)

		chat := &types.Chat{Title: "salon", CharacterID: "char-a"}
		require.NoError(t, repos.Chats.Create(ctx, chat, "char-b"))

		ids, err := repos.Chats.Participants(ctx, chat.ID)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"char-a", "char-b"}, ids)

		t.Run("add is idempotent", func(t *testing.T) {
			require.NoError(t, repos.Chats.AddParticipant(ctx, chat.ID, "char-b"))
			ids, err := repos.Chats.Participants(ctx, chat.ID)
			require.NoError(t, err)
			require.Len(t, ids, 2)
		})

		t.Run("remove", func(t *testing.T) {
			require.NoError(t, repos.Chats.RemoveParticipant(ctx, chat.ID, "char-b"))
			ids, err := repos.Chats.Participants(ctx, chat.ID)
			require.NoError(t, err)
			require.Equal(t, []string{"char-a"}, ids)
		})
	})
}

func TestMessageOrdering(t *testing.T) {
	runWithEngines(t, func(t *testing.T, s storage.Storage) {
		ctx := context.Background()
		repos := New(s)

		chat := &types.Chat{Title: "loop", CharacterID: "char-a"}
		require.NoError(t, repos.Chats.Create(ctx, chat))

		base := time.Now().Add(-time.Minute)
		for i := 0; i < 5; i++ {
			require.NoError(t, repos.Messages.Append(ctx, &types.Message{
				ChatID:    chat.ID,
				Role:      "user",
				Content:   "turn",
				TurnIndex: -1,
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			}))
		}

		msgs, err := repos.Messages.List(ctx, chat.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 5)
		for i, msg := range msgs {
			require.Equal(t, i, msg.TurnIndex)
		}

		recent, err := repos.Messages.Recent(ctx, chat.ID, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		require.Equal(t, 4, recent[0].TurnIndex)

		n, err := repos.Messages.Count(ctx, chat.ID)
		require.NoError(t, err)
		require.Equal(t, 5, n)
	})
}

func TestPostLikes(t *testing.T) {
	runWithEngines(t, func(t *testing.T, s storage.Storage) {
		ctx := context.Background()
		repos := New(s)

		post := &types.Post{CharacterID: "char-a", Content: "sunrise"}
		require.NoError(t, repos.Posts.Create(ctx, post))
		require.Zero(t, post.Likes)

		for i := 0; i < 3; i++ {
			_, err := repos.Posts.Like(ctx, post.ID)
			require.NoError(t, err)
		}

		got, err := repos.Posts.Get(ctx, post.ID)
		require.NoError(t, err)
		require.Equal(t, 3, got.Likes)

		_, err = repos.Posts.Like(ctx, "ghost")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDMThread(t *testing.T) {
	runWithEngines(t, func(t *testing.T, s storage.Storage) {
		ctx := context.Background()
		repos := New(s)

		dm := &types.DMConversation{CharacterID: "char-a", Title: "late night"}
		require.NoError(t, repos.DMs.CreateConversation(ctx, dm))

		require.NoError(t, repos.DMs.Send(ctx, &types.DMMessage{
			ConversationID: dm.ID, Role: "user", Content: "awake?",
		}))
		require.NoError(t, repos.DMs.Send(ctx, &types.DMMessage{
			ConversationID: dm.ID, Role: "assistant", Content: "always",
		}))

		msgs, err := repos.DMs.Messages(ctx, dm.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		require.Equal(t, "awake?", msgs[0].Content)
		require.Equal(t, 0, msgs[0].TurnIndex)
		require.Equal(t, 1, msgs[1].TurnIndex)

		require.NoError(t, repos.DMs.DeleteConversation(ctx, dm.ID))
		msgs, err = repos.DMs.Messages(ctx, dm.ID, 0, 0)
		require.NoError(t, err)
		require.Empty(t, msgs)
	})
}

func TestDMThreadOrderSurvivesTimestampCollisions(t *testing.T) {
	runWithEngines(t, func(t *testing.T, s storage.Storage) {
		ctx := context.Background()
		repos := New(s)

		dm := &types.DMConversation{CharacterID: "char-a", Title: "rapid fire"}
		require.NoError(t, repos.DMs.CreateConversation(ctx, dm))

		// Back-to-back sends land within the same millisecond, so
		// created_at cannot distinguish them. Thread order must still be
		// send order.
		contents := []string{"awake?", "always", "good", "me too", "sleep soon"}
		for _, c := range contents {
			require.NoError(t, repos.DMs.Send(ctx, &types.DMMessage{
				ConversationID: dm.ID, Role: "user", Content: c,
			}))
		}

		msgs, err := repos.DMs.Messages(ctx, dm.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, msgs, len(contents))
		for i, msg := range msgs {
			require.Equal(t, contents[i], msg.Content)
			require.Equal(t, i, msg.TurnIndex)
		}

		t.Run("pagination follows turn order", func(t *testing.T) {
			page, err := repos.DMs.Messages(ctx, dm.ID, 2, 1)
			require.NoError(t, err)
			require.Len(t, page, 2)
			require.Equal(t, "always", page[0].Content)
			require.Equal(t, "good", page[1].Content)
		})
	})
}

func TestMessageOrderSurvivesTimestampCollisions(t *testing.T) {
	runWithEngines(t, func(t *testing.T, s storage.Storage) {
		ctx := context.Background()
		repos := New(s)

		chat := &types.Chat{Title: "burst", CharacterID: "char-a"}
		require.NoError(t, repos.Chats.Create(ctx, chat))

		stamp := time.Now()
		contents := []string{"one", "two", "three", "four"}
		for _, c := range contents {
			require.NoError(t, repos.Messages.Append(ctx, &types.Message{
				ChatID:    chat.ID,
				Role:      "user",
				Content:   c,
				TurnIndex: -1,
				CreatedAt: stamp,
			}))
		}

		msgs, err := repos.Messages.List(ctx, chat.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, msgs, len(contents))
		for i, msg := range msgs {
			require.Equal(t, contents[i], msg.Content)
		}

		recent, err := repos.Messages.Recent(ctx, chat.ID, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		require.Equal(t, "four", recent[0].Content)
		require.Equal(t, "three", recent[1].Content)
	})
}
