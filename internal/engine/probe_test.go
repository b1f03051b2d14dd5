package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/internal/storage/badger"
)

func TestCandidates(t *testing.T) {
	t.Run("badger is always last", func(t *testing.T) {
		list := Candidates(Config{})
		require.Len(t, list, 1)
		require.Equal(t, "badger", list[0].Name)
	})

	t.Run("dsn enables postgres first", func(t *testing.T) {
		list := Candidates(Config{
			PostgresDSN: "postgres://localhost/hearth",
			DataPath:    t.TempDir(),
		})
		require.Len(t, list, 3)
		require.Equal(t, "postgres", list[0].Name)
		require.Equal(t, "sqlite", list[1].Name)
		require.Equal(t, "badger", list[2].Name)
	})

	t.Run("engine override narrows to one", func(t *testing.T) {
		list := Candidates(Config{DataPath: t.TempDir(), Engine: "sqlite"})
		require.Len(t, list, 1)
		require.Equal(t, "sqlite", list[0].Name)
	})

	t.Run("unknown override yields nothing", func(t *testing.T) {
		require.Empty(t, Candidates(Config{Engine: "etchings"}))
	})
}

func TestProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("falls back to badger", func(t *testing.T) {
		s, err := Probe(ctx, Config{})
		require.NoError(t, err)
		defer s.Close()
		require.Equal(t, "badger", s.Engine())
	})

	t.Run("sqlite preferred with a data dir", func(t *testing.T) {
		s, err := Probe(ctx, Config{DataPath: t.TempDir()})
		require.NoError(t, err)
		defer s.Close()
		require.Equal(t, "sqlite", s.Engine())
	})

	t.Run("unknown override fails", func(t *testing.T) {
		_, err := Probe(ctx, Config{Engine: "etchings"})
		require.ErrorIs(t, err, ErrNoEngine)
	})
}

func TestProbeOneTimeout(t *testing.T) {
	hang := Candidate{
		Name: "hung",
		Open: func(ctx context.Context) (storage.Storage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	start := time.Now()
	_, err := probeOne(context.Background(), hang, 50*time.Millisecond)
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestProbeSkipsFailingCandidate(t *testing.T) {
	boom := errors.New("refused")
	candidates := []Candidate{
		{
			Name: "broken",
			Open: func(ctx context.Context) (storage.Storage, error) {
				return nil, boom
			},
		},
		{
			Name: "badger",
			Open: func(ctx context.Context) (storage.Storage, error) {
				return badger.Open("", storage.CompactionPolicy{})
			},
		},
	}

	var winner storage.Storage
	var err error
	for _, c := range candidates {
		winner, err = probeOne(context.Background(), c, time.Second)
		if err == nil {
			break
		}
	}
	require.NoError(t, err)
	defer winner.Close()
	require.Equal(t, "badger", winner.Engine())
}
