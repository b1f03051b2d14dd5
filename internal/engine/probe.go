// Package engine selects a storage backend at startup. Candidates are
// tried in order of preference, each under its own timeout, and the first
// one that opens and passes a smoke test wins. A candidate that hangs or
// fails is skipped rather than taking the whole application down, so the
// app always comes up as long as at least one backend works.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/internal/storage/badger"
	"github.com/emberfall/hearth/internal/storage/postgres"
	"github.com/emberfall/hearth/internal/storage/sqlite"
)

// ErrNoEngine is returned when every candidate backend failed to open.
var ErrNoEngine = errors.New("engine: no storage backend available")

// DefaultProbeTimeout bounds how long a single candidate may take to open
// and pass its smoke test before the next candidate is tried.
const DefaultProbeTimeout = 1500 * time.Millisecond

// Config controls candidate selection.
type Config struct {
	// PostgresDSN enables the postgres candidate when non-empty.
	PostgresDSN string

	// DataPath is the directory for file-backed engines. When empty or not
	// writable, sqlite is skipped and badger runs in memory.
	DataPath string

	// Engine forces a specific backend by tag, bypassing the fallback
	// chain. An empty value means probe in preference order.
	Engine string

	// ProbeTimeout is the per-candidate budget. Zero means
	// DefaultProbeTimeout.
	ProbeTimeout time.Duration

	// Compaction is handed to whichever engine wins.
	Compaction storage.CompactionPolicy
}

// Candidate is one backend the prober can try.
type Candidate struct {
	Name string
	Open func(ctx context.Context) (storage.Storage, error)
}

// Candidates builds the preference-ordered list for cfg: postgres when a
// DSN is configured, sqlite when a writable data directory exists, and
// badger always (in memory if need be).
func Candidates(cfg Config) []Candidate {
	var list []Candidate

	if cfg.PostgresDSN != "" {
		list = append(list, Candidate{
			Name: postgres.EngineTag,
			Open: func(ctx context.Context) (storage.Storage, error) {
				return postgres.Open(cfg.PostgresDSN, cfg.Compaction)
			},
		})
	}

	if dirWritable(cfg.DataPath) {
		list = append(list, Candidate{
			Name: sqlite.EngineTag,
			Open: func(ctx context.Context) (storage.Storage, error) {
				return sqlite.Open(filepath.Join(cfg.DataPath, "hearth.db"), cfg.Compaction)
			},
		})
	}

	list = append(list, Candidate{
		Name: badger.EngineTag,
		Open: func(ctx context.Context) (storage.Storage, error) {
			path := ""
			if dirWritable(cfg.DataPath) {
				path = filepath.Join(cfg.DataPath, "badger")
			}
			return badger.Open(path, cfg.Compaction)
		},
	})

	if cfg.Engine != "" {
		for _, c := range list {
			if c.Name == cfg.Engine {
				return []Candidate{c}
			}
		}
		return nil
	}
	return list
}

// Probe opens the first working backend from cfg's candidate list.
func Probe(ctx context.Context, cfg Config) (storage.Storage, error) {
	candidates := Candidates(cfg)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: unknown engine %q", ErrNoEngine, cfg.Engine)
	}

	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	var errs []error
	for _, c := range candidates {
		s, err := probeOne(ctx, c, timeout)
		if err != nil {
			log.Printf("engine: %s unavailable: %v", c.Name, err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
			continue
		}
		log.Printf("engine: using %s backend", s.Engine())
		return s, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrNoEngine, errors.Join(errs...))
}

// probeOne races a candidate's open plus smoke test against the timeout.
// If the candidate resolves after the deadline has passed, the late engine
// is closed so it cannot leak connections.
func probeOne(ctx context.Context, c Candidate, timeout time.Duration) (storage.Storage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		s   storage.Storage
		err error
	}
	done := make(chan result, 1)

	go func() {
		s, err := c.Open(ctx)
		if err == nil {
			if err = smokeTest(ctx, s); err != nil {
				s.Close()
				s = nil
			}
		}
		select {
		case done <- result{s, err}:
		default:
			// Probe already moved on; clean up the late arrival.
			if s != nil {
				s.Close()
			}
		}
	}()

	select {
	case r := <-done:
		return r.s, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("probe timed out after %s", timeout)
	}
}

// smokeTest verifies the engine can actually serve a write, a read, and a
// delete before it is trusted with real data.
func smokeTest(ctx context.Context, s storage.Storage) error {
	id := "probe-" + uuid.New().String()
	row := storage.Row{"id": id, "key": id, "value": "ok"}

	if err := s.Put(ctx, storage.TableSettings, row); err != nil {
		return fmt.Errorf("smoke test put: %w", err)
	}
	got, err := s.Get(ctx, storage.TableSettings, id)
	if err != nil {
		return fmt.Errorf("smoke test get: %w", err)
	}
	if got == nil || got["value"] != "ok" {
		return fmt.Errorf("smoke test read back %v, want value ok", got)
	}
	if err := s.Delete(ctx, storage.TableSettings, id); err != nil {
		return fmt.Errorf("smoke test delete: %w", err)
	}
	return nil
}

// dirWritable reports whether path is an existing directory we can create
// files in.
func dirWritable(path string) bool {
	if path == "" {
		return false
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(path, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
