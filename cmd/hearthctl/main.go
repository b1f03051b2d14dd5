// Command hearthctl is the operator CLI for a hearth data directory:
// backend diagnostics, settings access, compaction, and snapshot
// export/import without going through the HTTP API.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/emberfall/hearth/internal/config"
	"github.com/emberfall/hearth/internal/engine"
	"github.com/emberfall/hearth/internal/settings"
	"github.com/emberfall/hearth/internal/storage"
)

func main() {
	app := &cli.App{
		Name:  "hearthctl",
		Usage: "operate on a hearth data directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to hearth.yaml",
				EnvVars: []string{"HEARTH_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "engine",
				Usage: "force a backend (postgres, sqlite, badger)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "doctor",
				Usage:  "probe every backend candidate and report availability",
				Action: runDoctor,
			},
			{
				Name:  "settings",
				Usage: "read and write settings",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "print the value of a setting",
						ArgsUsage: "<key>",
						Action:    runSettingsGet,
					},
					{
						Name:      "set",
						Usage:     "set a setting to a JSON value",
						ArgsUsage: "<key> <json-value>",
						Action:    runSettingsSet,
					},
					{
						Name:      "delete",
						Usage:     "delete a setting",
						ArgsUsage: "<key>",
						Action:    runSettingsDelete,
					},
					{
						Name:   "list",
						Usage:  "list all setting keys",
						Action: runSettingsList,
					},
				},
			},
			{
				Name:   "compact",
				Usage:  "run the retention pass: archive long chats, purge decayed memories",
				Action: runCompact,
			},
			{
				Name:      "export",
				Usage:     "write an NDJSON snapshot to a file (or stdout with -)",
				ArgsUsage: "<path>",
				Action:    runExport,
			},
			{
				Name:      "import",
				Usage:     "replay an NDJSON snapshot from a file (or stdin with -)",
				ArgsUsage: "<path>",
				Action:    runImport,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// openStore probes for a backend using the CLI flags layered over the
// loaded configuration.
func openStore(c *cli.Context) (storage.Storage, error) {
	if path := c.String("config"); path != "" {
		os.Setenv("HEARTH_CONFIG", path)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	forced := cfg.Storage.Engine
	if c.String("engine") != "" {
		forced = c.String("engine")
	}

	return engine.Probe(c.Context, engine.Config{
		PostgresDSN:  cfg.Storage.PostgresDSN,
		DataPath:     cfg.Storage.DataPath,
		Engine:       forced,
		ProbeTimeout: cfg.Storage.ProbeTimeout(),
	})
}

func runDoctor(c *cli.Context) error {
	if path := c.String("config"); path != "" {
		os.Setenv("HEARTH_CONFIG", path)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	candidates := engine.Candidates(engine.Config{
		PostgresDSN: cfg.Storage.PostgresDSN,
		DataPath:    cfg.Storage.DataPath,
	})

	ok := 0
	for _, cand := range candidates {
		s, err := cand.Open(c.Context)
		if err != nil {
			fmt.Printf("%-10s unavailable: %v\n", cand.Name, err)
			continue
		}
		fmt.Printf("%-10s ok\n", cand.Name)
		ok++
		_ = s.Close()
	}

	if ok == 0 {
		return cli.Exit("no storage backend available", 1)
	}
	return nil
}

func runSettingsGet(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: hearthctl settings get <key>", 2)
	}
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	var value json.RawMessage
	found, err := settings.NewStore(store).Get(c.Context, c.Args().First(), &value)
	if err != nil {
		return err
	}
	if !found {
		return cli.Exit(fmt.Sprintf("setting %q not found", c.Args().First()), 1)
	}
	fmt.Println(string(value))
	return nil
}

func runSettingsSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: hearthctl settings set <key> <json-value>", 2)
	}
	raw := json.RawMessage(c.Args().Get(1))
	if !json.Valid(raw) {
		return cli.Exit("value must be valid JSON (quote strings)", 2)
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	return settings.NewStore(store).Set(c.Context, c.Args().First(), raw)
}

func runSettingsDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: hearthctl settings delete <key>", 2)
	}
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	return settings.NewStore(store).Delete(c.Context, c.Args().First())
}

func runSettingsList(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := settings.NewStore(store).Keys(c.Context)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

func runCompact(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	compactor, ok := store.(storage.Compactor)
	if !ok {
		return cli.Exit(fmt.Sprintf("engine %s does not support compaction", store.Engine()), 1)
	}

	report, err := compactor.Compact(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("chats compacted:  %d\n", report.ChatsCompacted)
	fmt.Printf("messages removed: %d\n", report.MessagesRemoved)
	fmt.Printf("memories purged:  %d\n", report.MemoriesPurged)
	fmt.Printf("duration:         %v\n", report.Duration)
	return nil
}

func runExport(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: hearthctl export <path>", 2)
	}
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, ok := store.(storage.Snapshotter)
	if !ok {
		return cli.Exit(fmt.Sprintf("engine %s does not support snapshots", store.Engine()), 1)
	}

	out := os.Stdout
	if path := c.Args().First(); path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriter(out)
	if err := snap.ExportSnapshot(c.Context, w, nil); err != nil {
		return err
	}
	return w.Flush()
}

func runImport(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: hearthctl import <path>", 2)
	}
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, ok := store.(storage.Snapshotter)
	if !ok {
		return cli.Exit(fmt.Sprintf("engine %s does not support snapshots", store.Engine()), 1)
	}

	in := os.Stdin
	if path := c.Args().First(); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	return snap.ImportSnapshot(c.Context, bufio.NewReader(in))
}
