// Command hearth-web runs the hearth HTTP server over whichever storage
// backend the probe selects.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emberfall/hearth/internal/backup"
	"github.com/emberfall/hearth/internal/config"
	"github.com/emberfall/hearth/internal/engine"
	"github.com/emberfall/hearth/internal/notify"
	"github.com/emberfall/hearth/internal/server"
	"github.com/emberfall/hearth/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to hearth.yaml (default: $HEARTH_CONFIG or ./hearth.yaml)")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("HEARTH_CONFIG", *configPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := engine.Probe(ctx, engine.Config{
		PostgresDSN:  cfg.Storage.PostgresDSN,
		DataPath:     cfg.Storage.DataPath,
		Engine:       cfg.Storage.Engine,
		ProbeTimeout: cfg.Storage.ProbeTimeout(),
		Compaction: storage.CompactionPolicy{
			MaxMessagesPerChat: cfg.Compaction.MaxMessagesPerChat,
			MinImportance:      cfg.Compaction.MinImportance,
			MaxDecay:           cfg.Compaction.MaxDecay,
			Workers:            cfg.Compaction.Workers,
		},
	})
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	opts := server.Options{
		Notifier: notify.NewEventWriter(cfg.Storage.DataPath),
	}

	// Automated backups require a snapshot-capable engine.
	var backups *backup.Service
	if cfg.Backup.Enabled {
		snap, ok := store.(storage.Snapshotter)
		if !ok {
			log.Printf("Backups disabled: engine %s does not support snapshots", store.Engine())
		} else {
			interval, err := time.ParseDuration(cfg.Backup.Interval)
			if err != nil {
				log.Fatalf("Invalid backup interval %q: %v", cfg.Backup.Interval, err)
			}
			backups, err = backup.NewService(snap, backup.Config{
				BackupDir: cfg.Backup.Path,
				Interval:  interval,
				Verify:    cfg.Backup.Verify,
				Retention: backup.RetentionPolicy{
					Hourly:  cfg.Backup.RetentionHourly,
					Daily:   cfg.Backup.RetentionDaily,
					Weekly:  cfg.Backup.RetentionWeekly,
					Monthly: cfg.Backup.RetentionMonthly,
				},
			})
			if err != nil {
				log.Fatalf("Failed to create backup service: %v", err)
			}
			go func() {
				if err := backups.Start(ctx); err != nil && err != context.Canceled {
					log.Printf("Backup service error: %v", err)
				}
			}()
			opts.Backups = backups
		}
	}

	addr, wsHub := server.Start(ctx, cfg, store, opts)
	log.Printf("hearth running at http://%s (engine: %s)", addr, store.Engine())

	// Relay cross-process change events to connected browsers.
	watcher := notify.NewEventWatcher(cfg.Storage.DataPath, func(eventType, key string) {
		wsHub.Broadcast(map[string]string{"type": eventType, "key": key})
	})
	if err := watcher.Start(); err != nil {
		log.Printf("Change watcher unavailable: %v", err)
	} else {
		defer watcher.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	if backups != nil {
		if err := backups.Stop(); err != nil {
			log.Printf("Error stopping backup service: %v", err)
		}
	}

	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}
