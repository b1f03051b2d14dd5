// Command hearth-backup runs the automated snapshot backup service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emberfall/hearth/internal/backup"
	"github.com/emberfall/hearth/internal/config"
	"github.com/emberfall/hearth/internal/engine"
	"github.com/emberfall/hearth/internal/storage"
)

var (
	configPath = flag.String("config", "", "Path to hearth.yaml (optional, uses env vars by default)")
	backupDir  = flag.String("backup-dir", "", "Snapshot directory path (overrides config)")
	interval   = flag.Duration("interval", 0, "Backup interval (overrides config)")
	verify     = flag.Bool("verify", true, "Verify snapshots after creation")
	oneshot    = flag.Bool("oneshot", false, "Perform a single backup and exit")
	restore    = flag.String("restore", "", "Restore from snapshot file and exit")
	checkFile  = flag.String("check", "", "Verify a snapshot file and exit")
	healthCmd  = flag.Bool("health", false, "Check backup service health and exit")
	listCmd    = flag.Bool("list", false, "List all available snapshots and exit")
)

func main() {
	flag.Parse()

	if *configPath != "" {
		os.Setenv("HEARTH_CONFIG", *configPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	backupDirFinal := cfg.Backup.Path
	if *backupDir != "" {
		backupDirFinal = *backupDir
	}

	intervalFinal := 1 * time.Hour
	if cfg.Backup.Interval != "" {
		if d, err := time.ParseDuration(cfg.Backup.Interval); err == nil {
			intervalFinal = d
		}
	}
	if *interval > 0 {
		intervalFinal = *interval
	}

	ctx := context.Background()

	store, err := engine.Probe(ctx, engine.Config{
		PostgresDSN:  cfg.Storage.PostgresDSN,
		DataPath:     cfg.Storage.DataPath,
		Engine:       cfg.Storage.Engine,
		ProbeTimeout: cfg.Storage.ProbeTimeout(),
	})
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	snap, ok := store.(storage.Snapshotter)
	if !ok {
		log.Fatalf("Engine %s does not support snapshots", store.Engine())
	}

	service, err := backup.NewService(snap, backup.Config{
		BackupDir: backupDirFinal,
		Interval:  intervalFinal,
		Verify:    *verify,
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

	switch {
	case *restore != "":
		handleRestore(ctx, service, *restore)
	case *checkFile != "":
		handleCheck(*checkFile)
	case *healthCmd:
		handleHealth(service)
	case *listCmd:
		handleList(service)
	case *oneshot:
		handleOneshot(ctx, service)
	default:
		runService(ctx, service)
	}
}

func handleRestore(ctx context.Context, service *backup.Service, path string) {
	log.Printf("Restoring from snapshot: %s", path)

	if err := service.Restore(ctx, path); err != nil {
		log.Fatalf("Restore failed: %v", err)
	}

	log.Println("Snapshot restored successfully")
}

func handleCheck(path string) {
	rows, err := backup.VerifySnapshot(path)
	if err != nil {
		log.Fatalf("Snapshot verification failed: %v", err)
	}
	fmt.Printf("Snapshot OK: %d rows\n", rows)
}

func handleHealth(service *backup.Service) {
	health, err := service.HealthCheck()
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}

	fmt.Printf("Status: %s\n", health.Status)
	if health.Message != "" {
		fmt.Printf("Message: %s\n", health.Message)
	}
	fmt.Printf("Total Snapshots: %d\n", health.TotalBackups)
	fmt.Printf("Disk Space Used: %.2f MB\n", float64(health.DiskSpaceUsed)/(1024*1024))
	fmt.Printf("Snapshot Directory: %s\n", health.BackupDir)

	if !health.LastBackup.IsZero() {
		fmt.Printf("Last Backup: %s (%s ago)\n",
			health.LastBackup.Format(time.RFC3339),
			time.Since(health.LastBackup).Round(time.Minute))
	} else {
		fmt.Println("Last Backup: Never")
	}

	if !health.NextBackup.IsZero() {
		fmt.Printf("Next Backup: %s (in %s)\n",
			health.NextBackup.Format(time.RFC3339),
			time.Until(health.NextBackup).Round(time.Minute))
	}

	if health.Status != "healthy" {
		os.Exit(1)
	}
}

func handleList(service *backup.Service) {
	backups, err := service.ListBackups()
	if err != nil {
		log.Fatalf("Failed to list snapshots: %v", err)
	}

	if len(backups) == 0 {
		fmt.Println("No snapshots found")
		return
	}

	fmt.Printf("Found %d snapshot(s):\n\n", len(backups))
	for i, b := range backups {
		fmt.Printf("%d. %s\n", i+1, b.Path)
		fmt.Printf("   Size: %.2f MB\n", float64(b.Size)/(1024*1024))
		fmt.Printf("   Created: %s (%s ago)\n",
			b.Timestamp.Format(time.RFC3339),
			time.Since(b.Timestamp).Round(time.Minute))
		fmt.Println()
	}
}

func handleOneshot(ctx context.Context, service *backup.Service) {
	log.Println("Performing one-time backup...")

	result, err := service.BackupNow(ctx)
	if err != nil {
		log.Fatalf("Backup failed: %v", err)
	}

	log.Printf("Backup completed successfully:")
	log.Printf("  Path: %s", result.Path)
	log.Printf("  Size: %.2f MB", float64(result.Size)/(1024*1024))
	log.Printf("  Rows: %d", result.Rows)
	log.Printf("  Duration: %v", result.Duration)
	log.Printf("  Verified: %v", result.Verified)
}

func runService(ctx context.Context, service *backup.Service) {
	go func() {
		if err := service.Start(ctx); err != nil {
			if err != context.Canceled {
				log.Printf("Backup service error: %v", err)
			}
		}
	}()

	log.Println("hearth backup service started")
	log.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down backup service...")
	if err := service.Stop(); err != nil {
		log.Printf("Warning: %v", err)
	}

	log.Println("Backup service stopped")
}
