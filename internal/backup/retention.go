package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// listBackups lists all snapshot files in the backup directory with their
// metadata, newest first.
func listBackups(backupDir string) ([]Info, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil, fmt.Errorf("backup: read backup directory: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasPrefix(entry.Name(), "hearth-backup-") || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue // Skip files we can't stat
		}

		backups = append(backups, Info{
			Path:      filepath.Join(backupDir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// applyRetention removes old snapshots according to the retention policy.
// It categorizes snapshots by age and keeps only the configured number in
// each tier.
func applyRetention(backupDir string, policy RetentionPolicy) error {
	backups, err := listBackups(backupDir)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return nil
	}

	now := time.Now()
	var toDelete []string

	var hourly, daily, weekly, monthly []Info
	for _, b := range backups {
		age := now.Sub(b.Timestamp)
		switch {
		case age < 24*time.Hour:
			hourly = append(hourly, b)
		case age < 7*24*time.Hour:
			daily = append(daily, b)
		case age < 30*24*time.Hour:
			weekly = append(weekly, b)
		case age < 365*24*time.Hour:
			monthly = append(monthly, b)
		default:
			// Snapshots older than a year are always deleted.
			toDelete = append(toDelete, b.Path)
		}
	}

	for _, tier := range []struct {
		backups []Info
		keep    int
	}{
		{hourly, policy.Hourly},
		{daily, policy.Daily},
		{weekly, policy.Weekly},
		{monthly, policy.Monthly},
	} {
		if len(tier.backups) > tier.keep {
			for _, b := range tier.backups[tier.keep:] {
				toDelete = append(toDelete, b.Path)
			}
		}
	}

	var lastErr error
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			// Keep deleting the rest even if one fails.
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("backup: delete old snapshots: %w", lastErr)
	}
	return nil
}
