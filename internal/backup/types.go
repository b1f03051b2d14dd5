// Package backup provides automated snapshot backups with tiered
// retention and integrity verification. Backups are portable NDJSON
// snapshots, so they restore into any storage engine, not just the one
// that produced them.
package backup

import (
	"fmt"
	"time"
)

// Config holds backup service configuration.
type Config struct {
	// BackupDir is the directory where snapshots are stored.
	BackupDir string

	// Interval is the duration between automated backups (default: 1 hour).
	Interval time.Duration

	// Retention defines how many snapshots to keep per age tier.
	Retention RetentionPolicy

	// Verify re-reads each snapshot after writing it.
	Verify bool
}

// RetentionPolicy defines how many backups to keep at each tier.
// Backups are categorized by age:
//   - Hourly: backups less than 24 hours old
//   - Daily: backups between 1-7 days old
//   - Weekly: backups between 7-30 days old
//   - Monthly: backups between 30-365 days old
type RetentionPolicy struct {
	// Hourly is the number of hourly backups to keep (default: 24)
	Hourly int

	// Daily is the number of daily backups to keep (default: 7)
	Daily int

	// Weekly is the number of weekly backups to keep (default: 4)
	Weekly int

	// Monthly is the number of monthly backups to keep (default: 12)
	Monthly int
}

// Info contains metadata about a snapshot file.
type Info struct {
	// Path is the full path to the snapshot file
	Path string

	// Timestamp is when the snapshot was created
	Timestamp time.Time

	// Size is the snapshot file size in bytes
	Size int64
}

// Result contains the outcome of one backup run.
type Result struct {
	// Path is the path to the created snapshot file
	Path string

	// Duration is how long the backup took
	Duration time.Duration

	// Size is the snapshot file size in bytes
	Size int64

	// Rows is the number of rows the snapshot holds
	Rows int

	// Verified indicates the snapshot was re-read successfully
	Verified bool
}

// HealthStatus represents the health of the backup service.
type HealthStatus struct {
	// Status is the overall health status: "healthy" or "warning"
	Status string

	// Message provides additional context about the status
	Message string

	// LastBackup is when the last successful backup completed
	LastBackup time.Time

	// NextBackup is when the next backup is scheduled
	NextBackup time.Time

	// TotalBackups is the number of snapshots currently stored
	TotalBackups int

	// BackupDir is the snapshot storage directory
	BackupDir string

	// DiskSpaceUsed is total bytes used by all snapshots
	DiskSpaceUsed int64
}

// SnapshotFileName returns the canonical download name for a snapshot
// taken on the given day: hearth-backup-<ISO date>.json.
func SnapshotFileName(t time.Time) string {
	return fmt.Sprintf("hearth-backup-%s.json", t.UTC().Format("2006-01-02"))
}

// timestampedFileName is the on-disk name for scheduled snapshots. It
// keeps the canonical prefix but appends the time of day so multiple
// backups per day never collide.
func timestampedFileName(t time.Time) string {
	return fmt.Sprintf("hearth-backup-%s.json", t.UTC().Format("2006-01-02T15-04-05.000000"))
}
