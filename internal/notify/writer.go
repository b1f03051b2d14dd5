// Package notify provides cross-process change notification between the
// web server and CLI tooling using filesystem events. A process that
// mutates shared state drops an event file; watchers in other processes
// pick it up and refresh.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Well-known event types.
const (
	EventSettingChanged = "setting.changed"
	EventSettingDeleted = "setting.deleted"
	EventSnapshotImport = "snapshot.imported"
	EventCompactionDone = "compaction.done"
)

// Event is the payload written to an event file. Key identifies what
// changed: a setting key for setting events, empty otherwise.
type Event struct {
	Type string `json:"type"`
	Key  string `json:"key"`
	Time int64  `json:"time"`
}

// EventWriter writes notification event files to a shared directory.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: filepath.Join(dataPath, "events")}
}

// Notify writes an event file. Safe to call concurrently. Errors are
// returned but callers generally treat them as non-fatal.
//
// The payload is written under a temporary name and renamed into place,
// so a watcher never observes a half-written .event file.
func (w *EventWriter) Notify(eventType, key string) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	evt := Event{
		Type: eventType,
		Key:  key,
		Time: time.Now().UnixNano(),
	}
	data, _ := json.Marshal(evt)

	tmp, err := os.CreateTemp(w.dir, "pending-*.tmp")
	if err != nil {
		return fmt.Errorf("notify: create event file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("notify: write event file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("notify: close event file: %w", err)
	}

	filename := fmt.Sprintf("%d-%s.event", evt.Time, sanitizeKey(key))
	path := filepath.Join(w.dir, filename)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("notify: publish event file: %w", err)
	}
	return nil
}

// sanitizeKey replaces characters unsafe for filenames.
func sanitizeKey(key string) string {
	if key == "" {
		return "event"
	}
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		if key[i] == '/' || key[i] == ':' {
			out[i] = '_'
		} else {
			out[i] = key[i]
		}
	}
	return string(out)
}
