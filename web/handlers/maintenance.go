package handlers

import (
	"bufio"
	"fmt"
	"net/http"
	"time"

	"github.com/emberfall/hearth/internal/backup"
	"github.com/emberfall/hearth/internal/notify"
	"github.com/emberfall/hearth/internal/storage"
)

// MaintenanceHandlers serves compaction, snapshot export/import, and
// backup trigger endpoints.
type MaintenanceHandlers struct {
	store    storage.Storage
	backups  *backup.Service
	notifier *notify.EventWriter
}

// NewMaintenanceHandlers creates the maintenance handler set. backups and
// notifier may be nil.
func NewMaintenanceHandlers(store storage.Storage, backups *backup.Service, notifier *notify.EventWriter) *MaintenanceHandlers {
	return &MaintenanceHandlers{store: store, backups: backups, notifier: notifier}
}

// Compact handles POST /api/maintenance/compact.
func (h *MaintenanceHandlers) Compact(w http.ResponseWriter, r *http.Request) {
	compactor, ok := h.store.(storage.Compactor)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{
			Error: fmt.Sprintf("engine %s does not support compaction", h.store.Engine()),
			Code:  "UNSUPPORTED",
		})
		return
	}

	report, err := compactor.Compact(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if h.notifier != nil {
		_ = h.notifier.Notify(notify.EventCompactionDone, "")
	}
	writeJSON(w, http.StatusOK, report)
}

// Export handles GET /api/maintenance/export: streams the NDJSON snapshot
// as a download under the canonical backup name.
func (h *MaintenanceHandlers) Export(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.store.(storage.Snapshotter)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{
			Error: fmt.Sprintf("engine %s does not support snapshots", h.store.Engine()),
			Code:  "UNSUPPORTED",
		})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", backup.SnapshotFileName(time.Now())))

	if err := snap.ExportSnapshot(r.Context(), w, nil); err != nil {
		// Headers are out; all we can do is log through writeError's path.
		writeError(w, err)
	}
}

// Import handles POST /api/maintenance/import: replays an uploaded
// snapshot into the engine.
func (h *MaintenanceHandlers) Import(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.store.(storage.Snapshotter)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{
			Error: fmt.Sprintf("engine %s does not support snapshots", h.store.Engine()),
			Code:  "UNSUPPORTED",
		})
		return
	}

	if err := snap.ImportSnapshot(r.Context(), bufio.NewReader(r.Body)); err != nil {
		writeError(w, err)
		return
	}
	if h.notifier != nil {
		_ = h.notifier.Notify(notify.EventSnapshotImport, "")
	}
	w.WriteHeader(http.StatusNoContent)
}

// BackupNow handles POST /api/maintenance/backup.
func (h *MaintenanceHandlers) BackupNow(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{
			Error: "backups are not configured",
			Code:  "UNSUPPORTED",
		})
		return
	}

	result, err := h.backups.BackupNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// BackupHealth handles GET /api/maintenance/backup.
func (h *MaintenanceHandlers) BackupHealth(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{
			Error: "backups are not configured",
			Code:  "UNSUPPORTED",
		})
		return
	}

	status, err := h.backups.HealthCheck()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
