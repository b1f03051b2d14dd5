package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/emberfall/hearth/internal/notify"
	"github.com/emberfall/hearth/internal/settings"
)

// SettingsHandlers serves the key/value settings endpoints. Writes emit a
// cross-process change event when a notifier is configured.
type SettingsHandlers struct {
	store    *settings.Store
	notifier *notify.EventWriter
}

// NewSettingsHandlers creates the settings handler set. notifier may be
// nil.
func NewSettingsHandlers(store *settings.Store, notifier *notify.EventWriter) *SettingsHandlers {
	return &SettingsHandlers{store: store, notifier: notifier}
}

// Keys handles GET /api/settings.
func (h *SettingsHandlers) Keys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.Keys(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"keys": keys})
}

// Get handles GET /api/settings/{key}.
func (h *SettingsHandlers) Get(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var value json.RawMessage
	found, err := h.store.Get(r.Context(), key, &value)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		notFound(w, "setting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

// Put handles PUT /api/settings/{key}. The request body is the raw JSON
// value.
func (h *SettingsHandlers) Put(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var value json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_JSON"})
		return
	}

	if err := h.store.Set(r.Context(), key, value); err != nil {
		writeError(w, err)
		return
	}
	if h.notifier != nil {
		_ = h.notifier.Notify(notify.EventSettingChanged, key)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/settings/{key}.
func (h *SettingsHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if err := h.store.Delete(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}
	if h.notifier != nil {
		_ = h.notifier.Notify(notify.EventSettingDeleted, key)
	}
	w.WriteHeader(http.StatusNoContent)
}
