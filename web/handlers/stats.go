package handlers

import (
	"net/http"

	"github.com/emberfall/hearth/internal/storage"
)

// StatsHandlers serves the engine inspection endpoint.
type StatsHandlers struct {
	store storage.Storage
}

// NewStatsHandlers creates the stats handler.
func NewStatsHandlers(store storage.Storage) *StatsHandlers {
	return &StatsHandlers{store: store}
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Engine       string         `json:"engine"`
	Tables       map[string]int `json:"tables"`
	TotalRows    int            `json:"total_rows"`
	Capabilities []string       `json:"capabilities"`
}

// Get handles GET /api/stats: the active engine tag, per-table row
// counts, and which optional capabilities the engine offers.
func (h *StatsHandlers) Get(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Engine: h.store.Engine(),
		Tables: map[string]int{},
	}

	for _, table := range storage.TableNames() {
		rows, err := h.store.Query(r.Context(), storage.QueryOptions{Table: table})
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Tables[table] = len(rows)
		resp.TotalRows += len(rows)
	}

	if _, ok := h.store.(storage.Transactional); ok {
		resp.Capabilities = append(resp.Capabilities, "transactions")
	}
	if _, ok := h.store.(storage.Compactor); ok {
		resp.Capabilities = append(resp.Capabilities, "compaction")
	}
	if _, ok := h.store.(storage.Snapshotter); ok {
		resp.Capabilities = append(resp.Capabilities, "snapshots")
	}

	writeJSON(w, http.StatusOK, resp)
}
