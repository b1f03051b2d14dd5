package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/emberfall/hearth/internal/storage"
	"github.com/emberfall/hearth/pkg/types"
	"github.com/emberfall/hearth/pkg/vector"
)

// MemoryHandlers serves the memory and vector search endpoints directly
// against the storage contract.
type MemoryHandlers struct {
	store storage.Storage
}

// NewMemoryHandlers creates the memory handler set.
func NewMemoryHandlers(store storage.Storage) *MemoryHandlers {
	return &MemoryHandlers{store: store}
}

// List handles GET /api/memories?character_id=&chat_id=&kind=&limit=.
func (h *MemoryHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	where := map[string]any{}
	for _, field := range []string{"character_id", "chat_id", "kind"} {
		if v := q.Get(field); v != "" {
			where[field] = v
		}
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	rows, err := h.store.Query(r.Context(), storage.QueryOptions{
		Table:     storage.TableMemories,
		Where:     where,
		OrderBy:   "created_at",
		SortOrder: "desc",
		Limit:     limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// Create handles POST /api/memories. An embedding may ride along; when it
// does, it is stored under the memories namespace keyed to the new row.
func (h *MemoryHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CharacterID string    `json:"character_id"`
		ChatID      string    `json:"chat_id"`
		Source      string    `json:"source"`
		Kind        string    `json:"kind"`
		Content     string    `json:"content"`
		Importance  float64   `json:"importance"`
		Decay       float64   `json:"decay"`
		Tags        []string  `json:"tags"`
		Embedding   []float32 `json:"embedding"`
		Model       string    `json:"model"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_JSON"})
		return
	}

	mem := &storage.MemoryRow{
		ID:          uuid.New().String(),
		CharacterID: body.CharacterID,
		ChatID:      body.ChatID,
		Source:      body.Source,
		Kind:        types.MemoryKind(body.Kind),
		Content:     body.Content,
		Importance:  body.Importance,
		Decay:       body.Decay,
		Tags:        body.Tags,
	}
	if err := h.store.AddMemory(r.Context(), mem); err != nil {
		writeError(w, err)
		return
	}

	if len(body.Embedding) > 0 {
		emb := &storage.EmbeddingRow{
			ID:        uuid.New().String(),
			Namespace: "memories",
			RefID:     mem.ID,
			Model:     body.Model,
			Vec:       vector.Encode(body.Embedding),
		}
		if err := h.store.AddEmbedding(r.Context(), emb); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": mem.ID})
}

// Delete handles DELETE /api/memories/{id}.
func (h *MemoryHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), storage.TableMemories, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles POST /api/memories/search: cosine similarity over the
// stored embeddings.
func (h *MemoryHandlers) Search(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Namespace string    `json:"namespace"`
		Query     []float32 `json:"query"`
		TopK      int       `json:"top_k"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_JSON"})
		return
	}
	if body.Namespace == "" {
		body.Namespace = "memories"
	}

	matches, err := h.store.VectorSearch(r.Context(), storage.VectorSearchOptions{
		Namespace: body.Namespace,
		Query:     body.Query,
		TopK:      body.TopK,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}
