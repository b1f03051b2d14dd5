package handlers

import (
	"net/http"

	"github.com/emberfall/hearth/internal/repo"
	"github.com/emberfall/hearth/pkg/types"
)

// CharacterHandlers serves the character CRUD endpoints.
type CharacterHandlers struct {
	repos *repo.Repos
}

// NewCharacterHandlers creates the character handler set.
func NewCharacterHandlers(repos *repo.Repos) *CharacterHandlers {
	return &CharacterHandlers{repos: repos}
}

// List handles GET /api/characters.
func (h *CharacterHandlers) List(w http.ResponseWriter, r *http.Request) {
	chars, err := h.repos.Characters.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chars)
}

// Create handles POST /api/characters.
func (h *CharacterHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string                 `json:"name"`
		Profile types.CharacterProfile `json:"profile"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_JSON"})
		return
	}

	char := &types.Character{Name: body.Name, Profile: body.Profile}
	if err := h.repos.Characters.Create(r.Context(), char); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, char)
}

// Get handles GET /api/characters/{id}.
func (h *CharacterHandlers) Get(w http.ResponseWriter, r *http.Request) {
	char, err := h.repos.Characters.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if char == nil {
		notFound(w, "character")
		return
	}
	writeJSON(w, http.StatusOK, char)
}

// Update handles PATCH /api/characters/{id}. Only fields present in the
// body are changed.
func (h *CharacterHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    *string                 `json:"name"`
		Profile *types.CharacterProfile `json:"profile"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_JSON"})
		return
	}

	char, err := h.repos.Characters.Update(r.Context(), r.PathValue("id"), func(c *types.Character) error {
		if body.Name != nil {
			c.Name = *body.Name
		}
		if body.Profile != nil {
			c.Profile = *body.Profile
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, char)
}

// Delete handles DELETE /api/characters/{id} with full cascade.
func (h *CharacterHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.Characters.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
