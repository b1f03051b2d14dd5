package handlers

import (
	"net/http"
	"strconv"

	"github.com/emberfall/hearth/internal/repo"
	"github.com/emberfall/hearth/pkg/types"
)

// ChatHandlers serves the chat and message endpoints.
type ChatHandlers struct {
	repos *repo.Repos
}

// NewChatHandlers creates the chat handler set.
func NewChatHandlers(repos *repo.Repos) *ChatHandlers {
	return &ChatHandlers{repos: repos}
}

// List handles GET /api/chats?character_id=...
func (h *ChatHandlers) List(w http.ResponseWriter, r *http.Request) {
	chats, err := h.repos.Chats.List(r.Context(), r.URL.Query().Get("character_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

// Create handles POST /api/chats.
func (h *ChatHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title        string   `json:"title"`
		CharacterID  string   `json:"character_id"`
		Participants []string `json:"participants"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_JSON"})
		return
	}

	chat := &types.Chat{Title: body.Title, CharacterID: body.CharacterID}
	if err := h.repos.Chats.Create(r.Context(), chat, body.Participants...); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

// Get handles GET /api/chats/{id}, returning the chat with its
// participants.
func (h *ChatHandlers) Get(w http.ResponseWriter, r *http.Request) {
	chat, err := h.repos.Chats.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if chat == nil {
		notFound(w, "chat")
		return
	}

	participants, err := h.repos.Chats.Participants(r.Context(), chat.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		*types.Chat
		Participants []string `json:"participants"`
	}{chat, participants})
}

// Rename handles PATCH /api/chats/{id}.
func (h *ChatHandlers) Rename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_JSON"})
		return
	}
	if err := h.repos.Chats.Rename(r.Context(), r.PathValue("id"), body.Title); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/chats/{id} with cascade.
func (h *ChatHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.Chats.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /api/chats/{id}/messages?limit=&offset=.
func (h *ChatHandlers) Messages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	msgs, err := h.repos.Messages.List(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Append handles POST /api/chats/{id}/messages and bumps the chat's
// activity timestamp.
func (h *ChatHandlers) Append(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role       string         `json:"role"`
		Content    string         `json:"content"`
		Metadata   map[string]any `json:"metadata"`
		TokenCount int            `json:"token_count"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_JSON"})
		return
	}

	msg := &types.Message{
		ChatID:     r.PathValue("id"),
		Role:       body.Role,
		Content:    body.Content,
		Metadata:   body.Metadata,
		TokenCount: body.TokenCount,
		TurnIndex:  -1,
	}
	if err := h.repos.Messages.Append(r.Context(), msg); err != nil {
		writeError(w, err)
		return
	}
	if err := h.repos.Chats.Touch(r.Context(), msg.ChatID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
