package handlers

import (
	"net/http"
	"strconv"

	"github.com/emberfall/hearth/internal/repo"
	"github.com/emberfall/hearth/pkg/types"
)

// SocialHandlers serves the DM, post, and asset endpoints.
type SocialHandlers struct {
	repos *repo.Repos
}

// NewSocialHandlers creates the social handler set.
func NewSocialHandlers(repos *repo.Repos) *SocialHandlers {
	return &SocialHandlers{repos: repos}
}

// ListDMs handles GET /api/dms?character_id=...
func (h *SocialHandlers) ListDMs(w http.ResponseWriter, r *http.Request) {
	dms, err := h.repos.DMs.ListConversations(r.Context(), r.URL.Query().Get("character_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dms)
}

// CreateDM handles POST /api/dms.
func (h *SocialHandlers) CreateDM(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CharacterID string `json:"character_id"`
		Title       string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_JSON"})
		return
	}

	dm := &types.DMConversation{CharacterID: body.CharacterID, Title: body.Title}
	if err := h.repos.DMs.CreateConversation(r.Context(), dm); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dm)
}

// DMMessages handles GET /api/dms/{id}/messages.
func (h *SocialHandlers) DMMessages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	msgs, err := h.repos.DMs.Messages(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendDM handles POST /api/dms/{id}/messages.
func (h *SocialHandlers) SendDM(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_JSON"})
		return
	}

	msg := &types.DMMessage{
		ConversationID: r.PathValue("id"),
		Role:           body.Role,
		Content:        body.Content,
	}
	if err := h.repos.DMs.Send(r.Context(), msg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// DeleteDM handles DELETE /api/dms/{id} with cascade.
func (h *SocialHandlers) DeleteDM(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.DMs.DeleteConversation(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Feed handles GET /api/posts?character_id=&limit=.
func (h *SocialHandlers) Feed(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	posts, err := h.repos.Posts.Feed(r.Context(), r.URL.Query().Get("character_id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// CreatePost handles POST /api/posts.
func (h *SocialHandlers) CreatePost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CharacterID string `json:"character_id"`
		Content     string `json:"content"`
		ImageURL    string `json:"image_url"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_JSON"})
		return
	}

	post := &types.Post{CharacterID: body.CharacterID, Content: body.Content, ImageURL: body.ImageURL}
	if err := h.repos.Posts.Create(r.Context(), post); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// LikePost handles POST /api/posts/{id}/like.
func (h *SocialHandlers) LikePost(w http.ResponseWriter, r *http.Request) {
	post, err := h.repos.Posts.Like(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// DeletePost handles DELETE /api/posts/{id}.
func (h *SocialHandlers) DeletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.Posts.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAssets handles GET /api/assets?character_id=&kind=.
func (h *SocialHandlers) ListAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assets, err := h.repos.Assets.List(r.Context(), q.Get("character_id"), q.Get("kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

// CreateAsset handles POST /api/assets.
func (h *SocialHandlers) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CharacterID string         `json:"character_id"`
		Kind        string         `json:"kind"`
		URL         string         `json:"url"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_JSON"})
		return
	}

	asset := &types.Asset{
		CharacterID: body.CharacterID,
		Kind:        body.Kind,
		URL:         body.URL,
		Metadata:    body.Metadata,
	}
	if err := h.repos.Assets.Create(r.Context(), asset); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

// DeleteAsset handles DELETE /api/assets/{id}.
func (h *SocialHandlers) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.Assets.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
