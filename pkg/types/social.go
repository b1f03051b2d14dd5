package types

import "time"

// Asset is an owner-scoped binary artifact reference, typically a generated
// image. The payload itself lives outside the row store; the row records the
// location and provenance.
type Asset struct {
	ID          string         `json:"id"`
	CharacterID string         `json:"character_id"`
	Kind        string         `json:"kind"` // e.g. "image", "avatar"
	URL         string         `json:"url"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DMConversation is a direct-message thread with a single character,
// separate from the shared house chats.
type DMConversation struct {
	ID          string    `json:"id"`
	CharacterID string    `json:"character_id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DMMessage is a message within a DM conversation. TurnIndex is the
// position in the thread, assigned by the repository on send; timestamps
// can collide within a millisecond, so created_at alone does not order a
// thread.
type DMMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	TurnIndex      int       `json:"turn_index"`
	CreatedAt      time.Time `json:"created_at"`
}

// Post is an entry on a character's feed.
type Post struct {
	ID          string    `json:"id"`
	CharacterID string    `json:"character_id"`
	Content     string    `json:"content"`
	ImageURL    string    `json:"image_url,omitempty"`
	Likes       int       `json:"likes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
