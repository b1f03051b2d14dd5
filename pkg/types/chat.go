package types

import "time"

// Chat is a conversation session between the user and one or more characters.
type Chat struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	// CharacterID is the primary character of the chat. Additional
	// participants are tracked through chat_participants join rows.
	CharacterID string `json:"character_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single utterance within a chat. Messages are append-only from
// the application's perspective and ordered by CreatedAt ascending (with
// TurnIndex as the tiebreaker) within a chat.
type Message struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`

	// Role identifies the sender: "user", "assistant", or a character ID
	// for multi-character chats.
	Role string `json:"role"`

	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// TurnIndex disambiguates ordering when two messages share a
	// millisecond. Callers stamp it before writing; the storage layer
	// never assigns it.
	TurnIndex int `json:"turn_index"`

	TokenCount int       `json:"token_count,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
