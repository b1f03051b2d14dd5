package types

import (
	"fmt"
	"time"
)

// MemoryKind classifies what a long-term memory captures.
type MemoryKind string

// Valid memory kinds.
const (
	MemoryFact       MemoryKind = "fact"
	MemoryPreference MemoryKind = "preference"
	MemoryGoal       MemoryKind = "goal"
	MemoryPlan       MemoryKind = "plan"
	MemoryTrait      MemoryKind = "trait"
	MemoryEvent      MemoryKind = "event"
)

// ValidMemoryKinds lists every accepted memory kind.
var ValidMemoryKinds = []MemoryKind{
	MemoryFact, MemoryPreference, MemoryGoal,
	MemoryPlan, MemoryTrait, MemoryEvent,
}

// IsValid reports whether k is a known memory kind.
func (k MemoryKind) IsValid() bool {
	for _, v := range ValidMemoryKinds {
		if k == v {
			return true
		}
	}
	return false
}

// Memory is a long-term context item extracted from or about a character's
// chats. Compaction also writes archive summaries as memories.
type Memory struct {
	ID          string     `json:"id"`
	CharacterID string     `json:"character_id"`
	ChatID      string     `json:"chat_id,omitempty"`
	Source      string     `json:"source,omitempty"`
	Kind        MemoryKind `json:"kind"`
	Content     string     `json:"content"`

	// Importance in [0,1]; higher survives compaction longer.
	Importance float64 `json:"importance"`

	// Decay in [0,1]; advances as a memory ages without being referenced.
	Decay float64 `json:"decay"`

	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the memory's kind and score ranges.
func (m *Memory) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("memory ID is required")
	}
	if m.CharacterID == "" {
		return fmt.Errorf("memory character_id is required")
	}
	if m.Content == "" {
		return fmt.Errorf("memory content is required")
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid memory kind %q", m.Kind)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return fmt.Errorf("memory importance out of range [0,1]: %v", m.Importance)
	}
	if m.Decay < 0 || m.Decay > 1 {
		return fmt.Errorf("memory decay out of range [0,1]: %v", m.Decay)
	}
	return nil
}
