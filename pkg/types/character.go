// Package types defines the domain objects of the hearth character house:
// characters, chats, messages, memories, and the auxiliary social entities.
// These are the transient views the application works with; the durable
// source of truth is the generic row stored by the storage layer, and the
// repositories translate between the two.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Character is a companion character living in the house.
type Character struct {
	// ID is the immutable UUID of the character.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Profile holds the structured personality/appearance/stats data.
	Profile CharacterProfile `json:"profile"`

	// CreatedAt is set once at creation and never changed.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt advances monotonically on every mutation.
	UpdatedAt time.Time `json:"updated_at"`
}

// CharacterProfile is the structured replacement for the legacy opaque
// profile blob. Fields are grouped so new traits can be added without
// widening the top level.
type CharacterProfile struct {
	Personality PersonalityProfile `json:"personality"`
	Appearance  AppearanceProfile  `json:"appearance"`
	Stats       CharacterStats     `json:"stats"`

	// Backstory is free-form text shown on the character card.
	Backstory string `json:"backstory,omitempty"`

	// Extra preserves unknown legacy profile fields across migrations.
	Extra map[string]any `json:"extra,omitempty"`
}

// PersonalityProfile describes how a character behaves in conversation.
type PersonalityProfile struct {
	Traits       []string `json:"traits,omitempty"`
	SpeechStyle  string   `json:"speech_style,omitempty"`
	Likes        []string `json:"likes,omitempty"`
	Dislikes     []string `json:"dislikes,omitempty"`
	Occupation   string   `json:"occupation,omitempty"`
	Relationship string   `json:"relationship,omitempty"`
}

// AppearanceProfile describes how a character looks.
type AppearanceProfile struct {
	HairColor string `json:"hair_color,omitempty"`
	EyeColor  string `json:"eye_color,omitempty"`
	Height    string `json:"height,omitempty"`
	Outfit    string `json:"outfit,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

// CharacterStats are the simulation-facing numeric attributes.
// All values are clamped to [0, 100].
type CharacterStats struct {
	Affection int `json:"affection"`
	Energy    int `json:"energy"`
	Mood      int `json:"mood"`
}

// Validate checks a character before it crosses the adapter boundary into
// storage. Returns an error describing the first violation found.
func (c *Character) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("character ID is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("character name is required")
	}
	return c.Profile.Validate()
}

// Validate checks the profile's numeric ranges.
func (p *CharacterProfile) Validate() error {
	for _, v := range []struct {
		name  string
		value int
	}{
		{"affection", p.Stats.Affection},
		{"energy", p.Stats.Energy},
		{"mood", p.Stats.Mood},
	} {
		if v.value < 0 || v.value > 100 {
			return fmt.Errorf("stat %s out of range [0,100]: %d", v.name, v.value)
		}
	}
	return nil
}
