package types

import (
	"strings"
	"testing"
)

func TestCharacterValidate(t *testing.T) {
	valid := Character{
		ID:   "char-1",
		Name: "Mira",
		Profile: CharacterProfile{
			Stats: CharacterStats{Affection: 50, Energy: 80, Mood: 70},
		},
	}

	t.Run("valid", func(t *testing.T) {
		if err := valid.Validate(); err != nil {
			t.Fatalf("expected valid character, got %v", err)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		c := valid
		c.ID = ""
		if err := c.Validate(); err == nil {
			t.Error("expected error for missing ID")
		}
	})

	t.Run("blank name", func(t *testing.T) {
		c := valid
		c.Name = "   "
		if err := c.Validate(); err == nil {
			t.Error("expected error for blank name")
		}
	})

	t.Run("stat out of range", func(t *testing.T) {
		c := valid
		c.Profile.Stats.Mood = 120
		err := c.Validate()
		if err == nil {
			t.Fatal("expected error for stat out of range")
		}
		if !strings.Contains(err.Error(), "mood") {
			t.Errorf("expected error to name the stat, got %v", err)
		}
	})
}

func TestMemoryKindIsValid(t *testing.T) {
	for _, k := range ValidMemoryKinds {
		if !k.IsValid() {
			t.Errorf("kind %q should be valid", k)
		}
	}
	if MemoryKind("vibe").IsValid() {
		t.Error("unknown kind should not be valid")
	}
}

func TestMemoryValidate(t *testing.T) {
	valid := Memory{
		ID:          "mem-1",
		CharacterID: "char-1",
		Kind:        MemoryFact,
		Content:     "likes tea",
		Importance:  0.7,
		Decay:       0.1,
	}

	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid memory, got %v", err)
	}

	bad := valid
	bad.Importance = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("expected error for importance > 1")
	}

	bad = valid
	bad.Kind = "mood"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}
}
