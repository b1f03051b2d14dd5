package types

// Well-known settings keys. The settings layer enforces no schema on the
// values; these constants exist so callers agree on the names.
const (
	// SettingHouse holds the house/world configuration object.
	SettingHouse = "house"

	// SettingCharacters holds the character list used by legacy callers
	// that predate the characters table.
	SettingCharacters = "characters"

	// SettingForceUpdate is a monotonic counter bumped to signal dependent
	// consumers that settings changed out from under them.
	SettingForceUpdate = "settings-force-update.json"

	// SettingGeneratedImages holds the generated image records.
	SettingGeneratedImages = "generated-images.json"

	// SettingCopilotUpdates and SettingCopilotChat hold assistant panel state.
	SettingCopilotUpdates = "copilot-updates.json"
	SettingCopilotChat    = "copilot-chat.json"

	// SettingTestSessions holds debug scratch sessions.
	SettingTestSessions = "test-sessions.json"
)

// HouseConfig is the value stored under SettingHouse.
type HouseConfig struct {
	Name     string `json:"name"`
	Currency int    `json:"currency"`
	Theme    string `json:"theme,omitempty"`
}
