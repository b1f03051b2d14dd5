package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidInput indicates a malformed row or option set.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownTable indicates an operation against a table the engine
	// does not recognize. Engines fail loudly on this rather than silently
	// returning empty results.
	ErrUnknownTable = errors.New("unknown table")
)

// Row is a generic persisted record: a bag of fields with a mandatory
// string "id". Timestamps travel as epoch milliseconds (int64) and binary
// vector buffers as []byte so rows survive JSON round trips.
type Row map[string]any

// ID returns the row's id field, or "" when absent or not a string.
func (r Row) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Well-known table names.
const (
	TableCharacters       = "characters"
	TableChats            = "chats"
	TableChatParticipants = "chat_participants"
	TableMessages         = "messages"
	TableMemories         = "memories"
	TableEmbeddings       = "embeddings"
	TableSettings         = "settings"
	TableAssets           = "assets"
	TableDMs              = "dms"
	TableDMMessages       = "dm_messages"
	TablePosts            = "posts"
)

// TableSpec describes a logical table to the engines.
type TableSpec struct {
	// Indexed names the fields engines should index for equality filters
	// and ordering. Every table additionally supports id, created_at and
	// updated_at.
	Indexed []string

	// Sortable names additional numeric fields that may appear in OrderBy
	// without being indexed. Engines sort these from the row body.
	Sortable []string
}

// Tables is the registry of known tables. Operations naming any other table
// fail with ErrUnknownTable.
var Tables = map[string]TableSpec{
	TableCharacters:       {Indexed: []string{"name"}},
	TableChats:            {Indexed: []string{"character_id"}},
	TableChatParticipants: {Indexed: []string{"chat_id", "character_id"}},
	TableMessages:         {Indexed: []string{"chat_id", "role"}, Sortable: []string{"turn_index"}},
	TableMemories:         {Indexed: []string{"character_id", "chat_id", "kind"}},
	TableEmbeddings:       {Indexed: []string{"namespace", "ref_id", "model"}},
	TableSettings:         {},
	TableAssets:           {Indexed: []string{"character_id", "kind"}},
	TableDMs:              {Indexed: []string{"character_id"}},
	TableDMMessages:       {Indexed: []string{"conversation_id", "role"}, Sortable: []string{"turn_index"}},
	TablePosts:            {Indexed: []string{"character_id"}},
}

// TableNames returns the known table names in a stable order.
func TableNames() []string {
	return []string{
		TableCharacters, TableChats, TableChatParticipants, TableMessages,
		TableMemories, TableEmbeddings, TableSettings, TableAssets,
		TableDMs, TableDMMessages, TablePosts,
	}
}

// KnownTable reports whether name is in the registry.
func KnownTable(name string) bool {
	_, ok := Tables[name]
	return ok
}

// SortableField reports whether field may be used in an OrderBy clause for
// the given table: its indexed and sortable fields plus
// id/created_at/updated_at.
func SortableField(table, field string) bool {
	switch field {
	case "id", "created_at", "updated_at":
		return true
	}
	spec, ok := Tables[table]
	if !ok {
		return false
	}
	for _, f := range spec.Indexed {
		if f == field {
			return true
		}
	}
	for _, f := range spec.Sortable {
		if f == field {
			return true
		}
	}
	return false
}

// ValidateRow checks the table name and row shape shared by every engine's
// Put implementation.
func ValidateRow(table string, row Row) error {
	if !KnownTable(table) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if row == nil {
		return fmt.Errorf("%w: nil row", ErrInvalidInput)
	}
	if row.ID() == "" {
		return fmt.Errorf("%w: row id is required", ErrInvalidInput)
	}
	return nil
}

// QueryOptions selects rows from one table.
type QueryOptions struct {
	// Table is the table to read. Required.
	Table string

	// Where is an exact-match equality filter on one or more fields.
	// No range or complex predicates are guaranteed across engines.
	Where map[string]any

	// OrderBy names the field to sort on; must be sortable for the table
	// (see SortableField). Empty means no ordering guarantee.
	OrderBy string

	// SortOrder is "asc" or "desc"; defaults to "asc".
	SortOrder string

	// Limit caps the result count; zero or negative means unlimited.
	Limit int

	// Offset skips rows after ordering.
	Offset int
}

// Normalize applies defaults and validates the options.
func (o *QueryOptions) Normalize() error {
	if !KnownTable(o.Table) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, o.Table)
	}
	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "asc"
	}
	if o.OrderBy != "" && !SortableField(o.Table, o.OrderBy) {
		return fmt.Errorf("%w: cannot order %s by %q", ErrInvalidInput, o.Table, o.OrderBy)
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return nil
}

// VectorSearchOptions scopes a cosine similarity search.
type VectorSearchOptions struct {
	// Namespace is the logical partition of the embeddings table to scan.
	Namespace string

	// Query is the vector to compare against.
	Query []float32

	// TopK caps the number of matches returned (default 10).
	TopK int

	// Where optionally narrows the scanned embeddings with equality
	// filters (e.g. by model).
	Where map[string]any
}

// Normalize applies defaults and validates the options.
func (o *VectorSearchOptions) Normalize() error {
	if o.Namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidInput)
	}
	if len(o.Query) == 0 {
		return fmt.Errorf("%w: query vector is required", ErrInvalidInput)
	}
	if o.TopK <= 0 {
		o.TopK = 10
	}
	return nil
}

// VectorMatch is one vector search result.
type VectorMatch struct {
	// ID is the embedding row id.
	ID string `json:"id"`

	// RefID points at the entity the vector represents.
	RefID string `json:"ref_id"`

	// Score is the cosine similarity to the query in [-1, 1].
	Score float64 `json:"score"`
}

// NowMillis returns the current time as epoch milliseconds, the timestamp
// representation rows carry.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// rowIntFields are the fields NormalizeRow coerces to int64 after a JSON
// round trip (encoding/json decodes all numbers to float64).
var rowIntFields = map[string]bool{
	"created_at":  true,
	"updated_at":  true,
	"turn_index":  true,
	"token_count": true,
	"dim":         true,
	"likes":       true,
}

// NormalizeRow restores canonical field types on a row that has been
// through a JSON round trip: integral fields back to int64 and the vec
// buffer back to raw bytes from its base64 string form.
func NormalizeRow(row Row) Row {
	for field := range rowIntFields {
		if v, ok := row[field].(float64); ok {
			row[field] = int64(v)
		}
	}
	if s, ok := row["vec"].(string); ok {
		if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
			row["vec"] = raw
		}
	}
	return row
}

// RowInt64 reads an integral row field regardless of whether it has been
// through a JSON round trip.
func RowInt64(row Row, field string) int64 {
	switch v := row[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// RowString reads a string row field, returning "" when absent.
func RowString(row Row, field string) string {
	s, _ := row[field].(string)
	return s
}

// RowBytes reads a binary row field, decoding base64 string values left by
// JSON round trips.
func RowBytes(row Row, field string) []byte {
	switch v := row[field].(type) {
	case []byte:
		return v
	case string:
		if raw, err := base64.StdEncoding.DecodeString(v); err == nil {
			return raw
		}
	}
	return nil
}
