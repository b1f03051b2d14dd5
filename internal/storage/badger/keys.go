package badger

import "fmt"

// Key layout:
//
//	row:<table>:<id>                 -> JSON row
//	idx:<table>:<field>:<value>:<id> -> empty (secondary index entry)
//
// Index entries exist only for the table's registered indexed fields and
// only when the field value is a string. Everything else is served by a
// table prefix scan with in-memory filtering.
const (
	rowPrefix   = "row"
	indexPrefix = "idx"
)

// makeRowKey builds the primary key for a row.
func makeRowKey(table, id string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", rowPrefix, table, id))
}

// makeTablePrefix builds the scan prefix covering every row of a table.
func makeTablePrefix(table string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", rowPrefix, table))
}

// makeIndexKey builds a secondary index entry key.
func makeIndexKey(table, field, value, id string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%s\x00%s", indexPrefix, table, field, value, id))
}

// makeIndexPrefix builds the scan prefix for one (field, value) pair.
// The NUL separator keeps "abc" from matching "abcd" entries.
func makeIndexPrefix(table, field, value string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%s\x00", indexPrefix, table, field, value))
}

// indexKeyID extracts the row id from an index entry key.
func indexKeyID(key []byte) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == 0 {
			return string(key[i+1:])
		}
	}
	return ""
}
