package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// SnapshotLine is one line of the portable snapshot format: newline-delimited
// JSON, one row per line. Binary vec buffers ride as base64 strings (the
// natural JSON encoding of []byte) and are restored on import.
type SnapshotLine struct {
	Table string `json:"table"`
	Row   Row    `json:"row"`
}

// WriteSnapshot serializes every row of the requested tables to w. A nil or
// empty tables slice exports all known tables. Engines delegate their
// ExportSnapshot here so the artifact format is identical across backends.
func WriteSnapshot(ctx context.Context, s Storage, w io.Writer, tables []string) error {
	if len(tables) == 0 {
		tables = TableNames()
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	for _, table := range tables {
		if !KnownTable(table) {
			return fmt.Errorf("%w: %q", ErrUnknownTable, table)
		}

		rows, err := s.Query(ctx, QueryOptions{Table: table, OrderBy: "id", SortOrder: "asc"})
		if err != nil {
			return fmt.Errorf("snapshot: export %s: %w", table, err)
		}

		for _, row := range rows {
			if err := enc.Encode(SnapshotLine{Table: table, Row: row}); err != nil {
				return fmt.Errorf("snapshot: encode %s row: %w", table, err)
			}
		}
	}

	return bw.Flush()
}

// ReadSnapshot replays a snapshot from r into s, one Put per line. Engines
// that can bracket the replay in a transaction wrap this call themselves.
// Returns the number of rows restored.
func ReadSnapshot(ctx context.Context, s Storage, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	restored := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line SnapshotLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return restored, fmt.Errorf("snapshot: line %d: %w", lineNo, err)
		}
		if !KnownTable(line.Table) {
			return restored, fmt.Errorf("snapshot: line %d: %w: %q", lineNo, ErrUnknownTable, line.Table)
		}

		if err := s.Put(ctx, line.Table, NormalizeRow(line.Row)); err != nil {
			return restored, fmt.Errorf("snapshot: line %d: %w", lineNo, err)
		}
		restored++
	}

	if err := scanner.Err(); err != nil {
		return restored, fmt.Errorf("snapshot: read: %w", err)
	}
	return restored, nil
}
