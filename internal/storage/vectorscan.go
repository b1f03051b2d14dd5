package storage

import (
	"context"
	"sort"

	"github.com/emberfall/hearth/pkg/vector"
)

// ScanVectors computes cosine similarity between query and every embedding
// row given, returning the topK matches by descending score. Rows without a
// decodable vec buffer are skipped. Cost is linear in the row count.
func ScanVectors(rows []Row, query []float32, topK int) []VectorMatch {
	matches := make([]VectorMatch, 0, len(rows))
	for _, row := range rows {
		buf := RowBytes(row, "vec")
		if len(buf) == 0 {
			continue
		}
		vec32, err := vector.Decode(buf)
		if err != nil {
			continue
		}
		matches = append(matches, VectorMatch{
			ID:    row.ID(),
			RefID: RowString(row, "ref_id"),
			Score: vector.Cosine(query, vec32),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// SearchVectors is the shared full-scan VectorSearch implementation: load
// the namespace's embeddings through the engine's own Query, then scan in
// memory. Engines without a native similarity index delegate here.
func SearchVectors(ctx context.Context, s Storage, opts VectorSearchOptions) ([]VectorMatch, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	where := map[string]any{"namespace": opts.Namespace}
	for k, v := range opts.Where {
		where[k] = v
	}

	rows, err := s.Query(ctx, QueryOptions{Table: TableEmbeddings, Where: where})
	if err != nil {
		return nil, err
	}

	return ScanVectors(rows, opts.Query, opts.TopK), nil
}
