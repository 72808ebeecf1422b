package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/memvault/memvault-go/pkg/store"
)

// recordColumns is the canonical column list for record SELECTs.
const recordColumns = "id, namespace, content, embedding, memory_type, category, importance_score, metadata, created_at, expire_at, indexed"

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a record from a database row or rows.
func scanRecord(s scanner) (*store.Record, error) {
	var rec store.Record
	var embeddingRaw []byte
	var metadataRaw []byte
	var expireAt sql.NullInt64
	var memoryType, category string

	err := s.Scan(
		&rec.ID,
		&rec.Namespace,
		&rec.Content,
		&embeddingRaw,
		&memoryType,
		&category,
		&rec.ImportanceScore,
		&metadataRaw,
		&rec.CreatedAt,
		&expireAt,
		&rec.Indexed,
	)
	if err != nil {
		return nil, err
	}

	rec.MemoryType = store.MemoryType(memoryType)
	rec.Category = store.Category(category)

	if len(embeddingRaw) > 0 {
		if err := json.Unmarshal(embeddingRaw, &rec.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}

	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}

	if expireAt.Valid {
		v := expireAt.Int64
		rec.ExpireAt = &v
	}

	return &rec, nil
}

// buildWhereClause builds a WHERE clause using $N placeholders starting at
// startIdx and returns the clause together with its arguments.
func buildWhereClause(f *store.Filter, nowMS int64, includeExpired, embeddedOnly bool, startIdx int) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	idx := startIdx

	if f.Namespace != "" {
		conditions = append(conditions, fmt.Sprintf("namespace = $%d", idx))
		args = append(args, f.Namespace)
		idx++
	}
	if f.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", idx))
		args = append(args, string(f.Category))
		idx++
	}
	if f.MemoryType != "" {
		conditions = append(conditions, fmt.Sprintf("memory_type = $%d", idx))
		args = append(args, string(f.MemoryType))
		idx++
	}
	if f.MinImportance > 0 {
		conditions = append(conditions, fmt.Sprintf("importance_score >= $%d", idx))
		args = append(args, f.MinImportance)
		idx++
	}
	if !includeExpired {
		conditions = append(conditions, fmt.Sprintf("(expire_at IS NULL OR expire_at > $%d)", idx))
		args = append(args, nowMS)
		idx++
	}
	if embeddedOnly {
		conditions = append(conditions, "embedding IS NOT NULL")
	}

	if len(conditions) == 0 {
		return "", args
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// marshalEmbedding serializes an embedding as JSON, or NULL when absent.
func marshalEmbedding(embedding []float64) (interface{}, error) {
	if embedding == nil {
		return nil, nil
	}
	data, err := json.Marshal(embedding)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// nullableInt64 converts an optional int64 to a driver value.
func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
