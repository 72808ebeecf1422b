// Package store provides interfaces and types for memory record storage backends.
//
// It defines the Store interface that all backends must satisfy, along with the
// persisted record shape and filter/listing options. Backends hold the durable
// copy of every memory entry; the vector index is derived state that can always
// be rebuilt from a Store.
package store

import (
	"context"
	"errors"
)

// MemoryType is the lifecycle class of a memory entry, decided at write time.
type MemoryType string

const (
	// ShortTerm entries use the short base retention window.
	ShortTerm MemoryType = "short_term"

	// LongTerm entries use the long base retention window.
	LongTerm MemoryType = "long_term"
)

// Category separates retrievable knowledge from operational telemetry.
type Category string

const (
	// CategoryStored marks user-facing, retrievable knowledge.
	CategoryStored Category = "stored"

	// CategoryLog marks orchestration/event log entries. Log entries use a
	// short default retention window regardless of memory type.
	CategoryLog Category = "log"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID indicates an Insert targeted an existing key.
	ErrDuplicateID = errors.New("duplicate record id")
)

// Record is the persisted unit of memory.
//
// A record is immutable after insert except for ExpireAt (reinforcement may
// extend it) and Indexed (flipped by the reconciler). "Updating" a memory
// means writing a new record.
type Record struct {
	// ID is the unique identifier, generated at write time.
	ID int64

	// Namespace is the logical isolation key (e.g. "conversations").
	Namespace string

	// Content is the textual payload.
	Content string

	// Embedding is the unit-normalized vector derived from Content.
	// Nil when embedding generation failed or was skipped; such records are
	// reachable via text and scan search only.
	Embedding []float64

	// MemoryType is the lifecycle class (short_term or long_term).
	MemoryType MemoryType

	// Category is stored or log.
	Category Category

	// ImportanceScore is the classifier-assigned importance. Values above 1
	// can occur via agent-level multipliers; readers clamp as needed.
	ImportanceScore float64

	// Metadata is the open string-keyed extension map supplied by the caller.
	Metadata map[string]string

	// CreatedAt is the write instant in milliseconds since epoch.
	CreatedAt int64

	// ExpireAt is the absolute expiration instant in milliseconds since
	// epoch. Nil means the record never expires.
	ExpireAt *int64

	// Indexed reports whether the vector index holds a node for this record.
	// False with a non-nil Embedding means the record needs reindexing.
	Indexed bool
}

// Expired reports whether the record is logically expired at nowMS.
func (r *Record) Expired(nowMS int64) bool {
	return r.ExpireAt != nil && *r.ExpireAt <= nowMS
}

// Filter restricts listing and search operations to matching records.
//
// Zero values mean "no restriction" for that field. Metadata equality is
// applied by the caller, not the backend, so both SQL backends stay
// equivalent; backends may ignore it.
type Filter struct {
	// Namespace restricts to a single namespace.
	Namespace string

	// Category restricts to stored or log entries.
	Category Category

	// MemoryType restricts to short_term or long_term entries.
	MemoryType MemoryType

	// MinImportance excludes records with a lower importance score.
	MinImportance float64

	// Metadata requires exact matches on extension-map keys.
	Metadata map[string]string
}

// ListOptions controls List operations.
type ListOptions struct {
	// Filter restricts the result set.
	Filter Filter

	// Now is the reference instant (ms) for expiry exclusion.
	Now int64

	// IncludeExpired disables expiry exclusion (used by cleanup and stats).
	IncludeExpired bool

	// EmbeddedOnly restricts to records with a non-null embedding
	// (used by index rebuild).
	EmbeddedOnly bool

	// Limit caps the number of returned records. Zero means backend default.
	Limit int

	// Offset skips records for pagination.
	Offset int
}

// TextSearchOptions controls lexical candidate retrieval.
//
// Backends return records whose content matches at least one term; relevance
// scoring happens in the search engine so all backends rank identically.
type TextSearchOptions struct {
	// Filter restricts the candidate set.
	Filter Filter

	// Terms are lowercased query tokens.
	Terms []string

	// Now is the reference instant (ms) for expiry exclusion.
	Now int64

	// Limit caps the number of candidates.
	Limit int
}

// Store defines the interface for record storage backends.
//
// Implementations must provide per-key atomic Insert (insert-if-absent) and
// Delete so that cleanup and concurrent writes on unrelated keys never block
// each other.
type Store interface {
	// Insert stores a new record. Returns ErrDuplicateID if the id exists.
	Insert(ctx context.Context, rec *Record) error

	// Get retrieves a record by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id int64) (*Record, error)

	// Delete removes a record by id. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id int64) error

	// List returns records matching opts, newest first.
	List(ctx context.Context, opts *ListOptions) ([]*Record, error)

	// SearchText returns lexical candidates matching opts, newest first.
	SearchText(ctx context.Context, opts *TextSearchOptions) ([]*Record, error)

	// ListExpired returns up to limit records with expire_at <= nowMS.
	ListExpired(ctx context.Context, nowMS int64, limit int) ([]*Record, error)

	// SetExpireAt replaces a record's expiration instant (reinforcement).
	SetExpireAt(ctx context.Context, id int64, expireAt *int64) error

	// MarkIndexed records whether the vector index holds this record.
	MarkIndexed(ctx context.Context, id int64, indexed bool) error

	// ListUnindexed returns up to limit embedded records with Indexed=false.
	ListUnindexed(ctx context.Context, limit int) ([]*Record, error)

	// CountActive returns the number of non-expired records at nowMS.
	CountActive(ctx context.Context, nowMS int64) (int64, error)

	// CountExpired returns the number of logically expired records at nowMS.
	CountExpired(ctx context.Context, nowMS int64) (int64, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}

// MatchMetadata reports whether rec satisfies the filter's metadata equality
// constraints. Backends delegate metadata filtering to callers via this helper.
func MatchMetadata(rec *Record, f *Filter) bool {
	if len(f.Metadata) == 0 {
		return true
	}
	for k, v := range f.Metadata {
		if rec.Metadata[k] != v {
			return false
		}
	}
	return true
}
