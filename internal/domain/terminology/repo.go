package terminology

import (
	"context"
)

// Store holds the code catalogs and the mapping table. Writes append;
// nothing is updated in place.
type Store interface {
	// GetCode returns the latest version of a code, or the named version.
	GetCode(ctx context.Context, system System, code, version string) (*CodeEntry, error)
	// SearchCodes ranks the latest entries: exact code, then display prefix,
	// then display or synonym substring; ties by code.
	SearchCodes(ctx context.Context, system System, query string, limit int) ([]CodeEntry, error)
	// PublishCodes appends a batch of entries atomically.
	PublishCodes(ctx context.Context, entries []CodeEntry) error
	// ListCodes returns the latest version of every code, ordered by code.
	ListCodes(ctx context.Context, system System) ([]CodeEntry, error)
	// MatchTerms looks up normalized terms against latest displays and
	// synonyms. Each term maps to at most one hit per code.
	MatchTerms(ctx context.Context, system System, terms []string) (map[string][]TermHit, error)

	GetMapping(ctx context.Context, id string) (*MappingRecord, error)
	// MappingHistory returns every revision, oldest first.
	MappingHistory(ctx context.Context, id string) ([]MappingRecord, error)
	// MappingsForConcept returns the latest revision of every record for a
	// NAMASTE code across versions.
	MappingsForConcept(ctx context.Context, namasteCode string) ([]MappingRecord, error)
	// PutMapping writes one record; see PutMappings.
	PutMapping(ctx context.Context, rec MappingRecord) (*MappingRecord, error)
	// PutMappings writes records atomically. Each record's Revision is the
	// revision the caller read (0 for a new record); the stored revision is
	// Revision+1. A stale revision or a second accepted record for the same
	// (namasteCode, targetSystem, version) fails the batch with ErrConflict.
	PutMappings(ctx context.Context, recs ...MappingRecord) ([]MappingRecord, error)
	// ListMappingsByStatus pages latest revisions ordered by namasteCode,
	// icdCode, id. An empty status matches all. The int is the total before
	// paging.
	ListMappingsByStatus(ctx context.Context, status MappingStatus, f MappingFilter) ([]MappingRecord, int, error)
	MappingStats(ctx context.Context, version string) (*MappingStats, error)
}

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

func searchLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}
