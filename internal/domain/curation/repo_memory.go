package curation

import (
	"context"
	"sort"
	"sync"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
)

// MemoryContributions is an in-process ContributionStore.
type MemoryContributions struct {
	mu    sync.RWMutex
	byID  map[string]Contribution
	order []string
}

// NewMemoryContributions creates an empty contribution store.
func NewMemoryContributions() *MemoryContributions {
	return &MemoryContributions{byID: make(map[string]Contribution)}
}

func (m *MemoryContributions) CreateContribution(_ context.Context, c *Contribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; ok {
		return apperr.Conflict("contribution %s already exists", c.ID)
	}
	m.byID[c.ID] = *c
	m.order = append(m.order, c.ID)
	return nil
}

func (m *MemoryContributions) GetContribution(_ context.Context, id string) (*Contribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("contribution", id)
	}
	return &c, nil
}

func (m *MemoryContributions) ListContributions(_ context.Context, status ContributionStatus, limit, offset int) ([]Contribution, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []Contribution
	for _, id := range m.order {
		c := m.byID[id]
		if status != "" && c.Status != status {
			continue
		}
		all = append(all, c)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].SubmittedDate.Equal(all[j].SubmittedDate) {
			return all[i].SubmittedDate.Before(all[j].SubmittedDate)
		}
		return all[i].ID < all[j].ID
	})
	total := len(all)
	if offset > total {
		offset = total
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return append([]Contribution{}, all...), total, nil
}

func (m *MemoryContributions) CompleteReview(_ context.Context, c *Contribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[c.ID]
	if !ok {
		return apperr.NotFound("contribution", c.ID)
	}
	if cur.Status != ContributionPending {
		return apperr.Conflict("contribution %s was already reviewed", c.ID)
	}
	m.byID[c.ID] = *c
	return nil
}
