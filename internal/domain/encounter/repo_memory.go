package encounter

import (
	"context"
	"sort"
	"sync"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
)

// MemoryRepo is an in-process Repository.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]*Encounter
}

// NewMemoryRepo creates an empty encounter repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]*Encounter)}
}

func (r *MemoryRepo) Create(_ context.Context, enc *Encounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[enc.ID]; ok {
		return apperr.Conflict("encounter %s already exists", enc.ID)
	}
	cp := *enc
	r.byID[enc.ID] = &cp
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*Encounter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	enc, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("encounter", id)
	}
	cp := *enc
	return &cp, nil
}

func (r *MemoryRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Encounter, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Encounter
	for _, enc := range r.byID {
		if enc.PatientID == patientID {
			cp := *enc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EncounterDate != out[j].EncounterDate {
			return out[i].EncounterDate > out[j].EncounterDate
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	total := len(out)
	if offset > total {
		offset = total
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}
