package encounter

import (
	"context"
)

type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id string) (*Encounter, error)
	// ListByPatient returns the patient's encounters, latest date first.
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Encounter, int, error)
}
