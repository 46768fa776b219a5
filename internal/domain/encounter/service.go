// Package encounter composes FHIR Encounter resources whose diagnoses carry
// NAMASTE and ICD-11 codings side by side.
package encounter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/events"
	"github.com/swasthyasetu/termbridge/internal/platform/validation"
)

// MaxCodes bounds the diagnoses on one encounter. It matches the max tag
// on ComposeRequest.Codes.
const MaxCodes = 50

// Service composes and stores encounters.
type Service struct {
	store   terminology.Store
	repo    Repository
	events  events.Publisher
	log     zerolog.Logger
	loc     *time.Location
	version string
	now     func() time.Time
}

// NewService creates the composer. loc decides what "today" is for the
// encounter date check; version is the mapping-table release used to pair
// codes.
func NewService(store terminology.Store, repo Repository, pub events.Publisher, log zerolog.Logger, loc *time.Location, version string) *Service {
	if pub == nil {
		pub = events.Discard{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, repo: repo, events: pub, log: log, loc: loc, version: version, now: time.Now}
}

// Compose validates req, resolves its codes and stores the resulting
// encounter. Every problem is reported in one ValidationError.
func (s *Service) Compose(ctx context.Context, req ComposeRequest, actor string) (*Encounter, error) {
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.EncounterDate = strings.TrimSpace(req.EncounterDate)

	ve := &apperr.ValidationError{}
	if err := validation.Struct(req); err != nil {
		var fe *apperr.ValidationError
		if !errors.As(err, &fe) {
			return nil, err
		}
		ve.Fields = append(ve.Fields, fe.Fields...)
	}
	s.checkNotFuture(req.EncounterDate, ve)

	concepts := make([]Concept, 0, len(req.Codes))
	for i, ref := range req.Codes {
		c, err := s.resolve(ctx, fmt.Sprintf("codes[%d]", i), ref, ve)
		if err != nil {
			return nil, err
		}
		if c != nil {
			concepts = append(concepts, *c)
		}
	}
	concepts = dedupe(concepts)
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	enc := &Encounter{
		ID:            uuid.NewString(),
		PatientID:     req.PatientID,
		ProviderID:    req.ProviderID,
		EncounterDate: req.EncounterDate,
		Codes:         concepts,
		Notes:         strings.TrimSpace(req.Notes),
		CreatedAt:     s.now().UTC().Truncate(time.Microsecond),
	}
	resource, err := json.Marshal(enc.ToFHIR())
	if err != nil {
		return nil, fmt.Errorf("encode encounter: %w", err)
	}
	enc.Resource = resource
	if err := s.repo.Create(ctx, enc); err != nil {
		return nil, err
	}

	s.log.Info().Str("encounter_id", enc.ID).Str("patient_id", enc.PatientID).
		Int("concepts", len(concepts)).Str("mode", string(enc.Mode())).Msg("encounter composed")
	s.events.Publish(ctx, events.New(events.EncounterComposed, actor, map[string]interface{}{
		"id":        enc.ID,
		"patientId": enc.PatientID,
		"mode":      enc.Mode(),
		"codes":     enc.Codes,
	}))
	return enc, nil
}

// checkNotFuture rejects dates after today in the encounter timezone.
// Syntax is left to the isodate tag.
func (s *Service) checkNotFuture(date string, ve *apperr.ValidationError) {
	d, err := time.ParseInLocation(dateLayout, date, s.loc)
	if err != nil {
		return
	}
	today := s.now().In(s.loc).Format(dateLayout)
	if d.Format(dateLayout) > today {
		ve.Add("encounterDate", "must not be after %s", today)
	}
}

// resolve turns one requested code into a concept. Problems with the code
// are added to ve under path; only store failures are returned.
func (s *Service) resolve(ctx context.Context, path string, ref CodeRef, ve *apperr.ValidationError) (*Concept, error) {
	mappingID := strings.TrimSpace(ref.MappingID)
	nmt := strings.TrimSpace(ref.NamasteCode)
	icd := terminology.NormalizeCode(terminology.SystemICD11, ref.ICDCode)

	switch {
	case ref.empty():
		ve.Add(path, "one of mappingId, namasteCode or icdCode is required")
		return nil, nil
	case mappingID != "":
		rec, err := s.store.GetMapping(ctx, mappingID)
		if errors.Is(err, apperr.ErrNotFound) {
			ve.Add(path+".mappingId", "unknown mapping %q", mappingID)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if rec.Status != terminology.StatusAccepted {
			ve.Add(path+".mappingId", "mapping is not accepted")
			return nil, nil
		}
		if (nmt != "" && !strings.EqualFold(nmt, rec.NamasteCode)) || (icd != "" && !strings.EqualFold(icd, rec.ICDCode)) {
			ve.Add(path, "codes do not match mapping %s", mappingID)
			return nil, nil
		}
		return s.dual(ctx, path, rec, ve)
	case nmt != "" && icd != "":
		rec, err := s.acceptedMapping(ctx, nmt, icd)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			ve.Add(path, "no accepted mapping from %s to %s", nmt, icd)
			return nil, nil
		}
		return s.dual(ctx, path, rec, ve)
	case nmt != "":
		entry, ok, err := s.code(ctx, terminology.SystemNAMASTE, nmt, path+".namasteCode", ve)
		if !ok || err != nil {
			return nil, err
		}
		rec, err := s.acceptedMapping(ctx, entry.Code, "")
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return s.dual(ctx, path, rec, ve)
		}
		coding := entry.Coding()
		return &Concept{Mode: SingleCoded, Namaste: &coding}, nil
	default:
		entry, ok, err := s.code(ctx, terminology.SystemICD11, icd, path+".icdCode", ve)
		if !ok || err != nil {
			return nil, err
		}
		coding := entry.Coding()
		return &Concept{Mode: SingleCoded, ICD: &coding}, nil
	}
}

func (s *Service) dual(ctx context.Context, path string, rec *terminology.MappingRecord, ve *apperr.ValidationError) (*Concept, error) {
	nmt, ok1, err := s.code(ctx, terminology.SystemNAMASTE, rec.NamasteCode, path+".namasteCode", ve)
	if err != nil {
		return nil, err
	}
	icd, ok2, err := s.code(ctx, terminology.SystemICD11, rec.ICDCode, path+".icdCode", ve)
	if err != nil || !ok1 || !ok2 {
		return nil, err
	}
	nc, ic := nmt.Coding(), icd.Coding()
	return &Concept{Mode: DualCoded, MappingID: rec.ID, Namaste: &nc, ICD: &ic}, nil
}

func (s *Service) code(ctx context.Context, system terminology.System, code, field string, ve *apperr.ValidationError) (*terminology.CodeEntry, bool, error) {
	entry, err := s.store.GetCode(ctx, system, code, "")
	if errors.Is(err, apperr.ErrNotFound) {
		ve.Add(field, "unknown %s code %q", system, code)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// acceptedMapping returns the accepted mapping of a NAMASTE code in the
// configured version, optionally for one ICD-11 code, or nil.
func (s *Service) acceptedMapping(ctx context.Context, nmt, icd string) (*terminology.MappingRecord, error) {
	recs, _, err := s.store.ListMappingsByStatus(ctx, terminology.StatusAccepted, terminology.MappingFilter{
		NamasteCode: nmt,
		ICDCode:     icd,
		Version:     s.version,
		Limit:       1,
	})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// Get returns a stored encounter.
func (s *Service) Get(ctx context.Context, id string) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByPatient pages a patient's encounters, latest date first.
func (s *Service) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Encounter, int, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, 0, apperr.Validation("patientId", "is required")
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
