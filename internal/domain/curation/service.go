// Package curation runs the mapping review workflow: candidates move from
// suggested to a curator's accept or reject, rival accepts supersede each
// other, and practitioner contributions feed the same table.
package curation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/events"
)

// Scorer rates a NAMASTE to ICD-11 pair from 0 to 100.
type Scorer interface {
	Score(ctx context.Context, namasteCode, icdCode string) (int, error)
}

// Config tunes the curation service.
type Config struct {
	// Version is the mapping-table release new records are written to.
	Version string
	// MaxRetries bounds how often Accept re-reads and retries after losing
	// a write race.
	MaxRetries int
}

const DefaultMaxRetries = 3

// Service runs the mapping review workflow.
type Service struct {
	store         terminology.Store
	contributions ContributionStore
	scorer        Scorer
	events        events.Publisher
	log           zerolog.Logger
	cfg           Config
	now           func() time.Time
}

func NewService(store terminology.Store, contributions ContributionStore, scorer Scorer, pub events.Publisher, log zerolog.Logger, cfg Config) *Service {
	if pub == nil {
		pub = events.Discard{}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Service{
		store:         store,
		contributions: contributions,
		scorer:        scorer,
		events:        pub,
		log:           log,
		cfg:           cfg,
		now:           time.Now,
	}
}

// Version returns the mapping-table release the service writes to.
func (s *Service) Version() string { return s.cfg.Version }

// Get returns the current revision of a mapping.
func (s *Service) Get(ctx context.Context, id string) (*terminology.MappingRecord, error) {
	return s.store.GetMapping(ctx, id)
}

// History returns every revision of a mapping, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]terminology.MappingRecord, error) {
	return s.store.MappingHistory(ctx, id)
}

// List pages mappings by status.
func (s *Service) List(ctx context.Context, status terminology.MappingStatus, f terminology.MappingFilter) ([]terminology.MappingRecord, int, error) {
	return s.store.ListMappingsByStatus(ctx, status, f)
}

// Stats summarizes a table version, the configured one when version is
// empty.
func (s *Service) Stats(ctx context.Context, version string) (*terminology.MappingStats, error) {
	if version == "" {
		version = s.cfg.Version
	}
	return s.store.MappingStats(ctx, version)
}

// Propose stores a candidate as suggested. When the pair already has an
// open or accepted record in the version, that record is returned instead.
func (s *Service) Propose(ctx context.Context, candidate terminology.MappingRecord, actor string) (*terminology.MappingRecord, error) {
	if candidate.Version == "" {
		candidate.Version = s.cfg.Version
	}
	existing, err := s.findPair(ctx, candidate.NamasteCode, candidate.ICDCode, candidate.Version)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	candidate.ID = uuid.NewString()
	candidate.Revision = 0
	candidate.Status = terminology.StatusSuggested
	if candidate.Source == "" {
		candidate.Source = terminology.SourceMatcher
	}
	if candidate.TargetSystem == "" {
		candidate.TargetSystem = terminology.SystemICD11
	}
	candidate.RecordedAt = time.Time{}
	candidate.RecordedBy = actor
	rec, err := s.store.PutMapping(ctx, candidate)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("mapping_id", rec.ID).Str("namaste_code", rec.NamasteCode).
		Str("icd_code", rec.ICDCode).Int("confidence", rec.Confidence).Msg("mapping proposed")
	s.events.Publish(ctx, events.New(events.MappingProposed, actor, rec))
	return rec, nil
}

// findPair returns the open or accepted record for a pair, or nil.
func (s *Service) findPair(ctx context.Context, namasteCode, icdCode, version string) (*terminology.MappingRecord, error) {
	recs, _, err := s.store.ListMappingsByStatus(ctx, "", terminology.MappingFilter{
		NamasteCode: namasteCode,
		ICDCode:     icdCode,
		Version:     version,
	})
	if err != nil {
		return nil, err
	}
	var found *terminology.MappingRecord
	for i := range recs {
		r := recs[i]
		if r.Status == terminology.StatusAccepted {
			return &r, nil
		}
		if r.Status.Open() && found == nil {
			found = &r
		}
	}
	return found, nil
}

// Submit moves a suggested record into the review queue.
func (s *Service) Submit(ctx context.Context, id, actor string) (*terminology.MappingRecord, error) {
	rec, err := s.transition(ctx, id, terminology.StatusPending, actor, nil)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.New(events.MappingSubmitted, actor, rec))
	return rec, nil
}

// Escalate parks a pending record for a second opinion. The note is kept
// as the record's reason.
func (s *Service) Escalate(ctx context.Context, id, curatorID, note string) (*terminology.MappingRecord, error) {
	if strings.TrimSpace(curatorID) == "" {
		return nil, apperr.Validation("curatorId", "is required")
	}
	rec, err := s.transition(ctx, id, terminology.StatusUnderReview, curatorID, func(r *terminology.MappingRecord) {
		if note = strings.TrimSpace(note); note != "" {
			r.Reason = note
		}
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.New(events.MappingEscalated, curatorID, rec))
	return rec, nil
}

// Reject closes a pending or escalated record. A blank reason fails before
// anything is read or written.
func (s *Service) Reject(ctx context.Context, id, curatorID, reason string) (*terminology.MappingRecord, error) {
	ve := &apperr.ValidationError{}
	if strings.TrimSpace(curatorID) == "" {
		ve.Add("curatorId", "is required")
	}
	if strings.TrimSpace(reason) == "" {
		ve.Add("reason", "is required")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	rec, err := s.transition(ctx, id, terminology.StatusRejected, curatorID, func(r *terminology.MappingRecord) {
		r.Reason = strings.TrimSpace(reason)
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.New(events.MappingRejected, curatorID, rec))
	return rec, nil
}

// transition reads the latest revision, checks the move and writes the
// next revision, retrying when another writer got there first.
func (s *Service) transition(ctx context.Context, id string, to terminology.MappingStatus, actor string, mutate func(*terminology.MappingRecord)) (*terminology.MappingRecord, error) {
	var out *terminology.MappingRecord
	err := s.retry(ctx, id, func() error {
		cur, err := s.store.GetMapping(ctx, id)
		if err != nil {
			return err
		}
		if err := ValidateTransition(id, cur.Status, to); err != nil {
			return err
		}
		next := s.revise(*cur, to, actor)
		if mutate != nil {
			mutate(&next)
		}
		out, err = s.store.PutMapping(ctx, next)
		if err != nil {
			return err
		}
		s.logTransition(cur.Status, *out, actor)
		return nil
	})
	return out, err
}

// Accept approves a pending or escalated record. A record already accepted
// for the same concept and version is superseded in the same write, so the
// most recent accept wins.
func (s *Service) Accept(ctx context.Context, id, curatorID string) (*terminology.MappingRecord, error) {
	if strings.TrimSpace(curatorID) == "" {
		return nil, apperr.Validation("curatorId", "is required")
	}
	var accepted *terminology.MappingRecord
	var superseded []terminology.MappingRecord
	err := s.retry(ctx, id, func() error {
		cur, err := s.store.GetMapping(ctx, id)
		if err != nil {
			return err
		}
		if err := ValidateTransition(id, cur.Status, terminology.StatusAccepted); err != nil {
			return err
		}
		rivals, _, err := s.store.ListMappingsByStatus(ctx, terminology.StatusAccepted, terminology.MappingFilter{
			NamasteCode: cur.NamasteCode,
			Version:     cur.Version,
		})
		if err != nil {
			return err
		}

		next := s.revise(*cur, terminology.StatusAccepted, curatorID)
		approved := next.RecordedAt
		next.RecordedAt = time.Time{}
		next.ApprovedBy = curatorID
		next.ApprovedDate = &approved

		batch := make([]terminology.MappingRecord, 0, len(rivals)+1)
		for _, r := range rivals {
			if r.ID == id || r.TargetSystem != cur.TargetSystem {
				continue
			}
			old := s.revise(r, terminology.StatusSuperseded, curatorID)
			old.RecordedAt = time.Time{}
			old.SupersededBy = id
			batch = append(batch, old)
		}
		batch = append(batch, next)

		written, err := s.store.PutMappings(ctx, batch...)
		if err != nil {
			return err
		}
		accepted = &written[len(written)-1]
		superseded = written[:len(written)-1]
		s.logTransition(cur.Status, *accepted, curatorID)
		for _, r := range superseded {
			s.logTransition(terminology.StatusAccepted, r, curatorID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.New(events.MappingAccepted, curatorID, accepted))
	for i := range superseded {
		s.events.Publish(ctx, events.New(events.MappingSuperseded, curatorID, superseded[i]))
	}
	return accepted, nil
}

// revise prepares the next revision of cur. Revision stays at the value
// read so the store can compare-and-swap.
func (s *Service) revise(cur terminology.MappingRecord, to terminology.MappingStatus, actor string) terminology.MappingRecord {
	next := cur
	next.Status = to
	next.RecordedBy = actor
	next.RecordedAt = s.now().UTC()
	return next
}

func (s *Service) retry(ctx context.Context, id string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, apperr.ErrConflict) || attempt >= s.cfg.MaxRetries {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.log.Warn().Err(err).Str("mapping_id", id).Int("attempt", attempt+1).Msg("mapping write conflict, retrying")
	}
}

func (s *Service) logTransition(from terminology.MappingStatus, rec terminology.MappingRecord, actor string) {
	s.log.Info().
		Str("mapping_id", rec.ID).
		Int("revision", rec.Revision).
		Str("from", string(from)).
		Str("to", string(rec.Status)).
		Str("curator", actor).
		Msg("mapping transition")
}
