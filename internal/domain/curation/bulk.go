package curation

import (
	"context"
	"fmt"
	"strings"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
)

// MaxBulk caps the ids accepted by one bulk request.
const MaxBulk = 500

func validateBulk(ids []string, ve *apperr.ValidationError) {
	if len(ids) == 0 {
		ve.Add("ids", "must not be empty")
	}
	if len(ids) > MaxBulk {
		ve.Add("ids", "must contain at most %d ids", MaxBulk)
	}
}

// AcceptMany accepts each id independently. Results line up with ids. Once
// ctx is done the remaining ids are reported as not processed; ids already
// accepted stay accepted.
func (s *Service) AcceptMany(ctx context.Context, ids []string, curatorID string) ([]Result, error) {
	ve := &apperr.ValidationError{}
	validateBulk(ids, ve)
	if strings.TrimSpace(curatorID) == "" {
		ve.Add("curatorId", "is required")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	return s.each(ctx, ids, func(id string) (*terminology.MappingRecord, error) {
		return s.Accept(ctx, id, curatorID)
	}), nil
}

// RejectMany rejects each id with the same reason. A blank reason fails the
// whole request before any id is touched.
func (s *Service) RejectMany(ctx context.Context, ids []string, curatorID, reason string) ([]Result, error) {
	ve := &apperr.ValidationError{}
	validateBulk(ids, ve)
	if strings.TrimSpace(curatorID) == "" {
		ve.Add("curatorId", "is required")
	}
	if strings.TrimSpace(reason) == "" {
		ve.Add("reason", "is required")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	return s.each(ctx, ids, func(id string) (*terminology.MappingRecord, error) {
		return s.Reject(ctx, id, curatorID, reason)
	}), nil
}

func (s *Service) each(ctx context.Context, ids []string, fn func(id string) (*terminology.MappingRecord, error)) []Result {
	results := make([]Result, len(ids))
	ok := 0
	for i, id := range ids {
		results[i].ID = id
		if err := ctx.Err(); err != nil {
			results[i].Err = fmt.Errorf("not processed: %w", err)
			continue
		}
		rec, err := fn(id)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Record = rec
		ok++
	}
	s.log.Info().Int("requested", len(ids)).Int("succeeded", ok).Msg("bulk transition finished")
	return results
}
