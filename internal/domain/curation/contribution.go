package curation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/events"
	"github.com/swasthyasetu/termbridge/internal/platform/validation"
)

// SubmitContribution records a practitioner's proposed mapping as pending.
// Every field problem is reported at once; the ICD-11 code is checked for
// syntax only and for existence at review.
func (s *Service) SubmitContribution(ctx context.Context, c Contribution) (*Contribution, error) {
	if c.TargetSystem == "" {
		c.TargetSystem = terminology.SystemICD11
	}
	c.NamasteCode = strings.TrimSpace(c.NamasteCode)
	c.ContributorID = strings.TrimSpace(c.ContributorID)

	ve := &apperr.ValidationError{}
	if err := validation.Struct(c); err != nil {
		var fe *apperr.ValidationError
		if !errors.As(err, &fe) {
			return nil, err
		}
		ve.Fields = append(ve.Fields, fe.Fields...)
	}
	if c.TargetSystem != terminology.SystemICD11 {
		ve.Add("targetSystem", "must be %s", terminology.SystemICD11)
	}
	if validation.IsNAMASTECode(c.NamasteCode) {
		entry, err := s.store.GetCode(ctx, terminology.SystemNAMASTE, c.NamasteCode, "")
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			ve.Add("namasteCode", "unknown NAMASTE code %q", c.NamasteCode)
		case err != nil:
			return nil, err
		default:
			c.NamasteCode = entry.Code
		}
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	c.ID = uuid.NewString()
	c.SuggestedICDCode = validation.NormalizeICD11(c.SuggestedICDCode)
	c.Notes = strings.TrimSpace(c.Notes)
	c.Status = ContributionPending
	c.SubmittedDate = s.now().UTC()
	c.ReviewedBy, c.ReviewedAt, c.ReviewReason, c.MappingID = "", nil, "", ""
	if err := s.contributions.CreateContribution(ctx, &c); err != nil {
		return nil, err
	}
	s.log.Info().Str("contribution_id", c.ID).Str("namaste_code", c.NamasteCode).
		Str("icd_code", c.SuggestedICDCode).Str("contributor", c.ContributorID).Msg("contribution submitted")
	s.events.Publish(ctx, events.New(events.ContributionSubmitted, c.ContributorID, c))
	return &c, nil
}

// GetContribution returns one contribution.
func (s *Service) GetContribution(ctx context.Context, id string) (*Contribution, error) {
	return s.contributions.GetContribution(ctx, id)
}

// ListContributions pages contributions, oldest first.
func (s *Service) ListContributions(ctx context.Context, status ContributionStatus, limit, offset int) ([]Contribution, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, apperr.Validation("status", "unknown contribution status %q", status)
	}
	if offset < 0 {
		return nil, 0, apperr.Validation("offset", "must not be negative")
	}
	return s.contributions.ListContributions(ctx, status, limit, offset)
}

// ReviewContribution settles a pending contribution. Accepting it accepts
// the pair's mapping record, creating one when the pair has none open.
func (s *Service) ReviewContribution(ctx context.Context, id string, d Decision) (*Contribution, error) {
	d.Decision = strings.ToLower(strings.TrimSpace(d.Decision))
	d.CuratorID = strings.TrimSpace(d.CuratorID)
	d.Reason = strings.TrimSpace(d.Reason)
	if err := validation.Struct(d); err != nil {
		return nil, err
	}
	if d.Decision == DecisionReject && d.Reason == "" {
		return nil, apperr.Validation("reason", "is required when rejecting")
	}

	c, err := s.contributions.GetContribution(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != ContributionPending {
		return nil, apperr.Conflict("contribution %s is already %s", id, c.Status)
	}

	if d.Decision == DecisionAccept {
		rec, err := s.acceptContribution(ctx, c, d.CuratorID)
		if err != nil {
			return nil, err
		}
		c.Status = ContributionAccepted
		c.MappingID = rec.ID
	} else {
		c.Status = ContributionRejected
	}
	reviewed := s.now().UTC()
	c.ReviewedBy = d.CuratorID
	c.ReviewedAt = &reviewed
	c.ReviewReason = d.Reason
	if err := s.contributions.CompleteReview(ctx, c); err != nil {
		return nil, err
	}

	s.log.Info().Str("contribution_id", c.ID).Str("decision", d.Decision).
		Str("curator", d.CuratorID).Str("mapping_id", c.MappingID).Msg("contribution reviewed")
	s.events.Publish(ctx, events.New(events.ContributionReviewed, d.CuratorID, c))
	return c, nil
}

func (s *Service) acceptContribution(ctx context.Context, c *Contribution, curatorID string) (*terminology.MappingRecord, error) {
	target, err := s.store.GetCode(ctx, terminology.SystemICD11, c.SuggestedICDCode, "")
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Validation("suggestedIcdCode", "unknown ICD-11 code %q", c.SuggestedICDCode)
	}
	if err != nil {
		return nil, err
	}

	rec, err := s.findPair(ctx, c.NamasteCode, target.Code, s.cfg.Version)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Status == terminology.StatusAccepted {
		return rec, nil
	}
	if rec == nil {
		confidence := 0
		if s.scorer != nil {
			confidence, err = s.scorer.Score(ctx, c.NamasteCode, target.Code)
			if err != nil {
				return nil, fmt.Errorf("score contribution: %w", err)
			}
		}
		rec, err = s.store.PutMapping(ctx, terminology.MappingRecord{
			ID:           uuid.NewString(),
			NamasteCode:  c.NamasteCode,
			ICDCode:      target.Code,
			TargetSystem: terminology.SystemICD11,
			Confidence:   confidence,
			Explanation:  contributionExplanation(c),
			Status:       terminology.StatusPending,
			Source:       terminology.SourceContribution,
			Version:      s.cfg.Version,
			RecordedBy:   c.ContributorID,
		})
		if err != nil {
			return nil, err
		}
		s.events.Publish(ctx, events.New(events.MappingProposed, c.ContributorID, rec))
	}
	if rec.Status == terminology.StatusSuggested {
		if rec, err = s.Submit(ctx, rec.ID, curatorID); err != nil {
			return nil, err
		}
	}
	return s.Accept(ctx, rec.ID, curatorID)
}

func contributionExplanation(c *Contribution) string {
	var b strings.Builder
	b.WriteString("contributed by ")
	b.WriteString(c.ContributorID)
	if c.ContributorOrg != "" {
		b.WriteString(" (" + c.ContributorOrg + ")")
	}
	if c.Notes != "" {
		b.WriteString(": " + c.Notes)
	}
	return b.String()
}
