package curation

import (
	"context"
	"strings"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
)

const (
	DefaultGapLimit = 50
	MaxGapLimit     = 500
)

// Gaps lists NAMASTE concepts without an accepted mapping in version, in
// code order, with the strongest open candidate for each.
func (s *Service) Gaps(ctx context.Context, version string, limit int) ([]Gap, error) {
	if version == "" {
		version = s.cfg.Version
	}
	if limit <= 0 {
		limit = DefaultGapLimit
	}
	if limit > MaxGapLimit {
		limit = MaxGapLimit
	}

	codes, err := s.store.ListCodes(ctx, terminology.SystemNAMASTE)
	if err != nil {
		return nil, err
	}
	recs, _, err := s.store.ListMappingsByStatus(ctx, "", terminology.MappingFilter{Version: version})
	if err != nil {
		return nil, err
	}

	mapped := make(map[string]bool)
	open := make(map[string][]terminology.MappingRecord)
	for _, r := range recs {
		key := strings.ToUpper(r.NamasteCode)
		switch {
		case r.Status == terminology.StatusAccepted:
			mapped[key] = true
		case r.Status.Open():
			open[key] = append(open[key], r)
		}
	}

	gaps := []Gap{}
	for _, e := range codes {
		key := strings.ToUpper(e.Code)
		if mapped[key] {
			continue
		}
		g := Gap{
			NamasteCode:    e.Code,
			Display:        e.Display,
			Synonyms:       e.Synonyms,
			OpenCandidates: len(open[key]),
		}
		// records arrive ordered by icd code, so the first strict maximum wins ties
		for _, r := range open[key] {
			if g.Best == nil || r.Confidence > g.Best.Confidence {
				g.Best = &GapCandidate{MappingID: r.ID, ICDCode: r.ICDCode, Confidence: r.Confidence, Status: r.Status}
			}
		}
		gaps = append(gaps, g)
		if len(gaps) == limit {
			break
		}
	}
	return gaps, nil
}
