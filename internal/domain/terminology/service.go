package terminology

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/cache"
	"github.com/swasthyasetu/termbridge/internal/platform/events"
	"github.com/swasthyasetu/termbridge/internal/platform/fhir"
	"github.com/swasthyasetu/termbridge/internal/platform/textnorm"
)

// Service fronts the Store for catalog reads and writes and the FHIR
// terminology operations.
type Service struct {
	store  Store
	cache  cache.SearchCache
	events events.Publisher
	log    zerolog.Logger
}

// NewService creates a terminology service. A nil cache or publisher is
// replaced by a no-op.
func NewService(store Store, c cache.SearchCache, pub events.Publisher, log zerolog.Logger) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	if pub == nil {
		pub = events.Discard{}
	}
	return &Service{store: store, cache: c, events: pub, log: log}
}

func searchKey(system System, query string, limit int) string {
	return fmt.Sprintf("search|%s|%d|%s", system, limit, textnorm.Fold(strings.TrimSpace(query)))
}

// Search ranks catalog entries, serving repeats from the search cache.
// Cache failures fall through to the store.
func (s *Service) Search(ctx context.Context, system System, query string, limit int) ([]CodeEntry, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation("q", "search query must not be blank")
	}
	limit = searchLimit(limit)
	key := searchKey(system, query, limit)

	var cached []CodeEntry
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("search cache read failed")
	}
	if hit {
		return cached, nil
	}

	results, err := s.store.SearchCodes(ctx, system, query, limit)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []CodeEntry{}
	}
	if err := s.cache.Set(ctx, key, results); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("search cache write failed")
	}
	return results, nil
}

// GetCode returns one catalog entry.
func (s *Service) GetCode(ctx context.Context, system System, code, version string) (*CodeEntry, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperr.Validation("code", "is required")
	}
	return s.store.GetCode(ctx, system, NormalizeCode(system, code), version)
}

// Publish appends a catalog batch, drops cached searches and announces the
// release.
func (s *Service) Publish(ctx context.Context, entries []CodeEntry, actor string) error {
	if err := s.store.PublishCodes(ctx, entries); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("search cache invalidation failed")
	}

	counts := make(map[System]int)
	versions := make(map[string]struct{})
	for _, e := range entries {
		counts[e.System]++
		versions[strings.TrimSpace(e.Version)] = struct{}{}
	}
	vs := make([]string, 0, len(versions))
	for v := range versions {
		vs = append(vs, v)
	}
	s.log.Info().Int("entries", len(entries)).Strs("versions", vs).Msg("catalog published")
	s.events.Publish(ctx, events.New(events.CatalogPublished, actor, map[string]interface{}{
		"counts":   counts,
		"versions": vs,
	}))
	return nil
}

// LookupRequest is the input of CodeSystem/$lookup.
type LookupRequest struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Version string `json:"version,omitempty"`
}

// Lookup implements CodeSystem/$lookup.
func (s *Service) Lookup(ctx context.Context, req LookupRequest) (*fhir.Parameters, error) {
	ve := &apperr.ValidationError{}
	if strings.TrimSpace(req.System) == "" {
		ve.Add("system", "is required")
	}
	if strings.TrimSpace(req.Code) == "" {
		ve.Add("code", "is required")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	system, err := ParseSystem(req.System)
	if err != nil {
		return nil, err
	}
	e, err := s.store.GetCode(ctx, system, NormalizeCode(system, req.Code), req.Version)
	if err != nil {
		return nil, err
	}

	out := fhir.NewParameters().
		Add(fhir.StringParam("name", string(e.System))).
		Add(fhir.StringParam("version", e.Version)).
		Add(fhir.StringParam("display", e.Display)).
		Add(fhir.CodeParam("code", e.Code)).
		Add(fhir.Parameter{Name: "system", ValueURI: e.System.URI()})
	for _, syn := range e.Synonyms {
		out.Add(fhir.Parameter{
			Name: "designation",
			Part: []fhir.Parameter{
				fhir.CodingParam("use", fhir.Coding{Code: "synonym"}),
				fhir.StringParam("value", syn),
			},
		})
	}
	return out, nil
}

// TranslateRequest is the input of ConceptMap/$translate.
type TranslateRequest struct {
	System       string
	Code         string
	TargetSystem string
	Version      string
}

// equivalence grades an accepted mapping for $translate.
func equivalence(confidence int) string {
	if confidence >= 90 {
		return "equivalent"
	}
	return "inexact"
}

// Translate implements ConceptMap/$translate over accepted mappings, in
// either direction.
func (s *Service) Translate(ctx context.Context, req TranslateRequest) (*fhir.Parameters, error) {
	ve := &apperr.ValidationError{}
	if strings.TrimSpace(req.System) == "" {
		ve.Add("system", "is required")
	}
	if strings.TrimSpace(req.Code) == "" {
		ve.Add("code", "is required")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	source, err := ParseSystem(req.System)
	if err != nil {
		return nil, err
	}
	target := SystemICD11
	if source == SystemICD11 {
		target = SystemNAMASTE
	}
	if req.TargetSystem != "" {
		t, err := ParseSystem(req.TargetSystem)
		if err != nil {
			return nil, apperr.Validation("targetsystem", "unknown code system %q", req.TargetSystem)
		}
		if t == source {
			return nil, apperr.Validation("targetsystem", "must differ from system")
		}
	}

	var accepted []MappingRecord
	if source == SystemNAMASTE {
		recs, err := s.store.MappingsForConcept(ctx, req.Code)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.Status == StatusAccepted && (req.Version == "" || r.Version == req.Version) {
				accepted = append(accepted, r)
			}
		}
	} else {
		recs, _, err := s.store.ListMappingsByStatus(ctx, StatusAccepted, MappingFilter{
			ICDCode: NormalizeCode(SystemICD11, req.Code),
			Version: req.Version,
		})
		if err != nil {
			return nil, err
		}
		accepted = recs
	}

	out := fhir.NewParameters()
	if len(accepted) == 0 {
		out.Add(fhir.BoolParam("result", false)).
			Add(fhir.StringParam("message", fmt.Sprintf("No accepted mapping for %s code '%s'", source, req.Code)))
		return out, nil
	}
	out.Add(fhir.BoolParam("result", true)).
		Add(fhir.StringParam("message", "Mapping found"))
	for _, r := range accepted {
		code := r.ICDCode
		if target == SystemNAMASTE {
			code = r.NamasteCode
		}
		coding := fhir.Coding{System: target.URI(), Code: code}
		if e, err := s.store.GetCode(ctx, target, code, ""); err == nil {
			coding = e.Coding()
		}
		out.Add(fhir.Parameter{
			Name: "match",
			Part: []fhir.Parameter{
				fhir.CodeParam("equivalence", equivalence(r.Confidence)),
				fhir.CodingParam("concept", coding),
				fhir.StringParam("source", r.ID),
			},
		})
	}
	return out, nil
}
