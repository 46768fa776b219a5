package terminology

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
)

// Demo catalog releases.
const (
	DemoNamasteVersion = "v2.1"
	DemoICDVersion     = "v2025"
	DemoMappingVersion = "v2.1"
)

// DemoCatalog returns the small NAMASTE and ICD-11 catalog used in
// development and tests.
func DemoCatalog() []CodeEntry {
	n := func(code, display string, syn ...string) CodeEntry {
		return CodeEntry{System: SystemNAMASTE, Code: code, Display: display, Synonyms: syn, Version: DemoNamasteVersion}
	}
	i := func(code, display string, syn ...string) CodeEntry {
		return CodeEntry{System: SystemICD11, Code: code, Display: display, Synonyms: syn, Version: DemoICDVersion}
	}
	return []CodeEntry{
		n("NMT123", "Jwara", "fever", "jvara", "pyrexia"),
		n("NMT456", "Kasa", "cough"),
		n("NMT789", "Prameha", "diabetes", "madhumeha"),
		n("NMT234", "Vata Dosha Imbalance", "Vata Vikriti", "Vata Roga", "Vata Disorder"),
		n("NMT567", "Agnimandya", "Mandagni", "Weak Digestive Fire", "Poor Metabolism"),
		n("NMT890", "Amavata", "Joint Vata", "Rheumatic Disease", "rheumatoid arthritis"),
		n("NMT345", "Kamala", "Pandu", "Yellow Disease", "jaundice"),
		n("NMT901", "Shwasa", "dyspnea"),

		i("1A00", "Typhoid fever"),
		i("1A01", "Viral fever"),
		i("1A02", "Malaria"),
		i("MG26", "Fever of other or unknown origin", "fever", "pyrexia"),
		i("MD12", "Cough"),
		i("CA40", "Pneumonia"),
		i("5A10", "Type 1 diabetes mellitus"),
		i("5A11", "Type 2 diabetes mellitus"),
		i("FA20", "Rheumatoid arthritis"),
		i("FA21", "Juvenile rheumatoid arthritis"),
		i("DB90", "Jaundice"),
		i("DB91", "Neonatal jaundice"),
		i("6A70", "Generalized anxiety disorder"),
		i("7A00", "Insomnia"),
		i("DD90", "Functional digestive disorders"),
		i("5C50", "Metabolic disorders"),
		i("MD11", "Dyspnoea", "dyspnea", "breathlessness"),
	}
}

// DemoMappingID is the id used for a seeded pair.
func DemoMappingID(namasteCode, icdCode string) string {
	return "map-" + strings.ToLower(namasteCode) + "-" + strings.ToLower(icdCode)
}

// DemoMappings returns the seeded mapping table: a few accepted pairs plus
// open, rejected and suggested candidates for the curation queue.
func DemoMappings(now time.Time) []MappingRecord {
	approved := time.Date(2024, 9, 15, 10, 0, 0, 0, time.UTC)
	rec := func(nmt, icd string, confidence int, status MappingStatus, explanation string) MappingRecord {
		r := MappingRecord{
			ID:           DemoMappingID(nmt, icd),
			NamasteCode:  nmt,
			ICDCode:      icd,
			TargetSystem: SystemICD11,
			Confidence:   confidence,
			Explanation:  explanation,
			Status:       status,
			Source:       SourceManual,
			Version:      DemoMappingVersion,
			RecordedAt:   now,
			RecordedBy:   "seed",
		}
		if status == StatusAccepted {
			r.ApprovedBy = "Dr. Sharma"
			r.ApprovedDate = &approved
		}
		return r
	}
	rejected := rec("NMT567", "DD90", 65, StatusRejected, "Agnimandya vs functional digestive disorders")
	rejected.Reason = "Not clinically matching - concept too abstract"

	return []MappingRecord{
		rec("NMT123", "1A00", 95, StatusAccepted, "Jwara (fever) curated to typhoid fever"),
		rec("NMT789", "5A11", 92, StatusAccepted, "Prameha (diabetes) curated to type 2 diabetes mellitus"),
		rec("NMT456", "MD12", 90, StatusAccepted, "Kasa (cough) curated to cough"),
		rec("NMT456", "CA40", 85, StatusPending, "Kasa with fever and chest findings"),
		rec("NMT890", "FA20", 89, StatusUnderReview, "High confidence but needs validation"),
		rec("NMT890", "FA21", 34, StatusSuggested, "Shares 'rheumatoid arthritis'"),
		rec("NMT345", "DB90", 78, StatusPending, "Good match but needs symptom specificity"),
		rec("NMT345", "DB91", 25, StatusSuggested, "Shares 'jaundice'"),
		rec("NMT234", "6A70", 45, StatusSuggested, "Vata imbalance presenting as anxiety"),
		rec("NMT234", "7A00", 38, StatusSuggested, "Vata imbalance presenting as insomnia"),
		rec("NMT234", "DD90", 42, StatusSuggested, "Vata imbalance presenting as digestive issues"),
		rec("NMT567", "5C50", 52, StatusSuggested, "Agnimandya as poor metabolism"),
		rejected,
	}
}

// Seed loads the demo data straight into store, without a cache or event
// publisher. Tests and fixtures use it.
func Seed(ctx context.Context, store Store) (bool, error) {
	return NewService(store, nil, nil, zerolog.Nop()).SeedDemo(ctx, "seed")
}

// SeedDemo publishes the demo catalog through Publish and writes the demo
// mapping table. It does nothing when the catalog already holds the demo
// codes.
func (s *Service) SeedDemo(ctx context.Context, actor string) (bool, error) {
	_, err := s.store.GetCode(ctx, SystemNAMASTE, "NMT123", DemoNamasteVersion)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return false, fmt.Errorf("check demo catalog: %w", err)
	}
	if err := s.Publish(ctx, DemoCatalog(), actor); err != nil {
		return false, fmt.Errorf("publish demo catalog: %w", err)
	}
	recs, err := s.store.PutMappings(ctx, DemoMappings(time.Now().UTC())...)
	if err != nil {
		return false, fmt.Errorf("seed demo mappings: %w", err)
	}
	s.log.Info().Int("mappings", len(recs)).Msg("demo mapping table seeded")
	return true, nil
}
