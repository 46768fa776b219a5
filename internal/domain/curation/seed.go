package curation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
)

// DemoContributionID is the id of the seeded contribution.
const DemoContributionID = "contrib-nmt234-6a70"

// DemoContributions returns the pending contribution shown in the demo
// review queue.
func DemoContributions() []Contribution {
	return []Contribution{{
		ID:               DemoContributionID,
		NamasteCode:      "NMT234",
		SuggestedICDCode: "6A70",
		TargetSystem:     terminology.SystemICD11,
		ContributorID:    "Dr. Rajesh Sharma",
		ContributorOrg:   "All India Institute of Ayurveda",
		Notes:            "Anidra presents with anxiety-driven sleeplessness in most OPD cases",
		Status:           ContributionPending,
		SubmittedDate:    time.Date(2024, 9, 20, 9, 30, 0, 0, time.UTC),
	}}
}

// SeedContributions stores the demo contributions that are not there yet.
func SeedContributions(ctx context.Context, store ContributionStore) (int, error) {
	n := 0
	for _, c := range DemoContributions() {
		_, err := store.GetContribution(ctx, c.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return n, fmt.Errorf("check contribution %s: %w", c.ID, err)
		}
		if err := store.CreateContribution(ctx, &c); err != nil {
			return n, fmt.Errorf("seed contribution %s: %w", c.ID, err)
		}
		n++
	}
	return n, nil
}
