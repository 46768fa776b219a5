package curation

import (
	"context"
)

// ContributionStore persists contributions. Review is the only update and
// succeeds only while the stored contribution is still pending.
type ContributionStore interface {
	CreateContribution(ctx context.Context, c *Contribution) error
	GetContribution(ctx context.Context, id string) (*Contribution, error)
	// ListContributions returns contributions oldest first. An empty status
	// matches all.
	ListContributions(ctx context.Context, status ContributionStatus, limit, offset int) ([]Contribution, int, error)
	// CompleteReview stores the review fields of c. It fails with
	// ErrConflict when the stored contribution is no longer pending.
	CompleteReview(ctx context.Context, c *Contribution) error
}
