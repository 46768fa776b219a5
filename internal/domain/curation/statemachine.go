package curation

import (
	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
)

// transitions lists the statuses reachable from each status. superseded
// is only ever entered as a side effect of accepting a rival.
var transitions = map[terminology.MappingStatus][]terminology.MappingStatus{
	terminology.StatusSuggested:   {terminology.StatusPending},
	terminology.StatusPending:     {terminology.StatusAccepted, terminology.StatusRejected, terminology.StatusUnderReview},
	terminology.StatusUnderReview: {terminology.StatusAccepted, terminology.StatusRejected},
	terminology.StatusAccepted:    {terminology.StatusSuperseded},
	terminology.StatusRejected:    {},
	terminology.StatusSuperseded:  {},
}

// ValidateTransition returns a StateTransitionError unless from may move to
// to.
func ValidateTransition(id string, from, to terminology.MappingStatus) error {
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return &apperr.StateTransitionError{ID: id, From: string(from), To: string(to)}
}
