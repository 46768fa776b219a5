package curation

import (
	"time"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
)

// ContributionStatus is the review state of a Contribution.
type ContributionStatus string

const (
	ContributionPending  ContributionStatus = "pending"
	ContributionAccepted ContributionStatus = "accepted"
	ContributionRejected ContributionStatus = "rejected"
)

// Valid reports whether s is a known contribution status.
func (s ContributionStatus) Valid() bool {
	return s == ContributionPending || s == ContributionAccepted || s == ContributionRejected
}

// Contribution is a mapping proposed by a practitioner outside the
// curation team.
type Contribution struct {
	ID               string             `json:"id"`
	NamasteCode      string             `json:"namasteCode" validate:"required,namaste"`
	SuggestedICDCode string             `json:"suggestedIcdCode" validate:"required,icd11"`
	TargetSystem     terminology.System `json:"targetSystem"`
	ContributorID    string             `json:"contributorId" validate:"required"`
	ContributorOrg   string             `json:"contributorOrg,omitempty"`
	Notes            string             `json:"notes" validate:"max=2000"`
	Status           ContributionStatus `json:"status"`
	SubmittedDate    time.Time          `json:"submittedDate"`
	ReviewedBy       string             `json:"reviewedBy,omitempty"`
	ReviewedAt       *time.Time         `json:"reviewedAt,omitempty"`
	ReviewReason     string             `json:"reviewReason,omitempty"`
	MappingID        string             `json:"mappingId,omitempty"`
}

// Review decisions.
const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
)

// Decision is a curator's verdict on a Contribution.
type Decision struct {
	Decision  string `json:"decision" validate:"required,oneof=accept reject"`
	CuratorID string `json:"curatorId" validate:"required"`
	Reason    string `json:"reason"`
}

// Result reports one id of a bulk transition.
type Result struct {
	ID     string                     `json:"id"`
	Record *terminology.MappingRecord `json:"record,omitempty"`
	Err    error                      `json:"-"`
}

// OK reports whether the transition succeeded.
func (r Result) OK() bool { return r.Err == nil }

// resultJSON is the wire form of Result.
type resultJSON struct {
	ID     string                     `json:"id"`
	Status string                     `json:"status"`
	Record *terminology.MappingRecord `json:"record,omitempty"`
	Error  *resultError               `json:"error,omitempty"`
}

type resultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r Result) wire() resultJSON {
	out := resultJSON{ID: r.ID, Status: "ok", Record: r.Record}
	if r.Err != nil {
		out.Status = "error"
		out.Error = &resultError{Code: apperr.Code(r.Err), Message: r.Err.Error()}
	}
	return out
}

// GapCandidate is the best open mapping for a concept without an accepted
// mapping.
type GapCandidate struct {
	MappingID  string                    `json:"mappingId"`
	ICDCode    string                    `json:"icdCode"`
	Confidence int                       `json:"confidence"`
	Status     terminology.MappingStatus `json:"status"`
}

// Gap is a NAMASTE concept with no accepted mapping in a table version.
type Gap struct {
	NamasteCode    string        `json:"namasteCode"`
	Display        string        `json:"display"`
	Synonyms       []string      `json:"synonyms"`
	OpenCandidates int           `json:"openCandidates"`
	Best           *GapCandidate `json:"bestCandidate,omitempty"`
}
