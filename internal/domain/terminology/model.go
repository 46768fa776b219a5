package terminology

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/fhir"
)

// System identifies a code system.
type System string

const (
	SystemNAMASTE System = "NAMASTE"
	SystemICD11   System = "ICD11"
)

// ParseSystem accepts the short names (any case, "ICD-11" included) and the
// canonical URIs.
func ParseSystem(s string) (System, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NAMASTE", strings.ToUpper(fhir.SystemNAMASTE):
		return SystemNAMASTE, nil
	case "ICD11", "ICD-11", strings.ToUpper(fhir.SystemICD11):
		return SystemICD11, nil
	}
	return "", apperr.Validation("system", "unknown code system %q", s)
}

// URI returns the canonical FHIR system URI.
func (s System) URI() string {
	return fhir.SystemURI(string(s))
}

// CodeEntry is one published version of a code. Entries are immutable.
type CodeEntry struct {
	System      System    `json:"system"`
	Code        string    `json:"code"`
	Display     string    `json:"display"`
	Synonyms    []string  `json:"synonyms"`
	Version     string    `json:"version"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Coding renders the entry as a FHIR Coding.
func (e CodeEntry) Coding() fhir.Coding {
	return fhir.Coding{
		System:  e.System.URI(),
		Version: e.Version,
		Code:    e.Code,
		Display: e.Display,
	}
}

// normalizeSynonyms trims, drops blanks and case-insensitive duplicates and
// sorts, so that two entries with the same synonym set compare equal.
func normalizeSynonyms(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k := strings.ToLower(s)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

// prepareEntries validates a publish batch and fills defaults. Field paths
// are reported as entries[i].field.
func prepareEntries(entries []CodeEntry, now time.Time) ([]CodeEntry, error) {
	ve := &apperr.ValidationError{}
	if len(entries) == 0 {
		ve.Add("entries", "must not be empty")
	}
	out := make([]CodeEntry, len(entries))
	for i, e := range entries {
		path := fmt.Sprintf("entries[%d]", i)
		if e.System != SystemNAMASTE && e.System != SystemICD11 {
			ve.Add(path+".system", "unknown code system %q", e.System)
		}
		e.Code = NormalizeCode(e.System, e.Code)
		if e.Code == "" {
			ve.Add(path+".code", "is required")
		}
		e.Display = strings.TrimSpace(e.Display)
		if e.Display == "" {
			ve.Add(path+".display", "is required")
		}
		e.Version = strings.TrimSpace(e.Version)
		if e.Version == "" {
			ve.Add(path+".version", "is required")
		}
		e.Synonyms = normalizeSynonyms(e.Synonyms)
		if e.PublishedAt.IsZero() {
			e.PublishedAt = now
		}
		out[i] = e
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(out))
	for _, e := range out {
		k := entryKey(e.System, e.Code, e.Version)
		if _, dup := seen[k]; dup {
			return nil, apperr.Conflict("%s %s version %s appears twice in the batch", e.System, e.Code, e.Version)
		}
		seen[k] = struct{}{}
	}
	return out, nil
}

// NormalizeCode trims code and drops the "ICD11:" prefix used in the
// NAMASTE portal exports.
func NormalizeCode(system System, code string) string {
	code = strings.TrimSpace(code)
	if system == SystemICD11 && len(code) >= 6 && strings.EqualFold(code[:6], "ICD11:") {
		code = strings.TrimSpace(code[6:])
	}
	return code
}

func entryKey(system System, code, version string) string {
	return string(system) + "|" + strings.ToUpper(code) + "|" + version
}

// MappingStatus is the curation state of a MappingRecord revision.
type MappingStatus string

const (
	StatusSuggested   MappingStatus = "suggested"
	StatusPending     MappingStatus = "pending"
	StatusUnderReview MappingStatus = "under_review"
	StatusAccepted    MappingStatus = "accepted"
	StatusRejected    MappingStatus = "rejected"
	StatusSuperseded  MappingStatus = "superseded"
)

var allStatuses = []MappingStatus{
	StatusSuggested, StatusPending, StatusUnderReview,
	StatusAccepted, StatusRejected, StatusSuperseded,
}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []MappingStatus {
	return append([]MappingStatus(nil), allStatuses...)
}

// ParseStatus parses a mapping status, ignoring case.
func ParseStatus(s string) (MappingStatus, error) {
	st := MappingStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", apperr.Validation("status", "unknown status %q", s)
	}
	return st, nil
}

// Valid reports whether s is a known mapping status.
func (s MappingStatus) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Open reports whether the record still awaits a curation decision.
func (s MappingStatus) Open() bool {
	return s == StatusSuggested || s == StatusPending || s == StatusUnderReview
}

// Terminal reports whether no further transition is allowed.
func (s MappingStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusSuperseded
}

// MappingSource records where a mapping came from.
type MappingSource string

const (
	SourceMatcher      MappingSource = "matcher"
	SourceContribution MappingSource = "contribution"
	SourceManual       MappingSource = "manual"
)

// Valid reports whether s is a known mapping source.
func (s MappingSource) Valid() bool {
	return s == SourceMatcher || s == SourceContribution || s == SourceManual
}

// MappingRecord is one revision of a NAMASTE to ICD-11 mapping. ID is stable
// across revisions; every write appends Revision+1.
type MappingRecord struct {
	ID           string        `json:"id"`
	Revision     int           `json:"revision"`
	NamasteCode  string        `json:"namasteCode"`
	ICDCode      string        `json:"icdCode"`
	TargetSystem System        `json:"targetSystem"`
	Confidence   int           `json:"confidence"`
	Explanation  string        `json:"explanation"`
	Status       MappingStatus `json:"status"`
	Source       MappingSource `json:"source"`
	ApprovedBy   string        `json:"approvedBy,omitempty"`
	ApprovedDate *time.Time    `json:"approvedDate,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	SupersededBy string        `json:"supersededBy,omitempty"`
	Version      string        `json:"version"`
	RecordedAt   time.Time     `json:"recordedAt"`
	RecordedBy   string        `json:"recordedBy,omitempty"`
}

// pairKey identifies the accepted-uniqueness scope.
func (r MappingRecord) pairKey() string {
	return strings.ToUpper(r.NamasteCode) + "|" + string(r.TargetSystem) + "|" + r.Version
}

func validateRecord(i int, r *MappingRecord) error {
	path := "records"
	if i >= 0 {
		path = fmt.Sprintf("records[%d]", i)
	}
	ve := &apperr.ValidationError{}
	if strings.TrimSpace(r.ID) == "" {
		ve.Add(path+".id", "is required")
	}
	if r.Revision < 0 {
		ve.Add(path+".revision", "must not be negative")
	}
	if strings.TrimSpace(r.NamasteCode) == "" {
		ve.Add(path+".namasteCode", "is required")
	}
	if strings.TrimSpace(r.ICDCode) == "" {
		ve.Add(path+".icdCode", "is required")
	}
	if r.TargetSystem == "" {
		r.TargetSystem = SystemICD11
	}
	if r.TargetSystem != SystemICD11 {
		ve.Add(path+".targetSystem", "must be %s", SystemICD11)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		ve.Add(path+".confidence", "must be between 0 and 100")
	}
	if !r.Status.Valid() {
		ve.Add(path+".status", "unknown status %q", r.Status)
	}
	if !r.Source.Valid() {
		ve.Add(path+".source", "unknown source %q", r.Source)
	}
	if strings.TrimSpace(r.Version) == "" {
		ve.Add(path+".version", "is required")
	}
	return ve.OrNil()
}

// MappingFilter narrows ListMappingsByStatus. Zero values match everything;
// Limit 0 means no limit.
type MappingFilter struct {
	NamasteCode   string
	ICDCode       string
	Version       string
	MinConfidence *int
	MaxConfidence *int
	Source        MappingSource
	Limit         int
	Offset        int
}

func (f MappingFilter) matches(r MappingRecord) bool {
	if f.NamasteCode != "" && !strings.EqualFold(f.NamasteCode, r.NamasteCode) {
		return false
	}
	if f.ICDCode != "" && !strings.EqualFold(f.ICDCode, r.ICDCode) {
		return false
	}
	if f.Version != "" && f.Version != r.Version {
		return false
	}
	if f.MinConfidence != nil && r.Confidence < *f.MinConfidence {
		return false
	}
	if f.MaxConfidence != nil && r.Confidence > *f.MaxConfidence {
		return false
	}
	if f.Source != "" && f.Source != r.Source {
		return false
	}
	return true
}

// LowConfidenceThreshold marks open records that need a curator's eye.
const LowConfidenceThreshold = 70

// MappingStats summarizes one mapping-table version.
type MappingStats struct {
	Version       string                `json:"version"`
	Total         int                   `json:"total"`
	ByStatus      map[MappingStatus]int `json:"byStatus"`
	LowConfidence int                   `json:"lowConfidence"`
}

func newMappingStats(version string) *MappingStats {
	st := &MappingStats{Version: version, ByStatus: make(map[MappingStatus]int, len(allStatuses))}
	for _, s := range allStatuses {
		st.ByStatus[s] = 0
	}
	return st
}

func (st *MappingStats) add(r MappingRecord) {
	st.Total++
	st.ByStatus[r.Status]++
	if r.Status.Open() && r.Confidence < LowConfidenceThreshold {
		st.LowConfidence++
	}
}

// Hit fields.
const (
	FieldDisplay = "display"
	FieldSynonym = "synonym"
)

// TermHit is one catalog entry matched by a normalized term. Phrase is set
// when the whole display or synonym equals the term; otherwise the term is
// one of its tokens.
type TermHit struct {
	Entry   CodeEntry `json:"entry"`
	Field   string    `json:"field"`
	Matched string    `json:"matched"`
	Phrase  bool      `json:"phrase"`
}

// better reports whether h should replace o as the entry's hit for a term.
func (h TermHit) better(o TermHit) bool {
	if h.Phrase != o.Phrase {
		return h.Phrase
	}
	return h.Field == FieldDisplay && o.Field != FieldDisplay
}
