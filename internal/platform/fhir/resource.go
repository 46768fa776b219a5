package fhir

import (
	"time"
)

// Canonical code system URIs used by the service.
const (
	SystemNAMASTE     = "http://namaste.gov.in/codes"
	SystemICD11       = "http://id.who.int/icd/release/11/mms"
	SystemActCode     = "http://terminology.hl7.org/CodeSystem/v3-ActCode"
	SystemObservation = "http://terminology.hl7.org/CodeSystem/v3-ObservationValue"
)

// Resource is the base FHIR resource representation.
type Resource struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
	Meta         *Meta  `json:"meta,omitempty"`
}

type Meta struct {
	VersionID   string    `json:"versionId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
	Profile     []string  `json:"profile,omitempty"`
	Tag         []Coding  `json:"tag,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Extension []Extension `json:"extension,omitempty"`
	Coding    []Coding    `json:"coding,omitempty"`
	Text      string      `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Period holds FHIR dateTime values. Date-only values ("2024-09-15") are
// valid dateTimes, so both ends are kept as strings.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type Extension struct {
	URL         string `json:"url"`
	ValueString string `json:"valueString,omitempty"`
	ValueCode   string `json:"valueCode,omitempty"`
}

type Annotation struct {
	Text string `json:"text"`
}

// FormatReference builds a relative reference such as "Patient/123".
func FormatReference(resourceType, id string) string {
	return resourceType + "/" + id
}

// SystemURI returns the canonical URI for a short system name, or the input
// unchanged when it is already a URI or unknown.
func SystemURI(system string) string {
	switch system {
	case "NAMASTE":
		return SystemNAMASTE
	case "ICD11", "ICD-11":
		return SystemICD11
	}
	return system
}
