package encounter

import (
	"strings"
	"time"

	"github.com/swasthyasetu/termbridge/internal/platform/fhir"
)

// CodingMode records whether a reason carries both code systems.
type CodingMode string

const (
	DualCoded   CodingMode = "DUAL_CODED"
	SingleCoded CodingMode = "SINGLE_CODED"
)

func (m CodingMode) display() string {
	if m == DualCoded {
		return "Dual Coded (NAMASTE + ICD-11)"
	}
	return "Single Coded"
}

// CodingModeExtension marks each reasonCode entry with its CodingMode.
const CodingModeExtension = "http://namaste.gov.in/fhir/StructureDefinition/coding-mode"

// CodeRef is one requested diagnosis: a mapping id, a NAMASTE/ICD-11 pair,
// or a single code from either system.
type CodeRef struct {
	MappingID   string `json:"mappingId,omitempty"`
	NamasteCode string `json:"namasteCode,omitempty"`
	ICDCode     string `json:"icdCode,omitempty"`
}

func (r CodeRef) empty() bool {
	return strings.TrimSpace(r.MappingID) == "" &&
		strings.TrimSpace(r.NamasteCode) == "" &&
		strings.TrimSpace(r.ICDCode) == ""
}

// ComposeRequest is the body of POST /api/v1/encounters.
type ComposeRequest struct {
	PatientID     string    `json:"patientId" validate:"required"`
	ProviderID    string    `json:"providerId" validate:"required"`
	EncounterDate string    `json:"encounterDate" validate:"required,isodate"`
	Codes         []CodeRef `json:"codes" validate:"min=1,max=50"`
	Notes         string    `json:"notes"`
}

// Concept is a resolved diagnosis.
type Concept struct {
	Mode      CodingMode   `json:"mode"`
	MappingID string       `json:"mappingId,omitempty"`
	Namaste   *fhir.Coding `json:"namaste,omitempty"`
	ICD       *fhir.Coding `json:"icd,omitempty"`
}

// key identifies the concept for de-duplication.
func (c Concept) key() string {
	var nmt, icd string
	if c.Namaste != nil {
		nmt = strings.ToUpper(c.Namaste.Code)
	}
	if c.ICD != nil {
		icd = strings.ToUpper(c.ICD.Code)
	}
	return nmt + "|" + icd
}

// dedupe keeps the first occurrence of each concept. A single-coded concept
// is dropped when a dual-coded one already carries its code.
func dedupe(concepts []Concept) []Concept {
	paired := make(map[string]bool)
	for _, c := range concepts {
		if c.Mode == DualCoded {
			paired["N|"+strings.ToUpper(c.Namaste.Code)] = true
			paired["I|"+strings.ToUpper(c.ICD.Code)] = true
		}
	}
	out := make([]Concept, 0, len(concepts))
	seen := make(map[string]bool, len(concepts))
	for _, c := range concepts {
		if seen[c.key()] {
			continue
		}
		if c.Mode == SingleCoded {
			if (c.Namaste != nil && paired["N|"+strings.ToUpper(c.Namaste.Code)]) ||
				(c.ICD != nil && paired["I|"+strings.ToUpper(c.ICD.Code)]) {
				continue
			}
		}
		seen[c.key()] = true
		out = append(out, c)
	}
	return out
}

func (c Concept) codeableConcept() fhir.CodeableConcept {
	cc := fhir.CodeableConcept{
		Extension: []fhir.Extension{{URL: CodingModeExtension, ValueCode: string(c.Mode)}},
	}
	if c.Namaste != nil {
		cc.Coding = append(cc.Coding, *c.Namaste)
		cc.Text = c.Namaste.Display
	}
	if c.ICD != nil {
		cc.Coding = append(cc.Coding, *c.ICD)
		if cc.Text == "" {
			cc.Text = c.ICD.Display
		} else {
			cc.Text += " / " + c.ICD.Display
		}
	}
	return cc
}

// Encounter is a composed encounter. It is immutable once stored.
type Encounter struct {
	ID            string    `json:"id"`
	PatientID     string    `json:"patientId"`
	ProviderID    string    `json:"providerId"`
	EncounterDate string    `json:"encounterDate"`
	Codes         []Concept `json:"codes"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	// Resource is the FHIR JSON returned at composition.
	Resource []byte `json:"-"`
}

// Mode is DUAL_CODED when every concept carries both systems.
func (e *Encounter) Mode() CodingMode {
	if len(e.Codes) == 0 {
		return SingleCoded
	}
	for _, c := range e.Codes {
		if c.Mode != DualCoded {
			return SingleCoded
		}
	}
	return DualCoded
}

// ToFHIR renders the encounter as a FHIR R4 Encounter.
func (e *Encounter) ToFHIR() map[string]interface{} {
	mode := e.Mode()
	reasons := make([]fhir.CodeableConcept, len(e.Codes))
	for i, c := range e.Codes {
		reasons[i] = c.codeableConcept()
	}
	result := map[string]interface{}{
		"resourceType": "Encounter",
		"id":           e.ID,
		"status":       "finished",
		"class": fhir.Coding{
			System:  fhir.SystemActCode,
			Code:    "AMB",
			Display: "ambulatory",
		},
		"subject": fhir.Reference{
			Reference: fhir.FormatReference("Patient", e.PatientID),
			Display:   "Patient " + e.PatientID,
		},
		"participant": []map[string]interface{}{{
			"individual": fhir.Reference{
				Reference: fhir.FormatReference("Practitioner", e.ProviderID),
				Display:   "Provider " + e.ProviderID,
			},
		}},
		"period": fhir.Period{
			Start: e.EncounterDate,
			End:   e.EncounterDate,
		},
		"reasonCode": reasons,
		"meta": fhir.Meta{
			LastUpdated: e.CreatedAt,
			Tag: []fhir.Coding{{
				System:  fhir.SystemObservation,
				Code:    string(mode),
				Display: mode.display(),
			}},
		},
	}
	if e.Notes != "" {
		result["note"] = []fhir.Annotation{{Text: e.Notes}}
	}
	return result
}
