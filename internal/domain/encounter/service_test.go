package encounter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/events"
	"github.com/swasthyasetu/termbridge/internal/platform/fhir"
)

// 01:30 on 2025-02-04 in India, still 2025-02-03 in UTC.
var testTime = time.Date(2025, 2, 3, 20, 0, 0, 0, time.UTC)

var ist = time.FixedZone("IST", 5*3600+1800)

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) {
	p.events = append(p.events, evt)
}

func newTestService(t *testing.T) (*Service, *MemoryRepo, *recordingPublisher) {
	t.Helper()
	store := terminology.NewMemoryStore()
	if _, err := terminology.Seed(context.Background(), store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	repo := NewMemoryRepo()
	pub := &recordingPublisher{}
	svc := NewService(store, repo, pub, zerolog.Nop(), ist, terminology.DemoMappingVersion)
	svc.now = func() time.Time { return testTime }
	return svc, repo, pub
}

func request(codes ...CodeRef) ComposeRequest {
	return ComposeRequest{
		PatientID:     "PAT-001",
		ProviderID:    "DR-042",
		EncounterDate: "2025-02-01",
		Codes:         codes,
		Notes:         "Fever for three days",
	}
}

type resource struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
	Status       string `json:"status"`
	Class        fhir.Coding
	Subject      fhir.Reference
	Period       fhir.Period
	ReasonCode   []fhir.CodeableConcept `json:"reasonCode"`
	Note         []fhir.Annotation      `json:"note"`
	Meta         struct {
		Tag []fhir.Coding `json:"tag"`
	} `json:"meta"`
}

func decode(t *testing.T, enc *Encounter) resource {
	t.Helper()
	var r resource
	if err := json.Unmarshal(enc.Resource, &r); err != nil {
		t.Fatalf("decode resource: %v", err)
	}
	return r
}

func fieldSet(t *testing.T, err error) map[string]bool {
	t.Helper()
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	out := make(map[string]bool)
	for _, f := range ve.Fields {
		out[f.Field] = true
	}
	return out
}

func TestCompose_DualCodedPair(t *testing.T) {
	svc, repo, pub := newTestService(t)
	enc, err := svc.Compose(context.Background(), request(CodeRef{NamasteCode: "NMT123", ICDCode: "1A00"}), "DR-042")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	r := decode(t, enc)
	if r.ResourceType != "Encounter" || r.ID != enc.ID || r.Status != "finished" || r.Class.Code != "AMB" {
		t.Errorf("unexpected resource header %+v", r)
	}
	if r.Subject.Reference != "Patient/PAT-001" || r.Period.Start != "2025-02-01" {
		t.Errorf("unexpected subject or period %+v %+v", r.Subject, r.Period)
	}
	if len(r.ReasonCode) != 1 || len(r.ReasonCode[0].Coding) != 2 {
		t.Fatalf("expected one reason with two codings, got %+v", r.ReasonCode)
	}
	codings := r.ReasonCode[0].Coding
	if codings[0].System != fhir.SystemNAMASTE || codings[0].Code != "NMT123" {
		t.Errorf("unexpected NAMASTE coding %+v", codings[0])
	}
	if codings[1].System != fhir.SystemICD11 || codings[1].Code != "1A00" {
		t.Errorf("unexpected ICD-11 coding %+v", codings[1])
	}
	if ext := r.ReasonCode[0].Extension; len(ext) != 1 || ext[0].ValueCode != string(DualCoded) {
		t.Errorf("unexpected coding mode extension %+v", ext)
	}
	if len(r.Meta.Tag) != 1 || r.Meta.Tag[0].Code != string(DualCoded) {
		t.Errorf("expected DUAL_CODED tag, got %+v", r.Meta.Tag)
	}
	if len(r.Note) != 1 || r.Note[0].Text != "Fever for three days" {
		t.Errorf("unexpected notes %+v", r.Note)
	}

	stored, err := repo.GetByID(context.Background(), enc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(stored.Resource) != string(enc.Resource) {
		t.Error("expected stored resource to match the composed one")
	}
	if len(pub.events) != 1 || pub.events[0].Type != events.EncounterComposed {
		t.Errorf("unexpected events %+v", pub.events)
	}
}

func TestCompose_SingleAndAutoPaired(t *testing.T) {
	svc, _, _ := newTestService(t)
	enc, err := svc.Compose(context.Background(), request(
		CodeRef{NamasteCode: "nmt789"},
		CodeRef{NamasteCode: "NMT234"},
		CodeRef{ICDCode: "ICD11:MD11"},
	), "DR-042")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(enc.Codes) != 3 {
		t.Fatalf("expected 3 concepts, got %d", len(enc.Codes))
	}
	auto := enc.Codes[0]
	if auto.Mode != DualCoded || auto.ICD == nil || auto.ICD.Code != "5A11" || auto.MappingID != terminology.DemoMappingID("NMT789", "5A11") {
		t.Errorf("expected NMT789 auto-paired to 5A11, got %+v", auto)
	}
	if c := enc.Codes[1]; c.Mode != SingleCoded || c.Namaste == nil || c.ICD != nil {
		t.Errorf("expected single NAMASTE concept, got %+v", c)
	}
	if c := enc.Codes[2]; c.Mode != SingleCoded || c.ICD == nil || c.ICD.Code != "MD11" {
		t.Errorf("expected single ICD-11 concept, got %+v", c)
	}
	if enc.Mode() != SingleCoded {
		t.Errorf("expected SINGLE_CODED overall, got %s", enc.Mode())
	}
	if r := decode(t, enc); r.Meta.Tag[0].Code != string(SingleCoded) {
		t.Errorf("expected SINGLE_CODED tag, got %+v", r.Meta.Tag)
	}
}

func TestCompose_MappingID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	enc, err := svc.Compose(ctx, request(CodeRef{MappingID: terminology.DemoMappingID("NMT456", "MD12")}), "DR-042")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if enc.Codes[0].Mode != DualCoded || enc.Codes[0].Namaste.Code != "NMT456" {
		t.Errorf("unexpected concept %+v", enc.Codes[0])
	}

	_, err = svc.Compose(ctx, request(
		CodeRef{NamasteCode: "NMT123"},
		CodeRef{MappingID: terminology.DemoMappingID("NMT456", "CA40")},
	), "DR-042")
	if fields := fieldSet(t, err); !fields["codes[1].mappingId"] || len(fields) != 1 {
		t.Errorf("expected only codes[1].mappingId, got %v", fields)
	}
}

func TestCompose_PairWithoutAcceptedMapping(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Compose(context.Background(), request(CodeRef{NamasteCode: "NMT456", ICDCode: "CA40"}), "DR-042")
	if fields := fieldSet(t, err); !fields["codes[0]"] {
		t.Errorf("expected codes[0] error, got %v", fields)
	}
}

func TestCompose_EmptyCodes(t *testing.T) {
	svc, repo, pub := newTestService(t)
	enc, err := svc.Compose(context.Background(), request(), "DR-042")
	if enc != nil {
		t.Error("expected no resource")
	}
	if fields := fieldSet(t, err); !fields["codes"] {
		t.Errorf("expected codes error, got %v", fields)
	}
	if _, total, _ := repo.ListByPatient(context.Background(), "PAT-001", 0, 0); total != 0 {
		t.Errorf("expected nothing stored, got %d", total)
	}
	if len(pub.events) != 0 {
		t.Errorf("expected no events, got %d", len(pub.events))
	}
}

func TestCompose_CollectsAllErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Compose(context.Background(), ComposeRequest{
		EncounterDate: "2025-13-01",
		Codes:         []CodeRef{{}, {NamasteCode: "NMT000"}, {ICDCode: "ZZ99"}},
	}, "DR-042")
	fields := fieldSet(t, err)
	for _, want := range []string{"patientId", "providerId", "encounterDate", "codes[0]", "codes[1].namasteCode", "codes[2].icdCode"} {
		if !fields[want] {
			t.Errorf("expected error on %s, got %v", want, fields)
		}
	}
}

func TestCompose_DateInEncounterTimezone(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req := request(CodeRef{NamasteCode: "NMT123"})
	req.EncounterDate = "2025-02-04"
	if _, err := svc.Compose(ctx, req, "DR-042"); err != nil {
		t.Errorf("expected today in India to be accepted, got %v", err)
	}

	req.EncounterDate = "2025-02-05"
	if fields := fieldSet(t, mustFail(svc.Compose(ctx, req, "DR-042"))); !fields["encounterDate"] {
		t.Errorf("expected encounterDate error, got %v", fields)
	}
}

func mustFail(_ *Encounter, err error) error { return err }

func TestCompose_CollapsesDuplicates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	enc, err := svc.Compose(ctx, request(
		CodeRef{NamasteCode: "NMT123"},
		CodeRef{MappingID: terminology.DemoMappingID("NMT123", "1A00")},
		CodeRef{NamasteCode: "NMT123", ICDCode: "1a00"},
		CodeRef{ICDCode: "1A00"},
	), "DR-042")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(enc.Codes) != 1 || enc.Codes[0].Mode != DualCoded {
		t.Fatalf("expected one dual-coded concept, got %+v", enc.Codes)
	}
	r := decode(t, enc)
	if len(r.ReasonCode) != 1 || r.Meta.Tag[0].Code != string(DualCoded) {
		t.Errorf("expected one reasonCode tagged DUAL_CODED, got %d %+v", len(r.ReasonCode), r.Meta.Tag)
	}

	// The bare ICD-11 code comes first; the pair still absorbs it and
	// unrelated codes keep their order.
	enc, err = svc.Compose(ctx, request(
		CodeRef{ICDCode: "1A00"},
		CodeRef{ICDCode: "MG26"},
		CodeRef{NamasteCode: "NMT123", ICDCode: "1A00"},
		CodeRef{ICDCode: "mg26"},
	), "DR-042")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(enc.Codes) != 2 {
		t.Fatalf("expected 2 concepts, got %+v", enc.Codes)
	}
	if enc.Codes[0].Mode != SingleCoded || enc.Codes[0].ICD.Code != "MG26" || enc.Codes[1].Mode != DualCoded {
		t.Errorf("unexpected concepts %+v", enc.Codes)
	}
}

func TestCompose_ValidatesRequestTags(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req := request(CodeRef{NamasteCode: "NMT123"})
	req.PatientID = "   "
	req.EncounterDate = "01/02/2025"
	fields := fieldSet(t, mustFail(svc.Compose(ctx, req, "DR-042")))
	if !fields["patientId"] || !fields["encounterDate"] || len(fields) != 2 {
		t.Errorf("expected patientId and encounterDate errors, got %v", fields)
	}

	codes := make([]CodeRef, MaxCodes+1)
	for i := range codes {
		codes[i] = CodeRef{NamasteCode: "NMT123"}
	}
	if fields := fieldSet(t, mustFail(svc.Compose(ctx, request(codes...), "DR-042"))); !fields["codes"] {
		t.Errorf("expected codes error, got %v", fields)
	}
}

func TestListByPatient(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for _, d := range []string{"2025-01-10", "2025-02-01", "2025-01-20"} {
		req := request(CodeRef{NamasteCode: "NMT123"})
		req.EncounterDate = d
		if _, err := svc.Compose(ctx, req, "DR-042"); err != nil {
			t.Fatalf("compose: %v", err)
		}
	}
	items, total, err := svc.ListByPatient(ctx, "PAT-001", 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(items) != 2 || items[0].EncounterDate != "2025-02-01" || items[1].EncounterDate != "2025-01-20" {
		t.Errorf("unexpected page total=%d %+v", total, items)
	}
	if _, _, err := svc.ListByPatient(ctx, " ", 2, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
