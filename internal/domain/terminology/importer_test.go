package terminology

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
)

var testTime = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

func TestWorkbook_RoundTrip(t *testing.T) {
	in := []CodeEntry{
		{System: SystemNAMASTE, Code: "NMT123", Display: "Jwara", Synonyms: []string{"fever", "pyrexia"}},
		{System: SystemNAMASTE, Code: "NMT456", Display: "Kasa"},
	}
	data, err := ExportWorkbook(SystemNAMASTE, in)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	out, err := ReadWorkbook(bytes.NewReader(data), SystemNAMASTE, "v3", "")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
	if out[0].Code != "NMT123" || out[0].Version != "v3" || len(out[0].Synonyms) != 2 || out[0].Synonyms[1] != "pyrexia" {
		t.Errorf("unexpected first entry %+v", out[0])
	}
	if len(out[1].Synonyms) != 0 {
		t.Errorf("expected no synonyms, got %v", out[1].Synonyms)
	}
}

func workbook(t *testing.T, sheet string, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if sheet != "Sheet1" {
		if _, err := f.NewSheet(sheet); err != nil {
			t.Fatal(err)
		}
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadWorkbook_HeaderAliasesAndNamedSheet(t *testing.T) {
	data := workbook(t, "ICD", [][]interface{}{
		{"Term", "CODE", "Synonym"},
		{"Typhoid fever", "1A00", "enteric fever|typhoid"},
		{},
		{"Cough", "MD12", ""},
	})
	out, err := ReadWorkbook(bytes.NewReader(data), SystemICD11, "v2025", "ICD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0].Code != "1A00" || out[0].Display != "Typhoid fever" || len(out[0].Synonyms) != 2 {
		t.Errorf("unexpected entries %+v", out)
	}
}

func TestReadWorkbook_Errors(t *testing.T) {
	noDisplay := workbook(t, "Sheet1", [][]interface{}{{"Code", "Notes"}, {"NMT1", "x"}})
	_, err := ReadWorkbook(bytes.NewReader(noDisplay), SystemNAMASTE, "v1", "")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for missing column, got %v", err)
	}

	missingCell := workbook(t, "Sheet1", [][]interface{}{{"Code", "Display"}, {"NMT1", "Ok"}, {"", "No code"}})
	_, err = ReadWorkbook(bytes.NewReader(missingCell), SystemNAMASTE, "v1", "")
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) || ve.Fields[0].Field != "rows[3].code" {
		t.Errorf("expected rows[3].code error, got %v", err)
	}

	_, err = ReadWorkbook(bytes.NewReader(missingCell), SystemNAMASTE, "v1", "Missing")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for unknown sheet, got %v", err)
	}

	_, err = ReadWorkbook(bytes.NewReader([]byte("not a workbook")), SystemNAMASTE, "v1", "")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for garbage input, got %v", err)
	}
}
