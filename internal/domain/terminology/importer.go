package terminology

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
)

// CatalogHeader is the column layout written by ExportWorkbook and
// expected by ReadWorkbook.
var CatalogHeader = []string{"Code", "Display", "Synonyms"}

// header aliases accepted on import, keyed by lowercased header text
var headerAliases = map[string]string{
	"code":     "code",
	"display":  "display",
	"term":     "display",
	"name":     "display",
	"synonyms": "synonyms",
	"synonym":  "synonyms",
}

func splitSynonyms(cell string) []string {
	var out []string
	for _, s := range strings.FieldsFunc(cell, func(r rune) bool { return r == ';' || r == '|' }) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ReadWorkbook parses a catalog spreadsheet into entries for one system and
// version. sheet defaults to the first sheet. Blank rows are skipped; rows
// missing a code or display are reported by sheet row number.
func ReadWorkbook(r io.Reader, system System, version, sheet string) ([]CodeEntry, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperr.Validation("file", "not a readable spreadsheet: %v", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if sheet == "" {
		return nil, apperr.Validation("file", "workbook has no sheets")
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, apperr.Validation("sheet", "sheet %q not found", sheet)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, apperr.Validation("file", "sheet %q is empty", sheet)
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		if field, ok := headerAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			if _, seen := cols[field]; !seen {
				cols[field] = i
			}
		}
	}
	ve := &apperr.ValidationError{}
	for _, required := range []string{"code", "display"} {
		if _, ok := cols[required]; !ok {
			ve.Add("header", "missing %s column", required)
		}
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	cell := func(row []string, field string) string {
		i, ok := cols[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var entries []CodeEntry
	for n, row := range rows[1:] {
		code, display, syn := cell(row, "code"), cell(row, "display"), cell(row, "synonyms")
		if code == "" && display == "" && syn == "" {
			continue
		}
		path := fmt.Sprintf("rows[%d]", n+2)
		if code == "" {
			ve.Add(path+".code", "is required")
		}
		if display == "" {
			ve.Add(path+".display", "is required")
		}
		entries = append(entries, CodeEntry{
			System:   system,
			Code:     code,
			Display:  display,
			Synonyms: splitSynonyms(syn),
			Version:  version,
		})
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperr.Validation("file", "sheet %q has no code rows", sheet)
	}
	return entries, nil
}

// ExportWorkbook writes entries in the CatalogHeader layout to a single
// sheet named after the system.
func ExportWorkbook(system System, entries []CodeEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := string(system)
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	for col, h := range CatalogHeader {
		cellName, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cellName, h); err != nil {
			return nil, fmt.Errorf("set header %s: %w", cellName, err)
		}
		if err := f.SetCellStyle(sheet, cellName, cellName, headerStyle); err != nil {
			return nil, fmt.Errorf("style header %s: %w", cellName, err)
		}
	}
	for i, e := range entries {
		row := []interface{}{e.Code, e.Display, strings.Join(e.Synonyms, "; ")}
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cellName, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
