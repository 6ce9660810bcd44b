package metfrag

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// Sheet is one worksheet of an exported workbook
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]any
}

// WriteWorkbook writes sheets to an xlsx file, in order
func WriteWorkbook(path string, sheets []Sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.Name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			return err
		}
		if err := writeRow(f, s.Name, 1, toAny(s.Header)); err != nil {
			return err
		}
		for r, row := range s.Rows {
			if err := writeRow(f, s.Name, r+2, row); err != nil {
				return err
			}
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// WriteCandidateWorkbook writes a MetFrag result table (sheet RESULTS) and
// the parameters that produced it (sheet PARAMS)
func WriteCandidateWorkbook(path string, t *Table, p *Parameter) error {
	results := Sheet{Name: "RESULTS", Header: append([]string{"Index"}, t.Columns...)}
	for i, r := range t.Rows {
		row := []any{i}
		for _, v := range r {
			row = append(row, cellValue(v))
		}
		results.Rows = append(results.Rows, row)
	}
	sheets := []Sheet{results}
	if p != nil {
		params := Sheet{Name: "PARAMS", Header: []string{"Name", "Value"}}
		fields, err := p.Fields()
		if err != nil {
			return err
		}
		for _, f := range fields {
			params.Rows = append(params.Rows, []any{f.Name, f.Value})
		}
		params.Rows = append(params.Rows, []any{"ParamSavePath", p.ParamSavePath})
		sheets = append(sheets, params)
	}
	return WriteWorkbook(path, sheets)
}

// cellValue stores numeric text as a number
func cellValue(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
