package metfrag

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat means the result file type can't be parsed
var ErrUnsupportedFormat = errors.New("unsupported result format")

// Table is a MetFrag candidate list: a header and string cells
type Table struct {
	Columns []string
	Rows    [][]string
}

// Len returns the number of candidates
func (t *Table) Len() int {
	return len(t.Rows)
}

// Column returns the index of a column, or -1
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns a cell by row and column name, or "" when absent
func (t *Table) Value(row int, column string) string {
	c := t.Column(column)
	if c < 0 || row < 0 || row >= len(t.Rows) || c >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][c]
}

// ReadTable parses a MetFrag result file. CSV files are read with
// encoding/csv; XLS/XLSX files are read as Office Open XML workbooks
// (first sheet).
func ReadTable(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(path)
	case ".xls", ".xlsx":
		return readWorkbook(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}

func readCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return newTable(records), nil
}

func readWorkbook(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &Table{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return newTable(rows), nil
}

func newTable(records [][]string) *Table {
	t := &Table{}
	if len(records) == 0 {
		return t
	}
	t.Columns = records[0]
	for _, r := range records[1:] {
		if len(r) == 0 || (len(r) == 1 && r[0] == "") {
			continue
		}
		t.Rows = append(t.Rows, r)
	}
	return t
}
