package metfrag

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
)

func TestReadTableCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.CSV")
	content := "Identifier,Score,MolecularFormula\n" +
		"CID1,1.0,C6H15O4P\n" +
		"CID2,0.25\n" +
		"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	tab, err := ReadTable(path)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if tab.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tab.Len())
	}
	if got := tab.Value(0, "MolecularFormula"); got != "C6H15O4P" {
		t.Errorf("Value(0, MolecularFormula) = %q", got)
	}
	if got := tab.Value(1, "MolecularFormula"); got != "" {
		t.Errorf("Value of a short row = %q, want empty", got)
	}
	if got := tab.Column("Nope"); got != -1 {
		t.Errorf("Column(Nope) = %d, want -1", got)
	}
}

func TestReadTableWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.xlsx")
	err := WriteWorkbook(path, []Sheet{{
		Name:   "Candidates",
		Header: []string{"Identifier", "Score"},
		Rows:   [][]any{{"CID1", 0.5}, {"CID2", "n/a"}},
	}})
	if err != nil {
		t.Fatalf("WriteWorkbook: %v", err)
	}
	tab, err := ReadTable(path)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	want := &Table{
		Columns: []string{"Identifier", "Score"},
		Rows:    [][]string{{"CID1", "0.5"}, {"CID2", "n/a"}},
	}
	if diff := cmp.Diff(want, tab); diff != "" {
		t.Errorf("ReadTable mismatch (-want +got):\n%s", diff)
	}
}

func TestReadTableErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadTable(filepath.Join(dir, "s.SDF")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("SDF: got %v, want %v", err, ErrUnsupportedFormat)
	}
	if _, err := ReadTable(filepath.Join(dir, "missing.CSV")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: got %v", err)
	}
	legacy := filepath.Join(dir, "legacy.xls")
	if err := os.WriteFile(legacy, []byte("not a workbook"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadTable(legacy); err == nil {
		t.Errorf("legacy xls: expected an error")
	}
}

func TestWriteCandidateWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "183.0781_300.1000_C6H15O4P.xlsx")
	tab := &Table{
		Columns: []string{"Identifier", "Score"},
		Rows:    [][]string{{"CID1", "0.5"}},
	}
	p := testParameter()
	if err := WriteCandidateWorkbook(path, tab, p); err != nil {
		t.Fatalf("WriteCandidateWorkbook: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if diff := cmp.Diff([]string{"RESULTS", "PARAMS"}, f.GetSheetList()); diff != "" {
		t.Errorf("sheets (-want +got):\n%s", diff)
	}
	rows, err := f.GetRows("RESULTS")
	if err != nil {
		t.Fatal(err)
	}
	wantRows := [][]string{{"Index", "Identifier", "Score"}, {"0", "CID1", "0.5"}}
	if diff := cmp.Diff(wantRows, rows); diff != "" {
		t.Errorf("RESULTS (-want +got):\n%s", diff)
	}
	params, err := f.GetRows("PARAMS")
	if err != nil {
		t.Fatal(err)
	}
	last := params[len(params)-1]
	if diff := cmp.Diff([]string{"ParamSavePath", p.ParamSavePath}, last); diff != "" {
		t.Errorf("last PARAMS row (-want +got):\n%s", diff)
	}
	if params[1][0] != "PeakListString" {
		t.Errorf("first parameter %q, want PeakListString", params[1][0])
	}
}
