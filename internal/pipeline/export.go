package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/524D/opesid/internal/metfrag"
	"github.com/524D/opesid/internal/mzml"
)

// Column names of the result workbook
const (
	ColMS2Index        = "MS2Index"
	ColScanID          = "ScanID"
	ColRT              = "RT"
	ColPrecursorMz     = "PrecursorMZ"
	ColPrecursorMS1Int = "PrecursorMS1Int"
	ColROIGroupID      = "ROIGroupID"
	ColOPEClass        = "OPEClass"
	ColTargetIons      = "TargetIons"
	ColIsotopes        = "Isotopes"
	ColIsotopeScore    = "IsotopeScore"
	ColFormula         = "Formula"
	ColDeviation       = "Deviation"
	ColTriEster        = "Tri-ester"
	ColMetFragResults  = "MetfragResults"
)

var noResultsHeader = []string{"RT", "Precursor", "formula", "comments", "exitcode", "stdout", "stderr"}

// WriteResults writes the candidate table to an xlsx workbook (sheet
// RESULTS). When mf is not nil, the number of MetFrag candidates (or
// "error") is added per row and the failed or empty tasks are listed in
// sheet NO_RESULTS.
func WriteResults(path string, cands []Candidate, mf *MetFragRun) error {
	header := []string{ColMS2Index, ColScanID, ColRT, ColPrecursorMz, ColPrecursorMS1Int, ColROIGroupID,
		ColOPEClass, ColTargetIons, ColIsotopes, ColIsotopeScore, ColFormula, ColDeviation, ColTriEster}
	if mf != nil {
		header = append(header, ColMetFragResults)
	}
	results := metfrag.Sheet{Name: "RESULTS", Header: header}
	for i, c := range cands {
		ions := make([]string, len(c.Ions))
		for j, ion := range c.Ions {
			ions[j] = ion.Name
		}
		label, score := "", any("")
		if c.Isotope != nil {
			label, score = c.Isotope.Label, c.Isotope.Score
		}
		row := []any{c.MS2Index, c.ScanID, c.RT, c.PrecursorMz, c.PrecursorMS1Intens, c.ROI,
			c.Class, strings.Join(ions, ","), label, score, c.Formula.String(), c.Deviation, c.TriEster}
		if mf != nil {
			row = append(row, metFragCount(mf.Results[i]))
		}
		results.Rows = append(results.Rows, row)
	}
	sheets := []metfrag.Sheet{results}
	if mf != nil {
		sheets = append(sheets, noResults(cands, mf))
	}
	return metfrag.WriteWorkbook(path, sheets)
}

func metFragCount(r metfrag.Result) any {
	if r.State != metfrag.Succeeded {
		return "error"
	}
	return r.Table.Len()
}

func noResults(cands []Candidate, mf *MetFragRun) metfrag.Sheet {
	sheet := metfrag.Sheet{Name: "NO_RESULTS", Header: noResultsHeader}
	for i, c := range cands {
		r := mf.Results[i]
		switch {
		case r.State != metfrag.Succeeded:
			comment := r.State.String()
			if r.Err != nil {
				comment = r.Err.Error()
			}
			sheet.Rows = append(sheet.Rows,
				[]any{c.RT, c.PrecursorMz, c.Formula.String(), comment, r.ExitCode, r.Stdout, r.Stderr})
		case r.Table.Len() == 0:
			sheet.Rows = append(sheet.Rows,
				[]any{c.RT, c.PrecursorMz, mf.Params[i].NeutralPrecursorMolecularFormula, "No Valid", "", "", ""})
		}
	}
	return sheet
}

// WriteMetFragResults writes one workbook per candidate with MetFrag
// results to dir, named <mz>_<rt>_<formula>.xlsx. It returns the number
// of files written.
func WriteMetFragResults(dir string, cands []Candidate, mf *MetFragRun) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	n := 0
	for i, c := range cands {
		r := mf.Results[i]
		if r.State != metfrag.Succeeded || r.Table.Len() == 0 {
			continue
		}
		name := fmt.Sprintf("%.4f_%.4f_%s.xlsx", c.PrecursorMz, c.RT, c.Formula.String())
		if err := metfrag.WriteCandidateWorkbook(filepath.Join(dir, name), r.Table, mf.Params[i]); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// WriteSpectra writes the MS2 spectra of the candidates to an mzML file,
// each spectrum once
func WriteSpectra(path string, cands []Candidate) error {
	seen := map[int]bool{}
	var spectra []mzml.Spectrum
	for _, c := range cands {
		if seen[c.MS2Index] {
			continue
		}
		seen[c.MS2Index] = true
		spectra = append(spectra, mzml.Spectrum{
			ID:        c.ScanID,
			MSLevel:   2,
			Polarity:  1,
			RT:        c.RT,
			Precursor: &mzml.Precursor{Mz: c.PrecursorMz, Intens: c.PrecursorMS1Intens, Charge: 1},
			Peaks:     c.Peaks,
		})
	}
	doc, err := mzml.New(spectra)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := doc.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
