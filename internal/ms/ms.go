// Package ms holds the scan tables of an LC-MS/MS run and the peak
// searches that operate on them.
package ms

import (
	"github.com/524D/opesid/internal/mzml"
)

// MS1Scan is a survey scan. Peaks are sorted by m/z.
type MS1Scan struct {
	Index    int
	ID       string
	RT       float64 // seconds
	Peaks    []mzml.Peak
	Products []int // indices of MS2 spectra whose parent is this scan
}

// MS2Spectrum is a fragment spectrum together with its precursor and the
// MS1 scan that contains it.
type MS2Spectrum struct {
	Index              int
	ID                 string
	RT                 float64
	PrecursorMz        float64
	PrecursorIntens    float64
	Charge             int
	Peaks              []mzml.Peak
	MS1Index           int
	PrecursorMS1Intens float64 // intensity of the MS1 peak nearest to PrecursorMz
}

// Run holds the MS1 and MS2 tables of one acquisition, both sorted by
// retention time and indexed from 0.
type Run struct {
	Name string
	MS1  []MS1Scan
	MS2  []MS2Spectrum
}
