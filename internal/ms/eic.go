package ms

import (
	"math"
)

// EICPoint is the summed intensity of a target m/z in one MS1 scan
type EICPoint struct {
	RT     float64
	Intens float64
}

// EIC returns the extracted ion chromatogram of mz over all MS1 scans.
// Peaks within rtol*mz of mz are summed.
func (r *Run) EIC(mz, rtol float64) []EICPoint {
	mzErr := rtol * math.Abs(mz)
	eic := make([]EICPoint, len(r.MS1))
	for i, s := range r.MS1 {
		eic[i].RT = s.RT
		for _, p := range PeaksInMzWindow(mz-mzErr, mz+mzErr, s.Peaks) {
			eic[i].Intens += p.Intens
		}
	}
	return eic
}

// MaxEIC returns the maximum EIC intensity of mz over the scans with
// |RT-rt| < rtWindow. The second return value is false if no scan lies in
// that window.
func (r *Run) MaxEIC(mz, rt, rtol, rtWindow float64) (float64, bool) {
	found := false
	var max float64
	for _, p := range r.EIC(mz, rtol) {
		if p.RT <= rt-rtWindow || p.RT >= rt+rtWindow {
			continue
		}
		if !found || p.Intens > max {
			max = p.Intens
		}
		found = true
	}
	return max, found
}
