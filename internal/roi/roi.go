// Package roi groups MS2 precursors into chromatographic regions of
// interest by tracing their m/z through consecutive MS1 scans.
package roi

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/524D/opesid/internal/ms"
)

// TracePoint is the MS1 peak nearest to the running mean m/z of a region in
// one scan. Intens is 0 when the scan has no peaks.
type TracePoint struct {
	Scan   int
	RT     float64
	Mz     float64
	Intens float64
}

// ROI is one region of interest
type ROI struct {
	ID      int
	Members []int // MS2 indices, ascending
	Trace   []TracePoint
}

// Result of Group. Assignment maps each MS2 index to its region id.
type Result struct {
	Assignment []int
	ROIs       []ROI
}

// Group assigns every MS2 precursor to exactly one region. Precursors are
// processed in table order; an unassigned precursor opens a new region,
// which is extended forward and then backward through the MS1 scans for as
// long as either another unassigned precursor or an MS1 peak lies within
// massDeviation (relative) of the mean of all m/z values matched so far.
// progress, if not nil, is called once per precursor.
func Group(ms1 []ms.MS1Scan, ms2 []ms.MS2Spectrum, massDeviation float64,
	progress func(done, total int)) Result {

	res := Result{Assignment: make([]int, len(ms2))}
	for i := range res.Assignment {
		res.Assignment[i] = -1
	}
	byScan := make(map[int][]int)
	for i, s := range ms2 {
		byScan[s.MS1Index] = append(byScan[s.MS1Index], i)
	}

	for i, seed := range ms2 {
		if res.Assignment[i] == -1 {
			g := &grouper{
				ms1:    ms1,
				ms2:    ms2,
				byScan: byScan,
				assign: res.Assignment,
				dev:    massDeviation,
				roi:    ROI{ID: len(res.ROIs)},
				masses: []float64{seed.PrecursorMz},
			}
			g.claim(i)
			if seed.MS1Index >= 0 && seed.MS1Index < len(ms1) {
				g.addTrace(seed.MS1Index, seed.PrecursorMz)
				g.walk(seed.MS1Index, 1)
				g.walk(seed.MS1Index, -1)
			}
			sort.Ints(g.roi.Members)
			sort.Slice(g.roi.Trace, func(a, b int) bool { return g.roi.Trace[a].Scan < g.roi.Trace[b].Scan })
			res.ROIs = append(res.ROIs, g.roi)
		}
		if progress != nil {
			progress(i+1, len(ms2))
		}
	}
	return res
}

type grouper struct {
	ms1    []ms.MS1Scan
	ms2    []ms.MS2Spectrum
	byScan map[int][]int
	assign []int
	dev    float64
	roi    ROI
	masses []float64
}

func (g *grouper) claim(i int) {
	g.assign[i] = g.roi.ID
	g.roi.Members = append(g.roi.Members, i)
}

// walk extends the region from scan start in direction dir (+1 or -1)
func (g *grouper) walk(start, dir int) {
	for p := start + dir; p >= 0 && p < len(g.ms1); p += dir {
		mean := stat.Mean(g.masses, nil)
		mzErr := mean * g.dev
		hit := false
		for _, j := range g.byScan[p] {
			if g.assign[j] == -1 && math.Abs(g.ms2[j].PrecursorMz-mean) <= mzErr {
				g.claim(j)
				g.masses = append(g.masses, g.ms2[j].PrecursorMz)
				hit = true
			}
		}
		if !hit {
			peak, ok := ms.NearestPeakWithin(mean, mzErr, g.ms1[p].Peaks)
			if !ok {
				return
			}
			g.masses = append(g.masses, peak.Mz)
		}
		g.addTrace(p, mean)
	}
}

func (g *grouper) addTrace(scan int, mz float64) {
	tp := TracePoint{Scan: scan, RT: g.ms1[scan].RT, Mz: mz}
	if peak, ok := ms.NearestPeak(mz, g.ms1[scan].Peaks); ok {
		tp.Mz = peak.Mz
		tp.Intens = peak.Intens
	}
	g.roi.Trace = append(g.roi.Trace, tp)
}

// Apex returns, for each region, the member with the highest precursor MS1
// intensity. The first member wins ties.
func (r Result) Apex(ms2 []ms.MS2Spectrum) []int {
	apex := make([]int, len(r.ROIs))
	for k, roi := range r.ROIs {
		best := -1
		for _, i := range roi.Members {
			if best == -1 || ms2[i].PrecursorMS1Intens > ms2[best].PrecursorMS1Intens {
				best = i
			}
		}
		apex[k] = best
	}
	return apex
}
