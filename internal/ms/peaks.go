package ms

import (
	"math"
	"sort"

	"github.com/524D/opesid/internal/mzml"
)

// PeaksInMzWindow returns the peaks with mzMin <= m/z <= mzMax.
// Peaks must be ordered by mz prior to calling this function.
// The result shares memory with peaks.
func PeaksInMzWindow(mzMin, mzMax float64, peaks []mzml.Peak) []mzml.Peak {
	i1 := sort.Search(len(peaks), func(i int) bool { return peaks[i].Mz >= mzMin })
	i2 := sort.Search(len(peaks), func(i int) bool { return peaks[i].Mz > mzMax })
	if i2 < i1 {
		return nil
	}
	return peaks[i1:i2]
}

// NearestPeak returns the peak closest in m/z to mz. The second return
// value is false for an empty peak list.
func NearestPeak(mz float64, peaks []mzml.Peak) (mzml.Peak, bool) {
	if len(peaks) == 0 {
		return mzml.Peak{}, false
	}
	i := sort.Search(len(peaks), func(i int) bool { return peaks[i].Mz >= mz })
	switch {
	case i == 0:
		return peaks[0], true
	case i == len(peaks):
		return peaks[i-1], true
	case mz-peaks[i-1].Mz <= peaks[i].Mz-mz:
		return peaks[i-1], true
	}
	return peaks[i], true
}

// NearestPeakWithin returns the peak closest to mz if its distance is at
// most mzErr.
func NearestPeakWithin(mz, mzErr float64, peaks []mzml.Peak) (mzml.Peak, bool) {
	p, ok := NearestPeak(mz, peaks)
	if !ok || math.Abs(p.Mz-mz) > mzErr {
		return mzml.Peak{}, false
	}
	return p, true
}

// ContainsMz reports whether a peak lies within rtol*mz of mz
func ContainsMz(mz, rtol float64, peaks []mzml.Peak) bool {
	_, ok := NearestPeakWithin(mz, rtol*math.Abs(mz), peaks)
	return ok
}
