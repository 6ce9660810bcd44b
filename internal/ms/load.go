package ms

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/524D/opesid/internal/mzml"
)

// ErrNoMS1 means the run contains no MS1 scans, so precursors can't be
// traced
var ErrNoMS1 = errors.New("no MS1 spectra found")

// LoadFile reads an mzML file and builds its scan tables. progress may be
// nil.
func LoadFile(path string, progress func(done, total int)) (*Run, error) {
	mzFile, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer mzFile.Close()
	mzML, err := mzml.Read(mzFile)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if progress == nil {
		progress = func(int, int) {}
	}
	run, err := Load(&mzML, progress)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	run.Name = filepath.Base(path)
	return run, nil
}

// Load builds the MS1 and MS2 tables from an mzML document. Spectra of
// other MS levels, and MS2 spectra without a precursor m/z, are skipped.
// progress is called once per spectrum read.
func Load(f *mzml.MzML, progress func(done, total int)) (*Run, error) {
	log := zap.S().Named("ms")
	var run Run
	numSpecs := f.NumSpecs()
	warnProfile := true
	for i := 0; i < numSpecs; i++ {
		level, err := f.MSLevel(i)
		if err != nil {
			return nil, err
		}
		if level != 1 && level != 2 {
			progress(i+1, numSpecs)
			continue
		}
		rt, err := f.RetentionTime(i)
		if err != nil {
			return nil, err
		}
		id, _ := f.ScanID(i)
		peaks, err := f.ReadScan(i)
		if err != nil {
			return nil, fmt.Errorf("spectrum %s: %w", id, err)
		}
		if centroid, _ := f.Centroid(i); !centroid && warnProfile {
			log.Warnf("spectrum %s is not centroided, results may be poor", id)
			warnProfile = false
		}
		sortPeaks(peaks)
		if level == 1 {
			run.MS1 = append(run.MS1, MS1Scan{ID: id, RT: rt, Peaks: peaks})
		} else {
			prec, err := f.Precursor(i)
			if errors.Is(err, mzml.ErrNoPrecursor) {
				log.Debugf("spectrum %s has no precursor, skipped", id)
				progress(i+1, numSpecs)
				continue
			}
			if err != nil {
				return nil, err
			}
			run.MS2 = append(run.MS2, MS2Spectrum{
				ID:              id,
				RT:              rt,
				PrecursorMz:     prec.Mz,
				PrecursorIntens: prec.Intens,
				Charge:          prec.Charge,
				Peaks:           peaks,
			})
		}
		progress(i+1, numSpecs)
	}
	if err := run.index(); err != nil {
		return nil, err
	}
	return &run, nil
}

func sortPeaks(peaks []mzml.Peak) {
	if !sort.SliceIsSorted(peaks, func(i, j int) bool { return peaks[i].Mz < peaks[j].Mz }) {
		sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].Mz < peaks[j].Mz })
	}
}

// index sorts both tables by retention time, numbers them and links each
// MS2 spectrum to the last MS1 scan recorded at or before it.
func (r *Run) index() error {
	if len(r.MS1) == 0 {
		return ErrNoMS1
	}
	sort.SliceStable(r.MS1, func(i, j int) bool { return r.MS1[i].RT < r.MS1[j].RT })
	sort.SliceStable(r.MS2, func(i, j int) bool { return r.MS2[i].RT < r.MS2[j].RT })
	for i := range r.MS1 {
		r.MS1[i].Index = i
		r.MS1[i].Products = nil
	}
	for i := range r.MS2 {
		s := &r.MS2[i]
		s.Index = i
		s.MS1Index = r.findRtMs1(s.RT)
		parent := &r.MS1[s.MS1Index]
		parent.Products = append(parent.Products, i)
		if p, ok := NearestPeak(s.PrecursorMz, parent.Peaks); ok {
			s.PrecursorMS1Intens = p.Intens
		}
	}
	return nil
}

// findRtMs1 returns the index of the last MS1 scan with a retention time
// not after rt, or 0 if all scans are later
func (r *Run) findRtMs1(rt float64) int {
	j := sort.Search(len(r.MS1), func(i int) bool { return r.MS1[i].RT > rt })
	if j > 0 {
		j--
	}
	return j
}

// NewRun builds a Run from tables constructed in memory. Indices, parent
// scans and precursor MS1 intensities are (re)computed.
func NewRun(name string, ms1 []MS1Scan, ms2 []MS2Spectrum) (*Run, error) {
	r := &Run{Name: name, MS1: ms1, MS2: ms2}
	for i := range r.MS1 {
		sortPeaks(r.MS1[i].Peaks)
	}
	for i := range r.MS2 {
		sortPeaks(r.MS2[i].Peaks)
	}
	if err := r.index(); err != nil {
		return nil, err
	}
	return r, nil
}
