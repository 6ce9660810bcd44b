// Package pipeline identifies organophosphate esters in a pair of positive
// and negative mode runs, and prepares and runs MetFrag for the result.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/524D/opesid/internal/config"
	"github.com/524D/opesid/internal/formula"
	"github.com/524D/opesid/internal/isomatch"
	"github.com/524D/opesid/internal/ms"
	"github.com/524D/opesid/internal/mzml"
	"github.com/524D/opesid/internal/progress"
	"github.com/524D/opesid/internal/roi"
)

// Stage names reported to the progress sink
const (
	StageLoad     = "data_load"
	StageScreen   = "ms2_screen"
	StageROI      = "roi"
	StageIsotope  = "cl"
	StageFormula  = "formula"
	StageTriEster = "tri-ester"
	StageMetFrag  = "metfrag"
)

// The [M-H]- ion of a candidate is searched in the negative run within
// this tolerance and retention time window (seconds)
const (
	triEsterRtol   = 5e-6
	triEsterWindow = 60.0
)

// Hit is an MS2 spectrum of the positive run containing at least one
// target ion
type Hit struct {
	MS2Index int
	Ions     []config.TargetIon
	Class    string
}

// Candidate is one formula hypothesis for the apex spectrum of a region
type Candidate struct {
	MS2Index           int
	ScanID             string
	RT                 float64
	PrecursorMz        float64
	PrecursorMS1Intens float64
	ROI                int
	Class              string
	Ions               []config.TargetIon
	Isotope            *isomatch.Match
	Formula            formula.Formula
	Deviation          float64
	TriEster           bool
	Peaks              []mzml.Peak
}

// Result holds the output of every stage. Apex and Isotopes are aligned
// with ROIs.ROIs; the ROI members index into Hits.
type Result struct {
	Pos, Neg   *ms.Run
	Hits       []Hit
	ROIs       roi.Result
	Apex       []int
	Isotopes   []*isomatch.Match
	Candidates []Candidate
}

// Identifier runs the identification stages
type Identifier struct {
	cfg      *config.Config
	targets  []config.TargetIon
	progress progress.Func
	workers  int
	log      *zap.SugaredLogger
}

// New returns an Identifier for the given settings and target ions
func New(cfg *config.Config, targets []config.TargetIon) *Identifier {
	workers := cfg.Formula.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Identifier{
		cfg:     cfg,
		targets: targets,
		workers: workers,
		log:     zap.S().Named("pipeline"),
	}
}

// SetProgress sets the progress sink
func (id *Identifier) SetProgress(f progress.Func) {
	id.progress = f
}

// Run loads the negative and the positive run named in the configuration
// and identifies candidates
func (id *Identifier) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	neg, err := ms.LoadFile(id.cfg.Path.NegFile, progress.Range(id.progress, StageLoad, 0, 50))
	if err != nil {
		return nil, err
	}
	if err := progress.Checkpoint(ctx); err != nil {
		return nil, err
	}
	pos, err := ms.LoadFile(id.cfg.Path.PosFile, progress.Range(id.progress, StageLoad, 50, 100))
	if err != nil {
		return nil, err
	}
	id.log.Infof("loaded %s (%s MS1, %s MS2) and %s (%s MS1, %s MS2) in %v",
		pos.Name, humanize.Comma(int64(len(pos.MS1))), humanize.Comma(int64(len(pos.MS2))),
		neg.Name, humanize.Comma(int64(len(neg.MS1))), humanize.Comma(int64(len(neg.MS2))),
		time.Since(start).Round(time.Millisecond))
	if err := progress.Checkpoint(ctx); err != nil {
		return nil, err
	}
	return id.Identify(ctx, pos, neg)
}

// Identify runs the stages after loading: fragment screen, ROI grouping,
// isotope matching, formula prediction and the tri-ester check. The
// context is checked between stages.
func (id *Identifier) Identify(ctx context.Context, pos, neg *ms.Run) (*Result, error) {
	res := &Result{Pos: pos, Neg: neg}

	t := time.Now()
	res.Hits = Screen(pos, id.targets, id.cfg.TargetIon.MassAcc, progress.Range(id.progress, StageScreen, 0, 100))
	id.log.Infof("screen: %s of %s MS2 spectra contain a target ion (%v)",
		humanize.Comma(int64(len(res.Hits))), humanize.Comma(int64(len(pos.MS2))), time.Since(t).Round(time.Millisecond))
	if err := progress.Checkpoint(ctx); err != nil {
		return nil, err
	}

	t = time.Now()
	hitSpectra := make([]ms.MS2Spectrum, len(res.Hits))
	for i, h := range res.Hits {
		hitSpectra[i] = pos.MS2[h.MS2Index]
	}
	res.ROIs = roi.Group(pos.MS1, hitSpectra, id.cfg.ROI.MassAcc, progress.Range(id.progress, StageROI, 0, 100))
	res.Apex = res.ROIs.Apex(hitSpectra)
	id.log.Infof("roi: %s regions (%v)", humanize.Comma(int64(len(res.ROIs.ROIs))), time.Since(t).Round(time.Millisecond))
	if err := progress.Checkpoint(ctx); err != nil {
		return nil, err
	}

	t = time.Now()
	apexMS2 := make([]int, len(res.Apex))
	for k, h := range res.Apex {
		apexMS2[k] = res.Hits[h].MS2Index
	}
	matches, err := id.matchIsotopes(ctx, pos, apexMS2)
	if err != nil {
		return nil, err
	}
	res.Isotopes = matches
	id.log.Infof("isotopes: %d of %d regions matched (%v)", countMatches(matches), len(matches), time.Since(t).Round(time.Millisecond))

	t = time.Now()
	formulas, err := id.predictFormulas(ctx, res)
	if err != nil {
		return nil, err
	}
	id.log.Infof("formula: prediction done (%v)", time.Since(t).Round(time.Millisecond))

	t = time.Now()
	res.Candidates = id.checkTriEsters(res, formulas)
	id.log.Infof("tri-ester: %s candidates (%v)", humanize.Comma(int64(len(res.Candidates))), time.Since(t).Round(time.Millisecond))
	if err := progress.Checkpoint(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// Screen returns the MS2 spectra of run that contain at least one target
// ion within rtol. A hit is of class Aryl when any aryl ion matched.
func Screen(run *ms.Run, targets []config.TargetIon, rtol float64, prog func(done, total int)) []Hit {
	mzs := make([]float64, len(targets))
	for i, t := range targets {
		mzs[i] = t.Mz()
	}
	var hits []Hit
	for i, s := range run.MS2 {
		h := Hit{MS2Index: i, Class: config.ClassAlkyl}
		for t, ion := range targets {
			if ms.ContainsMz(mzs[t], rtol, s.Peaks) {
				h.Ions = append(h.Ions, ion)
				if ion.Class == config.ClassAryl {
					h.Class = config.ClassAryl
				}
			}
		}
		if len(h.Ions) > 0 {
			hits = append(hits, h)
		}
		if prog != nil {
			prog(i+1, len(run.MS2))
		}
	}
	return hits
}

func (id *Identifier) matchIsotopes(ctx context.Context, pos *ms.Run, indices []int) ([]*isomatch.Match, error) {
	grid, err := id.cfg.IsotopeGrid()
	if err != nil {
		return nil, err
	}
	opts := id.cfg.IsotopeOptions()
	cands, err := isomatch.Candidates(grid, opts)
	if err != nil {
		return nil, fmt.Errorf("isotope candidates: %w", err)
	}
	matches, err := isomatch.MatchAll(ctx, pos, indices, cands, opts, id.workers,
		progress.Range(id.progress, StageIsotope, 0, 100))
	if err != nil {
		if cerr := progress.Checkpoint(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("isotope matching: %w", err)
	}
	return matches, nil
}

// predictFormulas returns the formula candidates per region
func (id *Identifier) predictFormulas(ctx context.Context, res *Result) ([][]formula.Candidate, error) {
	limits, err := id.cfg.FormulaLimits()
	if err != nil {
		return nil, err
	}
	out := make([][]formula.Candidate, len(res.Apex))
	prog := progress.Range(id.progress, StageFormula, 0, 100)
	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(id.workers)
	for k, h := range res.Apex {
		k, h := k, h // per-iteration copy (go 1.21 loop semantics)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hit := res.Hits[h]
			s := res.Pos.MS2[hit.MS2Index]
			lim := limits
			minDoU := 1
			if hit.Class == config.ClassAryl {
				minDoU = 5
			}
			lim.DoU = formula.RestrictDoU(limits.DoU, minDoU)
			q := formula.Query{
				Mz:     s.PrecursorMz,
				Charge: 1,
				Tol:    id.cfg.Formula.MassAcc,
				Limits: lim,
			}
			if m := res.Isotopes[k]; m != nil {
				q.Fixed = m.Composition
			}
			out[k] = formula.Predict(q)

			mu.Lock()
			done++
			prog(done, len(res.Apex))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if cerr := progress.Checkpoint(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	return out, nil
}

// checkTriEsters builds the candidate rows. A formula is a tri-ester when
// the MS1 intensity of its precursor exceeds every intensity of its [M-H]-
// ion in the negative run within one minute; without negative scans in
// that window it is not.
func (id *Identifier) checkTriEsters(res *Result, formulas [][]formula.Candidate) []Candidate {
	total := 0
	for _, fs := range formulas {
		total += len(fs)
	}
	prog := progress.Range(id.progress, StageTriEster, 0, 100)
	var cands []Candidate
	for k, fs := range formulas {
		hit := res.Hits[res.Apex[k]]
		s := res.Pos.MS2[hit.MS2Index]
		for _, f := range fs {
			c := Candidate{
				MS2Index:           hit.MS2Index,
				ScanID:             s.ID,
				RT:                 s.RT,
				PrecursorMz:        s.PrecursorMz,
				PrecursorMS1Intens: s.PrecursorMS1Intens,
				ROI:                k,
				Class:              hit.Class,
				Ions:               hit.Ions,
				Isotope:            res.Isotopes[k],
				Formula:            f.Formula,
				Deviation:          f.Deviation,
				Peaks:              s.Peaks,
			}
			if res.Neg != nil {
				mz := f.Formula.Deprotonated2().Mz()
				negMax, ok := res.Neg.MaxEIC(mz, s.RT, triEsterRtol, triEsterWindow)
				c.TriEster = ok && s.PrecursorMS1Intens > negMax
			}
			cands = append(cands, c)
			prog(len(cands), total)
		}
	}
	return cands
}

func countMatches(m []*isomatch.Match) int {
	n := 0
	for _, x := range m {
		if x != nil {
			n++
		}
	}
	return n
}
