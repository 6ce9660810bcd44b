// Package isomatch infers the halogen content of a precursor by matching
// theoretical isotope distributions against its MS1 spectrum.
package isomatch

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/combin"

	"github.com/524D/opesid/internal/isotope"
	"github.com/524D/opesid/internal/ms"
	"github.com/524D/opesid/internal/mzml"
)

// ErrEmptyGrid means an element in the count grid has no counts
var ErrEmptyGrid = errors.New("isotope grid: empty count list")

// ElementCounts lists the atom counts to try for one element
type ElementCounts struct {
	Element string
	Counts  []int
}

// ElementCount is a single point of the grid
type ElementCount struct {
	Element string
	N       int
}

// Options of the matcher. Tol is a relative mass tolerance. Distribution
// entries closer than MergeAtol (absolute) or MergeRtol (relative to the
// mean mass plus MergeRtolBase) are merged when those are > 0.
type Options struct {
	Tol           float64
	TopN          int
	Sigma         float64
	Threshold     float64
	MergeAtol     float64
	MergeRtol     float64
	MergeRtolBase float64
}

// DefaultOptions returns the tolerances used for chlorine detection
func DefaultOptions() Options {
	return Options{
		Tol:       5e-6,
		TopN:      5,
		Sigma:     0.1,
		Threshold: 0.8,
	}
}

// Candidate is one hypothesis of the grid with its normalized theoretical
// distribution
type Candidate struct {
	Counts       []ElementCount
	Distribution []isotope.Entry
}

// Match is the best scoring isotope hypothesis for a precursor.
// Composition holds the isotope counts of the entry that was anchored on
// the precursor peak.
type Match struct {
	Score       float64
	Label       string
	Composition map[string]int
	Counts      []ElementCount
}

// Candidates enumerates the Cartesian product of the grid, in grid order,
// skipping the point where all counts are zero.
func Candidates(grid []ElementCounts, opts Options) ([]Candidate, error) {
	if len(grid) == 0 {
		return nil, nil
	}
	lens := make([]int, len(grid))
	for i, g := range grid {
		if len(g.Counts) == 0 {
			return nil, fmt.Errorf("%w for %s", ErrEmptyGrid, g.Element)
		}
		lens[i] = len(g.Counts)
	}
	var cands []Candidate
	gen := combin.NewCartesianGenerator(lens)
	idx := make([]int, len(lens))
	for gen.Next() {
		gen.Product(idx)
		counts := make([]ElementCount, 0, len(grid))
		for i, j := range idx {
			if n := grid[i].Counts[j]; n != 0 {
				counts = append(counts, ElementCount{grid[i].Element, n})
			}
		}
		if len(counts) == 0 {
			continue
		}
		dist, err := Theoretical(counts, opts)
		if err != nil {
			return nil, err
		}
		cands = append(cands, Candidate{Counts: counts, Distribution: dist})
	}
	return cands, nil
}

// Theoretical returns the isotope distribution of an element cluster,
// merged, normalized to a maximum of 1 and reduced to the TopN most
// abundant entries (kept in mass order).
func Theoretical(counts []ElementCount, opts Options) ([]isotope.Entry, error) {
	dist := []isotope.Entry{{Composition: map[string]int{}, Abundance: 1}}
	for _, c := range counts {
		if c.N == 0 {
			continue
		}
		elDist, err := isotope.Distribution(c.Element, c.N)
		if err != nil {
			return nil, err
		}
		dist = convolve(dist, elDist)
	}
	sort.SliceStable(dist, func(i, j int) bool { return dist[i].Mass < dist[j].Mass })
	if opts.MergeAtol > 0 || opts.MergeRtol > 0 {
		dist = merge(dist, opts)
	}

	max := 0.0
	for _, e := range dist {
		max = math.Max(max, e.Abundance)
	}
	if max > 0 {
		for i := range dist {
			dist[i].Abundance /= max
		}
	}
	if opts.TopN > 0 && len(dist) > opts.TopN {
		byAbundance := make([]isotope.Entry, len(dist))
		copy(byAbundance, dist)
		sort.SliceStable(byAbundance, func(i, j int) bool {
			return byAbundance[i].Abundance > byAbundance[j].Abundance
		})
		dist = byAbundance[:opts.TopN]
		sort.SliceStable(dist, func(i, j int) bool { return dist[i].Mass < dist[j].Mass })
	}
	return dist, nil
}

func convolve(a, b []isotope.Entry) []isotope.Entry {
	out := make([]isotope.Entry, 0, len(a)*len(b))
	for _, x := range a {
		for _, y := range b {
			comp := make(map[string]int, len(x.Composition)+len(y.Composition))
			for k, v := range x.Composition {
				comp[k] += v
			}
			for k, v := range y.Composition {
				comp[k] += v
			}
			out = append(out, isotope.Entry{
				Mass:        x.Mass + y.Mass,
				Abundance:   x.Abundance * y.Abundance,
				Label:       isotope.Label(comp),
				Composition: comp,
			})
		}
	}
	return out
}

// merge joins every not yet visited entry with all entries within the
// tolerances. The merged entry has the mean mass, the summed abundance and
// the label of the lightest member. dist must be sorted by mass.
func merge(dist []isotope.Entry, opts Options) []isotope.Entry {
	visited := make([]bool, len(dist))
	var merged []isotope.Entry
	for i := range dist {
		if visited[i] {
			continue
		}
		var masses []float64
		e := dist[i]
		e.Abundance = 0
		for j := range dist {
			if visited[j] || !closeMass(dist[i].Mass, dist[j].Mass, opts) {
				continue
			}
			visited[j] = true
			masses = append(masses, dist[j].Mass)
			e.Abundance += dist[j].Abundance
		}
		e.Mass = floats.Sum(masses) / float64(len(masses))
		merged = append(merged, e)
	}
	return merged
}

func closeMass(a, b float64, opts Options) bool {
	d := math.Abs(a - b)
	if opts.MergeAtol > 0 && d >= opts.MergeAtol {
		return false
	}
	if opts.MergeRtol > 0 && d/((a+b)/2+opts.MergeRtolBase) >= opts.MergeRtol {
		return false
	}
	return true
}

// Best scores every candidate against the MS1 peaks around a precursor and
// returns the best one if its score reaches the threshold.
//
// Each distribution entry is tried as the precursor peak. For every other
// entry, the MS1 peaks at the expected m/z offset are collected; each
// combination of one peak per entry is scored by fitting the theoretical
// abundances with a single scale factor and taking the worst Gaussian
// residual weight. An entry without any peak at its offset makes the anchor
// fail.
func Best(mz, intens float64, peaks []mzml.Peak, cands []Candidate, opts Options) (Match, bool) {
	var best Match
	found := false
	for _, cand := range cands {
		dist := cand.Distribution
		for i := range dist {
			score, ok := anchorScore(mz, intens, peaks, dist, i, opts)
			if !ok {
				continue
			}
			if !found || score > best.Score {
				best = Match{
					Score:       score,
					Label:       dist[i].Label,
					Composition: dist[i].Composition,
					Counts:      cand.Counts,
				}
				found = true
			}
		}
	}
	if !found || best.Score < opts.Threshold {
		return Match{}, false
	}
	return best, true
}

func anchorScore(mz, intens float64, peaks []mzml.Peak, dist []isotope.Entry, anchor int,
	opts Options) (float64, bool) {

	theo := make([]float64, 0, len(dist))
	theo = append(theo, dist[anchor].Abundance)
	sets := [][]float64{{intens}}
	for j, e := range dist {
		if j == anchor {
			continue
		}
		diff := e.Mass - dist[anchor].Mass
		mzMin := (1 - opts.Tol) * (mz/(1+opts.Tol) + diff)
		mzMax := (1 + opts.Tol) * (mz/(1-opts.Tol) + diff)
		window := ms.PeaksInMzWindow(mzMin, mzMax, peaks)
		if len(window) == 0 {
			return 0, false
		}
		set := make([]float64, len(window))
		for k, p := range window {
			set[k] = p.Intens
		}
		sets = append(sets, set)
		theo = append(theo, e.Abundance)
	}

	lens := make([]int, len(sets))
	for i, s := range sets {
		lens[i] = len(s)
	}
	obs := make([]float64, len(sets))
	idx := make([]int, len(sets))
	best := 0.0
	gen := combin.NewCartesianGenerator(lens)
	for gen.Next() {
		gen.Product(idx)
		for i, j := range idx {
			obs[i] = sets[i][j]
		}
		best = math.Max(best, fitScore(obs, theo, opts.Sigma))
	}
	return best, true
}

// fitScore fits theo ≈ k*obs in the least squares sense and returns the
// smallest Gaussian weight of the residuals
func fitScore(obs, theo []float64, sigma float64) float64 {
	cc := floats.Dot(obs, obs)
	if cc == 0 {
		return 0
	}
	k := floats.Dot(obs, theo) / cc
	score := 1.0
	for i := range obs {
		delta := theo[i] - obs[i]*k
		score = math.Min(score, math.Exp(-delta*delta/(2*sigma*sigma)))
	}
	return score
}
