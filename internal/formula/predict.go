package formula

import (
	"math"
	"sort"

	"github.com/524D/opesid/internal/isotope"
)

// Limits are the allowed atom counts per element and the allowed degrees
// of unsaturation of the neutral molecule
type Limits struct {
	C, H, N, O, P []int
	DoU           []int
}

// Query describes an observed ion. Fixed holds atoms that every candidate
// contains, e.g. {"35Cl": 2, "37Cl": 1} from an isotope match.
type Query struct {
	Mz     float64
	Charge int
	Tol    float64 // relative
	Limits Limits
	Fixed  map[string]int
}

// Candidate is a formula within tolerance of the observed m/z.
// Deviation is (observed - theoretical) / theoretical.
type Candidate struct {
	Formula   Formula
	Deviation float64
}

// Predict enumerates all formulas within the limits whose m/z lies within
// the tolerance of q.Mz, sorted by absolute deviation. Hydrogen is solved
// from the remaining mass instead of enumerated.
func Predict(q Query) []Candidate {
	charge := q.Charge
	if charge == 0 {
		charge = 1
	}
	z := math.Abs(float64(charge))
	target := q.Mz * z

	fixed := New(q.Fixed, charge)
	fixedMass := fixed.Mass()
	hAllowed := toSet(q.Limits.H)
	douAllowed := toSet(q.Limits.DoU)

	mH := mono("H")
	mC, mN, mO, mP := mono("C"), mono("N"), mono("O"), mono("P")

	var cands []Candidate
	for _, c := range q.Limits.C {
		for _, n := range q.Limits.N {
			for _, p := range q.Limits.P {
				for _, o := range q.Limits.O {
					base := fixedMass + float64(c)*mC + float64(n)*mN + float64(o)*mO + float64(p)*mP
					h0 := int(math.Round((target - base) / mH))
					for h := h0 - 1; h <= h0+1; h++ {
						if h < 0 || !hAllowed[h] {
							continue
						}
						m := base + float64(h)*mH
						if math.Abs(m-target) > q.Tol*target {
							continue
						}
						f := fixed.Add("C", c).Add("H", h).Add("N", n).Add("O", o).Add("P", p)
						dou := f.DoU()
						if dou != math.Trunc(dou) || !douAllowed[int(dou)] {
							continue
						}
						cands = append(cands, Candidate{
							Formula:   f,
							Deviation: (q.Mz - f.Mz()) / f.Mz(),
						})
					}
				}
			}
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return math.Abs(cands[i].Deviation) < math.Abs(cands[j].Deviation)
	})
	return cands
}

// RestrictDoU removes the values below min from dou. If none remain, the
// result is just min.
func RestrictDoU(dou []int, min int) []int {
	var out []int
	for _, d := range dou {
		if d >= min {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		out = []int{min}
	}
	return out
}

func mono(symbol string) float64 {
	e, _ := isotope.Lookup(symbol)
	return e.Monoisotopic().Mass
}

func toSet(v []int) map[int]bool {
	s := make(map[int]bool, len(v))
	for _, x := range v {
		s[x] = true
	}
	return s
}
