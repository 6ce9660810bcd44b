// Package formula handles charged elemental formulas with optional
// isotope-specific atoms, e.g. "C18H16[35Cl]2[37Cl]O4P+".
package formula

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/524D/opesid/internal/isotope"
)

// MassElectron is the electron rest mass in Da
const MassElectron = float64(0.000548579909)

// ErrSyntax means a formula string can't be parsed
var ErrSyntax = errors.New("invalid formula")

// Formula maps element symbols ("Cl") or isotope labels ("37Cl") to atom
// counts. The zero value is the empty, neutral formula.
type Formula struct {
	counts map[string]int
	Charge int
}

// New returns a formula with the given counts and charge
func New(counts map[string]int, charge int) Formula {
	f := Formula{counts: make(map[string]int, len(counts)), Charge: charge}
	for k, v := range counts {
		if v != 0 {
			f.counts[k] = v
		}
	}
	return f
}

// Parse reads formulas like "C6H8O4P+", "PO4H4+", "C2H3[37Cl]O-2".
// A trailing run of '+' or '-' gives the charge, optionally followed by a
// number ("+2").
func Parse(s string) (Formula, error) {
	f := Formula{counts: map[string]int{}}
	rs := []rune(strings.TrimSpace(s))
	i := 0
	for i < len(rs) {
		var key string
		switch {
		case rs[i] == '[':
			end := strings.IndexRune(string(rs[i:]), ']')
			if end < 0 {
				return Formula{}, fmt.Errorf("%w %q: unclosed bracket", ErrSyntax, s)
			}
			key = string(rs[i+1 : i+end])
			if _, _, err := isotope.LookupIsotope(key); err != nil {
				return Formula{}, fmt.Errorf("%w %q: %v", ErrSyntax, s, err)
			}
			i += end + 1
		case unicode.IsUpper(rs[i]):
			j := i + 1
			for j < len(rs) && unicode.IsLower(rs[j]) {
				j++
			}
			key = string(rs[i:j])
			if _, err := isotope.Lookup(key); err != nil {
				return Formula{}, fmt.Errorf("%w %q: %v", ErrSyntax, s, err)
			}
			i = j
		case rs[i] == '+' || rs[i] == '-':
			charge, err := parseCharge(string(rs[i:]))
			if err != nil {
				return Formula{}, fmt.Errorf("%w %q: %v", ErrSyntax, s, err)
			}
			f.Charge = charge
			i = len(rs)
			continue
		default:
			return Formula{}, fmt.Errorf("%w %q: unexpected %q", ErrSyntax, s, rs[i])
		}
		j := i
		for j < len(rs) && unicode.IsDigit(rs[j]) {
			j++
		}
		n := 1
		if j > i {
			n, _ = strconv.Atoi(string(rs[i:j]))
		}
		f.counts[key] += n
		i = j
	}
	if len(f.counts) == 0 {
		return Formula{}, fmt.Errorf("%w %q: no atoms", ErrSyntax, s)
	}
	return f, nil
}

func parseCharge(s string) (int, error) {
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	n := 0
	for n < len(s) && s[n] == s[0] {
		n++
	}
	if n == len(s) {
		return sign * n, nil
	}
	if n > 1 {
		return 0, fmt.Errorf("bad charge %q", s)
	}
	v, err := strconv.Atoi(s[1:])
	if err != nil || v < 1 {
		return 0, fmt.Errorf("bad charge %q", s)
	}
	return sign * v, nil
}

// Count returns the number of atoms for an element symbol or isotope label
func (f Formula) Count(key string) int {
	return f.counts[key]
}

// ElementCount returns the number of atoms of an element, including
// isotope-specific entries
func (f Formula) ElementCount(symbol string) int {
	n := 0
	for k, v := range f.counts {
		if strings.TrimLeft(k, "0123456789") == symbol {
			n += v
		}
	}
	return n
}

func isIsotope(key string) bool {
	return key != "" && key[0] >= '0' && key[0] <= '9'
}

// Mass returns the monoisotopic mass, corrected for the electrons lost or
// gained by the charge
func (f Formula) Mass() float64 {
	var m float64
	for k, v := range f.counts {
		m += float64(v) * atomMass(k)
	}
	return m - float64(f.Charge)*MassElectron
}

// Mz returns Mass divided by the absolute charge, or Mass when neutral
func (f Formula) Mz() float64 {
	if f.Charge == 0 {
		return f.Mass()
	}
	return f.Mass() / math.Abs(float64(f.Charge))
}

func atomMass(key string) float64 {
	if isIsotope(key) {
		iso, _, _ := isotope.LookupIsotope(key)
		return iso.Mass
	}
	e, _ := isotope.Lookup(key)
	return e.Monoisotopic().Mass
}

// Clone returns an independent copy
func (f Formula) Clone() Formula {
	return New(f.counts, f.Charge)
}

// Add returns f with n atoms of key added (n may be negative)
func (f Formula) Add(key string, n int) Formula {
	g := f.Clone()
	g.counts[key] += n
	if g.counts[key] == 0 {
		delete(g.counts, key)
	}
	return g
}

// Neutral returns the neutral molecule of a protonated or deprotonated
// ion: one hydrogen is removed per positive charge
func (f Formula) Neutral() Formula {
	g := f.Add("H", -f.Charge)
	g.Charge = 0
	return g
}

// Elemental returns f with isotope-specific atoms counted under their
// element, e.g. "C6H12[35Cl]2[37Cl]O4P" becomes "C6H12Cl3O4P"
func (f Formula) Elemental() Formula {
	g := Formula{counts: make(map[string]int, len(f.counts)), Charge: f.Charge}
	for k, v := range f.counts {
		g.counts[strings.TrimLeft(k, "0123456789")] += v
	}
	return g
}

// Deprotonated2 converts an [M+H]+ ion into the matching [M-H]- ion
func (f Formula) Deprotonated2() Formula {
	g := f.Add("H", -2)
	g.Charge -= 2
	return g
}

// DoU returns the degree of unsaturation of the neutral molecule, with
// phosphorus counted as pentavalent.
func (f Formula) DoU() float64 {
	n := f.Neutral()
	dou := 1.0
	for k, v := range n.counts {
		dou += float64(v) * float64(valence(strings.TrimLeft(k, "0123456789"))-2) / 2
	}
	return dou
}

func valence(symbol string) int {
	switch symbol {
	case "C":
		return 4
	case "N":
		return 3
	case "O", "S":
		return 2
	case "P":
		return 5
	}
	return 1
}

// String renders the formula in Hill order: C, H, then the other elements
// alphabetically (all alphabetical without carbon). Isotope-specific atoms
// follow their element in bracket notation.
func (f Formula) String() string {
	keys := make([]string, 0, len(f.counts))
	for k, v := range f.counts {
		if v != 0 {
			keys = append(keys, k)
		}
	}
	hasC := f.ElementCount("C") > 0
	rank := func(k string) (int, string, int) {
		sym := strings.TrimLeft(k, "0123456789")
		massNum := 0
		if isIsotope(k) {
			massNum, _ = strconv.Atoi(k[:len(k)-len(sym)])
		}
		r := 2
		if hasC && sym == "C" {
			r = 0
		} else if hasC && sym == "H" {
			r = 1
		}
		return r, sym, massNum
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, si, mi := rank(keys[i])
		rj, sj, mj := rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		if si != sj {
			return si < sj
		}
		return mi < mj
	})
	var sb strings.Builder
	for _, k := range keys {
		if isIsotope(k) {
			sb.WriteString("[" + k + "]")
		} else {
			sb.WriteString(k)
		}
		if n := f.counts[k]; n != 1 {
			sb.WriteString(strconv.Itoa(n))
		}
	}
	switch {
	case f.Charge == 1:
		sb.WriteString("+")
	case f.Charge == -1:
		sb.WriteString("-")
	case f.Charge > 1:
		sb.WriteString("+" + strconv.Itoa(f.Charge))
	case f.Charge < -1:
		sb.WriteString("-" + strconv.Itoa(-f.Charge))
	}
	return sb.String()
}
