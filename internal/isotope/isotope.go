// Package isotope is a small table of elements with their stable isotopes
// and the isotope distributions of element clusters.
package isotope

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrUnknownElement means an element or isotope symbol is not in the table
var ErrUnknownElement = errors.New("unknown element")

// Isotope of an element. Label is the mass number followed by the
// element symbol, e.g. "37Cl".
type Isotope struct {
	Label     string
	Mass      float64
	Abundance float64
}

// Element with its isotopes, most abundant first
type Element struct {
	Symbol   string
	Isotopes []Isotope
}

// Monoisotopic returns the most abundant isotope
func (e Element) Monoisotopic() Isotope {
	return e.Isotopes[0]
}

// IUPAC masses and representative abundances
var elements = []Element{
	{"H", []Isotope{{"1H", 1.00782503207, 0.999885}, {"2H", 2.0141017778, 0.000115}}},
	{"C", []Isotope{{"12C", 12.0, 0.9893}, {"13C", 13.0033548378, 0.0107}}},
	{"N", []Isotope{{"14N", 14.0030740048, 0.99636}, {"15N", 15.0001088982, 0.00364}}},
	{"O", []Isotope{{"16O", 15.99491461956, 0.99757}, {"18O", 17.9991610, 0.00205}, {"17O", 16.99913170, 0.00038}}},
	{"F", []Isotope{{"19F", 18.99840322, 1.0}}},
	{"Na", []Isotope{{"23Na", 22.9897692809, 1.0}}},
	{"P", []Isotope{{"31P", 30.97376163, 1.0}}},
	{"S", []Isotope{{"32S", 31.97207100, 0.9499}, {"34S", 33.96786690, 0.0425}, {"33S", 32.97145876, 0.0075}, {"36S", 35.96708076, 0.0001}}},
	{"Cl", []Isotope{{"35Cl", 34.96885268, 0.7576}, {"37Cl", 36.96590259, 0.2424}}},
	{"K", []Isotope{{"39K", 38.96370668, 0.932581}, {"41K", 40.96182576, 0.067302}, {"40K", 39.96399848, 0.000117}}},
	{"Br", []Isotope{{"79Br", 78.9183371, 0.5069}, {"81Br", 80.9162906, 0.4931}}},
	{"I", []Isotope{{"127I", 126.904473, 1.0}}},
}

var bySymbol = map[string]int{}
var byLabel = map[string][2]int{}

func init() {
	for i, e := range elements {
		bySymbol[e.Symbol] = i
		for j, iso := range e.Isotopes {
			byLabel[iso.Label] = [2]int{i, j}
		}
	}
}

// Lookup returns the element with the given symbol
func Lookup(symbol string) (Element, error) {
	i, ok := bySymbol[symbol]
	if !ok {
		return Element{}, fmt.Errorf("%w: %q", ErrUnknownElement, symbol)
	}
	return elements[i], nil
}

// LookupIsotope returns an isotope by its label, e.g. "35Cl", together
// with its element
func LookupIsotope(label string) (Isotope, Element, error) {
	ij, ok := byLabel[label]
	if !ok {
		return Isotope{}, Element{}, fmt.Errorf("%w: %q", ErrUnknownElement, label)
	}
	e := elements[ij[0]]
	return e.Isotopes[ij[1]], e, nil
}

// Entry is one line of an isotope distribution
type Entry struct {
	Mass        float64
	Abundance   float64
	Label       string         // e.g. "[35Cl]2[37Cl]"
	Composition map[string]int // isotope label -> count
}

// Distribution enumerates all isotope compositions of n atoms of an element,
// with their total mass and multinomial probability, sorted by mass.
func Distribution(symbol string, n int) ([]Entry, error) {
	e, err := Lookup(symbol)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("negative atom count %d for %s", n, symbol)
	}
	var dist []Entry
	counts := make([]int, len(e.Isotopes))
	var rec func(k, left int)
	rec = func(k, left int) {
		if k == len(counts)-1 {
			counts[k] = left
			dist = append(dist, composition(e, counts, n))
			return
		}
		for c := left; c >= 0; c-- {
			counts[k] = c
			rec(k+1, left-c)
		}
	}
	rec(0, n)
	sort.SliceStable(dist, func(i, j int) bool { return dist[i].Mass < dist[j].Mass })
	return dist, nil
}

func composition(e Element, counts []int, n int) Entry {
	lnP, _ := math.Lgamma(float64(n + 1))
	var mass float64
	comp := make(map[string]int, len(counts))
	for k, c := range counts {
		iso := e.Isotopes[k]
		mass += float64(c) * iso.Mass
		lg, _ := math.Lgamma(float64(c + 1))
		lnP -= lg
		if c > 0 {
			lnP += float64(c) * math.Log(iso.Abundance)
			comp[iso.Label] = c
		}
	}
	return Entry{
		Mass:        mass,
		Abundance:   math.Exp(lnP),
		Label:       Label(comp),
		Composition: comp,
	}
}

// Label renders an isotope composition as bracketed isotopes with counts,
// lightest isotope first within an element, e.g. "[35Cl]2[37Cl]".
func Label(comp map[string]int) string {
	labels := make([]string, 0, len(comp))
	for l, c := range comp {
		if c > 0 {
			labels = append(labels, l)
		}
	}
	sort.Slice(labels, func(i, j int) bool {
		si, sj := symbolOf(labels[i]), symbolOf(labels[j])
		if si != sj {
			return si < sj
		}
		return massNumber(labels[i]) < massNumber(labels[j])
	})
	var sb strings.Builder
	for _, l := range labels {
		sb.WriteString("[" + l + "]")
		if c := comp[l]; c > 1 {
			sb.WriteString(strconv.Itoa(c))
		}
	}
	return sb.String()
}

// symbolOf strips the mass number from an isotope label
func symbolOf(label string) string {
	return strings.TrimLeft(label, "0123456789")
}

func massNumber(label string) int {
	n, _ := strconv.Atoi(label[:len(label)-len(symbolOf(label))])
	return n
}
