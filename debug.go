// This file contains code to help debugging, and is
// separated in from the rest in order not to litter
// the main code with debugging stuff

package main

import (
	"fmt"
	"strings"

	"github.com/524D/opesid/internal/pipeline"
)

// debugLogHits prints, for each screened MS2 spectrum with an index in
// specs, its target ions, region and the isotope and formula results of
// that region
func debugLogHits(res *pipeline.Result, specs string) error {
	debugMin, debugMax, err := parseIntRange(specs, 0, len(res.Pos.MS2)-1)
	if err != nil {
		return fmt.Errorf("--debug %q: %w", specs, err)
	}
	formulas := make(map[int][]string)
	for _, c := range res.Candidates {
		formulas[c.ROI] = append(formulas[c.ROI], c.Formula.String())
	}
	for h, hit := range res.Hits {
		if hit.MS2Index < debugMin || hit.MS2Index > debugMax {
			continue
		}
		s := res.Pos.MS2[hit.MS2Index]
		ions := make([]string, len(hit.Ions))
		for i, ion := range hit.Ions {
			ions[i] = ion.Name
		}
		fmt.Printf("Spectrum:%d id:%s rt:%f precursor:%f intens:%f class:%s ions:%s\n",
			hit.MS2Index, s.ID, s.RT, s.PrecursorMz, s.PrecursorMS1Intens,
			hit.Class, strings.Join(ions, ","))

		k := res.ROIs.Assignment[h]
		r := res.ROIs.ROIs[k]
		apex := `-`
		if res.Apex[k] == h {
			apex = `+`
		}
		fmt.Printf(" roi:%d members:%d scans:%d apex: %s\n", k, len(r.Members), len(r.Trace), apex)
		if m := res.Isotopes[k]; m != nil {
			fmt.Printf(" isotopes:%s score:%0.4f\n", m.Label, m.Score)
		} else {
			fmt.Printf(" isotopes: no match\n")
		}
		fmt.Printf(" formulas:%d %s\n", len(formulas[k]), strings.Join(formulas[k], " "))
	}
	return nil
}
