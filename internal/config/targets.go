package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/524D/opesid/internal/formula"
)

// OPE classes of target ions
const (
	ClassAryl  = "Aryl"
	ClassAlkyl = "Alkyl"
)

//go:embed targets.yaml
var defaultTargets []byte

// TargetIon is a diagnostic fragment ion
type TargetIon struct {
	Name    string          `yaml:"formula"`
	SMARTS  string          `yaml:"smarts"`
	Class   string          `yaml:"class"`
	Formula formula.Formula `yaml:"-"`
}

// Mz returns the m/z of the ion
func (t TargetIon) Mz() float64 {
	return t.Formula.Mz()
}

// LoadTargets reads target ions from a YAML file, or returns the built-in
// list when path is empty
func LoadTargets(path string) ([]TargetIon, error) {
	data := defaultTargets
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}
	return ParseTargets(data)
}

// ParseTargets parses a YAML list of target ions
func ParseTargets(data []byte) ([]TargetIon, error) {
	var targets []TargetIon
	if err := yaml.Unmarshal(data, &targets); err != nil {
		return nil, &ConfigurationError{Field: "path.targets", Message: err.Error()}
	}
	if len(targets) == 0 {
		return nil, &ConfigurationError{Field: "path.targets", Message: "no target ions"}
	}
	for i := range targets {
		t := &targets[i]
		f, err := formula.Parse(t.Name)
		if err != nil {
			return nil, &ConfigurationError{Field: fmt.Sprintf("path.targets[%d]", i), Message: err.Error()}
		}
		if f.Charge == 0 {
			return nil, &ConfigurationError{Field: fmt.Sprintf("path.targets[%d]", i), Message: "ion must be charged"}
		}
		if t.Class != ClassAryl && t.Class != ClassAlkyl {
			return nil, &ConfigurationError{Field: fmt.Sprintf("path.targets[%d]", i), Message: fmt.Sprintf("unknown class %q", t.Class)}
		}
		t.Formula = f
	}
	return targets, nil
}
