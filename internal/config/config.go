// Package config holds the settings of an identification run. Settings are
// read from a TOML file, overridden from the environment and validated.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/524D/opesid/internal/formula"
	"github.com/524D/opesid/internal/isomatch"
)

// EnvPrefix is the prefix of the environment overrides, e.g. OPESID_N_JOBS
const EnvPrefix = "OPESID"

// ErrCountList means a count list like "0-10, 12" can't be parsed
var ErrCountList = errors.New("invalid count list")

// ConfigurationError reports an unrecognized or malformed option.
// Field uses the TOML key path, e.g. "metfrag.n_job".
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

// Config holds all settings
type Config struct {
	Path      PathConfig      `toml:"path"`
	TargetIon TargetIonConfig `toml:"target_ion"`
	ROI       ROIConfig       `toml:"roi"`
	Formula   FormulaConfig   `toml:"formula"`
	MetFrag   MetFragConfig   `toml:"metfrag"`
}

// PathConfig holds the input files. Targets is an optional YAML file with
// target ions; the built-in list is used when it is empty.
type PathConfig struct {
	PosFile string `toml:"pos_file"`
	NegFile string `toml:"neg_file"`
	Targets string `toml:"targets"`
}

// TargetIonConfig holds the fragment screen tolerance
type TargetIonConfig struct {
	MassAcc float64 `toml:"mass_acc" validate:"gt=0,lt=1"`
}

// ROIConfig holds the ROI grouping tolerance
type ROIConfig struct {
	MassAcc float64 `toml:"mass_acc" validate:"gt=0,lt=1"`
}

// FormulaConfig holds isotope matching and formula prediction settings.
// Count lists are strings like "0-10" or "1, 2".
type FormulaConfig struct {
	Isotope   map[string]string `toml:"isotope" validate:"required,dive,keys,alpha,endkeys,counts"`
	TopN      int               `toml:"top_n" validate:"min=1"`
	MassAcc   float64           `toml:"mass_acc" validate:"gt=0,lt=1"`
	Threshold float64           `toml:"threshold" validate:"gt=0,lte=1"`
	Sigma     float64           `toml:"sigma" validate:"gt=0"`
	Workers   int               `toml:"workers" validate:"min=0"`
	Element   ElementConfig     `toml:"element"`
}

// ElementConfig holds the formula search limits
type ElementConfig struct {
	C   string `toml:"C" validate:"counts"`
	H   string `toml:"H" validate:"counts"`
	O   string `toml:"O" validate:"counts"`
	P   string `toml:"P" validate:"counts"`
	N   string `toml:"N" validate:"counts"`
	DoU string `toml:"DoU" validate:"counts"`
}

// MetFragConfig holds the settings of the MetFrag stage
type MetFragConfig struct {
	JavaPath     string            `toml:"java_path" validate:"required"`
	Jar          string            `toml:"jar"`
	TempDir      string            `toml:"temp_dir"`
	DBPath       string            `toml:"db_path"`
	DBType       string            `toml:"db_type" validate:"oneof=PubChem LocalCSV LocalSDF"`
	MaxTreeDepth int               `toml:"max_tree_depth" validate:"min=1"`
	NJob         int               `toml:"n_job" validate:"min=1"`
	Constraints  ConstraintsConfig `toml:"constraints"`
}

// ConstraintsConfig selects the SMARTS filters passed to MetFrag
type ConstraintsConfig struct {
	Fragment  bool `toml:"fragment"`
	EsterType bool `toml:"ester_type"`
}

// envOverrides are read with envconfig using EnvPrefix
type envOverrides struct {
	JavaPath string `envconfig:"JAVA_PATH"`
	Jar      string `envconfig:"METFRAG_JAR"`
	NJobs    int    `envconfig:"N_JOBS"`
	TempDir  string `envconfig:"TEMP_DIR"`
}

// Default returns the default settings
func Default() *Config {
	return &Config{
		TargetIon: TargetIonConfig{MassAcc: 20e-6},
		ROI:       ROIConfig{MassAcc: 20e-6},
		Formula: FormulaConfig{
			Isotope:   map[string]string{"Cl": "0-10"},
			TopN:      5,
			MassAcc:   5e-6,
			Threshold: 0.8,
			Sigma:     0.1,
			Element: ElementConfig{
				C:   "0-100",
				H:   "0-200",
				O:   "0-50",
				P:   "1, 2",
				N:   "0",
				DoU: "0-50",
			},
		},
		MetFrag: MetFragConfig{
			JavaPath:     "java",
			Jar:          "MetFragCommandLine-2.5.0.jar",
			DBType:       "PubChem",
			MaxTreeDepth: 2,
			NJob:         1,
			Constraints:  ConstraintsConfig{Fragment: true, EsterType: true},
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults when
// path is empty or doesn't exist. Environment overrides are applied and the
// result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := Decode(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode merges TOML data into cfg. Unknown keys are rejected. A
// [formula.isotope] table replaces the isotope grid of cfg as a whole.
func Decode(data []byte, cfg *Config) error {
	var tables struct {
		Formula struct {
			Isotope map[string]string `toml:"isotope"`
		} `toml:"formula"`
	}
	if toml.Unmarshal(data, &tables) == nil && tables.Formula.Isotope != nil {
		cfg.Formula.Isotope = nil
	}
	d := toml.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()
	if err := d.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) && len(strict.Errors) > 0 {
			return &ConfigurationError{
				Field:   strings.Join(strict.Errors[0].Key(), "."),
				Message: "unknown option",
			}
		}
		var decErr *toml.DecodeError
		if errors.As(err, &decErr) {
			row, col := decErr.Position()
			return &ConfigurationError{
				Field:   strings.Join(decErr.Key(), "."),
				Message: fmt.Sprintf("line %d column %d: %s", row, col, decErr.Error()),
			}
		}
		return err
	}
	return nil
}

// Encode writes cfg as TOML
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		var parseErr *envconfig.ParseError
		if errors.As(err, &parseErr) {
			return &ConfigurationError{Field: parseErr.KeyName, Message: parseErr.Err.Error()}
		}
		return err
	}
	if env.JavaPath != "" {
		cfg.MetFrag.JavaPath = env.JavaPath
	}
	if env.Jar != "" {
		cfg.MetFrag.Jar = env.Jar
	}
	if env.NJobs != 0 {
		cfg.MetFrag.NJob = env.NJobs
	}
	if env.TempDir != "" {
		cfg.MetFrag.TempDir = env.TempDir
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("counts", func(fl validator.FieldLevel) bool {
		_, err := ParseCounts(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks all values. The first failure is returned as a
// *ConfigurationError.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := fmt.Sprintf("value %v fails %q", fe.Value(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("value %v fails %q (%s)", fe.Value(), fe.Tag(), fe.Param())
		}
		return &ConfigurationError{
			Field:   strings.TrimPrefix(fe.Namespace(), "Config."),
			Message: msg,
		}
	}
	return err
}

// ParseCounts parses a comma separated list of counts and inclusive ranges,
// e.g. "0-10, 12". An empty entry counts as 0. The result is sorted and
// free of duplicates.
func ParseCounts(s string) ([]int, error) {
	set := map[int]bool{}
	for _, part := range strings.Split(strings.ReplaceAll(s, " ", ""), ",") {
		if part == "" {
			set[0] = true
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(lo)
		if err != nil || a < 0 {
			return nil, fmt.Errorf("%w: %q", ErrCountList, s)
		}
		b := a
		if isRange {
			b, err = strconv.Atoi(hi)
			if err != nil || b < a {
				return nil, fmt.Errorf("%w: %q", ErrCountList, s)
			}
		}
		for n := a; n <= b; n++ {
			set[n] = true
		}
	}
	counts := make([]int, 0, len(set))
	for n := range set {
		counts = append(counts, n)
	}
	sort.Ints(counts)
	return counts, nil
}

// IsotopeGrid returns the element count grid of the isotope matcher,
// ordered by element symbol
func (c *Config) IsotopeGrid() ([]isomatch.ElementCounts, error) {
	symbols := make([]string, 0, len(c.Formula.Isotope))
	for s := range c.Formula.Isotope {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	grid := make([]isomatch.ElementCounts, len(symbols))
	for i, s := range symbols {
		counts, err := ParseCounts(c.Formula.Isotope[s])
		if err != nil {
			return nil, &ConfigurationError{Field: "formula.isotope." + s, Message: err.Error()}
		}
		grid[i] = isomatch.ElementCounts{Element: s, Counts: counts}
	}
	return grid, nil
}

// IsotopeOptions returns the matcher options
func (c *Config) IsotopeOptions() isomatch.Options {
	opts := isomatch.DefaultOptions()
	opts.Tol = c.Formula.MassAcc
	opts.TopN = c.Formula.TopN
	opts.Threshold = c.Formula.Threshold
	opts.Sigma = c.Formula.Sigma
	return opts
}

// FormulaLimits returns the formula search limits
func (c *Config) FormulaLimits() (formula.Limits, error) {
	var lim formula.Limits
	fields := []struct {
		key string
		s   string
		dst *[]int
	}{
		{"C", c.Formula.Element.C, &lim.C},
		{"H", c.Formula.Element.H, &lim.H},
		{"N", c.Formula.Element.N, &lim.N},
		{"O", c.Formula.Element.O, &lim.O},
		{"P", c.Formula.Element.P, &lim.P},
		{"DoU", c.Formula.Element.DoU, &lim.DoU},
	}
	for _, f := range fields {
		counts, err := ParseCounts(f.s)
		if err != nil {
			return lim, &ConfigurationError{Field: "formula.element." + f.key, Message: err.Error()}
		}
		*f.dst = counts
	}
	return lim, nil
}

// WorkDir returns the MetFrag working directory root
func (c *Config) WorkDir() string {
	if c.MetFrag.TempDir != "" {
		return c.MetFrag.TempDir
	}
	return filepath.Join(os.TempDir(), "opesid")
}
