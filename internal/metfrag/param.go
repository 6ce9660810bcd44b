// Package metfrag prepares MetFrag parameter files and runs the MetFrag
// command line tool for many candidates in a bounded pool.
package metfrag

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PrecursorIonModes maps adduct names to MetFrag precursor ion mode codes
var PrecursorIonModes = map[string]int{
	"[M+H]+":       1,
	"[M+NH4]+":     18,
	"[M+Na]+":      23,
	"[M+K]+":       39,
	"[M+CH3OH+H]+": 33,
	"[M+ACN+H]+":   42,
	"[M+ACN+Na]+":  64,
	"[M+2ACN+H]+":  83,
	"[M-H]-":       -1,
	"[M+Cl]-":      35,
	"[M+HCOO]-":    45,
	"[M+CH3COO]-":  59,
	"[M]+/-":       0,
}

// Database types and candidate writers understood by MetFrag
var (
	DatabaseTypes    = []string{"PubChem", "LocalCSV", "LocalSDF"}
	CandidateWriters = []string{"SDF", "XLS", "CSV", "ExtendedXLS", "ExtendedFragmentsXLS"}
)

// Candidate filters
const (
	UnconnectedCompoundFilter         = "UnconnectedCompoundFilter"
	SmartsSubstructureInclusionFilter = "SmartsSubstructureInclusionFilter"
	SmartsSubstructureExclusionFilter = "SmartsSubstructureExclusionFilter"
	InChIKeyFilter                    = "InChIKeyFilter"
)

// ConfigurationError reports an invalid parameter value
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("metfrag parameter %s: %s", e.Field, e.Message)
}

// Parameter is the MetFrag parameter set of one candidate. Empty strings,
// nil pointers and empty slices are not written. ParamSavePath is
// bookkeeping for the pool and is never serialized.
type Parameter struct {
	PeakListPath                           string
	PeakListString                         string
	MetFragPeakListReader                  string
	MetFragDatabaseType                    string
	LocalDatabasePath                      string
	NeutralPrecursorMolecularFormula       string
	DatabaseSearchRelativeMassDeviation    *float64
	NeutralPrecursorMass                   *float64
	IonizedPrecursorMass                   *float64
	FragmentPeakMatchAbsoluteMassDeviation float64
	FragmentPeakMatchRelativeMassDeviation float64
	PrecursorIonMode                       string // code ("1") or adduct name ("[M+H]+")
	IsPositiveIonMode                      *bool  // nil means both
	MetFragScoreTypes                      []string
	MetFragScoreWeights                    []float64
	MetFragCandidateWriter                 string
	SampleName                             string
	ResultsPath                            string
	MaximumTreeDepth                       int
	FilterSmartsInclusionList              []string
	FilterSmartsExclusionList              []string
	MetFragPreProcessingCandidateFilter    []string
	MetFragPostProcessingCandidateFilter   []string
	NumberThreads                          int
	BondEnergyFilePath                     string

	ParamSavePath string
}

// NewParameter returns a parameter set with MetFrag's usual defaults
func NewParameter() *Parameter {
	positive := true
	return &Parameter{
		MetFragPeakListReader:                  "de.ipbhalle.metfraglib.peaklistreader.FilteredStringTandemMassPeakListReader",
		MetFragDatabaseType:                    "PubChem",
		FragmentPeakMatchAbsoluteMassDeviation: 0.001,
		FragmentPeakMatchRelativeMassDeviation: 5,
		PrecursorIonMode:                       "1",
		IsPositiveIonMode:                      &positive,
		MetFragScoreTypes:                      []string{"FragmenterScore"},
		MetFragScoreWeights:                    []float64{1.0},
		MetFragCandidateWriter:                 "CSV",
		MaximumTreeDepth:                       2,
		MetFragPreProcessingCandidateFilter:    []string{UnconnectedCompoundFilter},
		MetFragPostProcessingCandidateFilter:   []string{InChIKeyFilter},
	}
}

// Field is a serialized key/value pair
type Field struct {
	Name  string
	Value string
}

// Fields returns the parameters that are set, in MetFrag key order.
// The parameter set is validated first.
func (p *Parameter) Fields() ([]Field, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ionMode, _ := p.ionModeCode()
	isPositive := "True/False"
	if p.IsPositiveIonMode != nil {
		isPositive = pyBool(*p.IsPositiveIonMode)
	}
	var fields []Field
	add := func(name, value string) {
		if value != "" {
			fields = append(fields, Field{name, value})
		}
	}
	add("PeakListPath", p.PeakListPath)
	add("PeakListString", p.PeakListString)
	add("MetFragPeakListReader", p.MetFragPeakListReader)
	add("MetFragDatabaseType", p.MetFragDatabaseType)
	add("LocalDatabasePath", p.LocalDatabasePath)
	add("NeutralPrecursorMolecularFormula", p.NeutralPrecursorMolecularFormula)
	add("DatabaseSearchRelativeMassDeviation", floatPtr(p.DatabaseSearchRelativeMassDeviation))
	add("NeutralPrecursorMass", floatPtr(p.NeutralPrecursorMass))
	add("IonizedPrecursorMass", floatPtr(p.IonizedPrecursorMass))
	add("FragmentPeakMatchAbsoluteMassDeviation", formatFloat(p.FragmentPeakMatchAbsoluteMassDeviation))
	add("FragmentPeakMatchRelativeMassDeviation", formatFloat(p.FragmentPeakMatchRelativeMassDeviation))
	add("PrecursorIonMode", strconv.Itoa(ionMode))
	add("IsPositiveIonMode", isPositive)
	add("MetFragScoreTypes", strings.Join(p.MetFragScoreTypes, ","))
	add("MetFragScoreWeights", joinFloats(p.MetFragScoreWeights))
	add("MetFragCandidateWriter", p.MetFragCandidateWriter)
	add("SampleName", p.SampleName)
	add("ResultsPath", p.ResultsPath)
	add("MaximumTreeDepth", strconv.Itoa(p.MaximumTreeDepth))
	add("FilterSmartsInclusionList", strings.Join(p.FilterSmartsInclusionList, ","))
	add("FilterSmartsExclusionList", strings.Join(p.FilterSmartsExclusionList, ","))
	add("MetFragPreProcessingCandidateFilter", strings.Join(p.MetFragPreProcessingCandidateFilter, ","))
	add("MetFragPostProcessingCandidateFilter", strings.Join(p.MetFragPostProcessingCandidateFilter, ","))
	if p.NumberThreads > 0 {
		add("NumberThreads", strconv.Itoa(p.NumberThreads))
	}
	add("BondEnergyFilePath", p.BondEnergyFilePath)
	return fields, nil
}

// Dumps serializes the parameters as a parameter file ("Key = Value" lines)
// or, with cmd set, as command line arguments ("Key=Value" separated by
// spaces).
func (p *Parameter) Dumps(cmd bool) (string, error) {
	fields, err := p.Fields()
	if err != nil {
		return "", err
	}
	entries := make([]string, len(fields))
	for i, f := range fields {
		if cmd {
			entries[i] = f.Name + "=" + f.Value
		} else {
			entries[i] = f.Name + " = " + f.Value
		}
	}
	if cmd {
		return strings.Join(entries, " "), nil
	}
	return strings.Join(entries, "\n"), nil
}

// Dump writes the parameter file to path, creating parent directories
func (p *Parameter) Dump(path string) error {
	s, err := p.Dumps(false)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(s), 0o644)
}

// ResultFile is the path MetFrag writes its candidate list to
func (p *Parameter) ResultFile() string {
	return filepath.Join(p.ResultsPath, p.SampleName+"."+p.MetFragCandidateWriter)
}

// Validate checks values MetFrag would reject
func (p *Parameter) Validate() error {
	if p.PeakListString != "" && p.PeakListPath != "" {
		return &ConfigurationError{"PeakListString", "PeakListString and PeakListPath are both set"}
	}
	if _, err := p.ionModeCode(); err != nil {
		return err
	}
	if p.MetFragDatabaseType != "" && !contains(DatabaseTypes, p.MetFragDatabaseType) {
		return &ConfigurationError{"MetFragDatabaseType", fmt.Sprintf("unknown database type %q", p.MetFragDatabaseType)}
	}
	if p.MetFragCandidateWriter != "" && !contains(CandidateWriters, p.MetFragCandidateWriter) {
		return &ConfigurationError{"MetFragCandidateWriter", fmt.Sprintf("unknown candidate writer %q", p.MetFragCandidateWriter)}
	}
	return nil
}

func (p *Parameter) ionModeCode() (int, error) {
	if code, ok := PrecursorIonModes[p.PrecursorIonMode]; ok {
		return code, nil
	}
	code, err := strconv.Atoi(p.PrecursorIonMode)
	if err == nil {
		for _, c := range PrecursorIonModes {
			if c == code {
				return code, nil
			}
		}
	}
	return 0, &ConfigurationError{"PrecursorIonMode", fmt.Sprintf("unknown precursor ion mode %q", p.PrecursorIonMode)}
}

// Clone returns a deep copy
func (p *Parameter) Clone() *Parameter {
	c := *p
	c.MetFragScoreTypes = append([]string(nil), p.MetFragScoreTypes...)
	c.MetFragScoreWeights = append([]float64(nil), p.MetFragScoreWeights...)
	c.FilterSmartsInclusionList = append([]string(nil), p.FilterSmartsInclusionList...)
	c.FilterSmartsExclusionList = append([]string(nil), p.FilterSmartsExclusionList...)
	c.MetFragPreProcessingCandidateFilter = append([]string(nil), p.MetFragPreProcessingCandidateFilter...)
	c.MetFragPostProcessingCandidateFilter = append([]string(nil), p.MetFragPostProcessingCandidateFilter...)
	return &c
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// formatFloat writes integral values with a trailing ".0"
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

func floatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func joinFloats(v []float64) string {
	s := make([]string, len(v))
	for i, f := range v {
		s[i] = formatFloat(f)
	}
	return strings.Join(s, ",")
}
