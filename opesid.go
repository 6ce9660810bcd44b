// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/524D/opesid/internal/log"
)

// Program name and version, appended to software list in mzML output
const progName = "opesid"

var progVersion = `Unknown`

const (
	infoDefault = iota
	infoSilent
	infoVerbose
)

// Command line parameters shared by all commands
type params struct {
	configPath string
	verbose    bool
	quiet      bool
	verbosity  int // Verbosity of progress messages (infoDefault...)
}

var (
	par     params
	logLvl  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	rootCmd = &cobra.Command{
		Use:   progName,
		Short: "Identify organophosphate esters in paired LC-MS/MS runs",
		Long: `opesid screens the MS2 spectra of a positive ion mode run for
characteristic phosphate fragment ions, groups the hits into regions of
interest, matches halogen isotope patterns, predicts elemental formulas and
checks the negative ion mode run for tri-esters. Candidates can be passed
on to MetFrag for in-silico fragmentation.`,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
	}
)

// ErrRangeSpec is returned for a range like "5:3"
var ErrRangeSpec = errors.New("invalid range specified")

func init() {
	rootCmd.PersistentFlags().StringVar(&par.configPath, "config", "",
		"TOML config `file` (default: built-in settings)")
	rootCmd.PersistentFlags().BoolVarP(&par.verbose, "verbose", "v", false,
		"verbose output")
	rootCmd.PersistentFlags().BoolVarP(&par.quiet, "quiet", "q", false,
		"only print warnings and errors")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the program version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), progName+" version "+progVersion)
		},
	})
}

func setupLogging(cmd *cobra.Command, args []string) error {
	par.verbosity = infoDefault
	switch {
	case par.verbose:
		par.verbosity = infoVerbose
		logLvl.SetLevel(zapcore.DebugLevel)
	case par.quiet:
		par.verbosity = infoSilent
		logLvl.SetLevel(zapcore.WarnLevel)
	}
	zap.ReplaceGlobals(log.InitLog(logLvl))
	return nil
}

// Parse string like "-12:6" into 2 values, -12 and 6
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "-12:"), the default is assigned
func parseIntRange(r string, min int, max int) (int, int, error) {
	re := regexp.MustCompile(`\s*(\-?\d*):(\-?\d*)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.Atoi(m[1])
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 3 && m[2] != "" {
		maxOut, _ = strconv.Atoi(m[2])
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

// Parse string like "-12.01e1:+6" into 2 values, -120.1 and 6.0
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "-12.01e1:"), the default is assigned
func parseFloat64Range(r string, min float64, max float64) (
	float64, float64, error) {
	re := regexp.MustCompile(`\s*([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?):([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.ParseFloat(m[1], 64)
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 4 && m[3] != "" {
		maxOut, _ = strconv.ParseFloat(m[3], 64)
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
