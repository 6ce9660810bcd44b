package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/524D/opesid/internal/pipeline"
)

func TestParseFloat64Range(t *testing.T) {
	// Test case 1: Valid input range
	min, max, err := parseFloat64Range("0.5:1.5", 0.0, 2.0)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != 0.5 {
		t.Errorf("Expected min to be 0.5, got: %f", min)
	}
	if max != 1.5 {
		t.Errorf("Expected max to be 1.5, got: %f", max)
	}

	// Test case 2: Empty input range
	min, max, err = parseFloat64Range("", 0.0, 2.0)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != 0.0 {
		t.Errorf("Expected min to be 0.0, got: %f", min)
	}
	if max != 2.0 {
		t.Errorf("Expected max to be 2.0, got: %f", max)
	}

	// Test case 3: Invalid input range
	min, max, err = parseFloat64Range("2.5:1.5", 0.0, 2.0)
	if err == nil {
		t.Errorf("Expected error, got nil")
	}
	if !errors.Is(err, ErrRangeSpec) {
		t.Errorf("Expected error: %v, got: %v", ErrRangeSpec, err)
	}
	if min != 1.5 {
		t.Errorf("Expected min to be 1.5, got: %f", min)
	}
	if max != 1.5 {
		t.Errorf("Expected max to be 1.5, got: %f", max)
	}

	// Test case 4: Only max specified
	min, max, err = parseFloat64Range(":1.5", 0.0, 2.0)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != 0.0 {
		t.Errorf("Expected min to be 0.0, got: %f", min)
	}
	if max != 1.5 {
		t.Errorf("Expected max to be 1.5, got: %f", max)
	}

	// Test case 5: Only min specified
	min, max, err = parseFloat64Range("0.5:", 0.0, 2.0)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != 0.5 {
		t.Errorf("Expected min to be 0.5, got: %f", min)
	}
	if max != 2.0 {
		t.Errorf("Expected max to be 2.0, got: %f", max)
	}

	// Test case 6: Only ":" specified
	min, max, err = parseFloat64Range(":", 0.0, 2.0)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != 0.0 {
		t.Errorf("Expected min to be 0.0, got: %f", min)
	}
	if max != 2.0 {
		t.Errorf("Expected max to be 2.0, got: %f", max)
	}

	// Test case 7: Exponents in numbers
	min, max, err = parseFloat64Range("-2.0e10:3.0e10", -1000000000000.0, 1000000000000.0)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != -2.0e10 {
		t.Errorf("Expected min to be -2.0e10, got: %f", min)
	}
	if max != 3.0e10 {
		t.Errorf("Expected max to be 3.0e10, got: %f", max)
	}

	// Test case 8: Out of range
	min, max, err = parseFloat64Range("-2.0:2.0", -1.0, 1.0)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != -1.0 {
		t.Errorf("Expected min to be -1.0, got: %f", min)
	}
	if max != 1.0 {
		t.Errorf("Expected max to be 1.0, got: %f", max)
	}
}

func TestParseIntRange(t *testing.T) {
	tests := []struct {
		in       string
		min, max int
		wantErr  error
	}{
		{"3:6", 3, 6, nil},
		{"", 0, 10, nil},
		{":4", 0, 4, nil},
		{"7:", 7, 10, nil},
		{"-5:20", 0, 10, nil},
		{"6:3", 3, 3, ErrRangeSpec},
	}
	for _, tc := range tests {
		min, max, err := parseIntRange(tc.in, 0, 10)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("%q: expected error %v, got: %v", tc.in, tc.wantErr, err)
		}
		if min != tc.min || max != tc.max {
			t.Errorf("%q: expected %d:%d, got: %d:%d", tc.in, tc.min, tc.max, min, max)
		}
	}
}

func TestFilterRT(t *testing.T) {
	cands := []pipeline.Candidate{{ScanID: "a", RT: 30}, {ScanID: "b", RT: 60}, {ScanID: "c", RT: 900.5}}
	var got []string
	for _, c := range filterRT(cands, 60, 900) {
		got = append(got, c.ScanID)
	}
	if diff := cmp.Diff([]string{"b"}, got); diff != "" {
		t.Errorf("filterRT mismatch (-want +got):\n%s", diff)
	}
}

func TestStageProgress(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prog := stageProgress(zap.New(core).Sugar())
	for _, v := range []int{0, 5, 10, 15, 100, 100} {
		prog("roi", v)
	}
	prog("cl", 50)
	var got []string
	for _, e := range logs.All() {
		got = append(got, e.Message)
	}
	want := []string{"roi: 0%", "roi: 10%", "roi: 100%", "cl: 50%"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Progress messages mismatch (-want +got):\n%s", diff)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--quiet"})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := out.String(); got != "opesid version Unknown\n" {
		t.Errorf("Unexpected output: %q", got)
	}
}

func TestIdentifyNeedsRuns(t *testing.T) {
	idPar = identifyParams{}
	rootCmd.SetArgs([]string{"identify", "--quiet"})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err == nil {
		t.Errorf("Expected an error without --pos and --neg")
	}
}
