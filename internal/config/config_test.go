package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/524D/opesid/internal/formula"
	"github.com/524D/opesid/internal/isomatch"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseCounts(t *testing.T) {
	tests := []struct {
		in   string
		want []int
		err  bool
	}{
		{"0-3", []int{0, 1, 2, 3}, false},
		{"1, 2", []int{1, 2}, false},
		{"0", []int{0}, false},
		{"", []int{0}, false},
		{"5,,2-3", []int{0, 2, 3, 5}, false},
		{"2-4, 3", []int{2, 3, 4}, false},
		{"4-2", nil, true},
		{"a", nil, true},
		{"1-b", nil, true},
	}
	for _, tc := range tests {
		got, err := ParseCounts(tc.in)
		if tc.err {
			if !errors.Is(err, ErrCountList) {
				t.Errorf("ParseCounts(%q): got %v, want %v", tc.in, err, ErrCountList)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCounts(%q): %v", tc.in, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseCounts(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}

	grid, err := cfg.IsotopeGrid()
	if err != nil {
		t.Fatal(err)
	}
	wantGrid := []isomatch.ElementCounts{{Element: "Cl", Counts: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}}
	if diff := cmp.Diff(wantGrid, grid); diff != "" {
		t.Errorf("IsotopeGrid mismatch (-want +got):\n%s", diff)
	}
	lim, err := cfg.FormulaLimits()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 2}, lim.P); diff != "" {
		t.Errorf("P limits (-want +got):\n%s", diff)
	}
	if len(lim.C) != 101 || len(lim.H) != 201 || len(lim.DoU) != 51 {
		t.Errorf("limit sizes C %d, H %d, DoU %d", len(lim.C), len(lim.H), len(lim.DoU))
	}
	opts := cfg.IsotopeOptions()
	if opts.Tol != 5e-6 || opts.TopN != 5 || opts.Threshold != 0.8 || opts.Sigma != 0.1 {
		t.Errorf("IsotopeOptions() = %+v", opts)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "opesid.toml", `
[roi]
mass_acc = 1e-5

[formula]
top_n = 3

[formula.isotope]
Br = "0-2"

[metfrag]
db_type = "LocalCSV"
n_job = 2
`)
	t.Setenv("OPESID_N_JOBS", "6")
	t.Setenv("OPESID_JAVA_PATH", "/opt/jdk/bin/java")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ROI.MassAcc != 1e-5 || cfg.Formula.TopN != 3 || cfg.MetFrag.DBType != "LocalCSV" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.MetFrag.NJob != 6 || cfg.MetFrag.JavaPath != "/opt/jdk/bin/java" {
		t.Errorf("env overrides not applied: %+v", cfg.MetFrag)
	}
	if cfg.TargetIon.MassAcc != 20e-6 {
		t.Errorf("unset value changed: %v", cfg.TargetIon.MassAcc)
	}
	grid, err := cfg.IsotopeGrid()
	if err != nil {
		t.Fatal(err)
	}
	want := []isomatch.ElementCounts{{Element: "Br", Counts: []int{0, 1, 2}}}
	if diff := cmp.Diff(want, grid); diff != "" {
		t.Errorf("IsotopeGrid() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeKeepsIsotopeDefaults(t *testing.T) {
	cfg := Default()
	if err := Decode([]byte("[formula]\ntop_n = 4\n"), cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(Default().Formula.Isotope, cfg.Formula.Isotope); diff != "" {
		t.Errorf("Isotope mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     string
		field   string
	}{
		{"unknown key", "[metfrag]\nthreads = 2\n", "", "metfrag.threads"},
		{"bad db type", "[metfrag]\ndb_type = \"ChemSpider\"\n", "", "metfrag.db_type"},
		{"bad n_job", "[metfrag]\nn_job = 0\n", "", "metfrag.n_job"},
		{"bad count list", "[formula.element]\nC = \"10-1\"\n", "", "formula.element.C"},
		{"bad tolerance", "[roi]\nmass_acc = -1.0\n", "", "roi.mass_acc"},
		{"bad env", "", "many", "OPESID_N_JOBS"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.env != "" {
				t.Setenv("OPESID_N_JOBS", tc.env)
			}
			path := writeFile(t, t.TempDir(), "opesid.toml", tc.content)
			_, err := Load(path)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("got %v, want a ConfigurationError", err)
			}
			if cfgErr.Field != tc.field {
				t.Errorf("field %q, want %q (%v)", cfgErr.Field, tc.field, err)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	want := Default()
	want.MetFrag.NJob = 4
	data, err := want.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := Default()
	if err := Decode(data, got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStore(t *testing.T) {
	s := NewStore(Default())
	var seen []int
	s.Subscribe(func(cfg *Config) { seen = append(seen, cfg.MetFrag.NJob) })

	next := Default()
	next.MetFrag.NJob = 3
	if err := s.Set(next); err != nil {
		t.Fatal(err)
	}
	bad := Default()
	bad.MetFrag.NJob = 0
	if err := s.Set(bad); err == nil {
		t.Errorf("Set accepted an invalid configuration")
	}
	if s.Get().MetFrag.NJob != 3 {
		t.Errorf("Get().MetFrag.NJob = %d, want 3", s.Get().MetFrag.NJob)
	}
	if diff := cmp.Diff([]int{3}, seen); diff != "" {
		t.Errorf("observer calls (-want +got):\n%s", diff)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "opesid.toml", "[metfrag]\nn_job = 1\n")
	s := NewStore(Default())
	changed := make(chan int, 4)
	s.Subscribe(func(cfg *Config) { changed <- cfg.MetFrag.NJob })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := Watch(ctx, path, s); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	writeFile(t, dir, "opesid.toml", "[metfrag]\nn_job = 5\n")

	select {
	case n := <-changed:
		if n != 5 {
			t.Errorf("reloaded n_job %d, want 5", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the file changed")
	}
}

func TestTargets(t *testing.T) {
	targets, err := LoadTargets("")
	if err != nil {
		t.Fatalf("LoadTargets: %v", err)
	}
	if len(targets) != 6 {
		t.Fatalf("got %d built-in targets, want 6", len(targets))
	}
	first := targets[0]
	if first.Class != ClassAlkyl || first.Formula.String() != "H4O4P+" {
		t.Errorf("first target %q %q", first.Class, first.Formula.String())
	}
	want, _ := formula.Parse("C6H8O4P+")
	if got := targets[1].Mz(); got != want.Mz() {
		t.Errorf("Mz() = %v, want %v", got, want.Mz())
	}

	dir := t.TempDir()
	bad := writeFile(t, dir, "targets.yaml", "- formula: C6H8O4P+\n  class: Cyclic\n")
	var cfgErr *ConfigurationError
	if _, err := LoadTargets(bad); !errors.As(err, &cfgErr) {
		t.Errorf("unknown class: got %v, want a ConfigurationError", err)
	}
	neutral := writeFile(t, dir, "neutral.yaml", "- formula: C6H8O4P\n  class: Aryl\n")
	if _, err := LoadTargets(neutral); !errors.As(err, &cfgErr) {
		t.Errorf("neutral ion: got %v, want a ConfigurationError", err)
	}
}
