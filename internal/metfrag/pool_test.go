package metfrag

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/524D/opesid/internal/progress"
)

// TestHelperProcess stands in for the MetFrag command line tool. The
// behavior is selected by the SampleName in the parameter file.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	if os.Getenv("GO_HELPER_GRANDCHILD") == "1" {
		time.Sleep(20 * time.Second)
		os.Exit(0)
	}
	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "expected a parameter file")
		os.Exit(2)
	}
	params, err := readParamFile(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	sample := params["SampleName"]
	fmt.Printf("running %s\n", sample)
	switch {
	case strings.HasPrefix(sample, "slow"):
		time.Sleep(100 * time.Millisecond)
	case strings.HasPrefix(sample, "sleep"):
		// sleep<ms>_<name>
		ms, _, _ := strings.Cut(strings.TrimPrefix(sample, "sleep"), "_")
		n, _ := strconv.Atoi(ms)
		time.Sleep(time.Duration(n) * time.Millisecond)
	case strings.HasPrefix(sample, "hang"):
		time.Sleep(time.Minute)
	case strings.HasPrefix(sample, "orphan"):
		// a child that keeps stdout and stderr open after we are killed
		child := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
		child.Env = append(os.Environ(), "GO_HELPER_GRANDCHILD=1")
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		if err := child.Start(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		time.Sleep(time.Minute)
	case strings.HasPrefix(sample, "exit3"):
		fmt.Fprintln(os.Stderr, "boom")
		os.Exit(3)
	case strings.HasPrefix(sample, "noresult"):
		os.Exit(0)
	}
	out := filepath.Join(params["ResultsPath"], sample+"."+params["MetFragCandidateWriter"])
	csv := "Identifier,Score\n" + sample + "-1,1.0\n" + sample + "-2,0.5\n"
	if err := os.WriteFile(out, []byte(csv), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(0)
}

func readParamFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	params := make(map[string]string)
	s := bufio.NewScanner(f)
	for s.Scan() {
		k, v, ok := strings.Cut(s.Text(), " = ")
		if ok {
			params[k] = v
		}
	}
	return params, s.Err()
}

func helperPool(t *testing.T, nJobs int) *Pool {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	p, err := NewPool(Tool{Executable: os.Args[0], Args: []string{"-test.run=^TestHelperProcess$", "--"}}, nJobs)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p
}

func helperParams(dir string, samples ...string) []*Parameter {
	params := make([]*Parameter, len(samples))
	for i, s := range samples {
		p := NewParameter()
		p.PeakListString = "100.0_1.0"
		p.SampleName = s
		p.ResultsPath = filepath.Join(dir, "compute_dir")
		p.ParamSavePath = filepath.Join(dir, "param_dir", s+"_param.txt")
		params[i] = p
	}
	return params
}

func TestPoolBoundedConcurrency(t *testing.T) {
	pool := helperPool(t, 2)
	dir := t.TempDir()
	params := helperParams(dir, "slow0", "slow1", "slow2", "slow3", "slow4", "slow5")

	var mu sync.Mutex
	running, maxRunning := 0, 0
	transitions := make(map[int][]State)
	pool.SetOnStateChange(func(i int, s State) {
		mu.Lock()
		defer mu.Unlock()
		transitions[i] = append(transitions[i], s)
		switch s {
		case Running:
			running++
			if running > maxRunning {
				maxRunning = running
			}
		case Succeeded, Failed, Cancelled:
			running--
		}
	})
	var lastDone int
	pool.SetProgress(func(done, total int) {
		if total != len(params) {
			t.Errorf("progress total %d, want %d", total, len(params))
		}
		lastDone = done
	})

	results, err := pool.Run(context.Background(), params)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if maxRunning > 2 || maxRunning < 1 {
		t.Errorf("max running tasks %d, want 1..2", maxRunning)
	}
	if lastDone != len(params) {
		t.Errorf("last progress %d, want %d", lastDone, len(params))
	}
	for i, r := range results {
		if r.State != Succeeded {
			t.Fatalf("task %d: state %v, err %v, stderr %q", i, r.State, r.Err, r.Stderr)
		}
		want := fmt.Sprintf("slow%d-1", i)
		if got := r.Table.Value(0, "Identifier"); got != want {
			t.Errorf("task %d: identifier %q, want %q", i, got, want)
		}
		if diff := cmp.Diff([]State{Pending, Running, Succeeded}, transitions[i]); diff != "" {
			t.Errorf("task %d transitions (-want +got):\n%s", i, diff)
		}
	}
}

func TestPoolResultOrder(t *testing.T) {
	pool := helperPool(t, 3)
	dir := t.TempDir()
	samples := []string{"sleep1200_a", "sleep600_b", "sleep0_c"}
	params := helperParams(dir, samples...)

	var mu sync.Mutex
	var finished []int
	pool.SetOnStateChange(func(i int, s State) {
		if s == Succeeded {
			mu.Lock()
			finished = append(finished, i)
			mu.Unlock()
		}
	})

	results, err := pool.Run(context.Background(), params)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]int{2, 1, 0}, finished); diff != "" {
		t.Errorf("completion order (-want +got):\n%s", diff)
	}
	for i, r := range results {
		if r.State != Succeeded {
			t.Fatalf("task %d: state %v, err %v, stderr %q", i, r.State, r.Err, r.Stderr)
		}
		if got, want := r.Table.Value(0, "Identifier"), samples[i]+"-1"; got != want {
			t.Errorf("result %d: identifier %q, want %q", i, got, want)
		}
		if !strings.Contains(r.Stdout, "running "+samples[i]) {
			t.Errorf("result %d: stdout %q", i, r.Stdout)
		}
	}
}

func TestPoolPartialFailure(t *testing.T) {
	pool := helperPool(t, 3)
	dir := t.TempDir()
	params := helperParams(dir, "ok", "exit3", "noresult")
	params = append(params, NewParameter())

	results, err := pool.Run(context.Background(), params)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}

	ok := results[0]
	if ok.State != Succeeded || ok.ExitCode != 0 || ok.Table.Len() != 2 {
		t.Errorf("ok task: %+v", ok)
	}
	if !strings.Contains(ok.Stdout, "running ok") {
		t.Errorf("ok task stdout %q", ok.Stdout)
	}

	fail := results[1]
	if fail.State != Failed || fail.ExitCode != 3 {
		t.Errorf("failing task: state %v, exit code %d", fail.State, fail.ExitCode)
	}
	if !strings.Contains(fail.Stderr, "boom") {
		t.Errorf("failing task stderr %q", fail.Stderr)
	}

	parse := results[2]
	if parse.State != Failed || parse.ExitCode != 0 || parse.Err == nil {
		t.Errorf("task without results: state %v, exit code %d, err %v", parse.State, parse.ExitCode, parse.Err)
	}

	noPath := results[3]
	if noPath.State != Failed || !errors.Is(noPath.Err, ErrNoParamPath) || noPath.ExitCode != -1 {
		t.Errorf("task without param path: %+v", noPath)
	}

	if _, err := os.Stat(params[0].ParamSavePath); err != nil {
		t.Errorf("parameter file not written: %v", err)
	}
}

func TestPoolToolNotFound(t *testing.T) {
	_, err := NewPool(JavaTool(filepath.Join(t.TempDir(), "no-such-java"), "MetFrag.jar"), 1)
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("got %v, want %v", err, ErrToolNotFound)
	}
}

func TestPoolCancel(t *testing.T) {
	pool := helperPool(t, 1)
	dir := t.TempDir()
	params := helperParams(dir, "hang0", "hang1", "hang2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	pool.SetOnStateChange(func(_ int, s State) {
		if s == Running {
			once.Do(cancel)
		}
	})

	start := time.Now()
	results, err := pool.Run(ctx, params)
	if !errors.Is(err, progress.ErrCancelRequested) {
		t.Errorf("got %v, want %v", err, progress.ErrCancelRequested)
	}
	if time.Since(start) > 30*time.Second {
		t.Errorf("cancelled run took %v", time.Since(start))
	}
	for i, r := range results {
		if r.State != Cancelled {
			t.Errorf("task %d: state %v, want %v", i, r.State, Cancelled)
		}
	}
}

func TestPoolCancelWithOpenPipes(t *testing.T) {
	pool := helperPool(t, 1)
	pool.waitDelay = 500 * time.Millisecond
	dir := t.TempDir()
	params := helperParams(dir, "orphan")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.SetOnStateChange(func(_ int, s State) {
		if s == Running {
			go func() {
				time.Sleep(500 * time.Millisecond)
				cancel()
			}()
		}
	})

	start := time.Now()
	results, err := pool.Run(ctx, params)
	if !errors.Is(err, progress.ErrCancelRequested) {
		t.Errorf("got %v, want %v", err, progress.ErrCancelRequested)
	}
	if d := time.Since(start); d > 10*time.Second {
		t.Errorf("cancelled run took %v", d)
	}
	if results[0].State != Cancelled {
		t.Errorf("state %v, want %v", results[0].State, Cancelled)
	}
}

func TestStateString(t *testing.T) {
	got := []string{Pending.String(), Running.String(), Succeeded.String(), Failed.String(), Cancelled.String(), State(9).String()}
	want := []string{"pending", "running", "succeeded", "failed", "cancelled", "State(9)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("State.String() mismatch (-want +got):\n%s", diff)
	}
}
