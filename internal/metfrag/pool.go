package metfrag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/524D/opesid/internal/progress"
)

var (
	// ErrToolNotFound means the MetFrag executable can't be located
	ErrToolNotFound = errors.New("metfrag tool not found")
	// ErrNoParamPath means a parameter set has no ParamSavePath
	ErrNoParamPath = errors.New("parameter file path not set")
)

// State of a task in the pool
type State int

// Task lifecycle: Pending -> Running -> Succeeded | Failed | Cancelled.
// A pending task can also go straight to Failed or Cancelled.
const (
	Pending State = iota
	Running
	Succeeded
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Result of one task. ExitCode is -1 if the process never ran.
type Result struct {
	State    State
	Table    *Table
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Tool is the command that runs MetFrag. The parameter file name is
// appended to Args.
type Tool struct {
	Executable string
	Args       []string
}

// JavaTool runs a MetFrag command line jar
func JavaTool(java, jar string) Tool {
	return Tool{Executable: java, Args: []string{"-jar", jar}}
}

// Pool runs MetFrag for many parameter sets with at most nJobs processes
// at a time
type Pool struct {
	exe       string
	args      []string
	nJobs     int64
	waitDelay time.Duration // bound on draining output after a kill

	onStateChange func(index int, state State)
	progress      func(done, total int)
	log           *zap.SugaredLogger
}

// NewPool resolves the tool executable and returns a pool. ErrToolNotFound
// is returned when the executable can't be found.
func NewPool(tool Tool, nJobs int) (*Pool, error) {
	exe, err := exec.LookPath(tool.Executable)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrToolNotFound, tool.Executable, err)
	}
	if nJobs < 1 {
		nJobs = 1
	}
	return &Pool{
		exe:       exe,
		args:      append([]string(nil), tool.Args...),
		nJobs:     int64(nJobs),
		waitDelay: 5 * time.Second,
		log:       zap.S().Named("metfrag"),
	}, nil
}

// SetOnStateChange registers a callback for every task state transition.
// It is called from the task goroutines and must be safe for concurrent use.
func (p *Pool) SetOnStateChange(fn func(index int, state State)) {
	p.onStateChange = fn
}

// SetProgress registers a callback called once per finished task with the
// number of finished tasks and the total. Calls are serialized.
func (p *Pool) SetProgress(fn func(done, total int)) {
	p.progress = fn
}

// Run executes all parameter sets and returns their results in input
// order. Per-task failures are reported in the results, not as an error.
// When ctx is cancelled, waiting tasks are not started, running processes
// are killed, both are reported as Cancelled and the returned error wraps
// progress.ErrCancelRequested.
func (p *Pool) Run(ctx context.Context, params []*Parameter) ([]Result, error) {
	results := make([]Result, len(params))
	gate := semaphore.NewWeighted(p.nJobs)

	var mu sync.Mutex
	done := 0
	var wg sync.WaitGroup
	for i, param := range params {
		i, param := i, param // per-iteration copy (go 1.21 loop semantics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.runTask(ctx, gate, i, param)
			if p.progress != nil {
				mu.Lock()
				done++
				p.progress(done, len(params))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := progress.Checkpoint(ctx); err != nil {
		return results, err
	}
	return results, nil
}

func (p *Pool) setState(i int, s State) {
	if p.onStateChange != nil {
		p.onStateChange(i, s)
	}
}

// runTask reports the final state before the gate is released, so
// observers never see more than nJobs running tasks.
func (p *Pool) runTask(ctx context.Context, gate *semaphore.Weighted, i int, param *Parameter) (res Result) {
	failed := func(err error) Result {
		p.setState(i, Failed)
		return Result{State: Failed, ExitCode: -1, Err: err}
	}
	cancelled := func(err error) Result {
		p.setState(i, Cancelled)
		return Result{State: Cancelled, ExitCode: -1, Err: err}
	}

	p.setState(i, Pending)
	if param.ParamSavePath == "" {
		return failed(ErrNoParamPath)
	}
	if err := param.Dump(param.ParamSavePath); err != nil {
		return failed(err)
	}
	if param.ResultsPath != "" {
		if err := os.MkdirAll(param.ResultsPath, 0o755); err != nil {
			return failed(err)
		}
	}

	if err := gate.Acquire(ctx, 1); err != nil {
		return cancelled(err)
	}
	defer gate.Release(1)
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	p.setState(i, Running)
	defer func() { p.setState(i, res.State) }()
	args := append(append([]string(nil), p.args...), filepath.Base(param.ParamSavePath))
	cmd := exec.CommandContext(ctx, p.exe, args...)
	cmd.Dir = filepath.Dir(param.ParamSavePath)
	cmd.WaitDelay = p.waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res = Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		res.State = Cancelled
		res.ExitCode = -1
		res.Err = ctx.Err()
		return res
	}
	if err != nil {
		res.State = Failed
		res.Err = err
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		p.log.Debugf("task %d (%s) failed: %v", i, param.SampleName, err)
		return res
	}

	table, err := ReadTable(param.ResultFile())
	if err != nil {
		res.State = Failed
		res.Err = err
		return res
	}
	res.State = Succeeded
	res.Table = table
	return res
}
