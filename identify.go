package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/524D/opesid/internal/config"
	"github.com/524D/opesid/internal/pipeline"
	"github.com/524D/opesid/internal/progress"
)

// Flags of the identify command
type identifyParams struct {
	posFile    string
	negFile    string
	targets    string
	out        string
	rtWindow   string // retention time window of reported candidates
	metfrag    bool
	watch      bool
	debugSpecs string // MS2 index range for debug output
}

var idPar identifyParams

func init() {
	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Find OPE candidates in a positive/negative pair of runs",
		Args:  cobra.NoArgs,
		RunE:  runIdentify,
	}
	f := cmd.Flags()
	f.StringVar(&idPar.posFile, "pos", "", "positive ion mode mzML `file`")
	f.StringVar(&idPar.negFile, "neg", "", "negative ion mode mzML `file`")
	f.StringVar(&idPar.targets, "targets", "", "YAML `file` with target fragment ions (default: built-in list)")
	f.StringVarP(&idPar.out, "out", "o", "opesid_results.xlsx", "result workbook `file`")
	f.StringVar(&idPar.rtWindow, "rt", "", "only report candidates in retention time `range` (s), e.g. 60:900")
	f.BoolVar(&idPar.metfrag, "metfrag", false, "run MetFrag for every candidate")
	f.BoolVar(&idPar.watch, "watch", false, "rerun whenever the config file changes")
	f.StringVar(&idPar.debugSpecs, "debug", "",
		"Print debug output for given MS2 spectrum `range` e.g. 3:6")
	rootCmd.AddCommand(cmd)
}

// applyFlags overrides the file settings of cfg with the command line
func applyFlags(cfg *config.Config) error {
	if idPar.posFile != "" {
		cfg.Path.PosFile = idPar.posFile
	}
	if idPar.negFile != "" {
		cfg.Path.NegFile = idPar.negFile
	}
	if idPar.targets != "" {
		cfg.Path.Targets = idPar.targets
	}
	if cfg.Path.PosFile == "" || cfg.Path.NegFile == "" {
		return errors.New("a positive and a negative run are required (--pos, --neg)")
	}
	return nil
}

func runIdentify(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(par.configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg); err != nil {
		return err
	}
	if !idPar.watch {
		return identify(ctx, cfg)
	}
	if par.configPath == "" {
		return errors.New("--watch needs --config")
	}
	return watchIdentify(ctx, cfg)
}

// watchIdentify runs identify, and again with the new settings every time
// the config file changes. A run in progress is cancelled by a change.
func watchIdentify(ctx context.Context, cfg *config.Config) error {
	log := zap.S().Named("watch")
	store := config.NewStore(cfg)
	reloaded := make(chan *config.Config, 1)
	store.Subscribe(func(c *config.Config) {
		next := *c
		if err := applyFlags(&next); err != nil {
			log.Warnf("ignoring new settings: %v", err)
			return
		}
		select {
		case <-reloaded:
		default:
		}
		select {
		case reloaded <- &next:
		default:
		}
	})
	if _, err := config.Watch(ctx, par.configPath, store); err != nil {
		return err
	}

	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		runCfg := cfg
		go func() { done <- identify(runCtx, runCfg) }()

		select {
		case err := <-done:
			cancel()
			if err != nil {
				log.Errorf("%v", err)
			}
			log.Infof("waiting for changes to %s", par.configPath)
			select {
			case <-ctx.Done():
				return nil
			case cfg = <-reloaded:
			}
		case cfg = <-reloaded:
			log.Infof("settings changed, restarting")
			cancel()
			<-done
		case <-ctx.Done():
			cancel()
			<-done
			return nil
		}
	}
}

// identify runs the pipeline once and writes all outputs
func identify(ctx context.Context, cfg *config.Config) error {
	log := zap.S()
	start := time.Now()

	targets, err := config.LoadTargets(cfg.Path.Targets)
	if err != nil {
		return err
	}
	prog := stageProgress(log.Named("progress"))
	id := pipeline.New(cfg, targets)
	id.SetProgress(prog)
	res, err := id.Run(ctx)
	if err != nil {
		return err
	}
	if idPar.debugSpecs != "" {
		if err := debugLogHits(res, idPar.debugSpecs); err != nil {
			return err
		}
	}

	cands := res.Candidates
	if idPar.rtWindow != "" {
		lo, hi, err := parseFloat64Range(idPar.rtWindow, 0, math.MaxFloat64)
		if err != nil {
			return fmt.Errorf("--rt %q: %w", idPar.rtWindow, err)
		}
		cands = filterRT(cands, lo, hi)
		log.Infof("%d of %d candidates in retention time window %g:%g",
			len(cands), len(res.Candidates), lo, hi)
	}

	var mf *pipeline.MetFragRun
	var mfErr error
	if idPar.metfrag && len(cands) > 0 {
		mf, mfErr = pipeline.RunMetFrag(ctx, cands, cfg, prog)
		if mfErr != nil && (mf == nil || !errors.Is(mfErr, progress.ErrCancelRequested)) {
			return mfErr
		}
	}

	base := strings.TrimSuffix(idPar.out, filepath.Ext(idPar.out))
	if err := pipeline.WriteResults(idPar.out, cands, mf); err != nil {
		return err
	}
	if err := pipeline.WriteSpectra(base+"-hits.mzML", cands); err != nil {
		return err
	}
	if mf != nil {
		n, err := pipeline.WriteMetFragResults(base+"_metfrag", cands, mf)
		if err != nil {
			return err
		}
		log.Infof("wrote %d MetFrag result workbooks to %s", n, base+"_metfrag")
	}
	if par.verbosity != infoSilent {
		log.Infof("wrote %d candidates to %s in %v", len(cands), idPar.out,
			time.Since(start).Round(time.Millisecond))
	}
	return mfErr
}

func filterRT(cands []pipeline.Candidate, lo, hi float64) []pipeline.Candidate {
	var out []pipeline.Candidate
	for _, c := range cands {
		if c.RT >= lo && c.RT <= hi {
			out = append(out, c)
		}
	}
	return out
}

// stageProgress logs each stage in steps of 10%
func stageProgress(log *zap.SugaredLogger) progress.Func {
	var mu sync.Mutex
	last := make(map[string]int)
	return func(stage string, value int) {
		mu.Lock()
		defer mu.Unlock()
		step := value / 10
		if s, ok := last[stage]; ok && s == step {
			return
		}
		last[stage] = step
		log.Debugf("%s: %d%%", stage, value)
	}
}
