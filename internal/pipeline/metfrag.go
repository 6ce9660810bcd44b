package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/524D/opesid/internal/config"
	"github.com/524D/opesid/internal/metfrag"
	"github.com/524D/opesid/internal/mzml"
	"github.com/524D/opesid/internal/progress"
)

// Substructures every MetFrag candidate must contain, depending on the
// ester type
const (
	TriEsterSMARTS = "[#6]-O-P(=O)(-O-[#6])-O-[#6]"
	DiEsterSMARTS  = "[HO]-P(=O)(-O)-O-[#6]"
)

// MetFragParams builds one parameter set per candidate. Parameter files
// are placed in workDir/param_dir and results in workDir/compute_dir.
func MetFragParams(cands []Candidate, cfg *config.Config, workDir string) []*metfrag.Parameter {
	base := metfrag.NewParameter()
	base.MaximumTreeDepth = cfg.MetFrag.MaxTreeDepth
	base.MetFragDatabaseType = cfg.MetFrag.DBType
	if cfg.MetFrag.DBType == "LocalCSV" || cfg.MetFrag.DBType == "LocalSDF" {
		base.LocalDatabasePath = cfg.MetFrag.DBPath
	}
	base.ResultsPath = filepath.Join(workDir, "compute_dir")

	params := make([]*metfrag.Parameter, len(cands))
	for i, c := range cands {
		neutral := c.Formula.Neutral().Elemental().String()
		mz := c.PrecursorMz

		p := base.Clone()
		p.NeutralPrecursorMolecularFormula = neutral
		p.PeakListString = PeakListString(c.Peaks)
		p.IonizedPrecursorMass = &mz

		var smarts []string
		if cfg.MetFrag.Constraints.Fragment {
			if c.TriEster {
				smarts = append(smarts, TriEsterSMARTS)
			} else {
				smarts = append(smarts, DiEsterSMARTS)
			}
		}
		if cfg.MetFrag.Constraints.EsterType {
			for _, ion := range c.Ions {
				smarts = append(smarts, ion.SMARTS)
			}
		}
		p.FilterSmartsInclusionList = smarts
		p.MetFragPreProcessingCandidateFilter = []string{metfrag.UnconnectedCompoundFilter}
		if len(smarts) != 0 {
			p.MetFragPreProcessingCandidateFilter = append(p.MetFragPreProcessingCandidateFilter,
				metfrag.SmartsSubstructureInclusionFilter)
		}

		sample := fmt.Sprintf("%d_%s_%s", c.MS2Index, neutral, strconv.FormatFloat(mz, 'f', -1, 64))
		p.SampleName = sample
		p.ParamSavePath = filepath.Join(workDir, "param_dir", sample+"_param.txt")
		params[i] = p
	}
	return params
}

// PeakListString formats peaks as "mz_intensity;mz_intensity;..."
func PeakListString(peaks []mzml.Peak) string {
	s := make([]string, len(peaks))
	for i, p := range peaks {
		s[i] = strconv.FormatFloat(p.Mz, 'f', -1, 64) + "_" + strconv.FormatFloat(p.Intens, 'f', -1, 64)
	}
	return strings.Join(s, ";")
}

// MetFragRun is the outcome of the MetFrag stage, aligned with the
// candidates
type MetFragRun struct {
	WorkDir string
	Params  []*metfrag.Parameter
	Results []metfrag.Result
}

// RunMetFrag runs MetFrag for every candidate in a fresh directory below
// the configured work directory. ErrToolNotFound is returned before any
// task starts when java can't be found. On cancellation the partial
// results are returned with an error wrapping progress.ErrCancelRequested.
func RunMetFrag(ctx context.Context, cands []Candidate, cfg *config.Config, prog progress.Func) (*MetFragRun, error) {
	log := zap.S().Named("pipeline")
	jar, err := filepath.Abs(cfg.MetFrag.Jar)
	if err != nil {
		return nil, err
	}
	pool, err := metfrag.NewPool(metfrag.JavaTool(cfg.MetFrag.JavaPath, jar), cfg.MetFrag.NJob)
	if err != nil {
		return nil, err
	}
	return runPool(ctx, pool, cands, cfg, prog, log)
}

func runPool(ctx context.Context, pool *metfrag.Pool, cands []Candidate, cfg *config.Config,
	prog progress.Func, log *zap.SugaredLogger) (*MetFragRun, error) {

	run := &MetFragRun{WorkDir: filepath.Join(cfg.WorkDir(), uuid.NewString())}
	run.Params = MetFragParams(cands, cfg, run.WorkDir)
	pool.SetProgress(progress.Range(prog, StageMetFrag, 0, 100))
	pool.SetOnStateChange(func(i int, s metfrag.State) {
		log.Debugf("metfrag task %d (%s): %v", i, run.Params[i].SampleName, s)
	})
	log.Infof("running MetFrag for %d candidates in %s", len(cands), run.WorkDir)

	results, err := pool.Run(ctx, run.Params)
	run.Results = results
	if err != nil {
		return run, err
	}
	failed := 0
	for _, r := range results {
		if r.State != metfrag.Succeeded {
			failed++
		}
	}
	log.Infof("metfrag: %d of %d tasks succeeded", len(results)-failed, len(results))
	return run, nil
}
