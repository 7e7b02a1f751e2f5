// Package bootstrap implements the nonparametric bootstrap over analysis
// teams: resample teams with replacement, refit the mixed logistic model and
// its reduced variants on each replicate, and summarize the empirical
// distributions with percentile intervals and model-selection probabilities.
package bootstrap

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/semaphore"

	"narpstat/domain/analysis"
	"narpstat/domain/core"
	"narpstat/domain/study"
	"narpstat/internal/glm"
	"narpstat/internal/logging"
	"narpstat/internal/mixed"
)

// Options configures a bootstrap run
type Options struct {
	Replicates int
	Seed       int64
	Workers    int64
	QuadPoints int
	CILevel    float64
	// Strict makes degenerate replicates and per-replicate fit failures
	// fatal instead of skipped-and-counted
	Strict bool
}

// DefaultOptions mirrors the confirmatory analysis settings
func DefaultOptions() Options {
	return Options{
		Replicates: 1000,
		Seed:       42,
		Workers:    4,
		QuadPoints: 10,
		CILevel:    0.95,
	}
}

// Runner executes bootstrap runs
type Runner struct {
	opts Options
	log  *logging.Logger
}

// NewRunner creates a bootstrap runner
func NewRunner(opts Options, log *logging.Logger) *Runner {
	if opts.Replicates < 1 {
		opts.Replicates = DefaultOptions().Replicates
	}
	if opts.Workers < 1 {
		opts.Workers = DefaultOptions().Workers
	}
	if opts.CILevel <= 0 || opts.CILevel >= 1 {
		opts.CILevel = DefaultOptions().CILevel
	}
	return &Runner{opts: opts, log: log}
}

// outcome is one replicate's contribution, indexed by replicate number so
// aggregation is independent of worker scheduling
type outcome struct {
	stats      map[string]float64
	degenerate bool
	reason     string
	err        error
}

// Run executes the full bootstrap over the source table
func (r *Runner) Run(ctx context.Context, table *study.Table) (*analysis.BootstrapSummary, error) {
	if table.NumTeams() < 2 {
		return nil, core.ErrInsufficientData
	}

	byTeam := make([][]study.Observation, 0, table.NumTeams())
	for _, id := range table.Teams {
		byTeam = append(byTeam, table.TeamObservations(id))
	}

	r.log.Info("bootstrap: %d replicates over %d teams (seed %d, %d workers)",
		r.opts.Replicates, table.NumTeams(), r.opts.Seed, r.opts.Workers)

	outcomes := make([]outcome, r.opts.Replicates)
	sem := semaphore.NewWeighted(r.opts.Workers)
	var wg sync.WaitGroup

	for rep := 0; rep < r.opts.Replicates; rep++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(rep int) {
			defer wg.Done()
			defer sem.Release(1)
			rng := rand.New(rand.NewSource(replicateSeed(r.opts.Seed, rep)))
			outcomes[rep] = r.runReplicate(byTeam, table.Levels, rng)
		}(rep)
	}
	wg.Wait()

	return r.summarize(outcomes)
}

// replicateSeed derives a per-replicate seed; results are a pure function of
// (base seed, replicate index) regardless of worker scheduling
func replicateSeed(seed int64, rep int) int64 {
	const mix = uint64(0x9E3779B97F4A7C15)
	return seed ^ int64(uint64(rep+1)*mix)
}

// Resample draws len(byTeam) teams with replacement. Each draw gets a fresh
// replicate-local group index, so a team drawn twice contributes two
// distinct random-intercept groups. Level sets are inherited from the
// source table, never re-derived.
func Resample(byTeam [][]study.Observation, levels study.Levels, rng *rand.Rand) *study.Table {
	n := len(byTeam)
	replicate := &study.Table{Levels: levels}
	for draw := 0; draw < n; draw++ {
		idx := rng.Intn(n)
		for _, o := range byTeam[idx] {
			o.Group = draw
			replicate.Obs = append(replicate.Obs, o)
		}
		if len(byTeam[idx]) > 0 {
			replicate.Teams = append(replicate.Teams, byTeam[idx][0].Team)
		}
	}
	return replicate
}

// CheckSupport verifies the replicate covers every categorical level of the
// source table and both values of each binary covariate. Without full factor
// support the reduced/full model pair is not well-defined, and a
// single-valued binary column is collinear with the intercept; either way
// the replicate is degenerate.
func CheckSupport(replicate *study.Table, ref study.Levels) error {
	missing := replicate.MissingLevels(ref)
	for _, covariate := range []string{glm.TermHypothesis, glm.TermSoftware, glm.TermTesting} {
		if levels := missing[covariate]; len(levels) > 0 {
			return core.NewDegenerateError(covariate, levels[0])
		}
	}

	var prepTrue, prepFalse, moveTrue, moveFalse bool
	for _, o := range replicate.Obs {
		if o.Fmriprep {
			prepTrue = true
		} else {
			prepFalse = true
		}
		if o.Movement {
			moveTrue = true
		} else {
			moveFalse = true
		}
	}
	switch {
	case !prepTrue:
		return core.NewDegenerateError(glm.TermFmriprep, "true")
	case !prepFalse:
		return core.NewDegenerateError(glm.TermFmriprep, "false")
	case !moveTrue:
		return core.NewDegenerateError(glm.TermMovement, "true")
	case !moveFalse:
		return core.NewDegenerateError(glm.TermMovement, "false")
	}
	return nil
}

func (r *Runner) runReplicate(byTeam [][]study.Observation, levels study.Levels, rng *rand.Rand) outcome {
	replicate := Resample(byTeam, levels, rng)

	if err := CheckSupport(replicate, levels); err != nil {
		return outcome{degenerate: true, reason: err.Error(), err: err}
	}

	design, err := glm.NewDesign(replicate.Obs, levels)
	if err != nil {
		return outcome{err: err, reason: err.Error()}
	}
	y := glm.DecisionResponse(replicate.Obs)

	opts := mixed.GLMMOptions{QuadPoints: r.opts.QuadPoints, WaldSE: false}
	full, err := mixed.FitGLMM(design, y, opts)
	if err != nil {
		return outcome{err: err, reason: fmt.Sprintf("full model: %v", err)}
	}

	values := make(map[string]float64)
	for _, term := range glm.ScalarTerms() {
		coef, ok := full.Coefficient(term)
		if !ok {
			return outcome{err: core.ErrRankDeficient, reason: fmt.Sprintf("term %s missing from full fit", term)}
		}
		values[term] = coef.Estimate
	}

	for _, term := range glm.CategoricalTerms() {
		reducedDesign, err := design.Drop(term)
		if err != nil {
			return outcome{err: err, reason: err.Error()}
		}
		reduced, err := mixed.FitGLMM(reducedDesign, y, opts)
		if err != nil {
			return outcome{err: err, reason: fmt.Sprintf("reduced model without %s: %v", term, err)}
		}
		cmp := mixed.Compare(term, full, reduced)
		values[term+":delta_aic"] = cmp.DeltaAIC
		values[term+":delta_bic"] = cmp.DeltaBIC
	}

	return outcome{stats: values}
}

// statNames returns the statistic names in fixed report order
func statNames() []string {
	names := append([]string{}, glm.ScalarTerms()...)
	for _, term := range glm.CategoricalTerms() {
		names = append(names, term+":delta_aic", term+":delta_bic")
	}
	return names
}

func (r *Runner) summarize(outcomes []outcome) (*analysis.BootstrapSummary, error) {
	summary := &analysis.BootstrapSummary{
		Seed:      r.opts.Seed,
		Requested: len(outcomes),
	}

	dists := make(map[string][]float64)
	for rep, out := range outcomes {
		switch {
		case out.degenerate:
			summary.Degenerate++
			if r.opts.Strict {
				return nil, fmt.Errorf("replicate %d: %w", rep, out.err)
			}
			summary.FailureReasons = appendReason(summary.FailureReasons, fmt.Sprintf("replicate %d: %s", rep, out.reason))
		case out.err != nil:
			summary.Failed++
			if r.opts.Strict {
				return nil, fmt.Errorf("replicate %d: %w", rep, out.err)
			}
			summary.FailureReasons = appendReason(summary.FailureReasons, fmt.Sprintf("replicate %d: %s", rep, out.reason))
		default:
			summary.Completed++
			for name, v := range out.stats {
				dists[name] = append(dists[name], v)
			}
		}
	}

	if summary.Completed == 0 {
		return nil, core.NewConvergenceError("bootstrap", "no replicate completed")
	}
	if summary.Degenerate > 0 {
		r.log.Warn("bootstrap: %d degenerate replicates skipped", summary.Degenerate)
	}
	if summary.Failed > 0 {
		r.log.Warn("bootstrap: %d replicates failed to fit", summary.Failed)
	}

	for _, name := range statNames() {
		values := dists[name]
		if len(values) == 0 {
			continue
		}
		stat, err := SummarizeStat(name, values, r.opts.CILevel)
		if err != nil {
			return nil, err
		}
		summary.Stats = append(summary.Stats, stat)
	}
	return summary, nil
}

// SummarizeStat reduces one empirical distribution to its report summary.
// It sorts a copy first, so the result is a pure function of the value
// multiset, invariant to replicate completion order.
func SummarizeStat(name string, values []float64, ciLevel float64) (analysis.StatSummary, error) {
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)

	mean, err := stats.Mean(sorted)
	if err != nil {
		return analysis.StatSummary{}, err
	}
	median, err := stats.Median(sorted)
	if err != nil {
		return analysis.StatSummary{}, err
	}

	// Percentiles outside the smallest resolvable rank clamp to the sample
	// extremes; this only happens for very small replicate counts.
	alpha := 1 - ciLevel
	lower, err := stats.Percentile(sorted, 100*alpha/2)
	if err != nil {
		lower = sorted[0]
	}
	upper, err := stats.Percentile(sorted, 100*(1-alpha/2))
	if err != nil {
		upper = sorted[len(sorted)-1]
	}

	summary := analysis.StatSummary{
		Name:   name,
		N:      len(sorted),
		Mean:   mean,
		Median: median,
		CI:     analysis.PercentileCI{Lower: lower, Upper: upper, Level: ciLevel},
	}

	if isDeltaStat(name) {
		improved := 0
		for _, v := range sorted {
			if v > 0 {
				improved++
			}
		}
		prob := float64(improved) / float64(len(sorted))
		summary.SelectionProb = &prob
	}
	return summary, nil
}

func isDeltaStat(name string) bool {
	for _, term := range glm.CategoricalTerms() {
		if name == term+":delta_aic" || name == term+":delta_bic" {
			return true
		}
	}
	return false
}

func appendReason(reasons []string, reason string) []string {
	const maxReasons = 10
	if len(reasons) >= maxReasons {
		return reasons
	}
	return append(reasons, reason)
}
