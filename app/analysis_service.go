package app

import (
	"context"
	"errors"

	"narpstat/domain/analysis"
	"narpstat/domain/core"
	"narpstat/domain/study"
	apperrors "narpstat/internal/errors"
	"narpstat/internal/glm"
	"narpstat/internal/logging"
	"narpstat/internal/mixed"
	"narpstat/ports"
)

// AnalysisService runs the point-estimate analyses: descriptive decision
// rates, the per-hypothesis smoothness screen, the mixed logistic model
// with its per-covariate information-criterion comparisons, and the
// similarity linear mixed model
type AnalysisService struct {
	store ports.RunStore
	log   *logging.Logger
}

// AnalyzeRequest defines the inputs of an analyze run
type AnalyzeRequest struct {
	TablePath  string
	QuadPoints int
}

// NewAnalysisService creates an analysis service
func NewAnalysisService(store ports.RunStore, log *logging.Logger) *AnalysisService {
	return &AnalysisService{store: store, log: log}
}

// Run executes the analyze phase over a prepared table
func (s *AnalysisService) Run(ctx context.Context, req AnalyzeRequest) (*analysis.AnalysisRun, error) {
	table, err := LoadTable(req.TablePath)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load merged table")
	}
	s.log.Info("analyze: %d observations, %d teams", len(table.Obs), table.NumTeams())

	tables := &analysis.ModelTables{
		DecisionRates: decisionRates(table),
	}

	tables.Screen, err = s.smoothnessScreen(table)
	if err != nil {
		return nil, err
	}

	opts := mixed.DefaultGLMMOptions()
	if req.QuadPoints > 0 {
		opts.QuadPoints = req.QuadPoints
	}
	design, err := glm.NewDesign(table.Obs, table.Levels)
	if err != nil {
		return nil, err
	}
	y := glm.DecisionResponse(table.Obs)

	full, err := mixed.FitGLMM(design, y, opts)
	if err != nil {
		return nil, apperrors.FitFailed("mixed logistic", err)
	}
	tables.Decision = full
	s.log.Info("analyze: mixed logistic converged (loglik %.2f, sigma %.3f)", full.LogLik, full.RandomInterceptSD)

	reducedOpts := opts
	reducedOpts.WaldSE = false
	for _, term := range glm.CategoricalTerms() {
		reducedDesign, err := design.Drop(term)
		if err != nil {
			return nil, err
		}
		reduced, err := mixed.FitGLMM(reducedDesign, y, reducedOpts)
		if err != nil {
			return nil, apperrors.FitFailed("reduced mixed logistic without "+term, err)
		}
		tables.Comparisons = append(tables.Comparisons, mixed.Compare(term, full, reduced))
	}

	tables.Similarity, err = s.similarityModel(table)
	if err != nil {
		return nil, err
	}

	run := analysis.NewRun(analysis.RunAnalyze, 0, analysis.Params{
		TablePath:  req.TablePath,
		QuadPoints: opts.QuadPoints,
	})
	run.Tables = tables
	if err := s.store.Save(ctx, run); err != nil {
		return nil, apperrors.Wrap(err, "failed to save analyze run")
	}
	return run, nil
}

// decisionRates computes the per-hypothesis fraction of significant decisions
func decisionRates(table *study.Table) []analysis.DecisionRate {
	counts := make(map[study.Hypothesis]int)
	positives := make(map[study.Hypothesis]int)
	for _, o := range table.Obs {
		counts[o.Hypothesis]++
		if o.Decision {
			positives[o.Hypothesis]++
		}
	}

	var rates []analysis.DecisionRate
	for _, h := range table.Levels.Hypotheses {
		rates = append(rates, analysis.DecisionRate{
			Hypothesis: int(h),
			Label:      h.Label(),
			Teams:      counts[h],
			Rate:       float64(positives[h]) / float64(counts[h]),
		})
	}
	return rates
}

// smoothnessScreen runs the per-hypothesis Spearman test of FWHM against
// decision, BH-adjusted across the hypothesis family. Hypotheses where the
// test is undefined (for instance unanimous decisions) are left out of the
// family.
func (s *AnalysisService) smoothnessScreen(table *study.Table) ([]analysis.ScreenResult, error) {
	var results []analysis.ScreenResult
	var pvalues []float64

	for _, h := range table.Levels.Hypotheses {
		var x, y []float64
		for _, o := range table.Obs {
			if o.Hypothesis != h {
				continue
			}
			x = append(x, o.FWHM)
			if o.Decision {
				y = append(y, 1)
			} else {
				y = append(y, 0)
			}
		}

		rho, p, err := glm.SpearmanTest(x, y)
		if err != nil {
			if errors.Is(err, core.ErrInsufficientData) {
				s.log.Warn("analyze: smoothness screen undefined for %s", h)
				continue
			}
			return nil, err
		}
		results = append(results, analysis.ScreenResult{
			Hypothesis: int(h),
			Rho:        rho,
			PValue:     p,
			N:          len(x),
		})
		pvalues = append(pvalues, p)
	}

	for i, q := range glm.BenjaminiHochberg(pvalues) {
		results[i].QValue = q
	}
	return results, nil
}

// similarityModel fits the linear mixed model on the observations that have
// a similarity statistic; nil when too few matrices were available
func (s *AnalysisService) similarityModel(table *study.Table) (*analysis.FitResult, error) {
	var obs []study.Observation
	for _, o := range table.Obs {
		if o.HasSimilarity {
			obs = append(obs, o)
		}
	}
	if len(obs) == 0 {
		s.log.Warn("analyze: no similarity data; skipping similarity model")
		return nil, nil
	}

	// The similarity subset may cover fewer hypotheses than the decisions
	// table, so it gets its own level sets and group indices
	sub, err := study.NewTableFromObservations(obs)
	if err != nil {
		if core.IsDataError(err) {
			s.log.Warn("analyze: similarity model not fit: %v", err)
			return nil, nil
		}
		return nil, err
	}
	y := make([]float64, len(sub.Obs))
	for i, o := range sub.Obs {
		y[i] = o.Similarity
	}

	design, err := glm.NewDesign(sub.Obs, sub.Levels)
	if err != nil {
		return nil, err
	}
	fit, err := mixed.FitLMM(design, y)
	if err != nil {
		if core.IsFitError(err) || errors.Is(err, core.ErrInsufficientData) {
			s.log.Warn("analyze: similarity model not fit: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return fit, nil
}
