package analysis

import (
	"narpstat/domain/core"
)

// ============================================================================
// FIT RESULTS (shared by fixed-effect and mixed-model fitters)
// ============================================================================

// Coefficient is one fixed-effect estimate with its Wald standard error
type Coefficient struct {
	Name      string  `json:"name"`
	Estimate  float64 `json:"estimate"`
	StdErr    float64 `json:"std_err"`
	OddsRatio float64 `json:"odds_ratio,omitempty"`
}

// FitResult summarizes one converged model fit.
// INVARIANTS:
// - AIC = 2*NumParams - 2*LogLik
// - BIC = NumParams*ln(NumObs) - 2*LogLik
// - a non-converged fit never produces a FitResult (typed error instead)
type FitResult struct {
	Model             string        `json:"model"`
	Coefficients      []Coefficient `json:"coefficients"`
	LogLik            float64       `json:"log_lik"`
	Deviance          float64       `json:"deviance"`
	AIC               float64       `json:"aic"`
	BIC               float64       `json:"bic"`
	NumObs            int           `json:"num_obs"`
	NumParams         int           `json:"num_params"`
	RandomInterceptSD float64       `json:"random_intercept_sd,omitempty"`
}

// Coefficient looks up a fixed effect by design-column name
func (f *FitResult) Coefficient(name string) (Coefficient, bool) {
	for _, c := range f.Coefficients {
		if c.Name == name {
			return c, true
		}
	}
	return Coefficient{}, false
}

// Comparison is a reduced-vs-full information-criterion comparison for one
// categorical covariate. Deltas are criterion(reduced) - criterion(full):
// positive means the covariate earns its keep.
type Comparison struct {
	Covariate string  `json:"covariate"`
	DeltaAIC  float64 `json:"delta_aic"`
	DeltaBIC  float64 `json:"delta_bic"`
}

// ============================================================================
// BOOTSTRAP RESULTS
// ============================================================================

// PercentileCI is a percentile confidence interval over an empirical
// bootstrap distribution. A pure function of the value multiset.
type PercentileCI struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

// StatSummary summarizes the bootstrap distribution of one statistic.
// SelectionProb is set only for information-criterion deltas: the fraction
// of replicates in which the full model improved on the reduced model.
type StatSummary struct {
	Name          string       `json:"name"`
	N             int          `json:"n"`
	Mean          float64      `json:"mean"`
	Median        float64      `json:"median"`
	CI            PercentileCI `json:"ci"`
	SelectionProb *float64     `json:"selection_prob,omitempty"`
}

// BootstrapSummary is the aggregate outcome of a bootstrap-over-teams run
type BootstrapSummary struct {
	Seed           int64         `json:"seed"`
	Requested      int           `json:"requested"`
	Completed      int           `json:"completed"`
	Degenerate     int           `json:"degenerate"`
	Failed         int           `json:"failed"`
	FailureReasons []string      `json:"failure_reasons,omitempty"`
	Stats          []StatSummary `json:"stats"`
}

// ============================================================================
// ANALYSIS TABLES
// ============================================================================

// DecisionRate is the fraction of teams reporting a significant decision
// for one hypothesis
type DecisionRate struct {
	Hypothesis int     `json:"hypothesis"`
	Label      string  `json:"label"`
	Teams      int     `json:"teams"`
	Rate       float64 `json:"rate"`
}

// ScreenResult is one per-hypothesis smoothness-vs-decision correlation test
type ScreenResult struct {
	Hypothesis int     `json:"hypothesis"`
	Rho        float64 `json:"rho"`
	PValue     float64 `json:"p_value"`
	QValue     float64 `json:"q_value"`
	N          int     `json:"n"`
}

// ModelTables bundles the point-estimate analyses of one analyze run
type ModelTables struct {
	DecisionRates []DecisionRate `json:"decision_rates"`
	Screen        []ScreenResult `json:"screen,omitempty"`
	Decision      *FitResult     `json:"decision_model,omitempty"`
	Comparisons   []Comparison   `json:"comparisons,omitempty"`
	Similarity    *FitResult     `json:"similarity_model,omitempty"`
}

// PrepareSummary accounts for the prepare-phase merge
type PrepareSummary struct {
	Teams             int                   `json:"teams"`
	TeamsKept         int                   `json:"teams_kept"`
	Observations      int                   `json:"observations"`
	MissingSmoothness int                   `json:"missing_smoothness"`
	MissingDecisions  int                   `json:"missing_decisions"`
	MissingSimilarity int                   `json:"missing_similarity"`
	UnknownSoftware   int                   `json:"unknown_software"`
	UnknownTesting    int                   `json:"unknown_testing"`
	OutputPath        string                `json:"output_path"`
	Fingerprint       core.TableFingerprint `json:"fingerprint"`
}

// ============================================================================
// RUN ARTIFACT
// ============================================================================

// RunKind labels the phase that produced a run artifact
type RunKind string

const (
	RunPrepare   RunKind = "prepare"
	RunAnalyze   RunKind = "analyze"
	RunBootstrap RunKind = "bootstrap"
)

// Params captures the knobs a run was executed with
type Params struct {
	TablePath  string  `json:"table_path,omitempty"`
	Replicates int     `json:"replicates,omitempty"`
	QuadPoints int     `json:"quad_points,omitempty"`
	Workers    int     `json:"workers,omitempty"`
	VoxelMM    float64 `json:"voxel_mm,omitempty"`
	Strict     bool    `json:"strict,omitempty"`
	CILevel    float64 `json:"ci_level,omitempty"`
}

// AnalysisRun is the persisted artifact of one prepare/analyze/bootstrap run
type AnalysisRun struct {
	ID        core.RunID        `json:"id"`
	Kind      RunKind           `json:"kind"`
	CreatedAt core.Timestamp    `json:"created_at"`
	Seed      int64             `json:"seed"`
	Params    Params            `json:"params"`
	Prepare   *PrepareSummary   `json:"prepare,omitempty"`
	Tables    *ModelTables      `json:"tables,omitempty"`
	Bootstrap *BootstrapSummary `json:"bootstrap,omitempty"`
}

// NewRun creates a run artifact with a fresh time-ordered ID
func NewRun(kind RunKind, seed int64, params Params) *AnalysisRun {
	return &AnalysisRun{
		ID:        core.RunID(core.NewID()),
		Kind:      kind,
		CreatedAt: core.Now(),
		Seed:      seed,
		Params:    params,
	}
}
