package mixed

import (
	"narpstat/domain/analysis"
)

// Compare builds the reduced-vs-full comparison for one covariate. The
// deltas are criterion(reduced) - criterion(full) for both criteria; this is
// the only place the sign convention lives.
func Compare(covariate string, full, reduced *analysis.FitResult) analysis.Comparison {
	return analysis.Comparison{
		Covariate: covariate,
		DeltaAIC:  reduced.AIC - full.AIC,
		DeltaBIC:  reduced.BIC - full.BIC,
	}
}
