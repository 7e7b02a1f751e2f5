package glm

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"narpstat/domain/analysis"
	"narpstat/domain/core"
)

const (
	irlsMaxIter = 100
	irlsTol     = 1e-8
	probFloor   = 1e-10
)

// FitLogistic fits a fixed-effects logistic regression by iteratively
// reweighted least squares. Non-convergence, non-finite weights and singular
// information matrices are typed errors; a partial fit is never returned.
func FitLogistic(d *Design, y []float64) (*analysis.FitResult, error) {
	n, p := d.X.Dims()
	if len(y) != n {
		return nil, core.NewValidationError("logistic", "response length does not match design rows")
	}
	if n <= p {
		return nil, core.NewConvergenceError("logistic", "more parameters than observations")
	}

	beta := make([]float64, p)
	eta := make([]float64, n)
	mu := make([]float64, n)
	w := make([]float64, n)
	z := make([]float64, n)

	var chol mat.Cholesky
	converged := false

	for iter := 0; iter < irlsMaxIter; iter++ {
		for i := 0; i < n; i++ {
			eta[i] = 0
			for j := 0; j < p; j++ {
				eta[i] += d.X.At(i, j) * beta[j]
			}
			mu[i] = sigmoid(eta[i])
			if mu[i] < probFloor {
				mu[i] = probFloor
			} else if mu[i] > 1-probFloor {
				mu[i] = 1 - probFloor
			}
			w[i] = mu[i] * (1 - mu[i])
			z[i] = eta[i] + (y[i]-mu[i])/w[i]
			if math.IsNaN(z[i]) || math.IsInf(z[i], 0) {
				return nil, core.NewConvergenceError("logistic", "non-finite working response")
			}
		}

		xtwx, xtwz := weightedNormalEquations(d.X, w, z)
		if ok := chol.Factorize(xtwx); !ok {
			return nil, core.ErrRankDeficient
		}

		var next mat.VecDense
		if err := chol.SolveVecTo(&next, xtwz); err != nil {
			return nil, core.ErrRankDeficient
		}

		maxDelta := 0.0
		for j := 0; j < p; j++ {
			bj := next.AtVec(j)
			if math.IsNaN(bj) || math.IsInf(bj, 0) {
				return nil, core.NewConvergenceError("logistic", "non-finite coefficient update")
			}
			if delta := math.Abs(bj - beta[j]); delta > maxDelta {
				maxDelta = delta
			}
			beta[j] = bj
		}
		if maxDelta < irlsTol {
			converged = true
			break
		}
	}
	if !converged {
		return nil, core.NewConvergenceError("logistic", "IRLS iteration limit reached")
	}

	loglik := 0.0
	for i := 0; i < n; i++ {
		eta[i] = 0
		for j := 0; j < p; j++ {
			eta[i] += d.X.At(i, j) * beta[j]
		}
		mu[i] = sigmoid(eta[i])
		loglik += y[i]*math.Log(math.Max(mu[i], probFloor)) + (1-y[i])*math.Log(math.Max(1-mu[i], probFloor))
		w[i] = mu[i] * (1 - mu[i])
	}
	if math.IsNaN(loglik) || math.IsInf(loglik, 0) {
		return nil, core.NewConvergenceError("logistic", "non-finite log-likelihood")
	}

	// Wald standard errors from the inverse Fisher information
	xtwx, _ := weightedNormalEquations(d.X, w, z)
	if ok := chol.Factorize(xtwx); !ok {
		return nil, core.ErrRankDeficient
	}
	var info mat.SymDense
	if err := chol.InverseTo(&info); err != nil {
		return nil, core.ErrRankDeficient
	}

	result := &analysis.FitResult{
		Model:     "logistic",
		LogLik:    loglik,
		Deviance:  -2 * loglik,
		NumObs:    n,
		NumParams: p,
	}
	result.AIC, result.BIC = Criteria(loglik, p, n)
	for j := 0; j < p; j++ {
		result.Coefficients = append(result.Coefficients, analysis.Coefficient{
			Name:      d.Names[j],
			Estimate:  beta[j],
			StdErr:    math.Sqrt(info.At(j, j)),
			OddsRatio: math.Exp(beta[j]),
		})
	}
	return result, nil
}

// Criteria computes AIC and BIC from a log-likelihood
func Criteria(loglik float64, numParams, numObs int) (aic, bic float64) {
	aic = 2*float64(numParams) - 2*loglik
	bic = float64(numParams)*math.Log(float64(numObs)) - 2*loglik
	return aic, bic
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// weightedNormalEquations forms X'WX and X'Wz for one IRLS step
func weightedNormalEquations(x *mat.Dense, w, z []float64) (*mat.SymDense, *mat.VecDense) {
	n, p := x.Dims()
	xtwx := mat.NewSymDense(p, nil)
	xtwz := mat.NewVecDense(p, nil)
	for j := 0; j < p; j++ {
		for k := j; k < p; k++ {
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += x.At(i, j) * w[i] * x.At(i, k)
			}
			xtwx.SetSym(j, k, sum)
		}
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += x.At(i, j) * w[i] * z[i]
		}
		xtwz.SetVec(j, sum)
	}
	return xtwx, xtwz
}
