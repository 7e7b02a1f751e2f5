package mixed

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"narpstat/domain/analysis"
	"narpstat/domain/core"
	"narpstat/internal/glm"
)

// Search bounds and tolerance for the profiled variance-ratio search
const (
	logLambdaMin = -12.0
	logLambdaMax = 12.0
	goldenTol    = 1e-9
)

// FitLMM fits y ~ design columns + (1 | group) by profiled maximum
// likelihood over the variance ratio lambda = sigma_b^2 / sigma^2. For fixed
// lambda the per-group covariance inverts in closed form (Sherman-Morrison
// on I + lambda*11'), giving GLS estimates and a profiled log-likelihood;
// a golden-section search maximizes it over log lambda.
func FitLMM(d *glm.Design, y []float64) (*analysis.FitResult, error) {
	n, p := d.X.Dims()
	if len(y) != n {
		return nil, core.NewValidationError("lmm", "response length does not match design rows")
	}
	if n <= p+1 {
		return nil, core.ErrInsufficientData
	}
	if d.NumGroups < 2 {
		return nil, core.ErrInsufficientData
	}

	groups := make([][]int, d.NumGroups)
	for i, g := range d.Groups {
		groups[g] = append(groups[g], i)
	}

	profile := func(logLambda float64) (float64, []float64, float64, error) {
		return profiledLogLik(d.X, y, groups, math.Exp(logLambda))
	}

	// Golden-section search over log lambda
	const phi = 0.6180339887498949
	a, b := logLambdaMin, logLambdaMax
	c := b - phi*(b-a)
	e := a + phi*(b-a)
	fc, _, _, errC := profile(c)
	fe, _, _, errE := profile(e)
	if errC != nil {
		return nil, errC
	}
	if errE != nil {
		return nil, errE
	}
	for b-a > goldenTol {
		if fc > fe {
			b, e, fe = e, c, fc
			c = b - phi*(b-a)
			var err error
			fc, _, _, err = profile(c)
			if err != nil {
				return nil, err
			}
		} else {
			a, c, fc = c, e, fe
			e = a + phi*(b-a)
			var err error
			fe, _, _, err = profile(e)
			if err != nil {
				return nil, err
			}
		}
	}
	logLambda := (a + b) / 2
	loglik, beta, sigma2, err := profile(logLambda)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(loglik) || math.IsInf(loglik, 0) {
		return nil, core.NewConvergenceError("lmm", "non-finite profiled log-likelihood")
	}

	lambda := math.Exp(logLambda)
	sigmaB := math.Sqrt(lambda * sigma2)

	// Var(beta) = sigma^2 * A^{-1} with A the GLS normal-equation matrix
	aMat, _ := glsNormalEquations(d.X, y, groups, lambda)
	var chol mat.Cholesky
	if ok := chol.Factorize(aMat); !ok {
		return nil, core.ErrRankDeficient
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, core.ErrRankDeficient
	}

	fit := &analysis.FitResult{
		Model:             "lmm-gaussian",
		LogLik:            loglik,
		Deviance:          -2 * loglik,
		NumObs:            n,
		NumParams:         p + 2, // beta plus both variance components
		RandomInterceptSD: sigmaB,
	}
	fit.AIC, fit.BIC = glm.Criteria(loglik, p+2, n)
	for j := 0; j < p; j++ {
		fit.Coefficients = append(fit.Coefficients, analysis.Coefficient{
			Name:     d.Names[j],
			Estimate: beta[j],
			StdErr:   math.Sqrt(sigma2 * cov.At(j, j)),
		})
	}
	return fit, nil
}

// glsNormalEquations forms A = X'M X and u = X'M y where M is the
// block-diagonal Sherman-Morrison inverse (up to sigma^2) of I + lambda*11'
func glsNormalEquations(x *mat.Dense, y []float64, groups [][]int, lambda float64) (*mat.SymDense, *mat.VecDense) {
	_, p := x.Dims()
	aMat := mat.NewSymDense(p, nil)
	u := mat.NewVecDense(p, nil)

	colSum := make([]float64, p)
	for _, rows := range groups {
		if len(rows) == 0 {
			continue
		}
		ng := float64(len(rows))
		cg := lambda / (1 + ng*lambda)

		for j := range colSum {
			colSum[j] = 0
		}
		ySum := 0.0
		for _, i := range rows {
			for j := 0; j < p; j++ {
				colSum[j] += x.At(i, j)
			}
			ySum += y[i]
		}

		for j := 0; j < p; j++ {
			for k := j; k < p; k++ {
				sum := 0.0
				for _, i := range rows {
					sum += x.At(i, j) * x.At(i, k)
				}
				aMat.SetSym(j, k, aMat.At(j, k)+sum-cg*colSum[j]*colSum[k])
			}
			sum := 0.0
			for _, i := range rows {
				sum += x.At(i, j) * y[i]
			}
			u.SetVec(j, u.AtVec(j)+sum-cg*colSum[j]*ySum)
		}
	}
	return aMat, u
}

// profiledLogLik computes the ML profile at a fixed variance ratio
func profiledLogLik(x *mat.Dense, y []float64, groups [][]int, lambda float64) (float64, []float64, float64, error) {
	n, p := x.Dims()

	aMat, u := glsNormalEquations(x, y, groups, lambda)
	var chol mat.Cholesky
	if ok := chol.Factorize(aMat); !ok {
		return 0, nil, 0, core.ErrRankDeficient
	}
	var betaVec mat.VecDense
	if err := chol.SolveVecTo(&betaVec, u); err != nil {
		return 0, nil, 0, core.ErrRankDeficient
	}
	beta := make([]float64, p)
	for j := 0; j < p; j++ {
		beta[j] = betaVec.AtVec(j)
	}

	// Residual quadratic form and log-determinant, per group
	quadForm := 0.0
	logDet := 0.0
	for _, rows := range groups {
		if len(rows) == 0 {
			continue
		}
		ng := float64(len(rows))
		cg := lambda / (1 + ng*lambda)
		logDet += math.Log(1 + ng*lambda)

		rSum := 0.0
		rSq := 0.0
		for _, i := range rows {
			r := y[i]
			for j := 0; j < p; j++ {
				r -= x.At(i, j) * beta[j]
			}
			rSum += r
			rSq += r * r
		}
		quadForm += rSq - cg*rSum*rSum
	}
	if quadForm <= 0 {
		return 0, nil, 0, core.NewConvergenceError("lmm", "nonpositive residual quadratic form")
	}

	sigma2 := quadForm / float64(n)
	loglik := -0.5 * (float64(n)*(math.Log(2*math.Pi*sigma2)+1) + logDet)
	return loglik, beta, sigma2, nil
}
