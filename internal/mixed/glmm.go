// Package mixed fits random-intercept mixed models: a Bernoulli GLMM by
// maximum likelihood with adaptive Gauss-Hermite quadrature, and a Gaussian
// LMM by profiled maximum likelihood. Both use ML (not REML) so information
// criteria are comparable across fixed-effect specifications.
package mixed

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"narpstat/domain/analysis"
	"narpstat/domain/core"
	"narpstat/internal/glm"
)

// GLMMOptions tunes the mixed logistic fit
type GLMMOptions struct {
	// QuadPoints is the number of Gauss-Hermite nodes per group integral
	QuadPoints int
	// MaxIter bounds the Nelder-Mead outer optimization
	MaxIter int
	// WaldSE toggles the numerical-Hessian standard errors. Bootstrap
	// replicates skip them; only coefficients and criteria are resampled.
	WaldSE bool
}

// DefaultGLMMOptions returns the settings used by the confirmatory analysis
func DefaultGLMMOptions() GLMMOptions {
	return GLMMOptions{QuadPoints: 10, MaxIter: 5000, WaldSE: true}
}

const (
	modeMaxIter = 50
	modeTol     = 1e-10
	logSqrt2Pi  = 0.9189385332046727 // log(sqrt(2*pi))
)

// glmmData is the per-fit working set: rows regrouped by team
type glmmData struct {
	x      *mat.Dense
	y      []float64
	groups [][]int // row indices per group
	nodes  []float64
	logW   []float64 // log quadrature weights
}

// FitGLMM fits decision ~ design columns + (1 | group) by maximum
// likelihood. The marginal likelihood integrates the random intercept out
// with adaptive Gauss-Hermite quadrature centered on each group's posterior
// mode; (beta, log sigma) are maximized jointly by Nelder-Mead.
func FitGLMM(d *glm.Design, y []float64, opts GLMMOptions) (*analysis.FitResult, error) {
	n, p := d.X.Dims()
	if len(y) != n {
		return nil, core.NewValidationError("glmm", "response length does not match design rows")
	}
	if d.NumGroups < 2 {
		return nil, core.ErrInsufficientData
	}
	if opts.QuadPoints < 1 {
		opts.QuadPoints = DefaultGLMMOptions().QuadPoints
	}
	if opts.MaxIter < 1 {
		opts.MaxIter = DefaultGLMMOptions().MaxIter
	}

	// A rank-deficient design puts the optimum on a likelihood ridge;
	// Nelder-Mead would converge there and report an arbitrary split of the
	// confounded coefficients.
	if n < p {
		return nil, core.ErrRankDeficient
	}
	var svd mat.SVD
	if !svd.Factorize(d.X, mat.SVDNone) {
		return nil, core.NewConvergenceError("glmm", "design decomposition failed")
	}
	sv := svd.Values(nil)
	if sv[len(sv)-1] <= float64(n)*1e-12*sv[0] {
		return nil, core.ErrRankDeficient
	}

	data := &glmmData{x: d.X, y: y, groups: make([][]int, d.NumGroups)}
	for i, g := range d.Groups {
		data.groups[g] = append(data.groups[g], i)
	}

	data.nodes = make([]float64, opts.QuadPoints)
	weights := make([]float64, opts.QuadPoints)
	quad.Hermite{}.FixedLocations(data.nodes, weights, math.Inf(-1), math.Inf(1))
	data.logW = make([]float64, opts.QuadPoints)
	for k, w := range weights {
		data.logW[k] = math.Log(w)
	}

	// Warm start from the fixed-effects fit; zeros if it cannot converge
	init := make([]float64, p+1)
	if fixed, err := glm.FitLogistic(d, y); err == nil {
		for j, c := range fixed.Coefficients {
			init[j] = c.Estimate
		}
	}
	init[p] = 0 // log sigma = 0, sigma = 1

	problem := optimize.Problem{Func: data.negLogLik}
	settings := &optimize.Settings{
		MajorIterations: opts.MaxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Iterations: 200,
		},
	}
	result, err := optimize.Minimize(problem, init, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, core.NewConvergenceError("glmm", err.Error())
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return nil, core.NewConvergenceError("glmm", "non-finite marginal log-likelihood at optimum")
	}

	theta := result.X
	loglik := -result.F
	sigma := math.Exp(theta[p])

	fit := &analysis.FitResult{
		Model:             "glmm-logistic",
		LogLik:            loglik,
		Deviance:          -2 * loglik,
		NumObs:            n,
		NumParams:         p + 1, // random-intercept SD counts as a parameter
		RandomInterceptSD: sigma,
	}
	fit.AIC, fit.BIC = glm.Criteria(loglik, p+1, n)

	var stderr []float64
	if opts.WaldSE {
		stderr, err = waldStdErrors(data.negLogLik, theta, p)
		if err != nil {
			return nil, err
		}
	}
	for j := 0; j < p; j++ {
		c := analysis.Coefficient{
			Name:      d.Names[j],
			Estimate:  theta[j],
			OddsRatio: math.Exp(theta[j]),
		}
		if stderr != nil {
			c.StdErr = stderr[j]
		}
		fit.Coefficients = append(fit.Coefficients, c)
	}
	return fit, nil
}

// negLogLik is the negative marginal log-likelihood at theta = (beta..., log sigma)
func (g *glmmData) negLogLik(theta []float64) float64 {
	_, p := g.x.Dims()
	beta := theta[:p]
	logSigma := theta[p]
	if logSigma > 10 || logSigma < -10 {
		return math.Inf(1)
	}
	sigma := math.Exp(logSigma)
	sigma2 := sigma * sigma

	total := 0.0
	for _, rows := range g.groups {
		if len(rows) == 0 {
			continue
		}
		ll, ok := g.groupLogLik(rows, beta, sigma2, logSigma)
		if !ok {
			return math.Inf(1)
		}
		total += ll
	}
	if math.IsNaN(total) {
		return math.Inf(1)
	}
	return -total
}

// groupLogLik integrates one group's likelihood over its random intercept
func (g *glmmData) groupLogLik(rows []int, beta []float64, sigma2, logSigma float64) (float64, bool) {
	_, p := g.x.Dims()

	// Fixed-effect part of the linear predictor is constant over b
	xb := make([]float64, len(rows))
	for r, i := range rows {
		for j := 0; j < p; j++ {
			xb[r] += g.x.At(i, j) * beta[j]
		}
	}

	// Posterior mode of b by Newton iterations
	b := 0.0
	curv := 1.0/sigma2 + 0.25*float64(len(rows))
	for iter := 0; iter < modeMaxIter; iter++ {
		grad := -b / sigma2
		curv = 1.0 / sigma2
		for r, i := range rows {
			mu := sigmoid(xb[r] + b)
			grad += g.y[i] - mu
			curv += mu * (1 - mu)
		}
		step := grad / curv
		b += step
		if math.Abs(step) < modeTol {
			break
		}
	}
	if math.IsNaN(b) || math.IsInf(b, 0) {
		return 0, false
	}
	tau := 1.0 / math.Sqrt(curv)

	// Adaptive quadrature centered on the mode:
	// integral of exp(h(b)) db ~= sqrt(2)*tau * sum_k w_k exp(z_k^2) exp(h(b_k))
	h := func(b float64) float64 {
		ll := -logSqrt2Pi - logSigma - b*b/(2*sigma2)
		for r, i := range rows {
			eta := xb[r] + b
			ll += g.y[i]*eta - log1pExp(eta)
		}
		return ll
	}

	maxTerm := math.Inf(-1)
	terms := make([]float64, len(g.nodes))
	for k, z := range g.nodes {
		terms[k] = g.logW[k] + z*z + h(b+math.Sqrt2*tau*z)
		if terms[k] > maxTerm {
			maxTerm = terms[k]
		}
	}
	if math.IsInf(maxTerm, -1) || math.IsNaN(maxTerm) {
		return 0, false
	}
	sum := 0.0
	for _, t := range terms {
		sum += math.Exp(t - maxTerm)
	}
	return math.Log(math.Sqrt2*tau) + maxTerm + math.Log(sum), true
}

// waldStdErrors inverts a central-difference Hessian of the negative
// log-likelihood; only the first p entries (the fixed effects) are returned
func waldStdErrors(f func([]float64) float64, theta []float64, p int) ([]float64, error) {
	dim := len(theta)
	hess := mat.NewSymDense(dim, nil)
	steps := make([]float64, dim)
	for j := range steps {
		steps[j] = 1e-4 * (1 + math.Abs(theta[j]))
	}

	perturbed := func(dj, dk int, sj, sk float64) float64 {
		pt := make([]float64, dim)
		copy(pt, theta)
		pt[dj] += sj
		pt[dk] += sk
		return f(pt)
	}

	f0 := f(theta)
	for j := 0; j < dim; j++ {
		for k := j; k < dim; k++ {
			var second float64
			if j == k {
				second = (perturbed(j, j, steps[j], 0) - 2*f0 + perturbed(j, j, -steps[j], 0)) / (steps[j] * steps[j])
			} else {
				second = (perturbed(j, k, steps[j], steps[k]) -
					perturbed(j, k, steps[j], -steps[k]) -
					perturbed(j, k, -steps[j], steps[k]) +
					perturbed(j, k, -steps[j], -steps[k])) / (4 * steps[j] * steps[k])
			}
			if math.IsNaN(second) || math.IsInf(second, 0) {
				return nil, core.NewConvergenceError("glmm", "non-finite Hessian entry")
			}
			hess.SetSym(j, k, second)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(hess); !ok {
		return nil, core.NewConvergenceError("glmm", "observed information is not positive definite")
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, core.NewConvergenceError("glmm", "could not invert observed information")
	}

	stderr := make([]float64, p)
	for j := 0; j < p; j++ {
		stderr[j] = math.Sqrt(cov.At(j, j))
	}
	return stderr, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// log1pExp computes log(1+e^x) without overflow
func log1pExp(x float64) float64 {
	if x > 35 {
		return x
	}
	return math.Log1p(math.Exp(x))
}
