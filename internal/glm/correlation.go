package glm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"narpstat/domain/core"
)

// PearsonTest computes the Pearson correlation of x and y with a two-sided
// Student-t p-value on n-2 degrees of freedom.
func PearsonTest(x, y []float64) (r, p float64, err error) {
	if len(x) != len(y) {
		return 0, 0, core.NewValidationError("correlation", "length mismatch")
	}
	n := len(x)
	if n < 4 {
		return 0, 0, core.ErrInsufficientData
	}
	if constant(x) || constant(y) {
		return 0, 0, core.ErrInsufficientData
	}

	r = stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0, 0, core.ErrInsufficientData
	}
	if r >= 1 || r <= -1 {
		return r, 0, nil
	}

	t := r * math.Sqrt(float64(n-2)/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	p = 2 * dist.CDF(-math.Abs(t))
	return r, p, nil
}

// SpearmanTest is PearsonTest on average ranks, giving the rank correlation
// with the usual t approximation for its p-value.
func SpearmanTest(x, y []float64) (rho, p float64, err error) {
	if len(x) != len(y) {
		return 0, 0, core.NewValidationError("correlation", "length mismatch")
	}
	return PearsonTest(ranks(x), ranks(y))
}

// ranks assigns average ranks, splitting ties
func ranks(x []float64) []float64 {
	n := len(x)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	r := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			r[idx[k]] = avg
		}
		i = j + 1
	}
	return r
}

func constant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}
