package glm

import (
	"sort"
)

// BenjaminiHochberg returns BH-adjusted q-values for a family of p-values.
// q_i = min over j>=rank(i) of p_j * m / rank(j), capped at 1. Output is in
// input order.
func BenjaminiHochberg(pvalues []float64) []float64 {
	m := len(pvalues)
	if m == 0 {
		return nil
	}

	idx := make([]int, m)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return pvalues[idx[a]] < pvalues[idx[b]] })

	q := make([]float64, m)
	minSoFar := 1.0
	for rank := m; rank >= 1; rank-- {
		i := idx[rank-1]
		adjusted := pvalues[i] * float64(m) / float64(rank)
		if adjusted < minSoFar {
			minSoFar = adjusted
		}
		q[i] = minSoFar
	}
	return q
}
