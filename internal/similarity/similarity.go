// Package similarity loads per-hypothesis pairwise map-correlation matrices
// and reduces them to a per-team mean similarity with all other teams.
package similarity

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"narpstat/domain/core"
	"narpstat/domain/study"
	"narpstat/internal/frame"
)

// Tolerances for matrix validation
const (
	symmetryTol = 1e-9
	diagonalTol = 1e-6
)

// Matrix is one hypothesis's validated pairwise correlation matrix
type Matrix struct {
	Teams []study.TeamID
	Corr  *mat.Dense
}

// ReadMatrix loads and validates a correlation-matrix CSV. The first row and
// first column carry team ids; the matrix must be square, symmetric within
// 1e-9, and have a unit diagonal within 1e-6.
func ReadMatrix(path string) (*Matrix, error) {
	f, err := frame.ReadCSV(path)
	if err != nil {
		return nil, err
	}
	if len(f.Headers) < 2 {
		return nil, core.NewValidationError("similarity", fmt.Sprintf("%s: matrix needs at least one team column", path))
	}

	// Header cell 0 is the corner label; the rest are team ids
	teams := make([]study.TeamID, 0, len(f.Headers)-1)
	for _, h := range f.Headers[1:] {
		if h == "" {
			return nil, core.NewValidationError("similarity", fmt.Sprintf("%s: empty team id in header", path))
		}
		teams = append(teams, study.TeamID(h))
	}

	n := len(teams)
	if len(f.Rows) != n {
		return nil, core.NewValidationError("similarity", fmt.Sprintf("%s: matrix not square (%d columns, %d rows)", path, n, len(f.Rows)))
	}

	corr := mat.NewDense(n, n, nil)
	rowKey := f.Headers[0]
	for i, row := range f.Rows {
		if study.TeamID(row[rowKey]) != teams[i] {
			return nil, core.NewValidationError("similarity", fmt.Sprintf("%s row %d: row order %q does not match column order %q", path, i+2, row[rowKey], teams[i]))
		}
		for j, team := range teams {
			v, err := strconv.ParseFloat(row[string(team)], 64)
			if err != nil {
				return nil, core.NewValidationError("similarity", fmt.Sprintf("%s: bad cell (%s, %s): %q", path, teams[i], team, row[string(team)]))
			}
			corr.Set(i, j, v)
		}
	}

	for i := 0; i < n; i++ {
		if math.Abs(corr.At(i, i)-1.0) > diagonalTol {
			return nil, core.NewValidationError("similarity", fmt.Sprintf("%s: diagonal cell %s is %.9f, expected 1", path, teams[i], corr.At(i, i)))
		}
		for j := i + 1; j < n; j++ {
			if math.Abs(corr.At(i, j)-corr.At(j, i)) > symmetryTol {
				return nil, core.NewValidationError("similarity", fmt.Sprintf("%s: asymmetric at (%s, %s)", path, teams[i], teams[j]))
			}
		}
	}

	return &Matrix{Teams: teams, Corr: corr}, nil
}

// TeamMeans returns, per team, the mean correlation with all other teams
// (self excluded). A single-team matrix has no off-diagonal and yields an
// empty result.
func (m *Matrix) TeamMeans() map[study.TeamID]float64 {
	n := len(m.Teams)
	means := make(map[study.TeamID]float64, n)
	if n < 2 {
		return means
	}
	for i, team := range m.Teams {
		sum := 0.0
		for j := 0; j < n; j++ {
			if j != i {
				sum += m.Corr.At(i, j)
			}
		}
		means[team] = sum / float64(n-1)
	}
	return means
}
