package glm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"narpstat/domain/core"
	"narpstat/domain/study"
)

// Covariate names used across designs, reduced-model construction and reports
const (
	TermHypothesis = "hypothesis"
	TermFWHM       = "fwhm"
	TermSoftware   = "software"
	TermTesting    = "testing"
	TermFmriprep   = "fmriprep"
	TermMovement   = "movement"
)

// CategoricalTerms lists the multi-level factors; their effect statistic is
// an information-criterion delta rather than a single coefficient
func CategoricalTerms() []string {
	return []string{TermHypothesis, TermSoftware, TermTesting}
}

// ScalarTerms lists the covariates whose effect is a single coefficient
func ScalarTerms() []string {
	return []string{TermFWHM, TermFmriprep, TermMovement}
}

// span is a half-open [start, end) column range in the design matrix
type span struct {
	start, end int
}

// Design is a treatment-coded design matrix with per-term column spans.
// Spans drive reduced-model construction: dropping a term removes exactly
// its columns and nothing else.
type Design struct {
	X         *mat.Dense
	Names     []string
	Groups    []int
	NumGroups int

	spans map[string]span
}

// NewDesign builds the full design matrix for the given observations.
// Dummy coding follows the level sets, which must come from the source
// table so that replicate designs stay column-aligned. Reference levels
// (h1, SPM, parametric) get no column.
func NewDesign(obs []study.Observation, levels study.Levels) (*Design, error) {
	if len(obs) == 0 {
		return nil, core.NewValidationError("design", "no observations")
	}

	d := &Design{spans: make(map[string]span)}
	d.Names = append(d.Names, "(intercept)")

	addTerm := func(term string, names ...string) {
		d.spans[term] = span{start: len(d.Names), end: len(d.Names) + len(names)}
		d.Names = append(d.Names, names...)
	}

	var hypNames []string
	for _, h := range levels.Hypotheses[1:] {
		hypNames = append(hypNames, h.String())
	}
	addTerm(TermHypothesis, hypNames...)
	addTerm(TermFWHM, TermFWHM)

	var softwareNames []string
	for _, s := range levels.Software[1:] {
		softwareNames = append(softwareNames, "software:"+string(s))
	}
	addTerm(TermSoftware, softwareNames...)

	var testingNames []string
	for _, v := range levels.Testing[1:] {
		testingNames = append(testingNames, "testing:"+string(v))
	}
	addTerm(TermTesting, testingNames...)

	addTerm(TermFmriprep, TermFmriprep)
	addTerm(TermMovement, TermMovement)

	p := len(d.Names)
	d.X = mat.NewDense(len(obs), p, nil)
	d.Groups = make([]int, len(obs))

	for i, o := range obs {
		d.X.Set(i, 0, 1)
		col := 1
		for _, h := range levels.Hypotheses[1:] {
			if o.Hypothesis == h {
				d.X.Set(i, col, 1)
			}
			col++
		}
		d.X.Set(i, col, o.FWHM)
		col++
		for _, s := range levels.Software[1:] {
			if o.Software == s {
				d.X.Set(i, col, 1)
			}
			col++
		}
		for _, v := range levels.Testing[1:] {
			if o.Testing == v {
				d.X.Set(i, col, 1)
			}
			col++
		}
		if o.Fmriprep {
			d.X.Set(i, col, 1)
		}
		col++
		if o.Movement {
			d.X.Set(i, col, 1)
		}

		d.Groups[i] = o.Group
		if o.Group+1 > d.NumGroups {
			d.NumGroups = o.Group + 1
		}
	}
	return d, nil
}

// NumParams returns the number of fixed-effect columns
func (d *Design) NumParams() int {
	_, p := d.X.Dims()
	return p
}

// NumObs returns the number of rows
func (d *Design) NumObs() int {
	n, _ := d.X.Dims()
	return n
}

// TermColumns returns the column span of a term
func (d *Design) TermColumns(term string) (int, int, bool) {
	s, ok := d.spans[term]
	return s.start, s.end, ok
}

// Drop returns a reduced design omitting exactly the named term's columns.
// Rows, groups and every other column are untouched, so the reduced/full
// pair differs only in the covariate under test.
func (d *Design) Drop(term string) (*Design, error) {
	s, ok := d.spans[term]
	if !ok {
		return nil, core.NewValidationError("design", fmt.Sprintf("unknown term %q", term))
	}

	n, p := d.X.Dims()
	width := s.end - s.start
	reduced := &Design{
		X:         mat.NewDense(n, p-width, nil),
		Groups:    d.Groups,
		NumGroups: d.NumGroups,
		spans:     make(map[string]span),
	}

	keep := make([]int, 0, p-width)
	for j := 0; j < p; j++ {
		if j < s.start || j >= s.end {
			keep = append(keep, j)
			reduced.Names = append(reduced.Names, d.Names[j])
		}
	}
	for i := 0; i < n; i++ {
		for newJ, oldJ := range keep {
			reduced.X.Set(i, newJ, d.X.At(i, oldJ))
		}
	}

	shift := func(j int) int {
		if j > s.start {
			return j - width
		}
		return j
	}
	for term2, s2 := range d.spans {
		if term2 == term {
			continue
		}
		reduced.spans[term2] = span{start: shift(s2.start), end: shift(s2.end)}
	}
	return reduced, nil
}

// DecisionResponse extracts the binary decision vector
func DecisionResponse(obs []study.Observation) []float64 {
	y := make([]float64, len(obs))
	for i, o := range obs {
		if o.Decision {
			y[i] = 1
		}
	}
	return y
}
