package study

import (
	"fmt"

	"narpstat/domain/core"
)

// BuildTable pivots wide team records into the tidy long form. Teams without
// a valid FWHM are excluded (they cannot enter any model); each kept team
// contributes exactly one observation per hypothesis it reported a decision
// for. Level sets are derived here, once, in canonical order.
func BuildTable(records []TeamRecord) (*Table, error) {
	if len(records) == 0 {
		return nil, core.NewValidationError("records", "no team records")
	}

	seen := make(map[TeamID]bool)
	table := &Table{}

	seenSoftware := make(map[Software]bool)
	seenTesting := make(map[Testing]bool)
	seenHyp := make(map[Hypothesis]bool)

	group := 0
	for _, rec := range records {
		if rec.ID == "" {
			return nil, core.NewValidationError("team_id", "empty team id")
		}
		if seen[rec.ID] {
			return nil, fmt.Errorf("%w: %s", core.ErrDuplicateTeam, rec.ID)
		}
		seen[rec.ID] = true

		if !rec.HasFWHM {
			continue
		}
		if rec.FWHM <= 0 {
			return nil, core.NewValidationError("fwhm", fmt.Sprintf("team %s: fwhm %.3f must be positive", rec.ID, rec.FWHM))
		}

		table.Teams = append(table.Teams, rec.ID)
		seenSoftware[rec.Software] = true
		seenTesting[rec.Testing] = true

		for _, h := range AllHypotheses() {
			decision, ok := rec.Decisions[h]
			if !ok {
				continue
			}
			seenHyp[h] = true
			obs := Observation{
				Team:       rec.ID,
				Group:      group,
				Hypothesis: h,
				Decision:   decision,
				FWHM:       rec.FWHM,
				Software:   rec.Software,
				Testing:    rec.Testing,
				Fmriprep:   rec.Fmriprep,
				Movement:   rec.Movement,
			}
			if sim, ok := rec.Similarity[h]; ok {
				obs.Similarity = sim
				obs.HasSimilarity = true
			}
			table.Obs = append(table.Obs, obs)
		}
		group++
	}

	if len(table.Teams) < 2 {
		return nil, fmt.Errorf("%w: %d teams with usable covariates", core.ErrInsufficientData, len(table.Teams))
	}

	// Canonical ordering keeps reference levels first
	for _, h := range AllHypotheses() {
		if seenHyp[h] {
			table.Levels.Hypotheses = append(table.Levels.Hypotheses, h)
		}
	}
	for _, s := range AllSoftware() {
		if seenSoftware[s] {
			table.Levels.Software = append(table.Levels.Software, s)
		}
	}
	for _, v := range AllTesting() {
		if seenTesting[v] {
			table.Levels.Testing = append(table.Levels.Testing, v)
		}
	}

	if err := validateTable(table); err != nil {
		return nil, err
	}
	return table, nil
}

// NewTableFromObservations builds a table directly from long-form rows, as
// read back from the persisted tidy CSV. Group indices follow team order of
// first appearance; level sets are derived once, in canonical order.
func NewTableFromObservations(obs []Observation) (*Table, error) {
	if len(obs) == 0 {
		return nil, core.NewValidationError("observations", "no rows")
	}

	table := &Table{}
	groups := make(map[TeamID]int)
	seenSoftware := make(map[Software]bool)
	seenTesting := make(map[Testing]bool)
	seenHyp := make(map[Hypothesis]bool)

	for _, o := range obs {
		if o.FWHM <= 0 {
			return nil, core.NewValidationError("fwhm", fmt.Sprintf("team %s: fwhm %.3f must be positive", o.Team, o.FWHM))
		}
		g, ok := groups[o.Team]
		if !ok {
			g = len(table.Teams)
			groups[o.Team] = g
			table.Teams = append(table.Teams, o.Team)
		}
		o.Group = g
		seenSoftware[o.Software] = true
		seenTesting[o.Testing] = true
		seenHyp[o.Hypothesis] = true
		table.Obs = append(table.Obs, o)
	}

	if len(table.Teams) < 2 {
		return nil, fmt.Errorf("%w: %d teams", core.ErrInsufficientData, len(table.Teams))
	}

	for _, h := range AllHypotheses() {
		if seenHyp[h] {
			table.Levels.Hypotheses = append(table.Levels.Hypotheses, h)
		}
	}
	for _, s := range AllSoftware() {
		if seenSoftware[s] {
			table.Levels.Software = append(table.Levels.Software, s)
		}
	}
	for _, v := range AllTesting() {
		if seenTesting[v] {
			table.Levels.Testing = append(table.Levels.Testing, v)
		}
	}

	if err := validateTable(table); err != nil {
		return nil, err
	}
	return table, nil
}

// validateTable enforces the (team, hypothesis) -> observation invariant
func validateTable(t *Table) error {
	type key struct {
		team TeamID
		hyp  Hypothesis
	}
	seen := make(map[key]bool, len(t.Obs))
	for _, o := range t.Obs {
		if !o.Hypothesis.Valid() {
			return core.NewValidationError("hypothesis", fmt.Sprintf("team %s: hypothesis %d out of range", o.Team, int(o.Hypothesis)))
		}
		k := key{o.Team, o.Hypothesis}
		if seen[k] {
			return core.NewValidationError("observation", fmt.Sprintf("duplicate (team %s, %s) pair", o.Team, o.Hypothesis))
		}
		seen[k] = true
	}
	return nil
}
