package app

import (
	"fmt"
	"strconv"
	"strings"

	"narpstat/domain/core"
	"narpstat/domain/study"
	"narpstat/internal/frame"
)

// tidyHeaders is the column order of the persisted merged table
var tidyHeaders = []string{
	"team_id", "hypothesis", "decision", "fwhm",
	"software", "testing", "fmriprep", "movement", "similarity",
}

// tableToFrame serializes a study table to the tidy CSV layout
func tableToFrame(table *study.Table) *frame.Frame {
	f := frame.New(tidyHeaders...)
	for _, o := range table.Obs {
		row := map[string]string{
			"team_id":    o.Team.String(),
			"hypothesis": o.Hypothesis.String(),
			"decision":   boolCell(o.Decision),
			"fwhm":       strconv.FormatFloat(o.FWHM, 'g', -1, 64),
			"software":   string(o.Software),
			"testing":    string(o.Testing),
			"fmriprep":   boolCell(o.Fmriprep),
			"movement":   boolCell(o.Movement),
		}
		if o.HasSimilarity {
			row["similarity"] = strconv.FormatFloat(o.Similarity, 'g', -1, 64)
		}
		f.Append(row)
	}
	return f
}

// LoadTable reads a tidy merged CSV back into a study table
func LoadTable(path string) (*study.Table, error) {
	f, err := frame.ReadCSV(path)
	if err != nil {
		return nil, err
	}
	for _, col := range tidyHeaders[:8] {
		if !f.HasColumn(col) {
			return nil, core.NewValidationError("table", fmt.Sprintf("%s: column %q missing", path, col))
		}
	}

	obs := make([]study.Observation, 0, len(f.Rows))
	for i, row := range f.Rows {
		o, err := observationFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		obs = append(obs, o)
	}
	return study.NewTableFromObservations(obs)
}

func observationFromRow(row map[string]string) (study.Observation, error) {
	var o study.Observation

	o.Team = study.TeamID(row["team_id"])
	if o.Team == "" {
		return o, core.NewValidationError("team_id", "empty")
	}

	hyp, err := parseHypothesisCell(row["hypothesis"])
	if err != nil {
		return o, err
	}
	o.Hypothesis = hyp

	if o.Decision, err = study.ParseDecision(row["decision"]); err != nil {
		return o, err
	}
	if o.FWHM, err = strconv.ParseFloat(row["fwhm"], 64); err != nil {
		return o, core.NewValidationError("fwhm", fmt.Sprintf("bad value %q", row["fwhm"]))
	}
	o.Software, _ = study.ParseSoftware(row["software"])
	o.Testing, _ = study.ParseTesting(row["testing"])
	if o.Fmriprep, err = study.ParseFlag("fmriprep", row["fmriprep"]); err != nil {
		return o, err
	}
	if o.Movement, err = study.ParseFlag("movement", row["movement"]); err != nil {
		return o, err
	}
	if sim := row["similarity"]; sim != "" {
		if o.Similarity, err = strconv.ParseFloat(sim, 64); err != nil {
			return o, core.NewValidationError("similarity", fmt.Sprintf("bad value %q", sim))
		}
		o.HasSimilarity = true
	}
	return o, nil
}

// parseHypothesisCell accepts "h3" and "3"
func parseHypothesisCell(s string) (study.Hypothesis, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "h")
	n, err := strconv.Atoi(trimmed)
	if err != nil || !study.Hypothesis(n).Valid() {
		return 0, core.NewValidationError("hypothesis", fmt.Sprintf("bad value %q", s))
	}
	return study.Hypothesis(n), nil
}

func boolCell(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
