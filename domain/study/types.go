package study

import (
	"fmt"
	"strings"

	"narpstat/domain/core"
)

// ============================================================================
// CORE IDENTIFIERS
// ============================================================================

// TeamID identifies one independent analysis team
type TeamID string

func (id TeamID) String() string { return string(id) }

// Hypothesis is one of the nine predefined NARPS hypotheses (1..9)
type Hypothesis int

// NumHypotheses is fixed by the study design
const NumHypotheses = 9

var hypothesisLabels = map[Hypothesis]string{
	1: "vmPFC + gains (equal indifference)",
	2: "vmPFC + gains (equal range)",
	3: "ventral striatum + gains (equal indifference)",
	4: "ventral striatum + gains (equal range)",
	5: "vmPFC - losses (equal indifference)",
	6: "vmPFC - losses (equal range)",
	7: "amygdala + losses (equal indifference)",
	8: "amygdala + losses (equal range)",
	9: "amygdala losses: range > indifference",
}

// Valid reports whether h is inside the 1..9 study design
func (h Hypothesis) Valid() bool {
	return h >= 1 && h <= NumHypotheses
}

// Label returns the scientific contrast description for the hypothesis
func (h Hypothesis) Label() string {
	if label, ok := hypothesisLabels[h]; ok {
		return label
	}
	return fmt.Sprintf("hypothesis %d", int(h))
}

func (h Hypothesis) String() string {
	return fmt.Sprintf("h%d", int(h))
}

// AllHypotheses returns 1..9 in order
func AllHypotheses() []Hypothesis {
	hs := make([]Hypothesis, NumHypotheses)
	for i := range hs {
		hs[i] = Hypothesis(i + 1)
	}
	return hs
}

// ============================================================================
// CATEGORICAL COVARIATES
// ============================================================================

// Software is the analysis package a team used
type Software string

const (
	SoftwareSPM   Software = "SPM"
	SoftwareFSL   Software = "FSL"
	SoftwareAFNI  Software = "AFNI"
	SoftwareOther Software = "Other"
)

// AllSoftware lists levels in canonical order; SPM first is the reference level
func AllSoftware() []Software {
	return []Software{SoftwareSPM, SoftwareFSL, SoftwareAFNI, SoftwareOther}
}

// ParseSoftware maps a raw cell to a software level. Unknown values collapse
// to Other; the second return reports whether the value was recognized.
func ParseSoftware(s string) (Software, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SPM":
		return SoftwareSPM, true
	case "FSL":
		return SoftwareFSL, true
	case "AFNI":
		return SoftwareAFNI, true
	case "OTHER":
		return SoftwareOther, true
	default:
		return SoftwareOther, false
	}
}

// Testing is the multiple-testing correction family a team applied
type Testing string

const (
	TestingParametric    Testing = "parametric"
	TestingNonparametric Testing = "nonparametric"
	TestingOther         Testing = "other"
)

// AllTesting lists levels in canonical order; parametric first is the reference level
func AllTesting() []Testing {
	return []Testing{TestingParametric, TestingNonparametric, TestingOther}
}

// ParseTesting maps a raw cell to a testing level, collapsing unknowns to other
func ParseTesting(s string) (Testing, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "parametric":
		return TestingParametric, true
	case "nonparametric", "non-parametric", "permutation":
		return TestingNonparametric, true
	case "other":
		return TestingOther, true
	default:
		return TestingOther, false
	}
}

// ParseDecision accepts the binary decision spellings seen across team
// submissions: Yes/No, true/false, 1/0
func ParseDecision(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1":
		return true, nil
	case "no", "n", "false", "0":
		return false, nil
	default:
		return false, core.NewValidationError("decision", fmt.Sprintf("unrecognized value %q", s))
	}
}

// ParseFlag accepts the same spellings for the fmriprep/movement flags
func ParseFlag(field, s string) (bool, error) {
	v, err := ParseDecision(s)
	if err != nil {
		return false, core.NewValidationError(field, fmt.Sprintf("unrecognized value %q", s))
	}
	return v, nil
}

// ============================================================================
// RECORDS AND OBSERVATIONS
// ============================================================================

// TeamRecord is one wide row per team: covariates plus the nine decisions
type TeamRecord struct {
	ID        TeamID              `json:"team_id"`
	Software  Software            `json:"software"`
	Testing   Testing             `json:"testing"`
	Fmriprep  bool                `json:"fmriprep"`
	Movement  bool                `json:"movement"`
	FWHM      float64             `json:"fwhm"`
	HasFWHM   bool                `json:"has_fwhm"`
	Decisions map[Hypothesis]bool `json:"decisions"`

	// Similarity is the per-hypothesis mean map correlation with other
	// teams; entries are present only for hypotheses with a similarity matrix
	Similarity map[Hypothesis]float64 `json:"similarity,omitempty"`
}

// Observation is one long row per (team, hypothesis)
type Observation struct {
	Team       TeamID     `json:"team_id"`
	Group      int        `json:"group"`
	Hypothesis Hypothesis `json:"hypothesis"`
	Decision   bool       `json:"decision"`
	FWHM       float64    `json:"fwhm"`
	Software   Software   `json:"software"`
	Testing    Testing    `json:"testing"`
	Fmriprep   bool       `json:"fmriprep"`
	Movement   bool       `json:"movement"`

	Similarity    float64 `json:"similarity,omitempty"`
	HasSimilarity bool    `json:"has_similarity"`
}

// Levels holds the categorical level sets observed in the source table.
// They are derived once, in canonical order, and reused verbatim for every
// bootstrap replicate so design matrices stay column-aligned.
type Levels struct {
	Hypotheses []Hypothesis `json:"hypotheses"`
	Software   []Software   `json:"software"`
	Testing    []Testing    `json:"testing"`
}

// Table is the tidy long-form table all analyses run on
type Table struct {
	Obs    []Observation `json:"observations"`
	Levels Levels        `json:"levels"`
	Teams  []TeamID      `json:"teams"`
}

// NumTeams returns the number of distinct teams
func (t *Table) NumTeams() int { return len(t.Teams) }

// TeamObservations returns the observations belonging to one team, in
// hypothesis order
func (t *Table) TeamObservations(id TeamID) []Observation {
	var obs []Observation
	for _, o := range t.Obs {
		if o.Team == id {
			obs = append(obs, o)
		}
	}
	return obs
}

// MissingLevels compares the categorical support of the table's observations
// against a reference level set and returns, per covariate, the levels
// absent from the observations. An empty result means full factor support.
func (t *Table) MissingLevels(ref Levels) map[string][]string {
	seenHyp := make(map[Hypothesis]bool)
	seenSoftware := make(map[Software]bool)
	seenTesting := make(map[Testing]bool)
	for _, o := range t.Obs {
		seenHyp[o.Hypothesis] = true
		seenSoftware[o.Software] = true
		seenTesting[o.Testing] = true
	}

	missing := make(map[string][]string)
	for _, h := range ref.Hypotheses {
		if !seenHyp[h] {
			missing["hypothesis"] = append(missing["hypothesis"], h.String())
		}
	}
	for _, s := range ref.Software {
		if !seenSoftware[s] {
			missing["software"] = append(missing["software"], string(s))
		}
	}
	for _, v := range ref.Testing {
		if !seenTesting[v] {
			missing["testing"] = append(missing["testing"], string(v))
		}
	}
	return missing
}
