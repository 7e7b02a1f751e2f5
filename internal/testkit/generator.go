// Package testkit generates synthetic study data with known effect sizes
// for deterministic tests.
package testkit

import (
	"fmt"
	"math"
	"math/rand"

	"narpstat/domain/study"
)

// StudyConfig configures the synthetic study generator
type StudyConfig struct {
	Teams int
	Seed  int64

	// True effects on the logit scale
	Intercept    float64
	FWHMBeta     float64 // per mm, centered at MeanFWHM
	FmriprepBeta float64
	MovementBeta float64
	SigmaTeam    float64 // random-intercept SD

	MeanFWHM float64
	SDFWHM   float64

	WithSimilarity bool
}

// DefaultStudyConfig returns a plausible NARPS-like study
func DefaultStudyConfig() StudyConfig {
	return StudyConfig{
		Teams:          60,
		Seed:           42,
		Intercept:      -0.8,
		FWHMBeta:       0.25,
		FmriprepBeta:   0.4,
		MovementBeta:   -0.2,
		SigmaTeam:      0.8,
		MeanFWHM:       5.0,
		SDFWHM:         1.2,
		WithSimilarity: true,
	}
}

// StudyGenerator produces synthetic team records
type StudyGenerator struct {
	config StudyConfig
	rng    *rand.Rand
}

// NewStudyGenerator creates a seeded generator
func NewStudyGenerator(config StudyConfig) *StudyGenerator {
	return &StudyGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// GenerateRecords produces wide team records. Software and testing levels
// are cycled so every level has support; decisions are drawn from a
// random-intercept logistic model with the configured true effects.
func (g *StudyGenerator) GenerateRecords() []study.TeamRecord {
	softwareLevels := study.AllSoftware()
	testingLevels := study.AllTesting()

	records := make([]study.TeamRecord, 0, g.config.Teams)
	for i := 0; i < g.config.Teams; i++ {
		fwhm := g.config.MeanFWHM + g.config.SDFWHM*g.rng.NormFloat64()
		if fwhm < 1.0 {
			fwhm = 1.0
		}
		record := study.TeamRecord{
			ID:         study.TeamID(fmt.Sprintf("team_%03d", i+1)),
			Software:   softwareLevels[i%len(softwareLevels)],
			Testing:    testingLevels[i%len(testingLevels)],
			Fmriprep:   g.rng.Float64() < 0.5,
			Movement:   g.rng.Float64() < 0.7,
			FWHM:       fwhm,
			HasFWHM:    true,
			Decisions:  make(map[study.Hypothesis]bool, study.NumHypotheses),
			Similarity: make(map[study.Hypothesis]float64),
		}

		teamEffect := g.config.SigmaTeam * g.rng.NormFloat64()
		for _, h := range study.AllHypotheses() {
			logit := g.config.Intercept +
				0.15*float64(int(h)-1) + // hypotheses differ in base rate
				g.config.FWHMBeta*(fwhm-g.config.MeanFWHM) +
				teamEffect
			if record.Fmriprep {
				logit += g.config.FmriprepBeta
			}
			if record.Movement {
				logit += g.config.MovementBeta
			}
			record.Decisions[h] = g.rng.Float64() < 1.0/(1.0+math.Exp(-logit))

			if g.config.WithSimilarity {
				sim := 0.45 + 0.03*(fwhm-g.config.MeanFWHM) + 0.05*g.rng.NormFloat64()
				record.Similarity[h] = clamp(sim, -1, 1)
			}
		}
		records = append(records, record)
	}
	return records
}

// GenerateTable produces the long-form table directly
func (g *StudyGenerator) GenerateTable() (*study.Table, error) {
	return study.BuildTable(g.GenerateRecords())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
