// Package smoothness converts per-map resolution-element counts into FWHM
// estimates in millimeters and aggregates them per team.
package smoothness

import (
	"fmt"
	"math"
	"strconv"

	"github.com/montanaflynn/stats"

	"narpstat/domain/core"
	"narpstat/domain/study"
	"narpstat/internal/frame"
)

// MapEstimate is one statistical map's smoothness record
type MapEstimate struct {
	Team         study.TeamID
	Hypothesis   study.Hypothesis
	DLH          float64
	VolumeVoxels float64
	Resels       float64
}

// FWHM converts a resel count to a geometric-mean FWHM in millimeters.
// A resel spans FWHMx*FWHMy*FWHMz voxels, so the cube root gives the
// per-axis FWHM in voxels, scaled by the acquisition voxel size.
func FWHM(resels, voxelMM float64) float64 {
	return math.Cbrt(resels) * voxelMM
}

// ReadEstimates loads the per-map smoothness CSV
// (team_id, hyp, dlh, volume_voxels, resels).
func ReadEstimates(path string) ([]MapEstimate, error) {
	f, err := frame.ReadCSV(path)
	if err != nil {
		return nil, err
	}
	for _, col := range []string{"team_id", "hyp", "resels"} {
		if !f.HasColumn(col) {
			return nil, core.NewValidationError("smoothness", fmt.Sprintf("%s: column %q missing", path, col))
		}
	}

	estimates := make([]MapEstimate, 0, len(f.Rows))
	for i, row := range f.Rows {
		if row["team_id"] == "" {
			return nil, core.NewValidationError("smoothness", fmt.Sprintf("%s row %d: empty team_id", path, i+2))
		}
		hyp, err := strconv.Atoi(row["hyp"])
		if err != nil || !study.Hypothesis(hyp).Valid() {
			return nil, core.NewValidationError("smoothness", fmt.Sprintf("%s row %d: bad hypothesis %q", path, i+2, row["hyp"]))
		}
		resels, err := strconv.ParseFloat(row["resels"], 64)
		if err != nil {
			return nil, core.NewValidationError("smoothness", fmt.Sprintf("%s row %d: bad resels %q", path, i+2, row["resels"]))
		}
		est := MapEstimate{
			Team:       study.TeamID(row["team_id"]),
			Hypothesis: study.Hypothesis(hyp),
			Resels:     resels,
		}
		est.DLH, _ = strconv.ParseFloat(row["dlh"], 64)
		est.VolumeVoxels, _ = strconv.ParseFloat(row["volume_voxels"], 64)
		estimates = append(estimates, est)
	}
	return estimates, nil
}

// TeamFWHM computes each team's FWHM as the median over its valid maps.
// Rows with nonpositive or non-finite resels are invalid and reported in
// dropped; a team with no valid maps simply has no entry in the result.
func TeamFWHM(estimates []MapEstimate, voxelMM float64) (map[study.TeamID]float64, []string) {
	perTeam := make(map[study.TeamID][]float64)
	var dropped []string
	for _, est := range estimates {
		if est.Resels <= 0 || math.IsNaN(est.Resels) || math.IsInf(est.Resels, 0) {
			dropped = append(dropped, fmt.Sprintf("team %s %s: resels %v", est.Team, est.Hypothesis, est.Resels))
			continue
		}
		perTeam[est.Team] = append(perTeam[est.Team], FWHM(est.Resels, voxelMM))
	}

	result := make(map[study.TeamID]float64, len(perTeam))
	for team, fwhms := range perTeam {
		median, err := stats.Median(fwhms)
		if err != nil {
			continue
		}
		result[team] = median
	}
	return result, dropped
}
