package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"narpstat/adapters/excel"
	"narpstat/domain/analysis"
	"narpstat/domain/core"
	"narpstat/domain/study"
	"narpstat/internal/errors"
	"narpstat/internal/frame"
	"narpstat/internal/logging"
	"narpstat/internal/similarity"
	"narpstat/internal/smoothness"
	"narpstat/ports"
)

// PrepareService merges the per-team decisions workbook, the smoothness
// estimates and the pairwise similarity matrices into one tidy CSV table
type PrepareService struct {
	store ports.RunStore
	log   *logging.Logger
}

// PrepareRequest defines the inputs of a prepare run
type PrepareRequest struct {
	DecisionsPath  string
	SmoothnessPath string
	SimilarityDir  string // optional; corr_h<N>.csv per hypothesis
	OutputPath     string
	VoxelMM        float64
}

// PrepareResult contains the merged table and its accounting
type PrepareResult struct {
	Run     *analysis.AnalysisRun
	Summary analysis.PrepareSummary
	Table   *study.Table
}

// NewPrepareService creates a prepare service
func NewPrepareService(store ports.RunStore, log *logging.Logger) *PrepareService {
	return &PrepareService{store: store, log: log}
}

// Run executes the prepare phase
func (s *PrepareService) Run(ctx context.Context, req PrepareRequest) (*PrepareResult, error) {
	if req.VoxelMM <= 0 {
		req.VoxelMM = 2.0
	}

	records, ingest, err := excel.NewDecisionsReader(req.DecisionsPath).ReadTeams()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read decisions workbook")
	}
	s.log.Info("prepare: %d teams read from %s", ingest.Teams, req.DecisionsPath)

	estimates, err := smoothness.ReadEstimates(req.SmoothnessPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read smoothness estimates")
	}
	teamFWHM, dropped := smoothness.TeamFWHM(estimates, req.VoxelMM)
	for _, reason := range dropped {
		s.log.Warn("prepare: invalid smoothness row dropped: %s", reason)
	}

	// Left join decisions with per-team smoothness, accounting both ways
	wide := decisionsFrame(records)
	smooth := smoothnessFrame(teamFWHM)
	joined, joinResult, err := wide.LeftJoin(smooth, "team_id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to join smoothness onto decisions")
	}
	if joinResult.LeftOnly > 0 {
		s.log.Warn("prepare: %d teams have decisions but no smoothness estimate; excluded from model fitting", joinResult.LeftOnly)
	}
	if joinResult.RightOnly > 0 {
		s.log.Warn("prepare: %d teams have smoothness but no decisions", joinResult.RightOnly)
	}

	simMeans, missingMatrices, err := s.loadSimilarity(req.SimilarityDir)
	if err != nil {
		return nil, err
	}

	// Wide to long: one row per (team, hypothesis)
	idCols := []string{"team_id", "software", "testing", "fmriprep", "movement", "fwhm"}
	var hypCols []string
	for _, h := range study.AllHypotheses() {
		hypCols = append(hypCols, h.String())
	}
	long, err := joined.Pivot(idCols, hypCols, "hypothesis", "decision")
	if err != nil {
		return nil, errors.Wrap(err, "failed to pivot decisions to long form")
	}

	obs, err := observationsFromLong(long, simMeans)
	if err != nil {
		return nil, err
	}
	table, err := study.NewTableFromObservations(obs)
	if err != nil {
		return nil, err
	}

	out := tableToFrame(table)
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return nil, errors.IOError(req.OutputPath, err)
	}
	if err := out.WriteCSV(req.OutputPath); err != nil {
		return nil, errors.IOError(req.OutputPath, err)
	}
	raw, err := out.Bytes()
	if err != nil {
		return nil, err
	}

	summary := analysis.PrepareSummary{
		Teams:             ingest.Teams,
		TeamsKept:         table.NumTeams(),
		Observations:      len(table.Obs),
		MissingSmoothness: joinResult.LeftOnly,
		MissingDecisions:  joinResult.RightOnly,
		MissingSimilarity: missingMatrices,
		UnknownSoftware:   ingest.UnknownSoftware,
		UnknownTesting:    ingest.UnknownTesting,
		OutputPath:        req.OutputPath,
		Fingerprint:       core.NewTableFingerprint(raw),
	}

	run := analysis.NewRun(analysis.RunPrepare, 0, analysis.Params{VoxelMM: req.VoxelMM})
	run.Prepare = &summary
	if err := s.store.Save(ctx, run); err != nil {
		return nil, errors.Wrap(err, "failed to save prepare run")
	}

	s.log.Info("prepare: wrote %d observations for %d teams to %s", summary.Observations, summary.TeamsKept, req.OutputPath)
	return &PrepareResult{Run: run, Summary: summary, Table: table}, nil
}

// loadSimilarity reads each hypothesis matrix that exists; missing matrices
// are allowed and counted
func (s *PrepareService) loadSimilarity(dir string) (map[study.Hypothesis]map[study.TeamID]float64, int, error) {
	means := make(map[study.Hypothesis]map[study.TeamID]float64)
	if dir == "" {
		return means, study.NumHypotheses, nil
	}

	missing := 0
	for _, h := range study.AllHypotheses() {
		path := filepath.Join(dir, fmt.Sprintf("corr_h%d.csv", int(h)))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			missing++
			continue
		}
		matrix, err := similarity.ReadMatrix(path)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "failed to read similarity matrix for %s", h)
		}
		means[h] = matrix.TeamMeans()
	}
	if missing > 0 {
		s.log.Warn("prepare: %d hypotheses have no similarity matrix", missing)
	}
	return means, missing, nil
}

func decisionsFrame(records []study.TeamRecord) *frame.Frame {
	headers := []string{"team_id", "software", "testing", "fmriprep", "movement"}
	for _, h := range study.AllHypotheses() {
		headers = append(headers, h.String())
	}
	f := frame.New(headers...)
	for _, rec := range records {
		row := map[string]string{
			"team_id":  rec.ID.String(),
			"software": string(rec.Software),
			"testing":  string(rec.Testing),
			"fmriprep": boolCell(rec.Fmriprep),
			"movement": boolCell(rec.Movement),
		}
		for h, decision := range rec.Decisions {
			row[h.String()] = boolCell(decision)
		}
		f.Append(row)
	}
	return f
}

func smoothnessFrame(teamFWHM map[study.TeamID]float64) *frame.Frame {
	f := frame.New("team_id", "fwhm")
	for team, fwhm := range teamFWHM {
		f.Append(map[string]string{
			"team_id": team.String(),
			"fwhm":    strconv.FormatFloat(fwhm, 'g', -1, 64),
		})
	}
	return f
}

// observationsFromLong converts pivoted rows to observations, skipping teams
// without smoothness and hypotheses a team never decided on
func observationsFromLong(long *frame.Frame, simMeans map[study.Hypothesis]map[study.TeamID]float64) ([]study.Observation, error) {
	var obs []study.Observation
	for _, row := range long.Rows {
		if row["fwhm"] == "" || row["decision"] == "" {
			continue
		}
		o, err := observationFromRow(row)
		if err != nil {
			return nil, err
		}
		if means, ok := simMeans[o.Hypothesis]; ok {
			if sim, ok := means[o.Team]; ok {
				o.Similarity = sim
				o.HasSimilarity = true
			}
		}
		obs = append(obs, o)
	}
	return obs, nil
}
