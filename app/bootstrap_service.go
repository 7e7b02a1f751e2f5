package app

import (
	"context"

	"narpstat/domain/analysis"
	"narpstat/internal/bootstrap"
	apperrors "narpstat/internal/errors"
	"narpstat/internal/logging"
	"narpstat/ports"
)

// BootstrapService runs the nonparametric bootstrap over teams and persists
// the resulting summary
type BootstrapService struct {
	store ports.RunStore
	log   *logging.Logger
}

// BootstrapRequest defines the inputs of a bootstrap run
type BootstrapRequest struct {
	TablePath  string
	Replicates int
	Seed       int64
	Workers    int
	QuadPoints int
	CILevel    float64
	Strict     bool
}

// NewBootstrapService creates a bootstrap service
func NewBootstrapService(store ports.RunStore, log *logging.Logger) *BootstrapService {
	return &BootstrapService{store: store, log: log}
}

// Run executes the bootstrap phase over a prepared table
func (s *BootstrapService) Run(ctx context.Context, req BootstrapRequest) (*analysis.AnalysisRun, error) {
	table, err := LoadTable(req.TablePath)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load merged table")
	}

	opts := bootstrap.DefaultOptions()
	if req.Replicates > 0 {
		opts.Replicates = req.Replicates
	}
	if req.Workers > 0 {
		opts.Workers = int64(req.Workers)
	}
	if req.QuadPoints > 0 {
		opts.QuadPoints = req.QuadPoints
	}
	if req.CILevel > 0 && req.CILevel < 1 {
		opts.CILevel = req.CILevel
	}
	opts.Seed = req.Seed
	opts.Strict = req.Strict

	runner := bootstrap.NewRunner(opts, s.log)
	summary, err := runner.Run(ctx, table)
	if err != nil {
		return nil, apperrors.Wrap(err, "bootstrap failed")
	}

	run := analysis.NewRun(analysis.RunBootstrap, opts.Seed, analysis.Params{
		TablePath:  req.TablePath,
		Replicates: opts.Replicates,
		QuadPoints: opts.QuadPoints,
		Workers:    int(opts.Workers),
		CILevel:    opts.CILevel,
		Strict:     opts.Strict,
	})
	run.Bootstrap = summary
	if err := s.store.Save(ctx, run); err != nil {
		return nil, apperrors.Wrap(err, "failed to save bootstrap run")
	}
	return run, nil
}
