// Package ports declares the interfaces the application core depends on.
package ports

import (
	"context"

	"narpstat/domain/analysis"
	"narpstat/domain/core"
)

// RunStore persists analysis run artifacts
type RunStore interface {
	Save(ctx context.Context, run *analysis.AnalysisRun) error
	Get(ctx context.Context, id core.RunID) (*analysis.AnalysisRun, error)
	List(ctx context.Context, limit int) ([]*analysis.AnalysisRun, error)
}
