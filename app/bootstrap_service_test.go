package app

import (
	"context"
	"testing"

	"narpstat/adapters/memory"
	"narpstat/domain/analysis"
	"narpstat/internal/logging"
)

func TestBootstrapServiceEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping bootstrap in short mode")
	}

	path := writeTestTable(t, 25)
	store := memory.NewRunStore()
	service := NewBootstrapService(store, logging.NewDefaultLogger())

	run, err := service.Run(context.Background(), BootstrapRequest{
		TablePath:  path,
		Replicates: 4,
		Seed:       5,
		Workers:    2,
		QuadPoints: 3,
		CILevel:    0.9,
	})
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	if run.Kind != analysis.RunBootstrap {
		t.Errorf("kind = %s", run.Kind)
	}
	if run.Seed != 5 || run.Params.Replicates != 4 || run.Params.Workers != 2 {
		t.Errorf("params not recorded: seed %d, %+v", run.Seed, run.Params)
	}

	boot := run.Bootstrap
	if boot == nil {
		t.Fatal("no bootstrap summary")
	}
	if boot.Requested != 4 {
		t.Errorf("requested = %d", boot.Requested)
	}
	if boot.Completed+boot.Degenerate+boot.Failed != 4 {
		t.Errorf("accounting broken: %+v", boot)
	}
	if boot.Completed > 0 && len(boot.Stats) == 0 {
		t.Error("completed replicates but no statistics")
	}
	for _, s := range boot.Stats {
		if s.CI.Level != 0.9 {
			t.Errorf("stat %s CI level = %v", s.Name, s.CI.Level)
		}
	}

	if _, err := store.Get(context.Background(), run.ID); err != nil {
		t.Errorf("run not persisted: %v", err)
	}
}
