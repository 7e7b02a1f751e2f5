package app

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"narpstat/adapters/memory"
	"narpstat/internal/logging"
)

func writeFixture(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
}

func TestPrepareServiceEndToEnd(t *testing.T) {
	dir := t.TempDir()

	decisions := filepath.Join(dir, "decisions.csv")
	writeFixture(t, decisions,
		"team_id,software,testing,fmriprep,movement,h1,h2,h3,h4,h5,h6,h7,h8,h9\n"+
			"A,SPM,parametric,Yes,No,Yes,No,Yes,No,Yes,No,Yes,No,Yes\n"+
			"B,FSL,nonparametric,No,Yes,No,Yes,No,Yes,No,Yes,No,Yes,\n"+ // h9 skipped
			"C,AFNI,other,Yes,Yes,Yes,Yes,Yes,No,No,No,Yes,Yes,No\n"+
			"D,Other,parametric,No,No,No,No,No,No,No,No,No,No,No\n") // no smoothness

	// 2mm voxels: resels 27 -> 6mm, 64 -> 8mm; team Z has no decisions
	smooth := filepath.Join(dir, "smoothness.csv")
	writeFixture(t, smooth,
		"team_id,hyp,dlh,volume_voxels,resels\n"+
			"A,1,0.1,200000,27\n"+
			"A,2,0.1,200000,64\n"+
			"B,1,0.1,210000,27\n"+
			"C,1,0.1,190000,8\n"+
			"Z,1,0.1,180000,27\n")

	simDir := filepath.Join(dir, "sim")
	if err := os.MkdirAll(simDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFixture(t, filepath.Join(simDir, "corr_h1.csv"),
		"team_id,A,B,C\n"+
			"A,1.0,0.6,0.2\n"+
			"B,0.6,1.0,0.4\n"+
			"C,0.2,0.4,1.0\n")

	store := memory.NewRunStore()
	service := NewPrepareService(store, logging.NewDefaultLogger())

	output := filepath.Join(dir, "out", "merged.csv")
	result, err := service.Run(context.Background(), PrepareRequest{
		DecisionsPath:  decisions,
		SmoothnessPath: smooth,
		SimilarityDir:  simDir,
		OutputPath:     output,
		VoxelMM:        2.0,
	})
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	s := result.Summary
	if s.Teams != 4 {
		t.Errorf("Teams = %d, want 4", s.Teams)
	}
	if s.TeamsKept != 3 {
		t.Errorf("TeamsKept = %d, want 3 (D has no smoothness)", s.TeamsKept)
	}
	if s.Observations != 26 {
		t.Errorf("Observations = %d, want 26 (9+8+9)", s.Observations)
	}
	if s.MissingSmoothness != 1 {
		t.Errorf("MissingSmoothness = %d, want 1", s.MissingSmoothness)
	}
	if s.MissingDecisions != 1 {
		t.Errorf("MissingDecisions = %d, want 1 (team Z)", s.MissingDecisions)
	}
	if s.MissingSimilarity != 8 {
		t.Errorf("MissingSimilarity = %d, want 8", s.MissingSimilarity)
	}
	if s.Fingerprint == "" {
		t.Error("fingerprint not set")
	}

	// Team A's FWHM is the median over its two maps: (6 + 8) / 2 = 7mm
	for _, o := range result.Table.TeamObservations("A") {
		if math.Abs(o.FWHM-7.0) > 1e-9 {
			t.Fatalf("team A FWHM = %v, want 7.0", o.FWHM)
		}
		if o.Hypothesis == 1 {
			if !o.HasSimilarity || math.Abs(o.Similarity-0.4) > 1e-9 {
				t.Errorf("team A h1 similarity = (%v, %v), want mean 0.4", o.Similarity, o.HasSimilarity)
			}
		} else if o.HasSimilarity {
			t.Errorf("team A %s has similarity but only h1 had a matrix", o.Hypothesis)
		}
	}

	// Output table loads back cleanly
	back, err := LoadTable(output)
	if err != nil {
		t.Fatalf("reload merged table: %v", err)
	}
	if back.NumTeams() != 3 || len(back.Obs) != 26 {
		t.Errorf("reloaded table: %d teams, %d obs", back.NumTeams(), len(back.Obs))
	}

	// Run artifact persisted
	saved, err := store.Get(context.Background(), result.Run.ID)
	if err != nil {
		t.Fatalf("run not persisted: %v", err)
	}
	if saved.Prepare == nil || saved.Prepare.TeamsKept != 3 {
		t.Errorf("persisted run: %+v", saved.Prepare)
	}
}

func TestPrepareServiceWithoutSimilarity(t *testing.T) {
	dir := t.TempDir()

	decisions := filepath.Join(dir, "decisions.csv")
	writeFixture(t, decisions,
		"team_id,software,testing,fmriprep,movement,h1,h2,h3,h4,h5,h6,h7,h8,h9\n"+
			"A,SPM,parametric,Yes,No,Yes,No,Yes,No,Yes,No,Yes,No,Yes\n"+
			"B,FSL,nonparametric,No,Yes,No,Yes,No,Yes,No,Yes,No,Yes,No\n")

	smooth := filepath.Join(dir, "smoothness.csv")
	writeFixture(t, smooth,
		"team_id,hyp,dlh,volume_voxels,resels\n"+
			"A,1,0.1,200000,27\n"+
			"B,1,0.1,210000,27\n")

	store := memory.NewRunStore()
	service := NewPrepareService(store, logging.NewDefaultLogger())

	result, err := service.Run(context.Background(), PrepareRequest{
		DecisionsPath:  decisions,
		SmoothnessPath: smooth,
		OutputPath:     filepath.Join(dir, "merged.csv"),
	})
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if result.Summary.MissingSimilarity != 9 {
		t.Errorf("MissingSimilarity = %d, want 9 with no similarity dir", result.Summary.MissingSimilarity)
	}
	for _, o := range result.Table.Obs {
		if o.HasSimilarity {
			t.Fatal("similarity set without any matrices")
		}
	}
}
