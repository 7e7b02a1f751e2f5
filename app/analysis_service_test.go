package app

import (
	"context"
	"path/filepath"
	"testing"

	"narpstat/adapters/memory"
	"narpstat/domain/analysis"
	"narpstat/domain/study"
	"narpstat/internal/logging"
	"narpstat/internal/testkit"
)

func TestDecisionRates(t *testing.T) {
	table := &study.Table{
		Levels: study.Levels{Hypotheses: []study.Hypothesis{1, 2}},
		Teams:  []study.TeamID{"A", "B", "C"},
		Obs: []study.Observation{
			{Team: "A", Hypothesis: 1, Decision: true},
			{Team: "B", Hypothesis: 1, Decision: true},
			{Team: "C", Hypothesis: 1, Decision: false},
			{Team: "A", Hypothesis: 2, Decision: false},
			{Team: "B", Hypothesis: 2, Decision: false},
		},
	}

	rates := decisionRates(table)
	if len(rates) != 2 {
		t.Fatalf("rates = %d, want 2", len(rates))
	}
	if rates[0].Hypothesis != 1 || rates[0].Teams != 3 || rates[0].Rate != 2.0/3.0 {
		t.Errorf("h1 rate = %+v", rates[0])
	}
	if rates[1].Teams != 2 || rates[1].Rate != 0 {
		t.Errorf("h2 rate = %+v", rates[1])
	}
	if rates[0].Label == "" {
		t.Error("rate rows must carry the contrast label")
	}
}

func writeTestTable(t *testing.T, teams int) string {
	t.Helper()
	cfg := testkit.DefaultStudyConfig()
	cfg.Teams = teams
	table, err := testkit.NewStudyGenerator(cfg).GenerateTable()
	if err != nil {
		t.Fatalf("generate table: %v", err)
	}
	path := filepath.Join(t.TempDir(), "merged.csv")
	if err := tableToFrame(table).WriteCSV(path); err != nil {
		t.Fatalf("write table: %v", err)
	}
	return path
}

func TestAnalysisServiceEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mixed-model analysis in short mode")
	}

	path := writeTestTable(t, 24)
	store := memory.NewRunStore()
	service := NewAnalysisService(store, logging.NewDefaultLogger())

	run, err := service.Run(context.Background(), AnalyzeRequest{TablePath: path, QuadPoints: 3})
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	if run.Kind != analysis.RunAnalyze {
		t.Errorf("kind = %s", run.Kind)
	}
	tables := run.Tables
	if tables == nil {
		t.Fatal("no tables on analyze run")
	}
	if len(tables.DecisionRates) != study.NumHypotheses {
		t.Errorf("decision rates = %d, want %d", len(tables.DecisionRates), study.NumHypotheses)
	}
	if tables.Decision == nil {
		t.Fatal("no decision model")
	}
	if tables.Decision.Model != "glmm-logistic" {
		t.Errorf("decision model = %q", tables.Decision.Model)
	}
	if tables.Decision.RandomInterceptSD <= 0 {
		t.Error("decision model has no random-intercept SD")
	}
	if len(tables.Comparisons) != 3 {
		t.Errorf("comparisons = %d, want one per categorical covariate", len(tables.Comparisons))
	}
	for _, s := range tables.Screen {
		if s.QValue < s.PValue {
			t.Errorf("h%d: q %.4f below p %.4f", s.Hypothesis, s.QValue, s.PValue)
		}
	}
	if tables.Similarity == nil {
		t.Error("no similarity model despite full similarity data")
	} else if tables.Similarity.Model != "lmm-gaussian" {
		t.Errorf("similarity model = %q", tables.Similarity.Model)
	}

	if _, err := store.Get(context.Background(), run.ID); err != nil {
		t.Errorf("run not persisted: %v", err)
	}
}
