package app

import (
	"path/filepath"
	"testing"

	"narpstat/domain/study"
	"narpstat/internal/testkit"
)

func TestTableRoundTrip(t *testing.T) {
	cfg := testkit.DefaultStudyConfig()
	cfg.Teams = 10
	table, err := testkit.NewStudyGenerator(cfg).GenerateTable()
	if err != nil {
		t.Fatalf("generate table: %v", err)
	}

	path := filepath.Join(t.TempDir(), "merged.csv")
	if err := tableToFrame(table).WriteCSV(path); err != nil {
		t.Fatalf("write table: %v", err)
	}

	back, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}

	if back.NumTeams() != table.NumTeams() {
		t.Fatalf("teams = %d, want %d", back.NumTeams(), table.NumTeams())
	}
	if len(back.Obs) != len(table.Obs) {
		t.Fatalf("observations = %d, want %d", len(back.Obs), len(table.Obs))
	}

	for i, want := range table.Obs {
		got := back.Obs[i]
		if got.Team != want.Team || got.Hypothesis != want.Hypothesis ||
			got.Decision != want.Decision || got.Software != want.Software ||
			got.Testing != want.Testing || got.Fmriprep != want.Fmriprep ||
			got.Movement != want.Movement || got.Group != want.Group {
			t.Fatalf("row %d: got %+v, want %+v", i, got, want)
		}
		if got.FWHM != want.FWHM {
			t.Fatalf("row %d: fwhm %v, want %v (format 'g' is lossless)", i, got.FWHM, want.FWHM)
		}
		if got.HasSimilarity != want.HasSimilarity || got.Similarity != want.Similarity {
			t.Fatalf("row %d: similarity (%v, %v), want (%v, %v)",
				i, got.Similarity, got.HasSimilarity, want.Similarity, want.HasSimilarity)
		}
	}
}

func TestParseHypothesisCell(t *testing.T) {
	for _, raw := range []string{"h3", "H3", "3", " h3 "} {
		h, err := parseHypothesisCell(raw)
		if err != nil || h != study.Hypothesis(3) {
			t.Errorf("parseHypothesisCell(%q) = %v, %v", raw, h, err)
		}
	}
	for _, raw := range []string{"", "h0", "h10", "three"} {
		if _, err := parseHypothesisCell(raw); err == nil {
			t.Errorf("parseHypothesisCell(%q) should fail", raw)
		}
	}
}

func TestBoolCell(t *testing.T) {
	if boolCell(true) != "1" || boolCell(false) != "0" {
		t.Error("boolCell encoding changed; persisted tables depend on 1/0")
	}
}
