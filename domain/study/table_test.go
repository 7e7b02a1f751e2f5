package study

import (
	"errors"
	"fmt"
	"testing"

	"narpstat/domain/core"
)

func makeRecords(n int) []TeamRecord {
	records := make([]TeamRecord, 0, n)
	softwareLevels := AllSoftware()
	testingLevels := AllTesting()
	for i := 0; i < n; i++ {
		rec := TeamRecord{
			ID:        TeamID(fmt.Sprintf("team_%02d", i+1)),
			Software:  softwareLevels[i%len(softwareLevels)],
			Testing:   testingLevels[i%len(testingLevels)],
			Fmriprep:  i%2 == 0,
			Movement:  i%3 == 0,
			FWHM:      4.0 + float64(i)*0.1,
			HasFWHM:   true,
			Decisions: make(map[Hypothesis]bool),
		}
		for _, h := range AllHypotheses() {
			rec.Decisions[h] = (i+int(h))%2 == 0
		}
		records = append(records, rec)
	}
	return records
}

func TestBuildTablePreservesPairMapping(t *testing.T) {
	table, err := BuildTable(makeRecords(12))
	if err != nil {
		t.Fatalf("BuildTable failed: %v", err)
	}

	if got := table.NumTeams(); got != 12 {
		t.Fatalf("NumTeams = %d, want 12", got)
	}
	if got := len(table.Obs); got != 12*NumHypotheses {
		t.Fatalf("observations = %d, want %d", got, 12*NumHypotheses)
	}

	// Exactly one observation per (team, hypothesis) pair
	type key struct {
		team TeamID
		hyp  Hypothesis
	}
	seen := make(map[key]int)
	for _, o := range table.Obs {
		seen[key{o.Team, o.Hypothesis}]++
	}
	for k, count := range seen {
		if count != 1 {
			t.Errorf("(%s, %s) mapped to %d observations", k.team, k.hyp, count)
		}
	}
}

func TestBuildTableRejectsDuplicateTeams(t *testing.T) {
	records := makeRecords(4)
	records[3].ID = records[0].ID
	_, err := BuildTable(records)
	if !errors.Is(err, core.ErrDuplicateTeam) {
		t.Fatalf("expected ErrDuplicateTeam, got %v", err)
	}
}

func TestBuildTableExcludesTeamsWithoutFWHM(t *testing.T) {
	records := makeRecords(5)
	records[2].HasFWHM = false
	table, err := BuildTable(records)
	if err != nil {
		t.Fatalf("BuildTable failed: %v", err)
	}
	if got := table.NumTeams(); got != 4 {
		t.Fatalf("NumTeams = %d, want 4", got)
	}
	for _, o := range table.Obs {
		if o.Team == records[2].ID {
			t.Fatal("excluded team leaked into observations")
		}
	}
}

func TestBuildTableRejectsNonpositiveFWHM(t *testing.T) {
	records := makeRecords(3)
	records[1].FWHM = -2.0
	_, err := BuildTable(records)
	if !errors.Is(err, core.ErrDataInvalid) {
		t.Fatalf("expected ErrDataInvalid, got %v", err)
	}
}

func TestLevelsAreCanonicallyOrdered(t *testing.T) {
	table, err := BuildTable(makeRecords(8))
	if err != nil {
		t.Fatalf("BuildTable failed: %v", err)
	}
	if table.Levels.Software[0] != SoftwareSPM {
		t.Error("software levels must start at the SPM reference level")
	}
	if table.Levels.Testing[0] != TestingParametric {
		t.Error("testing levels must start at the parametric reference level")
	}
	if table.Levels.Hypotheses[0] != Hypothesis(1) {
		t.Error("hypothesis levels must start at h1")
	}
}

func TestMissingLevels(t *testing.T) {
	table, err := BuildTable(makeRecords(8))
	if err != nil {
		t.Fatalf("BuildTable failed: %v", err)
	}

	if missing := table.MissingLevels(table.Levels); len(missing["software"]) != 0 ||
		len(missing["testing"]) != 0 || len(missing["hypothesis"]) != 0 {
		t.Fatalf("full table reported missing levels: %v", missing)
	}

	// A subset without AFNI teams must report the missing level
	var subset Table
	subset.Levels = table.Levels
	for _, o := range table.Obs {
		if o.Software != SoftwareAFNI {
			subset.Obs = append(subset.Obs, o)
		}
	}
	missing := subset.MissingLevels(table.Levels)
	if len(missing["software"]) != 1 || missing["software"][0] != string(SoftwareAFNI) {
		t.Fatalf("expected missing AFNI level, got %v", missing)
	}
}

func TestNewTableFromObservationsAssignsGroups(t *testing.T) {
	source, err := BuildTable(makeRecords(6))
	if err != nil {
		t.Fatalf("BuildTable failed: %v", err)
	}
	rebuilt, err := NewTableFromObservations(source.Obs)
	if err != nil {
		t.Fatalf("NewTableFromObservations failed: %v", err)
	}
	if rebuilt.NumTeams() != source.NumTeams() {
		t.Fatalf("teams = %d, want %d", rebuilt.NumTeams(), source.NumTeams())
	}
	groups := make(map[TeamID]int)
	for _, o := range rebuilt.Obs {
		if g, ok := groups[o.Team]; ok && g != o.Group {
			t.Fatalf("team %s has inconsistent group indices", o.Team)
		}
		groups[o.Team] = o.Group
	}
}

func TestNewTableFromObservationsRejectsDuplicatePairs(t *testing.T) {
	source, err := BuildTable(makeRecords(3))
	if err != nil {
		t.Fatalf("BuildTable failed: %v", err)
	}
	obs := append(source.Obs, source.Obs[0])
	if _, err := NewTableFromObservations(obs); !errors.Is(err, core.ErrDataInvalid) {
		t.Fatalf("expected ErrDataInvalid for duplicate pair, got %v", err)
	}
}
