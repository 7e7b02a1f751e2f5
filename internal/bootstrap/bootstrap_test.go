package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"narpstat/domain/core"
	"narpstat/domain/study"
	"narpstat/internal/logging"
	"narpstat/internal/testkit"
)

func sourceTable(t *testing.T, teams int) *study.Table {
	t.Helper()
	cfg := testkit.DefaultStudyConfig()
	cfg.Teams = teams
	table, err := testkit.NewStudyGenerator(cfg).GenerateTable()
	if err != nil {
		t.Fatalf("generate table: %v", err)
	}
	return table
}

func teamSlices(table *study.Table) [][]study.Observation {
	byTeam := make([][]study.Observation, 0, table.NumTeams())
	for _, id := range table.Teams {
		byTeam = append(byTeam, table.TeamObservations(id))
	}
	return byTeam
}

func TestReplicateSeedsAreDistinctAndDeterministic(t *testing.T) {
	seen := make(map[int64]bool)
	for rep := 0; rep < 1000; rep++ {
		s := replicateSeed(42, rep)
		if seen[s] {
			t.Fatalf("replicate %d reuses seed %d", rep, s)
		}
		seen[s] = true
		if s != replicateSeed(42, rep) {
			t.Fatalf("replicate %d seed is not deterministic", rep)
		}
	}
	if replicateSeed(42, 0) == replicateSeed(43, 0) {
		t.Error("different base seeds must diverge")
	}
}

func TestResampleDrawsTeamsWithReplacement(t *testing.T) {
	table := sourceTable(t, 20)
	byTeam := teamSlices(table)

	replicate := Resample(byTeam, table.Levels, rand.New(rand.NewSource(3)))

	if got := replicate.NumTeams(); got != table.NumTeams() {
		t.Fatalf("replicate draws = %d, want %d", got, table.NumTeams())
	}
	if len(replicate.Obs) != len(table.Obs) {
		t.Fatalf("replicate obs = %d, want %d (equal-sized teams)", len(replicate.Obs), len(table.Obs))
	}

	// Levels are inherited verbatim, never re-derived
	if !reflect.DeepEqual(replicate.Levels, table.Levels) {
		t.Error("replicate levels differ from source levels")
	}

	// Every draw owns a fresh group index, even for repeated teams
	groupTeams := make(map[int]study.TeamID)
	for _, o := range replicate.Obs {
		if prev, ok := groupTeams[o.Group]; ok && prev != o.Team {
			t.Fatalf("group %d spans teams %s and %s", o.Group, prev, o.Team)
		}
		groupTeams[o.Group] = o.Team
	}
	if len(groupTeams) != table.NumTeams() {
		t.Fatalf("replicate has %d groups, want %d", len(groupTeams), table.NumTeams())
	}
}

func TestResampleIsDeterministicPerSeed(t *testing.T) {
	table := sourceTable(t, 15)
	byTeam := teamSlices(table)

	a := Resample(byTeam, table.Levels, rand.New(rand.NewSource(99)))
	b := Resample(byTeam, table.Levels, rand.New(rand.NewSource(99)))
	if !reflect.DeepEqual(a, b) {
		t.Error("same seed must produce the same replicate")
	}

	c := Resample(byTeam, table.Levels, rand.New(rand.NewSource(100)))
	if reflect.DeepEqual(a, c) {
		t.Error("different seeds produced identical replicates")
	}
}

func TestCheckSupportFlagsMissingLevel(t *testing.T) {
	table := sourceTable(t, 20)

	if err := CheckSupport(table, table.Levels); err != nil {
		t.Fatalf("full table reported degenerate: %v", err)
	}

	// Drop every AFNI observation to break factor support
	degenerate := &study.Table{Levels: table.Levels, Teams: table.Teams}
	for _, o := range table.Obs {
		if o.Software != study.SoftwareAFNI {
			degenerate.Obs = append(degenerate.Obs, o)
		}
	}
	err := CheckSupport(degenerate, table.Levels)
	if !errors.Is(err, core.ErrDegenerateReplicate) {
		t.Fatalf("expected ErrDegenerateReplicate, got %v", err)
	}
}

func TestCheckSupportFlagsSingleValuedCovariate(t *testing.T) {
	table := sourceTable(t, 20)

	// Every observation preprocessed with fmriprep: the column equals the
	// intercept and its coefficient is not identified
	uniform := &study.Table{Levels: table.Levels, Teams: table.Teams}
	for _, o := range table.Obs {
		o.Fmriprep = true
		uniform.Obs = append(uniform.Obs, o)
	}
	err := CheckSupport(uniform, table.Levels)
	if !errors.Is(err, core.ErrDegenerateReplicate) {
		t.Fatalf("uniform fmriprep: expected ErrDegenerateReplicate, got %v", err)
	}

	uniform = &study.Table{Levels: table.Levels, Teams: table.Teams}
	for _, o := range table.Obs {
		o.Movement = false
		uniform.Obs = append(uniform.Obs, o)
	}
	err = CheckSupport(uniform, table.Levels)
	if !errors.Is(err, core.ErrDegenerateReplicate) {
		t.Fatalf("uniform movement: expected ErrDegenerateReplicate, got %v", err)
	}
}

// rareLevelTable builds a table in which single teams own the only AFNI and
// the only nonparametric observations, so a resample that misses either team
// lacks full factor support.
func rareLevelTable(t *testing.T, teams int) *study.Table {
	t.Helper()
	records := make([]study.TeamRecord, teams)
	for i := range records {
		software := study.SoftwareSPM
		if i%2 == 1 {
			software = study.SoftwareFSL
		}
		if i == 0 {
			software = study.SoftwareAFNI
		}
		testing := study.TestingParametric
		if i == 1 {
			testing = study.TestingNonparametric
		}
		records[i] = study.TeamRecord{
			ID:       study.TeamID(fmt.Sprintf("team_%02d", i)),
			Software: software,
			Testing:  testing,
			Fmriprep: i%2 == 0,
			Movement: i%3 == 0,
			FWHM:     4 + 0.3*float64(i),
			HasFWHM:  true,
			Decisions: map[study.Hypothesis]bool{
				1: i%2 == 0,
				2: i%2 == 1,
				3: i%4 < 2,
			},
		}
	}
	table, err := study.BuildTable(records)
	if err != nil {
		t.Fatalf("build table: %v", err)
	}
	return table
}

func TestRunCountsDegenerateReplicates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full bootstrap in short mode")
	}

	table := rareLevelTable(t, 16)
	opts := Options{Replicates: 30, Seed: 11, Workers: 4, QuadPoints: 3, CILevel: 0.95}
	summary, err := NewRunner(opts, logging.NewDefaultLogger()).Run(context.Background(), table)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.Requested != 30 {
		t.Fatalf("requested = %d", summary.Requested)
	}
	if summary.Degenerate == 0 {
		t.Error("resamples missing the sole AFNI or nonparametric team must count as degenerate")
	}
	if summary.Completed == 0 {
		t.Fatalf("no replicate completed: %+v", summary)
	}
	if summary.Completed+summary.Degenerate+summary.Failed != 30 {
		t.Fatalf("accounting broken: %+v", summary)
	}
	if len(summary.FailureReasons) == 0 {
		t.Error("skipped replicates must record a reason")
	}
	for _, s := range summary.Stats {
		if s.N != summary.Completed {
			t.Errorf("stat %s has %d values, want one per completed replicate (%d)", s.Name, s.N, summary.Completed)
		}
	}
}

func TestRunStrictFailsOnDegenerateReplicate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full bootstrap in short mode")
	}

	table := rareLevelTable(t, 16)
	opts := Options{Replicates: 30, Seed: 11, Workers: 2, QuadPoints: 3, CILevel: 0.95, Strict: true}
	summary, err := NewRunner(opts, logging.NewDefaultLogger()).Run(context.Background(), table)
	if err == nil {
		t.Fatal("strict run must fail once a resample lacks full support")
	}
	if !errors.Is(err, core.ErrDegenerateReplicate) {
		t.Fatalf("expected ErrDegenerateReplicate, got %v", err)
	}
	if summary != nil {
		t.Error("failed strict run must not return a summary")
	}
}

func TestSummarizeStatIsOrderInvariant(t *testing.T) {
	values := make([]float64, 200)
	rng := rand.New(rand.NewSource(8))
	for i := range values {
		values[i] = rng.NormFloat64()
	}
	shuffled := append([]float64{}, values...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	a, err := SummarizeStat("fwhm", values, 0.95)
	if err != nil {
		t.Fatalf("SummarizeStat failed: %v", err)
	}
	b, err := SummarizeStat("fwhm", shuffled, 0.95)
	if err != nil {
		t.Fatalf("SummarizeStat failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("summaries differ across orderings: %+v vs %+v", a, b)
	}
	if a.CI.Lower >= a.Median || a.Median >= a.CI.Upper {
		t.Errorf("interval (%v, %v) does not bracket median %v", a.CI.Lower, a.CI.Upper, a.Median)
	}
	if a.SelectionProb != nil {
		t.Error("scalar statistic must not carry a selection probability")
	}
}

func TestSummarizeStatKnownQuantities(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}

	s, err := SummarizeStat("fwhm", values, 0.95)
	if err != nil {
		t.Fatalf("SummarizeStat failed: %v", err)
	}
	if s.N != 100 {
		t.Errorf("N = %d", s.N)
	}
	if math.Abs(s.Mean-50.5) > 1e-9 || math.Abs(s.Median-50.5) > 1e-9 {
		t.Errorf("mean/median = %v/%v, want 50.5", s.Mean, s.Median)
	}
	if math.Abs(s.CI.Lower-3) > 1.01 || math.Abs(s.CI.Upper-98) > 1.01 {
		t.Errorf("CI = (%v, %v), want about (3, 98)", s.CI.Lower, s.CI.Upper)
	}
	if s.CI.Level != 0.95 {
		t.Errorf("CI level = %v", s.CI.Level)
	}
}

func TestSummarizeStatSelectionProbability(t *testing.T) {
	s, err := SummarizeStat("software:delta_aic", []float64{-1.0, 2.0, 3.0, -0.5}, 0.95)
	if err != nil {
		t.Fatalf("SummarizeStat failed: %v", err)
	}
	if s.SelectionProb == nil {
		t.Fatal("delta statistic must carry a selection probability")
	}
	if *s.SelectionProb != 0.5 {
		t.Errorf("selection prob = %v, want 0.5", *s.SelectionProb)
	}
}

func TestRunIsIndependentOfWorkerCount(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full bootstrap in short mode")
	}

	table := sourceTable(t, 30)
	log := logging.NewDefaultLogger()
	base := Options{Replicates: 5, Seed: 7, QuadPoints: 3, CILevel: 0.95}

	serial := base
	serial.Workers = 1
	a, err := NewRunner(serial, log).Run(context.Background(), table)
	if err != nil {
		t.Fatalf("serial run failed: %v", err)
	}

	parallel := base
	parallel.Workers = 3
	b, err := NewRunner(parallel, log).Run(context.Background(), table)
	if err != nil {
		t.Fatalf("parallel run failed: %v", err)
	}

	if a.Requested != 5 || a.Completed+a.Degenerate+a.Failed != 5 {
		t.Fatalf("accounting broken: %+v", a)
	}
	if a.Completed == 0 {
		t.Fatalf("no replicate completed: %+v", a)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("summaries differ across worker counts:\n%+v\n%+v", a, b)
	}
}

func TestRunRejectsTinyTables(t *testing.T) {
	table := &study.Table{Teams: []study.TeamID{"A"}}
	_, err := NewRunner(DefaultOptions(), logging.NewDefaultLogger()).Run(context.Background(), table)
	if !errors.Is(err, core.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestStatNamesFixedOrder(t *testing.T) {
	names := statNames()
	want := []string{
		"fwhm", "fmriprep", "movement",
		"hypothesis:delta_aic", "hypothesis:delta_bic",
		"software:delta_aic", "software:delta_bic",
		"testing:delta_aic", "testing:delta_bic",
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("statNames = %v, want %v", names, want)
	}
}
