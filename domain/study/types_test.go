package study

import (
	"testing"
)

func TestParseDecision(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"Yes", true},
		{"yes", true},
		{"Y", true},
		{"true", true},
		{"1", true},
		{"No", false},
		{"n", false},
		{"false", false},
		{"0", false},
		{" No ", false},
	}
	for _, c := range cases {
		got, err := ParseDecision(c.raw)
		if err != nil {
			t.Fatalf("ParseDecision(%q) returned error: %v", c.raw, err)
		}
		if got != c.want {
			t.Errorf("ParseDecision(%q) = %v, want %v", c.raw, got, c.want)
		}
	}

	if _, err := ParseDecision("maybe"); err == nil {
		t.Error("expected error for unrecognized decision value")
	}
	if _, err := ParseDecision(""); err == nil {
		t.Error("expected error for empty decision value")
	}
}

func TestParseSoftwareCollapsesUnknown(t *testing.T) {
	if s, known := ParseSoftware("fsl"); s != SoftwareFSL || !known {
		t.Errorf("ParseSoftware(fsl) = %v, %v", s, known)
	}
	if s, known := ParseSoftware("nistats"); s != SoftwareOther || known {
		t.Errorf("ParseSoftware(nistats) = %v, %v; want Other, false", s, known)
	}
}

func TestParseTestingCollapsesUnknown(t *testing.T) {
	if v, known := ParseTesting("permutation"); v != TestingNonparametric || !known {
		t.Errorf("ParseTesting(permutation) = %v, %v", v, known)
	}
	if v, known := ParseTesting("bonferroni-ish"); v != TestingOther || known {
		t.Errorf("ParseTesting(bonferroni-ish) = %v, %v; want other, false", v, known)
	}
}

func TestHypothesisValidityAndLabels(t *testing.T) {
	for _, h := range AllHypotheses() {
		if !h.Valid() {
			t.Errorf("%s should be valid", h)
		}
		if h.Label() == "" {
			t.Errorf("%s has no label", h)
		}
	}
	if Hypothesis(0).Valid() || Hypothesis(10).Valid() {
		t.Error("out-of-range hypotheses must be invalid")
	}
}

func TestReferenceLevelsComeFirst(t *testing.T) {
	if AllSoftware()[0] != SoftwareSPM {
		t.Error("SPM must be the software reference level")
	}
	if AllTesting()[0] != TestingParametric {
		t.Error("parametric must be the testing reference level")
	}
}
