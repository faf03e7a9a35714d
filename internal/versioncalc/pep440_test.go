package versioncalc_test

import (
	"testing"

	"github.com/polypm-dev/polypm/internal/ecosystem"
	"github.com/polypm-dev/polypm/internal/versioncalc"
)

func TestPep440Satisfies(t *testing.T) {
	cases := []struct {
		version string
		rng     string
		want    bool
	}{
		{"2.28.0", ">=2.28", true},
		{"2.27.0", ">=2.28", false},
		{"2.28.1", "~=2.28", true},
		{"3.0.0", "~=2.28", false},
		{"1.0.0", "*", true},
		{"1.0.0", "", true},
		{"1.0.0", "==1.0.0,!=1.0.0", false},
	}

	for _, c := range cases {
		got, err := versioncalc.Satisfies(ecosystem.Python, c.version, c.rng)
		if err != nil {
			t.Errorf("Satisfies(%q, %q) error: %v", c.version, c.rng, err)
			continue
		}

		if got != c.want {
			t.Errorf("Satisfies(%q, %q) = %v, want %v", c.version, c.rng, got, c.want)
		}
	}
}

func TestPep440SelectBestExcludesPrerelease(t *testing.T) {
	versions := []string{"2.0.0", "2.1.0", "3.0.0rc1"}

	best, err := versioncalc.SelectBest(ecosystem.Python, versions, "")
	if err != nil {
		t.Fatalf("SelectBest error: %v", err)
	}

	if best != "2.1.0" {
		t.Errorf("SelectBest = %q, want 2.1.0", best)
	}
}

func TestPep440SelectBestRoundTrip(t *testing.T) {
	versions := []string{"1.0.0", "1.2.0", "2.0.0"}

	for _, v := range versions {
		got, err := versioncalc.SelectBest(ecosystem.Python, versions, "=="+v)
		if err != nil {
			t.Fatalf("SelectBest(%q) error: %v", v, err)
		}

		if got != v {
			t.Errorf("SelectBest(versions, ==%q) = %q, want %q", v, got, v)
		}
	}
}

func TestPep440SkipsUnparseableCandidates(t *testing.T) {
	versions := []string{"1.0.0", "not-a-version", "2.0.0"}

	best, err := versioncalc.SelectBest(ecosystem.Python, versions, "")
	if err != nil {
		t.Fatalf("SelectBest error: %v", err)
	}

	if best != "2.0.0" {
		t.Errorf("SelectBest = %q, want 2.0.0", best)
	}
}
