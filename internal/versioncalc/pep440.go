package versioncalc

import (
	"fmt"
	"sort"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// pep440Satisfies reports whether version satisfies every comma-separated
// PEP 440 specifier in rangeStr. Grounded on the teacher's MatchesAll.
func pep440Satisfies(versionStr, rangeStr string) (bool, error) {
	v, err := pep440.Parse(versionStr)
	if err != nil {
		return false, fmt.Errorf("parsing pep440 version %q: %w", versionStr, err)
	}

	rangeStr = strings.TrimSpace(rangeStr)
	if rangeStr == "" || rangeStr == "*" {
		return true, nil
	}

	ss, err := pep440.NewSpecifiers(rangeStr)
	if err != nil {
		return false, fmt.Errorf("parsing pep440 specifier %q: %w", rangeStr, err)
	}

	return ss.Check(v), nil
}

// pep440SelectBest returns the highest candidate satisfying rangeStr,
// excluding prereleases unless rangeStr names one. Grounded on the
// teacher's FindBestVersion/SortVersionsDesc.
func pep440SelectBest(candidates []string, rangeStr string) (string, error) {
	admitPrerelease := pep440RangeNamesPrerelease(rangeStr)

	sorted, err := pep440SortDesc(candidates)
	if err != nil {
		return "", err
	}

	for _, raw := range sorted {
		v, err := pep440.Parse(raw)
		if err != nil {
			continue
		}

		if !admitPrerelease && v.IsPreRelease() {
			continue
		}

		ok, err := pep440Satisfies(raw, rangeStr)
		if err != nil {
			return "", err
		}

		if ok {
			return raw, nil
		}
	}

	return "", nil
}

func pep440SortDesc(versions []string) ([]string, error) {
	type parsed struct {
		raw string
		ver pep440.Version
	}

	var valid []parsed

	for _, raw := range versions {
		v, err := pep440.Parse(raw)
		if err != nil {
			continue // malformed registry entries are skipped, not fatal
		}

		valid = append(valid, parsed{raw: raw, ver: v})
	}

	sort.Slice(valid, func(i, j int) bool {
		return valid[i].ver.GreaterThan(valid[j].ver)
	})

	result := make([]string, len(valid))
	for i, v := range valid {
		result[i] = v.raw
	}

	return result, nil
}

func pep440RangeNamesPrerelease(rangeStr string) bool {
	for _, spec := range strings.Split(rangeStr, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		v, err := pep440.Parse(strings.TrimLeft(spec, "=!<>~"))
		if err == nil && v.IsPreRelease() {
			return true
		}
	}

	return false
}
