// Package versioncalc implements C1: version-range parsing, comparison, and
// selection in the two dialects the engine supports. Callers pass the
// ecosystem tag alongside the raw range string and never branch on dialect
// themselves; dispatch on the tag happens here.
package versioncalc

import (
	"github.com/polypm-dev/polypm/internal/ecosystem"
	"github.com/polypm-dev/polypm/internal/pmerr"
)

// Range pairs a raw range string with its dialect: Npm(rangeString) |
// Pep440(rangeString). Satisfies and SelectBest take the two parts as
// separate arguments and parse the string only when called, so a single
// malformed range fails that one package, not the whole batch.
type Range struct {
	Ecosystem ecosystem.Ecosystem
	Spec      string
}

// NewRange tags a raw range string with its ecosystem dialect.
func NewRange(eco ecosystem.Ecosystem, spec string) Range {
	return Range{Ecosystem: eco, Spec: spec}
}

// Satisfies reports whether version satisfies the range, per spec.md §4.1.
// A malformed range yields a pmerr.BadRange error.
func Satisfies(eco ecosystem.Ecosystem, version, rangeSpec string) (bool, error) {
	var (
		ok  bool
		err error
	)

	switch eco {
	case ecosystem.JavaScript:
		ok, err = npmSatisfies(version, rangeSpec)
	case ecosystem.Python:
		ok, err = pep440Satisfies(version, rangeSpec)
	default:
		return false, pmerr.New(pmerr.BadRange, eco.String(), rangeSpec, nil)
	}

	if err != nil {
		return false, pmerr.New(pmerr.BadRange, eco.String(), rangeSpec, err)
	}

	return ok, nil
}

// SelectBest returns the numerically largest version in candidates that
// satisfies rangeSpec, excluding prereleases unless rangeSpec names one.
// An empty return with a nil error means no version matched (caller raises
// pmerr.NoMatch with the package name, which this layer does not know).
func SelectBest(eco ecosystem.Ecosystem, candidates []string, rangeSpec string) (string, error) {
	switch eco {
	case ecosystem.JavaScript:
		best, err := npmSelectBest(candidates, rangeSpec)
		if err != nil {
			return "", pmerr.New(pmerr.BadRange, eco.String(), rangeSpec, err)
		}

		return best, nil
	case ecosystem.Python:
		best, err := pep440SelectBest(candidates, rangeSpec)
		if err != nil {
			return "", pmerr.New(pmerr.BadRange, eco.String(), rangeSpec, err)
		}

		return best, nil
	default:
		return "", pmerr.New(pmerr.BadRange, eco.String(), rangeSpec, nil)
	}
}
