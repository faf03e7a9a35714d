// Package platform selects the PyPI file that best matches the host
// Python interpreter, per PEP 425 compatibility tags. Adapted from the
// teacher's internal/downloader/wheel.go (tag parsing/matching) and
// internal/python/env.go (host interpreter detection), narrowed to the
// file-selection question alone — this module never manages a virtualenv.
package platform

import (
	"fmt"
	"strings"
)

// Tag is a PEP 425 compatibility tag: {python}-{abi}-{platform}.
type Tag struct {
	Python   string
	ABI      string
	Platform string
}

// File is the subset of a registry download entry platform selection needs.
type File struct {
	Filename    string
	URL         string
	PackageType string // "bdist_wheel" or "sdist"
}

// ParseWheelFilename parses a wheel filename into name, version, and tag.
// Format: {name}-{ver}(-{build})?-{python}-{abi}-{platform}.whl
func ParseWheelFilename(filename string) (name, version string, tag Tag, err error) {
	trimmed := strings.TrimSuffix(filename, ".whl")

	parts := strings.Split(trimmed, "-")
	if len(parts) < 5 {
		return "", "", Tag{}, fmt.Errorf("invalid wheel filename %q: expected at least 5 parts", filename)
	}

	tag = Tag{
		Python:   parts[len(parts)-3],
		ABI:      parts[len(parts)-2],
		Platform: parts[len(parts)-1],
	}

	return parts[0], parts[1], tag, nil
}

// SelectWheel picks the highest-priority wheel in files compatible with
// compatTags (ordered most-preferred first), without falling back to an
// sdist — the caller decides whether an sdist is acceptable.
func SelectWheel(files []File, compatTags []Tag) (File, error) {
	bestPriority := len(compatTags)

	var best File

	found := false

	for _, f := range files {
		if f.PackageType != "bdist_wheel" {
			continue
		}

		_, _, tag, err := ParseWheelFilename(f.Filename)
		if err != nil {
			continue
		}

		for i, ct := range compatTags {
			if i >= bestPriority {
				break
			}

			if tagMatches(tag, ct) {
				bestPriority = i
				best = f
				found = true

				break
			}
		}

		if bestPriority == 0 {
			break
		}
	}

	if !found {
		return File{}, fmt.Errorf("no compatible wheel found (tried %d files)", len(files))
	}

	return best, nil
}

func tagMatches(wheel, compat Tag) bool {
	return fieldMatches(wheel.Python, compat.Python) &&
		fieldMatches(wheel.ABI, compat.ABI) &&
		fieldMatches(wheel.Platform, compat.Platform)
}

// fieldMatches checks a (possibly compound, dot-separated) wheel tag field
// against one compat tag value, e.g. wheel field "py2.py3" matches "py3".
func fieldMatches(wheelField, compatValue string) bool {
	for _, w := range strings.Split(wheelField, ".") {
		if w == compatValue {
			return true
		}
	}

	return false
}

// HostTags builds the ordered compatibility tag preference list for a host
// interpreter, most-specific first: exact CPython ABI build, then the
// abi3 stable ABI, then the universal py3-none-any tag.
func HostTags(pythonTag, platformTag string) []Tag {
	cpy := "cp" + pythonTag

	return []Tag{
		{Python: cpy, ABI: cpy, Platform: platformTag},
		{Python: cpy, ABI: "abi3", Platform: platformTag},
		{Python: cpy, ABI: "none", Platform: platformTag},
		{Python: "py3", ABI: "none", Platform: platformTag},
		{Python: "py3", ABI: "none", Platform: "any"},
	}
}
