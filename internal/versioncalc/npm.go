package versioncalc

import (
	"fmt"
	"strconv"
	"strings"

	gover "github.com/aquasecurity/go-version"
)

// npmRange is a parsed npm-dialect range: one or more OR-joined groups,
// each group a comma/space-separated AND set of comparator tokens.
type npmRange struct {
	raw    string
	groups [][]string // OR of AND-groups, each entry a single comparator token
}

// parseNpmRange splits an npm range string into its OR/AND structure without
// yet validating individual comparator tokens (that happens lazily per
// version check). A "latest" token that reaches this dialect matches any
// version; npmregistry.ResolveVersion maps "latest" to its dist-tag before
// calling here.
func parseNpmRange(raw string) npmRange {
	trimmed := strings.TrimSpace(raw)

	var groups [][]string

	for _, orPart := range strings.Split(trimmed, "||") {
		group := splitComparators(orPart)
		groups = append(groups, group)
	}

	return npmRange{raw: trimmed, groups: groups}
}

// splitComparators splits an AND-group on commas and runs of whitespace,
// tolerating npm's "internal spaces" style (">= 2.1.2 < 3") where an
// operator and its number are separated by a space: such pairs are rejoined
// before the final split.
func splitComparators(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{""}
	}

	// Normalize comma separators to spaces so a single whitespace-based
	// tokenizer handles both "a, b" and "a b" comparator lists.
	s = strings.ReplaceAll(s, ",", " ")

	fields := strings.Fields(s)

	var tokens []string

	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if isBareOperator(f) && i+1 < len(fields) {
			tokens = append(tokens, f+fields[i+1])
			i++

			continue
		}

		tokens = append(tokens, f)
	}

	if len(tokens) == 0 {
		tokens = []string{""}
	}

	return tokens
}

func isBareOperator(s string) bool {
	switch s {
	case ">=", "<=", ">", "<", "=":
		return true
	default:
		return false
	}
}

// npmSatisfies reports whether version satisfies the npm-dialect range.
func npmSatisfies(versionStr, rangeStr string) (bool, error) {
	r := parseNpmRange(rangeStr)

	v, err := gover.NewVersion(versionStr)
	if err != nil {
		return false, fmt.Errorf("parsing npm version %q: %w", versionStr, err)
	}

	if len(r.groups) == 0 {
		return true, nil
	}

	for _, group := range r.groups {
		ok, err := npmMatchesGroup(v, group)
		if err != nil {
			return false, err
		}

		if ok {
			return true, nil
		}
	}

	return false, nil
}

func npmMatchesGroup(v *gover.Version, comparators []string) (bool, error) {
	var constraintParts []string

	for _, tok := range comparators {
		tok = strings.TrimSpace(tok)
		if tok == "" || tok == "*" || tok == "latest" {
			continue
		}

		translated, err := translateComparator(tok)
		if err != nil {
			return false, fmt.Errorf("parsing npm range comparator %q: %w", tok, err)
		}

		if translated != "" {
			constraintParts = append(constraintParts, translated)
		}
	}

	if len(constraintParts) == 0 {
		return true, nil
	}

	c, err := gover.NewConstraint(strings.Join(constraintParts, ", "))
	if err != nil {
		return false, fmt.Errorf("building npm constraint from %v: %w", comparators, err)
	}

	return c.Check(v), nil
}

// translateComparator rewrites a single npm comparator token into one or
// more HashiCorp-style constraint clauses that aquasecurity/go-version
// understands natively (>=, <=, >, <, =). "^" and "~" and bare/partial
// version forms have no direct equivalent in that grammar, so they are
// expanded here into explicit bound pairs.
func translateComparator(tok string) (string, error) {
	switch {
	case strings.HasPrefix(tok, "^"):
		return translateCaret(tok[1:])
	case strings.HasPrefix(tok, "~"):
		return translateTilde(tok[1:])
	case strings.HasPrefix(tok, ">="), strings.HasPrefix(tok, "<="),
		strings.HasPrefix(tok, ">"), strings.HasPrefix(tok, "<"),
		strings.HasPrefix(tok, "="):
		return tok, nil
	default:
		return translatePartial(tok)
	}
}

// translateCaret implements npm's "compatible" range: changes that do not
// modify the left-most non-zero component are allowed.
func translateCaret(ver string) (string, error) {
	parts, err := parseNumericTriple(ver)
	if err != nil {
		return "", err
	}

	switch {
	case parts[0] > 0:
		return fmt.Sprintf(">=%s, <%d.0.0", ver, parts[0]+1), nil
	case parts[1] > 0:
		return fmt.Sprintf(">=%s, <0.%d.0", ver, parts[1]+1), nil
	default:
		return fmt.Sprintf(">=%s, <0.0.%d", ver, parts[2]+1), nil
	}
}

// translateTilde implements npm's "patch-level changes allowed" range.
func translateTilde(ver string) (string, error) {
	parts, err := parseNumericTriple(ver)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(">=%s, <%d.%d.0", ver, parts[0], parts[1]+1), nil
}

// translatePartial handles bare/exact/prefix version forms: "1", "1.2",
// "1.2.3", prefixes with trailing wildcards ("2.x", "1.2.*"), and
// "x"/empty (any version).
func translatePartial(tok string) (string, error) {
	if tok == "" || tok == "x" || tok == "X" {
		return "", nil
	}

	segs := strings.Split(strings.TrimPrefix(tok, "="), ".")

	for len(segs) > 1 {
		last := segs[len(segs)-1]
		if last != "x" && last != "X" && last != "*" {
			break
		}

		segs = segs[:len(segs)-1]
	}

	switch len(segs) {
	case 1:
		major, err := strconv.Atoi(segs[0])
		if err != nil {
			return "", fmt.Errorf("invalid version %q", tok)
		}

		return fmt.Sprintf(">=%d.0.0, <%d.0.0", major, major+1), nil
	case 2:
		major, err1 := strconv.Atoi(segs[0])
		minor, err2 := strconv.Atoi(segs[1])

		if err1 != nil || err2 != nil {
			return "", fmt.Errorf("invalid version %q", tok)
		}

		return fmt.Sprintf(">=%d.%d.0, <%d.%d.0", major, minor, major, minor+1), nil
	default:
		return "=" + strings.TrimPrefix(tok, "="), nil
	}
}

// parseNumericTriple extracts the major/minor/patch integers from the
// leading numeric portion of a version string, ignoring any prerelease or
// build metadata suffix.
func parseNumericTriple(ver string) ([3]int, error) {
	core := ver
	if i := strings.IndexAny(ver, "-+"); i >= 0 {
		core = ver[:i]
	}

	segs := strings.Split(core, ".")
	for len(segs) < 3 {
		segs = append(segs, "0")
	}

	var out [3]int

	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(segs[i])
		if err != nil {
			return out, fmt.Errorf("invalid version %q", ver)
		}

		out[i] = n
	}

	return out, nil
}

// npmSelectBest returns the highest version in candidates satisfying
// rangeStr. Prereleases are excluded unless rangeStr itself names one.
func npmSelectBest(candidates []string, rangeStr string) (string, error) {
	admitPrerelease := npmRangeNamesPrerelease(rangeStr)

	var best *gover.Version
	var bestRaw string

	for _, raw := range candidates {
		v, err := gover.NewVersion(raw)
		if err != nil {
			continue // unparseable registry entries are skipped, not fatal
		}

		if !admitPrerelease && v.Prerelease() != "" {
			continue
		}

		ok, err := npmSatisfies(raw, rangeStr)
		if err != nil {
			return "", err
		}

		if !ok {
			continue
		}

		if best == nil || v.Compare(best) > 0 {
			best = v
			bestRaw = raw
		}
	}

	return bestRaw, nil
}

func npmRangeNamesPrerelease(rangeStr string) bool {
	for _, orPart := range strings.Split(rangeStr, "||") {
		for _, tok := range splitComparators(orPart) {
			if strings.Contains(tok, "-") {
				return true
			}
		}
	}

	return false
}
