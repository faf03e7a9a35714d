package npmregistry

import (
	"crypto/sha1" //nolint:gosec // legacy npm shasum fallback, not a security boundary choice
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// verifyNpmIntegrity checks body against an npm "integrity" string, which is
// either a modern Subresource Integrity value ("sha512-<base64>", preferring
// the strongest of possibly several space-separated algorithms per spec.md
// §4.2) or a legacy "sha1-<hex-or-base64>" shasum for packages published
// before SRI existed.
func verifyNpmIntegrity(body []byte, integrity string) error {
	if integrity == "" {
		return fmt.Errorf("no integrity metadata published")
	}

	entries := strings.Fields(integrity)

	best := pickStrongestAlgorithm(entries)
	if best == "" {
		return fmt.Errorf("unrecognized integrity format %q", integrity)
	}

	algo, digest, _ := strings.Cut(best, "-")

	switch algo {
	case "sha512":
		sum := sha512.Sum512(body)
		want := base64.StdEncoding.EncodeToString(sum[:])

		if want != digest {
			return fmt.Errorf("sha512 mismatch: want %s got %s", digest, want)
		}
	case "sha256":
		sum := sha256.Sum256(body)
		want := base64.StdEncoding.EncodeToString(sum[:])

		if want != digest {
			return fmt.Errorf("sha256 mismatch: want %s got %s", digest, want)
		}
	case "sha1":
		sum := sha1.Sum(body) //nolint:gosec
		wantHex := hex.EncodeToString(sum[:])
		wantB64 := base64.StdEncoding.EncodeToString(sum[:])

		if digest != wantHex && digest != wantB64 {
			return fmt.Errorf("sha1 mismatch: want %s got %s", digest, wantHex)
		}
	default:
		return fmt.Errorf("unsupported integrity algorithm %q", algo)
	}

	return nil
}

var algoStrength = map[string]int{"sha1": 0, "sha256": 1, "sha512": 2}

// pickStrongestAlgorithm mirrors npm's own SRI selection rule: when multiple
// algorithms are present, verify using the strongest one rather than the
// first.
func pickStrongestAlgorithm(entries []string) string {
	best := ""
	bestRank := -1

	for _, e := range entries {
		algo, _, ok := strings.Cut(e, "-")
		if !ok {
			continue
		}

		rank, known := algoStrength[algo]
		if !known {
			continue
		}

		if rank > bestRank {
			best = e
			bestRank = rank
		}
	}

	return best
}
