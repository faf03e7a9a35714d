package npmregistry

import "encoding/json"

// packageResponse is the shape of GET /{name} from registry.npmjs.org.
// Grounded on _examples/git-pkgs-registries/internal/npm/npm.go.
type packageResponse struct {
	ID       string                 `json:"_id"`
	Name     string                 `json:"name"`
	DistTags map[string]string      `json:"dist-tags"`
	Versions map[string]versionInfo `json:"versions"`
	Time     map[string]string      `json:"time"`
}

type versionInfo struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Dependencies rawDependencies `json:"dependencies"`
	DevDeps      rawDependencies `json:"devDependencies"`
	OptionalDeps rawDependencies `json:"optionalDependencies"`
	Deprecated   string          `json:"deprecated"`
	Dist         distInfo        `json:"dist"`
}

type distInfo struct {
	Shasum    string `json:"shasum"`
	Tarball   string `json:"tarball"`
	Integrity string `json:"integrity"`
}

// rawDependencies normalizes npm's two observed shapes for a dependency
// map: the usual {"name": "range"} object, and the empty-array shape some
// older registry entries use in place of an empty object. Per spec.md
// §4.2 ("Robustness"), both must be accepted and normalized to an empty
// mapping when not an object.
type rawDependencies map[string]string

func (d *rawDependencies) UnmarshalJSON(data []byte) error {
	// Try the object shape first; it is the overwhelmingly common case.
	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err == nil {
		*d = obj

		return nil
	}

	// Fall back to the empty-array shape (or any array, ignored).
	*d = rawDependencies{}

	return nil
}
