package pypiregistry

// packageInfo is the PyPI JSON API response shape, grounded directly on the
// teacher's internal/pypi/models.go.
type packageInfo struct {
	Info     info               `json:"info"`
	URLs     []releaseFile      `json:"urls"`
	Releases map[string][]releaseFile `json:"releases"`
}

type info struct {
	Name           string            `json:"name"`
	Version        string            `json:"version"`
	Summary        string            `json:"summary"`
	RequiresDist   []string          `json:"requires_dist"`
	RequiresPython string            `json:"requires_python"`
	Yanked         bool              `json:"yanked"`
	YankedReason   string            `json:"yanked_reason"`
}

type releaseFile struct {
	Filename       string  `json:"filename"`
	URL            string  `json:"url"`
	Size           int64   `json:"size"`
	PackageType    string  `json:"packagetype"` // "bdist_wheel" or "sdist"
	PythonVersion  string  `json:"python_version"`
	RequiresPython string  `json:"requires_python"`
	Digests        digests `json:"digests"`
	Yanked         bool    `json:"yanked"`
	YankedReason   string  `json:"yanked_reason"`
}

type digests struct {
	SHA256     string `json:"sha256"`
	MD5        string `json:"md5"`
	Blake2b256 string `json:"blake2b_256"`
}
