// Package identity attaches package URLs (PURLs) to resolved packages so
// downstream consumers (lockfile writers, SBOM generators, the CLI report)
// have one canonical, ecosystem-aware identifier per package.
package identity

import (
	"strings"

	"github.com/package-url/packageurl-go"

	"github.com/polypm-dev/polypm/internal/ecosystem"
)

// PackageURL builds the purl for a resolved package. npm scoped names
// ("@scope/name") map to a PURL namespace + name per the npm PURL type spec;
// PyPI names are lowercased since PyPI PURLs are case-insensitive by
// convention.
func PackageURL(key ecosystem.Key, version string) string {
	switch key.Ecosystem {
	case ecosystem.JavaScript:
		namespace, name := "", key.Name
		if strings.HasPrefix(key.Name, "@") {
			if idx := strings.Index(key.Name, "/"); idx > 0 {
				namespace, name = key.Name[:idx], key.Name[idx+1:]
			}
		}

		return packageurl.NewPackageURL(packageurl.TypeNPM, namespace, name, version, nil, "").ToString()
	case ecosystem.Python:
		return packageurl.NewPackageURL(packageurl.TypePyPi, "", strings.ToLower(key.Name), version, nil, "").ToString()
	default:
		return ""
	}
}
