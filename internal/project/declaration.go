// Package project defines the shape of a project declaration and the
// ambient config (store root, lock file location) the core consumes; the
// TOML file itself is read by an external collaborator (spec.md §1 names
// the TOML reader out of scope for the core), so this package only holds
// the struct that reader populates plus the validation and path-resolution
// logic grounded on the original implementation's
// src/utils/validation.rs and src/utils_ext/config.rs.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Declaration is the parsed shape of project.toml.
type Declaration struct {
	Name              string
	Version           string
	Ecosystems        []string
	Dependencies      map[string]map[string]string // ecosystem -> name -> range
	DevDependencies   map[string]map[string]string
	Scripts           map[string]string
}

const storeDirEnv = "POLYPM_STORE_DIR"

// StoreRoot resolves the global content-addressed store's root directory:
// $POLYPM_STORE_DIR if set, otherwise $HOME/.ppm-store.
func StoreRoot() (string, error) {
	if dir := os.Getenv(storeDirEnv); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving store root: %w", err)
	}

	return filepath.Join(home, ".ppm-store"), nil
}

// LockFilePath returns the project-local lock file path.
func LockFilePath() string {
	return "ppm.lock"
}

// ConfigPath returns the project declaration file path.
func ConfigPath() string {
	return "project.toml"
}

// ValidateName checks a package name's basic shape and, when ecosystem is
// known, its ecosystem-specific rules (npm: lowercase, no leading "." or
// "_", max 214 chars; PyPI: no whitespace).
func ValidateName(name, eco string) error {
	if name == "" {
		return fmt.Errorf("package name cannot be empty")
	}

	if strings.ContainsAny(name, " \t") {
		return fmt.Errorf("package name %q cannot contain whitespace", name)
	}

	switch eco {
	case "javascript", "npm":
		return validateNpmName(name)
	case "python", "pypi":
		return nil // already covered by the whitespace check above
	default:
		return nil
	}
}

func validateNpmName(name string) error {
	if len(name) > 214 {
		return fmt.Errorf("npm package name %q is too long (max 214 characters)", name)
	}

	if name != strings.ToLower(name) {
		return fmt.Errorf("npm package name %q must be lowercase", name)
	}

	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return fmt.Errorf("npm package name %q cannot start with '.' or '_'", name)
	}

	return nil
}

// ValidateVersionSpec rejects an empty range specifier before it reaches
// C1; anything non-empty is left to C1's own BadRange classification,
// since npm ranges legitimately contain spaces ("1.0.0 - 2.0.0", "^1 ^2").
func ValidateVersionSpec(spec string) error {
	if spec == "" {
		return fmt.Errorf("version specifier cannot be empty")
	}

	return nil
}

// ValidateScriptName rejects script names that could escape the scripts
// table into the filesystem.
func ValidateScriptName(name string) error {
	if name == "" {
		return fmt.Errorf("script name cannot be empty")
	}

	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("script name %q cannot contain path separators or '..'", name)
	}

	return nil
}

// ValidateDiskSpace rejects an install whose declared size estimate is
// implausibly large, mirroring the placeholder threshold check in the
// original implementation's validate_disk_space_available (a real
// filesystem free-space probe was never implemented there either — it
// guarded only against pathological requests, which this preserves).
func ValidateDiskSpace(requiredMB uint64) error {
	const maxPlausibleMB = 10000

	if requiredMB > maxPlausibleMB {
		return fmt.Errorf("operation requires %d MB of disk space; exceeds the %d MB sanity threshold", requiredMB, maxPlausibleMB)
	}

	return nil
}

// ValidateEcosystem reports whether eco is a supported ecosystem tag.
func ValidateEcosystem(eco string) error {
	switch eco {
	case "javascript", "npm", "python", "pypi":
		return nil
	default:
		return fmt.Errorf("unknown ecosystem %q: supported ecosystems are javascript, python", eco)
	}
}
