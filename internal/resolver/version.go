package resolver

// FormatPythonVersion converts a compact version tag like "312" to the
// dotted form "3.12" used by PEP 508 markers such as python_version (PEP 425
// compatibility tags keep the compact form, e.g. "cp312").
func FormatPythonVersion(v string) string {
	if len(v) >= 2 {
		return v[:1] + "." + v[1:]
	}

	return v
}
