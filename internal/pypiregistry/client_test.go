package pypiregistry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/polypm-dev/polypm/internal/platform"
	"github.com/polypm-dev/polypm/internal/resolver"
)

func newTestServer(t *testing.T, resp packageInfo) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestGetPackageInfoSplitsExtras(t *testing.T) {
	srv := newTestServer(t, packageInfo{
		Info: info{
			Name:    "requests",
			Version: "2.31.0",
			RequiresDist: []string{
				"urllib3 (>=1.21.1,<3)",
				"chardet (>=3.0.2,<6) ; extra == \"socks\"",
			},
		},
		Releases: map[string][]releaseFile{
			"2.31.0": {
				{Filename: "requests-2.31.0-py3-none-any.whl", URL: "https://files.pythonhosted.org/requests-2.31.0-py3-none-any.whl", PackageType: "bdist_wheel", Digests: digests{SHA256: "deadbeef"}},
			},
		},
	})
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))

	meta, err := c.GetPackageInfo(context.Background(), "requests")
	if err != nil {
		t.Fatalf("GetPackageInfo: %v", err)
	}

	v := meta.Versions["2.31.0"]

	if _, ok := v.Dependencies["urllib3"]; !ok {
		t.Fatalf("expected urllib3 in required deps, got %v", v.Dependencies)
	}

	if _, ok := v.OptionalDependencies["chardet"]; !ok {
		t.Fatalf("expected chardet in optional deps, got %v", v.OptionalDependencies)
	}

	if v.Integrity != "sha256-deadbeef" {
		t.Fatalf("Integrity = %q", v.Integrity)
	}
}

func TestGetVersionInfoFetchesNonLatestVersionOwnDependencies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/flask/json":
			_ = json.NewEncoder(w).Encode(packageInfo{
				Info: info{
					Name:         "flask",
					Version:      "3.0.1",
					RequiresDist: []string{"werkzeug (>=3.0.0)"},
				},
				Releases: map[string][]releaseFile{
					"3.0.1": {{Filename: "flask-3.0.1-py3-none-any.whl", URL: "https://files.pythonhosted.org/flask-3.0.1-py3-none-any.whl", PackageType: "bdist_wheel"}},
					"2.3.0": {{Filename: "flask-2.3.0-py3-none-any.whl", URL: "https://files.pythonhosted.org/flask-2.3.0-py3-none-any.whl", PackageType: "bdist_wheel"}},
				},
			})
		case "/flask/2.3.0/json":
			_ = json.NewEncoder(w).Encode(packageInfo{
				Info: info{
					Name:         "flask",
					Version:      "2.3.0",
					RequiresDist: []string{"werkzeug (<3.0.0)"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))

	meta, err := c.GetPackageInfo(context.Background(), "flask")
	if err != nil {
		t.Fatalf("GetPackageInfo: %v", err)
	}

	if deps := meta.Versions["2.3.0"].Dependencies; len(deps) != 0 {
		t.Fatalf("expected the general response to leave 2.3.0 deps empty, got %v", deps)
	}

	vi, err := c.GetVersionInfo(context.Background(), "flask", "2.3.0")
	if err != nil {
		t.Fatalf("GetVersionInfo: %v", err)
	}

	if vi.Dependencies["werkzeug"] != "<3.0.0" {
		t.Fatalf("expected 2.3.0's own requires_dist, got %v", vi.Dependencies)
	}

	latest, err := c.GetVersionInfo(context.Background(), "flask", "3.0.1")
	if err != nil {
		t.Fatalf("GetVersionInfo: %v", err)
	}

	if latest.Dependencies["werkzeug"] != ">=3.0.0" {
		t.Fatalf("expected latest's already-parsed deps, got %v", latest.Dependencies)
	}
}

func TestGetPackageInfoPrefersHostMatchingWheel(t *testing.T) {
	srv := newTestServer(t, packageInfo{
		Info: info{Name: "numpy", Version: "1.26.0"},
		Releases: map[string][]releaseFile{
			"1.26.0": {
				{Filename: "numpy-1.26.0-cp311-cp311-manylinux_2_17_x86_64.whl", URL: "https://files.pythonhosted.org/numpy-cp311-linux.whl", PackageType: "bdist_wheel", Digests: digests{SHA256: "linux"}},
				{Filename: "numpy-1.26.0-cp311-cp311-macosx_14_0_arm64.whl", URL: "https://files.pythonhosted.org/numpy-cp311-macos.whl", PackageType: "bdist_wheel", Digests: digests{SHA256: "macos"}},
				{Filename: "numpy-1.26.0.tar.gz", URL: "https://files.pythonhosted.org/numpy-1.26.0.tar.gz", PackageType: "sdist", Digests: digests{SHA256: "sdist"}},
			},
		},
	})
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithHost(&platform.Host{PlatformTag: "macosx_14_0_arm64", PythonVersion: "311"}))

	meta, err := c.GetPackageInfo(context.Background(), "numpy")
	if err != nil {
		t.Fatalf("GetPackageInfo: %v", err)
	}

	v := meta.Versions["1.26.0"]
	if v.Integrity != "sha256-macos" {
		t.Fatalf("expected the macOS wheel to be selected, got %q", v.Integrity)
	}
}

func TestGetPackageInfoFallsBackToAnyWheelWithoutHostMatch(t *testing.T) {
	srv := newTestServer(t, packageInfo{
		Info: info{Name: "numpy", Version: "1.26.0"},
		Releases: map[string][]releaseFile{
			"1.26.0": {
				{Filename: "numpy-1.26.0-cp311-cp311-manylinux_2_17_x86_64.whl", URL: "https://files.pythonhosted.org/numpy-cp311-linux.whl", PackageType: "bdist_wheel", Digests: digests{SHA256: "linux"}},
				{Filename: "numpy-1.26.0.tar.gz", URL: "https://files.pythonhosted.org/numpy-1.26.0.tar.gz", PackageType: "sdist", Digests: digests{SHA256: "sdist"}},
			},
		},
	})
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithHost(&platform.Host{PlatformTag: "macosx_14_0_arm64", PythonVersion: "311"}))

	meta, err := c.GetPackageInfo(context.Background(), "numpy")
	if err != nil {
		t.Fatalf("GetPackageInfo: %v", err)
	}

	v := meta.Versions["1.26.0"]
	if v.Integrity != "sha256-linux" {
		t.Fatalf("expected fallback to the non-host wheel before the sdist, got %q", v.Integrity)
	}
}

func TestGetPackageInfoFiltersDependenciesByMarkerWhenHostConfigured(t *testing.T) {
	srv := newTestServer(t, packageInfo{
		Info: info{
			Name:    "importlib-metadata-user",
			Version: "1.0.0",
			RequiresDist: []string{
				"zipp (>=0.5)",
				"importlib-metadata (>=1.0) ; python_version < \"3.8\"",
			},
		},
		Releases: map[string][]releaseFile{
			"1.0.0": {{Filename: "importlib_metadata_user-1.0.0-py3-none-any.whl", PackageType: "bdist_wheel"}},
		},
	})
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithMarkerEnv(resolver.MarkerEnv{PythonVersion: "3.11", SysPlatform: "linux", OsName: "posix"}))

	meta, err := c.GetPackageInfo(context.Background(), "importlib-metadata-user")
	if err != nil {
		t.Fatalf("GetPackageInfo: %v", err)
	}

	v := meta.Versions["1.0.0"]

	if _, ok := v.Dependencies["zipp"]; !ok {
		t.Fatalf("expected unconditional dependency zipp, got %v", v.Dependencies)
	}

	if _, ok := v.Dependencies["importlib-metadata"]; ok {
		t.Fatalf("expected python_version<3.8 marker to exclude importlib-metadata on 3.11, got %v", v.Dependencies)
	}
}

func TestPackageExistsFalseOnNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))

	ok, err := c.PackageExists(context.Background(), "nope")
	if err != nil {
		t.Fatalf("PackageExists err: %v", err)
	}

	if ok {
		t.Fatalf("expected false")
	}
}
