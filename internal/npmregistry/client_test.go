package npmregistry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, resp packageResponse) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestGetPackageInfoNormalizesAndCaches(t *testing.T) {
	srv := newTestServer(t, packageResponse{
		ID:       "left-pad",
		DistTags: map[string]string{"latest": "1.3.0"},
		Versions: map[string]versionInfo{
			"1.3.0": {
				Version:      "1.3.0",
				Dependencies: rawDependencies{"shim": "^1.0.0"},
				Dist:         distInfo{Tarball: "https://registry.npmjs.org/left-pad/-/left-pad-1.3.0.tgz", Shasum: "abc123"},
			},
		},
	})
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))

	meta, err := c.GetPackageInfo(context.Background(), "left-pad")
	if err != nil {
		t.Fatalf("GetPackageInfo: %v", err)
	}

	if meta.LatestVersion != "1.3.0" {
		t.Fatalf("LatestVersion = %q", meta.LatestVersion)
	}

	v := meta.Versions["1.3.0"]
	if v.Integrity != "sha1-abc123" {
		t.Fatalf("Integrity = %q", v.Integrity)
	}

	if v.Dependencies["shim"] != "^1.0.0" {
		t.Fatalf("Dependencies = %v", v.Dependencies)
	}
}

func TestResolveVersionSelectsBest(t *testing.T) {
	srv := newTestServer(t, packageResponse{
		ID:       "pkg",
		DistTags: map[string]string{"latest": "2.0.0"},
		Versions: map[string]versionInfo{
			"1.0.0": {Version: "1.0.0"},
			"1.5.0": {Version: "1.5.0"},
			"2.0.0": {Version: "2.0.0"},
		},
	})
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))

	best, err := c.ResolveVersion(context.Background(), "pkg", "^1.0.0")
	if err != nil {
		t.Fatalf("ResolveVersion: %v", err)
	}

	if best != "1.5.0" {
		t.Fatalf("best = %q, want 1.5.0", best)
	}
}

func TestEscapeNameScoped(t *testing.T) {
	if got := escapeName("@scope/name"); got != "@scope%2fname" {
		t.Fatalf("escapeName = %q", got)
	}

	if got := escapeName("left-pad"); got != "left-pad" {
		t.Fatalf("escapeName unscoped = %q", got)
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
