package resolver_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/polypm-dev/polypm/internal/ecosystem"
	"github.com/polypm-dev/polypm/internal/pmerr"
	"github.com/polypm-dev/polypm/internal/registry"
	"github.com/polypm-dev/polypm/internal/resolver"
)

// fakeClient implements registry.Client in-memory for resolver tests.
type fakeClient struct {
	packages map[string]*registry.PackageMetadata
}

func (f *fakeClient) GetPackageInfo(_ context.Context, name string) (*registry.PackageMetadata, error) {
	meta, ok := f.packages[name]
	if !ok {
		return nil, pmerr.New(pmerr.NotFound, "python", name, fmt.Errorf("not found"))
	}

	return meta, nil
}

func (f *fakeClient) GetLatestVersion(ctx context.Context, name string) (string, error) {
	meta, err := f.GetPackageInfo(ctx, name)
	if err != nil {
		return "", err
	}

	return meta.LatestVersion, nil
}

func (f *fakeClient) ResolveVersion(ctx context.Context, name, rangeSpec string) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeClient) DownloadPackage(ctx context.Context, name, version string) (*registry.Artifact, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeClient) GetVersionInfo(ctx context.Context, name, version string) (*registry.VersionInfo, error) {
	meta, err := f.GetPackageInfo(ctx, name)
	if err != nil {
		return nil, err
	}

	vi, ok := meta.Versions[version]
	if !ok {
		return nil, pmerr.New(pmerr.NotFound, "python", name, fmt.Errorf("version %s not found", version))
	}

	return &vi, nil
}

func (f *fakeClient) DownloadPackageWithVerification(ctx context.Context, name, version string) (*registry.Artifact, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeClient) PackageExists(ctx context.Context, name string) (bool, error) {
	_, err := f.GetPackageInfo(ctx, name)
	return err == nil, nil
}

func (f *fakeClient) GetMultiplePackageInfos(ctx context.Context, names []string) ([]*registry.PackageMetadata, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeClient) GetRegistryStatus(ctx context.Context) registry.Status {
	return registry.Status{Reachable: true}
}

func pkg(name, latest string, versions ...string) *registry.PackageMetadata {
	vs := make(map[string]registry.VersionInfo, len(versions))
	for _, v := range versions {
		vs[v] = registry.VersionInfo{Version: v}
	}

	return &registry.PackageMetadata{Name: name, LatestVersion: latest, Versions: vs}
}

func withDeps(meta *registry.PackageMetadata, version string, deps map[string]string) *registry.PackageMetadata {
	vi := meta.Versions[version]
	vi.Dependencies = deps
	meta.Versions[version] = vi

	return meta
}

func newService(packages map[string]*registry.PackageMetadata, opts ...resolver.Option) *resolver.Service {
	client := &fakeClient{packages: packages}

	clients := map[ecosystem.Ecosystem]registry.Client{
		ecosystem.Python: client,
	}

	return resolver.New(clients, opts...)
}

func TestResolveSimplePackage(t *testing.T) {
	svc := newService(map[string]*registry.PackageMetadata{
		"six": pkg("six", "1.17.0", "1.16.0", "1.17.0"),
	})

	result, err := svc.Resolve(context.Background(), []resolver.Want{
		{Ecosystem: ecosystem.Python, Name: "six", Range: ">=1.0.0"},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result.Failed) != 0 {
		t.Fatalf("unexpected failures: %+v", result.Failed)
	}

	if len(result.Resolved) != 1 || result.Resolved[0].Version != "1.17.0" {
		t.Fatalf("got %+v", result.Resolved)
	}
}

func TestResolveWithVersionConstraint(t *testing.T) {
	svc := newService(map[string]*registry.PackageMetadata{
		"six": pkg("six", "1.17.0", "1.15.0", "1.16.0", "1.17.0"),
	})

	result, err := svc.Resolve(context.Background(), []resolver.Want{
		{Ecosystem: ecosystem.Python, Name: "six", Range: "<1.17.0"},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result.Resolved) != 1 || result.Resolved[0].Version != "1.16.0" {
		t.Fatalf("got %+v", result.Resolved)
	}
}

func TestResolveWithTransitiveDependencies(t *testing.T) {
	flask := withDeps(pkg("flask", "3.0.0", "3.0.0"), "3.0.0", map[string]string{
		"werkzeug": ">=3.0.0",
	})

	svc := newService(map[string]*registry.PackageMetadata{
		"flask":    flask,
		"werkzeug": pkg("werkzeug", "3.0.1", "3.0.0", "3.0.1"),
	})

	result, err := svc.Resolve(context.Background(), []resolver.Want{
		{Ecosystem: ecosystem.Python, Name: "flask"},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	versions := map[string]string{}
	for _, r := range result.Resolved {
		versions[r.Key.Name] = r.Version
	}

	if versions["flask"] != "3.0.0" || versions["werkzeug"] != "3.0.1" {
		t.Fatalf("got %+v", versions)
	}
}

func TestResolveCircularDepsTerminates(t *testing.T) {
	a := withDeps(pkg("a", "1.0.0", "1.0.0"), "1.0.0", map[string]string{"b": ">=1.0.0"})
	b := withDeps(pkg("b", "1.0.0", "1.0.0"), "1.0.0", map[string]string{"a": ">=1.0.0"})

	svc := newService(map[string]*registry.PackageMetadata{"a": a, "b": b})

	result, err := svc.Resolve(context.Background(), []resolver.Want{
		{Ecosystem: ecosystem.Python, Name: "a"},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result.Resolved) != 2 {
		t.Fatalf("expected 2 resolved packages, got %+v", result.Resolved)
	}
}

func TestResolveVersionConflictReportedAsFailure(t *testing.T) {
	a := withDeps(pkg("a", "1.0.0", "1.0.0"), "1.0.0", map[string]string{"shared": ">=2.0.0"})
	b := withDeps(pkg("b", "1.0.0", "1.0.0"), "1.0.0", map[string]string{"shared": "<2.0.0"})

	svc := newService(map[string]*registry.PackageMetadata{
		"a":      a,
		"b":      b,
		"shared": pkg("shared", "2.1.0", "1.0.0", "1.9.0", "2.0.0", "2.1.0"),
	})

	result, err := svc.Resolve(context.Background(), []resolver.Want{
		{Ecosystem: ecosystem.Python, Name: "a"},
		{Ecosystem: ecosystem.Python, Name: "b"},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result.Failed) == 0 {
		t.Fatal("expected a recorded conflict failure")
	}
}

func TestResolvePackageNotFoundReportedAsFailure(t *testing.T) {
	svc := newService(map[string]*registry.PackageMetadata{})

	result, err := svc.Resolve(context.Background(), []resolver.Want{
		{Ecosystem: ecosystem.Python, Name: "nonexistent"},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result.Failed) != 1 || result.Failed[0].Kind != pmerr.NotFound {
		t.Fatalf("got %+v", result.Failed)
	}
}

func TestResolveNoCompatibleVersionReportedAsFailure(t *testing.T) {
	svc := newService(map[string]*registry.PackageMetadata{
		"pkg": pkg("pkg", "1.0.0", "1.0.0"),
	})

	result, err := svc.Resolve(context.Background(), []resolver.Want{
		{Ecosystem: ecosystem.Python, Name: "pkg", Range: ">=5.0.0"},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result.Failed) != 1 || result.Failed[0].Kind != pmerr.NoMatch {
		t.Fatalf("got %+v", result.Failed)
	}
}

func TestResolveMultipleRoots(t *testing.T) {
	svc := newService(map[string]*registry.PackageMetadata{
		"requests": pkg("requests", "2.31.0", "2.31.0"),
		"six":      pkg("six", "1.17.0", "1.17.0"),
	})

	result, err := svc.Resolve(context.Background(), []resolver.Want{
		{Ecosystem: ecosystem.Python, Name: "requests"},
		{Ecosystem: ecosystem.Python, Name: "six"},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result.Resolved) != 2 {
		t.Fatalf("expected 2 packages, got %+v", result.Resolved)
	}
}

func TestResolveMalformedNameFailsFastWithoutRegistryLookup(t *testing.T) {
	svc := newService(map[string]*registry.PackageMetadata{})

	result, err := svc.Resolve(context.Background(), []resolver.Want{
		{Ecosystem: ecosystem.Python, Name: "bad name", Range: ">=1.0.0"},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result.Failed) != 1 || result.Failed[0].Kind != pmerr.BadRange {
		t.Fatalf("got %+v", result.Failed)
	}
}

func TestResolveConflictMessageNamesBothRanges(t *testing.T) {
	a := withDeps(pkg("a", "1.0.0", "1.0.0"), "1.0.0", map[string]string{"shared": ">=2.0.0"})
	b := withDeps(pkg("b", "1.0.0", "1.0.0"), "1.0.0", map[string]string{"shared": "<2.0.0"})

	svc := newService(map[string]*registry.PackageMetadata{
		"a":      a,
		"b":      b,
		"shared": pkg("shared", "2.1.0", "1.0.0", "1.9.0", "2.0.0", "2.1.0"),
	})

	result, err := svc.Resolve(context.Background(), []resolver.Want{
		{Ecosystem: ecosystem.Python, Name: "a"},
		{Ecosystem: ecosystem.Python, Name: "b"},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	var conflict *resolver.Failure
	for i := range result.Failed {
		if result.Failed[i].Kind == pmerr.ConstraintConflict {
			conflict = &result.Failed[i]
		}
	}

	if conflict == nil {
		t.Fatal("expected a recorded conflict failure")
	}

	if !strings.Contains(conflict.Message, ">=2.0.0") || !strings.Contains(conflict.Message, "<2.0.0") {
		t.Fatalf("expected both conflicting ranges in message, got %q", conflict.Message)
	}
}

func TestResolveDepthLimit(t *testing.T) {
	svc := newService(map[string]*registry.PackageMetadata{
		"pkg": pkg("pkg", "1.0.0", "1.0.0"),
	}, resolver.WithDepthLimit(1))

	result, err := svc.Resolve(context.Background(), []resolver.Want{
		{Ecosystem: ecosystem.Python, Name: "pkg"},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result.Resolved) != 1 {
		t.Fatalf("got %+v", result.Resolved)
	}
}
