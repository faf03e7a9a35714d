// Package pypiregistry implements the PyPI half of C2, generalizing the
// teacher's internal/pypi/client.go retry/option shape onto the shared
// internal/transport plumbing and internal/registry.Client contract.
package pypiregistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polypm-dev/polypm/internal/ecosystem"
	"github.com/polypm-dev/polypm/internal/platform"
	"github.com/polypm-dev/polypm/internal/pmerr"
	"github.com/polypm-dev/polypm/internal/registry"
	"github.com/polypm-dev/polypm/internal/resolver"
	"github.com/polypm-dev/polypm/internal/transport"
	"github.com/polypm-dev/polypm/internal/versioncalc"
)

const (
	DefaultBaseURL = "https://pypi.org/pypi"

	metadataTimeout    = 30 * time.Second
	fileTimeout        = 120 * time.Second
	defaultConcurrency = 8
)

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimSuffix(url, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHost configures the host interpreter that file selection matches
// wheels against (spec.md §4.2: "prefer a wheel matching the host platform;
// else any wheel; else the sdist"), and that requires_dist marker
// evaluation (PEP 508) runs against. Without it, pickFile falls back to a
// universal-wheel-or-first-match heuristic and every dependency's marker is
// accepted unconditionally, matching the behavior of a caller that never
// specifies a host.
func WithHost(host *platform.Host) Option {
	return func(c *Client) {
		if host == nil {
			return
		}

		c.hostTags = platform.HostTags(host.PythonVersion, host.PlatformTag)
		c.markerEnv = resolver.MarkerEnv{
			PythonVersion: dottedPythonVersion(host.PythonVersion),
			SysPlatform:   sysPlatformFor(host.PlatformTag),
			OsName:        osNameFor(host.PlatformTag),
		}
	}
}

// WithMarkerEnv overrides the PEP 508 marker environment directly, for
// callers that already know the target environment without running
// platform.DetectHost (e.g. tests, or a cross-environment resolve).
func WithMarkerEnv(env resolver.MarkerEnv) Option {
	return func(c *Client) {
		c.markerEnv = env
	}
}

// dottedPythonVersion turns sysconfig's concatenated "312" into "3.12" so
// pep440 comparisons in EvalMarker (e.g. python_version < "3.10") parse it.
func dottedPythonVersion(v string) string {
	if len(v) < 2 {
		return v
	}

	return v[:1] + "." + v[1:]
}

func sysPlatformFor(platformTag string) string {
	switch {
	case strings.HasPrefix(platformTag, "macosx"):
		return "darwin"
	case strings.HasPrefix(platformTag, "win"):
		return "win32"
	default:
		return "linux"
	}
}

func osNameFor(platformTag string) string {
	if strings.HasPrefix(platformTag, "win") {
		return "nt"
	}

	return "posix"
}

// Client talks to the PyPI JSON API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	fileHTTP    *http.Client
	breakers    *transport.BreakerGroup
	concurrency int
	logger      *slog.Logger
	hostTags    []platform.Tag
	markerEnv   resolver.MarkerEnv

	memo memoCache
}

var _ registry.Client = (*Client)(nil)

func New(opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		httpClient:  transport.NewHTTPClient(metadataTimeout),
		fileHTTP:    transport.NewHTTPClient(fileTimeout),
		breakers:    transport.NewBreakerGroup(),
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
		memo:        newMemoCache(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) GetPackageInfo(ctx context.Context, name string) (*registry.PackageMetadata, error) {
	normalized := resolver.NormalizeName(name)

	if cached, ok := c.memo.get(normalized); ok {
		return cached, nil
	}

	url := fmt.Sprintf("%s/%s/json", c.baseURL, normalized)

	var resp packageInfo
	if err := transport.FetchJSON(ctx, c.httpClient, c.breakers, url, "python", name, userAgent(), &resp); err != nil {
		return nil, err
	}

	meta := c.normalize(&resp)

	c.memo.put(normalized, meta)

	return meta, nil
}

func (c *Client) normalize(resp *packageInfo) *registry.PackageMetadata {
	deps, devDeps := splitDependencies(resp.Info.RequiresDist, c.markerEnv)

	versions := make(map[string]registry.VersionInfo, len(resp.Releases))

	for num, files := range resp.Releases {
		vi := registry.VersionInfo{
			Version:        num,
			RequiresPython: resp.Info.RequiresPython,
		}

		if num == resp.Info.Version {
			vi.Dependencies = deps
			vi.OptionalDependencies = devDeps
		}

		for _, f := range files {
			if f.Yanked {
				vi.Yanked = true
				vi.YankedReason = f.YankedReason
			}
		}

		if best := c.pickFile(files); best != nil {
			vi.TarballURL = best.URL
			vi.Integrity = "sha256-" + best.Digests.SHA256
		}

		versions[num] = vi
	}

	if _, ok := versions[resp.Info.Version]; !ok && resp.Info.Version != "" {
		versions[resp.Info.Version] = registry.VersionInfo{
			Version:        resp.Info.Version,
			Dependencies:   deps,
			RequiresPython: resp.Info.RequiresPython,
		}
	}

	return &registry.PackageMetadata{
		Name:          resp.Info.Name,
		LatestVersion: resp.Info.Version,
		Versions:      versions,
	}
}

// splitDependencies separates a PEP 508 requires_dist list into required and
// extras/optional dependencies. A marker naming "extra" gates an optional
// feature and is never evaluated here — extras activation belongs to the
// installer, not the resolver's default dependency set. Any other marker
// (python_version, sys_platform, os_name) is evaluated against env; a
// dependency whose marker doesn't match the target environment is dropped
// entirely rather than resolved and then ignored. With a zero-value env
// (no host configured) every non-extras marker is accepted, preserving the
// behavior of a caller that never specifies a host.
func splitDependencies(requiresDist []string, env resolver.MarkerEnv) (required, optional map[string]string) {
	required = map[string]string{}
	optional = map[string]string{}

	for _, raw := range requiresDist {
		req := resolver.ParseRequirement(raw)
		if req.Name == "" {
			continue
		}

		if strings.Contains(req.Marker, "extra") {
			optional[req.Name] = req.Specifier

			continue
		}

		if env.PythonVersion != "" && !resolver.EvalMarker(req.Marker, env) {
			continue
		}

		required[req.Name] = req.Specifier
	}

	return required, optional
}

// pickFile prefers a wheel matching the configured host platform (see
// WithHost), then any wheel, then the sdist, per spec.md §4.2.
func (c *Client) pickFile(files []releaseFile) *releaseFile {
	if len(c.hostTags) > 0 {
		if best := selectHostWheel(files, c.hostTags); best != nil {
			return best
		}
	}

	return pickAnyFile(files)
}

// selectHostWheel narrows files to those compatible with hostTags via
// internal/platform's PEP 425 tag matching, returning nil rather than an
// sdist so the caller can fall back to pickAnyFile.
func selectHostWheel(files []releaseFile, hostTags []platform.Tag) *releaseFile {
	platFiles := make([]platform.File, 0, len(files))
	byFilename := make(map[string]*releaseFile, len(files))

	for i := range files {
		f := &files[i]
		if f.Yanked || f.PackageType != "bdist_wheel" {
			continue
		}

		platFiles = append(platFiles, platform.File{Filename: f.Filename, URL: f.URL, PackageType: f.PackageType})
		byFilename[f.Filename] = f
	}

	picked, err := platform.SelectWheel(platFiles, hostTags)
	if err != nil {
		return nil
	}

	return byFilename[picked.Filename]
}

// pickAnyFile prefers a universal wheel, then any wheel, then the sdist,
// used when no host platform is configured (WithHost was not given).
func pickAnyFile(files []releaseFile) *releaseFile {
	var wheel, sdist *releaseFile

	for i := range files {
		f := &files[i]
		if f.Yanked {
			continue
		}

		if f.PackageType == "bdist_wheel" {
			if strings.Contains(f.Filename, "-none-any.whl") {
				return f
			}

			if wheel == nil {
				wheel = f
			}
		}

		if f.PackageType == "sdist" && sdist == nil {
			sdist = f
		}
	}

	if wheel != nil {
		return wheel
	}

	return sdist
}

// GetVersionInfo returns version's own dependency set. PyPI's general
// package document only carries correct requires_dist for resp.Info.Version
// (the current release); every other entry in the releases map keeps
// whatever normalize left it with. For any version that isn't the current
// release, this fetches that version's own JSON document and parses its
// requires_dist directly, mirroring the teacher's GetPackageVersion
// two-step lookup in internal/pypi/client.go.
func (c *Client) GetVersionInfo(ctx context.Context, name, version string) (*registry.VersionInfo, error) {
	meta, err := c.GetPackageInfo(ctx, name)
	if err != nil {
		return nil, err
	}

	vi, ok := meta.Versions[version]
	if !ok {
		return nil, pmerr.New(pmerr.NotFound, "python", name,
			fmt.Errorf("version %s not found", version)).WithRegistry(c.baseURL)
	}

	if version == meta.LatestVersion {
		return &vi, nil
	}

	normalized := resolver.NormalizeName(name)

	if cached, ok := c.memo.getVersion(normalized, version); ok {
		return cached, nil
	}

	url := fmt.Sprintf("%s/%s/%s/json", c.baseURL, normalized, version)

	var resp packageInfo
	if err := transport.FetchJSON(ctx, c.httpClient, c.breakers, url, "python", name, userAgent(), &resp); err != nil {
		return nil, err
	}

	deps, optional := splitDependencies(resp.Info.RequiresDist, c.markerEnv)
	vi.Dependencies = deps
	vi.OptionalDependencies = optional

	c.memo.putVersion(normalized, version, &vi)

	return &vi, nil
}

func (c *Client) GetLatestVersion(ctx context.Context, name string) (string, error) {
	meta, err := c.GetPackageInfo(ctx, name)
	if err != nil {
		return "", err
	}

	if meta.LatestVersion == "" {
		return "", pmerr.New(pmerr.NoMatch, "python", name, fmt.Errorf("no current release")).WithRegistry(c.baseURL)
	}

	return meta.LatestVersion, nil
}

func (c *Client) ResolveVersion(ctx context.Context, name, rangeSpec string) (string, error) {
	meta, err := c.GetPackageInfo(ctx, name)
	if err != nil {
		return "", err
	}

	versions := make([]string, 0, len(meta.Versions))
	for v := range meta.Versions {
		versions = append(versions, v)
	}

	best, err := versioncalc.SelectBest(ecosystem.Python, versions, rangeSpec)
	if err != nil {
		return "", err
	}

	if best == "" {
		return "", pmerr.New(pmerr.NoMatch, "python", name,
			fmt.Errorf("no version satisfies %q", rangeSpec)).WithRegistry(c.baseURL)
	}

	return best, nil
}

func (c *Client) DownloadPackage(ctx context.Context, name, version string) (*registry.Artifact, error) {
	meta, err := c.GetPackageInfo(ctx, name)
	if err != nil {
		return nil, err
	}

	v, ok := meta.Versions[version]
	if !ok || v.TarballURL == "" {
		return nil, pmerr.New(pmerr.NotFound, "python", name,
			fmt.Errorf("no downloadable file for version %s", version)).WithRegistry(c.baseURL)
	}

	body, err := transport.FetchBytes(ctx, c.fileHTTP, c.breakers, v.TarballURL, "python", name, userAgent())
	if err != nil {
		return nil, err
	}

	return &registry.Artifact{
		Name:     name,
		Version:  version,
		Filename: filenameFromURL(v.TarballURL),
		Bytes:    body,
	}, nil
}

func (c *Client) DownloadPackageWithVerification(ctx context.Context, name, version string) (*registry.Artifact, error) {
	meta, err := c.GetPackageInfo(ctx, name)
	if err != nil {
		return nil, err
	}

	v, ok := meta.Versions[version]
	if !ok {
		return nil, pmerr.New(pmerr.NotFound, "python", name,
			fmt.Errorf("version %s not found", version)).WithRegistry(c.baseURL)
	}

	art, err := c.DownloadPackage(ctx, name, version)
	if err != nil {
		return nil, err
	}

	if err := verifySHA256(art.Bytes, strings.TrimPrefix(v.Integrity, "sha256-")); err != nil {
		return nil, pmerr.New(pmerr.IntegrityMismatch, "python", name, err).WithRegistry(v.TarballURL)
	}

	art.Digest = v.Integrity

	return art, nil
}

func verifySHA256(body []byte, want string) error {
	if want == "" {
		return fmt.Errorf("no sha256 digest published")
	}

	sum := sha256.Sum256(body)

	got := hex.EncodeToString(sum[:])
	if got != want {
		return fmt.Errorf("sha256 mismatch: want %s got %s", want, got)
	}

	return nil
}

func (c *Client) PackageExists(ctx context.Context, name string) (bool, error) {
	_, err := c.GetPackageInfo(ctx, name)
	if err == nil {
		return true, nil
	}

	if pmerr.As(err, pmerr.NotFound) {
		return false, nil
	}

	return false, err
}

func (c *Client) GetMultiplePackageInfos(ctx context.Context, names []string) ([]*registry.PackageMetadata, error) {
	results := make([]*registry.PackageMetadata, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, name := range names {
		g.Go(func() error {
			meta, err := c.GetPackageInfo(gctx, name)
			if err != nil {
				return err
			}

			results[i] = meta

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (c *Client) GetRegistryStatus(ctx context.Context) registry.Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return registry.Status{Reachable: false, Detail: err.Error()}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return registry.Status{Reachable: false, Detail: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	return registry.Status{Reachable: resp.StatusCode < 500, Detail: fmt.Sprintf("status %d", resp.StatusCode)}
}

func filenameFromURL(u string) string {
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}

	return u
}

func userAgent() string {
	return "polypm/0.1 (+https://github.com/polypm-dev/polypm)"
}
