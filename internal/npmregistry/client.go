// Package npmregistry implements the npm registry client half of C2,
// grounded on the teacher's internal/pypi/client.go for its option/retry
// shape and on _examples/git-pkgs-registries/internal/npm/npm.go for the
// registry.npmjs.org JSON schema.
package npmregistry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polypm-dev/polypm/internal/ecosystem"
	"github.com/polypm-dev/polypm/internal/pmerr"
	"github.com/polypm-dev/polypm/internal/registry"
	"github.com/polypm-dev/polypm/internal/transport"
	"github.com/polypm-dev/polypm/internal/versioncalc"
)

const (
	DefaultBaseURL = "https://registry.npmjs.org"

	metadataTimeout    = 30 * time.Second
	tarballTimeout      = 120 * time.Second
	defaultConcurrency = 8
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the registry base URL (for tests).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client used for metadata requests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithConcurrency bounds GetMultiplePackageInfos fan-out (default 8).
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client talks to the npm registry.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tarballHTTP *http.Client
	breakers    *transport.BreakerGroup
	concurrency int
	logger      *slog.Logger

	mu    sync.Mutex
	cache map[string]*registry.PackageMetadata
}

var (
	_ registry.Client    = (*Client)(nil)
	_ registry.Searcher  = (*Client)(nil)
)

// New creates an npm registry client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		httpClient:  transport.NewHTTPClient(metadataTimeout),
		tarballHTTP: transport.NewHTTPClient(tarballTimeout),
		breakers:    transport.NewBreakerGroup(),
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
		cache:       make(map[string]*registry.PackageMetadata),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// escapeName percent-encodes a scoped package name's "/" as the registry
// expects ("@scope/name" -> "@scope%2fname"); dots and unscoped names pass
// through unescaped (spec.md §4.2: "dots in names are legal and must not be
// percent-encoded").
func escapeName(name string) string {
	if strings.HasPrefix(name, "@") {
		return strings.Replace(name, "/", "%2f", 1)
	}

	return name
}

func (c *Client) GetPackageInfo(ctx context.Context, name string) (*registry.PackageMetadata, error) {
	c.mu.Lock()
	if cached, ok := c.cache[name]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/%s", c.baseURL, escapeName(name))

	var resp packageResponse
	if err := transport.FetchJSON(ctx, c.httpClient, c.breakers, url, "javascript", name, userAgent(), &resp); err != nil {
		return nil, err
	}

	meta := normalize(&resp)

	c.mu.Lock()
	c.cache[name] = meta
	c.mu.Unlock()

	return meta, nil
}

func normalize(resp *packageResponse) *registry.PackageMetadata {
	versions := make(map[string]registry.VersionInfo, len(resp.Versions))

	for num, v := range resp.Versions {
		integrity := v.Dist.Integrity
		if integrity == "" && v.Dist.Shasum != "" {
			integrity = "sha1-" + v.Dist.Shasum
		}

		versions[num] = registry.VersionInfo{
			Version:               num,
			Dependencies:          map[string]string(v.Dependencies),
			DevDependencies:       map[string]string(v.DevDeps),
			OptionalDependencies:  map[string]string(v.OptionalDeps),
			TarballURL:            v.Dist.Tarball,
			Integrity:             integrity,
			Yanked:                v.Deprecated != "",
			YankedReason:          v.Deprecated,
		}
	}

	name := resp.ID
	if name == "" {
		name = resp.Name
	}

	return &registry.PackageMetadata{
		Name:          name,
		DistTags:      resp.DistTags,
		LatestVersion: resp.DistTags["latest"],
		Versions:      versions,
	}
}

func (c *Client) GetLatestVersion(ctx context.Context, name string) (string, error) {
	meta, err := c.GetPackageInfo(ctx, name)
	if err != nil {
		return "", err
	}

	if meta.LatestVersion != "" {
		return meta.LatestVersion, nil
	}

	return "", pmerr.New(pmerr.NoMatch, "javascript", name, fmt.Errorf("no latest dist-tag")).WithRegistry(c.baseURL)
}

func (c *Client) ResolveVersion(ctx context.Context, name, rangeSpec string) (string, error) {
	meta, err := c.GetPackageInfo(ctx, name)
	if err != nil {
		return "", err
	}

	if rangeSpec == "latest" || rangeSpec == "" {
		if v, ok := meta.DistTags["latest"]; ok && v != "" {
			rangeSpec = "=" + v
		}
	}

	versions := make([]string, 0, len(meta.Versions))
	for v := range meta.Versions {
		versions = append(versions, v)
	}

	best, err := versioncalc.SelectBest(ecosystem.JavaScript, versions, rangeSpec)
	if err != nil {
		return "", err
	}

	if best == "" {
		return "", pmerr.New(pmerr.NoMatch, "javascript", name,
			fmt.Errorf("no version satisfies %q", rangeSpec)).WithRegistry(c.baseURL)
	}

	return best, nil
}

// GetVersionInfo returns name@version's dependency set. npm's package
// document already carries correct dependencies for every published
// version (unlike PyPI's requires_dist, which only the current release
// gets), so this is a plain lookup against the memoized metadata.
func (c *Client) GetVersionInfo(ctx context.Context, name, version string) (*registry.VersionInfo, error) {
	meta, err := c.GetPackageInfo(ctx, name)
	if err != nil {
		return nil, err
	}

	vi, ok := meta.Versions[version]
	if !ok {
		return nil, pmerr.New(pmerr.NotFound, "javascript", name,
			fmt.Errorf("version %s not found", version)).WithRegistry(c.baseURL)
	}

	return &vi, nil
}

func (c *Client) DownloadPackage(ctx context.Context, name, version string) (*registry.Artifact, error) {
	meta, err := c.GetPackageInfo(ctx, name)
	if err != nil {
		return nil, err
	}

	v, ok := meta.Versions[version]
	if !ok {
		return nil, pmerr.New(pmerr.NotFound, "javascript", name,
			fmt.Errorf("version %s not found", version)).WithRegistry(c.baseURL)
	}

	body, err := transport.FetchBytes(ctx, c.tarballHTTP, c.breakers, v.TarballURL, "javascript", name, userAgent())
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
		return nil, pmerr.New(pmerr.NotFound, "javascript", name,
			fmt.Errorf("version %s not found", version)).WithRegistry(c.baseURL)
	}

	art, err := c.DownloadPackage(ctx, name, version)
	if err != nil {
		return nil, err
	}

	if err := verifyIntegrity(art.Bytes, v.Integrity); err != nil {
		return nil, pmerr.New(pmerr.IntegrityMismatch, "javascript", name, err).WithRegistry(v.TarballURL)
	}

	art.Digest = v.Integrity

	return art, nil
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

// SearchPackages is npm-only (spec.md §4.2); it queries the public search
// endpoint on registry.npmjs.org.
func (c *Client) SearchPackages(ctx context.Context, query string, limit int) ([]string, error) {
	url := fmt.Sprintf("%s/-/v1/search?text=%s&size=%d", c.baseURL, query, limit)

	var resp struct {
		Objects []struct {
			Package struct {
				Name string `json:"name"`
			} `json:"package"`
		} `json:"objects"`
	}

	if err := transport.FetchJSON(ctx, c.httpClient, c.breakers, url, "javascript", query, userAgent(), &resp); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(resp.Objects))
	for _, o := range resp.Objects {
		names = append(names, o.Package.Name)
	}

	return names, nil
}

func verifyIntegrity(body []byte, integrity string) error {
	return verifyNpmIntegrity(body, integrity)
}

func filenameFromURL(tarballURL string) string {
	if i := strings.LastIndex(tarballURL, "/"); i >= 0 {
		return tarballURL[i+1:]
	}

	return tarballURL
}

func userAgent() string {
	return "polypm/0.1 (+https://github.com/polypm-dev/polypm)"
}
