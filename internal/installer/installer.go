// Package installer orchestrates a full install cycle (C5): it asks the
// resolver for a resolution, then fetches and publishes every resolved
// package into the store with bounded concurrency, producing a report the
// external CLI renders. Adapted from the teacher's site-packages wheel
// installer into a store-publishing orchestrator — the project-linking
// concerns the teacher's version handled (console scripts, RECORD files,
// .data directory routing) belong to the external project-linker this
// engine hands resolved store paths to, not to the core itself.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polypm-dev/polypm/internal/ecosystem"
	"github.com/polypm-dev/polypm/internal/pmerr"
	"github.com/polypm-dev/polypm/internal/project"
	"github.com/polypm-dev/polypm/internal/registry"
	"github.com/polypm-dev/polypm/internal/resolver"
	"github.com/polypm-dev/polypm/internal/store"
)

// reservationPollInitialDelay, reservationPollMaxDelay, and
// reservationPollBudget implement spec.md §4.3's concurrent-install
// contention policy: the loser of a Reserve race polls Contains with
// exponential backoff from 10ms up to a 1s cap, giving up after 30s.
const (
	reservationPollInitialDelay = 10 * time.Millisecond
	reservationPollMaxDelay     = 1 * time.Second
	reservationPollBudget       = 30 * time.Second
)

// estimatedMBPerPackage is a rough per-package budget used for the
// preflight sanity check; it does not attempt to predict real artifact
// sizes, only to catch pathologically large requests early.
const estimatedMBPerPackage = 50

// Config controls one install cycle, per spec.md §4.5.
type Config struct {
	IncludeDev       bool
	SkipVerification bool
	ForceUpdate      bool
	MaxConcurrent    int
	DownloadTimeout  time.Duration
	SkipPreflight    bool // bypasses the disk-space sanity check
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   4,
		DownloadTimeout: 120 * time.Second,
	}
}

// Outcome is one resolved package's install result.
type Outcome struct {
	Key           ecosystem.Key
	Version       string
	PURL          string
	Cached        bool
	BytesFetched  int64
	Err           error
}

// Report is the final summary of one install cycle.
type Report struct {
	Installed      []Outcome
	CacheHits      []Outcome
	Failed         []Outcome
	BytesDownloaded int64
	ElapsedMs      int64
	Status         string // "success" or "partial"
}

// Progress is a snapshot of one in-flight download.
type Progress struct {
	Key              ecosystem.Key
	BytesDownloaded  int64
	BytesTotalKnown  bool
	BytesTotal       int64
}

// CacheStats summarizes store activity across the process's lifetime.
type CacheStats struct {
	TotalEntries   int64
	TotalSizeBytes int64
	Hits           int64
	Misses         int64
}

// HitRatio returns Hits / (Hits + Misses), or 0 when nothing has happened yet.
func (c CacheStats) HitRatio() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}

	return float64(c.Hits) / float64(total)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service is the C5 installer.
type Service struct {
	resolver *resolver.Service
	clients  map[ecosystem.Ecosystem]registry.Client
	store    *store.Store
	logger   *slog.Logger

	mu       sync.Mutex
	progress map[ecosystem.Key]*Progress
	stats    CacheStats
}

// New creates an installer wired to a resolver, registry clients, and store.
func New(res *resolver.Service, clients map[ecosystem.Ecosystem]registry.Client, st *store.Store, opts ...Option) *Service {
	s := &Service{
		resolver: res,
		clients:  clients,
		store:    st,
		logger:   slog.Default(),
		progress: make(map[ecosystem.Key]*Progress),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Install runs one full cycle: resolve wants, then fetch/publish every
// resolved package with up to cfg.MaxConcurrent workers in flight.
func (s *Service) Install(ctx context.Context, wants []resolver.Want, cfg Config) (*Report, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}

	start := time.Now()

	if !cfg.SkipPreflight {
		if err := project.ValidateDiskSpace(uint64(len(wants)) * estimatedMBPerPackage); err != nil {
			return nil, pmerr.New(pmerr.StoreIo, "", "", err)
		}
	}

	res, err := s.resolver.Resolve(ctx, wants)
	if err != nil {
		return nil, err
	}

	report := &Report{}

	for _, f := range res.Failed {
		if f.Optional {
			s.logger.Warn("optional dependency unresolved", slog.String("package", f.Key.Name), slog.String("kind", f.Kind.String()))
			continue
		}

		report.Failed = append(report.Failed, Outcome{Key: f.Key, Err: fmt.Errorf("%s: %s", f.Kind, f.Message)})
	}

	outcomes := make([]Outcome, len(res.Resolved))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrent)

	for i, r := range res.Resolved {
		g.Go(func() error {
			outcome := s.installOne(gctx, r, cfg)
			outcomes[i] = outcome

			return nil
		})
	}

	_ = g.Wait() // per-package failures are recorded in outcomes, never aborted

	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			report.Failed = append(report.Failed, o)
		case o.Cached:
			report.CacheHits = append(report.CacheHits, o)
		default:
			report.Installed = append(report.Installed, o)
		}

		report.BytesDownloaded += o.BytesFetched
	}

	report.ElapsedMs = time.Since(start).Milliseconds()

	if len(report.Failed) == 0 {
		report.Status = "success"
	} else {
		report.Status = "partial"
	}

	return report, nil
}

// installOne fetches and publishes a single resolved package, or records it
// as a cache hit if the store already holds it and cfg.ForceUpdate is false.
func (s *Service) installOne(ctx context.Context, r resolver.Resolved, cfg Config) Outcome {
	outcome := Outcome{Key: r.Key, Version: r.Version, PURL: r.PURL}

	if s.store.Contains(r.Key.Ecosystem, r.Key.Name, r.Version) && !cfg.ForceUpdate {
		outcome.Cached = true
		s.recordHit()

		return outcome
	}

	s.recordMiss()

	reservation, err := s.store.Reserve(r.Key.Ecosystem, r.Key.Name, r.Version)
	if errors.Is(err, store.ErrReserved) {
		if s.awaitPublish(ctx, r.Key.Ecosystem, r.Key.Name, r.Version) {
			outcome.Cached = true
			s.recordHit()

			return outcome
		}

		outcome.Err = pmerr.New(pmerr.StoreIo, r.Key.Ecosystem.String(), r.Key.Name,
			fmt.Errorf("timed out after %s waiting for a concurrent install of %s@%s to publish",
				reservationPollBudget, r.Key.Name, r.Version))

		return outcome
	}

	if err != nil {
		outcome.Err = err
		return outcome
	}

	if s.store.Contains(r.Key.Ecosystem, r.Key.Name, r.Version) && !cfg.ForceUpdate {
		_ = reservation.Release()
		outcome.Cached = true

		return outcome
	}

	client, ok := s.clients[r.Key.Ecosystem]
	if !ok {
		_ = reservation.Release()
		outcome.Err = pmerr.New(pmerr.BadMetadata, r.Key.Ecosystem.String(), r.Key.Name,
			fmt.Errorf("no registry client configured for ecosystem"))

		return outcome
	}

	s.setProgress(r.Key, 0, false, 0)
	defer s.clearProgress(r.Key)

	var artifact *registry.Artifact

	if cfg.SkipVerification {
		artifact, err = client.DownloadPackage(ctx, r.Key.Name, r.Version)
	} else {
		artifact, err = client.DownloadPackageWithVerification(ctx, r.Key.Name, r.Version)
	}

	if err != nil {
		_ = reservation.Release()
		outcome.Err = err

		return outcome
	}

	s.setProgress(r.Key, int64(len(artifact.Bytes)), true, int64(len(artifact.Bytes)))

	if err := reservation.Publish(artifact.Bytes, artifact.Filename, artifact.Digest); err != nil {
		outcome.Err = err
		return outcome
	}

	outcome.BytesFetched = int64(len(artifact.Bytes))
	s.recordPublish(outcome.BytesFetched)

	return outcome
}

// awaitPublish polls the store's Contains for name@version after losing a
// Reserve race, per spec.md §4.3's "the other polls contains with
// exponential backoff (10ms -> 1s, cap 30s total) and then uses the
// published path." Returns false if ctx is cancelled or the budget expires
// before the holder publishes.
func (s *Service) awaitPublish(ctx context.Context, eco ecosystem.Ecosystem, name, version string) bool {
	delay := reservationPollInitialDelay
	deadline := time.Now().Add(reservationPollBudget)

	for {
		if s.store.Contains(eco, name, version) {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		delay *= 2
		if delay > reservationPollMaxDelay {
			delay = reservationPollMaxDelay
		}
	}
}

func (s *Service) setProgress(key ecosystem.Key, downloaded int64, known bool, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress[key] = &Progress{Key: key, BytesDownloaded: downloaded, BytesTotalKnown: known, BytesTotal: total}
}

func (s *Service) clearProgress(key ecosystem.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.progress, key)
}

// Snapshot returns the in-flight download progress at this instant.
func (s *Service) Snapshot() []Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Progress, 0, len(s.progress))
	for _, p := range s.progress {
		out = append(out, *p)
	}

	return out
}

func (s *Service) recordHit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Hits++
}

func (s *Service) recordMiss() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Misses++
}

func (s *Service) recordPublish(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalEntries++
	s.stats.TotalSizeBytes += bytes
}

// Stats returns the cache statistics accumulated so far this process.
func (s *Service) Stats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats
}
