// Package resolver implements the dependency resolution engine (C4): a
// breadth-first walk over both ecosystems' package graphs, deduplicated by
// (ecosystem, name), that collects every constraint conflict and lookup
// failure it meets instead of aborting on the first one. Generalized from
// the teacher's single-ecosystem, hard-abort internal/resolver/resolver.go.
package resolver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/polypm-dev/polypm/internal/ecosystem"
	"github.com/polypm-dev/polypm/internal/identity"
	"github.com/polypm-dev/polypm/internal/pmerr"
	"github.com/polypm-dev/polypm/internal/project"
	"github.com/polypm-dev/polypm/internal/registry"
	"github.com/polypm-dev/polypm/internal/versioncalc"
)

// DefaultDepthLimit bounds how deep the BFS walks before giving up on a
// branch, guarding against pathological or cyclic dependency graphs.
const DefaultDepthLimit = 50

// Want is a root dependency requirement handed to Resolve.
type Want struct {
	Ecosystem ecosystem.Ecosystem
	Name      string
	Range     string
	Dev       bool
}

// Resolved is one package the resolution settled on.
type Resolved struct {
	Key          ecosystem.Key
	Version      string
	Dependencies []ecosystem.Key
	PURL         string
}

// Failure records one package the resolver could not place, with enough
// context to report why.
type Failure struct {
	Key      ecosystem.Key
	Kind     pmerr.Kind
	Message  string
	Optional bool
}

// Metrics summarizes one Resolve call.
type Metrics struct {
	TotalProcessed  int
	MaxDepthReached int
}

// Result is the outcome of a resolution.
type Result struct {
	Resolved []Resolved
	Failed   []Failure
	Metrics  Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithDepthLimit overrides DefaultDepthLimit.
func WithDepthLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.depthLimit = n
		}
	}
}

// WithIncludeDev includes Dev-flagged wants and each root package's dev
// dependencies. Optional dependencies are enqueued whether or not it is set.
func WithIncludeDev(include bool) Option {
	return func(s *Service) {
		s.includeDev = include
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service resolves package dependency graphs for both ecosystems.
type Service struct {
	clients    map[ecosystem.Ecosystem]registry.Client
	depthLimit int
	includeDev bool
	logger     *slog.Logger
}

// New creates a resolver backed by one registry client per ecosystem.
func New(clients map[ecosystem.Ecosystem]registry.Client, opts ...Option) *Service {
	s := &Service{
		clients:    clients,
		depthLimit: DefaultDepthLimit,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

type queueItem struct {
	key      ecosystem.Key
	rangeSet string
	depth    int
	optional bool
}

// Resolve walks the dependency graph rooted at wants, returning every
// package it could place and every one it could not, rather than aborting
// on the first conflict.
func (s *Service) Resolve(ctx context.Context, wants []Want) (*Result, error) {
	var queue []queueItem

	for _, w := range wants {
		if w.Dev && !s.includeDev {
			continue
		}

		queue = append(queue, queueItem{
			key:      ecosystem.Key{Ecosystem: w.Ecosystem, Name: w.Name},
			rangeSet: w.Range,
			depth:    0,
		})
	}

	constraints := make(map[ecosystem.Key][]string)
	resolved := make(map[ecosystem.Key]*Resolved)
	visited := make(map[ecosystem.Key]bool)

	var failed []Failure

	metrics := Metrics{}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item := queue[0]
		queue = queue[1:]

		if item.depth > metrics.MaxDepthReached {
			metrics.MaxDepthReached = item.depth
		}

		if item.depth > s.depthLimit {
			failed = append(failed, Failure{Key: item.key, Kind: pmerr.ConstraintConflict,
				Message: "dependency depth limit exceeded", Optional: item.optional})

			continue
		}

		priorRanges := joinRanges(constraints[item.key])

		if item.rangeSet != "" {
			constraints[item.key] = append(constraints[item.key], item.rangeSet)
		}

		if existing, ok := resolved[item.key]; ok {
			ok, err := versioncalc.Satisfies(item.key.Ecosystem, existing.Version, item.rangeSet)
			if err == nil && !ok {
				failed = append(failed, Failure{Key: item.key, Kind: pmerr.ConstraintConflict,
					Message: "resolved version " + existing.Version + " (satisfying " + priorRanges +
						") does not satisfy new requirement " + item.rangeSet,
					Optional: item.optional})
			}

			continue
		}

		if visited[item.key] {
			continue
		}

		visited[item.key] = true
		metrics.TotalProcessed++

		r, depFailure, err := s.resolveOne(ctx, item, constraints[item.key])
		if err != nil {
			failed = append(failed, toFailure(item.key, err, item.optional))

			continue
		}

		if depFailure != nil {
			failed = append(failed, *depFailure)

			continue
		}

		resolved[item.key] = r

		queue = append(queue, s.childItems(item, r)...)
	}

	result := make([]Resolved, 0, len(resolved))
	for _, r := range resolved {
		result = append(result, *r)
	}

	return &Result{Resolved: result, Failed: failed, Metrics: metrics}, nil
}

// resolveOne fetches metadata, selects a version, and records the child
// dependency set for item.key. It does not mutate resolver state.
func (s *Service) resolveOne(ctx context.Context, item queueItem, ranges []string) (*Resolved, *Failure, error) {
	if err := project.ValidateName(item.key.Name, item.key.Ecosystem.String()); err != nil {
		return nil, &Failure{Key: item.key, Kind: pmerr.BadRange, Message: err.Error(), Optional: item.optional}, nil
	}

	client, ok := s.clients[item.key.Ecosystem]
	if !ok {
		return nil, nil, pmerr.New(pmerr.BadMetadata, item.key.Ecosystem.String(), item.key.Name,
			errors.New("no registry client configured for ecosystem"))
	}

	meta, err := client.GetPackageInfo(ctx, item.key.Name)
	if err != nil {
		return nil, nil, err
	}

	versions := make([]string, 0, len(meta.Versions))
	for v := range meta.Versions {
		versions = append(versions, v)
	}

	rangeSpec := joinRanges(ranges)

	best, err := versioncalc.SelectBest(item.key.Ecosystem, versions, rangeSpec)
	if err != nil {
		return nil, nil, err
	}

	if best == "" {
		return nil, &Failure{Key: item.key, Kind: pmerr.NoMatch,
			Message: "no version satisfies " + rangeSpec, Optional: item.optional}, nil
	}

	vi, err := client.GetVersionInfo(ctx, item.key.Name, best)
	if err != nil {
		return nil, nil, err
	}

	deps := make([]ecosystem.Key, 0, len(vi.Dependencies))
	for name := range vi.Dependencies {
		deps = append(deps, ecosystem.Key{Ecosystem: item.key.Ecosystem, Name: name})
	}

	return &Resolved{
		Key:          item.key,
		Version:      best,
		Dependencies: deps,
		PURL:         identity.PackageURL(item.key, best),
	}, nil, nil
}

// childItems builds the next BFS queue entries for r's dependency set,
// honoring includeDev for root-level (depth 0) wants only — dev
// dependencies are never inherited transitively.
func (s *Service) childItems(parent queueItem, r *Resolved) []queueItem {
	client := s.clients[parent.key.Ecosystem]

	vi, err := client.GetVersionInfo(context.Background(), parent.key.Name, r.Version)
	if err != nil {
		return nil
	}

	var items []queueItem

	for name, rng := range vi.Dependencies {
		items = append(items, queueItem{
			key:      ecosystem.Key{Ecosystem: parent.key.Ecosystem, Name: name},
			rangeSet: rng,
			depth:    parent.depth + 1,
		})
	}

	for name, rng := range vi.OptionalDependencies {
		items = append(items, queueItem{
			key:      ecosystem.Key{Ecosystem: parent.key.Ecosystem, Name: name},
			rangeSet: rng,
			depth:    parent.depth + 1,
			optional: true,
		})
	}

	if parent.depth == 0 && s.includeDev {
		for name, rng := range vi.DevDependencies {
			items = append(items, queueItem{
				key:      ecosystem.Key{Ecosystem: parent.key.Ecosystem, Name: name},
				rangeSet: rng,
				depth:    parent.depth + 1,
			})
		}
	}

	return items
}

// joinRanges combines accumulated constraints into one AND expression;
// both version dialects treat comma as conjunction (spec.md §9).
func joinRanges(ranges []string) string {
	if len(ranges) == 0 {
		return ""
	}

	out := ranges[0]

	for _, r := range ranges[1:] {
		if r == "" {
			continue
		}

		out += "," + r
	}

	return out
}

func toFailure(key ecosystem.Key, err error, optional bool) Failure {
	var pe *pmerr.Error
	if errors.As(err, &pe) {
		return Failure{Key: key, Kind: pe.Kind, Message: pe.Error(), Optional: optional}
	}

	return Failure{Key: key, Kind: pmerr.BadMetadata, Message: err.Error(), Optional: optional}
}
