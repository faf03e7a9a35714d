// Package store implements the global content-addressed package store (C3):
// a single on-disk location shared across projects, keyed by
// (ecosystem, name, version), with atomic publish and cross-process
// reservation locking so two concurrent resolutions never race on the same
// extraction target. Grounded on the teacher's internal/cache/cache.go
// (atomic tmp-then-rename Put) and internal/installer/installer.go
// (ZipSlip-protected archive extraction), generalized to also accept npm's
// gzipped tarballs alongside wheel/sdist zips.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/polypm-dev/polypm/internal/ecosystem"
	"github.com/polypm-dev/polypm/internal/pmerr"
)

// ErrReserved is returned by Reserve when name@version's slot is already
// held by another reservation. Per spec.md §4.3, reserve() fails
// immediately rather than blocking; the caller is the one that polls
// contains() while waiting for the holder to publish.
var ErrReserved = errors.New("store: slot already reserved")

// Metadata is the sidecar recorded next to an extracted package, enough to
// answer Contains without re-reading the archive.
type Metadata struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Ecosystem string    `json:"ecosystem"`
	Digest    string    `json:"digest"`
	Filename  string    `json:"filename"`
	StoredAt  time.Time `json:"stored_at"`
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store is the on-disk layout root. Packages live at
// <root>/<ecosystem>/<name>/<version>/package, with metadata.json and .lock
// siblings.
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{root: dir, logger: slog.Default()}

	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, pmerr.New(pmerr.StoreIo, "", "", fmt.Errorf("creating store root %s: %w", dir, err))
	}

	return s, nil
}

// Root returns the store's root directory, for diagnostics.
func (s *Store) Root() string { return s.root }

func (s *Store) packageDir(eco ecosystem.Ecosystem, name, version string) string {
	return filepath.Join(s.root, eco.String(), sanitize(name), version)
}

// sanitize defangs a package name for use as a path segment: scoped npm
// names ("@scope/name") contain a "/" that must not become a directory
// separator.
func sanitize(name string) string {
	out := make([]byte, 0, len(name))

	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			out = append(out, '+')
			continue
		}

		out = append(out, name[i])
	}

	return string(out)
}

// PathOf returns the directory containing the extracted package contents,
// valid only after Contains reports true.
func (s *Store) PathOf(eco ecosystem.Ecosystem, name, version string) string {
	return filepath.Join(s.packageDir(eco, name, version), "package")
}

// Contains reports whether name@version is already fully published.
func (s *Store) Contains(eco ecosystem.Ecosystem, name, version string) bool {
	_, err := os.Stat(filepath.Join(s.packageDir(eco, name, version), "metadata.json"))
	return err == nil
}

// ReadMetadata loads the sidecar for an already-published package.
func (s *Store) ReadMetadata(eco ecosystem.Ecosystem, name, version string) (*Metadata, error) {
	path := filepath.Join(s.packageDir(eco, name, version), "metadata.json")

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, pmerr.New(pmerr.StoreIo, eco.String(), name, err)
	}

	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, pmerr.New(pmerr.StoreIo, eco.String(), name, err)
	}

	return &m, nil
}

// Reservation holds the exclusive cross-process lock for one
// (ecosystem, name, version) slot while its artifact is being extracted.
type Reservation struct {
	store   *Store
	eco     ecosystem.Ecosystem
	name    string
	version string
	dir     string
	lock    *flock.Flock
}

// Reserve creates name@version's slot and atomically acquires its
// cross-process lock, per spec.md §4.3: "Creates .lock atomically... fails
// if already held." It does not block or poll — a caller racing another
// holder gets ErrReserved immediately and is expected to poll Contains
// itself (see installer.Service.awaitPublish) rather than
// wait inside Reserve. The caller must call Release (directly, or
// implicitly via Publish) when done.
func (s *Store) Reserve(eco ecosystem.Ecosystem, name, version string) (*Reservation, error) {
	dir := s.packageDir(eco, name, version)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pmerr.New(pmerr.StoreIo, eco.String(), name, fmt.Errorf("creating slot %s: %w", dir, err))
	}

	lockPath := filepath.Join(dir, ".lock")
	lock := flock.New(lockPath)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, pmerr.New(pmerr.StoreIo, eco.String(), name, err)
	}

	if !locked {
		return nil, ErrReserved
	}

	return &Reservation{store: s, eco: eco, name: name, version: version, dir: dir, lock: lock}, nil
}

// Release drops the reservation's lock without publishing anything,
// leaving the slot unfilled for a future Reserve.
func (r *Reservation) Release() error {
	return r.lock.Unlock()
}

// Publish extracts archive (a zip or gzipped tar, auto-detected from
// filename) into the slot's package/ directory via a temp-then-rename swap,
// writes the metadata.json sidecar, and releases the reservation's lock.
func (r *Reservation) Publish(archive []byte, filename, digest string) error {
	defer func() { _ = r.lock.Unlock() }()

	tmpDir, err := os.MkdirTemp(r.dir, "extract-*")
	if err != nil {
		return pmerr.New(pmerr.StoreIo, r.eco.String(), r.name, err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	if err := extractArchive(archive, filename, tmpDir); err != nil {
		return pmerr.New(pmerr.StoreIo, r.eco.String(), r.name, err)
	}

	finalDir := filepath.Join(r.dir, "package")
	if err := os.RemoveAll(finalDir); err != nil {
		return pmerr.New(pmerr.StoreIo, r.eco.String(), r.name, err)
	}

	if err := os.Rename(tmpDir, finalDir); err != nil {
		return pmerr.New(pmerr.StoreIo, r.eco.String(), r.name, fmt.Errorf("publishing %s@%s: %w", r.name, r.version, err))
	}

	meta := Metadata{
		Name:      r.name,
		Version:   r.version,
		Ecosystem: r.eco.String(),
		Digest:    digest,
		Filename:  filename,
		StoredAt:  time.Now().UTC(),
	}

	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return pmerr.New(pmerr.StoreIo, r.eco.String(), r.name, err)
	}

	metaTmp := filepath.Join(r.dir, "metadata.json.tmp")
	if err := os.WriteFile(metaTmp, b, 0o644); err != nil {
		return pmerr.New(pmerr.StoreIo, r.eco.String(), r.name, err)
	}

	if err := os.Rename(metaTmp, filepath.Join(r.dir, "metadata.json")); err != nil {
		return pmerr.New(pmerr.StoreIo, r.eco.String(), r.name, err)
	}

	return nil
}
