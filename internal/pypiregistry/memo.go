package pypiregistry

import (
	"sync"

	"github.com/polypm-dev/polypm/internal/registry"
)

// memoCache memoizes package metadata fetches, mirroring the teacher's
// single-flight-free in-memory cache idiom at a per-client scope.
type memoCache struct {
	mu    sync.Mutex
	items map[string]*registry.PackageMetadata

	versionMu    sync.Mutex
	versionItems map[string]*registry.VersionInfo
}

func newMemoCache() memoCache {
	return memoCache{
		items:        make(map[string]*registry.PackageMetadata),
		versionItems: make(map[string]*registry.VersionInfo),
	}
}

func (m *memoCache) get(name string) (*registry.PackageMetadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.items[name]

	return v, ok
}

func (m *memoCache) put(name string, meta *registry.PackageMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[name] = meta
}

func (m *memoCache) getVersion(name, version string) (*registry.VersionInfo, bool) {
	m.versionMu.Lock()
	defer m.versionMu.Unlock()

	v, ok := m.versionItems[name+"@"+version]

	return v, ok
}

func (m *memoCache) putVersion(name, version string, vi *registry.VersionInfo) {
	m.versionMu.Lock()
	defer m.versionMu.Unlock()

	m.versionItems[name+"@"+version] = vi
}
