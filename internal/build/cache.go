// Package build provides the compile side of a preview session: the dart_eval
// compiler adapter, the serialized compilation queue and the in-memory
// module cache its results land in.
package build

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrNilArtifact is returned when Put is called without an artifact.
	ErrNilArtifact = errors.New("artifact cannot be nil")
	// ErrDuplicateModule is returned when an id is already cached.
	ErrDuplicateModule = errors.New("module id already cached")
)

// ModuleCache stores compiled artifacts by module id for the lifetime of
// the session. There is no eviction; entries are append-only until Clear.
type ModuleCache struct {
	entries     map[string]*Artifact
	mutex       sync.RWMutex
	currentSize int64
	sessionDir  string

	hits   int64
	misses int64
}

// CacheStats is a point-in-time view of the cache.
type CacheStats struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
}

// NewModuleCache creates an empty cache. sessionDir, if set, is removed by
// Clear along with the entries and should come from NewSessionDir.
func NewModuleCache(sessionDir string) *ModuleCache {
	return &ModuleCache{
		entries:    make(map[string]*Artifact),
		sessionDir: sessionDir,
	}
}

// NewSessionDir creates cacheDir if needed and a fresh session_* directory
// inside it. Only the returned directory belongs to the session; anything
// else under cacheDir is left alone.
func NewSessionDir(cacheDir string) (string, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory %s: %w", cacheDir, err)
	}
	dir, err := os.MkdirTemp(cacheDir, "session_*")
	if err != nil {
		return "", fmt.Errorf("failed to create session directory in %s: %w", cacheDir, err)
	}
	return dir, nil
}

// Put stores an artifact under its pre-generated id and returns that id.
func (mc *ModuleCache) Put(artifact *Artifact) (string, error) {
	if artifact == nil {
		return "", ErrNilArtifact
	}
	if artifact.ID == "" {
		return "", fmt.Errorf("artifact for module %q has no id", artifact.Name)
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if _, exists := mc.entries[artifact.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateModule, artifact.ID)
	}

	mc.entries[artifact.ID] = artifact
	mc.currentSize += int64(artifact.Size)

	return artifact.ID, nil
}

// Get retrieves an artifact by module id.
func (mc *ModuleCache) Get(id string) (*Artifact, bool) {
	mc.mutex.RLock()
	artifact, exists := mc.entries[id]
	mc.mutex.RUnlock()

	if !exists {
		atomic.AddInt64(&mc.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&mc.hits, 1)
	return artifact, true
}

// List returns metadata for every cached artifact, oldest first.
func (mc *ModuleCache) List() []ArtifactInfo {
	mc.mutex.RLock()
	infos := make([]ArtifactInfo, 0, len(mc.entries))
	for _, artifact := range mc.entries {
		infos = append(infos, artifact.Info())
	}
	mc.mutex.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CompiledAt != infos[j].CompiledAt {
			return infos[i].CompiledAt < infos[j].CompiledAt
		}
		return infos[i].ModuleID < infos[j].ModuleID
	})

	return infos
}

// Count returns the number of cached artifacts.
func (mc *ModuleCache) Count() int {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	return len(mc.entries)
}

// Size returns the total payload bytes held.
func (mc *ModuleCache) Size() int64 {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	return mc.currentSize
}

// Stats returns cache statistics.
func (mc *ModuleCache) Stats() CacheStats {
	mc.mutex.RLock()
	entries, size := len(mc.entries), mc.currentSize
	mc.mutex.RUnlock()

	return CacheStats{
		Entries:   entries,
		SizeBytes: size,
		Hits:      atomic.LoadInt64(&mc.hits),
		Misses:    atomic.LoadInt64(&mc.misses),
	}
}

// Clear drops every entry and removes the session directory.
func (mc *ModuleCache) Clear() error {
	mc.mutex.Lock()
	mc.entries = make(map[string]*Artifact)
	mc.currentSize = 0
	mc.mutex.Unlock()

	if mc.sessionDir == "" {
		return nil
	}
	if err := os.RemoveAll(mc.sessionDir); err != nil {
		return fmt.Errorf("failed to remove session directory %s: %w", mc.sessionDir, err)
	}
	return nil
}
