// Package project loads and validates the Flutter project being previewed
// and holds the in-memory snapshot of its sources.
package project

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultName is used when pubspec.yaml has no name.
	DefaultName = "Unknown Project"
	// DefaultVersion is used when pubspec.yaml has no version.
	DefaultVersion = "1.0.0"
	// PubspecFile is the Dart package manifest.
	PubspecFile = "pubspec.yaml"
)

// Pubspec is the subset of pubspec.yaml the session reads.
type Pubspec struct {
	Name         string                 `yaml:"name"`
	Version      string                 `yaml:"version"`
	Description  string                 `yaml:"description"`
	Dependencies map[string]interface{} `yaml:"dependencies"`
}

// ParsePubspec decodes pubspec.yaml content.
func ParsePubspec(data []byte) (*Pubspec, error) {
	var spec Pubspec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", PubspecFile, err)
	}
	return &spec, nil
}

// DependencyVersions flattens dependencies to name → constraint. The
// flutter SDK entry is dropped; entries without a version read "latest".
func (p *Pubspec) DependencyVersions() map[string]string {
	deps := make(map[string]string, len(p.Dependencies))
	for name, value := range p.Dependencies {
		if name == "flutter" {
			continue
		}
		switch v := value.(type) {
		case string:
			deps[name] = v
		case map[string]interface{}:
			if version, ok := v["version"].(string); ok && version != "" {
				deps[name] = version
			} else {
				deps[name] = "latest"
			}
		default:
			deps[name] = "latest"
		}
	}
	return deps
}

// SnapshotData is the serialized form of a Snapshot.
type SnapshotData struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	Files        map[string]string `json:"files"`
	Dependencies map[string]string `json:"dependencies"`
	Pubspec      string            `json:"pubspec"`
	EntryPoint   string            `json:"entryPoint"`
	Timestamp    int64             `json:"timestamp"`
}

// Snapshot is the current view of the project's sources and metadata.
// File paths are root-relative with forward slashes.
type Snapshot struct {
	mutex        sync.RWMutex
	name         string
	version      string
	description  string
	dependencies map[string]string
	pubspec      string
	entryPoint   string
	files        map[string]string
	loadedAt     time.Time
}

// LoadOptions controls which files Load reads.
type LoadOptions struct {
	SourceDir  string
	EntryPoint string
	// Filter receives root-relative slash paths; nil accepts .dart files.
	Filter func(rel string) bool
}

// Load reads pubspec.yaml and every matching file under the source dir.
func Load(root string, opts LoadOptions) (*Snapshot, error) {
	if opts.SourceDir == "" {
		opts.SourceDir = "lib"
	}
	if opts.EntryPoint == "" {
		opts.EntryPoint = "lib/main.dart"
	}
	if opts.Filter == nil {
		opts.Filter = func(rel string) bool { return strings.HasSuffix(rel, ".dart") }
	}

	raw, err := os.ReadFile(filepath.Join(root, PubspecFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", PubspecFile, err)
	}
	spec, err := ParsePubspec(raw)
	if err != nil {
		return nil, err
	}

	files, err := scanFiles(root, filepath.Join(root, filepath.FromSlash(opts.SourceDir)), opts.Filter)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		name:         spec.Name,
		version:      spec.Version,
		description:  spec.Description,
		dependencies: spec.DependencyVersions(),
		pubspec:      string(raw),
		entryPoint:   opts.EntryPoint,
		files:        files,
		loadedAt:     time.Now(),
	}
	if s.name == "" {
		s.name = DefaultName
	}
	if s.version == "" {
		s.version = DefaultVersion
	}
	return s, nil
}

// NewSnapshot builds a snapshot directly, mainly for tests.
func NewSnapshot(name string, files map[string]string) *Snapshot {
	copied := make(map[string]string, len(files))
	for k, v := range files {
		copied[k] = v
	}
	return &Snapshot{
		name:         name,
		version:      DefaultVersion,
		dependencies: map[string]string{},
		entryPoint:   "lib/main.dart",
		files:        copied,
		loadedAt:     time.Now(),
	}
}

func scanFiles(root, dir string, filter func(string) bool) (map[string]string, error) {
	files := make(map[string]string)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !filter(rel) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			// Unreadable files are left out rather than failing the load.
			return nil
		}
		files[rel] = string(content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	return files, nil
}

// Name returns the project name.
func (s *Snapshot) Name() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.name
}

// SetFile records new content for path.
func (s *Snapshot) SetFile(path, content string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.files[path] = content
}

// RemoveFile drops path. It reports whether path was present.
func (s *Snapshot) RemoveFile(path string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.files[path]
	delete(s.files, path)
	return ok
}

// File returns the content for path.
func (s *Snapshot) File(path string) (string, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	content, ok := s.files[path]
	return content, ok
}

// Paths returns the sorted file paths.
func (s *Snapshot) Paths() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// FileCount returns the number of tracked files.
func (s *Snapshot) FileCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.files)
}

// Data returns a deep copy suitable for serialization.
func (s *Snapshot) Data() SnapshotData {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	files := make(map[string]string, len(s.files))
	for k, v := range s.files {
		files[k] = v
	}
	deps := make(map[string]string, len(s.dependencies))
	for k, v := range s.dependencies {
		deps[k] = v
	}

	return SnapshotData{
		Name:         s.name,
		Version:      s.version,
		Description:  s.description,
		Files:        files,
		Dependencies: deps,
		Pubspec:      s.pubspec,
		EntryPoint:   s.entryPoint,
		Timestamp:    s.loadedAt.UnixMilli(),
	}
}

// MarshalJSON implements json.Marshaler.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Data())
}
