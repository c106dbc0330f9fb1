// Package watcher reports debounced source file changes under a project
// directory using fsnotify.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/flick/internal/logging"
)

// EventType is the classification of a settled file change.
type EventType int

const (
	EventChanged EventType = iota
	EventAdded
	EventRemoved
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventChanged:
		return "changed"
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ChangeEvent is one settled change. Path is relative to the project root
// with forward slashes. Content is empty for EventRemoved.
type ChangeEvent struct {
	Type    EventType
	Path    string
	Content string
	ModTime time.Time
	Size    int64
}

// FileFilter reports whether a root-relative slash path should be watched.
type FileFilter func(path string) bool

// ChangeHandler handles a change event.
type ChangeHandler func(event ChangeEvent) error

// Config configures a FileWatcher.
type Config struct {
	Root       string
	SourceDir  string
	Debounce   time.Duration
	Extensions []string
	Ignore     []string
	Logger     logging.Logger
}

// FileWatcher watches SourceDir recursively. Writes to a file are coalesced
// until the file has been quiet for the debounce interval, then the file is
// classified against the set of files seen so far. Handlers are called
// sequentially from a single goroutine.
type FileWatcher struct {
	root      string
	sourceDir string
	debounce  time.Duration
	ignore    []string
	filters   []FileFilter
	handlers  []ChangeHandler
	logger    logging.Logger

	mutex   sync.Mutex
	watcher *fsnotify.Watcher
	known   map[string]bool
	timers  map[string]*time.Timer
	running bool
	stopCh  chan struct{}
	events  chan ChangeEvent
	wg      sync.WaitGroup

	// fireMu serializes classification and delivery of settled paths.
	fireMu sync.Mutex
}

// NewFileWatcher creates a stopped watcher with the default filters for cfg.
func NewFileWatcher(cfg Config) (*FileWatcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	if cfg.SourceDir == "" {
		cfg.SourceDir = "lib"
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".dart"}
	}
	if cfg.Ignore == nil {
		cfg.Ignore = DefaultIgnore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	fw := &FileWatcher{
		root:      root,
		sourceDir: filepath.Join(root, filepath.FromSlash(cfg.SourceDir)),
		debounce:  cfg.Debounce,
		ignore:    cfg.Ignore,
		logger:    logger.WithComponent("watcher"),
		known:     make(map[string]bool),
		timers:    make(map[string]*time.Timer),
	}
	fw.filters = []FileFilter{
		ExtensionFilter(cfg.Extensions...),
		IgnoreFilter(cfg.Ignore...),
		NoDotfileFilter,
	}

	return fw, nil
}

// AddFilter adds a filter on top of the defaults. Paths it rejects produce
// no events and are left out of Matches.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// Matches reports whether a root-relative slash path passes every filter.
func (fw *FileWatcher) Matches(rel string) bool {
	fw.mutex.Lock()
	filters := fw.filters
	fw.mutex.Unlock()

	for _, filter := range filters {
		if !filter(rel) {
			return false
		}
	}
	return true
}

// Start begins watching. Calling Start on a running watcher is a no-op.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	if fw.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	fw.watcher = watcher
	fw.known = make(map[string]bool)
	fw.stopCh = make(chan struct{})
	fw.events = make(chan ChangeEvent, 64)

	if err := fw.addRecursiveLocked(fw.sourceDir, false); err != nil {
		_ = watcher.Close()
		fw.watcher = nil
		return err
	}

	fw.running = true
	fw.wg.Add(2)
	go fw.watchLoop(ctx, watcher, fw.stopCh)
	go fw.dispatch(fw.events, fw.stopCh)

	fw.logger.Info(ctx, "Watching for file changes", "dir", fw.sourceDir, "files", len(fw.known))
	return nil
}

// Stop releases every OS watch handle and waits for in-flight handlers.
// No handler runs after Stop returns. Calling Stop twice is a no-op.
func (fw *FileWatcher) Stop() error {
	fw.mutex.Lock()
	if !fw.running {
		fw.mutex.Unlock()
		return nil
	}
	fw.running = false
	close(fw.stopCh)
	for path, timer := range fw.timers {
		if timer.Stop() {
			fw.wg.Done()
		}
		delete(fw.timers, path)
	}
	watcher := fw.watcher
	fw.watcher = nil
	fw.mutex.Unlock()

	err := watcher.Close()
	fw.wg.Wait()
	return err
}

// IsRunning reports whether the watcher has been started and not stopped.
func (fw *FileWatcher) IsRunning() bool {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	return fw.running
}

// KnownFiles returns the root-relative paths the watcher considers present.
func (fw *FileWatcher) KnownFiles() []string {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	paths := make([]string, 0, len(fw.known))
	for p := range fw.known {
		paths = append(paths, p)
	}
	return paths
}

// addRecursiveLocked watches dir and its subdirectories. Files found are
// recorded as known, or scheduled as new when schedule is set.
func (fw *FileWatcher) addRecursiveLocked(dir string, schedule bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("watching %s: %w", dir, err)
			}
			return nil
		}

		rel, ok := fw.relative(path)
		if !ok {
			return nil
		}

		if d.IsDir() {
			if path != fw.sourceDir && !fw.dirAllowed(rel) {
				return filepath.SkipDir
			}
			if err := fw.watcher.Add(path); err != nil {
				fw.logger.Warn(context.Background(), err, "Failed to watch directory", "dir", path)
			}
			return nil
		}

		if !fw.matchesLocked(rel) {
			return nil
		}
		if schedule {
			fw.scheduleLocked(rel)
		} else {
			fw.known[rel] = true
		}
		return nil
	})
}

func (fw *FileWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, stop <-chan struct{}) {
	defer fw.wg.Done()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	if !fw.running {
		return
	}

	if event.Op == fsnotify.Chmod {
		return
	}

	rel, ok := fw.relative(event.Name)
	if !ok {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if fw.dirAllowed(rel) {
				_ = fw.addRecursiveLocked(event.Name, true)
			}
			return
		}
	}

	if fw.matchesLocked(rel) {
		fw.scheduleLocked(rel)
		return
	}

	// A removed or renamed directory takes its known files with it.
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		prefix := rel + "/"
		for known := range fw.known {
			if strings.HasPrefix(known, prefix) {
				fw.scheduleLocked(known)
			}
		}
	}
}

func (fw *FileWatcher) scheduleLocked(rel string) {
	if timer, exists := fw.timers[rel]; exists {
		if timer.Stop() {
			timer.Reset(fw.debounce)
			return
		}
	}

	fw.wg.Add(1)
	fw.timers[rel] = time.AfterFunc(fw.debounce, func() {
		defer fw.wg.Done()
		fw.fire(rel)
	})
}

func (fw *FileWatcher) fire(rel string) {
	fw.fireMu.Lock()
	defer fw.fireMu.Unlock()

	fw.mutex.Lock()
	if !fw.running {
		fw.mutex.Unlock()
		return
	}
	stop, events := fw.stopCh, fw.events

	event, ok := fw.classifyLocked(rel)
	fw.mutex.Unlock()

	if !ok {
		return
	}

	select {
	case events <- event:
	case <-stop:
	}
}

// classifyLocked stats rel and compares it with the known set.
func (fw *FileWatcher) classifyLocked(rel string) (ChangeEvent, bool) {
	abs := filepath.Join(fw.root, filepath.FromSlash(rel))
	wasKnown := fw.known[rel]

	info, err := os.Stat(abs)
	if err == nil && !info.IsDir() {
		content, readErr := os.ReadFile(abs)
		if readErr == nil {
			fw.known[rel] = true
			eventType := EventChanged
			if !wasKnown {
				eventType = EventAdded
			}
			return ChangeEvent{
				Type:    eventType,
				Path:    rel,
				Content: string(content),
				ModTime: info.ModTime(),
				Size:    info.Size(),
			}, true
		}
		err = readErr
	}

	if !wasKnown {
		return ChangeEvent{}, false
	}
	if !os.IsNotExist(err) {
		fw.logger.Warn(context.Background(), err, "Failed to read changed file", "path", rel)
	}
	delete(fw.known, rel)
	return ChangeEvent{Type: EventRemoved, Path: rel}, true
}

func (fw *FileWatcher) dispatch(events <-chan ChangeEvent, stop <-chan struct{}) {
	defer fw.wg.Done()

	for {
		select {
		case <-stop:
			return
		case event := <-events:
			select {
			case <-stop:
				return
			default:
			}

			fw.mutex.Lock()
			handlers := fw.handlers
			fw.mutex.Unlock()

			for _, handler := range handlers {
				if err := handler(event); err != nil {
					fw.logger.Error(context.Background(), err, "File watcher handler error",
						"path", event.Path, "event", event.Type.String())
				}
			}
		}
	}
}

func (fw *FileWatcher) matchesLocked(rel string) bool {
	for _, filter := range fw.filters {
		if !filter(rel) {
			return false
		}
	}
	return true
}

// relative converts an absolute path to a root-relative slash path,
// rejecting anything outside the root.
func (fw *FileWatcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(fw.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// dirAllowed applies the dotfile and ignore rules to a directory.
func (fw *FileWatcher) dirAllowed(rel string) bool {
	return NoDotfileFilter(rel) && !hasIgnoredSegment(rel+"/", fw.ignore)
}
