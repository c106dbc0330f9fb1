package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 50 * time.Millisecond

type eventRecorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *eventRecorder) handle(e ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) snapshot() []ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeEvent(nil), r.events...)
}

func (r *eventRecorder) waitFor(t *testing.T, n int) []ChangeEvent {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, 5*time.Second, 10*time.Millisecond)
	return r.snapshot()
}

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "main.dart"), []byte("void main() {}"), 0644))
	return root
}

func startWatcher(t *testing.T, root string) (*FileWatcher, *eventRecorder) {
	t.Helper()
	fw, err := NewFileWatcher(Config{Root: root, SourceDir: "lib", Debounce: testDebounce})
	require.NoError(t, err)

	recorder := &eventRecorder{}
	fw.AddHandler(recorder.handle)
	require.NoError(t, fw.Start(context.Background()))
	t.Cleanup(func() { _ = fw.Stop() })
	return fw, recorder
}

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventChanged, "changed"},
		{EventAdded, "added"},
		{EventRemoved, "removed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestStartSeedsKnownFiles(t *testing.T) {
	root := setupProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "model.g.dart"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib", "widgets"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "widgets", "button.dart"), []byte("x"), 0644))

	fw, _ := startWatcher(t, root)
	assert.ElementsMatch(t, []string{"lib/main.dart", "lib/widgets/button.dart"}, fw.KnownFiles())
	assert.True(t, fw.IsRunning())
}

func TestChangedEventCarriesContent(t *testing.T) {
	root := setupProject(t)
	_, recorder := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "main.dart"), []byte("void main() { print(1); }"), 0644))

	events := recorder.waitFor(t, 1)
	assert.Equal(t, EventChanged, events[0].Type)
	assert.Equal(t, "lib/main.dart", events[0].Path)
	assert.Equal(t, "void main() { print(1); }", events[0].Content)
}

func TestRapidWritesAreCoalesced(t *testing.T) {
	root := setupProject(t)
	_, recorder := startWatcher(t, root)
	path := filepath.Join(root, "lib", "main.dart")

	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(path, []byte("v"+string(rune('0'+i))), 0644))
		time.Sleep(5 * time.Millisecond)
	}

	events := recorder.waitFor(t, 1)
	time.Sleep(4 * testDebounce)
	events = recorder.snapshot()

	require.Len(t, events, 1)
	assert.Equal(t, "v9", events[0].Content)
}

func TestAddedAndRemovedEvents(t *testing.T) {
	root := setupProject(t)
	fw, recorder := startWatcher(t, root)
	path := filepath.Join(root, "lib", "foo.dart")

	require.NoError(t, os.WriteFile(path, []byte("class Foo {}"), 0644))
	events := recorder.waitFor(t, 1)
	assert.Equal(t, EventAdded, events[0].Type)
	assert.Equal(t, "lib/foo.dart", events[0].Path)
	assert.Contains(t, fw.KnownFiles(), "lib/foo.dart")

	require.NoError(t, os.Remove(path))
	events = recorder.waitFor(t, 2)
	assert.Equal(t, EventRemoved, events[1].Type)
	assert.Equal(t, "lib/foo.dart", events[1].Path)
	assert.Empty(t, events[1].Content)
	assert.NotContains(t, fw.KnownFiles(), "lib/foo.dart")
}

func TestNewDirectoriesAreWatched(t *testing.T) {
	root := setupProject(t)
	_, recorder := startWatcher(t, root)

	dir := filepath.Join(root, "lib", "screens")
	require.NoError(t, os.MkdirAll(dir, 0755))
	time.Sleep(2 * testDebounce)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "home.dart"), []byte("class Home {}"), 0644))

	events := recorder.waitFor(t, 1)
	assert.Equal(t, "lib/screens/home.dart", events[0].Path)
	assert.Equal(t, EventAdded, events[0].Type)
}

func TestFilteredFilesProduceNoEvents(t *testing.T) {
	root := setupProject(t)
	_, recorder := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "model.g.dart"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", ".hidden.dart"), []byte("x"), 0644))

	time.Sleep(4 * testDebounce)
	assert.Empty(t, recorder.snapshot())
}

func TestAddedFilterSilencesDirectory(t *testing.T) {
	root := setupProject(t)
	scratch := filepath.Join(root, "lib", "scratch")
	require.NoError(t, os.MkdirAll(scratch, 0755))

	fw, err := NewFileWatcher(Config{Root: root, SourceDir: "lib", Debounce: testDebounce})
	require.NoError(t, err)
	fw.AddFilter(ExcludeDirFilter("lib/scratch"))
	assert.False(t, fw.Matches("lib/scratch/tmp.dart"))
	assert.True(t, fw.Matches("lib/main.dart"))

	recorder := &eventRecorder{}
	fw.AddHandler(recorder.handle)
	require.NoError(t, fw.Start(context.Background()))
	t.Cleanup(func() { _ = fw.Stop() })

	require.NoError(t, os.WriteFile(filepath.Join(scratch, "tmp.dart"), []byte("x"), 0644))
	time.Sleep(4 * testDebounce)
	assert.Empty(t, recorder.snapshot())

	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "main.dart"), []byte("changed"), 0644))
	events := recorder.waitFor(t, 1)
	assert.Equal(t, "lib/main.dart", events[0].Path)
}

func TestStopIsIdempotentAndSilences(t *testing.T) {
	root := setupProject(t)
	fw, recorder := startWatcher(t, root)

	require.NoError(t, fw.Start(context.Background()))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "main.dart"), []byte("changed"), 0644))

	require.NoError(t, fw.Stop())
	require.NoError(t, fw.Stop())
	assert.False(t, fw.IsRunning())

	before := len(recorder.snapshot())
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "main.dart"), []byte("again"), 0644))
	time.Sleep(4 * testDebounce)
	assert.Equal(t, before, len(recorder.snapshot()))
}

func TestStartFailsWithoutSourceDir(t *testing.T) {
	fw, err := NewFileWatcher(Config{Root: t.TempDir(), SourceDir: "lib"})
	require.NoError(t, err)
	assert.Error(t, fw.Start(context.Background()))
	assert.False(t, fw.IsRunning())
}

func TestFilters(t *testing.T) {
	dart := ExtensionFilter(".dart")
	assert.True(t, dart("lib/main.dart"))
	assert.False(t, dart("lib/main.go"))

	ignore := IgnoreFilter(DefaultIgnore...)
	assert.True(t, ignore("lib/main.dart"))
	assert.False(t, ignore("lib/model.g.dart"))
	assert.False(t, ignore("lib/model.freezed.dart"))
	assert.False(t, ignore("lib/build/out.dart"))
	assert.False(t, ignore("lib/.dart_tool/x.dart"))

	assert.True(t, NoDotfileFilter("lib/main.dart"))
	assert.False(t, NoDotfileFilter("lib/.secret.dart"))
	assert.False(t, NoDotfileFilter(".git/config"))

	exclude := ExcludeDirFilter("lib/cache/")
	assert.False(t, exclude("lib/cache"))
	assert.False(t, exclude("lib/cache/session_1/m.dart"))
	assert.True(t, exclude("lib/cache_notes.dart"))
	assert.True(t, exclude("lib/main.dart"))
}
