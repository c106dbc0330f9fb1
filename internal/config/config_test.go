package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, int64(DefaultMaxMessageSize), cfg.Server.MaxMessageSize)
	assert.Equal(t, 30*time.Second, cfg.Server.PingInterval)

	assert.Equal(t, ".", cfg.Project.Root)
	assert.Equal(t, "lib", cfg.Project.SourceDir)
	assert.Equal(t, "lib/main.dart", cfg.Project.EntryPoint)
	assert.Equal(t, []string{".dart"}, cfg.Project.Extensions)
	assert.Contains(t, cfg.Project.Ignore, "*.g.dart")

	assert.True(t, cfg.Compiler.Enabled)
	assert.Equal(t, "dart", cfg.Compiler.Command)
	assert.Equal(t, "dart_eval", cfg.Compiler.Package)
	assert.Equal(t, ".evc", cfg.Compiler.OutputExtension)
	assert.Equal(t, 100*time.Millisecond, cfg.Compiler.QueuePause)
	assert.NotEmpty(t, cfg.Compiler.CacheDir)

	assert.Equal(t, 300*time.Millisecond, cfg.Watcher.Debounce)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "0.0.0.0:8765", cfg.Server.Address())
}

func TestLoadOverrides(t *testing.T) {
	v := viper.New()
	v.Set("server.port", 9000)
	v.Set("server.host", "127.0.0.1")
	v.Set("watcher.debounce", "50ms")
	v.Set("compiler.queue_pause", "10ms")
	v.Set("compiler.cache_dir", "/tmp/flick-cache")
	v.Set("project.extensions", []string{".dart", ".yaml"})

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address())
	assert.Equal(t, 50*time.Millisecond, cfg.Watcher.Debounce)
	assert.Equal(t, 10*time.Millisecond, cfg.Compiler.QueuePause)
	assert.Equal(t, "/tmp/flick-cache", cfg.Compiler.CacheDir)
	assert.Equal(t, []string{".dart", ".yaml"}, cfg.Project.Extensions)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".flick.yml")
	content := `server:
  port: 9100
  host: localhost
watcher:
  debounce: 150ms
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 150*time.Millisecond, cfg.Watcher.Debounce)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  interface{}
	}{
		{"port too large", "server.port", 70000},
		{"negative port", "server.port", -1},
		{"dangerous host", "server.host", "localhost;rm -rf /"},
		{"zero debounce", "watcher.debounce", "0s"},
		{"zero queue pause", "compiler.queue_pause", "0s"},
		{"source dir traversal", "project.source_dir", "../outside"},
		{"absolute entry point", "project.entry_point", "/etc/passwd"},
		{"extension without dot", "project.extensions", []string{"dart"}},
		{"output extension without dot", "compiler.output_extension", "evc"},
		{"empty command", "compiler.command", ""},
		{"unparseable port", "server.port", "invalid_port"},
		{"cache dir at filesystem root", "compiler.cache_dir", "/"},
		{"cache dir is project root", "compiler.cache_dir", "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.val)

			_, err := LoadFrom(v)
			assert.Error(t, err)
		})
	}
}

func TestValidateCacheDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	root := t.TempDir()

	assert.Error(t, ValidateCacheDir("", root))
	assert.Error(t, ValidateCacheDir("/", root))
	assert.Error(t, ValidateCacheDir(home, root))
	assert.Error(t, ValidateCacheDir(home+"/", root))
	assert.Error(t, ValidateCacheDir(root, root))
	assert.Error(t, ValidateCacheDir(filepath.Join(root, "lib", ".."), root))

	assert.NoError(t, ValidateCacheDir(filepath.Join(home, ".flick", "eval_cache"), root))
	assert.NoError(t, ValidateCacheDir(filepath.Join(root, ".dart_tool", "flick"), root))
}

func TestLoadRejectsHomeAsCacheDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	v := viper.New()
	v.Set("compiler.cache_dir", home)

	_, err := LoadFrom(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "home directory")
}
