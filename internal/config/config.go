// Package config provides configuration management for flick using Viper
// for flexible configuration loading from files, environment variables, and
// command-line flags.
//
// The configuration system supports a .flick.yml file in the project root,
// environment variable overrides with the FLICK_ prefix, and validation. It
// manages the listening address, project layout, the dart_eval toolchain and
// the file watcher debounce interval.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults mirror the values the mobile client expects out of the box.
const (
	DefaultPort           = 8765
	DefaultHost           = "0.0.0.0"
	DefaultMaxMessageSize = 50 * 1024 * 1024
	DefaultPingInterval   = 30 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultSendBuffer     = 256
	DefaultDebounce       = 300 * time.Millisecond
	DefaultQueuePause     = 100 * time.Millisecond
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Project  ProjectConfig  `mapstructure:"project" yaml:"project"`
	Compiler CompilerConfig `mapstructure:"compiler" yaml:"compiler"`
	Watcher  WatcherConfig  `mapstructure:"watcher" yaml:"watcher"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" yaml:"port"`
	Host           string        `mapstructure:"host" yaml:"host"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	MaxMessageSize int64         `mapstructure:"max_message_size" yaml:"max_message_size"`
	PingInterval   time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	SendBuffer     int           `mapstructure:"send_buffer" yaml:"send_buffer"`
}

type ProjectConfig struct {
	Root       string   `mapstructure:"root" yaml:"root"`
	SourceDir  string   `mapstructure:"source_dir" yaml:"source_dir"`
	EntryPoint string   `mapstructure:"entry_point" yaml:"entry_point"`
	AssetsDir  string   `mapstructure:"assets_dir" yaml:"assets_dir"`
	Extensions []string `mapstructure:"extensions" yaml:"extensions"`
	Ignore     []string `mapstructure:"ignore" yaml:"ignore"`
}

type CompilerConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Command         string        `mapstructure:"command" yaml:"command"`
	Package         string        `mapstructure:"package" yaml:"package"`
	CacheDir        string        `mapstructure:"cache_dir" yaml:"cache_dir"`
	OutputExtension string        `mapstructure:"output_extension" yaml:"output_extension"`
	QueuePause      time.Duration `mapstructure:"queue_pause" yaml:"queue_pause"`
}

type WatcherConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers every default on v so that unset keys, env
// variables and flags all resolve through the same lookup.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_message_size", DefaultMaxMessageSize)
	v.SetDefault("server.ping_interval", DefaultPingInterval)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
	v.SetDefault("server.send_buffer", DefaultSendBuffer)

	v.SetDefault("project.root", ".")
	v.SetDefault("project.source_dir", "lib")
	v.SetDefault("project.entry_point", "lib/main.dart")
	v.SetDefault("project.assets_dir", "assets")
	v.SetDefault("project.extensions", []string{".dart"})
	v.SetDefault("project.ignore", []string{"*.g.dart", "*.freezed.dart", "build", ".dart_tool"})

	v.SetDefault("compiler.enabled", true)
	v.SetDefault("compiler.command", "dart")
	v.SetDefault("compiler.package", "dart_eval")
	v.SetDefault("compiler.cache_dir", "")
	v.SetDefault("compiler.output_extension", ".evc")
	v.SetDefault("compiler.queue_pause", DefaultQueuePause)

	v.SetDefault("watcher.debounce", DefaultDebounce)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load builds a Config from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom builds a Config from v, applying defaults and validation.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Workaround for viper slice handling when values come from env/flags
	if v.IsSet("project.extensions") && len(config.Project.Extensions) == 0 {
		config.Project.Extensions = v.GetStringSlice("project.extensions")
	}
	if v.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if config.Compiler.CacheDir == "" {
		config.Compiler.CacheDir = defaultCacheDir()
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Address returns the host:port the server listens on.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "flick", "eval_cache")
	}
	return filepath.Join(home, ".flick", "eval_cache")
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateProjectConfig(&config.Project); err != nil {
		return fmt.Errorf("project config: %w", err)
	}

	if err := validateCompilerConfig(&config.Compiler); err != nil {
		return fmt.Errorf("compiler config: %w", err)
	}

	if err := ValidateCacheDir(config.Compiler.CacheDir, config.Project.Root); err != nil {
		return fmt.Errorf("compiler config: %w", err)
	}

	if config.Watcher.Debounce <= 0 {
		return fmt.Errorf("watcher config: debounce must be positive, got %s", config.Watcher.Debounce)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", "/"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	if config.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive")
	}
	if config.PingInterval <= 0 || config.WriteTimeout <= 0 {
		return fmt.Errorf("ping_interval and write_timeout must be positive")
	}
	if config.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive")
	}

	return nil
}

func validateProjectConfig(config *ProjectConfig) error {
	if config.Root == "" {
		return fmt.Errorf("root cannot be empty")
	}

	for name, path := range map[string]string{
		"source_dir":  config.SourceDir,
		"entry_point": config.EntryPoint,
		"assets_dir":  config.AssetsDir,
	} {
		if err := validateRelativePath(path); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, path, err)
		}
	}

	if len(config.Extensions) == 0 {
		return fmt.Errorf("at least one source extension is required")
	}
	for _, ext := range config.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}

	return nil
}

func validateCompilerConfig(config *CompilerConfig) error {
	if config.Command == "" {
		return fmt.Errorf("command cannot be empty")
	}
	if config.Package == "" {
		return fmt.Errorf("package cannot be empty")
	}
	if !strings.HasPrefix(config.OutputExtension, ".") {
		return fmt.Errorf("output_extension %q must start with a dot", config.OutputExtension)
	}
	if config.QueuePause <= 0 {
		return fmt.Errorf("queue_pause must be positive, got %s", config.QueuePause)
	}

	return nil
}

// ValidateCacheDir rejects a cache_dir that flick does not own: the
// filesystem root, the user's home directory or the project root.
func ValidateCacheDir(cacheDir, projectRoot string) error {
	if strings.TrimSpace(cacheDir) == "" {
		return fmt.Errorf("cache_dir cannot be empty")
	}

	abs, err := filepath.Abs(cacheDir)
	if err != nil {
		return fmt.Errorf("resolving cache_dir %q: %w", cacheDir, err)
	}

	if filepath.Dir(abs) == abs {
		return fmt.Errorf("cache_dir %q is the filesystem root", cacheDir)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" && samePath(abs, home) {
		return fmt.Errorf("cache_dir %q is the home directory", cacheDir)
	}
	if projectRoot != "" && samePath(abs, projectRoot) {
		return fmt.Errorf("cache_dir %q is the project root", cacheDir)
	}

	return nil
}

func samePath(abs, other string) bool {
	otherAbs, err := filepath.Abs(other)
	if err != nil {
		return false
	}
	return abs == otherAbs
}

// validateRelativePath validates a project-relative path for security
func validateRelativePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if filepath.IsAbs(cleanPath) {
		return fmt.Errorf("path must be relative to the project root")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
