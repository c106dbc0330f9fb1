package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/flick/internal/config"
	flickerrors "github.com/conneroisu/flick/internal/errors"
	"github.com/conneroisu/flick/internal/logging"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(viper.New())
	require.NoError(t, err)

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Project.Root = root
	cfg.Compiler.Enabled = false
	cfg.Compiler.CacheDir = filepath.Join(t.TempDir(), "cache")
	return cfg
}

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "pubspec.yaml"), []byte("name: cli_app\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "main.dart"), []byte("void main() {}"), 0644))
	return root
}

func TestServeRunsUntilCancelled(t *testing.T) {
	cfg := testConfig(t, writeProject(t))
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, logging.NewNopLogger(), out)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "flick://connect?")
	}, 5*time.Second, 10*time.Millisecond)

	banner := out.String()
	assert.Contains(t, banner, "Project: cli_app")
	assert.Contains(t, banner, "host=127.0.0.1")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.Contains(t, out.String(), "Shutting down...")
}

func TestServeRejectsNonFlutterProject(t *testing.T) {
	cfg := testConfig(t, t.TempDir())

	err := serve(context.Background(), cfg, logging.NewNopLogger(), &syncBuffer{})
	require.Error(t, err)
	assert.True(t, flickerrors.IsKind(err, flickerrors.KindValidationFailed))

	var hints bytes.Buffer
	printHints(&hints, err)
	assert.NotEmpty(t, hints.String())
}

func TestPrintHints(t *testing.T) {
	err := flickerrors.NewTransportBindFailed(flickerrors.ErrCodeAddressInUse, ":8765", nil).
		WithHint("Port 8765 is already in use").
		WithHint("Try using a different port with --port <number>")

	var buf bytes.Buffer
	printHints(&buf, err)
	assert.Contains(t, buf.String(), "  - Port 8765 is already in use\n")
	assert.Contains(t, buf.String(), "--port <number>")

	buf.Reset()
	printHints(&buf, assert.AnError)
	assert.Empty(t, buf.String())
}

func TestDeepLink(t *testing.T) {
	assert.Equal(t, "flick://connect?host=192.168.1.20&port=8765", deepLink("192.168.1.20", 8765))
}

func TestConnectHost(t *testing.T) {
	assert.Equal(t, "127.0.0.1", connectHost("127.0.0.1", []string{"10.0.0.2"}))
	assert.Equal(t, "10.0.0.2", connectHost("0.0.0.0", []string{"10.0.0.2", "10.0.0.3"}))
	assert.Equal(t, "localhost", connectHost("0.0.0.0", nil))
}

func TestListenPort(t *testing.T) {
	assert.Equal(t, 41234, listenPort("127.0.0.1:41234", 8765))
	assert.Equal(t, 8765, listenPort("", 8765))
	assert.Equal(t, 8765, listenPort("host:abc", 8765))
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	printBanner(&buf, "demo", "0.0.0.0", 8765, []string{"192.168.1.20"})

	out := buf.String()
	assert.Contains(t, out, "Local:   http://localhost:8765")
	assert.Contains(t, out, "Network: http://192.168.1.20:8765")
	assert.Contains(t, out, "flick://connect?host=192.168.1.20&port=8765")
	assert.NotContains(t, out, "Bound:")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version", "--format", "json"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		versionFormat = "text"
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), `"version"`)
	assert.Contains(t, buf.String(), `"go_version"`)
}

func TestStartCommandRegistered(t *testing.T) {
	found, _, err := rootCmd.Find([]string{"start"})
	require.NoError(t, err)
	assert.Equal(t, "start", found.Name())

	port := found.Flags().Lookup("port")
	require.NotNil(t, port)
	assert.Equal(t, "p", port.Shorthand)
	assert.Equal(t, "8765", port.DefValue)
}
