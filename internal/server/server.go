// Package server coordinates one development session: it validates and
// loads the project, serves the HTTP artifact API and the device WebSocket
// on one port, feeds compile requests through the compile queue and pushes
// file changes to every connected device.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/conneroisu/flick/internal/build"
	"github.com/conneroisu/flick/internal/config"
	flickerrors "github.com/conneroisu/flick/internal/errors"
	"github.com/conneroisu/flick/internal/logging"
	"github.com/conneroisu/flick/internal/project"
	"github.com/conneroisu/flick/internal/protocol"
	"github.com/conneroisu/flick/internal/watcher"
	"github.com/conneroisu/flick/internal/websocket"
)

// Option customizes a PreviewServer.
type Option func(*PreviewServer)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *PreviewServer) { s.logger = logger }
}

// WithCompiler replaces the dart_eval compiler.
func WithCompiler(compiler build.Compiler) Option {
	return func(s *PreviewServer) { s.compiler = compiler }
}

// PreviewServer is the session coordinator.
type PreviewServer struct {
	config *config.Config
	root   string
	logger logging.Logger

	compiler    build.Compiler
	cache       *build.ModuleCache
	queue       *build.CompileQueue
	registry    *websocket.Registry
	broadcaster *websocket.Broadcaster
	manager     *websocket.Manager
	watcher     *watcher.FileWatcher
	snapshot    *project.Snapshot

	featuresMutex sync.RWMutex
	features      protocol.Features

	serverMutex sync.RWMutex
	httpServer  *http.Server
	listener    net.Listener
	errCh       chan error
	startedAt   time.Time

	shutdownOnce sync.Once
}

// New wires every component of a session from cfg and creates its cache
// session directory. Nothing is started.
func New(cfg *config.Config, opts ...Option) (*PreviewServer, error) {
	root, err := filepath.Abs(cfg.Project.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	s := &PreviewServer{
		config: cfg,
		root:   root,
		logger: logging.NewNopLogger(),
		errCh:  make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("server")

	if err := config.ValidateCacheDir(cfg.Compiler.CacheDir, root); err != nil {
		return nil, flickerrors.NewValidationFailed(flickerrors.ErrCodeInvalidCacheDir, err.Error()).
			WithHint("Point compiler.cache_dir at a directory flick can own, such as ~/.flick/eval_cache")
	}
	cacheDir, err := filepath.Abs(cfg.Compiler.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolving cache directory: %w", err)
	}
	sessionDir, err := build.NewSessionDir(cacheDir)
	if err != nil {
		return nil, flickerrors.NewInternalError(flickerrors.ErrCodeInternal, "failed to create session cache directory", err)
	}

	if s.compiler == nil {
		s.compiler = build.NewDartCompiler(build.DartCompilerConfig{
			Command:         cfg.Compiler.Command,
			Package:         cfg.Compiler.Package,
			ScratchDir:      sessionDir,
			OutputExtension: cfg.Compiler.OutputExtension,
			Logger:          s.logger.WithComponent("compiler"),
		})
	}

	s.cache = build.NewModuleCache(sessionDir)
	s.queue = build.NewCompileQueue(build.CompileQueueConfig{
		Compiler: s.compiler,
		Cache:    s.cache,
		Handler:  s.handleCompileOutcome,
		Pause:    cfg.Compiler.QueuePause,
		Logger:   s.logger.WithComponent("queue"),
	})

	s.registry = websocket.NewRegistry()
	wsLogger := s.logger.WithComponent("websocket")
	s.broadcaster = websocket.NewBroadcaster(s.registry, wsLogger)
	s.manager = websocket.NewManager(s.registry, &sessionHandler{server: s}, websocket.ManagerConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxMessageSize: cfg.Server.MaxMessageSize,
		PingInterval:   cfg.Server.PingInterval,
		WriteTimeout:   cfg.Server.WriteTimeout,
		SendBuffer:     cfg.Server.SendBuffer,
		Logger:         wsLogger,
	})

	fw, err := watcher.NewFileWatcher(watcher.Config{
		Root:       root,
		SourceDir:  cfg.Project.SourceDir,
		Debounce:   cfg.Watcher.Debounce,
		Extensions: cfg.Project.Extensions,
		Ignore:     cfg.Project.Ignore,
		Logger:     s.logger.WithComponent("watcher"),
	})
	if err != nil {
		_ = s.cache.Clear()
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if rel, err := filepath.Rel(root, cacheDir); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		fw.AddFilter(watcher.ExcludeDirFilter(filepath.ToSlash(rel)))
	}
	fw.AddHandler(s.handleFileChange)
	s.watcher = fw

	return s, nil
}

// Start validates the project, binds the listener and starts serving. It
// returns once the session is accepting connections; serve errors are
// reported on Errors.
func (s *PreviewServer) Start(ctx context.Context) error {
	validator := project.NewValidator(s.root, s.config.Project.SourceDir, s.config.Project.EntryPoint)
	if err := validator.Validate(); err != nil {
		return err
	}

	snapshot, err := project.Load(s.root, project.LoadOptions{
		SourceDir:  s.config.Project.SourceDir,
		EntryPoint: s.config.Project.EntryPoint,
		Filter:     s.watcher.Matches,
	})
	if err != nil {
		return flickerrors.NewValidationFailed(flickerrors.ErrCodeInvalidPubspec, err.Error())
	}
	s.snapshot = snapshot
	s.logger.Info(ctx, "Project loaded", "name", snapshot.Name(), "files", snapshot.FileCount())

	s.detectToolchain(ctx)

	addr := s.config.Server.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return bindError(addr, s.config.Server.Port, err)
	}

	httpServer := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.serverMutex.Lock()
	s.listener = listener
	s.httpServer = httpServer
	s.startedAt = time.Now()
	s.serverMutex.Unlock()

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(context.Background(), err, "HTTP server error")
			select {
			case s.errCh <- fmt.Errorf("server error: %w", err):
			default:
			}
		}
	}()
	s.logger.Info(ctx, "HTTP server running", "addr", listener.Addr().String())

	if err := s.watcher.Start(ctx); err != nil {
		s.logger.Warn(ctx, err, "Failed to start file watcher")
	}

	return nil
}

func (s *PreviewServer) detectToolchain(ctx context.Context) {
	enabled := s.config.Compiler.Enabled
	if enabled {
		if err := s.compiler.EnsureAvailable(ctx); err != nil {
			s.logger.Warn(ctx, err, "dart_eval unavailable, compilation disabled until it can be installed")
			enabled = false
		}
	}

	s.featuresMutex.Lock()
	s.features = protocol.Features{
		DartEval:    enabled,
		HotReload:   true,
		Compilation: enabled,
	}
	s.featuresMutex.Unlock()
}

func bindError(addr string, port int, err error) error {
	if errors.Is(err, syscall.EADDRINUSE) {
		return flickerrors.NewTransportBindFailed(flickerrors.ErrCodeAddressInUse, addr, err).
			WithHint(fmt.Sprintf("Port %d is already in use", port)).
			WithHint("Try using a different port with --port <number>")
	}
	return flickerrors.NewTransportBindFailed(flickerrors.ErrCodeBindFailed, addr, err)
}

// Features returns the advertised capabilities.
func (s *PreviewServer) Features() protocol.Features {
	s.featuresMutex.RLock()
	defer s.featuresMutex.RUnlock()
	return s.features
}

// Addr returns the bound listener address, or "" before Start.
func (s *PreviewServer) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Errors reports fatal serve errors after Start.
func (s *PreviewServer) Errors() <-chan error {
	return s.errCh
}

// Snapshot returns the project snapshot loaded by Start.
func (s *PreviewServer) Snapshot() *project.Snapshot {
	return s.snapshot
}

// Cache returns the module cache.
func (s *PreviewServer) Cache() *build.ModuleCache {
	return s.cache
}

// ClientCount returns the number of connected devices.
func (s *PreviewServer) ClientCount() int {
	return s.registry.Count()
}

// Shutdown stops the watcher, discards queued compiles, closes every
// session, stops the HTTP server and clears the module cache, in that
// order. Only the first call has any effect.
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn(ctx, err, "Failed to stop file watcher")
		}

		s.queue.Close()

		if err := s.manager.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, err, "Timed out closing client sessions")
		}

		s.serverMutex.RLock()
		httpServer := s.httpServer
		s.serverMutex.RUnlock()

		if httpServer != nil {
			shutdownErr = httpServer.Shutdown(ctx)
		}

		if err := s.cache.Clear(); err != nil {
			s.logger.Warn(ctx, err, "Failed to clear module cache")
		}

		s.logger.Info(ctx, "Server stopped")
	})

	return shutdownErr
}

// handleFileChange applies a settled file event to the snapshot and tells
// every device about it.
func (s *PreviewServer) handleFileChange(event watcher.ChangeEvent) error {
	ctx := context.Background()
	now := time.Now()

	if s.snapshot == nil {
		return nil
	}

	var msg protocol.FileEvent
	switch event.Type {
	case watcher.EventChanged:
		s.snapshot.SetFile(event.Path, event.Content)
		content := event.Content
		msg = protocol.NewFileEvent(protocol.TypeHotReload, event.Path, &content, now)
		s.logger.Info(ctx, "File changed", "path", event.Path)
	case watcher.EventAdded:
		s.snapshot.SetFile(event.Path, event.Content)
		content := event.Content
		msg = protocol.NewFileEvent(protocol.TypeFileAdded, event.Path, &content, now)
		s.logger.Info(ctx, "File added", "path", event.Path)
	case watcher.EventRemoved:
		s.snapshot.RemoveFile(event.Path)
		msg = protocol.NewFileEvent(protocol.TypeFileDeleted, event.Path, nil, now)
		s.logger.Info(ctx, "File deleted", "path", event.Path)
	default:
		return fmt.Errorf("unknown change event %s for %s", event.Type, event.Path)
	}

	sent := s.broadcaster.Broadcast(msg)
	s.logger.Debug(ctx, "Broadcast file event", "type", msg.Type, "clients", sent)
	return nil
}

// handleCompileOutcome replies to the requester and announces new modules.
func (s *PreviewServer) handleCompileOutcome(outcome build.CompileOutcome) {
	ctx := context.Background()
	job := outcome.Job

	switch result := outcome.Result.(type) {
	case build.CompileSucceeded:
		artifact := result.Artifact
		compiledAt := protocol.Timestamp(artifact.CompiledAt)

		s.broadcaster.SendTo(job.SessionID, protocol.CompilationComplete{
			Type:       protocol.TypeCompilationComplete,
			RequestID:  job.RequestID,
			Success:    true,
			ModuleID:   artifact.ID,
			ModuleName: artifact.Name,
			Size:       artifact.Size,
			Timestamp:  compiledAt,
		})

		s.broadcaster.Broadcast(protocol.ModuleCompiled{
			Type:       protocol.TypeModuleCompiled,
			ModuleID:   artifact.ID,
			ModuleName: artifact.Name,
			Size:       artifact.Size,
			ClientID:   job.SessionID,
			Timestamp:  compiledAt,
		})

		s.logger.Info(ctx, "Module compiled",
			"module", artifact.Name, "module_id", artifact.ID, "size", artifact.Size,
			"duration_ms", outcome.Duration.Milliseconds())

	case build.CompileFailed:
		s.logger.Error(ctx, result.Err, "Compilation error",
			"module", job.ModuleName, "request_id", job.RequestID, "client_id", job.SessionID)

		s.broadcaster.SendTo(job.SessionID, protocol.CompilationError{
			Type:       protocol.TypeCompilationError,
			RequestID:  job.RequestID,
			ModuleName: job.ModuleName,
			Error:      flickerrors.MessageOf(result.Err),
			Timestamp:  protocol.Timestamp(time.Now()),
		})
	}
}
