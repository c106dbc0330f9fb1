package build

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	flickerrors "github.com/conneroisu/flick/internal/errors"
	"github.com/conneroisu/flick/internal/logging"
	"github.com/conneroisu/flick/internal/validation"
)

// Compiler turns Dart source into an Artifact.
type Compiler interface {
	// EnsureAvailable verifies the toolchain, installing it if needed.
	EnsureAvailable(ctx context.Context) error
	// Compile compiles one source unit under the given module name.
	Compile(ctx context.Context, source, moduleName string) (*Artifact, error)
}

// CommandRunner executes name with args inside dir and returns its captured
// stdout and stderr. err is non-nil on a non-zero exit or a failed start.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)

// ExecRunner runs commands with os/exec. The process is killed when ctx is
// cancelled.
func ExecRunner(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

var allowedCommands = map[string]bool{
	"dart": true,
}

// DartCompilerConfig configures a DartCompiler.
type DartCompilerConfig struct {
	Command         string
	Package         string
	ScratchDir      string
	OutputExtension string
	Runner          CommandRunner
	Logger          logging.Logger
	Now             func() time.Time
}

// DartCompiler compiles source with `dart eval compile` from the dart_eval
// package. Each compile runs in its own scratch directory that is removed
// afterwards.
type DartCompiler struct {
	command    string
	pkg        string
	scratchDir string
	outputExt  string
	runner     CommandRunner
	logger     logging.Logger
	now        func() time.Time

	installMu sync.Mutex
	installed bool
}

// NewDartCompiler creates a compiler. Zero fields in cfg take the defaults.
func NewDartCompiler(cfg DartCompilerConfig) *DartCompiler {
	dc := &DartCompiler{
		command:    cfg.Command,
		pkg:        cfg.Package,
		scratchDir: cfg.ScratchDir,
		outputExt:  cfg.OutputExtension,
		runner:     cfg.Runner,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if dc.command == "" {
		dc.command = "dart"
	}
	if dc.pkg == "" {
		dc.pkg = "dart_eval"
	}
	if dc.scratchDir == "" {
		dc.scratchDir = os.TempDir()
	}
	if dc.outputExt == "" {
		dc.outputExt = ".evc"
	}
	if dc.runner == nil {
		dc.runner = ExecRunner
	}
	if dc.logger == nil {
		dc.logger = logging.NewNopLogger()
	}
	if dc.now == nil {
		dc.now = time.Now
	}
	dc.logger = dc.logger.WithComponent("compiler")
	return dc
}

// EnsureAvailable checks that dart_eval is globally activated and activates
// it otherwise. A failed install is not remembered so it can be retried.
func (dc *DartCompiler) EnsureAvailable(ctx context.Context) error {
	dc.installMu.Lock()
	defer dc.installMu.Unlock()

	if dc.installed {
		return nil
	}

	if err := validation.ValidateCommand(dc.command, allowedCommands); err != nil {
		return flickerrors.NewToolchainUnavailable(flickerrors.ErrCodeToolchainMissing,
			"compiler command rejected", err)
	}

	stdout, _, err := dc.runner(ctx, "", dc.command, "pub", "global", "list")
	if err != nil {
		return dc.toolchainError(err, "Failed to query global packages")
	}

	if hasGlobalPackage(stdout, dc.pkg) {
		dc.installed = true
		return nil
	}

	dc.logger.Info(ctx, "Installing dart_eval", "package", dc.pkg)

	_, stderr, err := dc.runner(ctx, "", dc.command, "pub", "global", "activate", dc.pkg)
	if err != nil {
		if detail := strings.TrimSpace(string(stderr)); detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return dc.toolchainError(err, "Failed to install "+dc.pkg)
	}

	dc.installed = true
	dc.logger.Info(ctx, "dart_eval installed", "package", dc.pkg)
	return nil
}

// Compile writes source to <moduleName>.dart in a fresh scratch directory,
// runs `dart eval compile` on it and reads back the produced bytecode.
func (dc *DartCompiler) Compile(ctx context.Context, source, moduleName string) (*Artifact, error) {
	if err := validation.ValidateModuleName(moduleName); err != nil {
		return nil, flickerrors.NewCompilationFailed(flickerrors.ErrCodeInvalidModuleName, moduleName, err.Error())
	}

	if err := dc.EnsureAvailable(ctx); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dc.scratchDir, 0755); err != nil {
		return nil, flickerrors.NewInternalError(flickerrors.ErrCodeInternal, "failed to create scratch directory", err)
	}

	workDir, err := os.MkdirTemp(dc.scratchDir, "compile_"+moduleName+"_*")
	if err != nil {
		return nil, flickerrors.NewInternalError(flickerrors.ErrCodeInternal, "failed to create compile directory", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			dc.logger.Warn(ctx, rmErr, "Failed to remove compile directory", "dir", workDir)
		}
	}()

	sourceFile := moduleName + ".dart"
	outputFile := moduleName + dc.outputExt

	if err := os.WriteFile(filepath.Join(workDir, sourceFile), []byte(source), 0644); err != nil {
		return nil, flickerrors.NewInternalError(flickerrors.ErrCodeInternal, "failed to write source file", err)
	}

	_, stderr, err := dc.runner(ctx, workDir, dc.command, "eval", "compile", "-o", outputFile, sourceFile)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("compilation of %s cancelled: %w", moduleName, ctx.Err())
		}
		if isMissingExecutable(err) {
			return nil, dc.toolchainError(err, "Failed to run compiler")
		}
		return nil, flickerrors.NewCompilationFailed(flickerrors.ErrCodeCompileFailed, moduleName,
			strings.TrimSpace(string(stderr)))
	}

	payload, err := os.ReadFile(filepath.Join(workDir, outputFile))
	if err != nil {
		return nil, flickerrors.NewCompilationFailed(flickerrors.ErrCodeMissingOutput, moduleName,
			"compiler produced no output file "+outputFile)
	}

	return NewArtifact(moduleName, payload, dc.now()), nil
}

func (dc *DartCompiler) toolchainError(err error, message string) error {
	code := flickerrors.ErrCodeInstallFailed
	if isMissingExecutable(err) {
		code = flickerrors.ErrCodeToolchainMissing
	}
	return flickerrors.NewToolchainUnavailable(code, message, err).
		WithHint("Install the Dart SDK and make sure `" + dc.command + "` is on PATH")
}

func isMissingExecutable(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// hasGlobalPackage scans `dart pub global list` output for a line starting
// with pkg.
func hasGlobalPackage(output []byte, pkg string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[0] == pkg {
			return true
		}
	}
	return false
}
