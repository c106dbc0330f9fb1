package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/flick/internal/config"
	flickerrors "github.com/conneroisu/flick/internal/errors"
	"github.com/conneroisu/flick/internal/logging"
	"github.com/conneroisu/flick/internal/server"
)

const shutdownTimeout = 10 * time.Second

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"s", "serve"},
	Short:   "Start the preview server for the current Flutter project",
	Long: `Start the preview server for a Flutter project.

The project must contain pubspec.yaml, lib/ and lib/main.dart. Devices
connect over WebSocket on the same port as the HTTP API.

Examples:
  flick start                    # Serve the current directory
  flick start --root ../my_app   # Serve another project
  flick start -p 9000 --host 127.0.0.1`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().IntP("port", "p", config.DefaultPort, "Port to serve on")
	startCmd.Flags().String("host", config.DefaultHost, "Host to bind to")
	startCmd.Flags().StringP("root", "r", ".", "Flutter project root")
	startCmd.Flags().Bool("compile", true, "Enable on-device compile requests through dart_eval")
	startCmd.Flags().Duration("debounce", config.DefaultDebounce, "Quiet period before a file change is pushed")

	bindFlags(startCmd.Flags(), map[string]string{
		"port":     "server.port",
		"host":     "server.host",
		"root":     "project.root",
		"compile":  "compiler.enabled",
		"debounce": "watcher.debounce",
	})
}

// bindFlags binds each named flag to its viper key.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		_ = viper.BindPFlag(key, flags.Lookup(name))
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger, cmd.OutOrStdout()); err != nil {
		printHints(cmd.ErrOrStderr(), err)
		return err
	}
	return nil
}

// serve runs one session until ctx is cancelled or the HTTP server fails.
func serve(ctx context.Context, cfg *config.Config, logger logging.Logger, out io.Writer, opts ...server.Option) error {
	opts = append([]server.Option{server.WithLogger(logger)}, opts...)
	srv, err := server.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return err
	}

	printBanner(out, srv.Snapshot().Name(), cfg.Server.Host, listenPort(srv.Addr(), cfg.Server.Port), localIPv4s())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-srv.Errors():
	}

	fmt.Fprintln(out, "Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, err, "Error during server shutdown")
	}

	return serveErr
}

func printHints(w io.Writer, err error) {
	hints := flickerrors.HintsOf(err)
	if len(hints) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, hint := range hints {
		fmt.Fprintf(w, "  - %s\n", hint)
	}
}
