// Command argo-proxy runs an OpenAI-compatible HTTP proxy in front of the
// internal Argo inference API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	argoproxy "github.com/argonne-lcf/argoproxy"
	"github.com/argonne-lcf/argoproxy/argo"
	"github.com/argonne-lcf/argoproxy/internal/logging"
	"github.com/argonne-lcf/argoproxy/internal/tokens"
	"github.com/argonne-lcf/argoproxy/internal/version"
	"github.com/argonne-lcf/argoproxy/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		showCfg     bool
		host        string
		port        int
		numWorkers  int
		verbose     bool
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:   "argo-proxy [config]",
		Short: "OpenAI-compatible proxy for the Argo inference API",
		Long: `argo-proxy exposes chat completions, legacy completions, embeddings and
the responses API on top of the internal Argo service, translating between
the OpenAI wire format and Argo's own.

Configuration is read from the given file, from CONFIG_PATH, or from the
default search paths; the first run on a terminal creates one.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Println(version.String())
				return nil
			}

			// Flags are exported as environment overrides so the loader
			// keeps a single precedence chain: flags > env > file.
			if len(args) == 1 {
				os.Setenv(argoproxy.EnvConfigPath, args[0])
			}
			if showCfg {
				os.Setenv(argoproxy.EnvShowConfig, "true")
			}
			if cmd.Flags().Changed("host") {
				os.Setenv(argoproxy.EnvHost, host)
			}
			if cmd.Flags().Changed("port") {
				os.Setenv(argoproxy.EnvPort, strconv.Itoa(port))
			}
			if cmd.Flags().Changed("num-worker") {
				os.Setenv(argoproxy.EnvNumWorkers, strconv.Itoa(numWorkers))
			}
			if cmd.Flags().Changed("verbose") {
				os.Setenv(argoproxy.EnvVerbose, strconv.FormatBool(verbose))
			}

			return run(cmd.Context())
		},
	}

	cmd.Flags().BoolVarP(&showCfg, "show", "s", false, "print the effective configuration at startup")
	cmd.Flags().StringVarP(&host, "host", "H", argoproxy.DefaultHost, "bind address")
	cmd.Flags().IntVarP(&port, "port", "p", argoproxy.DefaultPort, "bind port")
	cmd.Flags().IntVarP(&numWorkers, "num-worker", "n", argoproxy.DefaultNumWorkers, "request-handling parallelism")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging and payload dumps")
	cmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")

	return cmd
}

func run(ctx context.Context) error {
	cfg, err := argoproxy.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logging.Setup(cfg.Verbose, os.Getenv("LOG_FORMAT"))
	runtime.GOMAXPROCS(cfg.NumWorkers)

	p := newProxy(cfg, models.New(), argo.NewClient(), tokens.NewCounter())
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: newRouter(p),
		// No WriteTimeout: SSE streams stay open up to the per-request
		// deadline, which the handlers enforce themselves.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logging.Logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Logger.Error("shutdown error", "error", err)
		}
	}()

	logging.Logger.Info("argo-proxy listening",
		"version", version.Short(),
		"addr", cfg.Addr(),
		"user", cfg.User,
		"workers", cfg.NumWorkers,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	logging.Logger.Info("server stopped")
	return nil
}
