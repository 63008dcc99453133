package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"

	"github.com/fabfab/fundlens/api"
	"github.com/fabfab/fundlens/app"
	"github.com/fabfab/fundlens/config"
	"github.com/fabfab/fundlens/ingestion"
	"github.com/fabfab/fundlens/logging"
	"github.com/fabfab/fundlens/mcpserver"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

var (
	configPath string
	logLevel   string

	cfg    config.Config
	logger *log.Logger
)

var rootCmd = &cobra.Command{
	Use:           "fundlens",
	Short:         "Retrieval and commentary over fund annual reports",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger = logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the temporary source cleanup",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the agent tools to MCP clients over stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fundlens version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (default fundlens.yaml or $FUNDLENS_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	serveCmd.Flags().String("addr", "", "listen address (overrides config)")

	rootCmd.AddCommand(serveCmd, mcpCmd, versionCmd)
	rootCmd.AddCommand(ingestCmd, documentsCmd, chatCmd, commentCmd, attachCmd, sourcesCmd, deleteCmd, cleanupCmd, clearCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openApp builds the services for one command. The caller closes it.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("start fundlens: %w", err)
	}
	return a, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cleanup := ingestion.NewCleanup(a.Processor, cfg.Sources.TemporaryTTL, logger)
	if err := cleanup.Start(cfg.Sources.CleanupSchedule); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	defer cleanup.Stop()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.New(a, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", cfg.Server.Addr).Str("version", version).Msg("HTTP server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info().Int("tools", len(a.Tools.Tools())).Msg("serving MCP over stdio")
	return mcpserver.Serve(mcpserver.New(a.Tools, version, logger))
}
