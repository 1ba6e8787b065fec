/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the recurrence engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags (environment variables as fallback)
  2. Load the YAML config file and apply flag overrides
  3. Set up the zerolog logger
  4. Initialize SQLite store
  5. Build the engine (timezone, occurrence cap) and API handler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  --config           YAML config file (env RECURRENCE_CONFIG)
  --listen           HTTP listen address (env RECURRENCE_LISTEN)
  --db               SQLite database path, ":memory:" allowed (env RECURRENCE_DB)
  --timezone         IANA timezone of the local calendar (env RECURRENCE_TIMEZONE)
  --max-occurrences  Cap on one expansion (env RECURRENCE_MAX_OCCURRENCES)
  --log-level        debug, info, warn, error (env RECURRENCE_LOG_LEVEL)
  --log-file         Log file; empty for stdout, "console" for pretty stderr

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  ./server --db=./data/recurrence.db --timezone=Europe/Paris
  ./server --db=":memory:" --log-file=console --log-level=debug

SEE ALSO:
  - config/config.go: File format and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
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

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/warp/recurrence-engine/api"
	"github.com/warp/recurrence-engine/config"
	"github.com/warp/recurrence-engine/logutils"
	"github.com/warp/recurrence-engine/recurrence"
	"github.com/warp/recurrence-engine/store/sqlite"
)

var version = "dev"

func main() {
	app := &cli.Command{
		Name:    "recurrence-server",
		Usage:   "Expand recurring tasks and track their completion",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config file",
				Sources: cli.EnvVars("RECURRENCE_CONFIG"),
				Value:   "recurrence.yaml",
			},
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "HTTP listen address",
				Sources: cli.EnvVars("RECURRENCE_LISTEN"),
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "SQLite database path (\":memory:\" for in-memory)",
				Sources: cli.EnvVars("RECURRENCE_DB"),
			},
			&cli.StringFlag{
				Name:    "timezone",
				Usage:   "IANA timezone of the local calendar",
				Sources: cli.EnvVars("RECURRENCE_TIMEZONE"),
			},
			&cli.IntFlag{
				Name:    "max-occurrences",
				Usage:   "maximum occurrences produced by one expansion",
				Sources: cli.EnvVars("RECURRENCE_MAX_OCCURRENCES"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error, fatal, panic)",
				Sources: cli.EnvVars("RECURRENCE_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "path to log file, empty for stdout, \"console\" for pretty stderr",
				Sources: cli.EnvVars("RECURRENCE_LOG_FILE"),
			},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, closeLog, err := logutils.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer closeLog()
	log.Logger = logger

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	evaluator := recurrence.NewEvaluator(recurrence.NewExpanderWithConfig(engineCfg))

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	handler := api.NewHandler(store, evaluator, logutils.Component(logger, "api"))
	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("listen", cfg.Listen).
			Str("db", cfg.DBPath).
			Str("timezone", engineCfg.Location.String()).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

// loadConfig reads the config file and lets explicitly set flags win.
func loadConfig(c *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if c.IsSet("timezone") {
		cfg.Timezone = c.String("timezone")
	}
	if c.IsSet("max-occurrences") {
		cfg.MaxOccurrences = int(c.Int("max-occurrences"))
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.Log.File = c.String("log-file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
