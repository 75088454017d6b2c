// Command spmedge runs the SPM Edge document-processing pipeline: INPUT,
// LOAD, CLEAN, PROCESS, and INDEX stages over a PostgreSQL-backed (or
// in-memory) state store, plus the RAG indexing and query operations.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/spf13/cobra"

	"github.com/spmedge/pipeline/internal/config"
	"github.com/spmedge/pipeline/internal/pipeline"
	"github.com/spmedge/pipeline/internal/store"
)

// exitError carries the process exit code spec §6 assigns to a failure
// class: 1 for configuration errors, 2 for a batch in which every document
// failed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error { return &exitError{code: 1, err: err} }
func operationalError(err error) error {
	return &exitError{code: 2, err: err}
}

var (
	configPath string
	verbose    bool
	limit      int
)

var rootCmd = &cobra.Command{
	Use:   "spmedge",
	Short: "SPM Edge document-processing pipeline",
	Long: `spmedge ingests heterogeneous documents, extracts and cleans their
content, dispatches them through an LLM for structured extraction, and
indexes the results for hybrid retrieval.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().IntVarP(&limit, "limit", "l", 0, "max documents to process (0 = the batch.size setting, else the stage's own default)")

	rootCmd.AddCommand(batchCmd, loaderCmd, cleanerCmd, processorCmd, ragCmd)
}

// app bundles everything a command needs once config is loaded: the
// resolved pipeline context and the underlying store (closed by the
// caller if it's a *store.Postgres).
type app struct {
	cfg  *config.Config
	pctx *pipeline.Context
	st   store.Store
}

// loadApp reads config, connects the store (Postgres if configured, else
// in-memory), and ensures the stage directories exist.
func loadApp(ctx context.Context) (*app, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg, err = config.LoadDefault()
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
	}

	var st store.Store
	closer := func() {}
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		st = pg
		closer = func() { pg.Close() }
	} else {
		slog.Warn("no database.url configured, using in-memory store")
		st = store.NewMemory()
	}

	pctx := pipeline.NewContext(st, cfg.Directories.DataRoot)
	if err := pctx.EnsureDirectories(); err != nil {
		closer()
		return nil, nil, fmt.Errorf("ensure directories: %w", err)
	}

	return &app{cfg: cfg, pctx: pctx, st: st}, closer, nil
}

// resolveLimit applies the --limit flag over a stage's own default.
func resolveLimit() int { return limit }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		os.Exit(code)
	}
}
