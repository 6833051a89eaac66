// Command axiomme is the thin CLI wiring harness assembling the DRR
// engine, the durable outbox queue, and the ontology/OM components into
// runnable subcommands: a root command with one factory function per
// subcommand area (rootCmd.AddCommand(queueCmd()) etc). This is wiring,
// not a reimplementation of the CLI surface itself — argument parsing and
// real index population are handled by the collaborators a full
// deployment wires this binary up to.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/axiomme/axiomme/internal/apierr"
	"github.com/axiomme/axiomme/internal/config"
	"github.com/axiomme/axiomme/internal/drr"
	"github.com/axiomme/axiomme/internal/filter"
	"github.com/axiomme/axiomme/internal/indexstore"
	"github.com/axiomme/axiomme/internal/logging"
	"github.com/axiomme/axiomme/internal/ontology"
	"github.com/axiomme/axiomme/internal/queue"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	verbose bool
	reqLog  *store.RequestLogger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "axiomme",
		Short: "AxiomMe: a local-first personal context database",
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.axiomme/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(ontologyCmd())
	rootCmd.AddCommand(configCmd())

	if cfg, err := loadConfig(); err == nil {
		if rl, err := store.OpenRequestLog(cfg.Logging.RequestLogFile); err == nil {
			reqLog = rl
			defer reqLog.Close()
		}
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// logOutcome appends one request-log entry if the log is open. start is the
// operation's begin time; outcome is "ok" or "error".
func logOutcome(operation, targetURI, outcome, traceID string, start time.Time) {
	if reqLog == nil {
		return
	}
	reqLog.Log(store.RequestLogEntry{
		Operation: operation,
		URI:       targetURI,
		Outcome:   outcome,
		Duration:  time.Since(start),
		TraceID:   traceID,
	})
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("axiomme dev")
			return nil
		},
	}
}

// searchCmd exercises the DRR engine against an index that, outside this
// thin CLI, is populated by the (out-of-scope) filesystem/markdown
// collaborators; here it reads nothing but reports the exit-code/stdout
// contract §6 specifies (structured payload to stdout on error).
func searchCmd() *cobra.Command {
	var alpha float64
	var topK int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "run a DRR hybrid search against the in-memory index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			cfg, err := loadConfig()
			if err != nil {
				return emitErr("search", "", err)
			}

			idx := indexstore.New()
			engine := drr.New(idx, drr.Config{
				Alpha:                coalesce(alpha, cfg.DRR.Alpha),
				GlobalTopK:           coalesceInt(topK, cfg.DRR.GlobalTopK),
				MaxConvergenceRounds: cfg.DRR.MaxConvergenceRounds,
				MaxDepth:             cfg.DRR.MaxDepth,
				MaxNodes:             cfg.DRR.MaxNodes,
			})

			plan, err := drr.Plan(cmd.Context(), idx, args[0], filter.SearchFilter{}, nil)
			if err != nil {
				return emitErr("search", "", err)
			}
			trace := engine.Search(plan, drr.SearchBudget{})

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(trace); err != nil {
				return emitErr("search", "", err)
			}
			logOutcome("search", "", "ok", uuid.New().String(), start)
			return nil
		},
	}
	cmd.Flags().Float64Var(&alpha, "alpha", 0, "override the lexical/vector weighting (0 uses config default)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "override global_topk (0 uses config default)")
	return cmd
}

func coalesce(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func coalesceInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "drive the outbox worker/daemon loop",
	}
	cmd.AddCommand(queueWorkerCmd())
	cmd.AddCommand(queueDaemonCmd())
	return cmd
}

func openDB() (*store.DB, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(cfg.Store.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

func runnerFromConfig(db *store.DB, cfg *config.Config) *queue.Runner {
	return queue.New(db, queue.Config{
		ClaimBatchSize:       cfg.Queue.ClaimBatchSize,
		MaxAttempts:          cfg.Queue.MaxAttempts,
		MaxBackoffSeconds:    cfg.Queue.MaxBackoffSeconds,
		PollInterval:         cfg.Queue.PollInterval,
		IdleCyclesBeforeStop: cfg.Queue.IdleCyclesBeforeStop,
	}, "cli-worker", map[store.Lane]queue.Handler{
		store.LaneSemantic:  noopHandler,
		store.LaneEmbedding: noopHandler,
	})
}

// noopHandler stands in for the real index-upsert/OM-advance/ontology
// side effects, which live in the (out-of-scope) collaborators that wire
// this CLI up to a real filesystem/relational store in a full deployment.
func noopHandler(ctx context.Context, ev store.OutboxEvent) error {
	logging.Global().Info("processed event %s (%s) for %s", ev.ID, ev.EventType, ev.TargetURI)
	return nil
}

func queueWorkerCmd() *cobra.Command {
	var iterations int
	var stopOnEmpty bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "run a bounded number of claim/process cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			db, cfg, err := openDB()
			if err != nil {
				return emitErr("queue_worker", "", err)
			}
			defer db.Close()

			runner := runnerFromConfig(db, cfg)
			report, err := runner.RunWorker(cmd.Context(), iterations, stopOnEmpty)
			if err != nil {
				return emitErr("queue_worker", "", err)
			}
			logOutcome("queue_worker", "", "ok", uuid.New().String(), start)
			return printJSON(report)
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", 1, "maximum number of cycles to run")
	cmd.Flags().BoolVar(&stopOnEmpty, "stop-on-empty", true, "stop early once a cycle claims nothing")
	return cmd
}

func queueDaemonCmd() *cobra.Command {
	var maxCycles int
	var stopWhenIdle bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "run the long-lived daemon loop until idle",
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			db, cfg, err := openDB()
			if err != nil {
				return emitErr("queue_daemon", "", err)
			}
			defer db.Close()

			runner := runnerFromConfig(db, cfg)
			report, err := runner.RunDaemon(cmd.Context(), maxCycles, stopWhenIdle)
			if err != nil {
				return emitErr("queue_daemon", "", err)
			}
			logOutcome("queue_daemon", "", "ok", uuid.New().String(), start)
			return printJSON(report)
		},
	}
	cmd.Flags().IntVar(&maxCycles, "max-cycles", 100, "maximum number of cycles to run")
	cmd.Flags().BoolVar(&stopWhenIdle, "stop-when-idle", true, "stop after idle_cycles_before_stop consecutive empty cycles")
	return cmd
}

func ontologyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ontology",
		Short: "inspect and validate the ontology schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [schema-path]",
		Short: "compile a schema file and report success or an ontology_violation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return emitErr("ontology_validate", "", err)
			}
			if _, err := ontology.Compile(raw); err != nil {
				return emitErr("ontology_validate", "", err)
			}
			logOutcome("ontology_validate", args[0], "ok", uuid.New().String(), start)
			fmt.Println("schema OK")
			return nil
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "inspect AxiomMe's resolved configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "print the resolved config as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			cfg, err := loadConfig()
			if err != nil {
				return emitErr("config_show", "", err)
			}
			logOutcome("config_show", "", "ok", uuid.New().String(), start)
			return printJSON(cfg)
		},
	})
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// emitErr prints the structured §6 error payload to stdout, appends a
// request-log entry recording the failure, and returns a plain error so
// cobra prints the human-readable reason to stderr and exits non-zero.
func emitErr(operation, targetURI string, err error) error {
	payload := apierr.ToPayload(operation, targetURI, err)
	_ = json.NewEncoder(os.Stdout).Encode(payload)
	logOutcome(operation, targetURI, "error", payload.TraceID, time.Now())
	return fmt.Errorf("%s: %w", operation, err)
}
