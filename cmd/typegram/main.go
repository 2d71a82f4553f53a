// Package main provides the CLI entrypoint for typegram.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/typegram/internal/analysis"
	"github.com/verte-zerg/typegram/internal/api"
	"github.com/verte-zerg/typegram/internal/config"
	"github.com/verte-zerg/typegram/internal/importer"
	"github.com/verte-zerg/typegram/internal/metrics"
	"github.com/verte-zerg/typegram/internal/model"
	"github.com/verte-zerg/typegram/internal/sessionlock"
	"github.com/verte-zerg/typegram/internal/stats"
	"github.com/verte-zerg/typegram/internal/store"
	"github.com/verte-zerg/typegram/internal/summary"
)

var (
	dbPath     string
	configPath string
	debug      bool
	logFormat  string

	fileCfg config.FileConfig
	logger  *slog.Logger
)

type engineFlags struct {
	minSize int
	maxSize int
	timeout time.Duration
	workers int
}

type rankFlags struct {
	size           int
	minOccurrences int
	limit          int
	sessionID      string
	keyboardID     string
	asJSON         bool
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "typegram",
		Short:             "Keystroke n-gram speed and error analysis",
		SilenceUsage:      true,
		SilenceErrors:     false,
		PersistentPreRunE: setup,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DefaultDBPath(), "path to the SQLite database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to the TOML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newSummarizeCmd())
	rootCmd.AddCommand(newRankCmd("slowest", "Show the slowest n-grams", rankSlowest))
	rootCmd.AddCommand(newRankCmd("errors", "Show the most error-prone n-grams", rankErrors))
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func setup(cmd *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	switch logFormat {
	case "text":
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), opts))
	case "json":
		logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), opts))
	default:
		return fmt.Errorf("--log-format must be text or json")
	}
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fileCfg = cfg
	return nil
}

func openStore() (*store.Store, func(), error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db: %w", err)
	}
	closeFn := func() {
		if cerr := st.Close(); cerr != nil {
			logger.Error("failed to close db", "err", cerr)
		}
	}
	return st, closeFn, nil
}

func addEngineFlags(cmd *cobra.Command, f *engineFlags) {
	cmd.Flags().IntVar(&f.minSize, "min-size", config.DefaultMinSize, "smallest n-gram size")
	cmd.Flags().IntVar(&f.maxSize, "max-size", config.DefaultMaxSize, "largest n-gram size")
	cmd.Flags().DurationVar(&f.timeout, "timeout", config.DefaultTimeout, "deadline for one session")
	cmd.Flags().IntVar(&f.workers, "workers", config.DefaultWorkers, "sessions analyzed in parallel")
}

func resolveEngine(cmd *cobra.Command, f *engineFlags) (model.EngineConfig, error) {
	applyIntConfig(cmd, "min-size", &f.minSize, fileCfg.Engine.MinSize)
	applyIntConfig(cmd, "max-size", &f.maxSize, fileCfg.Engine.MaxSize)
	applyDurationConfig(cmd, "timeout", &f.timeout, fileCfg.Engine.TimeoutValue())
	applyIntConfig(cmd, "workers", &f.workers, fileCfg.Engine.Workers)
	cfg := model.EngineConfig{
		MinSize: f.minSize,
		MaxSize: f.maxSize,
		Timeout: f.timeout,
		Workers: f.workers,
	}
	if err := config.ValidateEngine(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func addRankFlags(cmd *cobra.Command, f *rankFlags) {
	cmd.Flags().IntVar(&f.size, "size", config.DefaultRankSize, "n-gram size to rank")
	cmd.Flags().IntVar(&f.minOccurrences, "min-occurrences", config.DefaultMinOccurrences, "minimum occurrences across sessions")
	cmd.Flags().IntVar(&f.limit, "limit", config.DefaultLimit, "maximum rows (0 = no limit)")
	cmd.Flags().StringVar(&f.sessionID, "session", "", "restrict to one session")
	cmd.Flags().StringVar(&f.keyboardID, "keyboard", "", "restrict summary rankings to one keyboard")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print JSON instead of a table")
}

func resolveRank(cmd *cobra.Command, f *rankFlags) (model.RankQuery, error) {
	applyIntConfig(cmd, "size", &f.size, fileCfg.Rank.Size)
	applyIntConfig(cmd, "min-occurrences", &f.minOccurrences, fileCfg.Rank.MinOccurrences)
	applyIntConfig(cmd, "limit", &f.limit, fileCfg.Rank.Limit)
	if err := config.ValidateRank(model.RankConfig{Size: f.size, MinOccurrences: f.minOccurrences, Limit: f.limit}); err != nil {
		return model.RankQuery{}, err
	}
	return model.RankQuery{
		Size:           f.size,
		MinOccurrences: f.minOccurrences,
		Limit:          f.limit,
		SessionID:      f.sessionID,
		KeyboardID:     f.keyboardID,
	}, nil
}

func newAnalyzeCmd() *cobra.Command {
	var ef engineFlags
	var pending bool
	cmd := &cobra.Command{
		Use:   "analyze [SESSION...]",
		Short: "Classify sessions into n-gram speed and error records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pending == (len(args) > 0) {
				return fmt.Errorf("pass session ids or --pending")
			}
			cfg, err := resolveEngine(cmd, &ef)
			if err != nil {
				return err
			}
			st, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			an, err := analysis.New(st, cfg, analysis.Options{Logger: logger})
			if err != nil {
				return err
			}
			var reports []model.AnalysisReport
			if pending {
				reports, err = an.AnalyzePending(cmd.Context())
			} else {
				reports, err = an.AnalyzeSessions(cmd.Context(), args)
			}
			if rerr := stats.RenderAnalysis(cmd.OutOrStdout(), reports, stats.ShouldUseColor(cmd.OutOrStdout())); rerr != nil {
				return fmt.Errorf("failed to write output: %w", rerr)
			}
			if err != nil {
				return err
			}
			for _, r := range reports {
				if len(r.Failed()) > 0 {
					return fmt.Errorf("some n-gram sizes failed to save")
				}
			}
			return nil
		},
	}
	addEngineFlags(cmd, &ef)
	cmd.Flags().BoolVar(&pending, "pending", false, "analyze every session without n-gram records")
	return cmd
}

func newSummarizeCmd() *cobra.Command {
	var ef engineFlags
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Aggregate analyzed sessions into summary rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveEngine(cmd, &ef)
			if err != nil {
				return err
			}
			st, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			agg := summary.New(st, summary.Options{Logger: logger, Timeout: cfg.Timeout})
			report, err := agg.Run(cmd.Context())
			if err != nil {
				return err
			}
			if err := stats.RenderSummaryReport(cmd.OutOrStdout(), report, stats.ShouldUseColor(cmd.OutOrStdout())); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			if len(report.Failures) > 0 {
				return fmt.Errorf("%d sessions failed to summarize", len(report.Failures))
			}
			return nil
		},
	}
	addEngineFlags(cmd, &ef)
	return cmd
}

type rankKind int

const (
	rankSlowest rankKind = iota
	rankErrors
)

func newRankCmd(use, short string, kind rankKind) *cobra.Command {
	var rf rankFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := resolveRank(cmd, &rf)
			if err != nil {
				return err
			}
			st, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			title, metric := "Slowest n-grams", "ms/key"
			rank := st.SlowestNGrams
			if kind == rankErrors {
				title, metric = "Most error-prone n-grams", "Errors"
				rank = st.MostErrorProneNGrams
			}
			ranked, err := rank(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("failed to rank n-grams: %w", err)
			}
			out := cmd.OutOrStdout()
			if rf.asJSON {
				return writeJSON(out, ranked)
			}
			return stats.RenderRanking(out, title, metric, ranked, stats.ShouldUseColor(out))
		},
	}
	addRankFlags(cmd, &rf)
	return cmd
}

func newReportCmd() *cobra.Command {
	var rf rankFlags
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show every ranking for one n-gram size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := resolveRank(cmd, &rf)
			if err != nil {
				return err
			}
			st, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			rep, err := stats.BuildReport(cmd.Context(), st, q)
			if err != nil {
				return fmt.Errorf("failed to build report: %w", err)
			}
			out := cmd.OutOrStdout()
			if rf.asJSON {
				return writeJSON(out, map[string]any{
					"slowest":     rep.Slowest,
					"error_prone": rep.ErrorProne,
					"vs_target":   rep.VsTarget,
				})
			}
			return stats.RenderReport(out, rep, stats.ShouldUseColor(out))
		},
	}
	addRankFlags(cmd, &rf)
	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE...",
		Short: "Load keyboards and sessions from YAML or JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			im := importer.New(st, logger)
			for _, path := range args {
				res, err := im.ImportFile(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %d keyboards, %d sessions\n", path, res.Keyboards, len(res.Sessions)); err != nil {
					return fmt.Errorf("failed to write output: %w", err)
				}
			}
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	var ef engineFlags
	var rf rankFlags
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			applyStringConfig(cmd, "addr", &addr, fileCfg.Serve.Addr)
			engineCfg, err := resolveEngine(cmd, &ef)
			if err != nil {
				return err
			}
			q, err := resolveRank(cmd, &rf)
			if err != nil {
				return err
			}
			st, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(reg)
			locks := &sessionlock.Locker{}

			an, err := analysis.New(st, engineCfg, analysis.Options{Logger: logger, Metrics: m, Locks: locks})
			if err != nil {
				return err
			}
			agg := summary.New(st, summary.Options{Logger: logger, Metrics: m, Locks: locks, Timeout: engineCfg.Timeout})

			h := api.NewHandler(api.Config{
				Analyzer:   an,
				Summarizer: agg,
				Ranker:     st,
				Defaults:   model.RankConfig{Size: q.Size, MinOccurrences: q.MinOccurrences, Limit: q.Limit},
				Gatherer:   reg,
				Logger:     logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return api.ListenAndServe(ctx, addr, h, logger)
		},
	}
	addEngineFlags(cmd, &ef)
	addRankFlags(cmd, &rf)
	cmd.Flags().StringVar(&addr, "addr", config.DefaultAddr, "listen address")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := configPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(config.Template()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return errors.New("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyDurationConfig(cmd *cobra.Command, name string, target, value *time.Duration) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}
