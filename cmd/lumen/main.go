package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lumen/backend/internal/config"
	"lumen/backend/internal/lumen"
	"lumen/backend/internal/research"
)

var (
	// Global flags
	verbose     bool
	maxDepth    int
	delay       time.Duration
	branches    int
	model       string
	concurrency int
	outPath     string
	showTree    bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lumen",
	Short: "Recursive research over the Lumen query service",
	Long: `lumen asks a question, follows up on the context the service reports as
missing, and prints the resulting research tree as JSON.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded

		zapCfg := zap.NewDevelopmentConfig()
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().IntVar(&maxDepth, "depth", 0, "Maximum research depth (default RESEARCH_MAX_DEPTH)")
	rootCmd.PersistentFlags().DurationVar(&delay, "delay", -1, "Pause before each follow-up call (default RESEARCH_DELAY_MS)")
	rootCmd.PersistentFlags().IntVar(&branches, "branches", 0, "Follow-ups explored per node (default RESEARCH_MAX_BRANCHES)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Model name (default LUMEN_MODEL)")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "Parallel extractions for multi (default RESEARCH_SCHEMA_CONCURRENCY)")
	rootCmd.PersistentFlags().StringVarP(&outPath, "out", "o", "", "Write JSON to this file instead of stdout")
	rootCmd.PersistentFlags().BoolVar(&showTree, "tree", false, "Print an outline of the tree to stderr")

	rootCmd.AddCommand(researchCmd, multiCmd, pipelineCmd, keysCmd)
}

func newEngine(cmd *cobra.Command) *research.Engine {
	engineCfg := research.Config{
		MaxDepth:            cfg.ResearchMaxDepth,
		InterRequestDelay:   cfg.ResearchDelay,
		MaxBranchesPerNode:  cfg.ResearchMaxBranches,
		Model:               cfg.LumenModel,
		Temperature:         cfg.LumenTemperature,
		MaxTokens:           cfg.LumenMaxTokens,
		ForwardOutputSchema: cfg.ForwardOutputSchema,
		SchemaConcurrency:   cfg.ResearchSchemaConcurrency,
	}
	if maxDepth > 0 {
		engineCfg.MaxDepth = maxDepth
	}
	if delay >= 0 {
		engineCfg.InterRequestDelay = delay
	}
	if branches > 0 {
		engineCfg.MaxBranchesPerNode = branches
	}
	if model != "" {
		engineCfg.Model = model
	}
	if concurrency > 0 {
		engineCfg.SchemaConcurrency = concurrency
	}

	querier := lumen.NewRateLimited(lumen.NewClient(cfg, nil), cfg.MinRequestInterval)
	return research.NewEngine(querier, engineCfg,
		research.WithLogger(logger),
		research.WithProgress(progressPrinter(cmd.ErrOrStderr())),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
