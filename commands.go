package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"ai-market-intelligence/config"
	"ai-market-intelligence/pipeline"
	"ai-market-intelligence/utils"
)

var version = "dev"

var (
	cfgPath  string
	logLevel string

	appCfg *config.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "market-intel",
	Short: "AI-powered app market intelligence pipeline",
	Long: `Cleans a marketplace export, resolves the top apps against the App Store
catalog, unifies both datasets, asks a language model for structured
insights and renders an executive report. The campaigns and creative
commands analyse D2C marketing data and generate ad copy.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == versionCmd.Name() {
		return nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	appCfg = cfg
	logger = utils.NewLogger(utils.LogOptions{
		Level:  cfg.Logging.Level,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})

	logger.Info().
		Str("command", cmd.Name()).
		Str("version", version).
		Str("llm_provider", cfg.LLM.Provider).
		Bool("env_file", cfg.EnvFileLoaded).
		Msg("=== Market intelligence starting ===")
	return nil
}

func newRunner() *pipeline.Runner {
	return pipeline.New(appCfg, logger)
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Normalize the raw marketplace export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return newRunner().Clean(cmd.Context())
	},
}

var fetchFresh bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Resolve the top apps against the App Store catalog",
	Long: `Queries the catalog once per top app, spacing requests and retrying rate
limits with capped backoff. Terminal outcomes are checkpointed so an
interrupted run resumes where it stopped; --fresh discards them.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return newRunner().Fetch(cmd.Context(), fetchFresh)
	},
}

var unifyCmd = &cobra.Command{
	Use:   "unify",
	Short: "Merge the cleaned and catalog datasets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return newRunner().Unify(cmd.Context())
	},
}

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Generate structured insights with the configured model",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return newRunner().Insights(cmd.Context())
	},
}

var reportPDF bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the executive report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return newRunner().Report(cmd.Context(), reportPDF || appCfg.Report.PDF)
	},
}

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Derive ROAS and SEO insights from campaign data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return newRunner().Campaigns(cmd.Context())
	},
}

var creativeCmd = &cobra.Command{
	Use:   "creative",
	Short: "Generate ad headlines and an SEO description",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return newRunner().Creative(cmd.Context())
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [query]",
	Short: "Send one catalog request and diagnose the response",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := "Instagram"
		if len(args) > 0 {
			query = args[0]
		}
		res, err := newRunner().Probe(cmd.Context(), query)
		if err != nil {
			return err
		}
		cmd.Printf("status %d: %s (%d results)\n", res.StatusCode, res.Diagnosis, res.Results)
		if !res.OK {
			return fmt.Errorf("catalog probe failed with status %d", res.StatusCode)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every stage in order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		r := newRunner()
		results, err := r.Run(cmd.Context())
		cmd.Printf("\nRun %s\n", r.RunID())
		for _, res := range results {
			status := "ok"
			switch {
			case res.Skipped:
				status = res.Err.Error()
			case res.Err != nil:
				status = "FAILED: " + res.Err.Error()
			}
			cmd.Printf("  %-10s %8s  %s\n", res.Stage, res.Elapsed.Round(time.Millisecond), status)
		}
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("market-intel version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a TOML config file (default market.toml when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	fetchCmd.Flags().BoolVar(&fetchFresh, "fresh", false, "discard checkpoints and fetch every query again")
	reportCmd.Flags().BoolVar(&reportPDF, "pdf", false, "also print the report to PDF with headless Chrome")

	rootCmd.AddCommand(cleanCmd, fetchCmd, unifyCmd, insightsCmd, reportCmd,
		campaignsCmd, creativeCmd, probeCmd, runCmd, versionCmd)
}
