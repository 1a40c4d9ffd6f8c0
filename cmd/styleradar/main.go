package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	snapshotFlag string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "styleradar",
		Short:         "Score fashion images against clustered style trends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&snapshotFlag, "snapshot", "", "cluster snapshot file (default: from config)")

	root.AddCommand(scoreCmd())
	root.AddCommand(calibrateCmd())
	root.AddCommand(inspectCmd())
	root.AddCommand(collectCmd())
	root.AddCommand(analyzeCmd())
	root.AddCommand(trendsCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func scoreCmd() *cobra.Command {
	var (
		jsonOutput bool
		clusterID  int
		confidence float64
	)

	cmd := &cobra.Command{
		Use:   "score [embedding.json]",
		Short: "Score one embedding (file or stdin) against the snapshot",
		Long: `Reads either a bare JSON array of numbers or an object
{"embedding": [...], "class_confidence": 80, "cluster_id": 42}
and prints the trend verdict.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runScore(cmd, path, clusterID, confidence, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&clusterID, "cluster", -1, "score against this cluster instead of the nearest")
	cmd.Flags().Float64Var(&confidence, "confidence", -1, "classifier confidence 0-100 (overrides the input)")
	return cmd
}

func calibrateCmd() *cobra.Command {
	var (
		jsonOutput bool
		save       bool
		samples    int
		seed       uint64
	)

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Sample the snapshot and suggest category thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalibrate(cmd, samples, seed, save, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&save, "save", false, "store the report in the database")
	cmd.Flags().IntVar(&samples, "samples", 0, "samples per cluster (default: from config)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "sampler seed (default: from config)")
	return cmd
}

func inspectCmd() *cobra.Command {
	var (
		jsonOutput bool
		top        int
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the cluster snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(top, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&top, "top", 10, "largest clusters to list")
	return cmd
}

func collectCmd() *cobra.Command {
	var feeds []string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect images from the configured feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd, feeds)
		},
	}

	cmd.Flags().StringSliceVar(&feeds, "feed", nil, "only these feeds, by name")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Embed and score collected images that have no verdict yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "max images to analyze (default: schedule.batch_size)")
	return cmd
}

func trendsCmd() *cobra.Command {
	var (
		jsonOutput bool
		category   string
		minScore   float64
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Show stored verdicts, highest score first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrends(category, minScore, limit, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&category, "category", "", "not_trending, neutral or trending")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum trend score")
	cmd.Flags().IntVar(&limit, "limit", 20, "max verdicts to show")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
