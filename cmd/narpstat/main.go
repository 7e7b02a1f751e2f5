// Command narpstat is the analysis CLI: prepare the merged table, run the
// confirmatory models, run the bootstrap over teams, export reports, and
// serve results.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"narpstat/adapters/memory"
	"narpstat/adapters/postgres"
	"narpstat/app"
	"narpstat/domain/core"
	"narpstat/internal/config"
	"narpstat/internal/logging"
	"narpstat/internal/report"
	"narpstat/ports"
	"narpstat/ui"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "narpstat",
		Short: "NARPS metadata and decision-variability analysis",
	}

	rootCmd.AddCommand(
		newPrepareCmd(),
		newAnalyzeCmd(),
		newBootstrapCmd(),
		newReportCmd(),
		newServeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env holds the wired dependencies shared by every subcommand
type env struct {
	cfg   *config.Config
	log   *logging.Logger
	store ports.RunStore
}

func buildEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logging.NewDefaultLogger()

	var store ports.RunStore
	if cfg.Database.URL != "" {
		db, err := sqlx.Connect("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		store, err = postgres.NewRunStore(db)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize run store: %w", err)
		}
	} else {
		log.Debug("DATABASE_URL not set; using in-memory run store")
		store = memory.NewRunStore()
	}
	return &env{cfg: cfg, log: log, store: store}, nil
}

func newPrepareCmd() *cobra.Command {
	var decisions, smoothness, similarityDir, output string
	var voxelMM float64

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Merge decisions, smoothness and similarity into the tidy table",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			if voxelMM == 0 {
				voxelMM = e.cfg.Analysis.VoxelMM
			}
			if output == "" {
				output = filepath.Join(e.cfg.Paths.OutDir, "merged.csv")
			}

			service := app.NewPrepareService(e.store, e.log)
			result, err := service.Run(cmd.Context(), app.PrepareRequest{
				DecisionsPath:  decisions,
				SmoothnessPath: smoothness,
				SimilarityDir:  similarityDir,
				OutputPath:     output,
				VoxelMM:        voxelMM,
			})
			if err != nil {
				return err
			}
			fmt.Print(report.Text(result.Run))
			return nil
		},
	}

	cmd.Flags().StringVar(&decisions, "decisions", "", "decisions workbook (xlsx or csv)")
	cmd.Flags().StringVar(&smoothness, "smoothness", "", "per-map smoothness CSV")
	cmd.Flags().StringVar(&similarityDir, "similarity-dir", "", "directory of corr_h<N>.csv matrices (optional)")
	cmd.Flags().StringVar(&output, "output", "", "merged table output path")
	cmd.Flags().Float64Var(&voxelMM, "voxel-mm", 0, "acquisition voxel size in mm")
	_ = cmd.MarkFlagRequired("decisions")
	_ = cmd.MarkFlagRequired("smoothness")

	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var table string
	var quadPoints int

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Fit the confirmatory mixed models on the merged table",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			if quadPoints == 0 {
				quadPoints = e.cfg.Analysis.QuadPoints
			}

			service := app.NewAnalysisService(e.store, e.log)
			run, err := service.Run(cmd.Context(), app.AnalyzeRequest{
				TablePath:  table,
				QuadPoints: quadPoints,
			})
			if err != nil {
				return err
			}
			fmt.Print(report.Text(run))
			return nil
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "merged table CSV")
	cmd.Flags().IntVar(&quadPoints, "quad-points", 0, "Gauss-Hermite quadrature points")
	_ = cmd.MarkFlagRequired("table")

	return cmd
}

func newBootstrapCmd() *cobra.Command {
	var table string
	var replicates, workers, quadPoints int
	var seed int64
	var ciLevel float64
	var strict bool

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Run the nonparametric bootstrap over teams",
		Long: `Resample teams with replacement, refit the mixed logistic model and its
reduced variants on every replicate, and summarize the empirical
distributions with percentile intervals and model-selection probabilities.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			if replicates == 0 {
				replicates = e.cfg.Analysis.Replicates
			}
			if workers == 0 {
				workers = e.cfg.Analysis.Workers
			}
			if quadPoints == 0 {
				quadPoints = e.cfg.Analysis.QuadPoints
			}
			if seed == 0 {
				seed = e.cfg.Analysis.Seed
			}
			if ciLevel == 0 {
				ciLevel = e.cfg.Analysis.CILevel
			}

			service := app.NewBootstrapService(e.store, e.log)
			run, err := service.Run(cmd.Context(), app.BootstrapRequest{
				TablePath:  table,
				Replicates: replicates,
				Seed:       seed,
				Workers:    workers,
				QuadPoints: quadPoints,
				CILevel:    ciLevel,
				Strict:     strict,
			})
			if err != nil {
				return err
			}
			fmt.Print(report.Text(run))
			return nil
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "merged table CSV")
	cmd.Flags().IntVar(&replicates, "replicates", 0, "bootstrap replicates")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed for deterministic resampling")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent replicate fits")
	cmd.Flags().IntVar(&quadPoints, "quad-points", 0, "Gauss-Hermite quadrature points")
	cmd.Flags().Float64Var(&ciLevel, "ci-level", 0, "confidence level for percentile intervals")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on degenerate or non-converging replicates")
	_ = cmd.MarkFlagRequired("table")

	return cmd
}

func newReportCmd() *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Export a stored run as text, markdown or xlsx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			runID, err := core.ParseRunID(args[0])
			if err != nil {
				return err
			}
			run, err := e.store.Get(cmd.Context(), runID)
			if err != nil {
				return err
			}

			switch format {
			case "text":
				fmt.Print(report.Text(run))
				return nil
			case "markdown":
				fmt.Print(report.Markdown(run))
				return nil
			case "xlsx":
				if output == "" {
					output = filepath.Join(e.cfg.Paths.OutDir, run.ID.String()+".xlsx")
				}
				if err := report.WriteXLSX(run, output); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", output)
				return nil
			default:
				return fmt.Errorf("unknown format %q (want text, markdown or xlsx)", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text, markdown, xlsx")
	cmd.Flags().StringVar(&output, "output", "", "output path for xlsx")

	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			server := ui.NewServer(e.store, e.log, e.cfg.Server.GinMode)
			return server.Run(e.cfg.Server.Port)
		},
	}
	return cmd
}
