package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"goregress/adapters/blob/s3"
	"goregress/adapters/excel"
	"goregress/adapters/sqlstore"
	"goregress/app"
	"goregress/internal"
	"goregress/internal/api"
	"goregress/internal/config"
	apperrors "goregress/internal/errors"
	"goregress/internal/metrics"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "regress",
		Short:        "Two-stage univariate/multivariate regression of per-element metrics",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional
			_ = godotenv.Load()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $REGRESS_CONFIG or config.yaml)")

	rootCmd.AddCommand(
		newConfigTemplateCmd(),
		newRunCmd(&configPath),
		newSelectCmd(&configPath),
		newServeCmd(&configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] %v\n", apperrors.GetCode(err), err)
		os.Exit(1)
	}
}

// newCommandLogger logs to stderr and log/<command>_<timestamp>.log
func newCommandLogger(command string, cfg config.LoggingConfig) (*internal.Logger, error) {
	level, ok := internal.ParseLogLevel(cfg.Level)
	if !ok {
		return nil, apperrors.ConfigInvalid(fmt.Sprintf("unknown log level %q", cfg.Level))
	}
	lc := internal.LogConfig{Level: level, Encoding: "console"}
	if cfg.JSON {
		lc.Encoding = "json"
	}
	if cfg.Dir != "" {
		lc.File = filepath.Join(cfg.Dir, fmt.Sprintf("%s_%s.log", command, time.Now().Format("20060102_150405")))
	}
	logger, err := internal.NewLoggerWithConfig(lc)
	if err != nil {
		return nil, err
	}
	internal.DefaultLogger = logger
	return logger, nil
}

func newConfigTemplateCmd() *cobra.Command {
	var metricList string
	var output string
	var force bool

	cmd := &cobra.Command{
		Use:   "config-template",
		Short: "Write a config.yaml template for the given metrics",
		Long: `Write a config.yaml with a general section and one metric section per known metric.

Known metrics: mutdensity, mutreadsdensity, oncodrivefml. Unknown metrics are skipped.

Example: regress config-template --metrics mutdensity,oncodrivefml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := internal.NewLogger(internal.LogLevelInfo)
			metricNames := strings.Split(metricList, ",")
			data, skipped, err := config.RenderTemplate(metricNames)
			for _, m := range skipped {
				logger.Warn("%s metric not recognized, skipping", m)
			}
			if err != nil {
				return apperrors.InvalidInput(err.Error())
			}
			if !force {
				if _, err := os.Stat(output); err == nil {
					return apperrors.InvalidInput(fmt.Sprintf("%s already exists (use --force)", output))
				}
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return apperrors.IOError(output, err)
			}
			logger.Info("config template written to %s", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&metricList, "metrics", "", "comma-separated metric names")
	cmd.Flags().StringVarP(&output, "output", "o", "config.yaml", "template destination")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	_ = cmd.MarkFlagRequired("metrics")
	return cmd
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the univariate and multivariate stages for every configured metric",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := newCommandLogger("run", cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			opts := []app.ServiceOption{app.WithServiceLogger(logger), app.WithCodeVersion(version)}

			if cfg.Output.Database.Driver != "" {
				store, err := sqlstore.Open(cmd.Context(), cfg.Output.Database.Driver, cfg.Output.Database.URL, logger)
				if err != nil {
					return err
				}
				defer store.Close()
				opts = append(opts, app.WithRepository(store))
			}
			if cfg.Output.S3.Bucket != "" {
				blobs, err := s3.New(cmd.Context(), s3.Config{
					Bucket:   cfg.Output.S3.Bucket,
					Prefix:   cfg.Output.S3.Prefix,
					Region:   cfg.Output.S3.Region,
					Endpoint: cfg.Output.S3.Endpoint,
				})
				if err != nil {
					return err
				}
				opts = append(opts, app.WithBlobStore(blobs))
			}

			outcomes, err := app.NewRegressionService(cfg, opts...).RunAll(cmd.Context())
			for _, o := range outcomes {
				status := "ok"
				if o.Err != nil {
					status = "FAILED: " + o.Err.Error()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", o.Key, o.Metric, status)
			}
			return err
		},
	}
}

func newSelectCmd(configPath *string) *cobra.Command {
	var metric string
	var uniDir string

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Re-run predictor selection on persisted univariate tables",
		Long: `Select multivariate predictors from a univariate output directory and print the terms.

qval tables are used when present, pval otherwise.

Example: regress select --metric mutdensity --uni-dir out/regressions/mutdensity/univariate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			runs, err := cfg.MetricRuns()
			if err != nil {
				return err
			}
			ms := runs[0]
			if metric != "" {
				found := false
				for _, r := range runs {
					if r.Name == metric || r.Key == metric {
						ms, found = r, true
						break
					}
				}
				if !found {
					return apperrors.NotFound("metric " + metric)
				}
			}
			if uniDir == "" {
				writer, err := excel.NewStageWriter(ms.OutputDir, cfg.Output.Format, nil)
				if err != nil {
					return err
				}
				uniDir = writer.StageDir(ms.Name, "univariate")
			}

			selections, err := app.SelectFromDir(uniDir, ms)
			if err != nil {
				return err
			}
			return excel.WriteTerms(cmd.OutOrStdout(), selections)
		},
	}

	cmd.Flags().StringVar(&metric, "metric", "", "metric name or section key (default: first section)")
	cmd.Flags().StringVar(&uniDir, "uni-dir", "", "univariate output directory (default: derived from output_dir)")
	return cmd
}

func newServeCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs and metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := newCommandLogger("serve", cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Output.Database.Driver == "" {
				return apperrors.ConfigInvalid("serve needs output.database.driver")
			}
			store, err := sqlstore.Open(cmd.Context(), cfg.Output.Database.Driver, cfg.Output.Database.URL, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			gin.SetMode(cfg.Server.GinMode)
			recorder := metrics.NewRecorder()
			if err := recorder.Register(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Address
			}
			err = api.NewServer(store, recorder.Handler(), logger).Run(cmd.Context(), addr)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return cmd
}
