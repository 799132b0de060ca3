package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/LJTian/MarketBrief/internal/config"
	"github.com/LJTian/MarketBrief/internal/logging"
	"github.com/LJTian/MarketBrief/internal/pipeline"
	"github.com/LJTian/MarketBrief/internal/scheduler"
	"github.com/LJTian/MarketBrief/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "brief",
		Short:         "Collect market sources, summarize and deliver a morning brief",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newScheduleCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, runner, log, err := setup(ctx)
			if err != nil {
				return err
			}

			rep, err := runner.Run(ctx)
			if err != nil {
				log.WithError(err).Error("run failed")
				return err
			}
			log.WithFields(logrus.Fields{
				"run_id":    rep.RunID,
				"chunks":    rep.Chunks,
				"file":      rep.SummaryFile,
				"delivered": rep.Delivered,
			}).Info("run finished")
			return nil
		},
	}
}

func newScheduleCmd() *cobra.Command {
	var immediate bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline every day at AUTO_RUN_TIME until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, runner, log, err := setup(ctx)
			if err != nil {
				return err
			}

			s, err := scheduler.New(cfg.CronSpec(), runner, log)
			if err != nil {
				return fmt.Errorf("init scheduler: %w", err)
			}
			if immediate {
				s.RunOnceContext(ctx)
			}
			s.Start()

			<-ctx.Done()
			log.Info("stopping scheduler")
			<-s.Stop().Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&immediate, "now", false, "also run once at startup")
	return cmd
}

// setup 加载配置并构建流水线；配置了 POSTGRES_DSN 时记录运行结果
func setup(ctx context.Context) (*config.Config, *pipeline.Runner, logrus.FieldLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})

	var recorder pipeline.Recorder
	if cfg.PostgresDSN != "" {
		store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init store: %w", err)
		}
		recorder = store
	}

	runner, err := pipeline.NewFromConfig(ctx, cfg, recorder, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init pipeline: %w", err)
	}
	return cfg, runner, log, nil
}
