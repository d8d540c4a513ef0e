package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/pokefantasia/internal/compute"
	"github.com/3leaps/pokefantasia/internal/trigger"
	"github.com/3leaps/pokefantasia/pkg/jobstore"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the compute worker consuming trigger events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			jobs, err := jobstore.Open(ctx, jobstore.Config{Path: cfg.Store.Path})
			if err != nil {
				return err
			}
			defer func() { _ = jobs.Close() }()

			opener, err := newBucketOpener(ctx, cfg)
			if err != nil {
				return err
			}
			buckets, err := buildBuckets(opener, cfg)
			if err != nil {
				return err
			}
			registry, err := buildRegistry(opener, cfg)
			if err != nil {
				return err
			}

			runner := compute.NewRunner(jobs, buckets, registry, cfg.Compute.OpTimeout, logger)

			rdb := buildRedis(cfg)
			defer func() { _ = rdb.Close() }()

			consumer := trigger.NewConsumer(rdb, trigger.ConsumerConfig{
				Queue:        cfg.Trigger.Queue,
				PollTimeout:  cfg.Trigger.PollTimeout,
				MaxPerSecond: cfg.Trigger.MaxPerSecond,
			}, runner, logger)

			logger.Info("starting compute worker",
				zap.String("queue", cfg.Trigger.Queue),
				zap.String("storage_backend", cfg.Storage.Backend))

			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("compute worker stopped")
			return nil
		},
	}
}
