package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/pokefantasia/internal/server"
	"github.com/3leaps/pokefantasia/internal/trigger"
	"github.com/3leaps/pokefantasia/pkg/jobstore"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
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

			rdb := buildRedis(cfg)
			defer func() { _ = rdb.Close() }()

			srv := server.New(server.Deps{
				Jobs:      jobs,
				Buckets:   buckets,
				Publisher: trigger.NewPublisher(rdb, cfg.Trigger.Queue),
				Logger:    logger,
			})

			logger.Info("starting api server",
				zap.String("store", cfg.Store.Path),
				zap.String("storage_backend", cfg.Storage.Backend))
			return srv.Run(ctx, cfg.Server)
		},
	}
}
