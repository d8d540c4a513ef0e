package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/pokefantasia/pkg/jobstore"
)

func newResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear all jobs and reseed the owner accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			jobs, err := jobstore.Open(ctx, jobstore.Config{Path: cfg.Store.Path})
			if err != nil {
				return err
			}
			defer func() { _ = jobs.Close() }()

			if err := jobs.Reset(ctx); err != nil {
				return err
			}
			logger.Info("job store reset", zap.String("store", cfg.Store.Path))
			return nil
		},
	}
}
