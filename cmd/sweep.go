package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SorenPirat/matematik-platform/internal/database"
)

// sweepCmd deletes expired sessions out of process, for cron-style cleanup
// alongside (or instead of) the in-process sweep ticker. The delete is
// idempotent and safe to run against a live server.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		store, err := database.NewManager(&database.Config{
			Path:            cfg.Database.Path,
			MaxConnections:  2,
			ConnMaxLifetime: time.Minute,
			ConnMaxIdleTime: time.Minute,
		}, log)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
		defer cancel()

		deleted, err := store.DeleteExpiredSessions(ctx)
		if err != nil {
			return err
		}

		log.Info("sweep complete", zap.Int64("deleted", deleted))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
