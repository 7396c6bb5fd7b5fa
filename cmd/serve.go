package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SorenPirat/matematik-platform/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the live-session server",
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

		application, err := app.New(cfg, log)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- application.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			log.Info("signal received", zap.String("signal", sig.String()))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return application.Stop(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
