package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/courtwatch/internal/config"
	"github.com/example/courtwatch/internal/db"
	"github.com/example/courtwatch/internal/logger"
	"github.com/example/courtwatch/internal/metrics"
	"github.com/example/courtwatch/internal/migrate"
	"github.com/example/courtwatch/internal/store"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Perform one availability check and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			logger.SetupDefault(cfg.DevMode)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.StorageDSN())
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}
			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			res := runOnce(ctx, cfg, store.New(d), metrics.NewCollector())
			fmt.Fprintln(os.Stdout, res.Message)
			if !res.Success {
				return fmt.Errorf("run failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "apply pending schema migrations first")
	return cmd
}
