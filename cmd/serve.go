package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/courtwatch/internal/anc"
	"github.com/example/courtwatch/internal/auth"
	"github.com/example/courtwatch/internal/config"
	"github.com/example/courtwatch/internal/db"
	"github.com/example/courtwatch/internal/logger"
	"github.com/example/courtwatch/internal/metrics"
	"github.com/example/courtwatch/internal/migrate"
	"github.com/example/courtwatch/internal/store"
	"github.com/example/courtwatch/internal/watcher"
	"github.com/example/courtwatch/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func newServeCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trigger HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if err := cfg.LoadServerKeys(); err != nil {
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

			mets := metrics.NewCollector()
			courts := store.New(d)
			authStore := auth.NewStore(cfg.OperatorUser, cfg.OperatorPasswordBcrypt,
				cfg.CookieHashKey, cfg.CookieBlockKey)

			srv := &web.Server{
				Auth:    authStore,
				Metrics: mets,
				Runner: runnerFunc(func(ctx context.Context) watcher.RunResult {
					return runOnce(ctx, cfg, courts, mets)
				}),
			}

			httpSrv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           srv.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("trigger server listening", "addr", cfg.ListenAddr)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				return httpSrv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "apply pending schema migrations on startup")
	return cmd
}

type runnerFunc func(ctx context.Context) watcher.RunResult

func (f runnerFunc) RunOnce(ctx context.Context) watcher.RunResult { return f(ctx) }

// runOnce builds a fresh site client for each run: a session never outlives
// the run it was created for.
func runOnce(ctx context.Context, cfg config.Config, courts store.Courts, mets *metrics.Collector) watcher.RunResult {
	site, err := anc.New(ctx, anc.Options{
		BaseURL:       cfg.SiteBaseURL,
		Org:           cfg.SiteOrg,
		Login:         cfg.AccountLogin,
		Password:      cfg.AccountPassword,
		FacilityTypes: cfg.FacilityTypes,
		Timeout:       cfg.RequestTimeout,
		Limiter:       rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		Metrics:       mets,
	})
	if err != nil {
		return watcher.RunResult{Success: false, Message: fmt.Sprintf("site client: %v", err)}
	}

	w := &watcher.Watcher{Site: site, Courts: courts, Metrics: mets}
	return w.RunOnce(ctx)
}
