package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dev-sys-do/sealboard/internal/query"
	"github.com/dev-sys-do/sealboard/internal/web"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web dashboard",
	Long: `Start a read-only browser dashboard showing every pipeline known to the
controller, with a detail page per pipeline. Open pages refresh themselves
over Server-Sent Events at the polling interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Dashboard.Addr = addr
		}
		if interval, _ := cmd.Flags().GetDuration("interval"); interval != 0 {
			cfg.Polling.Interval = interval.String()
		}
		if err := validConfig(cfg); err != nil {
			return err
		}

		logger := newLogger(cmd, cfg)
		log.Logger = logger

		client, err := newClient(cfg, logger)
		if err != nil {
			return err
		}

		cache := query.NewCache(
			query.WithLogger(logger),
			query.WithRequestTimeout(cfg.Controller.TimeoutDuration()),
			query.WithRetention(cfg.Polling.RetentionDuration()),
		)
		defer cache.Close()

		srv := web.NewServer(web.Config{
			Addr:          cfg.Dashboard.Addr,
			Source:        client,
			Cache:         cache,
			Logger:        logger,
			Endpoint:      client.Endpoint(),
			Interval:      cfg.Polling.IntervalDuration(),
			ListVerbose:   cfg.Dashboard.ListVerboseOrDefault(),
			DetailVerbose: cfg.Dashboard.DetailVerboseOrDefault(),
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info().Msg("shutting down dashboard...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("error during server shutdown")
			}
			return nil
		})

		err = g.Wait()
		cache.Close()
		logger.Info().Msg("dashboard stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides dashboard.addr)")
	serveCmd.Flags().Duration("interval", 0, "Polling interval (overrides polling.interval)")
}
