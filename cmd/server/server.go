package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nrega-mitra/backend/internal/api"
	"github.com/nrega-mitra/backend/internal/app"
)

var (
	envFile     string
	noScheduler bool
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve MGNREGA district data over HTTP",
	Long: `Serves the stored MGNREGA district data over a REST API and, unless
--no-scheduler is given, refreshes it from the data.gov.in API on the
REFRESH_SCHEDULE cron schedule.`,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve only, without the refresh scheduler")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Options{
		EnvFiles:       []string{envFile},
		Fetch:          !noScheduler,
		RuntimeMetrics: true,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.Logger

	srv := &http.Server{
		Addr: ":" + a.Config.Port,
		Handler: api.NewServer(a.UseCase, api.ServerOptions{
			AdminToken: a.Config.AdminToken,
			Logger:     logger,
			Metrics:    a.Metrics,
		}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// POST /api/nrega/refresh waits for a full upstream fetch
		WriteTimeout:   a.Config.FetchTimeout*time.Duration(a.Config.MaxPages) + time.Minute,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if !noScheduler {
		sched, err := a.Scheduler()
		if err != nil {
			return err
		}
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
