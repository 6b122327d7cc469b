package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nrega-mitra/backend/internal/app"
	"github.com/nrega-mitra/backend/internal/entities"
)

var (
	envFile string
	once    bool
)

var rootCmd = &cobra.Command{
	Use:   "fetcher",
	Short: "Refresh MGNREGA district data from data.gov.in",
	Long: `Fetches MGNREGA district records from the data.gov.in API, keeps the
target state's records and replaces them in the store. Runs on the
REFRESH_SCHEDULE cron schedule, or a single time with --once.`,
	SilenceUsage: true,
	RunE:         runFetcher,
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.Flags().BoolVar(&once, "once", false, "run a single refresh and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFetcher(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Options{EnvFiles: []string{envFile}, Fetch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if once {
		return runOnce(ctx, a)
	}

	sched, err := a.Scheduler()
	if err != nil {
		return err
	}
	a.Logger.Info("starting fetcher", zap.String("schedule", a.Config.RefreshSchedule))
	return sched.Run(ctx)
}

// runOnce performs a single refresh. A skipped run is not a failure.
func runOnce(ctx context.Context, a *app.App) error {
	run, err := a.UseCase.RefreshNregaData(ctx)
	if err != nil {
		a.Logger.Error("data refresh failed", zap.Error(err))
		return err
	}
	a.Logger.Info("data refresh finished",
		zap.String("run_id", run.ID),
		zap.String("status", run.Status),
		zap.Int("fetched", run.Fetched),
		zap.Int("matched", run.Matched),
		zap.Int("stored", run.Stored))
	if run.Status != entities.RunSucceeded && run.Status != entities.RunSkipped {
		return errors.Errorf("refresh ended with status %s", run.Status)
	}
	return nil
}
