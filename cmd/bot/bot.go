package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/nrega-mitra/backend/internal/api"
	"github.com/nrega-mitra/backend/internal/app"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "bot",
	Short: "Answer MGNREGA district questions on Telegram",
	Long: `Runs the Telegram bot over the stored district data. Free-text
questions are interpreted with OpenAI when OPENAI_API_KEY is set.`,
	SilenceUsage: true,
	RunE:         runBot,
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Options{EnvFiles: []string{envFile}, Interpreter: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Config.TelegramBotToken == "" {
		return errors.NotValidf("TELEGRAM_BOT_TOKEN environment variable is not set")
	}
	if a.Config.OpenAIAPIKey == "" {
		a.Logger.Warn("OPENAI_API_KEY is not set, free-text questions will not be interpreted")
	}

	telegramBot, err := api.NewTelegramBot(a.Config.TelegramBotToken, a.UseCase, a.Logger)
	if err != nil {
		return errors.Annotate(err, "failed to initialize Telegram bot")
	}

	telegramBot.Start(ctx)
	return nil
}
