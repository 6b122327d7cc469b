// Package api provides handlers for external APIs and interfaces
package api

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/nrega-mitra/backend/internal/logging"
	"github.com/nrega-mitra/backend/internal/usecases"
)

const helpText = "Available commands:\n" +
	"/start - Start the bot\n" +
	"/districts - Show the list of districts\n" +
	"/district [name] - Show the latest MGNREGA data for a district\n" +
	"/compare [a], [b] - Compare two districts\n" +
	"/help - Show this help message\n\n" +
	"You can also share your location to see data for the nearest district."

// TelegramBot handles interactions with the Telegram API
type TelegramBot struct {
	bot     *tgbotapi.BotAPI
	useCase *usecases.NregaUseCase
	logger  *zap.Logger
}

// NewTelegramBot creates a new Telegram bot handler
func NewTelegramBot(botToken string, useCase *usecases.NregaUseCase, logger *zap.Logger) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, errors.Annotate(err, "failed to create bot")
	}

	return &TelegramBot{
		bot:     bot,
		useCase: useCase,
		logger:  logging.OrNop(logger).Named("telegram"),
	}, nil
}

// Start begins listening for and handling Telegram messages until ctx is done
func (t *TelegramBot) Start(ctx context.Context) {
	t.logger.Info("authorized on Telegram account", zap.String("account", t.bot.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)
	t.logger.Info("bot is now listening for messages")

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			t.logger.Info("bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			t.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage processes a Telegram message update
func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	t.logger.Debug("received message",
		zap.String("user", userName(message)),
		zap.Int64("chat_id", message.Chat.ID),
		zap.String("text", message.Text))

	msg := tgbotapi.NewMessage(message.Chat.ID, t.reply(ctx, message))
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("error sending message", zap.Error(err))
	}
}

// reply builds the answer to a single message
func (t *TelegramBot) reply(ctx context.Context, message *tgbotapi.Message) string {
	switch {
	case message.Location != nil:
		return t.handleLocation(ctx, message.Location.Latitude, message.Location.Longitude)
	case message.IsCommand():
		return t.handleCommand(ctx, message)
	default:
		return t.handleNonCommand(ctx, message)
	}
}

// handleCommand processes commands like /start, /help, etc.
func (t *TelegramBot) handleCommand(ctx context.Context, message *tgbotapi.Message) string {
	switch message.Command() {
	case "start":
		return "Welcome to NREGA Mitra! Use /districts to see the districts with MGNREGA data or /help for more information."

	case "help":
		return helpText

	case "districts":
		return t.handleDistrictsCommand(ctx)

	case "district":
		return t.handleDistrictCommand(ctx, message.CommandArguments())

	case "compare":
		return t.handleCompareCommand(ctx, message.CommandArguments())

	default:
		t.logger.Debug("unknown command", zap.String("command", message.Command()))
		return "Unknown command. Use /help to see available commands."
	}
}

// handleDistrictsCommand processes the /districts command
func (t *TelegramBot) handleDistrictsCommand(ctx context.Context) string {
	districts, err := t.useCase.ListDistricts(ctx)
	if err != nil {
		t.logger.Error("error fetching districts", zap.Error(err))
		return "Error fetching district data. Please try again later."
	}
	if len(districts) == 0 {
		return "No district data has been loaded yet. Please try again later."
	}

	var text strings.Builder
	text.WriteString("Available districts:\n\n")
	for _, district := range districts {
		text.WriteString("• " + district + "\n")
	}
	text.WriteString("\nUse /district [name] to get detailed information.")

	if run, err := t.useCase.LastRefresh(ctx); err == nil {
		text.WriteString(fmt.Sprintf("\n\n🕒 Last update: %s", run.FinishedAt.Format("2006-01-02 15:04")))
	}
	return text.String()
}

// handleDistrictCommand processes the /district [name] command
func (t *TelegramBot) handleDistrictCommand(ctx context.Context, args string) string {
	name := strings.TrimSpace(args)
	if name == "" {
		return "Please specify a district name. Example: /district Pune"
	}

	record, err := t.useCase.GetDistrict(ctx, name)
	if errors.Is(err, errors.NotFound) {
		return fmt.Sprintf("No information found for district '%s'. Use /districts to see the available districts.", name)
	}
	if err != nil {
		t.logger.Error("error fetching district data", zap.String("district", name), zap.Error(err))
		return "Error fetching district data. Please try again later."
	}
	return t.useCase.FormatDistrictInfo(record)
}

// handleCompareCommand processes the /compare [a], [b] command
func (t *TelegramBot) handleCompareCommand(ctx context.Context, args string) string {
	a, b, ok := splitPair(args)
	if !ok {
		return "Please specify two districts. Example: /compare Pune, Nagpur"
	}

	comparison, err := t.useCase.CompareDistricts(ctx, a, b)
	if errors.Is(err, errors.NotFound) {
		return "No data found for one of those districts. Use /districts to see the available ones."
	}
	if err != nil {
		t.logger.Error("error comparing districts", zap.String("district", a), zap.String("with", b), zap.Error(err))
		return "Error fetching district data. Please try again later."
	}
	return t.useCase.FormatComparison(comparison)
}

// handleLocation answers a shared location with the nearest district
func (t *TelegramBot) handleLocation(ctx context.Context, lat, lon float64) string {
	loc, err := t.useCase.LocateDistrict(ctx, lat, lon)
	if errors.Is(err, errors.NotFound) || errors.Is(err, errors.NotValid) {
		return "Your location does not appear to be inside a district I have data for."
	}
	if err != nil {
		t.logger.Error("error locating district", zap.Float64("lat", lat), zap.Float64("lon", lon), zap.Error(err))
		return "Error fetching district data. Please try again later."
	}
	if loc.Record == nil {
		return fmt.Sprintf("You are about %.0f km from %s, but no MGNREGA data is stored for it yet.", loc.DistanceKm, loc.District)
	}
	return fmt.Sprintf("📍 Nearest district: %s (%.0f km)\n\n", loc.District, loc.DistanceKm) +
		t.useCase.FormatDistrictInfo(*loc.Record)
}

// handleNonCommand processes regular messages
func (t *TelegramBot) handleNonCommand(ctx context.Context, message *tgbotapi.Message) string {
	if strings.HasPrefix(message.Text, "/district ") {
		return t.handleDistrictCommand(ctx, strings.TrimPrefix(message.Text, "/district "))
	}

	response, err := t.useCase.HandleNaturalLanguageQuery(ctx, message.Text)
	if err != nil {
		t.logger.Error("error handling natural language query", zap.Error(err))
		return "I don't understand. Use /help to see available commands."
	}
	return response
}

// splitPair splits "a, b" or, for single-word names, "a b"
func splitPair(args string) (string, string, bool) {
	if a, b, found := strings.Cut(args, ","); found {
		a, b = strings.TrimSpace(a), strings.TrimSpace(b)
		return a, b, a != "" && b != ""
	}
	fields := strings.Fields(args)
	if len(fields) == 2 {
		return fields[0], fields[1], true
	}
	return "", "", false
}

func userName(message *tgbotapi.Message) string {
	if message.From == nil {
		return ""
	}
	return message.From.UserName
}
