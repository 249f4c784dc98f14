package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"telegram-secret-santa/config"
	"telegram-secret-santa/internal/draw"
	"telegram-secret-santa/internal/logger"
	"telegram-secret-santa/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
)

// ErrConfig marks failures that happen before the bot could start.
var ErrConfig = errors.New("invalid configuration")

func Run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to read .env: %v", ErrConfig, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("%w: failed to create logger: %v", ErrConfig, err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := service.NewStorage(ctx, cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer storage.Close()

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	log.Info("authorized on telegram", "account", api.Self.UserName)

	game := service.NewGame(storage, log, draw.Options{
		MaxSteps:    cfg.Draw.MaxSteps,
		Symmetric:   cfg.Draw.SymmetricRestrictions,
		AvoidMutual: cfg.Draw.AvoidMutual,
	})
	bot := service.NewSecretSantaBot(api, game, cfg.Telegram.Admins, log)

	runBot(ctx, api, bot, log)
	return nil
}

func runBot(ctx context.Context, api *tgbotapi.BotAPI, bot *service.SecretSantaBot, log *logger.Logger) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := api.GetUpdatesChan(u)
	log.Info("bot started and ready")

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			bot.HandleUpdate(ctx, update)
		}
	}
}
