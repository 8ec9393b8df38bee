package bot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nerdneilsfield/storyboarder/internal/auth"
	"github.com/nerdneilsfield/storyboarder/internal/config"
	"github.com/nerdneilsfield/storyboarder/internal/i18n"
	"github.com/nerdneilsfield/storyboarder/internal/storyboard"
	"github.com/nerdneilsfield/storyboarder/pkg/falapi"
	"github.com/nerdneilsfield/storyboarder/pkg/storyapi"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Idle sessions are dropped after sessionIdleTTL; the sweep runs every sessionSweepInterval.
const (
	sessionIdleTTL       = 6 * time.Hour
	sessionSweepInterval = 10 * time.Minute
)

// StartBot 连接 Telegram 并处理更新，直到 ctx 结束
func StartBot(ctx context.Context, cfg *config.Config, logger *zap.Logger, gateway *storyboard.Gateway, db *gorm.DB, version string, buildDate string) error {
	logger.Info("Starting Telegram Bot...", zap.String("version", version), zap.String("buildDate", buildDate))

	var (
		bot *tgbotapi.BotAPI
		err error
	)
	if cfg.Bot.TelegramAPIURL != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Bot.Token, cfg.Bot.TelegramAPIURL)
	} else {
		bot, err = tgbotapi.NewBotAPI(cfg.Bot.Token)
	}
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("Authorized on account", zap.String("username", bot.Self.UserName))

	i18nManager, err := i18n.NewManager(cfg.Bot.DefaultLanguage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize i18n manager: %w", err)
	}

	tokens, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	// fal 客户端仅用于管理员查询账户余额，未配置时跳过
	var falClient *falapi.Client
	if cfg.Fal.APIKey != "" {
		falClient, err = falapi.NewClient(falapi.Options{APIKey: cfg.Fal.APIKey}, logger.Named("fal_client"))
		if err != nil {
			logger.Warn("Fal client unavailable, admin balance disabled", zap.Error(err))
		}
	}

	deps := BotDeps{
		Bot:          bot,
		Backend:      NewBackend(storyapi.NewClient(cfg.API.BaseURL, cfg.API.Timeout(), logger.Named("storyapi"))),
		Tokens:       tokens,
		Gateway:      gateway,
		Config:       cfg,
		DB:           db,
		StateManager: NewStateManager(),
		Authorizer:   auth.NewAuthorizer(cfg.Bot.AllowedUserIDs, cfg.Bot.AdminUserIDs),
		I18n:         i18nManager,
		FalClient:    falClient,
		HTTPClient:   &http.Client{Timeout: 60 * time.Second},
		Version:      version,
		BuildDate:    buildDate,
		Logger:       logger,
	}

	SetBotCommands(bot, logger, cfg.Bot.DefaultLanguage, deps.I18n)

	go sweepSessions(ctx, deps)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	logger.Info("Bot started, listening for updates...")
	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			logger.Info("Bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go HandleUpdate(update, deps)
		}
	}
}

func sweepSessions(ctx context.Context, deps BotDeps) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := deps.StateManager.PurgeIdle(sessionIdleTTL); n > 0 {
				deps.Logger.Info("Dropped idle sessions", zap.Int("count", n))
			}
		}
	}
}

// SetBotCommands defines the commands available to the user.
func SetBotCommands(bot BotAPI, logger *zap.Logger, defaultLang string, i18nManager *i18n.Manager) {
	commands := []tgbotapi.BotCommand{
		{Command: "start", Description: i18nManager.T(&defaultLang, "command_desc_start")},
		{Command: "help", Description: i18nManager.T(&defaultLang, "command_desc_help")},
		{Command: "balance", Description: i18nManager.T(&defaultLang, "command_desc_balance")},
		{Command: "buy", Description: i18nManager.T(&defaultLang, "command_desc_buy")},
		{Command: "gallery", Description: i18nManager.T(&defaultLang, "command_desc_gallery")},
		{Command: "character", Description: i18nManager.T(&defaultLang, "command_desc_character")},
		{Command: "lang", Description: i18nManager.T(&defaultLang, "command_desc_lang")},
		{Command: "reset", Description: i18nManager.T(&defaultLang, "command_desc_reset")},
		{Command: "cancel", Description: i18nManager.T(&defaultLang, "command_desc_cancel")},
		{Command: "version", Description: i18nManager.T(&defaultLang, "command_desc_version")},
	}

	commandsConfig := tgbotapi.NewSetMyCommands(commands...)
	if _, err := bot.Request(commandsConfig); err != nil {
		logger.Error("Failed to set bot commands", zap.Error(err))
	} else {
		logger.Info("Successfully set bot commands")
	}
}
