package bot

import (
	"context"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nerdneilsfield/storyboarder/internal/auth"
	cfg "github.com/nerdneilsfield/storyboarder/internal/config"
	"github.com/nerdneilsfield/storyboarder/internal/i18n"
	"github.com/nerdneilsfield/storyboarder/internal/storyboard"
	"github.com/nerdneilsfield/storyboarder/pkg/falapi"
	"github.com/nerdneilsfield/storyboarder/pkg/storyapi"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BotAPI 是 handlers 用到的 *tgbotapi.BotAPI 子集
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Backend is the storyboard HTTP API. Every call acts for the account the token names.
type Backend interface {
	storyboard.CreditAPI
	BreakdownStory(ctx context.Context, token, story string) ([]byte, error)
	GenerateImage(ctx context.Context, token, prompt string) (string, error)
	AnalyzeCharacter(ctx context.Context, token, imageBase64 string) (string, error)
}

type apiBackend struct {
	*storyapi.Client
}

// NewBackend adapts the wire client to per-call tokens.
func NewBackend(client *storyapi.Client) Backend {
	return apiBackend{Client: client}
}

func (b apiBackend) BreakdownStory(ctx context.Context, token, story string) ([]byte, error) {
	return b.Client.WithToken(token).BreakdownStory(ctx, story)
}

func (b apiBackend) GenerateImage(ctx context.Context, token, prompt string) (string, error) {
	return b.Client.WithToken(token).GenerateImage(ctx, prompt)
}

func (b apiBackend) AnalyzeCharacter(ctx context.Context, token, imageBase64 string) (string, error) {
	return b.Client.WithToken(token).AnalyzeCharacter(ctx, imageBase64)
}

// BotDeps 包含 Bot 需要的所有依赖
type BotDeps struct {
	Bot          BotAPI
	Backend      Backend
	Tokens       *auth.Issuer
	Gateway      *storyboard.Gateway
	Config       *cfg.Config
	DB           *gorm.DB // 用户语言偏好
	StateManager *StateManager
	Authorizer   *auth.Authorizer
	I18n         *i18n.Manager
	FalClient    *falapi.Client // Optional, 管理员 /balance 查询 fal 账户余额
	HTTPClient   *http.Client   // 下载 Telegram 文件
	Version      string
	BuildDate    string
	Logger       *zap.Logger
}
