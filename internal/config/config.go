package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Mode selects which sections ValidateConfig requires.
type Mode string

const (
	ModeServe    Mode = "serve"
	ModeBot      Mode = "bot"
	ModeGenerate Mode = "generate"
	ModeGallery  Mode = "gallery"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STORYBOARDER_"

type Config struct {
	LogConfig  LogConfig        `toml:"logConfig"`
	Server     ServerConfig     `toml:"server"`
	Auth       AuthConfig       `toml:"auth"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Stripe     StripeConfig     `toml:"stripe"`
	API        APIConfig        `toml:"api"`
	Fal        FalConfig        `toml:"fal"`
	Gemini     GeminiConfig     `toml:"gemini"`
	Storage    StorageConfig    `toml:"storage"`
	Bot        BotConfig        `toml:"bot"`
	Generation GenerationConfig `toml:"generation"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

type ServerConfig struct {
	Listen      string `toml:"listen"`
	PublicURL   string `toml:"publicURL"`
	FrontendURL string `toml:"frontendURL"`
}

// AuthConfig holds the bearer token settings shared by the ledger service and the bot.
type AuthConfig struct {
	JWTSecret       string `toml:"jwtSecret"`
	Issuer          string `toml:"issuer"`
	TokenTTLMinutes int    `toml:"tokenTTLMinutes"`
}

type LedgerConfig struct {
	InitialPoints     int `toml:"initialPoints"`
	PointsPerPurchase int `toml:"pointsPerPurchase"`
	CostPerGeneration int `toml:"costPerGeneration"`
}

type StripeConfig struct {
	SecretKey     string `toml:"secretKey"`
	WebhookSecret string `toml:"webhookSecret"`
	PriceID       string `toml:"priceID"`
}

// APIConfig points the clients (bot, generate) at a running serve instance.
type APIConfig struct {
	BaseURL        string `toml:"baseURL"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
}

type FalConfig struct {
	APIKey              string  `toml:"apiKey"`
	ImageEndpoint       string  `toml:"imageEndpoint"`
	CaptionEndpoint     string  `toml:"captionEndpoint"`
	ImageSize           string  `toml:"imageSize" json:"image_size"`
	NumInferenceSteps   int     `toml:"numInferenceSteps" json:"num_inference_steps"`
	GuidanceScale       float64 `toml:"guidanceScale" json:"guidance_scale"`
	PollIntervalSeconds int     `toml:"pollIntervalSeconds"`
}

type GeminiConfig struct {
	APIKey string `toml:"apiKey"`
	Model  string `toml:"model"`
}

type StorageConfig struct {
	DBPath        string `toml:"dbPath"`
	PostgresDSN   string `toml:"postgresDSN"`
	BlobDir       string `toml:"blobDir"`
	PublicBaseURL string `toml:"publicBaseURL"`
}

type BotConfig struct {
	Token           string  `toml:"token"`
	TelegramAPIURL  string  `toml:"telegramAPIURL"`
	DefaultLanguage string  `toml:"defaultLanguage"`
	AllowedUserIDs  []int64 `toml:"allowedUserIDs"`
	AdminUserIDs    []int64 `toml:"adminUserIDs"`
}

type GenerationConfig struct {
	Concurrency           int     `toml:"concurrency"`
	RequestsPerSecond     float64 `toml:"requestsPerSecond"`
	SaveErrorClearSeconds int     `toml:"saveErrorClearSeconds"`
}

var validImageSizes = []string{"portrait_16_9", "square", "square_hd", "landscape_16_9", "landscape_4_3", "portrait_4_3"}

// LoadConfig reads the TOML file, loads an optional .env next to the working
// directory, then applies STORYBOARDER_* overrides and defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func ApplyEnv(cfg *Config) error {
	strs := map[string]*string{
		"JWT_SECRET":            &cfg.Auth.JWTSecret,
		"STRIPE_SECRET_KEY":     &cfg.Stripe.SecretKey,
		"STRIPE_WEBHOOK_SECRET": &cfg.Stripe.WebhookSecret,
		"STRIPE_PRICE_ID":       &cfg.Stripe.PriceID,
		"FAL_KEY":               &cfg.Fal.APIKey,
		"GEMINI_API_KEY":        &cfg.Gemini.APIKey,
		"BOT_TOKEN":             &cfg.Bot.Token,
		"API_BASE_URL":          &cfg.API.BaseURL,
		"DB_PATH":               &cfg.Storage.DBPath,
		"POSTGRES_DSN":          &cfg.Storage.PostgresDSN,
		"FRONTEND_URL":          &cfg.Server.FrontendURL,
		"LISTEN":                &cfg.Server.Listen,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"INITIAL_POINTS":      &cfg.Ledger.InitialPoints,
		"POINTS_PER_PURCHASE": &cfg.Ledger.PointsPerPurchase,
		"COST_PER_GENERATION": &cfg.Ledger.CostPerGeneration,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s must be an integer: %w", EnvPrefix, name, err)
		}
		*dst = n
	}
	return nil
}

func ApplyDefaults(cfg *Config) {
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Format == "" {
		cfg.LogConfig.Format = "console"
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "storyboarder"
	}
	if cfg.Auth.TokenTTLMinutes <= 0 {
		cfg.Auth.TokenTTLMinutes = 60
	}
	if cfg.Ledger.InitialPoints == 0 {
		cfg.Ledger.InitialPoints = 10
	}
	if cfg.Ledger.PointsPerPurchase == 0 {
		cfg.Ledger.PointsPerPurchase = 10
	}
	if cfg.Ledger.CostPerGeneration == 0 {
		cfg.Ledger.CostPerGeneration = 1
	}
	if cfg.API.TimeoutSeconds <= 0 {
		cfg.API.TimeoutSeconds = 120
	}
	if cfg.Fal.ImageSize == "" {
		cfg.Fal.ImageSize = "landscape_4_3"
	}
	if cfg.Fal.NumInferenceSteps == 0 {
		cfg.Fal.NumInferenceSteps = 28
	}
	if cfg.Fal.GuidanceScale == 0 {
		cfg.Fal.GuidanceScale = 3.5
	}
	if cfg.Fal.PollIntervalSeconds <= 0 {
		cfg.Fal.PollIntervalSeconds = 2
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.0-flash"
	}
	if cfg.Storage.BlobDir == "" {
		cfg.Storage.BlobDir = "./data/blobs"
	}
	if cfg.Bot.DefaultLanguage == "" {
		cfg.Bot.DefaultLanguage = "en"
	}
	if cfg.Generation.Concurrency <= 0 {
		cfg.Generation.Concurrency = 4
	}
	if cfg.Generation.SaveErrorClearSeconds <= 0 {
		cfg.Generation.SaveErrorClearSeconds = 3
	}
}

func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

func (c FalConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c GenerationConfig) SaveErrorClear() time.Duration {
	return time.Duration(c.SaveErrorClearSeconds) * time.Second
}

func ValidateURL(urlString string) bool {
	if urlString == "" {
		return false
	}
	u, err := url.Parse(urlString)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

func MaskedPrint(str string) string {
	if len(str) <= 4 {
		return strings.Repeat("*", len(str))
	}
	// only show the last 4 characters
	return strings.Repeat("*", len(str)-4) + str[len(str)-4:]
}

func PrintConfig(cfg *Config) {
	fmt.Println()
	fmt.Println("--------------------------------")
	fmt.Println("Config:")
	fmt.Printf("\tLogConfig: %v\n", cfg.LogConfig)
	fmt.Printf("\tServer: %v\n", cfg.Server)
	fmt.Printf("\tAuth.JWTSecret: %s\n", MaskedPrint(cfg.Auth.JWTSecret))
	fmt.Printf("\tAuth.Issuer: %s, TTL: %dm\n", cfg.Auth.Issuer, cfg.Auth.TokenTTLMinutes)
	fmt.Printf("\tLedger: %v\n", cfg.Ledger)
	fmt.Printf("\tStripe.SecretKey: %s\n", MaskedPrint(cfg.Stripe.SecretKey))
	fmt.Printf("\tStripe.PriceID: %s\n", cfg.Stripe.PriceID)
	fmt.Printf("\tAPI: %v\n", cfg.API)
	fmt.Printf("\tFal.APIKey: %s\n", MaskedPrint(cfg.Fal.APIKey))
	fmt.Printf("\tFal.ImageEndpoint: %s\n", cfg.Fal.ImageEndpoint)
	fmt.Printf("\tGemini.APIKey: %s, Model: %s\n", MaskedPrint(cfg.Gemini.APIKey), cfg.Gemini.Model)
	fmt.Printf("\tStorage.DBPath: %s, BlobDir: %s\n", cfg.Storage.DBPath, cfg.Storage.BlobDir)
	fmt.Printf("\tStorage.PostgresDSN: %s\n", MaskedPrint(cfg.Storage.PostgresDSN))
	fmt.Printf("\tBot.Token: %s\n", MaskedPrint(cfg.Bot.Token))
	fmt.Printf("\tBot.AllowedUserIDs: %v, AdminUserIDs: %v\n", cfg.Bot.AllowedUserIDs, cfg.Bot.AdminUserIDs)
	fmt.Printf("\tGeneration: %v\n", cfg.Generation)
	fmt.Println("--------------------------------")
	fmt.Println()
}

// ValidateConfig checks the sections the given mode needs.
func ValidateConfig(cfg *Config, mode Mode) error {
	if cfg.LogConfig.Level == "" {
		return fmt.Errorf("logLevel is required")
	}
	if cfg.LogConfig.Format == "" {
		return fmt.Errorf("logFormat is required")
	}

	switch mode {
	case ModeServe:
		return validateServe(cfg)
	case ModeBot:
		if err := validateClient(cfg); err != nil {
			return err
		}
		if cfg.Bot.Token == "" {
			return fmt.Errorf("bot.token is required")
		}
		if cfg.Bot.TelegramAPIURL != "" && !ValidateURL(strings.ReplaceAll(cfg.Bot.TelegramAPIURL, "%s", cfg.Bot.Token)) {
			return fmt.Errorf("bot.telegramAPIURL must be a valid URL")
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwtSecret is required to mint bot tokens")
		}
		return nil
	case ModeGenerate:
		return validateClient(cfg)
	case ModeGallery:
		if cfg.Storage.DBPath == "" && cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.dbPath or storage.postgresDSN is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func validateServe(cfg *Config) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwtSecret is required")
	}
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.dbPath is required")
	}
	if cfg.Storage.PublicBaseURL != "" && !ValidateURL(cfg.Storage.PublicBaseURL) {
		return fmt.Errorf("storage.publicBaseURL must be a valid URL")
	}
	if cfg.Ledger.InitialPoints < 0 {
		return fmt.Errorf("initialPoints must not be negative")
	}
	if cfg.Ledger.PointsPerPurchase <= 0 {
		return fmt.Errorf("pointsPerPurchase must be greater than 0")
	}
	if cfg.Ledger.CostPerGeneration <= 0 {
		return fmt.Errorf("costPerGeneration must be greater than 0")
	}
	if cfg.Fal.APIKey == "" {
		return fmt.Errorf("fal.apiKey is required")
	}
	if !ValidateURL(cfg.Fal.ImageEndpoint) {
		return fmt.Errorf("fal.imageEndpoint is required and must be a valid URL")
	}
	if cfg.Fal.CaptionEndpoint != "" && !ValidateURL(cfg.Fal.CaptionEndpoint) {
		return fmt.Errorf("fal.captionEndpoint must be a valid URL")
	}
	if !validImageSize(cfg.Fal.ImageSize) {
		return fmt.Errorf("imageSize must be one of: %s", strings.Join(validImageSizes, ", "))
	}
	if cfg.Fal.NumInferenceSteps <= 0 || cfg.Fal.NumInferenceSteps > 50 {
		return fmt.Errorf("numInferenceSteps must be greater than 0 and less than 50")
	}
	if cfg.Fal.GuidanceScale <= 0 || cfg.Fal.GuidanceScale > 15 {
		return fmt.Errorf("guidanceScale must be greater than 0 and less than 15")
	}
	if cfg.Gemini.APIKey == "" {
		return fmt.Errorf("gemini.apiKey is required")
	}
	if cfg.Stripe.SecretKey != "" && cfg.Stripe.PriceID == "" {
		return fmt.Errorf("stripe.priceID is required when stripe is enabled")
	}
	return nil
}

func validateClient(cfg *Config) error {
	if !ValidateURL(cfg.API.BaseURL) {
		return fmt.Errorf("api.baseURL is required and must be a valid URL")
	}
	if cfg.Generation.RequestsPerSecond < 0 {
		return fmt.Errorf("generation.requestsPerSecond must not be negative")
	}
	return nil
}

func validImageSize(size string) bool {
	for _, s := range validImageSizes {
		if s == size {
			return true
		}
	}
	return false
}
