package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerdneilsfield/storyboarder/internal/auth"
	"github.com/nerdneilsfield/storyboarder/internal/config"
	"github.com/nerdneilsfield/storyboarder/internal/payment"
	"github.com/nerdneilsfield/storyboarder/internal/providers"
	"github.com/nerdneilsfield/storyboarder/internal/server"
	"github.com/nerdneilsfield/storyboarder/internal/storage"
	"github.com/nerdneilsfield/storyboarder/pkg/falapi"
	"github.com/nerdneilsfield/storyboarder/pkg/storyapi"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:          "serve <config>",
		Short:        "Run the ledger and generation HTTP API",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), args[0], version)
		},
	}
}

func runServe(parent context.Context, configFile string, version string) error {
	cfg, log, err := loadConfig(configFile, config.ModeServe)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(contextOrBackground(parent), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.InitDB(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer storage.Close(db)

	blobs, err := storage.NewFileStore(cfg.Storage.BlobDir, blobPublicBase(cfg))
	if err != nil {
		return err
	}

	tokens, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	storyteller, err := providers.NewGeminiStoryteller(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, log.Named("gemini"))
	if err != nil {
		return fmt.Errorf("failed to create storyteller: %w", err)
	}

	fal, err := falapi.NewClient(falapi.Options{
		APIKey:          cfg.Fal.APIKey,
		ImageEndpoint:   cfg.Fal.ImageEndpoint,
		CaptionEndpoint: cfg.Fal.CaptionEndpoint,
		Settings: falapi.ImageSettings{
			ImageSize:         cfg.Fal.ImageSize,
			NumInferenceSteps: cfg.Fal.NumInferenceSteps,
			GuidanceScale:     cfg.Fal.GuidanceScale,
		},
		PollInterval: cfg.Fal.PollInterval(),
	}, log.Named("fal"))
	if err != nil {
		return fmt.Errorf("failed to create fal client: %w", err)
	}
	if balance, err := fal.AccountBalance(ctx); err != nil {
		log.Warn("Could not read fal account balance", zap.Error(err))
	} else {
		log.Info("fal account balance", zap.Float64("balance", balance))
	}

	srv := server.New(server.Deps{
		Ledger: storage.NewGormLedger(db, cfg.Ledger.InitialPoints),
		Payments: payment.NewStripe(payment.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			PriceID:       cfg.Stripe.PriceID,
			FrontendURL:   cfg.Server.FrontendURL,
		}, log.Named("stripe")),
		Tokens:      tokens,
		Storyteller: storyteller,
		Images:      fal,
		Captioner:   fal,
		Static:      blobs.Handler(),
		Pricing: storyapi.Pricing{
			PointsPerPurchase: cfg.Ledger.PointsPerPurchase,
			CostPerGeneration: cfg.Ledger.CostPerGeneration,
		},
		Logger: log,
	})

	log.Info("Starting storyboard API", zap.String("version", version), zap.String("listen", cfg.Server.Listen))
	return srv.Run(ctx, cfg.Server.Listen)
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
