package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nerdneilsfield/storyboarder/internal/auth"
	"github.com/nerdneilsfield/storyboarder/internal/config"
	"github.com/nerdneilsfield/storyboarder/internal/storyboard"
	"github.com/nerdneilsfield/storyboarder/pkg/storyapi"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type generateOptions struct {
	storyFile string
	user      string
	email     string
	title     string
	character string
	outDir    string
	save      bool
}

func newGenerateCmd() *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:          "generate <config>",
		Short:        "Break a story into scenes and render every panel",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), args[0], opts, cmd.OutOrStdout(), cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVarP(&opts.storyFile, "story-file", "f", "-", "Story text file, - reads stdin")
	cmd.Flags().StringVarP(&opts.user, "user", "u", "cli", "Account the panels are charged to")
	cmd.Flags().StringVar(&opts.email, "email", "", "Account email used on first use (default <user>@localhost)")
	cmd.Flags().StringVarP(&opts.title, "title", "t", "", "Storyboard title written to the manifest")
	cmd.Flags().StringVarP(&opts.character, "character", "c", "", "Character description added to every panel prompt")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "Download finished panels and storyboard.yaml into this directory")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Save finished panels to the user's gallery")
	return cmd
}

func readStory(path string, stdin io.Reader) (string, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read story: %w", err)
	}
	story := strings.TrimSpace(string(raw))
	if story == "" {
		return "", errors.New("story is empty")
	}
	return story, nil
}

func runGenerate(parent context.Context, configFile string, opts *generateOptions, out io.Writer, in io.Reader) error {
	cfg, log, err := loadConfig(configFile, config.ModeGenerate)
	if err != nil {
		return err
	}
	defer log.Sync()
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is required to mint a token for --user")
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(parent), os.Interrupt, syscall.SIGTERM)
	defer stop()

	story, err := readStory(opts.storyFile, in)
	if err != nil {
		return err
	}

	tokens, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}
	email := opts.email
	if email == "" {
		email = opts.user + "@localhost"
	}
	token, err := tokens.Issue(opts.user, email, cfg.Auth.TokenTTL())
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	client := storyapi.NewClient(cfg.API.BaseURL, cfg.API.Timeout(), log.Named("storyapi")).WithToken(token)

	ledger := storyboard.NewLedger(client, 0, log.Named("ledger"))
	ledger.SetSession(token)
	profile, err := ledger.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("failed to load balance: %w", err)
	}
	fmt.Fprintf(out, "%s has %d points, %d per panel\n", profile.User.ID, profile.User.Points, profile.Config.CostPerGeneration)

	scenes := storyboard.NewBreakdowner(client, log.Named("breakdown")).Breakdown(ctx, story)
	if storyboard.IsFallback(scenes) {
		log.Warn("Story breakdown failed, rendering the story as a single panel")
	}

	store := storyboard.NewStore()
	if err := store.Seed(scenes); err != nil {
		return err
	}

	renderOpts := []storyboard.RendererOption{storyboard.WithConcurrency(cfg.Generation.Concurrency)}
	if cfg.Generation.RequestsPerSecond > 0 {
		renderOpts = append(renderOpts, storyboard.WithRateLimit(cfg.Generation.RequestsPerSecond, cfg.Generation.Concurrency))
	}
	renderer := storyboard.NewRenderer(store, ledger, client, log.Named("render"), renderOpts...)
	if opts.character != "" {
		renderer.SetPrompt(storyboard.CharacterPrompt(opts.character))
	}

	renderErr := renderer.RenderAll(ctx)
	final := store.Snapshot()
	failed := printPanels(out, final)
	if points, ok := ledger.Points(); ok {
		fmt.Fprintf(out, "%d points left\n", points)
	}

	var gateway *storyboard.Gateway
	if opts.save {
		stores, err := openGateway(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer stores.close()
		gateway = stores.gateway
		saveAll(ctx, gateway, final, opts.user, out, log)
	}

	if opts.outDir != "" {
		if gateway == nil {
			gateway = storyboard.NewGateway(nil, nil, nil, log.Named("gallery"))
		}
		m, err := gateway.Export(ctx, opts.title, final, opts.outDir)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Fprintf(out, "exported %d panels to %s\n", len(m.Panels), opts.outDir)
	}

	if renderErr != nil {
		log.Debug("Render errors", zap.Error(renderErr))
		return fmt.Errorf("%d of %d panels failed", failed, len(final))
	}
	return nil
}

func printPanels(out io.Writer, scenes []storyboard.Scene) int {
	failed := 0
	for i, sc := range scenes {
		switch sc.Status {
		case storyboard.StatusSucceeded:
			fmt.Fprintf(out, "[%d] ok      %s\n", i+1, sc.ImageURL)
		case storyboard.StatusFailed:
			failed++
			fmt.Fprintf(out, "[%d] failed  %s: %s\n", i+1, sc.ErrorKind, sc.Error)
		default:
			fmt.Fprintf(out, "[%d] %s\n", i+1, sc.Status)
		}
	}
	return failed
}

func saveAll(ctx context.Context, gateway *storyboard.Gateway, scenes []storyboard.Scene, userID string, out io.Writer, log *zap.Logger) {
	for i, sc := range scenes {
		if !sc.HasImage() {
			continue
		}
		rec, err := gateway.Save(ctx, sc, userID)
		if err != nil {
			log.Error("Failed to save panel", zap.Int("panel", i+1), zap.Error(err))
			continue
		}
		fmt.Fprintf(out, "[%d] saved   %s\n", i+1, rec.ID)
	}
}
