package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerdneilsfield/storyboarder/internal/bot"
	"github.com/nerdneilsfield/storyboarder/internal/config"
	"github.com/spf13/cobra"
)

func newStartCmd(version string, buildTime string) *cobra.Command {
	return &cobra.Command{
		Use:          "start <config>",
		Short:        "Run the Telegram storyboard bot",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), args[0], version, buildTime)
		},
	}
}

func runStart(parent context.Context, configFile string, version string, buildTime string) error {
	cfg, log, err := loadConfig(configFile, config.ModeBot)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(contextOrBackground(parent), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.close()

	return bot.StartBot(ctx, cfg, log.Named("bot"), stores.gateway, stores.db, version, buildTime)
}
