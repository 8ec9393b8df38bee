package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nerdneilsfield/storyboarder/internal/config"
	"github.com/spf13/cobra"
)

func newGalleryCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "Inspect and prune saved panels",
	}
	cmd.PersistentFlags().StringVarP(&user, "user", "u", "", "Gallery owner (token subject, e.g. tg:12345)")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(&cobra.Command{
		Use:          "list <config>",
		Short:        "List saved panels, newest first",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGalleryList(cmd.Context(), args[0], user, cmd.OutOrStdout())
		},
	})

	var id string
	deleteCmd := &cobra.Command{
		Use:          "delete <config>",
		Short:        "Delete one saved panel record",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGalleryDelete(cmd.Context(), args[0], user, id, cmd.OutOrStdout())
		},
	}
	deleteCmd.Flags().StringVar(&id, "id", "", "Record id to delete")
	_ = deleteCmd.MarkFlagRequired("id")
	cmd.AddCommand(deleteCmd)
	return cmd
}

func runGalleryList(ctx context.Context, configFile, user string, out io.Writer) error {
	cfg, log, err := loadConfig(configFile, config.ModeGallery)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx = contextOrBackground(ctx)
	stores, err := openGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.close()

	images, err := stores.gateway.List(ctx, user)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		fmt.Fprintln(out, "no saved panels")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSAVED\tCAPTION\tURL")
	for _, img := range images {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", img.ID, img.CreatedAt.Local().Format("2006-01-02 15:04"), shorten(img.Caption, 40), img.ImageURL)
	}
	return w.Flush()
}

func runGalleryDelete(ctx context.Context, configFile, user, id string, out io.Writer) error {
	cfg, log, err := loadConfig(configFile, config.ModeGallery)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx = contextOrBackground(ctx)
	stores, err := openGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.close()

	if err := stores.gateway.Delete(ctx, user, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %s\n", id)
	return nil
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
