package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/readkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/readkeeper/internal/client/app"
	"github.com/dmitrijs2005/readkeeper/internal/client/config"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cfg.LoadDefaults()

	root := &cobra.Command{
		Use:          "readkeeper-worker",
		Short:        "Background sync and content cache worker for readkeeper",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Load(cmd.Flags(), cfg); err != nil {
				return err
			}

			buildinfo.PrintBuildData(cmd.OutOrStdout())

			logger, closer := logging.NewFile(logging.FileOptions{Path: cfg.LogFile}, cfg.LogLevel)
			defer closer.Close()

			w, err := app.NewWorker(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error(cmd.Context(), "worker init failed", "error", err)
				return err
			}
			defer w.Close()
			return w.Run(cmd.Context())
		},
	}
	config.BindFlags(root.Flags(), cfg)
	return root
}
