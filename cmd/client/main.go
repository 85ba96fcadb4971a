package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dmitrijs2005/readkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/readkeeper/internal/client/app"
	"github.com/dmitrijs2005/readkeeper/internal/client/config"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cfg.LoadDefaults()

	// withShell opens the client for one command and closes it afterwards.
	withShell := func(fn func(ctx context.Context, s *app.Shell, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			logPath := cfg.LogFile
			if logPath == "" {
				logPath = filepath.Join(cfg.DataDir, "shell.log")
			}
			logger, closer := logging.NewFile(logging.FileOptions{Path: logPath}, cfg.LogLevel)
			defer closer.Close()

			s, err := app.OpenShell(cmd.Context(), cfg, logger, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.Close()
			return fn(cmd.Context(), s, args)
		}
	}

	root := &cobra.Command{
		Use:           "readkeeper",
		Short:         "Offline-first reader for your bookmarks",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.Load(cmd.Flags(), cfg)
		},
		RunE: withShell(func(ctx context.Context, s *app.Shell, _ []string) error {
			s.Run(ctx)
			return nil
		}),
	}
	config.BindFlags(root.PersistentFlags(), cfg)

	var full bool
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize bookmarks, progress and cached content",
		Args:  cobra.NoArgs,
		RunE: withShell(func(ctx context.Context, s *app.Shell, _ []string) error {
			return s.App.Sync(ctx, full)
		}),
	}
	syncCmd.Flags().BoolVar(&full, "full", false, "list the whole collection and prune deleted bookmarks")

	listCmd := &cobra.Command{
		Use:   "list [all|archived] [#tag]",
		Short: "List bookmarks with offline availability",
		Args:  cobra.MaximumNArgs(2),
		RunE: withShell(func(ctx context.Context, s *app.Shell, args []string) error {
			return s.App.List(ctx, args)
		}),
	}

	readCmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Render a cached article",
		Args:  cobra.ExactArgs(1),
		RunE: withShell(func(ctx context.Context, s *app.Shell, args []string) error {
			return s.App.Read(ctx, args)
		}),
	}

	doneCmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a bookmark as read",
		Args:  cobra.ExactArgs(1),
		RunE: withShell(func(ctx context.Context, s *app.Shell, args []string) error {
			return s.App.Done(ctx, args)
		}),
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "shell",
			Short: "Start the interactive shell",
			Args:  cobra.NoArgs,
			RunE: withShell(func(ctx context.Context, s *app.Shell, _ []string) error {
				s.Run(ctx)
				return nil
			}),
		},
		syncCmd,
		listCmd,
		readCmd,
		doneCmd,
		&cobra.Command{
			Use:   "status",
			Short: "Show sync and cache state",
			Args:  cobra.NoArgs,
			RunE: withShell(func(ctx context.Context, s *app.Shell, _ []string) error {
				return s.App.Status(ctx)
			}),
		},
		&cobra.Command{
			Use:   "login",
			Short: "Store an API token",
			Args:  cobra.NoArgs,
			RunE: withShell(func(ctx context.Context, s *app.Shell, _ []string) error {
				return s.App.Login(ctx)
			}),
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Forget the API token",
			Args:  cobra.NoArgs,
			RunE: withShell(func(ctx context.Context, s *app.Shell, _ []string) error {
				return s.App.Logout(ctx)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			PersistentPreRunE: func(*cobra.Command, []string) error {
				return nil
			},
			Run: func(cmd *cobra.Command, _ []string) {
				buildinfo.PrintBuildData(cmd.OutOrStdout())
			},
		},
	)
	return root
}
