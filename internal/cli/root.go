// Package cli exposes the application as cobra commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"PostForge/internal/app"
	"PostForge/internal/config"
	"PostForge/internal/logging"
)

// RootCmd returns the postforge command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "postforge",
		Short: "Research, write, critique and publish channel posts",
		Long: `postforge turns a short brief into a researched, critiqued post and keeps
a queue that is published to a Telegram channel once a day.

Configuration is read from the YAML file named by POSTFORGE_CONFIG
(default postforge.yaml) and environment variables.`,
		SilenceUsage: true,
	}

	root.AddCommand(ServeCmd())
	root.AddCommand(PostCmd())
	root.AddCommand(AutopostCmd())
	root.AddCommand(QueueCmd())
	root.AddCommand(PublishedCmd())
	root.AddCommand(ShowCmd())
	root.AddCommand(EditCmd())
	root.AddCommand(PublishCmd())
	root.AddCommand(PlanCmd())
	return root
}

// openApp loads configuration and builds the application for one command. Callers close it.
func openApp(_ *cobra.Command, opts app.Options) (*app.Application, error) {
	cfg := config.Load()
	logger := logging.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	application, err := app.New(cfg, logger, opts)
	if err != nil {
		return nil, fmt.Errorf("start postforge: %w", err)
	}
	return application, nil
}
