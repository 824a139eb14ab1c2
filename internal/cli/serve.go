package cli

import (
	"github.com/spf13/cobra"

	"PostForge/internal/app"
)

// ServeCmd returns the serve command.
func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daily publisher until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := openApp(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer application.Close()
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return application.Serve(ctx)
		},
	}
}
