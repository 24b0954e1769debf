package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// newServeCmd runs the diagnostics HTTP server until interrupted.
func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and on-demand runs over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app App) error {
				return app.Serve(ctx, "")
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	_ = opts.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}
