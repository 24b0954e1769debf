package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ai-digest/internal/config"
	"github.com/JakeFAU/ai-digest/internal/pipeline"
)

// newRunCmd performs one digest run and prints the report as JSON.
func newRunCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the digest once",
		Long: `Fetches every configured account, builds the digest and delivers it once.
Delivery or summarizer failures are recorded on the printed report. The exit
status is non-zero for configuration errors, invalid requests and runs that
failed before reaching delivery.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dryRun {
				opts.v.Set("delivery.notifier", config.NotifierLog)
			}
			return opts.withApp(cmd, func(ctx context.Context, app App) error {
				// RunOnce returns an error only when the run never reached
				// delivery; degraded and undelivered runs are on the report.
				rep, runErr := app.RunOnce(ctx, pipeline.Request{})
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return errors.Join(runErr, fmt.Errorf("encode report: %w", err))
				}
				if runErr != nil {
					app.Logger().Error("run failed",
						zap.String("run_id", rep.RunID),
						zap.String("status", string(rep.Status)),
						zap.Error(runErr))
					return runErr
				}
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.Duration("window", 0, "recency window, e.g. 24h (default from config)")
	flags.StringSlice("accounts", nil, "comma-separated account handles")
	flags.Bool("compare", false, "call every adapter per account")
	flags.BoolVar(&dryRun, "dry-run", false, "log the digest instead of posting it")
	_ = opts.v.BindPFlag("window", flags.Lookup("window"))
	_ = opts.v.BindPFlag("accounts", flags.Lookup("accounts"))
	_ = opts.v.BindPFlag("run.compare", flags.Lookup("compare"))
	return cmd
}
