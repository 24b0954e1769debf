// Package cmd defines the ai-digest CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/ai-digest/internal/config"
	"github.com/JakeFAU/ai-digest/internal/orchestrator"
	"github.com/JakeFAU/ai-digest/internal/pipeline"
	"github.com/JakeFAU/ai-digest/internal/post"
	"github.com/JakeFAU/ai-digest/internal/server"
)

// App is the surface the commands drive. *server.App satisfies it.
type App interface {
	RunOnce(ctx context.Context, req pipeline.Request) (pipeline.Report, error)
	Compare(ctx context.Context, accounts []post.AccountTarget) (orchestrator.Report, error)
	Serve(ctx context.Context, addr string) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

type rootOptions struct {
	cfgFile string
	v       *viper.Viper
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New()}
	cmd := &cobra.Command{
		Use:   "ai-digest",
		Short: "Collects recent posts from AI accounts and delivers a daily digest.",
		Long: `ai-digest fetches recent posts from a list of AI-industry accounts through
a chain of fallback adapters, merges and filters them to a recency window,
summarizes them and posts the digest to a chat webhook.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newCompareCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

// load reads the optional config file and validates the merged result.
func (o *rootOptions) load() (config.Config, error) {
	if o.cfgFile != "" {
		o.v.SetConfigFile(o.cfgFile)
		if err := o.v.ReadInConfig(); err != nil {
			return config.Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return config.FromViper(o.v)
}

// withApp loads config, builds the app, runs fn and closes the app.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, app App) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	app, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownGrace)
		defer cancel()
		_ = app.Close(closeCtx)
	}()
	return fn(ctx, app)
}

// Execute runs the CLI with a signal-aware context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ai-digest: %v\n", err)
		stop()
		os.Exit(1)
	}
}
