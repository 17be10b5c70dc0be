package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/edenbot/internal/config"
	"github.com/zulandar/edenbot/internal/creation"
	"github.com/zulandar/edenbot/internal/creation/discord"
	"github.com/zulandar/edenbot/internal/creation/slack"
	"github.com/zulandar/edenbot/internal/dashboard"
	"github.com/zulandar/edenbot/internal/moderation"
)

// bot is a chat platform front end hosting creation loops.
type bot interface {
	Run(ctx context.Context) error
}

func newRunCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot on the configured chat platform",
		Long: `Connects to Discord or Slack (per the platform setting) and serves
/dream, /lerp, mentions and remixes until interrupted. When the dashboard is
enabled, a status server runs alongside the bot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(g.verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBot(ctx, cfg, logger)
		},
	}
}

// runBot hosts the configured platform's bot, plus the dashboard when
// enabled, until ctx is done or either fails.
func runBot(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Platform == "terminal" {
		return fmt.Errorf("platform %q has no bot; use eden dream", cfg.Platform)
	}
	client, err := newEdenClient(cfg, logger)
	if err != nil {
		return err
	}
	filter, err := newFilter(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry := creation.NewRegistry()
	wiring := creation.Wiring{
		Gateway:  client,
		Stats:    client,
		Registry: registry,
		Settings: newSettings(cfg),
		Logger:   logger.Named("creation"),
	}

	b, err := newBot(cfg, wiring, filter, logger)
	if err != nil {
		return err
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return b.Run(gctx) })
	if cfg.Dashboard.Enabled {
		grp.Go(func() error {
			return dashboard.Start(gctx, dashboard.StartOpts{
				Registry:  registry,
				Port:      cfg.Dashboard.Port,
				Platform:  cfg.Platform,
				PulseCron: cfg.Dashboard.PulseCron,
				Logger:    logger.Named("dashboard"),
			})
		})
	}
	logger.Info("edenbot started",
		zap.String("platform", cfg.Platform),
		zap.Bool("dashboard", cfg.Dashboard.Enabled),
		zap.Bool("content_filter", cfg.Bot.ContentFilterEnabled))

	err = grp.Wait()
	logger.Info("edenbot stopped")
	return err
}

func newBot(cfg *config.Config, wiring creation.Wiring, filter moderation.Filter, logger *zap.Logger) (bot, error) {
	switch cfg.Platform {
	case "discord":
		return discord.New(discord.BotOpts{
			Token:         cfg.Discord.Token,
			ApplicationID: cfg.Discord.ApplicationID,
			Bot:           cfg.Bot,
			Remix:         cfg.Remix,
			Wiring:        wiring,
			Filter:        filter,
			Logger:        logger.Named("discord"),
		})
	case "slack":
		return slack.New(slack.BotOpts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
			Bot:      cfg.Bot,
			Wiring:   wiring,
			Filter:   filter,
			Logger:   logger.Named("slack"),
		})
	}
	return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
}
