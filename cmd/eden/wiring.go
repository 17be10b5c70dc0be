package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zulandar/edenbot/internal/config"
	"github.com/zulandar/edenbot/internal/creation"
	"github.com/zulandar/edenbot/internal/eden"
	"github.com/zulandar/edenbot/internal/moderation"
)

// newEdenClient builds the gateway client described by cfg.
func newEdenClient(cfg *config.Config, logger *zap.Logger) (*eden.Client, error) {
	return eden.New(eden.ClientOpts{
		GatewayURL: cfg.Eden.GatewayURL,
		StorageURL: cfg.Eden.StorageBase(),
		PollPath:   cfg.Eden.PollPath,
		Credentials: eden.Credentials{
			APIKey:    cfg.Eden.APIKey,
			APISecret: cfg.Eden.APISecret,
		},
		Timeout: cfg.Eden.RequestTimeout(),
		Logger:  logger.Named("eden"),
	})
}

// newSettings maps config onto the loop settings every bot shares.
func newSettings(cfg *config.Config) creation.Settings {
	s := creation.Settings{
		PollInterval: cfg.Eden.PollInterval(),
		MaxWait:      cfg.Eden.MaxWait(),
		ControlsTTL:  cfg.Controls.ControlsTTL(),
		MaxControls:  cfg.Controls.MaxEntries,
	}
	if cfg.Eden.PreferAnimated != nil {
		s.PreferAnimated = *cfg.Eden.PreferAnimated
	}
	return s
}

// newFilter returns the Gemini filter when content filtering is enabled.
func newFilter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (moderation.Filter, error) {
	if !cfg.Bot.ContentFilterEnabled {
		return moderation.Noop{}, nil
	}
	g, err := moderation.NewGemini(ctx, moderation.GeminiOpts{
		APIKey: cfg.Moderation.APIKey,
		Model:  cfg.Moderation.Model,
		Logger: logger.Named("moderation"),
	})
	if err != nil {
		return nil, fmt.Errorf("content filter: %w", err)
	}
	return g, nil
}
