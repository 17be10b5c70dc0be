package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/edenbot/internal/config"
)

func newCheckCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file",
		Long:  "Loads and validates the config file and prints the settings the bot would run with.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:           %s\n", g.configPath)
			fmt.Fprintf(out, "platform:         %s\n", cfg.Platform)
			fmt.Fprintf(out, "gateway:          %s\n", cfg.Eden.GatewayURL)
			fmt.Fprintf(out, "storage:          %s\n", cfg.Eden.StorageBase())
			fmt.Fprintf(out, "poll interval:    %s\n", cfg.Eden.PollInterval())
			if mw := cfg.Eden.MaxWait(); mw > 0 {
				fmt.Fprintf(out, "max wait:         %s\n", mw)
			} else {
				fmt.Fprintf(out, "max wait:         unbounded\n")
			}
			fmt.Fprintf(out, "controls ttl:     %s\n", cfg.Controls.ControlsTTL())
			fmt.Fprintf(out, "allowed channels: %d\n", len(cfg.Bot.AllowedChannels))
			fmt.Fprintf(out, "content filter:   %t\n", cfg.Bot.ContentFilterEnabled)
			fmt.Fprintf(out, "remix channels:   %d\n", len(cfg.Remix.Channels))
			if cfg.Dashboard.Enabled {
				fmt.Fprintf(out, "dashboard:        :%d\n", cfg.Dashboard.Port)
			} else {
				fmt.Fprintf(out, "dashboard:        disabled\n")
			}
			fmt.Fprintln(out, "ok")
			return nil
		},
	}
}
