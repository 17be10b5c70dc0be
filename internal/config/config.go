// Package config provides YAML-based configuration loading for edenbot.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level edenbot configuration, loaded from edenbot.yaml.
type Config struct {
	Platform   string           `yaml:"platform"`
	Bot        BotConfig        `yaml:"bot"`
	Discord    DiscordConfig    `yaml:"discord"`
	Slack      SlackConfig      `yaml:"slack"`
	Eden       EdenConfig       `yaml:"eden"`
	Controls   ControlsConfig   `yaml:"controls"`
	Remix      RemixConfig      `yaml:"remix"`
	Moderation ModerationConfig `yaml:"moderation"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
}

// BotConfig holds the per-bot settings injected into each bot instance.
type BotConfig struct {
	Guilds                 []string `yaml:"guilds"`
	AllowedChannels        []string `yaml:"allowed_channels"`
	RandomReplyProbability float64  `yaml:"random_reply_probability"`
	ContentFilterEnabled   bool     `yaml:"content_filter_enabled"`
}

// DiscordConfig holds Discord gateway credentials.
type DiscordConfig struct {
	Token         string `yaml:"token"`
	ApplicationID string `yaml:"application_id"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// EdenConfig holds the generation gateway and artifact storage endpoints.
type EdenConfig struct {
	GatewayURL        string `yaml:"gateway_url"`
	StorageURL        string `yaml:"storage_url"`
	Bucket            string `yaml:"bucket"`
	APIKey            string `yaml:"api_key"`
	APISecret         string `yaml:"api_secret"`
	PollPath          string `yaml:"poll_path"`
	PollIntervalSec   int    `yaml:"poll_interval_sec"`
	MaxWaitSec        int    `yaml:"max_wait_sec"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	PreferAnimated    *bool  `yaml:"prefer_animated"`
}

// ControlsConfig bounds how long interactive buttons on a finished creation stay live.
type ControlsConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
	MaxEntries int `yaml:"max_entries"`
}

// RemixConfig enables remixing image attachments posted in watched channels.
type RemixConfig struct {
	Channels          []string `yaml:"channels"`
	OutputChannel     string   `yaml:"output_channel"`
	InitImageStrength float64  `yaml:"init_image_strength"`
}

// ModerationConfig configures the Gemini-backed content filter.
type ModerationConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
}

// DashboardConfig configures the in-flight creation status server.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	PulseCron string `yaml:"pulse_cron"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references and unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "discord"
	}
	if c.Eden.PollPath == "" {
		c.Eden.PollPath = "/poll/{task}"
	}
	if c.Eden.PollIntervalSec == 0 {
		c.Eden.PollIntervalSec = 2
	}
	if c.Eden.MaxWaitSec == 0 {
		c.Eden.MaxWaitSec = 1800
	}
	if c.Eden.RequestTimeoutSec == 0 {
		c.Eden.RequestTimeoutSec = 60
	}
	if c.Eden.PreferAnimated == nil {
		t := true
		c.Eden.PreferAnimated = &t
	}
	if c.Controls.TimeoutSec == 0 {
		c.Controls.TimeoutSec = 180
	}
	if c.Controls.MaxEntries == 0 {
		c.Controls.MaxEntries = 1024
	}
	if c.Remix.InitImageStrength == 0 {
		c.Remix.InitImageStrength = 0.2
	}
	if c.Moderation.Model == "" {
		c.Moderation.Model = "gemini-2.5-flash"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8090
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case "discord":
		if c.Discord.Token == "" {
			errs = append(errs, "discord.token is required")
		}
	case "slack":
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
	case "terminal":
	default:
		errs = append(errs, fmt.Sprintf("unsupported platform %q", c.Platform))
	}
	if c.Eden.GatewayURL == "" {
		errs = append(errs, "eden.gateway_url is required")
	}
	if c.Eden.StorageURL == "" {
		errs = append(errs, "eden.storage_url is required")
	}
	if !strings.Contains(c.Eden.PollPath, "{task}") {
		errs = append(errs, "eden.poll_path must contain {task}")
	}
	if c.Eden.PollIntervalSec < 0 {
		errs = append(errs, "eden.poll_interval_sec must be positive")
	}
	if c.Eden.MaxWaitSec < -1 {
		errs = append(errs, "eden.max_wait_sec must be -1 (unbounded) or positive")
	}
	if p := c.Bot.RandomReplyProbability; p < 0 || p > 1 {
		errs = append(errs, "bot.random_reply_probability must be between 0 and 1")
	}
	if s := c.Remix.InitImageStrength; s < 0 || s > 1 {
		errs = append(errs, "remix.init_image_strength must be between 0 and 1")
	}
	if len(c.Remix.Channels) > 0 && c.Remix.OutputChannel == "" {
		errs = append(errs, "remix.output_channel is required when remix.channels is set")
	}
	if c.Bot.ContentFilterEnabled && c.Moderation.APIKey == "" {
		errs = append(errs, "moderation.api_key is required when bot.content_filter_enabled is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ChannelAllowed reports whether commands may run in channelID.
func (b BotConfig) ChannelAllowed(channelID string) bool {
	return slices.Contains(b.AllowedChannels, channelID)
}

// GuildAllowed reports whether the bot serves events from guildID. An empty
// guild list serves every guild.
func (b BotConfig) GuildAllowed(guildID string) bool {
	return len(b.Guilds) == 0 || slices.Contains(b.Guilds, guildID)
}

// PollInterval returns the status poll cadence.
func (e EdenConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSec) * time.Second
}

// MaxWait returns the upper bound on a single creation's polling time.
// Zero means unbounded (max_wait_sec: -1).
func (e EdenConfig) MaxWait() time.Duration {
	if e.MaxWaitSec < 0 {
		return 0
	}
	return time.Duration(e.MaxWaitSec) * time.Second
}

// RequestTimeout returns the per-request HTTP timeout.
func (e EdenConfig) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutSec) * time.Second
}

// StorageBase joins the storage URL and bucket into the artifact base URL.
func (e EdenConfig) StorageBase() string {
	base := strings.TrimRight(e.StorageURL, "/")
	if e.Bucket == "" {
		return base
	}
	return base + "/" + strings.Trim(e.Bucket, "/")
}

// ControlsTTL returns how long finished creations keep accepting button presses.
func (c ControlsConfig) ControlsTTL() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}
