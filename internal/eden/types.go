// Package eden is the client for the Eden creation gateway: it submits
// generation requests, polls task status, fetches finished artifacts and
// posts feedback stats.
package eden

import (
	"encoding/json"
	"fmt"
)

// Mode tags a generation config variant on the wire.
type Mode string

const (
	ModeGenerate    Mode = "generate"
	ModeInterpolate Mode = "interpolate"
	ModeRemix       Mode = "remix"
)

// TaskID is the opaque identifier the gateway returns for one submitted request.
type TaskID string

// Source identifies who asked for a creation and where, for provenance and
// moderation accounting on the gateway side.
type Source struct {
	Origin      string `json:"origin"`
	AuthorID    string `json:"author_id"`
	AuthorName  string `json:"author_name"`
	GuildID     string `json:"guild_id,omitempty"`
	GuildName   string `json:"guild_name,omitempty"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name,omitempty"`
}

// Credentials authenticate the bot against the gateway.
type Credentials struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}

// Config is a mode-specific parameter set. The set of implementations is
// closed: GenerateConfig, InterpolateConfig and RemixConfig.
type Config interface {
	Mode() Mode
	config()
}

// GenerateConfig is a plain text-to-image request.
type GenerateConfig struct {
	TextInput   string `json:"text_input"`
	UncondText  string `json:"uc_text,omitempty"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Steps       int    `json:"steps"`
	Sampler     string `json:"sampler,omitempty"`
	Seed        int64  `json:"seed"`
	Stream      bool   `json:"stream,omitempty"`
	StreamEvery int    `json:"stream_every,omitempty"`
}

// InterpolateConfig morphs between two or more prompts into a multi-frame result.
type InterpolateConfig struct {
	TextInput          string   `json:"text_input"`
	InterpolationTexts []string `json:"interpolation_texts"`
	InterpolationSeeds []int64  `json:"interpolation_seeds,omitempty"`
	NFrames            int      `json:"n_frames"`
	Width              int      `json:"width"`
	Height             int      `json:"height"`
	Steps              int      `json:"steps"`
	Seed               int64    `json:"seed"`
	Stream             bool     `json:"stream,omitempty"`
	StreamEvery        int      `json:"stream_every,omitempty"`
}

// RemixConfig seeds a generation from an existing image.
type RemixConfig struct {
	TextInput         string  `json:"text_input"`
	UncondText        string  `json:"uc_text,omitempty"`
	InitImageURL      string  `json:"init_image_data"`
	InitImageStrength float64 `json:"init_image_strength"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Steps             int     `json:"steps"`
	Sampler           string  `json:"sampler,omitempty"`
	Seed              int64   `json:"seed"`
	Stream            bool    `json:"stream,omitempty"`
	StreamEvery       int     `json:"stream_every,omitempty"`
}

func (GenerateConfig) Mode() Mode    { return ModeGenerate }
func (InterpolateConfig) Mode() Mode { return ModeInterpolate }
func (RemixConfig) Mode() Mode       { return ModeRemix }

func (GenerateConfig) config()    {}
func (InterpolateConfig) config() {}
func (RemixConfig) config()       {}

// MarshalJSON adds the "mode" tag.
func (c GenerateConfig) MarshalJSON() ([]byte, error) {
	type wire GenerateConfig
	return json.Marshal(struct {
		Mode Mode `json:"mode"`
		wire
	}{ModeGenerate, wire(c)})
}

// MarshalJSON adds the "mode" tag.
func (c InterpolateConfig) MarshalJSON() ([]byte, error) {
	type wire InterpolateConfig
	return json.Marshal(struct {
		Mode Mode `json:"mode"`
		wire
	}{ModeInterpolate, wire(c)})
}

// MarshalJSON adds the "mode" tag.
func (c RemixConfig) MarshalJSON() ([]byte, error) {
	type wire RemixConfig
	return json.Marshal(struct {
		Mode Mode `json:"mode"`
		wire
	}{ModeRemix, wire(c)})
}

// Request is one generation request. Treat it as immutable once submitted;
// a changed parameter set means a new Request.
type Request struct {
	Source Source `json:"source"`
	Config Config `json:"config"`
}

// Prompt returns the primary text prompt of c.
func Prompt(c Config) string {
	switch v := c.(type) {
	case GenerateConfig:
		return v.TextInput
	case InterpolateConfig:
		return v.TextInput
	case RemixConfig:
		return v.TextInput
	}
	return ""
}

// Dimensions returns the output width and height of c.
func Dimensions(c Config) (width, height int) {
	switch v := c.(type) {
	case GenerateConfig:
		return v.Width, v.Height
	case InterpolateConfig:
		return v.Width, v.Height
	case RemixConfig:
		return v.Width, v.Height
	}
	return 0, 0
}

// StepsOf returns the sampler step count of c.
func StepsOf(c Config) int {
	switch v := c.(type) {
	case GenerateConfig:
		return v.Steps
	case InterpolateConfig:
		return v.Steps
	case RemixConfig:
		return v.Steps
	}
	return 0
}

// SeedOf returns the base seed of c.
func SeedOf(c Config) int64 {
	switch v := c.(type) {
	case GenerateConfig:
		return v.Seed
	case InterpolateConfig:
		return v.Seed
	case RemixConfig:
		return v.Seed
	}
	return 0
}

// WithSeed returns a copy of c with its base seed replaced.
func WithSeed(c Config, seed int64) (Config, error) {
	switch v := c.(type) {
	case GenerateConfig:
		v.Seed = seed
		return v, nil
	case InterpolateConfig:
		v.Seed = seed
		v.InterpolationTexts = append([]string(nil), v.InterpolationTexts...)
		v.InterpolationSeeds = append([]int64(nil), v.InterpolationSeeds...)
		return v, nil
	case RemixConfig:
		v.Seed = seed
		return v, nil
	}
	return nil, fmt.Errorf("eden: unsupported config %T", c)
}
