// Package moderation screens prompts before they are sent for generation.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Filter decides whether a prompt may be drawn.
type Filter interface {
	Allowed(ctx context.Context, prompt string) (bool, error)
}

// Noop allows every prompt.
type Noop struct{}

// Allowed always returns true.
func (Noop) Allowed(context.Context, string) (bool, error) { return true, nil }

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

const instruction = `You screen prompts for a public image generation bot.
Reply with exactly one word: SAFE if the prompt may be drawn, UNSAFE if it asks
for sexual content, graphic violence, hateful imagery or content involving minors.`

// generator is the part of the genai client the filter calls.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini classifies prompts with a Gemini model.
type Gemini struct {
	models generator
	model  string
	logger *zap.Logger
}

// GeminiOpts holds parameters for creating a Gemini filter.
type GeminiOpts struct {
	APIKey string
	Model  string
	Logger *zap.Logger
	// For testing: inject a fake instead of the real API.
	Models generator
}

// NewGemini creates a Gemini-backed Filter.
func NewGemini(ctx context.Context, opts GeminiOpts) (*Gemini, error) {
	models := opts.Models
	if models == nil {
		if opts.APIKey == "" {
			return nil, fmt.Errorf("moderation: api key is required")
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  opts.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("moderation: create client: %w", err)
		}
		models = client.Models
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{models: models, model: model, logger: logger}, nil
}

// Allowed asks the model to classify prompt. A prompt the API itself blocks
// is reported as not allowed rather than as an error.
func (g *Gemini) Allowed(ctx context.Context, prompt string) (bool, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return true, nil
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		Temperature:       genai.Ptr(float32(0)),
		MaxOutputTokens:   8,
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return false, fmt.Errorf("moderation: classify: %w", err)
	}
	if resp == nil {
		return false, errors.New("moderation: empty response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		g.logger.Info("prompt blocked by model", zap.String("reason", string(resp.PromptFeedback.BlockReason)))
		return false, nil
	}

	verdict, err := parseVerdict(responseText(resp))
	if err != nil {
		return false, err
	}
	if !verdict {
		g.logger.Info("prompt rejected", zap.String("model", g.model))
	}
	return verdict, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p.Thought {
				continue
			}
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// parseVerdict reads the one-word classification. UNSAFE is checked first
// because it contains SAFE.
func parseVerdict(text string) (bool, error) {
	word := strings.ToUpper(strings.TrimSpace(text))
	switch {
	case strings.Contains(word, "UNSAFE"):
		return false, nil
	case strings.Contains(word, "SAFE"):
		return true, nil
	}
	return false, fmt.Errorf("moderation: unexpected verdict %q", text)
}

// Chain applies filters in order; the first rejection wins.
type Chain []Filter

// Allowed implements Filter.
func (c Chain) Allowed(ctx context.Context, prompt string) (bool, error) {
	for _, f := range c {
		ok, err := f.Allowed(ctx, prompt)
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}
