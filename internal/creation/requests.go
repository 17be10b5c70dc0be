package creation

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"github.com/zulandar/edenbot/internal/eden"
)

// Aspect is the output shape requested by the user.
type Aspect string

const (
	AspectSquare    Aspect = "square"
	AspectLandscape Aspect = "landscape"
	AspectPortrait  Aspect = "portrait"
)

// Aspects lists the accepted aspect ratios in the order they are offered.
var Aspects = []Aspect{AspectSquare, AspectLandscape, AspectPortrait}

const (
	MaxSeed      = 100_000_000
	FastSteps    = 15
	DefaultSteps = 50
	LerpSteps    = 25
	LerpFrames   = 60

	remixWidth   = 1280
	remixHeight  = 720
	remixSteps   = 100
	remixSampler = "euler"
	remixPrompt  = "remix"
	remixUncond  = "poorly drawn face, ugly, tiling, out of frame, extra limbs, disfigured, deformed body, blurry, blurred, watermark, text, grainy, signature, cut off, draft"
)

// ParseAspect maps user input to an Aspect, defaulting to square.
func ParseAspect(s string) Aspect {
	switch a := Aspect(strings.ToLower(strings.TrimSpace(s))); a {
	case AspectLandscape, AspectPortrait:
		return a
	}
	return AspectSquare
}

// Size returns the output dimensions for an aspect ratio.
func Size(a Aspect, large bool) (width, height int) {
	switch a {
	case AspectLandscape:
		if large {
			return 896, 640
		}
		return 640, 384
	case AspectPortrait:
		if large {
			return 640, 896
		}
		return 384, 640
	}
	if large {
		return 768, 768
	}
	return 512, 512
}

// RandomSeed draws a seed uniformly from [1, MaxSeed].
func RandomSeed() int64 {
	return rand.Int64N(MaxSeed) + 1
}

// DreamParams are the user-facing knobs of a text-to-image request.
type DreamParams struct {
	Prompt string
	Aspect Aspect
	Large  bool
	Fast   bool
}

// Config builds the generate-mode config for p.
func (p DreamParams) Config(seed int64) eden.GenerateConfig {
	w, h := Size(p.Aspect, p.Large)
	steps := DefaultSteps
	if p.Fast {
		steps = FastSteps
	}
	return eden.GenerateConfig{
		TextInput: p.Prompt,
		Width:     w,
		Height:    h,
		Steps:     steps,
		Seed:      seed,
	}
}

// LerpConfig builds an interpolation between two fresh prompts.
func LerpConfig(from, to string, aspect Aspect, seeds [2]int64) eden.InterpolateConfig {
	w, h := Size(aspect, false)
	return eden.InterpolateConfig{
		TextInput:          from,
		InterpolationTexts: []string{from, to},
		InterpolationSeeds: []int64{seeds[0], seeds[1]},
		NFrames:            LerpFrames,
		Width:              w,
		Height:             h,
		Steps:              LerpSteps,
		Seed:               seeds[0],
		Stream:             true,
		StreamEvery:        1,
	}
}

// LerpFrom builds the interpolation that morphs an existing creation into
// text. Dimensions and step count are carried over and the base seed is
// kept; seed is used for the second keyframe only.
func LerpFrom(prev eden.Config, text string, seed int64) eden.InterpolateConfig {
	prompt := eden.Prompt(prev)
	base := eden.SeedOf(prev)
	w, h := eden.Dimensions(prev)
	return eden.InterpolateConfig{
		TextInput:          prompt,
		InterpolationTexts: []string{prompt, text},
		InterpolationSeeds: []int64{base, seed},
		NFrames:            LerpFrames,
		Width:              w,
		Height:             h,
		Steps:              eden.StepsOf(prev),
		Seed:               base,
		Stream:             true,
		StreamEvery:        1,
	}
}

var leadingNumberRe = regexp.MustCompile(`^\s*(\d+)`)

// ParseRemixStrength reads an init-image strength from a leading number in
// text, as a percentage ("35 more blue" is 0.35). It returns def when there
// is no number or it is out of range.
func ParseRemixStrength(text string, def float64) float64 {
	m := leadingNumberRe.FindStringSubmatch(text)
	if m == nil {
		return def
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n > 100 {
		return def
	}
	return float64(n) / 100
}

// RemixConfig builds a remix of the image at imageURL.
func RemixConfig(imageURL string, strength float64, seed int64) eden.RemixConfig {
	return eden.RemixConfig{
		TextInput:         remixPrompt,
		UncondText:        remixUncond,
		InitImageURL:      imageURL,
		InitImageStrength: strength,
		Width:             remixWidth,
		Height:            remixHeight,
		Steps:             remixSteps,
		Sampler:           remixSampler,
		Seed:              seed,
		Stream:            true,
		StreamEvery:       1,
	}
}
