package creation

import (
	"slices"
	"testing"

	"github.com/zulandar/edenbot/internal/eden"
)

func TestSize(t *testing.T) {
	tests := []struct {
		aspect Aspect
		large  bool
		w, h   int
	}{
		{AspectSquare, false, 512, 512},
		{AspectSquare, true, 768, 768},
		{AspectLandscape, false, 640, 384},
		{AspectLandscape, true, 896, 640},
		{AspectPortrait, false, 384, 640},
		{AspectPortrait, true, 640, 896},
	}
	for _, tt := range tests {
		w, h := Size(tt.aspect, tt.large)
		if w != tt.w || h != tt.h {
			t.Errorf("Size(%s, %v) = %dx%d, want %dx%d", tt.aspect, tt.large, w, h, tt.w, tt.h)
		}
	}
}

func TestParseAspect(t *testing.T) {
	cases := map[string]Aspect{
		"landscape": AspectLandscape,
		"Portrait":  AspectPortrait,
		"square":    AspectSquare,
		"":          AspectSquare,
		"wide":      AspectSquare,
	}
	for in, want := range cases {
		if got := ParseAspect(in); got != want {
			t.Errorf("ParseAspect(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestDreamParams_Config(t *testing.T) {
	cfg := DreamParams{Prompt: "a cat", Aspect: AspectPortrait, Large: true, Fast: true}.Config(11)
	want := eden.GenerateConfig{TextInput: "a cat", Width: 640, Height: 896, Steps: FastSteps, Seed: 11}
	if cfg != want {
		t.Errorf("Config = %+v, want %+v", cfg, want)
	}
	if got := (DreamParams{Prompt: "x"}).Config(1).Steps; got != DefaultSteps {
		t.Errorf("default steps = %d, want %d", got, DefaultSteps)
	}
}

func TestLerpConfig(t *testing.T) {
	cfg := LerpConfig("a", "b", AspectLandscape, [2]int64{3, 4})
	if !slices.Equal(cfg.InterpolationTexts, []string{"a", "b"}) {
		t.Errorf("texts = %v", cfg.InterpolationTexts)
	}
	if !slices.Equal(cfg.InterpolationSeeds, []int64{3, 4}) {
		t.Errorf("seeds = %v", cfg.InterpolationSeeds)
	}
	if cfg.Width != 640 || cfg.Height != 384 || cfg.Steps != LerpSteps || cfg.NFrames != LerpFrames {
		t.Errorf("config = %+v", cfg)
	}
}

func TestLerpFrom_PreservesShape(t *testing.T) {
	prev := eden.GenerateConfig{TextInput: "a cat", Width: 896, Height: 640, Steps: 15, Seed: 1234}
	cfg := LerpFrom(prev, "a dog", 99)

	if cfg.Mode() != eden.ModeInterpolate {
		t.Errorf("mode = %s", cfg.Mode())
	}
	if !slices.Equal(cfg.InterpolationTexts, []string{"a cat", "a dog"}) {
		t.Errorf("texts = %v", cfg.InterpolationTexts)
	}
	if cfg.Width != 896 || cfg.Height != 640 || cfg.Steps != 15 {
		t.Errorf("shape = %dx%d/%d, want 896x640/15", cfg.Width, cfg.Height, cfg.Steps)
	}
	if cfg.Seed != 1234 || !slices.Equal(cfg.InterpolationSeeds, []int64{1234, 99}) {
		t.Errorf("seeds = %d %v", cfg.Seed, cfg.InterpolationSeeds)
	}
	if !cfg.Stream || cfg.StreamEvery != 1 || cfg.NFrames != LerpFrames {
		t.Errorf("stream settings = %+v", cfg)
	}
}

func TestParseRemixStrength(t *testing.T) {
	cases := []struct {
		text string
		want float64
	}{
		{"35 make it blue", 0.35},
		{"  80", 0.8},
		{"100", 1},
		{"make it blue", 0.2},
		{"250 too much", 0.2},
		{"", 0.2},
	}
	for _, tc := range cases {
		if got := ParseRemixStrength(tc.text, 0.2); got != tc.want {
			t.Errorf("ParseRemixStrength(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestRemixConfig(t *testing.T) {
	cfg := RemixConfig("https://cdn/img.png", 0.35, 5)
	if cfg.InitImageURL != "https://cdn/img.png" || cfg.InitImageStrength != 0.35 {
		t.Errorf("init image = %q %v", cfg.InitImageURL, cfg.InitImageStrength)
	}
	if cfg.Width != 1280 || cfg.Height != 720 || cfg.Steps != 100 || cfg.Sampler != "euler" {
		t.Errorf("shape = %+v", cfg)
	}
	if cfg.UncondText == "" {
		t.Error("remix needs a negative prompt")
	}
}

func TestRandomSeed_Range(t *testing.T) {
	for range 10000 {
		s := RandomSeed()
		if s < 1 || s > MaxSeed {
			t.Fatalf("seed %d out of [1, %d]", s, MaxSeed)
		}
	}
}
