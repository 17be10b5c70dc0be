package creation

import (
	"time"

	"go.uber.org/zap"
)

// Settings tune every loop a bot runs.
type Settings struct {
	PollInterval   time.Duration
	MaxWait        time.Duration
	PreferAnimated bool
	ControlsTTL    time.Duration
	MaxControls    int
}

// Wiring is what a chat platform needs to host creation loops.
type Wiring struct {
	Gateway  Gateway
	Stats    StatsPoster
	Registry *Registry // optional
	Settings Settings
	Permit   func(channelID string) bool
	Logger   *zap.Logger
}

// NewController builds the Engine and Controller that draw with r.
func (w Wiring) NewController(r Renderer) (*Controller, error) {
	engine, err := NewEngine(EngineOpts{
		Gateway:        w.Gateway,
		Renderer:       r,
		Registry:       w.Registry,
		PollInterval:   w.Settings.PollInterval,
		MaxWait:        w.Settings.MaxWait,
		PreferAnimated: w.Settings.PreferAnimated,
		Logger:         w.Logger,
	})
	if err != nil {
		return nil, err
	}
	c, err := NewController(ControllerOpts{
		Engine:     engine,
		Stats:      w.Stats,
		Permit:     w.Permit,
		TTL:        w.Settings.ControlsTTL,
		MaxEntries: w.Settings.MaxControls,
		Logger:     w.Logger,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
