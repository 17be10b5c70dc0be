package creation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/zulandar/edenbot/internal/eden"
)

var (
	ErrNotPermitted    = errors.New("creation: not available in this channel")
	ErrUnknownCreation = errors.New("creation: unknown or expired creation")
	ErrControlsClosed  = errors.New("creation: controls are closed")
	ErrEmptyPrompt     = errors.New("creation: prompt is empty")
)

// StatsPoster records feedback on a finished creation.
type StatsPoster interface {
	UpdateStats(ctx context.Context, sha string, stat eden.Stat, userID string) error
}

// Action identifies who pressed which finished creation's control.
type Action struct {
	MessageID string // the final message carrying the controls
	ChannelID string
	UserID    string
	UserName  string
}

// tracked is a finished creation whose controls are still live.
type tracked struct {
	lc     LoopContext
	sha    string
	closed bool
}

const (
	DefaultControlsTTL     = 180 * time.Second
	defaultControlsEntries = 1024
	defaultStatsTimeout    = 30 * time.Second
)

// Controller serves the follow-up controls attached to finished creations.
// Every action reads the stored, finalized LoopContext and starts a new
// loop from a copy of it; stored contexts are never handed to a running loop.
type Controller struct {
	engine       *Engine
	stats        StatsPoster
	permit       func(channelID string) bool
	seed         func() int64
	statsTimeout time.Duration
	logger       *zap.Logger

	mu       sync.Mutex // serializes read-modify-write of entries
	finished *expirable.LRU[string, tracked]
	inflight sync.WaitGroup
}

// ControllerOpts holds parameters for creating a Controller.
type ControllerOpts struct {
	Engine       *Engine
	Stats        StatsPoster
	Permit       func(channelID string) bool // nil permits every channel
	Seed         func() int64                // defaults to RandomSeed
	TTL          time.Duration               // how long controls stay live; defaults to 180s
	MaxEntries   int                         // defaults to 1024
	StatsTimeout time.Duration               // bound on one feedback post
	Logger       *zap.Logger
}

// NewController creates a Controller.
func NewController(opts ControllerOpts) (*Controller, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("creation: engine is required")
	}
	if opts.Stats == nil {
		return nil, fmt.Errorf("creation: stats poster is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultControlsTTL
	}
	size := opts.MaxEntries
	if size <= 0 {
		size = defaultControlsEntries
	}
	permit := opts.Permit
	if permit == nil {
		permit = func(string) bool { return true }
	}
	seed := opts.Seed
	if seed == nil {
		seed = RandomSeed
	}
	statsTimeout := opts.StatsTimeout
	if statsTimeout <= 0 {
		statsTimeout = defaultStatsTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		engine:       opts.Engine,
		stats:        opts.Stats,
		permit:       permit,
		seed:         seed,
		statsTimeout: statsTimeout,
		logger:       logger,
		finished:     expirable.NewLRU[string, tracked](size, nil, ttl),
	}, nil
}

// Start runs a new top-level creation and makes its controls live.
func (c *Controller) Start(ctx context.Context, opts StartOpts) (Result, error) {
	res, err := c.engine.Start(ctx, opts)
	c.track(res)
	return res, err
}

// Refresh runs the finished creation's request again, seed unchanged.
func (c *Controller) Refresh(ctx context.Context, a Action) (Result, error) {
	t, err := c.lookup(a)
	if err != nil {
		return Result{}, err
	}
	return c.restart(ctx, t.lc, a, t.lc.Request.Config, t.lc.Header, t.lc.MultiFrame)
}

// Reroll runs the finished creation's request again with a fresh seed.
func (c *Controller) Reroll(ctx context.Context, a Action) (Result, error) {
	t, err := c.lookup(a)
	if err != nil {
		return Result{}, err
	}
	cfg, err := eden.WithSeed(t.lc.Request.Config, c.seed())
	if err != nil {
		return Result{}, fmt.Errorf("creation: reroll: %w", err)
	}
	return c.restart(ctx, t.lc, a, cfg, t.lc.Header, t.lc.MultiFrame)
}

// Lerp morphs the finished creation into text as a multi-frame creation.
func (c *Controller) Lerp(ctx context.Context, a Action, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmptyPrompt
	}
	t, err := c.lookup(a)
	if err != nil {
		return Result{}, err
	}
	cfg := LerpFrom(t.lc.Request.Config, text, c.seed())
	actor := a.UserID
	if actor == "" {
		actor = t.lc.Request.Source.AuthorID
	}
	header := LerpHeader(eden.Prompt(t.lc.Request.Config), text, actor)
	return c.restart(ctx, t.lc, a, cfg, header, true)
}

// Feedback posts stat for the finished creation in the background. Praise
// is a single vote: it closes the creation's controls.
func (c *Controller) Feedback(ctx context.Context, a Action, stat eden.Stat) error {
	if !c.permit(a.ChannelID) {
		return ErrNotPermitted
	}
	c.mu.Lock()
	t, ok := c.finished.Get(a.MessageID)
	switch {
	case !ok:
		c.mu.Unlock()
		return ErrUnknownCreation
	case t.closed:
		c.mu.Unlock()
		return ErrControlsClosed
	}
	if stat == eden.StatPraise {
		t.closed = true
		c.finished.Add(a.MessageID, t)
	}
	c.mu.Unlock()

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.statsTimeout)
		defer cancel()
		if err := c.stats.UpdateStats(postCtx, t.sha, stat, a.UserID); err != nil {
			c.logger.Warn("feedback post failed",
				zap.String("sha", t.sha),
				zap.String("stat", string(stat)),
				zap.Error(err))
		}
	}()

	if stat == eden.StatPraise {
		ref := MessageRef{ChannelID: a.ChannelID, MessageID: a.MessageID}
		if err := c.engine.renderer.DisableControls(ctx, ref); err != nil {
			c.logger.Warn("disable controls failed", zap.String("message_id", a.MessageID), zap.Error(err))
		}
	}
	return nil
}

// Wait blocks until every background feedback post has finished.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// Registry returns the registry of in-flight loops.
func (c *Controller) Registry() *Registry {
	return c.engine.registry
}

// Live reports how many finished creations still have live controls.
func (c *Controller) Live() int {
	return c.finished.Len()
}

func (c *Controller) lookup(a Action) (tracked, error) {
	if !c.permit(a.ChannelID) {
		return tracked{}, ErrNotPermitted
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.finished.Get(a.MessageID)
	if !ok {
		return tracked{}, ErrUnknownCreation
	}
	if t.closed {
		return tracked{}, ErrControlsClosed
	}
	return t, nil
}

// restart runs a new loop built from prev, replying to prev's final message.
func (c *Controller) restart(ctx context.Context, prev LoopContext, a Action, cfg eden.Config, header string, multiFrame bool) (Result, error) {
	src := prev.Request.Source
	if a.UserID != "" {
		src.AuthorID = a.UserID
		src.AuthorName = a.UserName
	}
	return c.Start(ctx, StartOpts{
		Target:     Target{ChannelID: prev.ChannelID, ReplyTo: prev.Parent},
		Header:     header,
		Request:    eden.Request{Source: src, Config: cfg},
		MultiFrame: multiFrame,
	})
}

func (c *Controller) track(res Result) {
	if res.Phase != PhaseComplete || res.Final.IsZero() {
		return
	}
	c.finished.Add(res.Final.MessageID, tracked{lc: res.Context, sha: res.SHA})
}
