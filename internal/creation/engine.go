package creation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zulandar/edenbot/internal/eden"
)

// Gateway is the part of the Eden client a loop drives.
type Gateway interface {
	Submit(ctx context.Context, req eden.Request) (eden.TaskID, error)
	Poll(ctx context.Context, task eden.TaskID, opts eden.PollOptions) iter.Seq2[eden.Tick, error]
}

// LoopContext is everything one loop invocation needs. Run receives it by
// value and hands a finalized copy back in its Result; follow-up actions
// build a new LoopContext from that copy instead of sharing one.
type LoopContext struct {
	ID              string
	Request         eden.Request
	Header          string
	MultiFrame      bool
	PreferAnimated  bool
	RefreshInterval time.Duration
	MaxWait         time.Duration
	ChannelID       string
	Working         MessageRef // the progress message for this invocation
	Parent          MessageRef // latest finalized result; reply anchor for the next one
}

// Result is the outcome of one loop invocation.
type Result struct {
	Context LoopContext
	TaskID  eden.TaskID
	Phase   Phase
	Final   MessageRef // zero unless Phase is PhaseComplete
	SHA     string     // content id of the final artifact
}

// Engine runs creation loops. One Engine serves every loop of a bot.
type Engine struct {
	gateway        Gateway
	renderer       Renderer
	registry       *Registry
	pollInterval   time.Duration
	maxWait        time.Duration
	preferAnimated bool
	logger         *zap.Logger
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	Gateway        Gateway
	Renderer       Renderer
	Registry       *Registry     // optional; defaults to a private registry
	PollInterval   time.Duration // defaults to eden.DefaultPollInterval
	MaxWait        time.Duration // zero polls until a terminal status or cancellation
	PreferAnimated bool
	Logger         *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("creation: gateway is required")
	}
	if opts.Renderer == nil {
		return nil, fmt.Errorf("creation: renderer is required")
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = eden.DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		gateway:        opts.Gateway,
		renderer:       opts.Renderer,
		registry:       reg,
		pollInterval:   interval,
		maxWait:        opts.MaxWait,
		preferAnimated: opts.PreferAnimated,
		logger:         logger,
	}, nil
}

// Registry returns the registry the engine records loops in.
func (e *Engine) Registry() *Registry { return e.registry }

// Renderer returns the renderer the engine draws with.
func (e *Engine) Renderer() Renderer { return e.renderer }

// StartOpts describes a new creation.
type StartOpts struct {
	Target     Target // channel, plus the message to reply to if any
	Header     string
	Request    eden.Request
	MultiFrame bool
}

// Start opens a working message for opts and runs the loop to completion.
func (e *Engine) Start(ctx context.Context, opts StartOpts) (Result, error) {
	lc := LoopContext{
		ID:              uuid.NewString(),
		Request:         opts.Request,
		Header:          opts.Header,
		MultiFrame:      opts.MultiFrame,
		PreferAnimated:  e.preferAnimated,
		RefreshInterval: e.pollInterval,
		MaxWait:         e.maxWait,
		ChannelID:       opts.Target.ChannelID,
		Parent:          opts.Target.ReplyTo,
	}
	ref, err := e.renderer.Open(ctx, opts.Target, opts.Header)
	if err != nil {
		e.logger.Warn("open working message failed",
			zap.String("loop_id", lc.ID),
			zap.String("channel", lc.ChannelID),
			zap.Error(err))
		e.apologize(ctx, opts.Target)
		return Result{Context: lc, Phase: PhaseFailed}, fmt.Errorf("creation: open working message: %w", err)
	}
	lc.Working = ref
	return e.Run(ctx, lc)
}

// Run drives lc's request from submission to a final message. Every failure
// is rendered into the working message (or, when the platform itself
// fails, answered with a best-effort apology) before Run returns; the
// returned error only tells the caller what happened.
func (e *Engine) Run(ctx context.Context, lc LoopContext) (Result, error) {
	if lc.ID == "" {
		lc.ID = uuid.NewString()
	}
	if lc.RefreshInterval <= 0 {
		lc.RefreshInterval = e.pollInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := e.logger.With(
		zap.String("loop_id", lc.ID),
		zap.String("channel", lc.ChannelID))

	var mode eden.Mode
	if lc.Request.Config != nil {
		mode = lc.Request.Config.Mode()
	}
	e.registry.add(LoopInfo{
		ID:        lc.ID,
		Header:    lc.Header,
		ChannelID: lc.ChannelID,
		MessageID: lc.Working.MessageID,
		Mode:      mode,
		Phase:     PhaseIdle,
	}, cancel)
	defer e.registry.remove(lc.ID)

	res := Result{Context: lc, Phase: PhaseIdle}
	wm := newWorkingMessage(e.renderer, lc.Working, lc.Header)

	task, err := e.gateway.Submit(ctx, lc.Request)
	if err != nil {
		return e.fail(ctx, logger, wm, res, ErrorText(err), err)
	}
	res.TaskID = task
	logger = logger.With(zap.String("task_id", string(task)))
	logger.Info("creation submitted", zap.String("mode", string(mode)))
	e.setPhase(lc.ID, PhaseSubmitted, func(info *LoopInfo) { info.TaskID = task })

	opts := eden.PollOptions{
		Interval:       lc.RefreshInterval,
		MultiFrame:     lc.MultiFrame,
		PreferAnimated: lc.PreferAnimated,
		MaxWait:        lc.MaxWait,
	}
	e.setPhase(lc.ID, PhasePolling, nil)
	for tick, err := range e.gateway.Poll(ctx, task, opts) {
		if err != nil {
			var failure *eden.RemoteTaskFailure
			if errors.As(err, &failure) {
				text, _ := Describe(tick.Status)
				return e.fail(ctx, logger, wm, res, text, err)
			}
			return e.fail(ctx, logger, wm, res, ErrorText(err), err)
		}
		if tick.Final {
			return e.finalize(ctx, logger, wm, res, tick.File)
		}

		text, err := Describe(tick.Status)
		if err != nil {
			return e.fail(ctx, logger, wm, res, ErrorText(err), err)
		}
		edited, err := wm.update(ctx, text, tick.File)
		if err != nil {
			return e.abort(ctx, logger, res, fmt.Errorf("creation: update working message: %w", err))
		}
		if edited {
			e.registry.update(lc.ID, func(info *LoopInfo) { info.Status = text })
		}
	}

	err = &eden.ProtocolError{Reason: "poll ended without a terminal status"}
	return e.fail(ctx, logger, wm, res, ErrorText(err), err)
}

// finalize promotes the working message to a final message carrying file.
func (e *Engine) finalize(ctx context.Context, logger *zap.Logger, wm *workingMessage, res Result, file *eden.Artifact) (Result, error) {
	lc := res.Context
	final, err := e.renderer.Finalize(ctx, FinalMessage{
		Target:  Target{ChannelID: lc.ChannelID, ReplyTo: lc.Parent},
		Content: lc.Header,
		File:    file,
	})
	if err != nil {
		return e.abort(ctx, logger, res, fmt.Errorf("creation: finalize: %w", err))
	}
	if err := e.renderer.Delete(ctx, wm.ref); err != nil {
		logger.Warn("delete working message failed", zap.Error(err))
	}

	res.Phase = PhaseComplete
	res.Final = final
	if file != nil {
		res.SHA = file.SHA
	}
	res.Context.Working = MessageRef{}
	res.Context.Parent = final
	e.setPhase(lc.ID, PhaseComplete, func(info *LoopInfo) { info.Status = "Creation is **100%** complete" })
	logger.Info("creation complete",
		zap.String("sha", res.SHA),
		zap.String("message_id", final.MessageID))
	return res, nil
}

// fail renders text as the working message's status line and ends the loop.
func (e *Engine) fail(ctx context.Context, logger *zap.Logger, wm *workingMessage, res Result, text string, cause error) (Result, error) {
	res.Phase = PhaseFailed
	e.setPhase(res.Context.ID, PhaseFailed, func(info *LoopInfo) { info.Status = text })

	if ctx.Err() != nil {
		// Shutdown or the working message was deleted; nothing to render into.
		logger.Info("creation cancelled", zap.Error(cause))
		return res, cause
	}
	logger.Warn("creation failed", zap.Error(cause), zap.Bool("retryable", eden.Retryable(cause)))
	if _, err := wm.update(ctx, text, nil); err != nil {
		return e.abort(ctx, logger, res, fmt.Errorf("creation: render failure: %w", err))
	}
	return res, cause
}

// abort handles a chat-platform failure: the loop stops and the user gets
// an apology if the platform still accepts one.
func (e *Engine) abort(ctx context.Context, logger *zap.Logger, res Result, err error) (Result, error) {
	res.Phase = PhaseFailed
	e.setPhase(res.Context.ID, PhaseFailed, nil)
	logger.Warn("creation aborted", zap.Error(err))
	if ctx.Err() == nil {
		e.apologize(ctx, Target{ChannelID: res.Context.ChannelID, ReplyTo: res.Context.Parent})
	}
	return res, err
}

func (e *Engine) apologize(ctx context.Context, target Target) {
	if err := e.renderer.Apologize(ctx, target, ApologyText); err != nil {
		e.logger.Debug("apology failed", zap.String("channel", target.ChannelID), zap.Error(err))
	}
}

func (e *Engine) setPhase(id string, p Phase, fn func(*LoopInfo)) {
	e.registry.update(id, func(info *LoopInfo) {
		info.Phase = p
		if fn != nil {
			fn(info)
		}
	})
}
