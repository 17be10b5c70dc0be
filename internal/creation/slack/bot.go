// Package slack hosts creation loops on Slack over Socket Mode: the /dream
// and /lerp commands, mentions, and the buttons on finished creations.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/zulandar/edenbot/internal/config"
	"github.com/zulandar/edenbot/internal/creation"
	"github.com/zulandar/edenbot/internal/eden"
	"github.com/zulandar/edenbot/internal/moderation"
)

const (
	defaultMaxReconnect = 10
	defaultBaseBackoff  = 2 * time.Second
	defaultMaxBackoff   = 2 * time.Minute
)

// Bot connects the creation controller to a Slack workspace.
type Bot struct {
	client     slackClient
	socket     socketClient
	cfg        config.BotConfig
	filter     moderation.Filter
	renderer   *Renderer
	controller *creation.Controller
	logger     *zap.Logger
	random     func() float64

	maxReconnect int
	baseBackoff  time.Duration
	maxBackoff   time.Duration

	mu        sync.Mutex
	botUserID string
	running   bool
	closed    bool
	loopCtx   context.Context
	stopLoops context.CancelFunc
	loops     sync.WaitGroup
}

// BotOpts holds parameters for creating a Bot.
type BotOpts struct {
	AppToken string // xapp-... for Socket Mode
	BotToken string // xoxb-... for the Web API
	Bot      config.BotConfig
	Wiring   creation.Wiring
	Filter   moderation.Filter // nil allows every prompt
	Logger   *zap.Logger

	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Bot. The Socket Mode connection is opened by Run.
func New(opts BotOpts) (*Bot, error) {
	client, socket := opts.Client, opts.Socket
	if client == nil || socket == nil {
		if opts.AppToken == "" {
			return nil, fmt.Errorf("slack: app token is required")
		}
		if opts.BotToken == "" {
			return nil, fmt.Errorf("slack: bot token is required")
		}
		api := slackapi.New(opts.BotToken, slackapi.OptionAppLevelToken(opts.AppToken))
		client = api
		socket = &realSocketClient{client: socketmode.New(api)}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	filter := opts.Filter
	if filter == nil {
		filter = moderation.Noop{}
	}

	wiring := opts.Wiring
	if wiring.Permit == nil {
		wiring.Permit = opts.Bot.ChannelAllowed
	}
	if wiring.Logger == nil {
		wiring.Logger = logger
	}
	renderer := newRenderer(client, logger)
	controller, err := wiring.NewController(renderer)
	if err != nil {
		return nil, fmt.Errorf("slack: %w", err)
	}

	return &Bot{
		client:       client,
		socket:       socket,
		cfg:          opts.Bot,
		filter:       filter,
		renderer:     renderer,
		controller:   controller,
		logger:       logger,
		random:       rand.Float64,
		maxReconnect: defaultMaxReconnect,
		baseBackoff:  defaultBaseBackoff,
		maxBackoff:   defaultMaxBackoff,
	}, nil
}

// Controller returns the controller serving this bot's creations.
func (b *Bot) Controller() *creation.Controller { return b.controller }

// Run authenticates, opens Socket Mode and serves events until ctx is done.
// Creation loops are cancelled and awaited before Run returns.
func (b *Bot) Run(ctx context.Context) error {
	resp, err := b.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}

	b.mu.Lock()
	if b.closed || b.running {
		b.mu.Unlock()
		return fmt.Errorf("slack: bot already running or closed")
	}
	b.running = true
	b.botUserID = resp.UserID
	b.loopCtx, b.stopLoops = context.WithCancel(ctx)
	loopCtx := b.loopCtx
	b.mu.Unlock()

	b.logger.Info("slack: authenticated", zap.String("user", resp.User), zap.String("id", resp.UserID))

	go b.runWithReconnect(loopCtx)
	b.pumpEvents(loopCtx)
	return b.Close()
}

// Close cancels running loops and waits for them.
func (b *Bot) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.stopLoops != nil {
		b.stopLoops()
	}
	b.mu.Unlock()

	b.loops.Wait()
	b.controller.Wait()
	return nil
}

// SetBotUserID sets the bot user ID (used for self-message and mention detection).
func (b *Bot) SetBotUserID(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.botUserID = id
}

func (b *Bot) userID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.botUserID
}

func (b *Bot) lifetime() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loopCtx == nil {
		return context.Background()
	}
	return b.loopCtx
}

// launch runs fn on its own goroutine unless the bot is closing.
func (b *Bot) launch(fn func(ctx context.Context)) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.loops.Add(1)
	ctx := b.loopCtx
	b.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer b.loops.Done()
		fn(ctx)
	}()
	return true
}

func (b *Bot) start(opts creation.StartOpts) {
	b.launch(func(ctx context.Context) {
		res, err := b.controller.Start(ctx, opts)
		if err != nil {
			b.logger.Debug("creation ended",
				zap.String("loop_id", res.Context.ID),
				zap.String("phase", string(res.Phase)),
				zap.Error(err))
		}
	})
}

// startFiltered runs prompts through the content filter in the background
// and starts opts when all pass. A refusal is shown to a's user only.
func (b *Bot) startFiltered(a creation.Action, prompts []string, opts creation.StartOpts) {
	b.launch(func(ctx context.Context) {
		for _, p := range prompts {
			if !b.allowed(ctx, a.UserID, p) {
				b.whisper(ctx, a, creation.FilteredText(a.UserID))
				return
			}
		}
		res, err := b.controller.Start(ctx, opts)
		if err != nil {
			b.logger.Debug("creation ended",
				zap.String("loop_id", res.Context.ID),
				zap.String("phase", string(res.Phase)),
				zap.Error(err))
		}
	})
}

// runWithReconnect runs the Socket Mode client with exponential backoff reconnection.
func (b *Bot) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < b.maxReconnect; attempt++ {
		err := b.socket.RunContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * b.baseBackoff
		if wait > b.maxBackoff {
			wait = b.maxBackoff
		}
		b.logger.Warn("slack: socket mode disconnected, reconnecting",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", b.maxReconnect),
			zap.Duration("wait", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	b.logger.Error("slack: socket mode exhausted reconnection attempts, giving up", zap.Int("attempts", b.maxReconnect))
}

// pumpEvents reads Socket Mode events until ctx is done.
func (b *Bot) pumpEvents(ctx context.Context) {
	events := b.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			b.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (b *Bot) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		event, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		b.ack(evt)
		b.handleEventsAPI(event)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slackapi.SlashCommand)
		if !ok {
			return
		}
		b.handleCommand(evt, cmd)

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slackapi.InteractionCallback)
		if !ok {
			return
		}
		b.handleInteraction(evt, cb)

	case socketmode.EventTypeConnecting:
		b.logger.Info("slack: connecting to Socket Mode")

	case socketmode.EventTypeConnected:
		b.logger.Info("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		b.logger.Warn("slack: connection error", zap.Any("data", evt.Data))

	case socketmode.EventTypeDisconnect:
		b.logger.Info("slack: server requested disconnect, will reconnect")
	}
}

func (b *Bot) ack(evt socketmode.Event, payload ...interface{}) {
	if evt.Request != nil {
		b.socket.Ack(*evt.Request, payload...)
	}
}

// ephemeral is the acknowledgement payload that answers a slash command
// privately.
func ephemeral(text string) map[string]interface{} {
	return map[string]interface{}{"response_type": "ephemeral", "text": text}
}

// handleCommand serves /dream and /lerp. The command is acknowledged
// before filtering so that a slow filter cannot miss Slack's response
// window; a refusal is sent afterwards as an ephemeral message.
func (b *Bot) handleCommand(evt socketmode.Event, cmd slackapi.SlashCommand) {
	if !b.cfg.ChannelAllowed(cmd.ChannelID) {
		b.ack(evt, ephemeral(creation.NotAvailableText))
		return
	}
	text, flags := parseCommandText(cmd.Text)
	aspect := creation.ParseAspect(flags.aspect)
	src := eden.Source{
		Origin:      "slack",
		GuildID:     cmd.TeamID,
		ChannelID:   cmd.ChannelID,
		ChannelName: cmd.ChannelName,
		AuthorID:    cmd.UserID,
		AuthorName:  cmd.UserName,
	}
	target := creation.Target{ChannelID: cmd.ChannelID}
	presser := creation.Action{ChannelID: cmd.ChannelID, UserID: cmd.UserID, UserName: cmd.UserName}

	switch strings.TrimPrefix(cmd.Command, "/") {
	case "dream":
		if text == "" {
			b.ack(evt, ephemeral("Usage: /dream <prompt> [--landscape|--portrait] [--large] [--fast]"))
			return
		}
		params := creation.DreamParams{Prompt: text, Aspect: aspect, Large: flags.large, Fast: flags.fast}
		b.ack(evt, ephemeral("Starting to dream..."))
		b.startFiltered(presser, []string{text}, creation.StartOpts{
			Target:  target,
			Header:  creation.DreamHeader(text, cmd.UserID),
			Request: eden.Request{Source: src, Config: params.Config(creation.RandomSeed())},
		})
	case "lerp":
		from, to, ok := strings.Cut(text, "|")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			b.ack(evt, ephemeral("Usage: /lerp <from prompt> | <to prompt> [--landscape|--portrait]"))
			return
		}
		cfg := creation.LerpConfig(from, to, aspect, [2]int64{creation.RandomSeed(), creation.RandomSeed()})
		b.ack(evt, ephemeral("Lerping..."))
		b.startFiltered(presser, []string{from, to}, creation.StartOpts{
			Target:     target,
			Header:     creation.LerpHeader(from, to, cmd.UserID),
			Request:    eden.Request{Source: src, Config: cfg},
			MultiFrame: true,
		})
	default:
		b.ack(evt, ephemeral(fmt.Sprintf("Unknown command %q.", cmd.Command)))
	}
}

func (b *Bot) handleInteraction(evt socketmode.Event, cb slackapi.InteractionCallback) {
	switch cb.Type {
	case slackapi.InteractionTypeBlockActions:
		b.ack(evt)
		b.handleBlockActions(cb)
	case slackapi.InteractionTypeViewSubmission:
		b.handleViewSubmission(evt, cb)
	default:
		b.ack(evt)
	}
}

// handleBlockActions serves the buttons of a finished creation.
func (b *Bot) handleBlockActions(cb slackapi.InteractionCallback) {
	if len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	ctx := b.lifetime()
	action := creation.Action{
		MessageID: cb.Container.MessageTs,
		ChannelID: cb.Container.ChannelID,
		UserID:    cb.User.ID,
		UserName:  cb.User.Name,
	}
	if action.MessageID == "" {
		action.MessageID = cb.Message.Timestamp
	}
	if action.ChannelID == "" {
		action.ChannelID = cb.Channel.ID
	}

	switch id := cb.ActionCallback.BlockActions[0].ActionID; id {
	case rerollID:
		b.runAction(action, func(ctx context.Context) (creation.Result, error) {
			return b.controller.Reroll(ctx, action)
		})
	case refreshID:
		b.runAction(action, func(ctx context.Context) (creation.Result, error) {
			return b.controller.Refresh(ctx, action)
		})
	case lerpID:
		if !b.cfg.ChannelAllowed(action.ChannelID) {
			b.whisper(ctx, action, creation.NotAvailableText)
			return
		}
		if _, err := b.client.OpenView(cb.TriggerID, lerpModal(action.ChannelID, action.MessageID)); err != nil {
			b.logger.Warn("slack: open lerp modal", zap.Error(err))
		}
	case burnID:
		b.feedback(ctx, action, eden.StatBurn)
	case praiseID:
		b.feedback(ctx, action, eden.StatPraise)
	default:
		b.logger.Debug("slack: unknown action", zap.String("action_id", id))
	}
}

// handleViewSubmission serves the lerp modal. An empty prompt keeps the
// modal open with an error on its input.
func (b *Bot) handleViewSubmission(evt socketmode.Event, cb slackapi.InteractionCallback) {
	channelID, ts, text, ok := parseLerpModal(cb.View)
	if !ok {
		b.ack(evt)
		return
	}
	if text == "" {
		b.ack(evt, map[string]interface{}{
			"response_action": "errors",
			"errors":          map[string]string{lerpBlockID: "Please enter a prompt to lerp to."},
		})
		return
	}
	b.ack(evt)

	ctx := b.lifetime()
	action := creation.Action{
		MessageID: ts,
		ChannelID: channelID,
		UserID:    cb.User.ID,
		UserName:  cb.User.Name,
	}
	if !b.allowed(ctx, action.UserID, text) {
		b.whisper(ctx, action, creation.FilteredText(action.UserID))
		return
	}
	b.runAction(action, func(ctx context.Context) (creation.Result, error) {
		return b.controller.Lerp(ctx, action, text)
	})
}

// runAction runs a follow-up creation in the background and reports
// control errors to the presser only.
func (b *Bot) runAction(a creation.Action, fn func(ctx context.Context) (creation.Result, error)) {
	b.launch(func(ctx context.Context) {
		res, err := fn(ctx)
		if err == nil {
			return
		}
		if text := controlErrorText(err); text != "" {
			b.whisper(ctx, a, text)
			return
		}
		b.logger.Debug("creation ended",
			zap.String("loop_id", res.Context.ID),
			zap.String("phase", string(res.Phase)),
			zap.Error(err))
	})
}

func (b *Bot) feedback(ctx context.Context, a creation.Action, stat eden.Stat) {
	if err := b.controller.Feedback(ctx, a, stat); err != nil {
		if text := controlErrorText(err); text != "" {
			b.whisper(ctx, a, text)
		}
	}
}

// whisper shows text only to the user who pressed a's control.
func (b *Bot) whisper(ctx context.Context, a creation.Action, text string) {
	err := retryOnRateLimit(ctx, func() error {
		_, apiErr := b.client.PostEphemeral(a.ChannelID, a.UserID, slackapi.MsgOptionText(mrkdwn(text), false))
		return apiErr
	})
	if err != nil {
		b.logger.Warn("slack: ephemeral reply", zap.Error(err))
	}
}

// handleEventsAPI processes Events API callbacks.
func (b *Bot) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		b.handleAppMention(ev)
	case *slackevents.MessageEvent:
		b.handleMessage(ev, event.TeamID)
	}
}

// handleAppMention dreams the text of a message that mentions the bot.
func (b *Bot) handleAppMention(ev *slackevents.AppMentionEvent) {
	botID := b.userID()
	if ev.BotID != "" || ev.User == "" || ev.User == botID {
		return
	}
	b.dreamReply(ev.Channel, ev.User, ev.TimeStamp, ev.ThreadTimeStamp, cleanPrompt(ev.Text, botID), "")
}

// handleMessage serves random replies and cancels loops whose working
// message was deleted. Messages mentioning the bot arrive as app mentions.
func (b *Bot) handleMessage(ev *slackevents.MessageEvent, teamID string) {
	if ev.SubType == "message_deleted" {
		if ev.PreviousMessage != nil && b.controller.Registry().Cancel(ev.PreviousMessage.Timestamp) {
			b.logger.Info("slack: working message deleted, creation cancelled", zap.String("ts", ev.PreviousMessage.Timestamp))
		}
		return
	}
	botID := b.userID()
	if ev.SubType != "" || ev.BotID != "" || ev.User == "" || ev.User == botID {
		return
	}
	if botID != "" && strings.Contains(ev.Text, "<@"+botID) {
		return
	}
	p := b.cfg.RandomReplyProbability
	if p <= 0 || b.random() >= p {
		return
	}
	b.dreamReply(ev.Channel, ev.User, ev.TimeStamp, ev.ThreadTimeStamp, cleanPrompt(ev.Text, botID), teamID)
}

// dreamReply starts a square dream of prompt replying in the message's thread.
func (b *Bot) dreamReply(channelID, userID, ts, threadTS, prompt, teamID string) {
	if prompt == "" || !b.cfg.ChannelAllowed(channelID) {
		return
	}
	parent := ts
	if threadTS != "" {
		parent = threadTS
	}
	reply := creation.Target{
		ChannelID: channelID,
		ReplyTo:   creation.MessageRef{ChannelID: channelID, MessageID: parent},
	}
	ctx := b.lifetime()
	if !b.allowed(ctx, userID, prompt) {
		if err := b.renderer.Apologize(ctx, reply, creation.FilteredText(userID)); err != nil {
			b.logger.Warn("slack: filtered reply", zap.Error(err))
		}
		return
	}
	params := creation.DreamParams{Prompt: prompt, Aspect: creation.AspectSquare}
	b.start(creation.StartOpts{
		Target:  reply,
		Header:  creation.DreamHeader(prompt, userID),
		Request: eden.Request{Source: b.source(teamID, channelID, userID), Config: params.Config(creation.RandomSeed())},
	})
}

func (b *Bot) allowed(ctx context.Context, userID, prompt string) bool {
	if !b.cfg.ContentFilterEnabled {
		return true
	}
	ok, err := b.filter.Allowed(ctx, prompt)
	if err != nil {
		b.logger.Warn("content filter failed", zap.String("user", userID), zap.Error(err))
		return false
	}
	return ok
}

func (b *Bot) source(teamID, channelID, userID string) eden.Source {
	src := eden.Source{
		Origin:    "slack",
		GuildID:   teamID,
		ChannelID: channelID,
		AuthorID:  userID,
	}
	ch, err := b.client.GetConversationInfo(&slackapi.GetConversationInfoInput{ChannelID: channelID})
	if err == nil && ch != nil {
		src.ChannelName = ch.Name
	}
	return src
}

// controlErrorText maps controller refusals to the text shown to the presser.
// Loop failures are already rendered in the channel and map to "".
func controlErrorText(err error) string {
	switch {
	case errors.Is(err, creation.ErrNotPermitted):
		return creation.NotAvailableText
	case errors.Is(err, creation.ErrUnknownCreation), errors.Is(err, creation.ErrControlsClosed):
		return creation.ExpiredText
	case errors.Is(err, creation.ErrEmptyPrompt):
		return "Please enter a prompt to lerp to."
	}
	return ""
}

type commandFlags struct {
	aspect string
	large  bool
	fast   bool
}

// parseCommandText splits slash command text into the prompt and its
// trailing --flags. Unknown flags stay in the prompt.
func parseCommandText(text string) (string, commandFlags) {
	var flags commandFlags
	var words []string
	for _, w := range strings.Fields(text) {
		switch strings.ToLower(w) {
		case "--landscape":
			flags.aspect = string(creation.AspectLandscape)
		case "--portrait":
			flags.aspect = string(creation.AspectPortrait)
		case "--square":
			flags.aspect = string(creation.AspectSquare)
		case "--large":
			flags.large = true
		case "--fast":
			flags.fast = true
		default:
			words = append(words, w)
		}
	}
	return strings.Join(words, " "), flags
}

var mentionRe = regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|([^>]*))?>`)

// cleanPrompt strips the first bot mention and renders other user mentions
// by their label, or drops them when Slack sent none.
func cleanPrompt(text, botID string) string {
	strippedBot := false
	text = mentionRe.ReplaceAllStringFunc(text, func(tok string) string {
		m := mentionRe.FindStringSubmatch(tok)
		if m[1] == botID && !strippedBot {
			strippedBot = true
			return ""
		}
		return m[2]
	})
	return strings.Join(strings.Fields(text), " ")
}
