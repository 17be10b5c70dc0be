// Package discord hosts creation loops on Discord: slash commands, mention
// and remix triggers, and the buttons attached to finished creations.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/zulandar/edenbot/internal/config"
	"github.com/zulandar/edenbot/internal/creation"
	"github.com/zulandar/edenbot/internal/eden"
	"github.com/zulandar/edenbot/internal/moderation"
)

// Bot connects the creation controller to a Discord gateway session.
type Bot struct {
	sess       session
	appID      string
	cfg        config.BotConfig
	remix      config.RemixConfig
	filter     moderation.Filter
	renderer   *Renderer
	controller *creation.Controller
	logger     *zap.Logger
	random     func() float64

	mu        sync.Mutex
	botUserID string
	connected bool
	closed    bool
	loopCtx   context.Context
	stopLoops context.CancelFunc
	removers  []func()
	loops     sync.WaitGroup
}

// BotOpts holds parameters for creating a Bot.
type BotOpts struct {
	Token         string // Discord bot token
	ApplicationID string // defaults to the bot user ID reported on Ready
	Bot           config.BotConfig
	Remix         config.RemixConfig
	Wiring        creation.Wiring
	Filter        moderation.Filter // nil allows every prompt
	Logger        *zap.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Bot. The gateway connection is opened by Run.
func New(opts BotOpts) (*Bot, error) {
	if opts.Session == nil && opts.Token == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sess := opts.Session
	if sess == nil {
		dg, err := discordgo.New("Bot " + opts.Token)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		sess = &realSession{s: dg}
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
	renderer := newRenderer(sess, logger)
	controller, err := wiring.NewController(renderer)
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}

	return &Bot{
		sess:       sess,
		appID:      opts.ApplicationID,
		cfg:        opts.Bot,
		remix:      opts.Remix,
		filter:     filter,
		renderer:   renderer,
		controller: controller,
		logger:     logger,
		random:     rand.Float64,
	}, nil
}

// Controller returns the controller serving this bot's creations.
func (b *Bot) Controller() *creation.Controller { return b.controller }

// Run opens the gateway and serves events until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return b.Close()
}

// Connect registers the event handlers and opens the gateway connection.
// Creation loops started by events are cancelled when ctx is done or on Close.
func (b *Bot) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("discord: bot already closed")
	}
	if b.connected {
		return nil
	}
	b.loopCtx, b.stopLoops = context.WithCancel(ctx)

	b.removers = append(b.removers,
		b.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			b.handleReady(r)
		}),
		b.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			b.handleInteraction(i)
		}),
		b.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			b.handleMessage(m)
		}),
		b.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) {
			b.handleMessageDelete(m)
		}),
		b.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			b.logger.Info("discord: gateway disconnected, discordgo will auto-reconnect")
		}),
	)

	if err := b.sess.Open(); err != nil {
		b.stopLoops()
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	b.connected = true
	return nil
}

// Close cancels running loops, waits for them and closes the session.
func (b *Bot) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.connected = false
	if b.stopLoops != nil {
		b.stopLoops()
	}
	for _, remove := range b.removers {
		remove()
	}
	b.removers = nil
	b.mu.Unlock()

	b.loops.Wait()
	b.controller.Wait()
	return b.sess.Close()
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

// lifetime returns the context for work started by an event.
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

// start runs a new top-level creation in the background.
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

func (b *Bot) handleReady(r *discordgo.Ready) {
	b.SetBotUserID(r.User.ID)
	b.logger.Info("discord: connected", zap.String("user", r.User.Username), zap.String("id", r.User.ID))

	appID := b.appID
	if appID == "" && r.Application != nil {
		appID = r.Application.ID
	}
	if appID == "" {
		appID = r.User.ID
	}
	guilds := b.cfg.Guilds
	if len(guilds) == 0 {
		guilds = []string{""} // global registration
	}
	ctx := b.lifetime()
	for _, g := range guilds {
		err := b.renderer.retryOnRateLimit(ctx, func() error {
			_, apiErr := b.sess.ApplicationCommandBulkOverwrite(appID, g, applicationCommands())
			return apiErr
		})
		if err != nil {
			b.logger.Error("discord: register commands", zap.String("guild", g), zap.Error(err))
		}
	}
}

func (b *Bot) handleInteraction(i *discordgo.InteractionCreate) {
	if !b.cfg.GuildAllowed(i.GuildID) {
		b.logger.Debug("discord: interaction from unlisted guild", zap.String("guild", i.GuildID))
		return
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(i)
	case discordgo.InteractionModalSubmit:
		b.handleModal(i)
	}
}

// handleCommand serves /dream and /lerp. The interaction is acknowledged
// first so that filtering may take longer than Discord's response window.
func (b *Bot) handleCommand(i *discordgo.InteractionCreate) {
	ctx := b.lifetime()
	data := i.ApplicationCommandData()
	user := interactionUser(i)
	if !b.cfg.ChannelAllowed(i.ChannelID) {
		b.respond(ctx, i, creation.NotAvailableText)
		return
	}
	if err := b.respondDeferred(ctx, i); err != nil {
		b.logger.Warn("discord: acknowledge command", zap.String("command", data.Name), zap.Error(err))
		return
	}

	opts := commandOptions(data.Options)
	aspect := creation.ParseAspect(stringOption(opts, "aspect_ratio"))
	target := creation.Target{ChannelID: i.ChannelID}
	src := b.source(i.GuildID, i.ChannelID, user)

	switch data.Name {
	case "dream":
		prompt := stringOption(opts, "text_input")
		if !b.allowed(ctx, user.ID, prompt) {
			b.followup(ctx, i, creation.FilteredText(user.ID))
			return
		}
		params := creation.DreamParams{
			Prompt: prompt,
			Aspect: aspect,
			Large:  boolOption(opts, "large"),
			Fast:   boolOption(opts, "fast"),
		}
		b.followup(ctx, i, "Starting to dream...")
		b.start(creation.StartOpts{
			Target:  target,
			Header:  creation.DreamHeader(prompt, user.ID),
			Request: eden.Request{Source: src, Config: params.Config(creation.RandomSeed())},
		})
	case "lerp":
		from, to := stringOption(opts, "text_input1"), stringOption(opts, "text_input2")
		if !b.allowed(ctx, user.ID, from) || !b.allowed(ctx, user.ID, to) {
			b.followup(ctx, i, creation.FilteredText(user.ID))
			return
		}
		cfg := creation.LerpConfig(from, to, aspect, [2]int64{creation.RandomSeed(), creation.RandomSeed()})
		b.followup(ctx, i, "Lerping...")
		b.start(creation.StartOpts{
			Target:     target,
			Header:     creation.LerpHeader(from, to, user.ID),
			Request:    eden.Request{Source: src, Config: cfg},
			MultiFrame: true,
		})
	default:
		b.followup(ctx, i, fmt.Sprintf("Unknown command %q.", data.Name))
	}
}

// handleComponent serves the buttons of a finished creation.
func (b *Bot) handleComponent(i *discordgo.InteractionCreate) {
	ctx := b.lifetime()
	if i.Message == nil {
		return
	}
	user := interactionUser(i)
	action := creation.Action{
		MessageID: i.Message.ID,
		ChannelID: i.ChannelID,
		UserID:    user.ID,
		UserName:  user.Username,
	}
	id := i.MessageComponentData().CustomID

	if id == lerpID {
		if !b.cfg.ChannelAllowed(i.ChannelID) {
			b.respond(ctx, i, creation.NotAvailableText)
			return
		}
		err := b.renderer.retryOnRateLimit(ctx, func() error {
			return b.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseModal,
				Data: lerpModal(i.Message.ID),
			})
		})
		if err != nil {
			b.logger.Warn("discord: open lerp modal", zap.Error(err))
		}
		return
	}

	if err := b.respondUpdate(ctx, i); err != nil {
		b.logger.Warn("discord: acknowledge button", zap.String("custom_id", id), zap.Error(err))
		return
	}
	switch id {
	case rerollID:
		b.runAction(i, func(ctx context.Context) (creation.Result, error) {
			return b.controller.Reroll(ctx, action)
		})
	case refreshID:
		b.runAction(i, func(ctx context.Context) (creation.Result, error) {
			return b.controller.Refresh(ctx, action)
		})
	case burnID:
		b.feedback(ctx, i, action, eden.StatBurn)
	case praiseID:
		b.feedback(ctx, i, action, eden.StatPraise)
	default:
		b.logger.Debug("discord: unknown component", zap.String("custom_id", id))
	}
}

// handleModal serves the lerp modal submitted from a finished creation.
func (b *Bot) handleModal(i *discordgo.InteractionCreate) {
	ctx := b.lifetime()
	messageID, text, ok := parseLerpModal(i.ModalSubmitData())
	if !ok {
		b.respond(ctx, i, "Please enter a prompt to lerp to.")
		return
	}
	user := interactionUser(i)
	if err := b.respondUpdate(ctx, i); err != nil {
		b.logger.Warn("discord: acknowledge modal", zap.Error(err))
		return
	}
	if !b.allowed(ctx, user.ID, text) {
		b.followup(ctx, i, creation.FilteredText(user.ID))
		return
	}
	action := creation.Action{
		MessageID: messageID,
		ChannelID: i.ChannelID,
		UserID:    user.ID,
		UserName:  user.Username,
	}
	b.runAction(i, func(ctx context.Context) (creation.Result, error) {
		return b.controller.Lerp(ctx, action, text)
	})
}

// runAction runs a follow-up creation in the background and reports
// control errors to the presser only.
func (b *Bot) runAction(i *discordgo.InteractionCreate, fn func(ctx context.Context) (creation.Result, error)) {
	b.launch(func(ctx context.Context) {
		res, err := fn(ctx)
		if err == nil {
			return
		}
		if text := controlErrorText(err); text != "" {
			b.followup(ctx, i, text)
			return
		}
		b.logger.Debug("creation ended",
			zap.String("loop_id", res.Context.ID),
			zap.String("phase", string(res.Phase)),
			zap.Error(err))
	})
}

func (b *Bot) feedback(ctx context.Context, i *discordgo.InteractionCreate, a creation.Action, stat eden.Stat) {
	if err := b.controller.Feedback(ctx, a, stat); err != nil {
		if text := controlErrorText(err); text != "" {
			b.followup(ctx, i, text)
		}
	}
}

// handleMessage serves remix uploads, mentions and random replies.
func (b *Bot) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || !b.cfg.GuildAllowed(m.GuildID) {
		return
	}
	botID := b.userID()
	if m.Author.ID == botID {
		return
	}

	if slices.Contains(b.remix.Channels, m.ChannelID) {
		b.handleRemix(m)
		return
	}
	if !b.cfg.ChannelAllowed(m.ChannelID) {
		return
	}

	mentioned := isMentioned(m.Message, botID)
	if !mentioned {
		p := b.cfg.RandomReplyProbability
		if p <= 0 || b.random() >= p {
			return
		}
	}
	prompt := cleanPrompt(m.Message, botID)
	if prompt == "" {
		return
	}

	ctx := b.lifetime()
	reply := creation.Target{
		ChannelID: m.ChannelID,
		ReplyTo:   creation.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID},
	}
	if !b.allowed(ctx, m.Author.ID, prompt) {
		if err := b.renderer.Apologize(ctx, reply, creation.FilteredText(m.Author.ID)); err != nil {
			b.logger.Warn("discord: filtered reply", zap.Error(err))
		}
		return
	}
	params := creation.DreamParams{Prompt: prompt, Aspect: creation.AspectSquare}
	b.start(creation.StartOpts{
		Target:  reply,
		Header:  creation.DreamHeader(prompt, m.Author.ID),
		Request: eden.Request{Source: b.source(m.GuildID, m.ChannelID, m.Author), Config: params.Config(creation.RandomSeed())},
	})
}

// handleRemix starts one remix per image attachment, posted to the output channel.
func (b *Bot) handleRemix(m *discordgo.MessageCreate) {
	strength := creation.ParseRemixStrength(m.Content, b.remix.InitImageStrength)
	src := b.source(m.GuildID, m.ChannelID, m.Author)
	header := creation.RemixHeader(m.Author.ID, jumpURL(m.Message))
	for _, att := range m.Attachments {
		if !isImage(att) {
			continue
		}
		b.start(creation.StartOpts{
			Target:  creation.Target{ChannelID: b.remix.OutputChannel},
			Header:  header,
			Request: eden.Request{Source: src, Config: creation.RemixConfig(att.URL, strength, creation.RandomSeed())},
		})
	}
}

// handleMessageDelete stops a loop whose working message was removed.
func (b *Bot) handleMessageDelete(m *discordgo.MessageDelete) {
	if b.controller.Registry().Cancel(m.ID) {
		b.logger.Info("discord: working message deleted, creation cancelled", zap.String("message_id", m.ID))
	}
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

func (b *Bot) source(guildID, channelID string, user *discordgo.User) eden.Source {
	src := eden.Source{
		Origin:    "discord",
		GuildID:   guildID,
		ChannelID: channelID,
	}
	if user != nil {
		src.AuthorID = user.ID
		src.AuthorName = user.Username
	}
	if ch, err := b.sess.Channel(channelID); err == nil && ch != nil {
		src.ChannelName = ch.Name
	}
	return src
}

func (b *Bot) respond(ctx context.Context, i *discordgo.InteractionCreate, text string) {
	err := b.renderer.retryOnRateLimit(ctx, func() error {
		return b.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: text, Flags: discordgo.MessageFlagsEphemeral},
		})
	})
	if err != nil {
		b.logger.Warn("discord: respond", zap.Error(err))
	}
}

func (b *Bot) respondDeferred(ctx context.Context, i *discordgo.InteractionCreate) error {
	return b.renderer.retryOnRateLimit(ctx, func() error {
		return b.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
		})
	})
}

func (b *Bot) respondUpdate(ctx context.Context, i *discordgo.InteractionCreate) error {
	return b.renderer.retryOnRateLimit(ctx, func() error {
		return b.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		})
	})
}

func (b *Bot) followup(ctx context.Context, i *discordgo.InteractionCreate, text string) {
	err := b.renderer.retryOnRateLimit(ctx, func() error {
		_, apiErr := b.sess.FollowupMessageCreate(i.Interaction, false, &discordgo.WebhookParams{
			Content: text,
			Flags:   discordgo.MessageFlagsEphemeral,
		})
		return apiErr
	})
	if err != nil {
		b.logger.Warn("discord: followup", zap.Error(err))
	}
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

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	if i.User != nil {
		return i.User
	}
	return &discordgo.User{}
}

func isMentioned(m *discordgo.Message, botID string) bool {
	if botID == "" {
		return false
	}
	for _, u := range m.Mentions {
		if u.ID == botID {
			return true
		}
	}
	return false
}

var mentionRe = regexp.MustCompile(`<@!?(\d+)>`)

// cleanPrompt strips the first bot mention and renders other user mentions
// as plain names.
func cleanPrompt(m *discordgo.Message, botID string) string {
	names := make(map[string]string, len(m.Mentions))
	for _, u := range m.Mentions {
		names[u.ID] = u.Username
	}
	strippedBot := false
	text := mentionRe.ReplaceAllStringFunc(m.Content, func(tok string) string {
		id := mentionRe.FindStringSubmatch(tok)[1]
		if id == botID && !strippedBot {
			strippedBot = true
			return ""
		}
		if name, ok := names[id]; ok {
			return name
		}
		return tok
	})
	return strings.Join(strings.Fields(text), " ")
}

func isImage(a *discordgo.MessageAttachment) bool {
	if strings.HasPrefix(a.ContentType, "image/") {
		return true
	}
	name := strings.ToLower(a.Filename)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp", ".gif"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func jumpURL(m *discordgo.Message) string {
	guild := m.GuildID
	if guild == "" {
		guild = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guild, m.ChannelID, m.ID)
}
