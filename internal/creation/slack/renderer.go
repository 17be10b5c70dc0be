package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	slackapi "github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/zulandar/edenbot/internal/creation"
	"github.com/zulandar/edenbot/internal/eden"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3

	postedEntries = 4096
	postedTTL     = 24 * time.Hour
)

var _ creation.Renderer = (*Renderer)(nil)

// posted is what the renderer remembers about a message it sent: the
// thread it lives in and what it shows, so later edits can redraw it.
type posted struct {
	threadTS string
	content  string
	imageURL string
}

// Renderer draws creation loops as Slack messages. Slack cannot attach a
// file to an existing message, so artifacts are shown as image blocks
// pointing at the storage URL.
type Renderer struct {
	client slackClient
	logger *zap.Logger
	posted *expirable.LRU[string, posted]
}

func newRenderer(client slackClient, logger *zap.Logger) *Renderer {
	return &Renderer{
		client: client,
		logger: logger,
		posted: expirable.NewLRU[string, posted](postedEntries, nil, postedTTL),
	}
}

// Open posts the working message, in the parent's thread when target has one.
func (r *Renderer) Open(ctx context.Context, target creation.Target, content string) (creation.MessageRef, error) {
	ref, err := r.post(ctx, target, posted{content: content}, false)
	if err != nil {
		return creation.MessageRef{}, fmt.Errorf("slack: open: %w", err)
	}
	return ref, nil
}

// Update redraws the working message. The image block is kept across
// text-only updates.
func (r *Renderer) Update(ctx context.Context, ref creation.MessageRef, content string, file *eden.Artifact) error {
	p, _ := r.posted.Get(ref.MessageID)
	p.content = content
	if file != nil {
		p.imageURL = file.URL
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, _, apiErr := r.client.UpdateMessage(ref.ChannelID, ref.MessageID, messageOptions(p, false)...)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: update: %w", err)
	}
	r.posted.Add(ref.MessageID, p)
	return nil
}

// Finalize posts the finished creation with its action buttons.
func (r *Renderer) Finalize(ctx context.Context, msg creation.FinalMessage) (creation.MessageRef, error) {
	p := posted{content: msg.Content}
	if msg.File != nil {
		p.imageURL = msg.File.URL
	}
	ref, err := r.post(ctx, msg.Target, p, true)
	if err != nil {
		return creation.MessageRef{}, fmt.Errorf("slack: finalize: %w", err)
	}
	return ref, nil
}

// Delete removes a message.
func (r *Renderer) Delete(ctx context.Context, ref creation.MessageRef) error {
	err := retryOnRateLimit(ctx, func() error {
		_, _, apiErr := r.client.DeleteMessage(ref.ChannelID, ref.MessageID)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: delete: %w", err)
	}
	r.posted.Remove(ref.MessageID)
	return nil
}

// DisableControls redraws a final message with its buttons replaced by a note.
func (r *Renderer) DisableControls(ctx context.Context, ref creation.MessageRef) error {
	p, ok := r.posted.Get(ref.MessageID)
	if !ok {
		return fmt.Errorf("slack: disable controls: message %s not tracked", ref.MessageID)
	}
	opts := append(messageOptions(p, false), slackapi.MsgOptionBlocks(append(contentBlocks(p),
		slackapi.NewContextBlock("", slackapi.NewTextBlockObject(slackapi.MarkdownType, "Thanks for the 🙌", false, false)),
	)...))
	err := retryOnRateLimit(ctx, func() error {
		_, _, _, apiErr := r.client.UpdateMessage(ref.ChannelID, ref.MessageID, opts...)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: disable controls: %w", err)
	}
	return nil
}

// Apologize posts text to the target channel.
func (r *Renderer) Apologize(ctx context.Context, target creation.Target, text string) error {
	if _, err := r.post(ctx, target, posted{content: text}, false); err != nil {
		return fmt.Errorf("slack: apologize: %w", err)
	}
	return nil
}

// post sends p to target. A reply goes to the thread of the message it
// answers, which is that message's own thread when it already is a reply.
func (r *Renderer) post(ctx context.Context, target creation.Target, p posted, withControls bool) (creation.MessageRef, error) {
	if target.ChannelID == "" {
		return creation.MessageRef{}, errors.New("no channel specified")
	}
	if !target.ReplyTo.IsZero() {
		p.threadTS = target.ReplyTo.MessageID
		if parent, ok := r.posted.Get(target.ReplyTo.MessageID); ok && parent.threadTS != "" {
			p.threadTS = parent.threadTS
		}
	}
	opts := messageOptions(p, withControls)
	if p.threadTS != "" {
		opts = append(opts, slackapi.MsgOptionTS(p.threadTS))
	}

	var channel, ts string
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		channel, ts, apiErr = r.client.PostMessage(target.ChannelID, opts...)
		return apiErr
	})
	if err != nil {
		return creation.MessageRef{}, err
	}
	if channel == "" {
		channel = target.ChannelID
	}
	r.posted.Add(ts, p)
	return creation.MessageRef{ChannelID: channel, MessageID: ts}, nil
}

// messageOptions renders p as fallback text plus blocks.
func messageOptions(p posted, withControls bool) []slackapi.MsgOption {
	blocks := contentBlocks(p)
	if withControls {
		blocks = append(blocks, controls())
	}
	return []slackapi.MsgOption{
		slackapi.MsgOptionText(mrkdwn(p.content), false),
		slackapi.MsgOptionBlocks(blocks...),
	}
}

func contentBlocks(p posted) []slackapi.Block {
	blocks := []slackapi.Block{
		slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, mrkdwn(p.content), false, false), nil, nil),
	}
	if p.imageURL != "" {
		blocks = append(blocks, slackapi.NewImageBlock(p.imageURL, "creation", "", nil))
	}
	return blocks
}

var mrkdwnReplacer = strings.NewReplacer("**", "*", "<@!", "<@")

// mrkdwn converts the shared markup to Slack's: **bold** becomes *bold* and
// nickname mentions become plain user mentions.
func mrkdwn(s string) string {
	return mrkdwnReplacer.Replace(s)
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
