package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/zulandar/edenbot/internal/creation"
	"github.com/zulandar/edenbot/internal/eden"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration after a rate limit.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
)

var _ creation.Renderer = (*Renderer)(nil)

// Renderer draws creation loops as Discord messages.
type Renderer struct {
	sess        session
	logger      *zap.Logger
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func newRenderer(sess session, logger *zap.Logger) *Renderer {
	return &Renderer{
		sess:        sess,
		logger:      logger,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
}

// Open posts the working message, as a reply when target has a parent.
func (r *Renderer) Open(ctx context.Context, target creation.Target, content string) (creation.MessageRef, error) {
	msg, err := r.send(ctx, target, &discordgo.MessageSend{Content: content})
	if err != nil {
		return creation.MessageRef{}, fmt.Errorf("discord: open: %w", err)
	}
	return msg, nil
}

// Update edits the working message. A non-nil file is uploaded and every
// previous attachment is dropped in the same edit.
func (r *Renderer) Update(ctx context.Context, ref creation.MessageRef, content string, file *eden.Artifact) error {
	err := r.retryOnRateLimit(ctx, func() error {
		edit := discordgo.NewMessageEdit(ref.ChannelID, ref.MessageID).SetContent(content)
		if file != nil {
			none := []*discordgo.MessageAttachment{}
			edit.Attachments = &none
			edit.Files = []*discordgo.File{toFile(file)}
		}
		_, editErr := r.sess.ChannelMessageEditComplex(edit)
		return editErr
	})
	if err != nil {
		return fmt.Errorf("discord: update: %w", err)
	}
	return nil
}

// Finalize posts the finished creation with its controls.
func (r *Renderer) Finalize(ctx context.Context, msg creation.FinalMessage) (creation.MessageRef, error) {
	data := &discordgo.MessageSend{
		Content:    msg.Content,
		Components: controls(false),
	}
	if msg.File != nil {
		data.Files = []*discordgo.File{toFile(msg.File)}
	}
	ref, err := r.send(ctx, msg.Target, data)
	if err != nil {
		return creation.MessageRef{}, fmt.Errorf("discord: finalize: %w", err)
	}
	return ref, nil
}

// Delete removes a message.
func (r *Renderer) Delete(ctx context.Context, ref creation.MessageRef) error {
	err := r.retryOnRateLimit(ctx, func() error {
		return r.sess.ChannelMessageDelete(ref.ChannelID, ref.MessageID)
	})
	if err != nil {
		return fmt.Errorf("discord: delete: %w", err)
	}
	return nil
}

// DisableControls greys out the buttons of a final message.
func (r *Renderer) DisableControls(ctx context.Context, ref creation.MessageRef) error {
	err := r.retryOnRateLimit(ctx, func() error {
		edit := discordgo.NewMessageEdit(ref.ChannelID, ref.MessageID)
		components := controls(true)
		edit.Components = &components
		_, editErr := r.sess.ChannelMessageEditComplex(edit)
		return editErr
	})
	if err != nil {
		return fmt.Errorf("discord: disable controls: %w", err)
	}
	return nil
}

// Apologize posts text to the target channel.
func (r *Renderer) Apologize(ctx context.Context, target creation.Target, text string) error {
	if _, err := r.send(ctx, target, &discordgo.MessageSend{Content: text}); err != nil {
		return fmt.Errorf("discord: apologize: %w", err)
	}
	return nil
}

// send posts data to target. Attached files are rewound before every attempt.
func (r *Renderer) send(ctx context.Context, target creation.Target, data *discordgo.MessageSend) (creation.MessageRef, error) {
	if target.ChannelID == "" {
		return creation.MessageRef{}, fmt.Errorf("no channel specified")
	}
	if !target.ReplyTo.IsZero() {
		data.Reference = &discordgo.MessageReference{
			MessageID: target.ReplyTo.MessageID,
			ChannelID: target.ReplyTo.ChannelID,
		}
	}
	files := data.Files
	var sent *discordgo.Message
	err := r.retryOnRateLimit(ctx, func() error {
		data.Files = rewind(files)
		var sendErr error
		sent, sendErr = r.sess.ChannelMessageSendComplex(target.ChannelID, data)
		return sendErr
	})
	if err != nil {
		return creation.MessageRef{}, err
	}
	ch := sent.ChannelID
	if ch == "" {
		ch = target.ChannelID
	}
	return creation.MessageRef{ChannelID: ch, MessageID: sent.ID}, nil
}

func toFile(a *eden.Artifact) *discordgo.File {
	return &discordgo.File{
		Name:        a.Name,
		ContentType: a.ContentType,
		Reader:      bytes.NewReader(a.Data),
	}
}

func rewind(files []*discordgo.File) []*discordgo.File {
	for _, f := range files {
		if s, ok := f.Reader.(io.Seeker); ok {
			_, _ = s.Seek(0, io.SeekStart)
		}
	}
	return files
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (r *Renderer) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * r.baseBackoff
		if wait > r.maxBackoff {
			wait = r.maxBackoff
		}

		r.logger.Warn("discord: rate limited",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Duration("retry_in", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
