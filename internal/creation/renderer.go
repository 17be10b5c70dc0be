package creation

import (
	"context"

	"github.com/zulandar/edenbot/internal/eden"
)

// MessageRef identifies one chat message.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// IsZero reports whether r refers to no message.
func (r MessageRef) IsZero() bool {
	return r.MessageID == ""
}

// Target is where a new message goes: a channel, optionally as a reply.
type Target struct {
	ChannelID string
	ReplyTo   MessageRef // zero for a plain channel message
}

// FinalMessage is the promoted result of a finished creation.
type FinalMessage struct {
	Target  Target
	Content string
	File    *eden.Artifact
}

// Renderer is the chat-platform surface a creation loop needs. Each
// platform (Discord, Slack, the terminal) provides one implementation.
type Renderer interface {
	// Open posts a new working message and returns its reference.
	Open(ctx context.Context, target Target, content string) (MessageRef, error)

	// Update edits the working message in place. A non-nil file replaces
	// all attachments of the message.
	Update(ctx context.Context, ref MessageRef, content string, file *eden.Artifact) error

	// Finalize posts the finished creation with its follow-up controls.
	Finalize(ctx context.Context, msg FinalMessage) (MessageRef, error)

	// Delete removes a message.
	Delete(ctx context.Context, ref MessageRef) error

	// DisableControls removes or greys out the controls of a final message.
	DisableControls(ctx context.Context, ref MessageRef) error

	// Apologize posts a best-effort notice after a platform failure.
	Apologize(ctx context.Context, target Target, text string) error
}

// workingMessage owns the single message that shows a loop's progress.
// It remembers what it last rendered so that an unchanged status line or an
// already attached artifact never causes another edit.
type workingMessage struct {
	renderer    Renderer
	ref         MessageRef
	header      string
	lastContent string
	lastSHA     string
}

func newWorkingMessage(r Renderer, ref MessageRef, header string) *workingMessage {
	return &workingMessage{renderer: r, ref: ref, header: header, lastContent: header}
}

// update renders status (and file, if its content id is new) into the
// working message. It reports whether an edit was issued.
func (w *workingMessage) update(ctx context.Context, status string, file *eden.Artifact) (bool, error) {
	if file != nil && file.SHA != "" && file.SHA == w.lastSHA {
		file = nil
	}
	content := composeContent(w.header, status)
	if content == w.lastContent && file == nil {
		return false, nil
	}
	if err := w.renderer.Update(ctx, w.ref, content, file); err != nil {
		return false, err
	}
	w.lastContent = content
	if file != nil {
		w.lastSHA = file.SHA
	}
	return true, nil
}
