package creation

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/edenbot/internal/eden"
)

// RenderedUpdate is one Update call seen by MockRenderer.
type RenderedUpdate struct {
	Ref     MessageRef
	Content string
	File    *eden.Artifact
}

// MockRenderer implements Renderer for testing. It records every call and
// hands out sequential message IDs ("msg-1", "msg-2", ...).
type MockRenderer struct {
	mu        sync.Mutex
	counter   int
	opened    []Target
	updates   []RenderedUpdate
	finals    []FinalMessage
	deleted   []MessageRef
	disabled  []MessageRef
	apologies []Target

	// Errors returned by the corresponding calls, if set.
	OpenErr     error
	UpdateErr   error
	FinalizeErr error
	DeleteErr   error
}

// NewMockRenderer creates a MockRenderer.
func NewMockRenderer() *MockRenderer {
	return &MockRenderer{}
}

func (m *MockRenderer) nextRef(channelID string) MessageRef {
	m.counter++
	return MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("msg-%d", m.counter)}
}

// Open records the target and returns a new message reference.
func (m *MockRenderer) Open(ctx context.Context, target Target, content string) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return MessageRef{}, m.OpenErr
	}
	m.opened = append(m.opened, target)
	return m.nextRef(target.ChannelID), nil
}

// Update records the edit.
func (m *MockRenderer) Update(ctx context.Context, ref MessageRef, content string, file *eden.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.updates = append(m.updates, RenderedUpdate{Ref: ref, Content: content, File: file})
	return nil
}

// Finalize records the final message and returns a new message reference.
func (m *MockRenderer) Finalize(ctx context.Context, msg FinalMessage) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FinalizeErr != nil {
		return MessageRef{}, m.FinalizeErr
	}
	m.finals = append(m.finals, msg)
	return m.nextRef(msg.Target.ChannelID), nil
}

// Delete records the deletion.
func (m *MockRenderer) Delete(ctx context.Context, ref MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.deleted = append(m.deleted, ref)
	return nil
}

// DisableControls records the message whose controls were closed.
func (m *MockRenderer) DisableControls(ctx context.Context, ref MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = append(m.disabled, ref)
	return nil
}

// Apologize records the apology target.
func (m *MockRenderer) Apologize(ctx context.Context, target Target, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apologies = append(m.apologies, target)
	return nil
}

// --- Test helpers ---

// Opened returns a copy of all Open targets.
func (m *MockRenderer) Opened() []Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Target(nil), m.opened...)
}

// Updates returns a copy of all recorded edits.
func (m *MockRenderer) Updates() []RenderedUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RenderedUpdate(nil), m.updates...)
}

// Finals returns a copy of all final messages.
func (m *MockRenderer) Finals() []FinalMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FinalMessage(nil), m.finals...)
}

// Deleted returns a copy of all deleted references.
func (m *MockRenderer) Deleted() []MessageRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MessageRef(nil), m.deleted...)
}

// Disabled returns a copy of all messages whose controls were closed.
func (m *MockRenderer) Disabled() []MessageRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MessageRef(nil), m.disabled...)
}

// Apologies returns how many apologies were posted.
func (m *MockRenderer) Apologies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.apologies)
}

// AttachmentCount returns how many updates replaced attachments.
func (m *MockRenderer) AttachmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.updates {
		if u.File != nil {
			n++
		}
	}
	return n
}
