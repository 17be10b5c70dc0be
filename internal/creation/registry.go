package creation

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/zulandar/edenbot/internal/eden"
)

// Phase is where a loop is in its lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSubmitted Phase = "submitted"
	PhasePolling   Phase = "polling"
	PhaseComplete  Phase = "complete"
	PhaseFailed    Phase = "failed"
)

// Terminal reports whether p ends a loop.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// LoopInfo is a point-in-time view of one loop.
type LoopInfo struct {
	ID        string      `json:"id"`
	Header    string      `json:"header"`
	ChannelID string      `json:"channel_id"`
	MessageID string      `json:"message_id"`
	Mode      eden.Mode   `json:"mode"`
	TaskID    eden.TaskID `json:"task_id,omitempty"`
	Phase     Phase       `json:"phase"`
	Status    string      `json:"status,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type registryEntry struct {
	info   LoopInfo
	cancel context.CancelFunc
}

// Registry tracks in-flight loops so they can be listed, watched and
// cancelled when their working message disappears.
type Registry struct {
	mu      sync.Mutex
	loops   map[string]*registryEntry // by loop ID
	working map[string]string         // working message ID -> loop ID
	subs    map[int]chan LoopInfo
	nextSub int
	now     func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		loops:   make(map[string]*registryEntry),
		working: make(map[string]string),
		subs:    make(map[int]chan LoopInfo),
		now:     time.Now,
	}
}

func (r *Registry) add(info LoopInfo, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	info.StartedAt, info.UpdatedAt = now, now
	r.loops[info.ID] = &registryEntry{info: info, cancel: cancel}
	if info.MessageID != "" {
		r.working[info.MessageID] = info.ID
	}
	r.publishLocked(info)
}

// update applies fn to the loop's info and notifies subscribers.
func (r *Registry) update(id string, fn func(*LoopInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.loops[id]
	if !ok {
		return
	}
	fn(&e.info)
	e.info.UpdatedAt = r.now()
	r.publishLocked(e.info)
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.loops[id]
	if !ok {
		return
	}
	delete(r.loops, id)
	delete(r.working, e.info.MessageID)
}

// Cancel stops the loop whose working message is messageID. It reports
// whether such a loop was running.
func (r *Registry) Cancel(messageID string) bool {
	r.mu.Lock()
	id, ok := r.working[messageID]
	var cancel context.CancelFunc
	if ok {
		cancel = r.loops[id].cancel
	}
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return ok
}

// Snapshot returns all in-flight loops, oldest first.
func (r *Registry) Snapshot() []LoopInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LoopInfo, 0, len(r.loops))
	for _, e := range r.loops {
		out = append(out, e.info)
	}
	slices.SortFunc(out, func(a, b LoopInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of in-flight loops.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loops)
}

// Subscribe returns a channel receiving every loop change, and a function
// that ends the subscription. Slow subscribers miss updates rather than
// stalling loops.
func (r *Registry) Subscribe(buffer int) (<-chan LoopInfo, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan LoopInfo, buffer)
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

func (r *Registry) publishLocked(info LoopInfo) {
	for _, ch := range r.subs {
		select {
		case ch <- info:
		default:
		}
	}
}
