package creation

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/zulandar/edenbot/internal/eden"
)

// MockGateway implements Gateway and StatsPoster for tests. Every task
// replays Ticks; a nil Ticks completes immediately with a small PNG-named
// artifact. With Block set, a task that runs out of ticks waits for
// cancellation.
type MockGateway struct {
	mu        sync.Mutex
	Ticks     []eden.Tick
	Block     bool
	SubmitErr error
	submits   []eden.Request
	stats     []MockStat
}

// MockStat is one recorded UpdateStats call.
type MockStat struct {
	SHA    string
	Stat   eden.Stat
	UserID string
}

// NewMockGateway creates a MockGateway that finishes every task at once.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// Submit records req.
func (g *MockGateway) Submit(_ context.Context, req eden.Request) (eden.TaskID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SubmitErr != nil {
		return "", g.SubmitErr
	}
	g.submits = append(g.submits, req)
	return eden.TaskID(fmt.Sprintf("task-%d", len(g.submits))), nil
}

// Poll replays the scripted ticks.
func (g *MockGateway) Poll(ctx context.Context, task eden.TaskID, _ eden.PollOptions) iter.Seq2[eden.Tick, error] {
	g.mu.Lock()
	ticks := append([]eden.Tick(nil), g.Ticks...)
	block := g.Block
	g.mu.Unlock()
	if len(ticks) == 0 && !block {
		sha := "sha-" + string(task)
		ticks = []eden.Tick{{
			Status: eden.Status{State: eden.StateComplete, Progress: 100, Output: sha},
			File:   &eden.Artifact{Name: sha + ".png", SHA: sha, ContentType: "image/png", URL: "https://storage.test/" + sha, Data: []byte(sha)},
			Final:  true,
		}}
	}
	return func(yield func(eden.Tick, error) bool) {
		for _, t := range ticks {
			if err := ctx.Err(); err != nil {
				yield(eden.Tick{}, err)
				return
			}
			if !yield(t, nil) || t.Final {
				return
			}
		}
		if block {
			<-ctx.Done()
			yield(eden.Tick{}, ctx.Err())
		}
	}
}

// UpdateStats records one feedback post.
func (g *MockGateway) UpdateStats(_ context.Context, sha string, stat eden.Stat, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats = append(g.stats, MockStat{SHA: sha, Stat: stat, UserID: userID})
	return nil
}

// Submitted returns a copy of every submitted request.
func (g *MockGateway) Submitted() []eden.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]eden.Request(nil), g.submits...)
}

// Stats returns a copy of every recorded feedback post.
func (g *MockGateway) Stats() []MockStat {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]MockStat(nil), g.stats...)
}
