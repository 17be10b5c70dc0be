package creation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/edenbot/internal/eden"
)

// step is one scripted poll outcome.
type step struct {
	tick eden.Tick
	err  error
}

// fakeGateway replays a scripted poll sequence for every task.
type fakeGateway struct {
	mu        sync.Mutex
	submits   []eden.Request
	polls     []eden.PollOptions
	submitErr error
	script    []step
	hang      bool // after the script, block until cancelled
}

func (g *fakeGateway) Submit(ctx context.Context, req eden.Request) (eden.TaskID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits = append(g.submits, req)
	if g.submitErr != nil {
		return "", g.submitErr
	}
	return eden.TaskID(fmt.Sprintf("task-%d", len(g.submits))), nil
}

func (g *fakeGateway) Poll(ctx context.Context, task eden.TaskID, opts eden.PollOptions) iter.Seq2[eden.Tick, error] {
	return func(yield func(eden.Tick, error) bool) {
		g.mu.Lock()
		g.polls = append(g.polls, opts)
		script := append([]step(nil), g.script...)
		hang := g.hang
		g.mu.Unlock()

		for _, s := range script {
			if !yield(s.tick, s.err) || s.err != nil || s.tick.Final {
				return
			}
		}
		if hang {
			<-ctx.Done()
			yield(eden.Tick{}, ctx.Err())
		}
	}
}

func (g *fakeGateway) Submitted() []eden.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]eden.Request(nil), g.submits...)
}

func (g *fakeGateway) PollCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.polls)
}

func statusTick(st eden.Status, file *eden.Artifact) step {
	return step{tick: eden.Tick{Status: st, File: file}}
}

func finalTick(sha string) step {
	return step{tick: eden.Tick{
		Status: eden.Status{State: eden.StateComplete, Progress: 100, Output: sha},
		File:   &eden.Artifact{Name: sha + ".png", SHA: sha, Data: []byte("final")},
		Final:  true,
	}}
}

func catScript() []step {
	preview := &eden.Artifact{Name: "p1.png", SHA: "p1", Data: []byte("preview")}
	return []step{
		statusTick(eden.Status{State: eden.StatePending}, nil),
		statusTick(eden.Status{State: eden.StateQueued, QueuePosition: 2}, nil),
		statusTick(eden.Status{State: eden.StateRunning, Progress: 10, Output: "p1"}, preview),
		statusTick(eden.Status{State: eden.StateRunning, Progress: 90, Output: "p1"}, nil),
		finalTick("sha-final"),
	}
}

func newTestEngine(t *testing.T, g Gateway, r Renderer) *Engine {
	t.Helper()
	e, err := NewEngine(EngineOpts{Gateway: g, Renderer: r, PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func catOpts() StartOpts {
	return StartOpts{
		Target: Target{ChannelID: "c1"},
		Header: DreamHeader("a cat", "42"),
		Request: eden.Request{
			Source: eden.Source{Origin: "discord", AuthorID: "42", ChannelID: "c1"},
			Config: DreamParams{Prompt: "a cat"}.Config(1234),
		},
	}
}

// ---------------------------------------------------------------------------
// NewEngine validation
// ---------------------------------------------------------------------------

func TestNewEngine_Validation(t *testing.T) {
	if _, err := NewEngine(EngineOpts{Renderer: NewMockRenderer()}); err == nil || !strings.Contains(err.Error(), "gateway is required") {
		t.Errorf("nil gateway: err = %v", err)
	}
	if _, err := NewEngine(EngineOpts{Gateway: &fakeGateway{}}); err == nil || !strings.Contains(err.Error(), "renderer is required") {
		t.Errorf("nil renderer: err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Run scenarios
// ---------------------------------------------------------------------------

func TestStart_EndToEnd(t *testing.T) {
	g := &fakeGateway{script: catScript()}
	r := NewMockRenderer()
	e := newTestEngine(t, g, r)

	res, err := e.Start(context.Background(), catOpts())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ups := r.Updates()
	want := []string{
		"Warming up, please wait.",
		"Creation is #2 in queue",
		"Creation is **10%** complete",
		"Creation is **90%** complete",
	}
	if len(ups) != len(want) {
		t.Fatalf("updates = %d, want %d: %+v", len(ups), len(want), ups)
	}
	for i, w := range want {
		if ups[i].Content != "**a cat** - <@!42>\n"+w {
			t.Errorf("update %d = %q, want status %q", i, ups[i].Content, w)
		}
		if ups[i].Ref.MessageID != "msg-1" {
			t.Errorf("update %d edited %s, want the working message msg-1", i, ups[i].Ref.MessageID)
		}
	}
	if r.AttachmentCount() != 1 {
		t.Errorf("preview attachments = %d, want 1", r.AttachmentCount())
	}

	finals := r.Finals()
	if len(finals) != 1 {
		t.Fatalf("finals = %d, want 1", len(finals))
	}
	if finals[0].File == nil || finals[0].File.SHA != "sha-final" {
		t.Errorf("final file = %+v", finals[0].File)
	}
	if finals[0].Content != "**a cat** - <@!42>" {
		t.Errorf("final content = %q", finals[0].Content)
	}
	if !finals[0].Target.ReplyTo.IsZero() {
		t.Errorf("top-level final should not reply, got %+v", finals[0].Target.ReplyTo)
	}
	if del := r.Deleted(); len(del) != 1 || del[0].MessageID != "msg-1" {
		t.Errorf("deleted = %+v, want the working message", del)
	}

	if res.Phase != PhaseComplete || res.SHA != "sha-final" || res.Final.MessageID != "msg-2" {
		t.Errorf("result = %+v", res)
	}
	if res.TaskID != "task-1" {
		t.Errorf("task = %q", res.TaskID)
	}
	if res.Context.Parent != res.Final || !res.Context.Working.IsZero() {
		t.Errorf("finalized context = %+v", res.Context)
	}
	if e.Registry().Len() != 0 {
		t.Errorf("registry still holds %d loops", e.Registry().Len())
	}
}

func TestRun_PassesPollOptions(t *testing.T) {
	g := &fakeGateway{script: []step{finalTick("s")}}
	e, err := NewEngine(EngineOpts{
		Gateway:        g,
		Renderer:       NewMockRenderer(),
		PollInterval:   3 * time.Second,
		MaxWait:        time.Minute,
		PreferAnimated: true,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	opts := catOpts()
	opts.MultiFrame = true
	if _, err := e.Start(context.Background(), opts); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := eden.PollOptions{Interval: 3 * time.Second, MultiFrame: true, PreferAnimated: true, MaxWait: time.Minute}
	if g.polls[0] != want {
		t.Errorf("poll options = %+v, want %+v", g.polls[0], want)
	}
}

func TestRun_AuthErrorNeverPolls(t *testing.T) {
	authErr := &eden.AuthError{StatusCode: 401, Body: "bad key"}
	g := &fakeGateway{submitErr: authErr, script: catScript()}
	r := NewMockRenderer()
	e := newTestEngine(t, g, r)

	res, err := e.Start(context.Background(), catOpts())
	if !errors.As(err, new(*eden.AuthError)) {
		t.Fatalf("error = %v, want *eden.AuthError", err)
	}
	if g.PollCount() != 0 {
		t.Errorf("polls = %d, want 0", g.PollCount())
	}
	ups := r.Updates()
	if len(ups) != 1 {
		t.Fatalf("updates = %d, want 1", len(ups))
	}
	if want := "**a cat** - <@!42>\nError: " + authErr.Error(); ups[0].Content != want {
		t.Errorf("content = %q, want %q", ups[0].Content, want)
	}
	if len(r.Finals()) != 0 {
		t.Error("failed creation must not be finalized")
	}
	if res.Phase != PhaseFailed {
		t.Errorf("phase = %s", res.Phase)
	}
}

func TestRun_RemoteFailureUsesPresenter(t *testing.T) {
	g := &fakeGateway{script: []step{
		statusTick(eden.Status{State: eden.StateRunning, Progress: 30}, nil),
		{tick: eden.Tick{Status: eden.Status{State: eden.StateFailed, Error: "nsfw"}}, err: &eden.RemoteTaskFailure{TaskID: "task-1", Reason: "nsfw"}},
	}}
	r := NewMockRenderer()
	e := newTestEngine(t, g, r)

	_, err := e.Start(context.Background(), catOpts())
	if !errors.As(err, new(*eden.RemoteTaskFailure)) {
		t.Fatalf("error = %v", err)
	}
	ups := r.Updates()
	if len(ups) != 2 {
		t.Fatalf("updates = %d, want 2", len(ups))
	}
	if !strings.HasSuffix(ups[1].Content, "\nServer error: task failed") {
		t.Errorf("content = %q", ups[1].Content)
	}
}

func TestRun_TransportAndProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"transport", &eden.TransportError{Op: "poll", StatusCode: 502}},
		{"protocol", &eden.ProtocolError{Reason: "unrecognized status \"weird\""}},
		{"timeout", &eden.TimeoutError{TaskID: "task-1", After: time.Minute}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &fakeGateway{script: []step{
				statusTick(eden.Status{State: eden.StatePending}, nil),
				{err: tt.err},
			}}
			r := NewMockRenderer()
			e := newTestEngine(t, g, r)

			if _, err := e.Start(context.Background(), catOpts()); err != tt.err {
				t.Fatalf("error = %v, want %v", err, tt.err)
			}
			ups := r.Updates()
			if len(ups) != 2 || !strings.HasSuffix(ups[1].Content, "\nError: "+tt.err.Error()) {
				t.Errorf("updates = %+v", ups)
			}
		})
	}
}

func TestRun_UnknownStatusIsProtocolError(t *testing.T) {
	g := &fakeGateway{script: []step{statusTick(eden.Status{State: "melting"}, nil)}}
	r := NewMockRenderer()
	e := newTestEngine(t, g, r)

	_, err := e.Start(context.Background(), catOpts())
	if !errors.As(err, new(*eden.ProtocolError)) {
		t.Fatalf("error = %v, want *eden.ProtocolError", err)
	}
	ups := r.Updates()
	if len(ups) != 1 || !strings.Contains(ups[0].Content, "Error: ") {
		t.Errorf("updates = %+v", ups)
	}
}

func TestRun_SequenceWithoutTerminalIsProtocolError(t *testing.T) {
	g := &fakeGateway{script: []step{statusTick(eden.Status{State: eden.StatePending}, nil)}}
	e := newTestEngine(t, g, NewMockRenderer())

	_, err := e.Start(context.Background(), catOpts())
	if !errors.As(err, new(*eden.ProtocolError)) {
		t.Fatalf("error = %v, want *eden.ProtocolError", err)
	}
}

func TestRun_RendererFailureApologizes(t *testing.T) {
	g := &fakeGateway{script: catScript()}
	r := NewMockRenderer()
	r.UpdateErr = errors.New("unknown message")
	e := newTestEngine(t, g, r)

	res, err := e.Start(context.Background(), catOpts())
	if err == nil || !strings.Contains(err.Error(), "unknown message") {
		t.Fatalf("error = %v", err)
	}
	if r.Apologies() != 1 {
		t.Errorf("apologies = %d, want 1", r.Apologies())
	}
	if res.Phase != PhaseFailed {
		t.Errorf("phase = %s", res.Phase)
	}
	if len(r.Finals()) != 0 {
		t.Error("aborted creation must not be finalized")
	}
}

func TestRun_FinalizeFailureApologizes(t *testing.T) {
	g := &fakeGateway{script: []step{finalTick("s")}}
	r := NewMockRenderer()
	r.FinalizeErr = errors.New("missing permissions")
	e := newTestEngine(t, g, r)

	if _, err := e.Start(context.Background(), catOpts()); err == nil {
		t.Fatal("expected error")
	}
	if r.Apologies() != 1 {
		t.Errorf("apologies = %d, want 1", r.Apologies())
	}
	if len(r.Deleted()) != 0 {
		t.Error("working message must survive a failed finalize")
	}
}

func TestRun_DeleteFailureStillCompletes(t *testing.T) {
	g := &fakeGateway{script: []step{finalTick("s")}}
	r := NewMockRenderer()
	r.DeleteErr = errors.New("already deleted")
	e := newTestEngine(t, g, r)

	res, err := e.Start(context.Background(), catOpts())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Phase != PhaseComplete {
		t.Errorf("phase = %s", res.Phase)
	}
}

func TestStart_OpenFailure(t *testing.T) {
	g := &fakeGateway{script: catScript()}
	r := NewMockRenderer()
	r.OpenErr = errors.New("no access")
	e := newTestEngine(t, g, r)

	_, err := e.Start(context.Background(), catOpts())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(g.Submitted()) != 0 {
		t.Error("nothing should be submitted without a working message")
	}
	if r.Apologies() != 1 {
		t.Errorf("apologies = %d, want 1", r.Apologies())
	}
}

func TestRun_CancelByWorkingMessage(t *testing.T) {
	g := &fakeGateway{
		script: []step{statusTick(eden.Status{State: eden.StateQueued, QueuePosition: 5}, nil)},
		hang:   true,
	}
	r := NewMockRenderer()
	e := newTestEngine(t, g, r)

	done := make(chan error, 1)
	go func() {
		_, err := e.Start(context.Background(), catOpts())
		done <- err
	}()

	deadline := time.After(5 * time.Second)
	for len(r.Updates()) == 0 {
		select {
		case <-deadline:
			t.Fatal("loop never rendered its first status")
		case <-time.After(time.Millisecond):
		}
	}

	snap := e.Registry().Snapshot()
	if len(snap) != 1 || snap[0].Phase != PhasePolling || snap[0].MessageID != "msg-1" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !e.Registry().Cancel("msg-1") {
		t.Fatal("Cancel did not find the loop")
	}

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	if got := len(r.Updates()); got != 1 {
		t.Errorf("updates = %d, want no error edit on a cancelled loop", got)
	}
	if e.Registry().Cancel("msg-1") {
		t.Error("finished loop should no longer be cancellable")
	}
}

func TestRun_ConcurrentLoopsAreIndependent(t *testing.T) {
	g := &fakeGateway{script: catScript()}
	r := NewMockRenderer()
	e := newTestEngine(t, g, r)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			opts := catOpts()
			opts.Target.ChannelID = fmt.Sprintf("c%d", i)
			if _, err := e.Start(context.Background(), opts); err != nil {
				t.Errorf("Start: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(r.Finals()); got != 20 {
		t.Errorf("finals = %d, want 20", got)
	}
	if got := len(r.Updates()); got != 80 {
		t.Errorf("updates = %d, want 80", got)
	}
	if e.Registry().Len() != 0 {
		t.Errorf("registry still holds %d loops", e.Registry().Len())
	}
}
