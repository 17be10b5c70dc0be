package creation

import (
	"testing"
	"time"
)

func TestRegistry_LifecycleAndSnapshot(t *testing.T) {
	r := NewRegistry()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	r.add(LoopInfo{ID: "b", MessageID: "m-b", Phase: PhaseIdle}, func() {})
	r.add(LoopInfo{ID: "a", MessageID: "m-a", Phase: PhaseIdle}, func() {})
	r.update("b", func(info *LoopInfo) { info.Phase = PhasePolling; info.Status = "Creation is starting" })

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot = %d, want 2", len(snap))
	}
	if snap[0].ID != "b" || snap[1].ID != "a" {
		t.Errorf("order = %s,%s, want oldest first", snap[0].ID, snap[1].ID)
	}
	if snap[0].Phase != PhasePolling || snap[0].Status != "Creation is starting" {
		t.Errorf("updated info = %+v", snap[0])
	}
	if !snap[0].UpdatedAt.After(snap[0].StartedAt) {
		t.Error("UpdatedAt should advance on update")
	}

	r.remove("b")
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	if r.Cancel("m-b") {
		t.Error("removed loop should not be cancellable")
	}
}

func TestRegistry_Cancel(t *testing.T) {
	r := NewRegistry()
	cancelled := false
	r.add(LoopInfo{ID: "x", MessageID: "m-x"}, func() { cancelled = true })

	if r.Cancel("other") {
		t.Error("Cancel of unknown message reported true")
	}
	if !r.Cancel("m-x") || !cancelled {
		t.Error("Cancel did not invoke the loop's cancel func")
	}
}

func TestRegistry_UpdateUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.update("ghost", func(info *LoopInfo) { t.Error("fn called for unknown loop") })
}

func TestRegistry_Subscribe(t *testing.T) {
	r := NewRegistry()
	ch, unsubscribe := r.Subscribe(4)

	r.add(LoopInfo{ID: "x", Phase: PhaseIdle}, func() {})
	r.update("x", func(info *LoopInfo) { info.Phase = PhaseSubmitted })

	first := <-ch
	second := <-ch
	if first.Phase != PhaseIdle || second.Phase != PhaseSubmitted {
		t.Errorf("events = %s, %s", first.Phase, second.Phase)
	}

	unsubscribe()
	unsubscribe() // idempotent
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	r.update("x", func(info *LoopInfo) { info.Phase = PhasePolling })
}

func TestRegistry_SlowSubscriberDoesNotBlock(t *testing.T) {
	r := NewRegistry()
	_, unsubscribe := r.Subscribe(1)
	defer unsubscribe()

	r.add(LoopInfo{ID: "x"}, func() {})
	done := make(chan struct{})
	go func() {
		for range 100 {
			r.update("x", func(info *LoopInfo) { info.Status = "s" })
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("updates blocked on a full subscriber")
	}
}

func TestPhase_Terminal(t *testing.T) {
	if !PhaseComplete.Terminal() || !PhaseFailed.Terminal() {
		t.Error("complete and failed are terminal")
	}
	if PhasePolling.Terminal() || PhaseIdle.Terminal() || PhaseSubmitted.Terminal() {
		t.Error("idle, submitted and polling are not terminal")
	}
}
