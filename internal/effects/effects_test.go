package effects

import (
	"context"
	"errors"
	"testing"
)

func TestFlushAfterCommitRunsPendingEffects(t *testing.T) {
	q := NewQueue()
	ran := false
	q.Enqueue(Effect{Key: "c1:notify", Kind: "notify_observers", Run: func(ctx context.Context) error {
		ran = true
		return nil
	}})
	if errs := q.FlushAfterCommit(context.Background()); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !ran {
		t.Fatal("expected effect to run")
	}
}

func TestFlushAfterCommitSkipsAlreadySeenKey(t *testing.T) {
	q := NewQueue()
	runs := 0
	effect := Effect{Key: "c1:notify", Kind: "notify_observers", Run: func(ctx context.Context) error {
		runs++
		return nil
	}}
	q.Enqueue(effect)
	q.FlushAfterCommit(context.Background())
	q.Enqueue(effect)
	q.FlushAfterCommit(context.Background())
	if runs != 1 {
		t.Fatalf("expected effect to run exactly once across flushes, ran %d times", runs)
	}
}

func TestFlushAfterCommitReportsPermanentFailure(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Effect{Key: "c1:apply", Kind: "run_plugin_apply", Run: func(ctx context.Context) error {
		return errors.New("plugin unreachable")
	}})
	errs := q.FlushAfterCommit(context.Background())
	if len(errs) != 1 {
		t.Fatalf("expected exactly one reported error, got %d", len(errs))
	}
}

func TestDiscardDropsPendingEffectsWithoutRunning(t *testing.T) {
	q := NewQueue()
	ran := false
	q.Enqueue(Effect{Key: "c1:notify", Run: func(ctx context.Context) error {
		ran = true
		return nil
	}})
	q.Discard()
	if errs := q.FlushAfterCommit(context.Background()); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if ran {
		t.Fatal("expected discarded effect to never run")
	}
}
