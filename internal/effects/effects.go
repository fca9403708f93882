// Package effects implements the deferred effects queue (spec §4.13,
// component C12): the non-SQL work the executor schedules for
// apply_effects_post_commit (step 6 of C6's fixed order), run synchronously
// after the backend commit returns, with bounded retry for effects that
// fail transiently. Grounded on internal/eventbus's dispatch-then-log
// shape and internal/storage/dolt/store.go's cenkalti/backoff/v4 retry
// idiom for transient server-mode errors — the same library, the same
// bounded-exponential-backoff policy, applied here to post-commit effects
// instead of SQL reconnects.
package effects

import (
	"context"
	"log"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/lixdb/lix/internal/lixerr"
)

// Effect is one deferred action, keyed for idempotency by (commit_id,
// effect_kind) so a retried or replayed effect never double-applies.
type Effect struct {
	Key  string
	Kind string
	Run  func(ctx context.Context) error
}

// Queue accumulates effects across one transaction's lifetime. Engine-driven
// transactions flush it once, right after the backend commit; explicit user
// transactions enqueue across the whole Tx and flush exactly once on the
// outer commit (spec §4.13).
type Queue struct {
	mu      sync.Mutex
	pending []Effect
	seen    map[string]bool // idempotency: a Key already flushed is skipped
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{seen: make(map[string]bool)}
}

// Enqueue appends e. Enqueue never runs e; it only records it for the next
// FlushAfterCommit.
func (q *Queue) Enqueue(e Effect) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, e)
}

// Discard drops every pending effect without running it — called on
// rollback of an explicit user transaction, where no SQL was ever durable
// so no post-commit effect should run either.
func (q *Queue) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}

// FlushAfterCommit runs every pending effect, retrying each with bounded
// exponential backoff on failure. Errors are reported but never rolled
// back — by the time FlushAfterCommit runs, the backend commit has already
// landed durably (spec §4.6 step 6 failure semantics). Effects already
// flushed once (by Key) are skipped on a later flush of the same Queue, so
// a caller that retries FlushAfterCommit itself after a partial failure
// does not re-run effects that already succeeded.
func (q *Queue) FlushAfterCommit(ctx context.Context) []error {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	var errs []error
	for _, e := range batch {
		if q.alreadySeen(e.Key) {
			continue
		}
		if err := q.runWithBackoff(ctx, e); err != nil {
			errs = append(errs, lixerr.Wrapf(lixerr.KindPostCommitEffect, err, "effect %q (%s) failed after retries", e.Key, e.Kind))
			log.Printf("effects: %q (%s) failed permanently: %v", e.Key, e.Kind, err)
			continue
		}
		q.markSeen(e.Key)
	}
	return errs
}

func (q *Queue) alreadySeen(key string) bool {
	if key == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seen[key]
}

func (q *Queue) markSeen(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seen[key] = true
}

// runWithBackoff mirrors storage/dolt/store.go's backoff.Retry(...,
// backoff.WithContext(bo, ctx)) idiom: an exponential backoff bounded to a
// handful of attempts, since a post-commit effect that still fails after
// that many retries needs operator attention, not an unbounded retry loop.
func (q *Queue) runWithBackoff(ctx context.Context, e Effect) error {
	bo := backoff.WithContext(newEffectBackoff(), ctx)
	return backoff.Retry(func() error {
		return e.Run(ctx)
	}, bo)
}

func newEffectBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoff.DefaultInitialInterval
	return backoff.WithMaxRetries(bo, 4)
}
