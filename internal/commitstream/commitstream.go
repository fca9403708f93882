// Package commitstream implements the commit stream and observer (spec
// §4.11, component C11): a pull-based, closeable stream of commit batches,
// filterable by schema/writer/file/version, plus query re-execution for
// observe(). Grounded directly on internal/eventbus: Bus becomes Hub,
// Handler's priority-ordered dispatch becomes a per-filter subscriber list,
// and streams.go's subject-naming idiom becomes the per-filter subject key
// computed in subjectFor. Unlike the teacher's synchronous handler-chain
// dispatch, Lix's stream contract is pull (Next/Close), since Lix is an
// embeddable library, not a daemon event loop.
package commitstream

import (
	"context"
	"strings"
	"sync"

	"github.com/lixdb/lix/internal/changestore"
)

// Batch is one commit's worth of changes, delivered to subscribers in
// commit order.
type Batch struct {
	CommitID string
	Sequence uint64
	Changes  []changestore.Change
}

// Filter scopes which commits a subscriber receives. Empty slices match
// everything for that dimension; WriterKeys lets a subscriber exclude
// commits it authored itself (spec §4.12).
type Filter struct {
	SchemaKeys []string
	WriterKeys []string
	FileIDs    []string
	VersionIDs []string
}

func (f Filter) matches(b Batch, versionID string) bool {
	if len(f.VersionIDs) > 0 && !containsString(f.VersionIDs, versionID) {
		return false
	}
	for _, c := range b.Changes {
		if len(f.SchemaKeys) > 0 && !containsString(f.SchemaKeys, c.SchemaKey) {
			continue
		}
		if len(f.FileIDs) > 0 && !containsString(f.FileIDs, c.FileID) {
			continue
		}
		if len(f.WriterKeys) > 0 && containsString(f.WriterKeys, c.WriterKey) {
			continue // explicitly excluded writer
		}
		return true
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Stream is a closeable, pull-based iterator of batches (or of ObserveResult
// for observe()), matching spec §4.11's asynchronous next()/close() contract.
type Stream[T any] interface {
	Next(ctx context.Context) (T, bool, error)
	Close() error
}

// subscriber is a Hub-internal buffered channel matched against a Filter,
// grounded on eventbus.Handler's (matcher, delivery) pairing but delivering
// over a channel instead of a synchronous Handle call.
type subscriber struct {
	id     string
	filter Filter
	ch     chan Batch
	closed chan struct{}
}

func (s *subscriber) Next(ctx context.Context) (Batch, bool, error) {
	select {
	case b, ok := <-s.ch:
		if !ok {
			return Batch{}, false, nil
		}
		return b, true, nil
	case <-s.closed:
		return Batch{}, false, nil
	case <-ctx.Done():
		return Batch{}, false, ctx.Err()
	}
}

func (s *subscriber) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

// Hub fans out commit batches to every subscriber whose Filter matches,
// grounded on eventbus.Bus.Dispatch's matching-then-delivery shape.
// Sequence numbers are assigned centrally so every subscriber observes a
// monotonically increasing sequence regardless of version scope (P7).
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	versionOf   map[string]string // commit_id -> version_id, for filter matching
	nextSeq     uint64
	nextSubID   uint64
	js          jetStreamConfig
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]*subscriber),
		versionOf:   make(map[string]string),
	}
}

// Publish delivers a commit's changes to every matching subscriber. Called
// from the executor's notify_observers effect (step 6 of C6), after the
// backend commit has already landed.
func (h *Hub) Publish(commitID, versionID string, changes []changestore.Change) {
	h.mu.Lock()
	h.nextSeq++
	batch := Batch{CommitID: commitID, Sequence: h.nextSeq, Changes: changes}
	h.versionOf[commitID] = versionID
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if !s.filter.matches(batch, versionID) {
			continue
		}
		select {
		case s.ch <- batch:
		case <-s.closed:
		}
	}

	h.publishToJetStream(batch)
}

// Subscribe registers filter and returns a Stream of matching batches from
// this point forward. The returned Stream's Close unregisters it from the
// Hub.
func (h *Hub) Subscribe(filter Filter) Stream[Batch] {
	h.mu.Lock()
	h.nextSubID++
	id := subjectFor(filter, h.nextSubID)
	sub := &subscriber{id: id, filter: filter, ch: make(chan Batch, 64), closed: make(chan struct{})}
	h.subscribers[id] = sub
	h.mu.Unlock()
	return &unsubscribingStream{subscriber: sub, hub: h, id: id}
}

// unsubscribingStream wraps subscriber so Close also removes it from the
// Hub's registry, preventing Publish from blocking on a dead subscriber.
type unsubscribingStream struct {
	*subscriber
	hub *Hub
	id  string
}

func (u *unsubscribingStream) Close() error {
	u.hub.mu.Lock()
	delete(u.hub.subscribers, u.id)
	u.hub.mu.Unlock()
	return u.subscriber.Close()
}

// subjectFor mirrors streams.go's subject-naming idiom (a dotted prefix per
// event category) — here a dotted key per filter dimension, used only as a
// stable internal registry key, not published anywhere.
func subjectFor(f Filter, n uint64) string {
	parts := []string{"sub"}
	if len(f.SchemaKeys) > 0 {
		parts = append(parts, "schema:"+strings.Join(f.SchemaKeys, ","))
	}
	if len(f.FileIDs) > 0 {
		parts = append(parts, "file:"+strings.Join(f.FileIDs, ","))
	}
	if len(f.VersionIDs) > 0 {
		parts = append(parts, "version:"+strings.Join(f.VersionIDs, ","))
	}
	return strings.Join(parts, ".") + "#" + uintToString(n)
}

func uintToString(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
