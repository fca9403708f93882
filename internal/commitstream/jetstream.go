package commitstream

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/nats-io/nats.go"
)

// JetStream fan-out is optional: Lix is an embeddable engine, not a
// distributed daemon, so no JetStream connection is required by default.
// Hosts that want commit batches fanned out to other processes can inject a
// JetStreamContext, preserving eventbus.Bus's SetJetStream/JetStreamEnabled
// pattern as an opt-in post-commit effect instead of a mandatory dependency.
type jetStreamConfig struct {
	mu      sync.RWMutex
	js      nats.JetStreamContext
	subject string
}

// SetJetStream attaches a JetStream context; Publish will additionally
// publish every batch to subject (fire-and-forget, mirroring
// eventbus.Bus.publishToJetStream's best-effort semantics).
func (h *Hub) SetJetStream(js nats.JetStreamContext, subject string) {
	h.js.mu.Lock()
	defer h.js.mu.Unlock()
	h.js.js = js
	h.js.subject = subject
}

// JetStreamEnabled reports whether a JetStream context is attached.
func (h *Hub) JetStreamEnabled() bool {
	h.js.mu.RLock()
	defer h.js.mu.RUnlock()
	return h.js.js != nil
}

// publishToJetStream mirrors eventbus.Bus.publishToJetStream: errors are
// logged, never propagated, since JetStream fan-out is supplementary to the
// in-process Hub dispatch that already happened.
func (h *Hub) publishToJetStream(batch Batch) {
	h.js.mu.RLock()
	js, subject := h.js.js, h.js.subject
	h.js.mu.RUnlock()
	if js == nil {
		return
	}
	data, err := json.Marshal(batch)
	if err != nil {
		log.Printf("commitstream: failed to marshal batch %s for JetStream: %v", batch.CommitID, err)
		return
	}
	if _, err := js.Publish(subject, data); err != nil {
		log.Printf("commitstream: JetStream publish to %s failed: %v", subject, err)
	}
}
