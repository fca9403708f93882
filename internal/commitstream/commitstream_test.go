package commitstream

import (
	"context"
	"testing"
	"time"

	"github.com/lixdb/lix/internal/changestore"
)

func TestSubscribeReceivesMatchingBatch(t *testing.T) {
	h := NewHub()
	stream := h.Subscribe(Filter{SchemaKeys: []string{"lix_key_value"}})
	defer stream.Close()

	h.Publish("c1", "v1", []changestore.Change{{EntityID: "/theme", SchemaKey: "lix_key_value"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, ok, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !ok || batch.CommitID != "c1" {
		t.Fatalf("expected batch c1, got %+v ok=%v", batch, ok)
	}
}

func TestSubscribeIgnoresNonMatchingSchema(t *testing.T) {
	h := NewHub()
	stream := h.Subscribe(Filter{SchemaKeys: []string{"lix_directory"}})
	defer stream.Close()

	h.Publish("c1", "v1", []changestore.Change{{EntityID: "/theme", SchemaKey: "lix_key_value"}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok, err := stream.Next(ctx)
	if err == nil && ok {
		t.Fatal("expected no matching batch to be delivered")
	}
}

func TestFilterExcludesOwnWriterKey(t *testing.T) {
	h := NewHub()
	stream := h.Subscribe(Filter{WriterKeys: []string{"me"}})
	defer stream.Close()

	h.Publish("c1", "v1", []changestore.Change{{EntityID: "/theme", SchemaKey: "lix_key_value", WriterKey: "me"}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok, err := stream.Next(ctx)
	if err == nil && ok {
		t.Fatal("expected change authored by excluded writer key to be filtered out")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	h := NewHub()
	stream := h.Subscribe(Filter{})
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	h.Publish("c1", "v1", []changestore.Change{{EntityID: "/theme", SchemaKey: "lix_key_value"}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok, _ := stream.Next(ctx)
	if ok {
		t.Fatal("expected no delivery after Close")
	}
}
