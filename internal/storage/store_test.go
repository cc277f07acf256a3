package storage

import (
	"context"
	"path/filepath"
	"testing"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/event"
	"marketplace_go/internal/market"
	"marketplace_go/pkg/quant"
)

func newTestStore(t *testing.T) *EventStore {
	t.Helper()
	store, err := NewEventStore(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEventStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var seller, asset, mkt domain.Pubkey
	seller[0], asset[0], mkt[0] = 1, 2, 3

	ev1 := &event.DepositEvent{
		BaseEvent: event.BaseEvent{Seq: 1, Ts: quant.TimeStamp(1000), Signer: seller, Nonce: 1},
		To:        seller,
		Amount:    5_000_000_000,
	}
	ev2 := &event.ListEvent{
		BaseEvent: event.BaseEvent{Seq: 2, Ts: quant.TimeStamp(2000), Signer: seller, Nonce: 2},
		ListArgs:  market.ListArgs{Marketplace: mkt, Asset: asset, Price: 1000},
	}

	if err := store.SaveEvent(ctx, ev1); err != nil {
		t.Fatalf("Failed to save ev1: %v", err)
	}
	if err := store.SaveEvent(ctx, ev2); err != nil {
		t.Fatalf("Failed to save ev2: %v", err)
	}

	loaded, err := store.LoadEvents(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to load events: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(loaded))
	}

	dep, ok := loaded[0].(*event.DepositEvent)
	if !ok || dep.Amount != 5_000_000_000 || dep.Signer != seller {
		t.Errorf("Event 1 mismatch: %+v", loaded[0])
	}
	list, ok := loaded[1].(*event.ListEvent)
	if !ok || *list != *ev2 {
		t.Errorf("Event 2 mismatch: %+v", loaded[1])
	}

	tail, err := store.LoadEvents(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 1 || tail[0].GetSeq() != 2 {
		t.Errorf("LoadEvents(2) returned %d events", len(tail))
	}
}

func TestEventStore_DuplicateSeqRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := &event.DelistEvent{BaseEvent: event.BaseEvent{Seq: 1}}
	if err := store.SaveEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveEvent(ctx, ev); err == nil {
		t.Error("expected error on duplicate sequence number")
	}
}

func TestEventStore_GetLastSeq(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lastSeq, err := store.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("GetLastSeq failed: %v", err)
	}
	if lastSeq != 0 {
		t.Errorf("Expected 0 for empty DB, got %d", lastSeq)
	}

	for _, seq := range []uint64{5, 10} {
		ev := &event.PurchaseEvent{BaseEvent: event.BaseEvent{Seq: seq, Ts: quant.TimeStamp(seq)}}
		if err := store.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("Failed to save event: %v", err)
		}
	}

	lastSeq, err = store.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("GetLastSeq failed: %v", err)
	}
	if lastSeq != 10 {
		t.Errorf("Expected 10, got %d", lastSeq)
	}
}

func TestEventStore_Metadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if v, err := store.GetMetadata(ctx, "missing"); err != nil || v != "" {
		t.Errorf("GetMetadata(missing) = %q, %v", v, err)
	}
	if err := store.UpsertMetadata(ctx, "snapshot_seq", "10", 1); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertMetadata(ctx, "snapshot_seq", "20", 2); err != nil {
		t.Fatal(err)
	}
	if v, _ := store.GetMetadata(ctx, "snapshot_seq"); v != "20" {
		t.Errorf("expected 20, got %q", v)
	}
}
