package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/infra/docstore/memory"
	"github.com/evvofinance/evvo-sync-go/internal/port"
)

const owner = "user-1"

func TestStore_AddGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	id, err := s.Add(ctx, owner, "wallets", map[string]any{"name": "Cash", "balance": 100.0})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	doc, err := s.Get(ctx, owner, "wallets", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Data["name"] != "Cash" {
		t.Errorf("expected name 'Cash', got %v", doc.Data["name"])
	}

	if err := s.Update(ctx, owner, "wallets", id, map[string]any{"balance": 60.0}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, _ = s.Get(ctx, owner, "wallets", id)
	if doc.Data["balance"] != 60.0 {
		t.Errorf("expected balance 60, got %v", doc.Data["balance"])
	}

	if err := s.Delete(ctx, owner, "wallets", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = s.Get(ctx, owner, "wallets", id)
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_FindOrdering(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	for i, name := range []string{"b", "c", "a"} {
		if _, err := s.Add(ctx, owner, "goals", map[string]any{"name": name, "order": i}); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := s.Find(ctx, port.Query{Owner: owner, Collection: "goals", OrderBy: "name"})
	if err != nil {
		t.Fatal(err)
	}
	got := []string{}
	for _, d := range docs {
		got = append(got, d.Data["name"].(string))
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ascending order mismatch: got %v", got)
		}
	}

	docs, _ = s.Find(ctx, port.Query{Owner: owner, Collection: "goals", OrderBy: "name", Descending: true})
	if docs[0].Data["name"] != "c" {
		t.Errorf("expected descending order to start with 'c', got %v", docs[0].Data["name"])
	}
}

func TestStore_RunAtomic_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	id, _ := s.Add(ctx, owner, "wallets", map[string]any{"balance": 100.0})

	err := s.RunAtomic(ctx, owner, func(tx port.Tx) error {
		tx.Update("wallets", id, map[string]any{"balance": 40.0})
		tx.Set("transactions", tx.NewID(), map[string]any{"amount": 60.0})
		return errors.New("abort")
	})
	if err == nil || err.Error() != "abort" {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}

	doc, _ := s.Get(ctx, owner, "wallets", id)
	if doc.Data["balance"] != 100.0 {
		t.Errorf("aborted unit must not write: balance = %v", doc.Data["balance"])
	}
	docs, _ := s.Find(ctx, port.Query{Owner: owner, Collection: "transactions"})
	if len(docs) != 0 {
		t.Errorf("aborted unit must not create documents, found %d", len(docs))
	}
}

func TestStore_RunBatch_UpdateMissingFailsWhole(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	id, _ := s.Add(ctx, owner, "wallets", map[string]any{"order": 0})

	err := s.RunBatch(ctx, owner, func(b port.Batch) {
		b.Update("wallets", id, map[string]any{"order": 1})
		b.Update("wallets", "missing", map[string]any{"order": 0})
	})
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	doc, _ := s.Get(ctx, owner, "wallets", id)
	if doc.Data["order"] != 0 {
		t.Errorf("failed batch must not apply partially: order = %v", doc.Data["order"])
	}
}

func TestStore_Subscribe_DeliversSnapshots(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	sub, err := s.Subscribe(ctx, port.Query{Owner: owner, Collection: "debts"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	snap := waitSnapshot(t, sub)
	if len(snap) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d docs", len(snap))
	}

	if _, err := s.Add(ctx, owner, "debts", map[string]any{"person": "Ana"}); err != nil {
		t.Fatal(err)
	}
	snap = waitSnapshot(t, sub)
	if len(snap) != 1 || snap[0].Data["person"] != "Ana" {
		t.Fatalf("expected snapshot with Ana, got %v", snap)
	}
}

func TestStore_Subscribe_OtherOwnerInvisible(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	sub, _ := s.Subscribe(ctx, port.Query{Owner: owner, Collection: "debts"})
	defer sub.Close()
	waitSnapshot(t, sub)

	if _, err := s.Add(ctx, "intruder", "debts", map[string]any{"person": "Eve"}); err != nil {
		t.Fatal(err)
	}

	select {
	case snap := <-sub.Snapshots():
		if len(snap) != 0 {
			t.Fatalf("another owner's write leaked into the snapshot: %v", snap)
		}
	case <-time.After(50 * time.Millisecond):
		// no snapshot for foreign writes is also acceptable
	}
}

func TestStore_Subscribe_CloseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	sub, _ := s.Subscribe(ctx, port.Query{Owner: owner, Collection: "goals"})
	waitSnapshot(t, sub)
	sub.Close()

	if _, err := s.Add(ctx, owner, "goals", map[string]any{"name": "trip"}); err != nil {
		t.Fatal(err)
	}

	if _, ok := <-sub.Snapshots(); ok {
		t.Fatal("expected snapshot channel to be closed")
	}
}

func waitSnapshot(t *testing.T, sub port.Subscription) []port.Document {
	t.Helper()
	select {
	case snap := <-sub.Snapshots():
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}
