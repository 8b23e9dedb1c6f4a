package syncstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/infra/docstore/memory"
	"github.com/evvofinance/evvo-sync-go/internal/infra/observability"
	"github.com/evvofinance/evvo-sync-go/internal/port"
	"github.com/evvofinance/evvo-sync-go/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSynced(store port.Store) *SyncedStore {
	return New(store, observability.NewMetrics(), zap.NewNop())
}

// eventually polls cond until it holds or the deadline passes. Snapshot
// delivery is asynchronous, so assertions on synced state go through here.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func seedWallet(t *testing.T, store port.Store, owner, name string, order int) string {
	t.Helper()
	id, err := store.Add(context.Background(), owner, repository.CollectionWallets, map[string]any{
		"name": name, "balance": 100.0, "icon": "cash", "order": order,
	})
	require.NoError(t, err)
	return id
}

func TestActivate_PopulatesAllCollections(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	const owner = "user-1"

	seedWallet(t, store, owner, "Bank", 1)
	seedWallet(t, store, owner, "Cash", 0)
	_, err := store.Add(ctx, owner, repository.CollectionTransactions, map[string]any{
		"type": "expense", "amount": 25.0, "category": "Food",
		"date": time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), "walletId": "w", "walletName": "Cash",
	})
	require.NoError(t, err)
	_, err = store.Add(ctx, owner, repository.CollectionTransactions, map[string]any{
		"type": "income", "amount": 50.0, "category": "Salary",
		"date": time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), "walletId": "w", "walletName": "Cash",
	})
	require.NoError(t, err)
	_, err = store.Add(ctx, owner, repository.CollectionGoals, map[string]any{
		"name": "Trip", "targetAmount": 900.0, "currentAmount": 0.0,
	})
	require.NoError(t, err)
	_, err = store.Add(ctx, owner, repository.CollectionDebts, map[string]any{
		"type": "payable", "person": "Ana", "amount": 40.0, "status": "unpaid",
	})
	require.NoError(t, err)

	s := newSynced(store)
	require.NoError(t, s.Activate(ctx, owner))
	defer s.Deactivate()

	eventually(t, func() bool {
		return len(s.Wallets()) == 2 && len(s.Transactions()) == 2 &&
			len(s.Goals()) == 1 && len(s.Debts()) == 1
	})

	wallets := s.Wallets()
	require.Equal(t, "Cash", wallets[0].Name, "wallets sorted ascending by order")
	require.Equal(t, "Bank", wallets[1].Name)

	txs := s.Transactions()
	require.Equal(t, "Salary", txs[0].Category, "transactions sorted newest first")
	require.Equal(t, "Food", txs[1].Category)

	require.Equal(t, owner, s.Owner())
}

func TestActivate_SeesLiveWrites(t *testing.T) {
	store := memory.New()
	const owner = "user-1"

	s := newSynced(store)
	require.NoError(t, s.Activate(context.Background(), owner))
	defer s.Deactivate()

	seedWallet(t, store, owner, "Savings", 0)
	eventually(t, func() bool {
		w := s.Wallets()
		return len(w) == 1 && w[0].Name == "Savings"
	})
}

func TestActivate_FailsWhenAlreadyActive(t *testing.T) {
	s := newSynced(memory.New())
	require.NoError(t, s.Activate(context.Background(), "user-1"))
	defer s.Deactivate()

	require.Error(t, s.Activate(context.Background(), "user-2"))
	require.Equal(t, "user-1", s.Owner())
}

func TestDeactivate_ClearsBeforeReturning(t *testing.T) {
	store := memory.New()
	const owner = "user-1"
	seedWallet(t, store, owner, "Cash", 0)

	s := newSynced(store)
	require.NoError(t, s.Activate(context.Background(), owner))
	eventually(t, func() bool { return len(s.Wallets()) == 1 })

	s.Deactivate()

	// No polling here: the contract is that the clear has already happened.
	require.Empty(t, s.Wallets())
	require.Empty(t, s.Transactions())
	require.Empty(t, s.Goals())
	require.Empty(t, s.Debts())
	require.Equal(t, "", s.Owner())

	// Idempotent.
	s.Deactivate()
}

func TestRun_SwitchesIdentitiesWithoutLeaking(t *testing.T) {
	store := memory.New()
	seedWallet(t, store, "alice", "Alice Cash", 0)
	seedWallet(t, store, "bob", "Bob Bank", 0)

	s := newSynced(store)
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan port.IdentityEvent)
	done := make(chan struct{})
	go func() {
		s.Run(ctx, events)
		close(done)
	}()

	events <- port.IdentityEvent{UID: "alice"}
	eventually(t, func() bool {
		w := s.Wallets()
		return len(w) == 1 && w[0].Name == "Alice Cash"
	})

	events <- port.IdentityEvent{UID: "bob"}
	eventually(t, func() bool {
		w := s.Wallets()
		return s.Owner() == "bob" && len(w) == 1 && w[0].Name == "Bob Bank"
	})

	events <- port.IdentityEvent{} // signed out
	eventually(t, func() bool { return s.Owner() == "" && len(s.Wallets()) == 0 })

	cancel()
	<-done
}

// --- error isolation ---

// scriptedStore hands out subscriptions whose channels the test drives
// directly. Only Subscribe is exercised by the synchronized store.
type scriptedStore struct {
	mu   sync.Mutex
	subs map[string]*scriptedSub
}

type scriptedSub struct {
	snaps chan []port.Document
	errs  chan error
	once  sync.Once
}

func (s *scriptedSub) Snapshots() <-chan []port.Document { return s.snaps }
func (s *scriptedSub) Errors() <-chan error              { return s.errs }
func (s *scriptedSub) Close() {
	s.once.Do(func() {
		close(s.snaps)
		close(s.errs)
	})
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{subs: make(map[string]*scriptedSub)}
}

func (s *scriptedStore) Subscribe(_ context.Context, q port.Query) (port.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &scriptedSub{
		snaps: make(chan []port.Document, 4),
		errs:  make(chan error, 4),
	}
	s.subs[q.Collection] = sub
	return sub, nil
}

func (s *scriptedStore) sub(collection string) *scriptedSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[collection]
}

func (s *scriptedStore) Get(context.Context, string, string, string) (*port.Document, error) {
	return nil, &domain.ErrNotFound{Resource: "document"}
}
func (s *scriptedStore) Add(context.Context, string, string, map[string]any) (string, error) {
	return "", nil
}
func (s *scriptedStore) Update(context.Context, string, string, string, map[string]any) error {
	return nil
}
func (s *scriptedStore) Delete(context.Context, string, string, string) error { return nil }
func (s *scriptedStore) Find(context.Context, port.Query) ([]port.Document, error) {
	return nil, nil
}
func (s *scriptedStore) RunAtomic(context.Context, string, func(port.Tx) error) error { return nil }
func (s *scriptedStore) RunBatch(context.Context, string, func(port.Batch)) error     { return nil }

func TestSubscriptionError_IsIsolatedPerCollection(t *testing.T) {
	store := newScriptedStore()
	s := newSynced(store)
	require.NoError(t, s.Activate(context.Background(), "user-1"))
	defer s.Deactivate()

	// Transactions stream fails...
	streamErr := errors.New("stream reset")
	store.sub(repository.CollectionTransactions).errs <- streamErr

	select {
	case got := <-s.Errors(repository.CollectionTransactions):
		require.ErrorIs(t, got, streamErr)
	case <-time.After(2 * time.Second):
		t.Fatal("expected error on the transactions channel")
	}

	// ...while the wallets stream keeps applying snapshots.
	store.sub(repository.CollectionWallets).snaps <- []port.Document{
		{ID: "w1", Data: map[string]any{"name": "Cash", "balance": 10.0, "icon": "cash", "order": 0}},
	}
	eventually(t, func() bool {
		w := s.Wallets()
		return len(w) == 1 && w[0].Name == "Cash"
	})

	// Nothing leaked onto the other collections' error channels.
	select {
	case err := <-s.Errors(repository.CollectionWallets):
		t.Fatalf("unexpected wallets error: %v", err)
	default:
	}
}

func TestDeactivate_DrainsUndeliveredErrors(t *testing.T) {
	store := newScriptedStore()
	s := newSynced(store)
	require.NoError(t, s.Activate(context.Background(), "user-1"))

	// An error buffered for user-1 that no consumer ever picks up.
	store.sub(repository.CollectionTransactions).errs <- errors.New("stream reset")
	eventually(t, func() bool {
		return len(s.Errors(repository.CollectionTransactions)) > 0
	})

	s.Deactivate()
	require.NoError(t, s.Activate(context.Background(), "user-2"))
	defer s.Deactivate()

	// user-2 must not receive user-1's stale error.
	select {
	case err := <-s.Errors(repository.CollectionTransactions):
		t.Fatalf("stale error crossed an identity switch: %v", err)
	default:
	}
}
