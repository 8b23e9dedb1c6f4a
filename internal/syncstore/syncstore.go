// Package syncstore maintains the live, in-memory view of one identity's
// four collections. It owns the subscriptions against the remote document
// store, merges each incoming snapshot by full replacement, and exposes
// read-only copies to consumers. Consumers never mutate the collections:
// mutations go through the repositories, reach the remote store, and arrive
// back here through the same subscription channel.
package syncstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/infra/observability"
	"github.com/evvofinance/evvo-sync-go/internal/port"
	"github.com/evvofinance/evvo-sync-go/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SyncedStore tracks the remote collections for exactly one active identity
// at a time.
type SyncedStore struct {
	store   port.Store
	metrics *observability.Metrics
	logger  *zap.Logger

	// lifecycle serializes Activate/Deactivate.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	group     *errgroup.Group

	mu           sync.RWMutex
	owner        string
	wallets      []domain.Wallet
	transactions []domain.Transaction
	goals        []domain.Goal
	debts        []domain.Debt

	// one persistent, buffered error channel per collection; a failing
	// subscription reports here without tearing down its siblings.
	errs map[string]chan error
}

// New creates an inactive synchronized store.
func New(store port.Store, metrics *observability.Metrics, logger *zap.Logger) *SyncedStore {
	errs := make(map[string]chan error, 4)
	for _, c := range collections() {
		errs[c] = make(chan error, 8)
	}
	return &SyncedStore{
		store:   store,
		metrics: metrics,
		logger:  logger,
		errs:    errs,
	}
}

func collections() []string {
	return []string{
		repository.CollectionWallets,
		repository.CollectionTransactions,
		repository.CollectionGoals,
		repository.CollectionDebts,
	}
}

// queryFor returns the live query for one collection: wallets ascending by
// order, transactions descending by date, goals ascending by name, debts in
// store order.
func queryFor(owner, collection string) port.Query {
	q := port.Query{Owner: owner, Collection: collection}
	switch collection {
	case repository.CollectionWallets:
		q.OrderBy = "order"
	case repository.CollectionTransactions:
		q.OrderBy = "date"
		q.Descending = true
	case repository.CollectionGoals:
		q.OrderBy = "name"
	}
	return q
}

// Activate opens one subscription per collection, scoped to the identity's
// namespace. It fails if the store is already active; Deactivate must run
// first when switching identities.
func (s *SyncedStore) Activate(ctx context.Context, owner string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("synchronized store already active for %q: deactivate first", s.owner)
	}
	if owner == "" {
		return &domain.ErrValidation{Field: "identity", Message: "identity is required"}
	}

	subCtx, cancel := context.WithCancel(ctx)
	subs := make(map[string]port.Subscription, 4)
	for _, c := range collections() {
		sub, err := s.store.Subscribe(subCtx, queryFor(owner, c))
		if err != nil {
			for _, opened := range subs {
				opened.Close()
			}
			cancel()
			return fmt.Errorf("subscribe %s: %w", c, err)
		}
		subs[c] = sub
	}

	s.mu.Lock()
	s.owner = owner
	s.mu.Unlock()

	g := new(errgroup.Group)
	for _, c := range collections() {
		collection, sub := c, subs[c]
		g.Go(func() error {
			s.pump(subCtx, collection, sub)
			return nil
		})
	}
	s.cancel = cancel
	s.group = g

	s.logger.Info("synchronized store activated", zap.String("owner", owner))
	return nil
}

// Deactivate closes all four subscriptions and clears all four collections.
// The clear completes before Deactivate returns, so a consumer can never see
// one identity's data after a switch. Safe to call when already inactive.
func (s *SyncedStore) Deactivate() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancel == nil {
		return
	}
	owner := s.Owner()
	s.cancel()
	s.group.Wait() //nolint:errcheck // pumps never return errors
	s.cancel = nil
	s.group = nil

	s.mu.Lock()
	s.owner = ""
	s.wallets = nil
	s.transactions = nil
	s.goals = nil
	s.debts = nil
	s.mu.Unlock()

	// Pumps are stopped, so undelivered errors belong to the identity that
	// just left. Drain them before the next identity can subscribe.
	for _, ch := range s.errs {
		for len(ch) > 0 {
			<-ch
		}
	}

	s.logger.Info("synchronized store deactivated", zap.String("owner", owner))
}

// Run drives the store from the identity-changed stream until ctx ends:
// signed in → (re)activate for that identity, signed out → deactivate.
func (s *SyncedStore) Run(ctx context.Context, events <-chan port.IdentityEvent) {
	for {
		select {
		case <-ctx.Done():
			s.Deactivate()
			return
		case ev, ok := <-events:
			if !ok {
				s.Deactivate()
				return
			}
			s.Deactivate()
			if ev.UID == "" {
				continue
			}
			if err := s.Activate(ctx, ev.UID); err != nil {
				s.logger.Error("activation failed",
					zap.String("owner", ev.UID),
					zap.Error(err),
				)
			}
		}
	}
}

// pump merges one subscription's snapshots until the subscription ends or
// ctx is cancelled. Errors are forwarded to this collection's error channel
// only; sibling subscriptions keep running.
func (s *SyncedStore) pump(ctx context.Context, collection string, sub port.Subscription) {
	defer sub.Close()

	snaps := sub.Snapshots()
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			s.apply(collection, snap)
			s.metrics.IncrSnapshotApplied(collection)
		case err, ok := <-errs:
			if !ok {
				errs = nil // channel closed; keep draining snapshots
				continue
			}
			s.metrics.IncrSubscriptionError(collection)
			s.logger.Warn("subscription error",
				zap.String("collection", collection),
				zap.Error(err),
			)
			select {
			case s.errs[collection] <- err:
			default: // consumer not keeping up; drop rather than block the pump
			}
		}
	}
}

// apply fully replaces the collection's in-memory state with the snapshot.
// The store always holds a complete view as of the last snapshot, never a
// partial merge.
func (s *SyncedStore) apply(collection string, snap []port.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch collection {
	case repository.CollectionWallets:
		out := make([]domain.Wallet, 0, len(snap))
		for _, d := range snap {
			out = append(out, repository.DecodeWallet(d))
		}
		s.wallets = out
	case repository.CollectionTransactions:
		out := make([]domain.Transaction, 0, len(snap))
		for _, d := range snap {
			out = append(out, repository.DecodeTransaction(d))
		}
		s.transactions = out
	case repository.CollectionGoals:
		out := make([]domain.Goal, 0, len(snap))
		for _, d := range snap {
			out = append(out, repository.DecodeGoal(d))
		}
		s.goals = out
	case repository.CollectionDebts:
		out := make([]domain.Debt, 0, len(snap))
		for _, d := range snap {
			out = append(out, repository.DecodeDebt(d))
		}
		s.debts = out
	}
}

// Owner returns the active identity, or "" when inactive.
func (s *SyncedStore) Owner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

// Wallets returns a copy of the wallet collection, ascending by order.
func (s *SyncedStore) Wallets() []domain.Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Wallet, len(s.wallets))
	copy(out, s.wallets)
	return out
}

// Transactions returns a copy of the transaction collection, newest first.
func (s *SyncedStore) Transactions() []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Transaction, len(s.transactions))
	copy(out, s.transactions)
	return out
}

// Goals returns a copy of the goal collection, ascending by name.
func (s *SyncedStore) Goals() []domain.Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Goal, len(s.goals))
	copy(out, s.goals)
	return out
}

// Debts returns a copy of the debt collection in store order; presentation
// may re-sort.
func (s *SyncedStore) Debts() []domain.Debt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Debt, len(s.debts))
	copy(out, s.debts)
	return out
}

// Errors returns the persistent error channel for one collection.
func (s *SyncedStore) Errors(collection string) <-chan error {
	return s.errs[collection]
}
