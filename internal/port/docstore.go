// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations. The central port is Store: the remote
// document database contract the repositories and the synchronized store are
// written against. It is always injected at construction, never a
// process-wide singleton, so tests can substitute the in-memory adapter.
package port

import "context"

// Document is one remote document: its store-assigned ID plus a flat field
// map. Adapters keep native Go values (float64, string, bool, time.Time) in
// Data where they can; repositories tolerate missing or mistyped fields
// when decoding.
type Document struct {
	ID   string
	Data map[string]any
}

// Filter is a single field equality constraint. Equality is the only
// operator the data layer needs.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of one collection under one owner, optionally
// filtered and ordered.
type Query struct {
	Owner      string
	Collection string
	Filters    []Filter
	OrderBy    string // empty means store order
	Descending bool
}

// Tx is the read/write surface inside one atomic unit. All reads observe a
// consistent view; staged writes apply only if the unit commits.
type Tx interface {
	Get(collection, id string) (*Document, error)
	Set(collection, id string, data map[string]any)
	Update(collection, id string, fields map[string]any)
	Delete(collection, id string)
	// NewID returns a fresh document ID usable in Set before commit.
	NewID() string
}

// Batch stages unconditional multi-document writes applied atomically on
// commit. Unlike Tx it performs no reads and never conflicts.
type Batch interface {
	Set(collection, id string, data map[string]any)
	Update(collection, id string, fields map[string]any)
	Delete(collection, id string)
}

// Subscription is a live query: Snapshots delivers the full ordered
// materialization of the collection each time it changes, Errors delivers
// subscription failures without tearing down sibling subscriptions, and
// Close cancels delivery immediately.
type Subscription interface {
	Snapshots() <-chan []Document
	Errors() <-chan error
	Close()
}

// Store is the remote document database contract.
//
// RunAtomic executes fn as one atomic unit: all reads and staged writes are
// applied indivisibly relative to other units touching the same documents.
// Implementations retry fn on concurrency conflicts; any other error returned
// by fn aborts the unit immediately and is propagated unchanged. When the
// retry budget is exhausted the store returns *domain.ErrConcurrencyConflict.
//
// RunBatch applies the staged writes as one unconditional atomic write.
type Store interface {
	Get(ctx context.Context, owner, collection, id string) (*Document, error)
	Add(ctx context.Context, owner, collection string, data map[string]any) (string, error)
	Update(ctx context.Context, owner, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, owner, collection, id string) error
	Find(ctx context.Context, q Query) ([]Document, error)
	RunAtomic(ctx context.Context, owner string, fn func(tx Tx) error) error
	RunBatch(ctx context.Context, owner string, fn func(b Batch)) error
	Subscribe(ctx context.Context, q Query) (Subscription, error)
}
