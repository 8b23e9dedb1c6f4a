// Package memory implements port.Store entirely in process memory.
//
// It is the substitutable fake for the remote document database: the full
// contract is honored — atomic units, atomic batches and live snapshot
// subscriptions — with a single mutex serializing all writers, so atomic
// units never conflict and never need retrying. It doubles as the local
// development backend.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/port"

	"github.com/google/uuid"
)

// Store is an in-memory document store.
type Store struct {
	mu      sync.Mutex
	data    map[string]map[string]map[string]any // owner/collection -> id -> fields
	subs    map[int]*subscription
	nextSub int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		data: make(map[string]map[string]map[string]any),
		subs: make(map[int]*subscription),
	}
}

func key(owner, collection string) string {
	return owner + "/" + collection
}

func cloneFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// --- Single-document operations ---

func (s *Store) Get(ctx context.Context, owner, collection, id string) (*port.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.data[key(owner, collection)][id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: collection, ID: id}
	}
	return &port.Document{ID: id, Data: cloneFields(fields)}, nil
}

func (s *Store) Add(ctx context.Context, owner, collection string, data map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	id := uuid.New().String()
	s.put(owner, collection, id, cloneFields(data))
	s.notifyLocked(owner, collection)
	s.mu.Unlock()
	return id, nil
}

func (s *Store) Update(ctx context.Context, owner, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[key(owner, collection)][id]
	if !ok {
		return &domain.ErrNotFound{Resource: collection, ID: id}
	}
	for k, v := range fields {
		existing[k] = v
	}
	s.notifyLocked(owner, collection)
	return nil
}

func (s *Store) Delete(ctx context.Context, owner, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data[key(owner, collection)], id)
	s.notifyLocked(owner, collection)
	return nil
}

func (s *Store) Find(ctx context.Context, q port.Query) ([]port.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.materializeLocked(q), nil
}

func (s *Store) put(owner, collection, id string, fields map[string]any) {
	k := key(owner, collection)
	if s.data[k] == nil {
		s.data[k] = make(map[string]map[string]any)
	}
	s.data[k][id] = fields
}

// --- Atomic units ---

type stagedWrite struct {
	op         string // "set", "update", "delete"
	collection string
	id         string
	fields     map[string]any
}

type memTx struct {
	store  *Store
	owner  string
	writes []stagedWrite
}

func (t *memTx) Get(collection, id string) (*port.Document, error) {
	fields, ok := t.store.data[key(t.owner, collection)][id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: collection, ID: id}
	}
	return &port.Document{ID: id, Data: cloneFields(fields)}, nil
}

func (t *memTx) Set(collection, id string, data map[string]any) {
	t.writes = append(t.writes, stagedWrite{op: "set", collection: collection, id: id, fields: cloneFields(data)})
}

func (t *memTx) Update(collection, id string, fields map[string]any) {
	t.writes = append(t.writes, stagedWrite{op: "update", collection: collection, id: id, fields: cloneFields(fields)})
}

func (t *memTx) Delete(collection, id string) {
	t.writes = append(t.writes, stagedWrite{op: "delete", collection: collection, id: id})
}

func (t *memTx) NewID() string {
	return uuid.New().String()
}

// RunAtomic serializes on the store mutex: fn reads a consistent view and its
// staged writes apply indivisibly. Errors from fn abort the unit unchanged;
// no retry is ever needed because units cannot interleave.
func (s *Store) RunAtomic(ctx context.Context, owner string, fn func(tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, owner: owner}
	if err := fn(tx); err != nil {
		return err
	}
	return s.applyLocked(owner, tx.writes)
}

type memBatch struct {
	tx *memTx
}

func (b *memBatch) Set(collection, id string, data map[string]any) { b.tx.Set(collection, id, data) }
func (b *memBatch) Update(collection, id string, fields map[string]any) {
	b.tx.Update(collection, id, fields)
}
func (b *memBatch) Delete(collection, id string) { b.tx.Delete(collection, id) }

func (s *Store) RunBatch(ctx context.Context, owner string, fn func(b port.Batch)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, owner: owner}
	fn(&memBatch{tx: tx})
	return s.applyLocked(owner, tx.writes)
}

// applyLocked commits staged writes. An update against a missing document
// fails the whole unit before anything is applied.
func (s *Store) applyLocked(owner string, writes []stagedWrite) error {
	for _, w := range writes {
		if w.op == "update" {
			if _, ok := s.data[key(owner, w.collection)][w.id]; !ok {
				return &domain.ErrNotFound{Resource: w.collection, ID: w.id}
			}
		}
	}

	touched := make(map[string]bool)
	for _, w := range writes {
		switch w.op {
		case "set":
			s.put(owner, w.collection, w.id, w.fields)
		case "update":
			existing := s.data[key(owner, w.collection)][w.id]
			for k, v := range w.fields {
				existing[k] = v
			}
		case "delete":
			delete(s.data[key(owner, w.collection)], w.id)
		}
		touched[w.collection] = true
	}
	for collection := range touched {
		s.notifyLocked(owner, collection)
	}
	return nil
}

// --- Live subscriptions ---

type subscription struct {
	id    int
	q     port.Query
	snaps chan []port.Document
	errs  chan error
	store *Store
	once  sync.Once
}

func (sub *subscription) Snapshots() <-chan []port.Document { return sub.snaps }
func (sub *subscription) Errors() <-chan error              { return sub.errs }

// Close cancels delivery immediately: no further snapshots are sent after it
// returns.
func (sub *subscription) Close() {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.subs, sub.id)
		close(sub.snaps)
		close(sub.errs)
		sub.store.mu.Unlock()
	})
}

// Subscribe registers a live query and delivers the current snapshot
// immediately, then a fresh full snapshot after every committed change to
// the queried collection.
func (s *Store) Subscribe(ctx context.Context, q port.Query) (port.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscription{
		id:    s.nextSub,
		q:     q,
		snaps: make(chan []port.Document, 1),
		errs:  make(chan error, 1),
		store: s,
	}
	s.nextSub++
	s.subs[sub.id] = sub
	deliver(sub, s.materializeLocked(q))
	return sub, nil
}

// notifyLocked pushes fresh snapshots to every subscription watching the
// given owner/collection. Pending undelivered snapshots are coalesced: only
// the latest matters.
func (s *Store) notifyLocked(owner, collection string) {
	for _, sub := range s.subs {
		if sub.q.Owner != owner || sub.q.Collection != collection {
			continue
		}
		deliver(sub, s.materializeLocked(sub.q))
	}
}

func deliver(sub *subscription, snap []port.Document) {
	for {
		select {
		case sub.snaps <- snap:
			return
		default:
			select {
			case <-sub.snaps: // drop the stale pending snapshot
			default:
			}
		}
	}
}

func (s *Store) materializeLocked(q port.Query) []port.Document {
	docs := make([]port.Document, 0)
	for id, fields := range s.data[key(q.Owner, q.Collection)] {
		if !matches(fields, q.Filters) {
			continue
		}
		docs = append(docs, port.Document{ID: id, Data: cloneFields(fields)})
	}
	if q.OrderBy != "" {
		sort.SliceStable(docs, func(i, j int) bool {
			less := compareValues(docs[i].Data[q.OrderBy], docs[j].Data[q.OrderBy]) < 0
			if q.Descending {
				return !less && compareValues(docs[i].Data[q.OrderBy], docs[j].Data[q.OrderBy]) != 0
			}
			return less
		})
	} else {
		// Deterministic iteration for callers and tests.
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	}
	return docs
}

func matches(fields map[string]any, filters []port.Filter) bool {
	for _, f := range filters {
		if compareValues(fields[f.Field], f.Value) != 0 {
			return false
		}
	}
	return true
}

// compareValues orders the field types the data layer stores: numbers,
// strings, times and bools.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		bv, ok := toFloat(b)
		if !ok {
			return -1
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case int:
		return compareValues(float64(av), b)
	case int64:
		return compareValues(float64(av), b)
	case string:
		bv, ok := b.(string)
		if !ok {
			return -1
		}
		return strings.Compare(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return -1
		}
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		}
		return 0
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return -1
		}
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case nil:
		if b == nil {
			return 0
		}
		return -1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
