package supabase

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/port"
)

// pollSub is a polled live query. PostgREST has no push channel, so the
// subscription re-runs the query on an interval and delivers a snapshot only
// when the result set actually changed.
type pollSub struct {
	snaps  chan []port.Document
	errs   chan error
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (sub *pollSub) Snapshots() <-chan []port.Document { return sub.snaps }
func (sub *pollSub) Errors() <-chan error              { return sub.errs }

// Close stops the poll loop and waits for it to finish, so no snapshot is
// delivered after Close returns.
func (sub *pollSub) Close() {
	sub.once.Do(func() {
		sub.cancel()
		<-sub.done
	})
}

// Subscribe starts a polling live query. The first poll runs immediately so
// activation does not wait a full interval for the initial snapshot.
func (s *Store) Subscribe(ctx context.Context, q port.Query) (port.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pollCtx, cancel := context.WithCancel(ctx)
	sub := &pollSub{
		snaps:  make(chan []port.Document, 1),
		errs:   make(chan error, 4),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.poll(pollCtx, q, sub)
	return sub, nil
}

func (s *Store) poll(ctx context.Context, q port.Query, sub *pollSub) {
	defer close(sub.done)
	defer close(sub.snaps)
	defer close(sub.errs)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var lastHash uint64
	seeded := false
	for {
		docs, err := s.Find(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case sub.errs <- err:
			default: // consumer not draining; newest errors win
			}
		} else {
			h := snapshotHash(docs)
			if !seeded || h != lastHash {
				seeded = true
				lastHash = h
				if !deliver(ctx, sub.snaps, docs) {
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// deliver coalesces: an undelivered pending snapshot is replaced by the
// fresh one. Returns false when ctx ended.
func deliver(ctx context.Context, ch chan []port.Document, docs []port.Document) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ch <- docs:
			return true
		default:
			select {
			case <-ch: // drop the stale pending snapshot
			default:
			}
		}
	}
}

// snapshotHash fingerprints a result set for change suppression.
func snapshotHash(docs []port.Document) uint64 {
	h := fnv.New64a()
	for _, d := range docs {
		h.Write([]byte(d.ID))
		if b, err := json.Marshal(d.Data); err == nil {
			h.Write(b)
		}
		h.Write([]byte{0})
	}
	return h.Sum64()
}
