package mongo

import (
	"context"
	"sync"

	"github.com/evvofinance/evvo-sync-go/internal/port"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// streamSub is a change-stream-driven live query. Each relevant change event
// triggers a full re-materialization of the query, which keeps delivery
// semantics identical across backends: whole ordered snapshots, coalesced.
type streamSub struct {
	snaps  chan []port.Document
	errs   chan error
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (sub *streamSub) Snapshots() <-chan []port.Document { return sub.snaps }
func (sub *streamSub) Errors() <-chan error              { return sub.errs }

func (sub *streamSub) Close() {
	sub.once.Do(func() {
		sub.cancel()
		<-sub.done
	})
}

// Subscribe opens a change stream scoped to the query's owner and collection
// and delivers the current snapshot immediately.
func (s *Store) Subscribe(ctx context.Context, q port.Query) (port.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pipeline := bson.A{bson.D{{Key: "$match", Value: bson.D{
		{Key: "$or", Value: bson.A{
			bson.D{
				{Key: "fullDocument.owner", Value: q.Owner},
				{Key: "fullDocument.collection", Value: q.Collection},
			},
			// Deletes carry no fullDocument; let them through and
			// re-materialize. The query itself scopes the snapshot.
			bson.D{{Key: "operationType", Value: "delete"}},
		}},
	}}}}

	streamCtx, cancel := context.WithCancel(ctx)
	cs, err := s.coll.Watch(streamCtx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &streamSub{
		snaps:  make(chan []port.Document, 1),
		errs:   make(chan error, 4),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.stream(streamCtx, q, cs, sub)
	return sub, nil
}

func (s *Store) stream(ctx context.Context, q port.Query, cs *mongo.ChangeStream, sub *streamSub) {
	defer close(sub.done)
	defer close(sub.snaps)
	defer close(sub.errs)
	defer func() {
		if err := cs.Close(context.Background()); err != nil {
			s.logger.Warn("mongo: change stream close failed", zap.Error(err))
		}
	}()

	// Initial snapshot before any events.
	if !s.materialize(ctx, q, sub) {
		return
	}

	for cs.Next(ctx) {
		if !s.materialize(ctx, q, sub) {
			return
		}
	}
	if err := cs.Err(); err != nil && ctx.Err() == nil {
		select {
		case sub.errs <- err:
		default:
		}
	}
}

func (s *Store) materialize(ctx context.Context, q port.Query, sub *streamSub) bool {
	docs, err := s.find(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		select {
		case sub.errs <- err:
		default:
		}
		return true
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case sub.snaps <- docs:
			return true
		default:
			select {
			case <-sub.snaps: // drop the stale pending snapshot
			default:
			}
		}
	}
}
