// Package mongo implements port.Store on MongoDB. Documents live in one
// `documents` collection ({_id, owner, collection, data}); atomic units and
// batches run inside multi-document transactions, and live queries ride the
// collection's change stream. Requires a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/infra/observability"
	"github.com/evvofinance/evvo-sync-go/internal/port"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("docstore/mongo")

const backendLabel = "mongo"

// Store implements port.Store on a MongoDB database.
type Store struct {
	client  *mongo.Client
	coll    *mongo.Collection
	metrics *observability.Metrics
	logger  *zap.Logger
}

// New creates a Mongo-backed store using the given database.
func New(client *mongo.Client, database string, metrics *observability.Metrics, logger *zap.Logger) *Store {
	return &Store{
		client:  client,
		coll:    client.Database(database).Collection("documents"),
		metrics: metrics,
		logger:  logger,
	}
}

func docFilter(owner, collection, id string) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "owner", Value: owner},
		{Key: "collection", Value: collection},
	}
}

// record is the stored shape of one document.
type record struct {
	ID         string `bson:"_id"`
	Owner      string `bson:"owner"`
	Collection string `bson:"collection"`
	Data       bson.M `bson:"data"`
}

func (r record) document() port.Document {
	data := make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		data[k] = normalize(v)
	}
	return port.Document{ID: r.ID, Data: data}
}

// normalize converts driver types back to the plain values repositories
// decode: DateTime to time.Time, int32 to int.
func normalize(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case int32:
		return int(t)
	default:
		return v
	}
}

// ============================================================
// Single-document operations
// ============================================================

func (s *Store) Get(ctx context.Context, owner, collection, id string) (*port.Document, error) {
	ctx, span := tracer.Start(ctx, "MongoStore.Get")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))
	s.metrics.IncrStoreRequest(backendLabel, "get")

	return s.get(ctx, owner, collection, id)
}

func (s *Store) get(ctx context.Context, owner, collection, id string) (*port.Document, error) {
	var r record
	err := s.coll.FindOne(ctx, docFilter(owner, collection, id)).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &domain.ErrNotFound{Resource: collection, ID: id}
	}
	if err != nil {
		s.metrics.IncrStoreError(backendLabel)
		return nil, &domain.ErrExternalService{Service: backendLabel, Err: err}
	}
	doc := r.document()
	return &doc, nil
}

func (s *Store) Add(ctx context.Context, owner, collection string, data map[string]any) (string, error) {
	ctx, span := tracer.Start(ctx, "MongoStore.Add")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))
	s.metrics.IncrStoreRequest(backendLabel, "add")

	id := uuid.New().String()
	_, err := s.coll.InsertOne(ctx, record{ID: id, Owner: owner, Collection: collection, Data: bson.M(data)})
	if err != nil {
		s.metrics.IncrStoreError(backendLabel)
		return "", &domain.ErrExternalService{Service: backendLabel, Err: err}
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, owner, collection, id string, fields map[string]any) error {
	ctx, span := tracer.Start(ctx, "MongoStore.Update")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))
	s.metrics.IncrStoreRequest(backendLabel, "update")

	return s.update(ctx, owner, collection, id, fields)
}

func (s *Store) update(ctx context.Context, owner, collection, id string, fields map[string]any) error {
	set := bson.D{}
	for k, v := range fields {
		set = append(set, bson.E{Key: "data." + k, Value: v})
	}
	res, err := s.coll.UpdateOne(ctx, docFilter(owner, collection, id), bson.D{{Key: "$set", Value: set}})
	if err != nil {
		s.metrics.IncrStoreError(backendLabel)
		return &domain.ErrExternalService{Service: backendLabel, Err: err}
	}
	if res.MatchedCount == 0 {
		return &domain.ErrNotFound{Resource: collection, ID: id}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, owner, collection, id string) error {
	ctx, span := tracer.Start(ctx, "MongoStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))
	s.metrics.IncrStoreRequest(backendLabel, "delete")

	if _, err := s.coll.DeleteOne(ctx, docFilter(owner, collection, id)); err != nil {
		s.metrics.IncrStoreError(backendLabel)
		return &domain.ErrExternalService{Service: backendLabel, Err: err}
	}
	return nil
}

// ============================================================
// Queries
// ============================================================

func queryFilter(q port.Query) bson.D {
	filter := bson.D{
		{Key: "owner", Value: q.Owner},
		{Key: "collection", Value: q.Collection},
	}
	for _, f := range q.Filters {
		filter = append(filter, bson.E{Key: "data." + f.Field, Value: f.Value})
	}
	return filter
}

func (s *Store) Find(ctx context.Context, q port.Query) ([]port.Document, error) {
	ctx, span := tracer.Start(ctx, "MongoStore.Find")
	defer span.End()
	span.SetAttributes(attribute.String("collection", q.Collection))
	s.metrics.IncrStoreRequest(backendLabel, "find")

	return s.find(ctx, q)
}

func (s *Store) find(ctx context.Context, q port.Query) ([]port.Document, error) {
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: "data." + q.OrderBy, Value: dir}})
	} else {
		opts.SetSort(bson.D{{Key: "_id", Value: 1}})
	}

	cursor, err := s.coll.Find(ctx, queryFilter(q), opts)
	if err != nil {
		s.metrics.IncrStoreError(backendLabel)
		return nil, &domain.ErrExternalService{Service: backendLabel, Err: err}
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			s.logger.Warn("mongo: cursor close failed", zap.Error(err))
		}
	}()

	docs := make([]port.Document, 0)
	for cursor.Next(ctx) {
		var r record
		if err := cursor.Decode(&r); err != nil {
			return nil, &domain.ErrExternalService{Service: backendLabel, Err: fmt.Errorf("decode document: %w", err)}
		}
		docs = append(docs, r.document())
	}
	if err := cursor.Err(); err != nil {
		return nil, &domain.ErrExternalService{Service: backendLabel, Err: err}
	}
	return docs, nil
}

// ============================================================
// Atomic units and batches
// ============================================================

type stagedWrite struct {
	op         string // set | update | delete
	collection string
	id         string
	fields     map[string]any
}

type mongoTx struct {
	store  *Store
	ctx    context.Context // session context: reads join the transaction
	owner  string
	writes []stagedWrite
}

func (t *mongoTx) Get(collection, id string) (*port.Document, error) {
	return t.store.get(t.ctx, t.owner, collection, id)
}

func (t *mongoTx) Set(collection, id string, data map[string]any) {
	t.writes = append(t.writes, stagedWrite{op: "set", collection: collection, id: id, fields: data})
}

func (t *mongoTx) Update(collection, id string, fields map[string]any) {
	t.writes = append(t.writes, stagedWrite{op: "update", collection: collection, id: id, fields: fields})
}

func (t *mongoTx) Delete(collection, id string) {
	t.writes = append(t.writes, stagedWrite{op: "delete", collection: collection, id: id})
}

func (t *mongoTx) NewID() string { return uuid.New().String() }

// flush applies the staged writes inside the session's transaction.
func (t *mongoTx) flush(ctx context.Context) error {
	for _, w := range t.writes {
		switch w.op {
		case "set":
			filter := docFilter(t.owner, w.collection, w.id)
			replacement := record{ID: w.id, Owner: t.owner, Collection: w.collection, Data: bson.M(w.fields)}
			if _, err := t.store.coll.ReplaceOne(ctx, filter, replacement, options.Replace().SetUpsert(true)); err != nil {
				return err
			}
		case "update":
			if err := t.store.update(ctx, t.owner, w.collection, w.id, w.fields); err != nil {
				return err
			}
		case "delete":
			if _, err := t.store.coll.DeleteOne(ctx, docFilter(t.owner, w.collection, w.id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// runInTransaction executes body inside one multi-document transaction. The
// driver retries transparently on transient transaction errors; if one still
// escapes, it maps to *domain.ErrConcurrencyConflict.
func (s *Store) runInTransaction(ctx context.Context, operation string, body func(sessCtx mongo.SessionContext) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return &domain.ErrExternalService{Service: backendLabel, Err: err}
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, body(sessCtx)
	})
	if err != nil {
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && (cmdErr.HasErrorLabel("TransientTransactionError") || cmdErr.HasErrorLabel("UnknownTransactionCommitResult")) {
			s.metrics.IncrAtomicRetry(backendLabel)
			return &domain.ErrConcurrencyConflict{Operation: operation}
		}
		return err
	}
	return nil
}

// RunAtomic executes fn with reads and staged writes inside one transaction.
// fn's own errors abort the transaction and propagate unchanged.
func (s *Store) RunAtomic(ctx context.Context, owner string, fn func(tx port.Tx) error) error {
	ctx, span := tracer.Start(ctx, "MongoStore.RunAtomic")
	defer span.End()
	s.metrics.IncrStoreRequest(backendLabel, "atomic")

	return s.runInTransaction(ctx, "atomic unit", func(sessCtx mongo.SessionContext) error {
		tx := &mongoTx{store: s, ctx: sessCtx, owner: owner}
		if err := fn(tx); err != nil {
			return err
		}
		return tx.flush(sessCtx)
	})
}

// RunBatch applies the staged writes in one transaction, unconditionally.
func (s *Store) RunBatch(ctx context.Context, owner string, fn func(b port.Batch)) error {
	ctx, span := tracer.Start(ctx, "MongoStore.RunBatch")
	defer span.End()
	s.metrics.IncrStoreRequest(backendLabel, "batch")

	tx := &mongoTx{store: s, owner: owner}
	fn(tx)
	return s.runInTransaction(ctx, "batch", func(sessCtx mongo.SessionContext) error {
		return tx.flush(sessCtx)
	})
}
