package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/infra/observability"
	"github.com/evvofinance/evvo-sync-go/internal/infra/resilience"
	"github.com/evvofinance/evvo-sync-go/internal/port"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("docstore/supabase")

const backendLabel = "supabase"

// row is one record of the documents table.
type row struct {
	ID         string         `json:"id"`
	Owner      string         `json:"owner"`
	Collection string         `json:"collection"`
	Data       map[string]any `json:"data"`
	Version    int64          `json:"version"`
}

// Store implements port.Store on PostgREST.
type Store struct {
	client       *Client
	cb           *gobreaker.CircuitBreaker
	bulkhead     *resilience.Bulkhead
	cfg          resilience.Config
	metrics      *observability.Metrics
	logger       *zap.Logger
	pollInterval time.Duration
}

// New creates a Supabase-backed store.
func New(client *Client, cb *gobreaker.CircuitBreaker, bulkhead *resilience.Bulkhead, cfg resilience.Config, pollInterval time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Store {
	return &Store{
		client:       client,
		cb:           cb,
		bulkhead:     bulkhead,
		cfg:          cfg,
		metrics:      metrics,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

// call runs one PostgREST request through the bulkhead and circuit breaker.
func (s *Store) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := s.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.bulkhead.Release()

	s.metrics.IncrStoreRequest(backendLabel, method)
	body, err := s.cb.Execute(func() (any, error) {
		return s.client.do(ctx, method, path, payload)
	})
	if err != nil {
		s.metrics.IncrStoreError(backendLabel)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.ErrCircuitOpen{Service: backendLabel}
		}
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	return body.([]byte), nil
}

// classify marks retryable failures: network errors, 5xx, 429, and OCC
// conflicts (409). Other 4xx responses and open-circuit failures are
// permanent for the current attempt budget.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var open *domain.ErrCircuitOpen
	if errors.As(err, &open) {
		return err
	}
	var es *errStatus
	if errors.As(err, &es) {
		switch {
		case es.code == http.StatusConflict, es.code == http.StatusTooManyRequests, es.code >= 500:
			return resilience.MarkTransient(err)
		default:
			return err
		}
	}
	// Transport-level failure.
	return resilience.MarkTransient(err)
}

func isConflict(err error) bool {
	var es *errStatus
	return errors.As(err, &es) && es.code == http.StatusConflict
}

// timeWireFormat pads the fraction to nine digits so stored timestamps sort
// chronologically under jsonb string comparison. encoding/json would emit
// RFC3339Nano with trailing zeros trimmed, and "…00.5Z" sorts before "…00Z".
const timeWireFormat = "2006-01-02T15:04:05.000000000Z"

// encodeFields converts time values to fixed-width UTC strings before they
// go on the wire. The repository codec parses them back as RFC3339Nano.
func encodeFields(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if t, ok := v.(time.Time); ok {
			out[k] = t.UTC().Format(timeWireFormat)
			continue
		}
		out[k] = v
	}
	return out
}

func docPath(owner, collection, id string) string {
	return fmt.Sprintf("documents?owner=eq.%s&collection=eq.%s&id=eq.%s",
		url.QueryEscape(owner), url.QueryEscape(collection), url.QueryEscape(id))
}

// ============================================================
// Single-document operations
// ============================================================

func (s *Store) Get(ctx context.Context, owner, collection, id string) (*port.Document, error) {
	ctx, span := tracer.Start(ctx, "SupabaseStore.Get")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	r, err := s.fetchRow(ctx, owner, collection, id)
	if err != nil {
		return nil, err
	}
	return &port.Document{ID: r.ID, Data: r.Data}, nil
}

// fetchRow reads one row including its version.
func (s *Store) fetchRow(ctx context.Context, owner, collection, id string) (*row, error) {
	var out *row
	err := resilience.RetryWithBackoff(ctx, s.cfg, func() error {
		body, err := s.call(ctx, http.MethodGet, docPath(owner, collection, id)+"&limit=1", nil)
		if err != nil {
			return classify(err)
		}
		var rows []row
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decode document: %w", err)
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: collection, ID: id}
		}
		out = &rows[0]
		return nil
	})
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, err
		}
		return nil, &domain.ErrExternalService{Service: backendLabel, Err: err}
	}
	return out, nil
}

func (s *Store) Add(ctx context.Context, owner, collection string, data map[string]any) (string, error) {
	ctx, span := tracer.Start(ctx, "SupabaseStore.Add")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	id := uuid.New().String()
	err := resilience.RetryWithBackoff(ctx, s.cfg, func() error {
		_, err := s.call(ctx, http.MethodPost, "documents", row{
			ID: id, Owner: owner, Collection: collection, Data: encodeFields(data), Version: 1,
		})
		return classify(err)
	})
	if err != nil {
		return "", &domain.ErrExternalService{Service: backendLabel, Err: err}
	}
	return id, nil
}

// Update overwrites the given fields, leaving the rest of the document
// untouched. The merge is optimistic: the version read is asserted on the
// PATCH, and a lost race is retried with a fresh read.
func (s *Store) Update(ctx context.Context, owner, collection, id string, fields map[string]any) error {
	ctx, span := tracer.Start(ctx, "SupabaseStore.Update")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	conflict := errors.New("document version changed")
	err := resilience.RetryWithBackoff(ctx, s.cfg, func() error {
		r, err := s.fetchRow(ctx, owner, collection, id)
		if err != nil {
			return err
		}
		merged := make(map[string]any, len(r.Data)+len(fields))
		for k, v := range r.Data {
			merged[k] = v
		}
		for k, v := range encodeFields(fields) {
			merged[k] = v
		}

		path := docPath(owner, collection, id) + fmt.Sprintf("&version=eq.%d", r.Version)
		body, err := s.call(ctx, http.MethodPatch, path, map[string]any{
			"data": merged, "version": r.Version + 1,
		})
		if err != nil {
			return classify(err)
		}
		// Zero matched rows means the version moved under us.
		var rows []row
		if err := json.Unmarshal(body, &rows); err == nil && len(rows) == 0 {
			s.metrics.IncrAtomicRetry(backendLabel)
			return resilience.MarkTransient(conflict)
		}
		return nil
	})
	if errors.Is(err, conflict) {
		return &domain.ErrConcurrencyConflict{Operation: "update " + collection}
	}
	if err != nil {
		var notFound *domain.ErrNotFound
		var external *domain.ErrExternalService
		if errors.As(err, &notFound) || errors.As(err, &external) {
			return err
		}
		return &domain.ErrExternalService{Service: backendLabel, Err: err}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, owner, collection, id string) error {
	ctx, span := tracer.Start(ctx, "SupabaseStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	err := resilience.RetryWithBackoff(ctx, s.cfg, func() error {
		_, err := s.call(ctx, http.MethodDelete, docPath(owner, collection, id), nil)
		return classify(err)
	})
	if err != nil {
		return &domain.ErrExternalService{Service: backendLabel, Err: err}
	}
	return nil
}

// ============================================================
// Queries
// ============================================================

// queryPath builds the PostgREST path for a Query. Filters compare the text
// projection (`->>`); ordering keeps the jsonb value (`->`) so numeric
// fields such as the wallet order sort numerically, not lexicographically.
func queryPath(q port.Query) string {
	path := fmt.Sprintf("documents?owner=eq.%s&collection=eq.%s",
		url.QueryEscape(q.Owner), url.QueryEscape(q.Collection))
	for _, f := range q.Filters {
		path += fmt.Sprintf("&data->>%s=eq.%s", url.QueryEscape(f.Field), url.QueryEscape(fmt.Sprintf("%v", f.Value)))
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		path += fmt.Sprintf("&order=data->%s.%s", url.QueryEscape(q.OrderBy), dir)
	} else {
		path += "&order=id.asc"
	}
	return path
}

func (s *Store) Find(ctx context.Context, q port.Query) ([]port.Document, error) {
	ctx, span := tracer.Start(ctx, "SupabaseStore.Find")
	defer span.End()
	span.SetAttributes(attribute.String("collection", q.Collection))

	var docs []port.Document
	err := resilience.RetryWithBackoff(ctx, s.cfg, func() error {
		body, err := s.call(ctx, http.MethodGet, queryPath(q), nil)
		if err != nil {
			return classify(err)
		}
		var rows []row
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decode documents: %w", err)
		}
		docs = make([]port.Document, 0, len(rows))
		for _, r := range rows {
			docs = append(docs, port.Document{ID: r.ID, Data: r.Data})
		}
		return nil
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: backendLabel, Err: err}
	}
	return docs, nil
}

// ============================================================
// Atomic units and batches
// ============================================================

// stagedWrite is one write queued inside an atomic unit or batch, in the
// shape the commit_writes RPC expects.
type stagedWrite struct {
	Op         string         `json:"op"` // set | update | delete
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Data       map[string]any `json:"data,omitempty"`
}

// versionAssert pins a document read by the unit to the version observed.
type versionAssert struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Version    int64  `json:"version"`
}

type atomicTx struct {
	store  *Store
	ctx    context.Context
	owner  string
	reads  []versionAssert
	writes []stagedWrite
}

func (t *atomicTx) Get(collection, id string) (*port.Document, error) {
	r, err := t.store.fetchRow(t.ctx, t.owner, collection, id)
	if err != nil {
		return nil, err
	}
	t.reads = append(t.reads, versionAssert{Collection: collection, ID: r.ID, Version: r.Version})
	return &port.Document{ID: r.ID, Data: r.Data}, nil
}

func (t *atomicTx) Set(collection, id string, data map[string]any) {
	t.writes = append(t.writes, stagedWrite{Op: "set", Collection: collection, ID: id, Data: encodeFields(data)})
}

func (t *atomicTx) Update(collection, id string, fields map[string]any) {
	t.writes = append(t.writes, stagedWrite{Op: "update", Collection: collection, ID: id, Data: encodeFields(fields)})
}

func (t *atomicTx) Delete(collection, id string) {
	t.writes = append(t.writes, stagedWrite{Op: "delete", Collection: collection, ID: id})
}

func (t *atomicTx) NewID() string { return uuid.New().String() }

// commit posts the unit to the commit_writes RPC. The function applies the
// asserts and writes in one database transaction; a stale assert yields 409,
// an update against a missing document yields 404.
func (s *Store) commit(ctx context.Context, owner string, asserts []versionAssert, writes []stagedWrite) error {
	if len(writes) == 0 && len(asserts) == 0 {
		return nil
	}
	_, err := s.call(ctx, http.MethodPost, "rpc/commit_writes", map[string]any{
		"p_owner":   owner,
		"p_asserts": asserts,
		"p_writes":  writes,
	})
	return err
}

// RunAtomic executes fn, then commits its staged writes with the read-set
// versions asserted. Conflicts re-run fn against fresh reads; any other
// error from fn aborts immediately and propagates unchanged. An exhausted
// retry budget surfaces as *domain.ErrConcurrencyConflict.
func (s *Store) RunAtomic(ctx context.Context, owner string, fn func(tx port.Tx) error) error {
	ctx, span := tracer.Start(ctx, "SupabaseStore.RunAtomic")
	defer span.End()

	err := resilience.RetryWithBackoff(ctx, s.cfg, func() error {
		tx := &atomicTx{store: s, ctx: ctx, owner: owner}
		if err := fn(tx); err != nil {
			// fn's errors propagate unchanged; the transient marker from a
			// retried read inside fn is preserved by RetryWithBackoff.
			return err
		}
		if err := s.commit(ctx, owner, tx.reads, tx.writes); err != nil {
			if isConflict(err) {
				s.metrics.IncrAtomicRetry(backendLabel)
				s.logger.Debug("atomic unit conflicted, retrying", zap.String("owner", owner))
				return resilience.MarkTransient(err)
			}
			return s.commitError(err)
		}
		return nil
	})
	if isConflict(err) {
		return &domain.ErrConcurrencyConflict{Operation: "atomic unit"}
	}
	return err
}

// RunBatch applies the staged writes unconditionally in one transaction.
func (s *Store) RunBatch(ctx context.Context, owner string, fn func(b port.Batch)) error {
	ctx, span := tracer.Start(ctx, "SupabaseStore.RunBatch")
	defer span.End()

	tx := &atomicTx{store: s, ctx: ctx, owner: owner}
	fn(tx)
	return resilience.RetryWithBackoff(ctx, s.cfg, func() error {
		if err := s.commit(ctx, owner, nil, tx.writes); err != nil {
			return s.commitError(err)
		}
		return nil
	})
}

// commitError maps commit_writes failures onto the data-layer taxonomy: 404
// means an update targeted a missing document and no write applied; 5xx and
// transport failures are retryable external errors.
func (s *Store) commitError(err error) error {
	var es *errStatus
	if errors.As(err, &es) {
		if es.code == http.StatusNotFound {
			return &domain.ErrNotFound{Resource: "document", ID: ""}
		}
		if c := classify(err); resilience.IsTransient(c) {
			return resilience.MarkTransient(&domain.ErrExternalService{Service: backendLabel, Err: err})
		}
		return &domain.ErrExternalService{Service: backendLabel, Err: err}
	}
	var open *domain.ErrCircuitOpen
	if errors.As(err, &open) {
		return err
	}
	return resilience.MarkTransient(&domain.ErrExternalService{Service: backendLabel, Err: err})
}
