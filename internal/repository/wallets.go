package repository

import (
	"context"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/infra/observability"
	"github.com/evvofinance/evvo-sync-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var walletTracer = otel.Tracer("repository/wallets")

// WalletRepository owns wallet writes: creation with appended display order,
// field updates, the batched atomic reorder, and the cascading delete that
// removes a wallet together with all of its transactions.
type WalletRepository struct {
	store   port.Store
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewWalletRepository creates a wallet repository over the given store.
func NewWalletRepository(store port.Store, metrics *observability.Metrics, logger *zap.Logger) *WalletRepository {
	return &WalletRepository{store: store, metrics: metrics, logger: logger}
}

// Create adds a wallet at the end of the owner's order sequence
// (order = current wallet count). Existing wallets are not renumbered.
func (r *WalletRepository) Create(ctx context.Context, owner, name string, icon domain.WalletIcon, initialBalance float64) (string, error) {
	ctx, span := walletTracer.Start(ctx, "WalletRepository.Create")
	defer span.End()

	if name == "" {
		return "", &domain.ErrValidation{Field: "name", Message: "name is required"}
	}
	if initialBalance < 0 {
		return "", &domain.ErrValidation{Field: "balance", Message: "initial balance cannot be negative"}
	}
	switch icon {
	case domain.IconCash, domain.IconBank, domain.IconEWallet:
	default:
		return "", &domain.ErrValidation{Field: "icon", Message: "unknown icon"}
	}

	existing, err := r.store.Find(ctx, port.Query{Owner: owner, Collection: CollectionWallets})
	if err != nil {
		return "", err
	}

	id, err := r.store.Add(ctx, owner, CollectionWallets, map[string]any{
		"name":    name,
		"icon":    string(icon),
		"balance": initialBalance,
		"order":   len(existing),
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("wallet created",
		zap.String("owner", owner),
		zap.String("wallet_id", id),
		zap.Int("order", len(existing)),
	)
	return id, nil
}

// Update overwrites exactly name, icon and balance. It never touches order,
// and never rewrites walletName on historical transactions — that
// denormalization drift is accepted.
func (r *WalletRepository) Update(ctx context.Context, owner, id, name string, icon domain.WalletIcon, balance float64) error {
	ctx, span := walletTracer.Start(ctx, "WalletRepository.Update")
	defer span.End()
	span.SetAttributes(attribute.String("wallet.id", id))

	if name == "" {
		return &domain.ErrValidation{Field: "name", Message: "name is required"}
	}

	return r.store.Update(ctx, owner, CollectionWallets, id, map[string]any{
		"name":    name,
		"icon":    string(icon),
		"balance": balance,
	})
}

// Reorder assigns order = index for each wallet in the given sequence, as a
// single atomic batch. Readers never observe duplicate or missing order
// values among one owner's wallets.
func (r *WalletRepository) Reorder(ctx context.Context, owner string, orderedIDs []string) error {
	ctx, span := walletTracer.Start(ctx, "WalletRepository.Reorder")
	defer span.End()

	start := time.Now()
	defer func() { r.metrics.RecordRequestDuration("wallet.reorder", time.Since(start)) }()

	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if id == "" || seen[id] {
			return &domain.ErrValidation{Field: "walletIds", Message: "ids must be unique and non-empty"}
		}
		seen[id] = true
	}

	err := r.store.RunBatch(ctx, owner, func(b port.Batch) {
		for index, id := range orderedIDs {
			b.Update(CollectionWallets, id, map[string]any{"order": index})
		}
	})
	if err != nil {
		r.logger.Error("wallet reorder failed", zap.String("owner", owner), zap.Error(err))
		return err
	}
	return nil
}

// Delete removes the wallet and every transaction referencing it in one
// atomic batch. The transaction set is looked up before the batch commits;
// a transaction created concurrently after that lookup is not covered.
func (r *WalletRepository) Delete(ctx context.Context, owner, id string) error {
	ctx, span := walletTracer.Start(ctx, "WalletRepository.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("wallet.id", id))

	start := time.Now()
	defer func() { r.metrics.RecordRequestDuration("wallet.delete", time.Since(start)) }()

	orphans, err := r.store.Find(ctx, port.Query{
		Owner:      owner,
		Collection: CollectionTransactions,
		Filters:    []port.Filter{{Field: "walletId", Value: id}},
	})
	if err != nil {
		return err
	}

	err = r.store.RunBatch(ctx, owner, func(b port.Batch) {
		b.Delete(CollectionWallets, id)
		for _, tx := range orphans {
			b.Delete(CollectionTransactions, tx.ID)
		}
	})
	if err != nil {
		return err
	}

	r.logger.Info("wallet deleted with cascade",
		zap.String("owner", owner),
		zap.String("wallet_id", id),
		zap.Int("transactions_removed", len(orphans)),
	)
	return nil
}
