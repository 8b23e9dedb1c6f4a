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

var txTracer = otel.Tracer("repository/transactions")

// TransactionRepository records income and expense entries. The
// balance-affecting write runs as one atomic unit with the wallet
// adjustment: a reader can never observe a transaction without its paired
// balance delta, or the reverse.
type TransactionRepository struct {
	store   port.Store
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewTransactionRepository creates a transaction repository over the given store.
func NewTransactionRepository(store port.Store, metrics *observability.Metrics, logger *zap.Logger) *TransactionRepository {
	return &TransactionRepository{store: store, metrics: metrics, logger: logger}
}

// RecordInput carries one transaction to record. Date is the user-selected
// point in time, distinct from creation time.
type RecordInput struct {
	Type        domain.TransactionType
	Amount      float64
	Category    string
	Date        time.Time
	WalletID    string
	Description string
}

// Record writes the transaction and adjusts the wallet balance in one atomic
// unit. It fails with *domain.ErrNotFound when the wallet is gone, and with
// *domain.ErrInsufficientFunds when an expense would drive the balance below
// zero — in both cases nothing is written. Concurrent units against the same
// wallet serialize in the store; the losing unit is retried there, so two
// expenses that jointly overdraw cannot both succeed.
func (r *TransactionRepository) Record(ctx context.Context, owner string, in RecordInput) (string, error) {
	ctx, span := txTracer.Start(ctx, "TransactionRepository.Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("wallet.id", in.WalletID),
		attribute.String("transaction.type", string(in.Type)),
	)

	start := time.Now()
	defer func() { r.metrics.RecordRequestDuration("transaction.record", time.Since(start)) }()

	if in.Type != domain.TypeIncome && in.Type != domain.TypeExpense {
		return "", &domain.ErrValidation{Field: "type", Message: "must be income or expense"}
	}
	if in.Amount <= 0 {
		return "", &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}
	if in.WalletID == "" {
		return "", &domain.ErrValidation{Field: "walletId", Message: "wallet is required"}
	}
	if in.Category == "" {
		return "", &domain.ErrValidation{Field: "category", Message: "category is required"}
	}
	if in.Date.IsZero() {
		in.Date = time.Now().UTC()
	}

	var txID string
	err := r.store.RunAtomic(ctx, owner, func(tx port.Tx) error {
		doc, err := tx.Get(CollectionWallets, in.WalletID)
		if err != nil {
			return err
		}
		wallet := DecodeWallet(*doc)

		newBalance := wallet.Balance + in.Amount
		if in.Type == domain.TypeExpense {
			newBalance = wallet.Balance - in.Amount
			if newBalance < 0 {
				return &domain.ErrInsufficientFunds{Available: wallet.Balance, Required: in.Amount}
			}
		}

		tx.Update(CollectionWallets, in.WalletID, map[string]any{"balance": newBalance})

		txID = tx.NewID()
		tx.Set(CollectionTransactions, txID, map[string]any{
			"type":        string(in.Type),
			"amount":      in.Amount,
			"category":    in.Category,
			"date":        in.Date.UTC(),
			"walletId":    in.WalletID,
			"walletName":  wallet.Name, // snapshot at write time, never re-synced
			"description": in.Description,
		})
		return nil
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("transaction recorded",
		zap.String("owner", owner),
		zap.String("transaction_id", txID),
		zap.String("type", string(in.Type)),
		zap.Float64("amount", in.Amount),
	)
	return txID, nil
}
