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

var debtTracer = otel.Tracer("repository/debts")

// DebtRepository tracks payables and receivables.
type DebtRepository struct {
	store   port.Store
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewDebtRepository creates a debt repository over the given store.
func NewDebtRepository(store port.Store, metrics *observability.Metrics, logger *zap.Logger) *DebtRepository {
	return &DebtRepository{store: store, metrics: metrics, logger: logger}
}

// Create adds a debt with status initialized to unpaid. DueDate is optional.
func (r *DebtRepository) Create(ctx context.Context, owner string, debtType domain.DebtType, person string, amount float64, dueDate *time.Time) (string, error) {
	ctx, span := debtTracer.Start(ctx, "DebtRepository.Create")
	defer span.End()

	if debtType != domain.DebtPayable && debtType != domain.DebtReceivable {
		return "", &domain.ErrValidation{Field: "type", Message: "must be payable or receivable"}
	}
	if person == "" {
		return "", &domain.ErrValidation{Field: "person", Message: "person is required"}
	}
	if amount <= 0 {
		return "", &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}

	data := map[string]any{
		"type":   string(debtType),
		"person": person,
		"amount": amount,
		"status": string(domain.DebtUnpaid),
	}
	if dueDate != nil {
		data["dueDate"] = dueDate.UTC()
	}

	id, err := r.store.Add(ctx, owner, CollectionDebts, data)
	if err != nil {
		return "", err
	}

	r.logger.Info("debt created", zap.String("owner", owner), zap.String("debt_id", id))
	return id, nil
}

// ToggleStatus flips unpaid<->paid based on the status the caller last
// observed. The remote value is not re-checked first: last write wins.
func (r *DebtRepository) ToggleStatus(ctx context.Context, owner, id string, currentStatus domain.DebtStatus) error {
	ctx, span := debtTracer.Start(ctx, "DebtRepository.ToggleStatus")
	defer span.End()
	span.SetAttributes(attribute.String("debt.id", id))

	next := domain.DebtPaid
	if currentStatus == domain.DebtPaid {
		next = domain.DebtUnpaid
	}

	return r.store.Update(ctx, owner, CollectionDebts, id, map[string]any{
		"status": string(next),
	})
}

// Delete removes the debt unconditionally.
func (r *DebtRepository) Delete(ctx context.Context, owner, id string) error {
	ctx, span := debtTracer.Start(ctx, "DebtRepository.Delete")
	defer span.End()

	return r.store.Delete(ctx, owner, CollectionDebts, id)
}
