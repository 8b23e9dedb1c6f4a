package repository

import (
	"context"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/infra/observability"
	"github.com/evvofinance/evvo-sync-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var goalTracer = otel.Tracer("repository/goals")

// GoalRepository creates savings goals. There is deliberately no operation
// that contributes to or decreases currentAmount.
type GoalRepository struct {
	store   port.Store
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewGoalRepository creates a goal repository over the given store.
func NewGoalRepository(store port.Store, metrics *observability.Metrics, logger *zap.Logger) *GoalRepository {
	return &GoalRepository{store: store, metrics: metrics, logger: logger}
}

// Create adds a goal with currentAmount initialized to zero.
func (r *GoalRepository) Create(ctx context.Context, owner, name string, targetAmount float64) (string, error) {
	ctx, span := goalTracer.Start(ctx, "GoalRepository.Create")
	defer span.End()

	if name == "" {
		return "", &domain.ErrValidation{Field: "name", Message: "name is required"}
	}
	if targetAmount <= 0 {
		return "", &domain.ErrValidation{Field: "targetAmount", Message: "must be positive"}
	}

	id, err := r.store.Add(ctx, owner, CollectionGoals, map[string]any{
		"name":          name,
		"targetAmount":  targetAmount,
		"currentAmount": 0.0,
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("goal created", zap.String("owner", owner), zap.String("goal_id", id))
	return id, nil
}
