package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/infra/docstore/memory"
	"github.com/evvofinance/evvo-sync-go/internal/infra/observability"
	"github.com/evvofinance/evvo-sync-go/internal/port"
	"github.com/evvofinance/evvo-sync-go/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGoalCreate_StartsAtZero(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	goals := repository.NewGoalRepository(store, observability.NewMetrics(), zap.NewNop())

	id, err := goals.Create(ctx, owner, "Emergency fund", 5000)
	require.NoError(t, err)

	doc, err := store.Get(ctx, owner, repository.CollectionGoals, id)
	require.NoError(t, err)
	goal := repository.DecodeGoal(*doc)
	require.Equal(t, "Emergency fund", goal.Name)
	require.Equal(t, 5000.0, goal.TargetAmount)
	require.Equal(t, 0.0, goal.CurrentAmount)
}

func TestGoalCreate_Validation(t *testing.T) {
	ctx := context.Background()
	goals := repository.NewGoalRepository(memory.New(), observability.NewMetrics(), zap.NewNop())

	var validation *domain.ErrValidation
	_, err := goals.Create(ctx, owner, "", 100)
	require.True(t, errors.As(err, &validation))
	_, err = goals.Create(ctx, owner, "trip", 0)
	require.True(t, errors.As(err, &validation))
}

func TestDebtLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	debts := repository.NewDebtRepository(store, observability.NewMetrics(), zap.NewNop())

	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	id, err := debts.Create(ctx, owner, domain.DebtPayable, "Ana", 250, &due)
	require.NoError(t, err)

	doc, _ := store.Get(ctx, owner, repository.CollectionDebts, id)
	debt := repository.DecodeDebt(*doc)
	require.Equal(t, domain.DebtUnpaid, debt.Status)
	require.NotNil(t, debt.DueDate)
	require.True(t, debt.DueDate.Equal(due))

	// toggle based on the observed status: unpaid -> paid
	require.NoError(t, debts.ToggleStatus(ctx, owner, id, debt.Status))
	doc, _ = store.Get(ctx, owner, repository.CollectionDebts, id)
	require.Equal(t, domain.DebtPaid, repository.DecodeDebt(*doc).Status)

	// stale observed status still wins: caller saw unpaid, so it writes paid again
	require.NoError(t, debts.ToggleStatus(ctx, owner, id, domain.DebtUnpaid))
	doc, _ = store.Get(ctx, owner, repository.CollectionDebts, id)
	require.Equal(t, domain.DebtPaid, repository.DecodeDebt(*doc).Status)

	require.NoError(t, debts.Delete(ctx, owner, id))
	docs, _ := store.Find(ctx, port.Query{Owner: owner, Collection: repository.CollectionDebts})
	require.Empty(t, docs)
}

func TestDebtCreate_NoDueDate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	debts := repository.NewDebtRepository(store, observability.NewMetrics(), zap.NewNop())

	id, err := debts.Create(ctx, owner, domain.DebtReceivable, "Bruno", 80, nil)
	require.NoError(t, err)

	doc, _ := store.Get(ctx, owner, repository.CollectionDebts, id)
	require.Nil(t, repository.DecodeDebt(*doc).DueDate)
}
