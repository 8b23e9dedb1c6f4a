package repository_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/infra/docstore/memory"
	"github.com/evvofinance/evvo-sync-go/internal/port"
	"github.com/evvofinance/evvo-sync-go/internal/repository"

	"github.com/stretchr/testify/require"
)

func listWallets(t *testing.T, store *memory.Store) []domain.Wallet {
	t.Helper()
	docs, err := store.Find(context.Background(), port.Query{
		Owner:      owner,
		Collection: repository.CollectionWallets,
		OrderBy:    "order",
	})
	require.NoError(t, err)
	out := make([]domain.Wallet, 0, len(docs))
	for _, d := range docs {
		out = append(out, repository.DecodeWallet(d))
	}
	return out
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	_, wallets, _ := newRepos(t)

	var validation *domain.ErrValidation

	_, err := wallets.Create(ctx, owner, "", domain.IconCash, 0)
	require.True(t, errors.As(err, &validation))

	_, err = wallets.Create(ctx, owner, "Cash", domain.IconCash, -5)
	require.True(t, errors.As(err, &validation))

	_, err = wallets.Create(ctx, owner, "Cash", "piggybank", 0)
	require.True(t, errors.As(err, &validation))
}

func TestCreate_OrderSequence(t *testing.T) {
	ctx := context.Background()
	store, wallets, _ := newRepos(t)

	for _, name := range []string{"Cash", "Bank", "E-Wallet"} {
		_, err := wallets.Create(ctx, owner, name, domain.IconBank, 10)
		require.NoError(t, err)
	}

	got := listWallets(t, store)
	require.Len(t, got, 3)
	for i, w := range got {
		require.Equal(t, i, w.Order)
	}
	require.Equal(t, "Cash", got[0].Name)
	require.Equal(t, "E-Wallet", got[2].Name)
}

func TestUpdate_DoesNotTouchOrderOrHistory(t *testing.T) {
	ctx := context.Background()
	store, wallets, txs := newRepos(t)

	walletID, _ := wallets.Create(ctx, owner, "Old Name", domain.IconCash, 100)
	_, err := txs.Record(ctx, owner, repository.RecordInput{
		Type: domain.TypeExpense, Amount: 10, Category: "food", WalletID: walletID,
	})
	require.NoError(t, err)

	require.NoError(t, wallets.Update(ctx, owner, walletID, "New Name", domain.IconBank, 500))

	got := listWallets(t, store)
	require.Equal(t, "New Name", got[0].Name)
	require.Equal(t, domain.IconBank, got[0].Icon)
	require.Equal(t, 500.0, got[0].Balance)
	require.Equal(t, 0, got[0].Order)

	// denormalized walletName on the historical transaction must keep the old name
	recorded := listTransactions(t, store)
	require.Equal(t, "Old Name", recorded[0].WalletName)
}

func TestReorder_OrderDensity(t *testing.T) {
	ctx := context.Background()
	store, wallets, _ := newRepos(t)

	ids := make([]string, 0, 3)
	for _, name := range []string{"a", "b", "c"} {
		id, err := wallets.Create(ctx, owner, name, domain.IconCash, 0)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// move the last wallet to the front
	require.NoError(t, wallets.Reorder(ctx, owner, []string{ids[2], ids[0], ids[1]}))

	byID := map[string]int{}
	orders := []int{}
	for _, w := range listWallets(t, store) {
		byID[w.ID] = w.Order
		orders = append(orders, w.Order)
	}
	sort.Ints(orders)
	require.Equal(t, []int{0, 1, 2}, orders, "orders must be exactly {0..N-1}")

	// original wallets now carry orders [1,2,0] respectively
	require.Equal(t, 1, byID[ids[0]])
	require.Equal(t, 2, byID[ids[1]])
	require.Equal(t, 0, byID[ids[2]])
}

func TestReorder_RejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	_, wallets, _ := newRepos(t)

	id, _ := wallets.Create(ctx, owner, "a", domain.IconCash, 0)
	err := wallets.Reorder(ctx, owner, []string{id, id})

	var validation *domain.ErrValidation
	require.True(t, errors.As(err, &validation))
}

func TestReorder_MissingWalletFailsAtomically(t *testing.T) {
	ctx := context.Background()
	store, wallets, _ := newRepos(t)

	a, _ := wallets.Create(ctx, owner, "a", domain.IconCash, 0)
	b, _ := wallets.Create(ctx, owner, "b", domain.IconCash, 0)

	err := wallets.Reorder(ctx, owner, []string{b, "ghost", a})
	var notFound *domain.ErrNotFound
	require.True(t, errors.As(err, &notFound))

	// nothing moved
	got := listWallets(t, store)
	require.Equal(t, "a", got[0].Name)
	require.Equal(t, 0, got[0].Order)
	require.Equal(t, 1, got[1].Order)
}

func TestDelete_CascadesTransactions(t *testing.T) {
	ctx := context.Background()
	store, wallets, txs := newRepos(t)

	doomed, _ := wallets.Create(ctx, owner, "Doomed", domain.IconCash, 1000)
	keeper, _ := wallets.Create(ctx, owner, "Keeper", domain.IconBank, 1000)

	for i := 0; i < 5; i++ {
		_, err := txs.Record(ctx, owner, repository.RecordInput{
			Type: domain.TypeExpense, Amount: 10, Category: "misc", WalletID: doomed,
		})
		require.NoError(t, err)
	}
	_, err := txs.Record(ctx, owner, repository.RecordInput{
		Type: domain.TypeExpense, Amount: 5, Category: "misc", WalletID: keeper,
	})
	require.NoError(t, err)

	require.NoError(t, wallets.Delete(ctx, owner, doomed))

	_, err = store.Get(ctx, owner, repository.CollectionWallets, doomed)
	var notFound *domain.ErrNotFound
	require.True(t, errors.As(err, &notFound), "wallet must be gone")

	remaining := listTransactions(t, store)
	require.Len(t, remaining, 1, "only the other wallet's transaction survives")
	require.Equal(t, keeper, remaining[0].WalletID)
}
