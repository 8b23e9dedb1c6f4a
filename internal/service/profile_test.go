package service

import (
	"context"
	"testing"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/infra/cache"
	"github.com/evvofinance/evvo-sync-go/internal/infra/docstore/memory"
	"github.com/evvofinance/evvo-sync-go/internal/infra/observability"
	"github.com/evvofinance/evvo-sync-go/internal/port"
	"github.com/evvofinance/evvo-sync-go/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const profileUID = "uid-1"

func newProfiles(t *testing.T) (*ProfileService, port.Store) {
	t.Helper()
	store := memory.New()
	_, err := EnsureProfile(context.Background(), store, profileUID, "ana@example.com", "Ana", "")
	require.NoError(t, err)
	svc := NewProfileService(store, cache.New[domain.UserProfile](time.Minute), observability.NewMetrics(), zap.NewNop())
	return svc, store
}

// setRenameState rewrites the stored rename counter and timestamp.
func setRenameState(t *testing.T, store port.Store, count int, last time.Time) {
	t.Helper()
	err := store.Update(context.Background(), profileUID, repository.CollectionProfiles, profileUID, map[string]any{
		"usernameUpdateCount": count,
		"lastUsernameUpdate":  last,
	})
	require.NoError(t, err)
}

func TestUpdate_RenameIncrementsCounter(t *testing.T) {
	svc, _ := newProfiles(t)
	ctx := context.Background()

	got, err := svc.Update(ctx, profileUID, domain.ProfileUpdate{Name: "Ana Maria"})
	require.NoError(t, err)
	require.Equal(t, "Ana Maria", got.Name)
	require.Equal(t, 1, got.UsernameUpdateCount)
	require.WithinDuration(t, time.Now(), got.LastUsernameUpdate, 5*time.Second)

	cached, err := svc.Get(ctx, profileUID)
	require.NoError(t, err)
	require.Equal(t, "Ana Maria", cached.Name)
}

func TestUpdate_FourthRenameInWindowIsRateLimited(t *testing.T) {
	svc, store := newProfiles(t)
	ctx := context.Background()
	setRenameState(t, store, 3, time.Now().Add(-time.Hour).UTC())

	var rlErr *domain.ErrRateLimited
	_, err := svc.Update(ctx, profileUID, domain.ProfileUpdate{Name: "Fourth Name"})
	require.ErrorAs(t, err, &rlErr)
	require.Equal(t, 3, rlErr.Limit)

	// Optimistic cache entry was rolled back.
	got, err := svc.Get(ctx, profileUID)
	require.NoError(t, err)
	require.Equal(t, "Ana", got.Name)
	require.Equal(t, 3, got.UsernameUpdateCount)
}

func TestUpdate_WindowExpiryResetsEffectiveCount(t *testing.T) {
	svc, store := newProfiles(t)
	ctx := context.Background()
	setRenameState(t, store, 3, time.Now().Add(-8*24*time.Hour).UTC())

	got, err := svc.Update(ctx, profileUID, domain.ProfileUpdate{Name: "Fresh Week"})
	require.NoError(t, err)
	require.Equal(t, "Fresh Week", got.Name)
	require.Equal(t, 1, got.UsernameUpdateCount, "count starts over at this change")
}

func TestUpdate_StaleCounterOnlyRewrittenOnNextChange(t *testing.T) {
	svc, store := newProfiles(t)
	ctx := context.Background()
	setRenameState(t, store, 3, time.Now().Add(-8*24*time.Hour).UTC())

	// A photo-only update leaves the stale counter untouched in storage.
	_, err := svc.Update(ctx, profileUID, domain.ProfileUpdate{PhotoURL: "https://example.com/p.png"})
	require.NoError(t, err)

	doc, err := store.Get(ctx, profileUID, repository.CollectionProfiles, profileUID)
	require.NoError(t, err)
	require.Equal(t, 3, repository.DecodeProfile(*doc).UsernameUpdateCount)
}

func TestUpdate_PhotoChangeNotRateLimited(t *testing.T) {
	svc, store := newProfiles(t)
	ctx := context.Background()
	setRenameState(t, store, 3, time.Now().Add(-time.Hour).UTC())

	got, err := svc.Update(ctx, profileUID, domain.ProfileUpdate{PhotoURL: "https://example.com/new.png"})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/new.png", got.PhotoURL)
	require.Equal(t, 3, got.UsernameUpdateCount)
}

func TestUpdate_SameNameIsNoOp(t *testing.T) {
	svc, _ := newProfiles(t)
	ctx := context.Background()

	got, err := svc.Update(ctx, profileUID, domain.ProfileUpdate{Name: "Ana"})
	require.NoError(t, err)
	require.Equal(t, 0, got.UsernameUpdateCount, "renaming to the current name does not count")
}

func TestGet_MissingProfile(t *testing.T) {
	svc := NewProfileService(memory.New(), cache.New[domain.UserProfile](time.Minute), observability.NewMetrics(), zap.NewNop())

	var nfErr *domain.ErrNotFound
	_, err := svc.Get(context.Background(), "ghost")
	require.ErrorAs(t, err, &nfErr)
}
