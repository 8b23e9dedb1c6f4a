package service

import (
	"context"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/infra/observability"
	"github.com/evvofinance/evvo-sync-go/internal/port"
	"github.com/evvofinance/evvo-sync-go/internal/repository"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var profileTracer = otel.Tracer("service/profile")

const (
	usernameChangeLimit  = 3
	usernameChangeWindow = 7 * 24 * time.Hour
)

// ProfileService reads and updates the per-identity profile document.
type ProfileService struct {
	store   port.Store
	cache   port.Cache[domain.UserProfile]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewProfileService creates a new profile service.
func NewProfileService(store port.Store, cache port.Cache[domain.UserProfile], metrics *observability.Metrics, logger *zap.Logger) *ProfileService {
	return &ProfileService{store: store, cache: cache, metrics: metrics, logger: logger}
}

// Get returns the identity's profile, served from cache when fresh.
func (s *ProfileService) Get(ctx context.Context, uid string) (*domain.UserProfile, error) {
	ctx, span := profileTracer.Start(ctx, "ProfileService.Get")
	defer span.End()

	if cached, ok := s.cache.Get(uid); ok {
		s.metrics.IncrCacheHit("profile")
		return &cached, nil
	}
	s.metrics.IncrCacheMiss("profile")

	doc, err := s.store.Get(ctx, uid, repository.CollectionProfiles, uid)
	if err != nil {
		return nil, err
	}
	profile := repository.DecodeProfile(*doc)
	s.cache.Set(uid, profile)
	return &profile, nil
}

// Update applies display-name and photo changes. Display-name changes are
// limited to 3 within a rolling 7-day window measured from the last change.
// When the last recorded change is older than the window the count starts
// over at this change; the stored counter is rewritten only then, never
// proactively.
//
// The cache is updated optimistically before the write and rolled back if
// the write fails.
func (s *ProfileService) Update(ctx context.Context, uid string, upd domain.ProfileUpdate) (*domain.UserProfile, error) {
	ctx, span := profileTracer.Start(ctx, "ProfileService.Update")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("profile_update", time.Since(start)) }()

	current, err := s.Get(ctx, uid)
	if err != nil {
		return nil, err
	}

	// Predict the outcome for the optimistic cache entry; the atomic unit
	// below re-reads and re-checks against stored state.
	predicted := *current
	if upd.Name != "" && upd.Name != current.Name {
		predicted.Name = upd.Name
	}
	if upd.PhotoURL != "" {
		predicted.PhotoURL = upd.PhotoURL
	}
	if predicted == *current {
		return current, nil
	}

	prev, hadPrev := s.cache.Get(uid)
	s.cache.Set(uid, predicted)

	var updated domain.UserProfile
	err = s.store.RunAtomic(ctx, uid, func(tx port.Tx) error {
		doc, err := tx.Get(repository.CollectionProfiles, uid)
		if err != nil {
			return err
		}
		profile := repository.DecodeProfile(*doc)

		changes := map[string]any{}
		if upd.Name != "" && upd.Name != profile.Name {
			now := time.Now().UTC()
			count := profile.UsernameUpdateCount
			if !profile.LastUsernameUpdate.IsZero() && now.Sub(profile.LastUsernameUpdate) > usernameChangeWindow {
				count = 0
			}
			if count >= usernameChangeLimit {
				return &domain.ErrRateLimited{Limit: usernameChangeLimit, Window: "7 days"}
			}
			changes["name"] = upd.Name
			changes["usernameUpdateCount"] = count + 1
			changes["lastUsernameUpdate"] = now
			profile.Name = upd.Name
			profile.UsernameUpdateCount = count + 1
			profile.LastUsernameUpdate = now
		}
		if upd.PhotoURL != "" {
			changes["photoURL"] = upd.PhotoURL
			profile.PhotoURL = upd.PhotoURL
		}
		if len(changes) == 0 {
			updated = profile
			return nil
		}
		tx.Update(repository.CollectionProfiles, uid, changes)
		updated = profile
		return nil
	})
	if err != nil {
		if hadPrev {
			s.cache.Set(uid, prev)
		} else {
			s.cache.Delete(uid)
		}
		return nil, err
	}

	s.cache.Set(uid, updated)
	s.logger.Info("profile updated",
		zap.String("uid", uid),
		zap.Bool("name_changed", upd.Name != "" && upd.Name != current.Name),
	)
	return &updated, nil
}
