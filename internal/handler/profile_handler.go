package handler

import (
	"encoding/json"
	"net/http"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// GET /v1/profile
// ============================================================

func getProfileHandler(profiles *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/profile")
		defer span.End()

		profile, err := profiles.Get(ctx, UIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

// ============================================================
// PATCH /v1/profile
// ============================================================

func updateProfileHandler(profiles *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/profile")
		defer span.End()

		var req domain.ProfileUpdate
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		profile, err := profiles.Update(ctx, UIDFromContext(ctx), req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}
