package handler

import (
	"encoding/json"
	"net/http"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// POST /v1/auth/signup
// ============================================================

func authSignUpHandler(identity *service.IdentityService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/signup")
		defer span.End()

		var req domain.SignUpRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sess, err := identity.SignUp(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

// ============================================================
// POST /v1/auth/login
// ============================================================

func authLoginHandler(identity *service.IdentityService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/login")
		defer span.End()

		var req domain.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sess, err := identity.Login(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

// ============================================================
// POST /v1/auth/federated
// ============================================================

func authFederatedHandler(identity *service.IdentityService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/federated")
		defer span.End()

		var req domain.FederatedLoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
			writeError(w, http.StatusBadRequest, "idToken is required")
			return
		}

		sess, err := identity.FederatedLogin(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

// ============================================================
// POST /v1/auth/refresh
// ============================================================

func authRefreshHandler(identity *service.IdentityService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/refresh")
		defer span.End()

		var req domain.RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, "refreshToken is required")
			return
		}

		sess, err := identity.Refresh(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

// ============================================================
// POST /v1/auth/logout
// ============================================================

func authLogoutHandler(identity *service.IdentityService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/logout")
		defer span.End()

		if err := identity.Logout(ctx, UIDFromContext(ctx)); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
	}
}
