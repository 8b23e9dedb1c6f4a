package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/handler"
	"github.com/evvofinance/evvo-sync-go/internal/infra/cache"
	"github.com/evvofinance/evvo-sync-go/internal/infra/docstore/memory"
	"github.com/evvofinance/evvo-sync-go/internal/infra/observability"
	"github.com/evvofinance/evvo-sync-go/internal/repository"
	"github.com/evvofinance/evvo-sync-go/internal/service"
	"github.com/evvofinance/evvo-sync-go/internal/syncstore"

	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	store := memory.New()
	metrics := observability.NewMetrics()
	logger := zap.NewNop()

	identity := service.NewIdentityService(store, "router-test-secret", "router-test-fed", 15*time.Minute, 24*time.Hour, logger)
	profiles := service.NewProfileService(store, cache.New[domain.UserProfile](time.Minute), metrics, logger)

	return handler.NewRouter(handler.Deps{
		Identity:     identity,
		Profiles:     profiles,
		Wallets:      repository.NewWalletRepository(store, metrics, logger),
		Transactions: repository.NewTransactionRepository(store, metrics, logger),
		Goals:        repository.NewGoalRepository(store, metrics, logger),
		Debts:        repository.NewDebtRepository(store, metrics, logger),
		Synced:       syncstore.New(store, metrics, logger),
		Store:        store,
		Metrics:      metrics,
		Logger:       logger,
	})
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/v1/profile", "/v1/wallets", "/v1/transactions", "/v1/goals", "/v1/debts"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestSignUpThenWalletFlow(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(map[string]string{
		"email":    "router@example.com",
		"password": "secret1",
		"name":     "Router",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/signup", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var session domain.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.AccessToken == "" {
		t.Fatal("expected an access token")
	}

	body, _ = json.Marshal(map[string]any{"name": "Checking", "icon": "bank", "balance": 250.0})
	req = httptest.NewRequest(http.MethodPost, "/v1/wallets", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create wallet: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/wallets", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("list wallets: expected 200, got %d", rec.Code)
	}
	var wallets []domain.Wallet
	if err := json.Unmarshal(rec.Body.Bytes(), &wallets); err != nil {
		t.Fatalf("decode wallets: %v", err)
	}
	if len(wallets) != 1 || wallets[0].Name != "Checking" {
		t.Fatalf("unexpected wallets: %+v", wallets)
	}
}

func TestValidationErrorsSurfaceAs400(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(map[string]string{"email": "not-an-email", "password": "x"})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/signup", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
