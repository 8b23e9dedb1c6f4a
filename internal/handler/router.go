// Package handler exposes the sync daemon's HTTP surface: identity flows,
// profile, and the four finance collections, plus the operational endpoints.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/infra/observability"
	"github.com/evvofinance/evvo-sync-go/internal/port"
	"github.com/evvofinance/evvo-sync-go/internal/repository"
	"github.com/evvofinance/evvo-sync-go/internal/service"
	"github.com/evvofinance/evvo-sync-go/internal/syncstore"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Deps bundles everything the router serves.
type Deps struct {
	Identity     *service.IdentityService
	Profiles     *service.ProfileService
	Wallets      *repository.WalletRepository
	Transactions *repository.TransactionRepository
	Goals        *repository.GoalRepository
	Debts        *repository.DebtRepository
	Synced       *syncstore.SyncedStore
	Store        port.Store
	Metrics      *observability.Metrics
	Logger       *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(d.Logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(d.Store, d.Logger))
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// Identity
		// =============================================
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authSignUpHandler(d.Identity, d.Logger))
			r.Post("/login", authLoginHandler(d.Identity, d.Logger))
			r.Post("/federated", authFederatedHandler(d.Identity, d.Logger))
			r.Post("/refresh", authRefreshHandler(d.Identity, d.Logger))

			r.Group(func(r chi.Router) {
				r.Use(JWTAuthMiddleware(d.Identity, d.Logger))
				r.Post("/logout", authLogoutHandler(d.Identity, d.Logger))
			})
		})

		// =============================================
		// Everything below requires a session
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(d.Identity, d.Logger))

			// Profile
			r.Get("/profile", getProfileHandler(d.Profiles, d.Logger))
			r.Patch("/profile", updateProfileHandler(d.Profiles, d.Logger))

			// Wallets
			r.Get("/wallets", listWalletsHandler(d))
			r.Post("/wallets", createWalletHandler(d.Wallets, d.Logger))
			r.Patch("/wallets/{walletId}", updateWalletHandler(d.Wallets, d.Logger))
			r.Put("/wallets/order", reorderWalletsHandler(d.Wallets, d.Logger))
			r.Delete("/wallets/{walletId}", deleteWalletHandler(d.Wallets, d.Logger))

			// Transactions
			r.Get("/transactions", listTransactionsHandler(d))
			r.Post("/transactions", recordTransactionHandler(d.Transactions, d.Logger))

			// Goals
			r.Get("/goals", listGoalsHandler(d))
			r.Post("/goals", createGoalHandler(d.Goals, d.Logger))

			// Debts
			r.Get("/debts", listDebtsHandler(d))
			r.Post("/debts", createDebtHandler(d.Debts, d.Logger))
			r.Post("/debts/{debtId}/toggle", toggleDebtHandler(d.Debts, d.Logger))
			r.Delete("/debts/{debtId}", deleteDebtHandler(d.Debts, d.Logger))

			// Sync status
			r.Get("/sync/status", syncStatusHandler(d))
		})
	})

	return r
}

// ============================================================
// Operational endpoints
// ============================================================

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// readyzHandler probes the remote store with a cheap read.
func readyzHandler(store port.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		_, err := store.Find(ctx, port.Query{Owner: "_readyz", Collection: "probe"})
		if err != nil {
			logger.Warn("readyz: store probe failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// syncStatusHandler reports the synchronized store's state for the caller.
func syncStatusHandler(d Deps) http.HandlerFunc {
	type status struct {
		Active           bool               `json:"active"`
		Collections      map[string]int     `json:"collections"`
		SnapshotsApplied map[string]float64 `json:"snapshotsApplied"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		uid := UIDFromContext(r.Context())
		active := d.Synced.Owner() == uid

		st := status{
			Active:           active,
			Collections:      map[string]int{},
			SnapshotsApplied: map[string]float64{},
		}
		if active {
			st.Collections[repository.CollectionWallets] = len(d.Synced.Wallets())
			st.Collections[repository.CollectionTransactions] = len(d.Synced.Transactions())
			st.Collections[repository.CollectionGoals] = len(d.Synced.Goals())
			st.Collections[repository.CollectionDebts] = len(d.Synced.Debts())
		}
		for _, c := range []string{
			repository.CollectionWallets, repository.CollectionTransactions,
			repository.CollectionGoals, repository.CollectionDebts,
		} {
			st.SnapshotsApplied[c] = d.Metrics.SnapshotsApplied(c)
		}
		writeJSON(w, http.StatusOK, st)
	}
}
