package handler

import (
	"encoding/json"
	"net/http"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/port"
	"github.com/evvofinance/evvo-sync-go/internal/repository"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// GET /v1/wallets
// ============================================================

func listWalletsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/wallets")
		defer span.End()

		uid := UIDFromContext(ctx)
		// The synchronized store is the read model while it is scoped to
		// the caller; otherwise fall back to a direct query.
		if d.Synced.Owner() == uid {
			writeJSON(w, http.StatusOK, d.Synced.Wallets())
			return
		}

		docs, err := d.Store.Find(ctx, port.Query{
			Owner: uid, Collection: repository.CollectionWallets, OrderBy: "order",
		})
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		out := make([]domain.Wallet, 0, len(docs))
		for _, doc := range docs {
			out = append(out, repository.DecodeWallet(doc))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ============================================================
// POST /v1/wallets
// ============================================================

type createWalletRequest struct {
	Name    string            `json:"name"`
	Icon    domain.WalletIcon `json:"icon"`
	Balance float64           `json:"balance"`
}

func createWalletHandler(wallets *repository.WalletRepository, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/wallets")
		defer span.End()

		var req createWalletRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		id, err := wallets.Create(ctx, UIDFromContext(ctx), req.Name, req.Icon, req.Balance)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

// ============================================================
// PATCH /v1/wallets/{walletId}
// ============================================================

func updateWalletHandler(wallets *repository.WalletRepository, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/wallets/{walletId}")
		defer span.End()

		var req createWalletRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		err := wallets.Update(ctx, UIDFromContext(ctx), chi.URLParam(r, "walletId"), req.Name, req.Icon, req.Balance)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

// ============================================================
// PUT /v1/wallets/order
// ============================================================

type reorderRequest struct {
	OrderedIDs []string `json:"orderedIds"`
}

func reorderWalletsHandler(wallets *repository.WalletRepository, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/wallets/order")
		defer span.End()

		var req reorderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := wallets.Reorder(ctx, UIDFromContext(ctx), req.OrderedIDs); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reordered"})
	}
}

// ============================================================
// DELETE /v1/wallets/{walletId}
// ============================================================

func deleteWalletHandler(wallets *repository.WalletRepository, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/wallets/{walletId}")
		defer span.End()

		if err := wallets.Delete(ctx, UIDFromContext(ctx), chi.URLParam(r, "walletId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
