package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/port"
	"github.com/evvofinance/evvo-sync-go/internal/repository"

	"go.uber.org/zap"
)

// ============================================================
// GET /v1/transactions
// ============================================================

func listTransactionsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transactions")
		defer span.End()

		uid := UIDFromContext(ctx)
		if d.Synced.Owner() == uid {
			writeJSON(w, http.StatusOK, d.Synced.Transactions())
			return
		}

		docs, err := d.Store.Find(ctx, port.Query{
			Owner:      uid,
			Collection: repository.CollectionTransactions,
			OrderBy:    "date",
			Descending: true,
		})
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		out := make([]domain.Transaction, 0, len(docs))
		for _, doc := range docs {
			out = append(out, repository.DecodeTransaction(doc))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ============================================================
// POST /v1/transactions
// ============================================================

type recordTransactionRequest struct {
	Type        domain.TransactionType `json:"type"`
	Amount      float64                `json:"amount"`
	Category    string                 `json:"category"`
	Date        time.Time              `json:"date"`
	WalletID    string                 `json:"walletId"`
	Description string                 `json:"description"`
}

func recordTransactionHandler(transactions *repository.TransactionRepository, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions")
		defer span.End()

		var req recordTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Date.IsZero() {
			req.Date = time.Now().UTC()
		}

		id, err := transactions.Record(ctx, UIDFromContext(ctx), repository.RecordInput{
			Type:        req.Type,
			Amount:      req.Amount,
			Category:    req.Category,
			Date:        req.Date,
			WalletID:    req.WalletID,
			Description: req.Description,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}
