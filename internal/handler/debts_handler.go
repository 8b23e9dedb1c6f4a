package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/port"
	"github.com/evvofinance/evvo-sync-go/internal/repository"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// GET /v1/debts
// ============================================================

func listDebtsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/debts")
		defer span.End()

		uid := UIDFromContext(ctx)
		if d.Synced.Owner() == uid {
			writeJSON(w, http.StatusOK, d.Synced.Debts())
			return
		}

		docs, err := d.Store.Find(ctx, port.Query{
			Owner: uid, Collection: repository.CollectionDebts,
		})
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		out := make([]domain.Debt, 0, len(docs))
		for _, doc := range docs {
			out = append(out, repository.DecodeDebt(doc))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ============================================================
// POST /v1/debts
// ============================================================

type createDebtRequest struct {
	Type    domain.DebtType `json:"type"`
	Person  string          `json:"person"`
	Amount  float64         `json:"amount"`
	DueDate *time.Time      `json:"dueDate,omitempty"`
}

func createDebtHandler(debts *repository.DebtRepository, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/debts")
		defer span.End()

		var req createDebtRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		id, err := debts.Create(ctx, UIDFromContext(ctx), req.Type, req.Person, req.Amount, req.DueDate)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

// ============================================================
// POST /v1/debts/{debtId}/toggle
// ============================================================

type toggleDebtRequest struct {
	Status domain.DebtStatus `json:"status"`
}

func toggleDebtHandler(debts *repository.DebtRepository, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/debts/{debtId}/toggle")
		defer span.End()

		var req toggleDebtRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		err := debts.ToggleStatus(ctx, UIDFromContext(ctx), chi.URLParam(r, "debtId"), req.Status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "toggled"})
	}
}

// ============================================================
// DELETE /v1/debts/{debtId}
// ============================================================

func deleteDebtHandler(debts *repository.DebtRepository, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/debts/{debtId}")
		defer span.End()

		if err := debts.Delete(ctx, UIDFromContext(ctx), chi.URLParam(r, "debtId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
