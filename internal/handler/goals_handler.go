package handler

import (
	"encoding/json"
	"net/http"

	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/port"
	"github.com/evvofinance/evvo-sync-go/internal/repository"

	"go.uber.org/zap"
)

// ============================================================
// GET /v1/goals
// ============================================================

func listGoalsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/goals")
		defer span.End()

		uid := UIDFromContext(ctx)
		if d.Synced.Owner() == uid {
			writeJSON(w, http.StatusOK, d.Synced.Goals())
			return
		}

		docs, err := d.Store.Find(ctx, port.Query{
			Owner: uid, Collection: repository.CollectionGoals, OrderBy: "name",
		})
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		out := make([]domain.Goal, 0, len(docs))
		for _, doc := range docs {
			out = append(out, repository.DecodeGoal(doc))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ============================================================
// POST /v1/goals
// ============================================================

type createGoalRequest struct {
	Name         string  `json:"name"`
	TargetAmount float64 `json:"targetAmount"`
}

func createGoalHandler(goals *repository.GoalRepository, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/goals")
		defer span.End()

		var req createGoalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		id, err := goals.Create(ctx, UIDFromContext(ctx), req.Name, req.TargetAmount)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}
