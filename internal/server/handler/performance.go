package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

// PerformanceService computes a user's trading summary.
type PerformanceService interface {
	Compute(ctx context.Context, userID string) (domain.Performance, error)
}

// PerformanceHandler serves the performance endpoint.
type PerformanceHandler struct {
	perf   PerformanceService
	logger *slog.Logger
}

// NewPerformanceHandler creates a PerformanceHandler.
func NewPerformanceHandler(perf PerformanceService, logger *slog.Logger) *PerformanceHandler {
	return &PerformanceHandler{perf: perf, logger: logger}
}

// Get returns the user's performance summary.
// GET /api/users/{user_id}/performance
func (h *PerformanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	perf, err := h.perf.Compute(r.Context(), pathParam(r, "user_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to compute performance")
		return
	}
	writeJSON(w, http.StatusOK, perf)
}
