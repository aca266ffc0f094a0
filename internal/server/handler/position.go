package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/alanyoungcy/paperledger/internal/service"
)

// PositionService defines the methods that the position handler requires
// from the service layer.
type PositionService interface {
	ListOpen(ctx context.Context, userID string) ([]domain.PositionView, error)
	History(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.PositionView, error)
	Get(ctx context.Context, userID, positionID string) (domain.PositionView, error)
	Action(ctx context.Context, userID, positionID string, req service.ActionRequest) (service.ActionResult, error)
	Close(ctx context.Context, userID, positionID string) (service.ActionResult, error)
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.PositionView `json:"positions"`
}

// ListOpen returns open positions after evaluating stop-loss and
// take-profit thresholds.
// GET /api/users/{user_id}/positions
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.ListOpen(r.Context(), pathParam(r, "user_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list positions")
		return
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: nonNil(positions)})
}

// History returns closed positions.
// GET /api/users/{user_id}/positions/history
func (h *PositionHandler) History(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list position history")
		return
	}
	positions, err := h.positions.History(r.Context(), pathParam(r, "user_id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list position history")
		return
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: nonNil(positions)})
}

// Get returns one position.
// GET /api/users/{user_id}/positions/{position_id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.Get(r.Context(), pathParam(r, "user_id"), pathParam(r, "position_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Action buys more, sells part of, or sells all of a position.
// POST /api/users/{user_id}/positions/{position_id}/action
func (h *PositionHandler) Action(w http.ResponseWriter, r *http.Request) {
	var req service.ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to apply position action")
		return
	}
	res, err := h.positions.Action(r.Context(), pathParam(r, "user_id"), pathParam(r, "position_id"), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to apply position action")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Close sells the whole position at the market price.
// POST /api/users/{user_id}/positions/{position_id}/close
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	res, err := h.positions.Close(r.Context(), pathParam(r, "user_id"), pathParam(r, "position_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to close position")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func nonNil(v []domain.PositionView) []domain.PositionView {
	if v == nil {
		return []domain.PositionView{}
	}
	return v
}
