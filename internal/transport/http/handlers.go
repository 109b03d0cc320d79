package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"perimeter/internal/engine"
	"perimeter/internal/fence"
	"perimeter/internal/fraud"
	"perimeter/internal/geo"
	"perimeter/internal/ledger"
	"perimeter/internal/platform/middleware"
	"perimeter/internal/transport/http/shared"
	id "perimeter/pkg/domain"
	dErrors "perimeter/pkg/domain-errors"
)

// Engine is the transition-processing seam the handler depends on.
type Engine interface {
	Process(ctx context.Context, update engine.LocationUpdate) (*engine.Result, error)
}

// Handler is the thin HTTP layer. Classification lives in the engine; the
// handler only translates protocol to LocationUpdate and back.
type Handler struct {
	engine       Engine
	fences       fence.Store
	ledger       ledger.Store
	fraudEvents  fraud.Store
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
	health       func(ctx context.Context) error
}

func New(
	eng Engine,
	fences fence.Store,
	ledgerStore ledger.Store,
	fraudStore fraud.Store,
	logger *slog.Logger,
	jwtValidator middleware.JWTValidator,
	health func(ctx context.Context) error,
) *Handler {
	return &Handler{
		engine:       eng,
		fences:       fences,
		ledger:       ledgerStore,
		fraudEvents:  fraudStore,
		logger:       logger,
		jwtValidator: jwtValidator,
		health:       health,
	}
}

// handleSubmitLocation accepts one location sample for the authenticated user.
func (h *Handler) handleSubmitLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	userID, err := id.ParseUserID(middleware.GetUserID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "userID missing from context despite auth middleware",
			"request_id", requestID,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing authenticated identity"))
		return
	}

	var req locationUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid location update body",
			"request_id", requestID,
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	update := engine.LocationUpdate{
		UserID:            userID,
		Coordinate:        geo.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude},
		DeviceFingerprint: req.DeviceFingerprint,
	}
	if req.Timestamp != nil {
		update.Timestamp = *req.Timestamp
	}

	result, err := h.engine.Process(ctx, update)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeBadRequest) || dErrors.Is(err, dErrors.CodeConflict) {
			h.logger.WarnContext(ctx, "location update rejected",
				"request_id", requestID,
				"error", err.Error(),
			)
			shared.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "location update processing failed",
			"request_id", requestID,
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to process location update"))
		return
	}

	shared.WriteJSON(w, http.StatusOK, newTransitionResponse(result))
}

func (h *Handler) handleListFences(w http.ResponseWriter, r *http.Request) {
	areas, err := h.fences.ListAll(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "fence list failed", "error", err.Error())
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to list fences"))
		return
	}
	resp := make([]*fenceResponse, 0, len(areas))
	for _, area := range areas {
		resp = append(resp, newFenceResponse(area))
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleOccupants(w http.ResponseWriter, r *http.Request) {
	fenceID, err := id.ParseFenceID(pathParam(r, "fenceID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid fence id"))
		return
	}
	users, err := h.ledger.ListOccupants(r.Context(), fenceID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "occupant list failed",
			"fence_id", fenceID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to list occupants"))
		return
	}
	resp := occupantsResponse{FenceID: fenceID.String(), Occupants: make([]string, 0, len(users))}
	for _, userID := range users {
		resp.Occupants = append(resp.Occupants, userID.String())
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := id.ParseUserID(pathParam(r, "userID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user id"))
		return
	}
	records, err := h.ledger.ListByUser(r.Context(), userID, 100)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "history list failed",
			"user_id", userID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to list history"))
		return
	}
	if records == nil {
		records = []*ledger.LocationRecord{}
	}
	shared.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleFraudEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := id.ParseUserID(pathParam(r, "userID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user id"))
		return
	}
	events, err := h.fraudEvents.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "fraud event list failed",
			"user_id", userID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to list fraud events"))
		return
	}
	if events == nil {
		events = []fraud.Event{}
	}
	shared.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health(ctx); err != nil {
			shared.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}
