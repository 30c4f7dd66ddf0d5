/**
 * @description
 * This file contains the HTTP handler functions for the drop-payment engine.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate business logic in the service layer, and writing the HTTP
 * response. Domain and store sentinel errors are mapped onto HTTP statuses
 * here so the app layer stays transport-agnostic.
 */
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rugue/forage-stores-backend-sub000/internal/app"
	"github.com/rugue/forage-stores-backend-sub000/internal/domain"
	"github.com/rugue/forage-stores-backend-sub000/internal/store"
)

// Handler holds the application services that handlers will interact with.
type Handler struct {
	service  *app.Service
	detector *app.ConflictDetector
}

// NewHandler creates a new Handler with the given services.
func NewHandler(service *app.Service, detector *app.ConflictDetector) *Handler {
	return &Handler{service: service, detector: detector}
}

// handleCreateSubscription converts an order into a drop-payment subscription.
func (h *Handler) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActor(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		OrderID   string `json:"order_id"`
		PlanType  string `json:"plan_type"`
		Frequency string `json:"frequency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		http.Error(w, "Invalid order_id", http.StatusBadRequest)
		return
	}

	sub, err := h.service.CreateSubscriptionFromOrder(r.Context(), actor, app.CreateSubscriptionRequest{
		OrderID:   orderID,
		PlanType:  domain.PaymentPlanType(req.PlanType),
		Frequency: domain.PaymentFrequency(req.Frequency),
	})
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, sub)
}

// handleListSubscriptions returns the calling user's subscriptions.
func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActor(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	subs, err := h.service.ListSubscriptionsByUser(r.Context(), actor.UserID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, subs)
}

// handleGetSubscription returns a single subscription, owner or admin only.
func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActor(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := subscriptionIDParam(r)
	if err != nil {
		http.Error(w, "Invalid subscription id", http.StatusBadRequest)
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), actor, id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

// handleTransition serves the pause/resume/cancel/reactivate endpoints. The
// action is bound at route registration time.
func (h *Handler) handleTransition(action app.TransitionAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		id, err := subscriptionIDParam(r)
		if err != nil {
			http.Error(w, "Invalid subscription id", http.StatusBadRequest)
			return
		}

		sub, err := h.service.RequestTransition(r.Context(), actor, id, action)
		if err != nil {
			respondWithServiceError(w, err)
			return
		}

		respondWithJSON(w, http.StatusOK, sub)
	}
}

// handleProcessDrop settles the next unpaid drop of a subscription.
func (h *Handler) handleProcessDrop(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActor(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := subscriptionIDParam(r)
	if err != nil {
		http.Error(w, "Invalid subscription id", http.StatusBadRequest)
		return
	}

	var req struct {
		ForceMarkPaid  bool   `json:"force_mark_paid"`
		ExplicitAmount int64  `json:"explicit_amount"`
		IdempotencyRef string `json:"idempotency_ref"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	sub, err := h.service.ProcessNextDrop(r.Context(), id, actor, app.ProcessDropOptions{
		ForceMarkPaid:  req.ForceMarkPaid,
		ExplicitAmount: req.ExplicitAmount,
		IdempotencyRef: req.IdempotencyRef,
	})
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

// handleListSubscriptionConflicts returns the conflict history for one
// subscription. Admin only.
func (h *Handler) handleListSubscriptionConflicts(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionIDParam(r)
	if err != nil {
		http.Error(w, "Invalid subscription id", http.StatusBadRequest)
		return
	}

	conflicts, err := h.service.ListConflicts(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, conflicts)
}

// handleScanConflicts runs an on-demand conflict scan for one subscription.
// Admin only.
func (h *Handler) handleScanConflicts(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionIDParam(r)
	if err != nil {
		http.Error(w, "Invalid subscription id", http.StatusBadRequest)
		return
	}

	conflicts, err := h.detector.ScanSubscription(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, conflicts)
}

// handleListConflicts returns conflicts across subscriptions filtered by
// status. Admin only.
func (h *Handler) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	status := domain.ConflictStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.ConflictEscalated
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	conflicts, err := h.service.ListConflictsByStatus(r.Context(), status, limit)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, conflicts)
}

func subscriptionIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "subscriptionID"))
}

// respondWithServiceError maps app and store errors onto HTTP statuses.
func respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSubscriptionNotFound),
		errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, store.ErrConflictNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrSubscriptionExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, app.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, app.ErrTransitionNotAllowed),
		errors.Is(err, app.ErrAlreadyCompleted),
		errors.Is(err, app.ErrNotActive),
		errors.Is(err, app.ErrNoPendingDrops),
		errors.Is(err, app.ErrOrderNotPayable),
		errors.Is(err, app.ErrAmountMismatch),
		errors.Is(err, app.ErrUnsupportedPlanType),
		errors.Is(err, app.ErrUnsupportedFrequency),
		errors.Is(err, app.ErrNothingToSchedule):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, store.ErrInsufficientFunds), errors.Is(err, store.ErrWalletNotFound):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, app.ErrSubscriptionBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
