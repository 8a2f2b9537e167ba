package settlement

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/noah-isme/kasir-api/internal/cart"
	"github.com/noah-isme/kasir-api/internal/common"
	"github.com/noah-isme/kasir-api/internal/domain"
)

// Handler wires the settlement service to HTTP.
type Handler struct {
	Svc *Service
}

// Begin freezes the cart into a settlement session.
func (h *Handler) Begin(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Svc.Begin(r.Context(), cart.Terminal(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sess})
}

// Preview returns the in-progress session.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Svc.Preview(r.Context(), cart.Terminal(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sess})
}

// SelectMethod chooses the payment method.
func (h *Handler) SelectMethod(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Method domain.PaymentMethod `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	sess, err := h.Svc.SelectMethod(r.Context(), cart.Terminal(r), payload.Method)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sess})
}

// EnterAmount records the cash handed over.
func (h *Handler) EnterAmount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CashPaid domain.Money `json:"cashPaid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	sess, err := h.Svc.EnterAmount(r.Context(), cart.Terminal(r), payload.CashPaid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sess})
}

// ToggleDonation switches the round-up for this session.
func (h *Handler) ToggleDonation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	sess, err := h.Svc.ToggleDonation(r.Context(), cart.Terminal(r), payload.Enabled)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sess})
}

// Confirm builds and persists the transaction.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Svc.Confirm(r.Context(), cart.Terminal(r), common.RequestUser(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": tx})
}

// Cancel abandons the session.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.Svc.Cancel(r.Context(), cart.Terminal(r))
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"cancelled": true}})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrEmptyCart):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart is empty", nil)
	case errors.Is(err, ErrNoSession):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no settlement in progress", nil)
	case errors.Is(err, ErrUnknownMethod), errors.Is(err, ErrDebtNeedsCustomer), errors.Is(err, ErrWrongState):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrInsufficientCash), errors.Is(err, ErrDebtOverpaid):
		common.JSONError(w, http.StatusUnprocessableEntity, "PAYMENT_INVALID", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "settlement failed", nil)
	}
}
