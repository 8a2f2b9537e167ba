package cart

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/kasir-api/internal/common"
	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/store"
)

// TerminalHeader carries the terminal identity; every cart operation is
// scoped to it.
const TerminalHeader = "X-Terminal-Id"

// Terminal resolves the terminal id for a request, defaulting to a single
// shared terminal for one-device deployments.
func Terminal(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(TerminalHeader)); t != "" {
		return t
	}
	return "default"
}

// Handler wires the cart service to HTTP.
type Handler struct {
	Svc *Service
}

type lineRequest struct {
	ProductID      int64 `json:"productId"`
	VariationIndex *int  `json:"variationIndex"`
	Quantity       int   `json:"quantity"`
}

// Get returns the terminal's cart with derived totals.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, totals := h.Svc.Get(r.Context(), Terminal(r))
	writeCart(w, http.StatusOK, c, totals)
}

// AddLine adds a sellable unit to the cart.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	var payload lineRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if payload.ProductID <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "productId is required", nil)
		return
	}
	c, err := h.Svc.AddLine(r.Context(), Terminal(r), payload.ProductID, payload.VariationIndex, payload.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeCart(w, http.StatusOK, c, Compute(c))
}

// UpdateQuantity sets a line quantity; zero removes the line.
func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var payload lineRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	c, err := h.Svc.UpdateQuantity(r.Context(), Terminal(r), payload.ProductID, payload.VariationIndex, payload.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeCart(w, http.StatusOK, c, Compute(c))
}

// RemoveLine drops a line.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	var payload lineRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	c, err := h.Svc.RemoveLine(r.Context(), Terminal(r), payload.ProductID, payload.VariationIndex)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeCart(w, http.StatusOK, c, Compute(c))
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	h.Svc.Clear(r.Context(), Terminal(r))
	writeCart(w, http.StatusOK, domain.Cart{}, Totals{})
}

// SetCustomer attaches a customer to the cart.
func (h *Handler) SetCustomer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ContactID int64 `json:"contactId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ContactID <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "contactId is required", nil)
		return
	}
	c, err := h.Svc.SetCustomer(r.Context(), Terminal(r), payload.ContactID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeCart(w, http.StatusOK, c, Compute(c))
}

// ClearCustomer detaches the customer.
func (h *Handler) ClearCustomer(w http.ResponseWriter, r *http.Request) {
	c := h.Svc.ClearCustomer(r.Context(), Terminal(r))
	writeCart(w, http.StatusOK, c, Compute(c))
}

// AddFee attaches a fee snapshot.
func (h *Handler) AddFee(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FeeID int64 `json:"feeId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.FeeID <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "feeId is required", nil)
		return
	}
	c, err := h.Svc.AddFee(r.Context(), Terminal(r), payload.FeeID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeCart(w, http.StatusOK, c, Compute(c))
}

// RemoveFee drops a fee snapshot.
func (h *Handler) RemoveFee(w http.ResponseWriter, r *http.Request) {
	feeID, err := strconv.ParseInt(chi.URLParam(r, "feeID"), 10, 64)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid fee id", nil)
		return
	}
	c, err := h.Svc.RemoveFee(r.Context(), Terminal(r), feeID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeCart(w, http.StatusOK, c, Compute(c))
}

// Hold snapshots the cart into pending transactions.
func (h *Handler) Hold(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Svc.Hold(r.Context(), Terminal(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": pending})
}

// Resume restores a held cart.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid pending id", nil)
		return
	}
	c, err := h.Svc.Resume(r.Context(), Terminal(r), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeCart(w, http.StatusOK, c, Compute(c))
}

// ListPending lists held carts.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Svc.ListPending(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": pending})
}

// DeletePending discards a held cart.
func (h *Handler) DeletePending(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid pending id", nil)
		return
	}
	if err := h.Svc.DeletePending(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"deleted": id}})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "record not found", nil)
	case errors.Is(err, ErrLineNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "line not in cart", nil)
	case errors.Is(err, ErrOutOfStock), errors.Is(err, ErrInsufficientStock):
		common.JSONError(w, http.StatusConflict, "OUT_OF_STOCK", err.Error(), nil)
	case errors.Is(err, ErrUnknownVariation), errors.Is(err, ErrNotCustomer), errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart operation failed", nil)
	}
}

func writeCart(w http.ResponseWriter, status int, c domain.Cart, totals Totals) {
	common.JSON(w, status, map[string]any{
		"data": map[string]any{
			"cart":   c,
			"totals": totals,
		},
	})
}
