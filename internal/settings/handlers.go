package settings

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/noah-isme/kasir-api/internal/common"
	"github.com/noah-isme/kasir-api/internal/store"
)

// Handler exposes the typed settings consumed by the pricing/settlement core.
type Handler struct {
	Svc *Service
}

type view struct {
	DonationRounding bool  `json:"enableDonationRounding"`
	PointSystem      bool  `json:"pointSystemEnabled"`
	PointMinPurchase int64 `json:"pointMinPurchase"`
	PointValue       int64 `json:"pointValuePerPoint"`
}

// Get returns the current settings, defaults for anything unset.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donation, err := h.Svc.DonationRounding(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	rules, err := h.Svc.Points(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view{
		DonationRounding: donation,
		PointSystem:      rules.Enabled,
		PointMinPurchase: rules.MinPurchase,
		PointValue:       rules.ValuePerPoint,
	}})
}

// Update sets any subset of the settings.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var payload map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	known := map[string]bool{
		KeyDonationRounding:  true,
		KeyPointSystem:       true,
		KeyPointMinPurchase:  true,
		KeyPointValuePerUnit: true,
	}
	ctx := r.Context()
	for key, raw := range payload {
		if !known[key] {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown setting "+key, nil)
			return
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid value for "+key, nil)
			return
		}
		if err := h.Svc.Set(ctx, key, value); err != nil {
			h.writeError(w, err)
			return
		}
	}
	h.Get(w, r)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "setting not found", nil)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "settings operation failed", nil)
}
