package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/interledger/ilp-gateway/internal/settlement"
)

// inboundSettlementRequest is the body a settlement engine posts back to
// report value it has received on this account's behalf.
type inboundSettlementRequest struct {
	Amount string `json:"amount"`
	Scale  uint8  `json:"scale"`
}

// inboundSettlement is the settlement-engine-facing half of the bridge: a
// settlement engine that has received value for username posts here,
// keyed by Idempotency-Key, and the balance engine is credited exactly
// once per key.
func (h *Handler) inboundSettlement(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if h.cfg.Settlements == nil {
		writeError(w, http.StatusNotImplemented, "settlement bridge not configured")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header is required")
		return
	}

	var req inboundSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	amount, err := strconv.ParseUint(req.Amount, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string")
		return
	}

	resp, err := h.cfg.Settlements.HandleInbound(r.Context(), idempotencyKey, username, amount, req.Scale)
	if err != nil {
		if errors.Is(err, settlement.ErrIdempotencyConflict) {
			writeError(w, http.StatusConflict, "idempotency key reused with a different amount")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to process settlement notification")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(resp)
}
