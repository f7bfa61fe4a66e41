package adminapi

import (
	"math"
	"net/http"
	"strconv"
)

type balanceResponse struct {
	Balance   string `json:"balance"`
	AssetCode string `json:"asset_code"`
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	auth, err := h.authenticate(r)
	if err != nil || !auth.canAccess(username) {
		writeError(w, http.StatusUnauthorized, "not authorized for this account")
		return
	}
	a, err := h.cfg.Accounts.GetByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	settled, prepaid := h.cfg.Balances.Balance(a.Username)
	major := float64(settled+prepaid) / math.Pow10(int(a.AssetScale))
	writeJSON(w, http.StatusOK, balanceResponse{
		Balance:   strconv.FormatFloat(major, 'f', -1, 64),
		AssetCode: a.AssetCode,
	})
}
