package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/supplychain/internal/app/domain/role"
	apperrors "github.com/R3E-Network/supplychain/internal/errors"
)

type roleChange struct {
	Account string `json:"account"`
	Role    string `json:"role"`
}

func (c roleChange) parse() (string, role.Role, error) {
	account := strings.TrimSpace(c.Account)
	if account == "" {
		return "", role.None, apperrors.InvalidInput("account is required")
	}
	r, ok := role.Parse(c.Role)
	if !ok {
		return "", role.None, apperrors.InvalidInput("unknown role %q", c.Role)
	}
	return account, r, nil
}

func (h *handler) selectRole(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	selected, ok := role.Parse(payload.Role)
	if !ok {
		h.writeError(w, r, apperrors.InvalidInput("unknown role %q", payload.Role))
		return
	}
	if err := h.svc.AssignInitialRole(r.Context(), caller(r), selected); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeRole(w, r, caller(r))
}

func (h *handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var payload roleChange
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	account, target, err := payload.parse()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.AssignRole(r.Context(), caller(r), account, target); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeRole(w, r, account)
}

func (h *handler) removeRole(w http.ResponseWriter, r *http.Request) {
	var payload roleChange
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	account, target, err := payload.parse()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.RemoveRole(r.Context(), caller(r), account, target); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeRole(w, r, account)
}

func (h *handler) listAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.svc.Admins(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"admins": admins})
}

func (h *handler) addAdmin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Account string `json:"account"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	account := strings.TrimSpace(payload.Account)
	if err := h.svc.AddAdmin(r.Context(), caller(r), account); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeRole(w, r, account)
}

func (h *handler) removeAdmin(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	if err := h.svc.RemoveAdmin(r.Context(), caller(r), account); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) accountRole(w http.ResponseWriter, r *http.Request) {
	h.writeRole(w, r, mux.Vars(r)["account"])
}

func (h *handler) writeRole(w http.ResponseWriter, r *http.Request, account string) {
	info, err := h.svc.Role(r.Context(), account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) accountProducts(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	ids, err := h.svc.ProductsByOwner(r.Context(), account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":     account,
		"product_ids": ids,
	})
}

func (h *handler) accountBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Balance(r.Context(), mux.Vars(r)["account"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handler) accountMovements(w http.ResponseWriter, r *http.Request) {
	moves, err := h.svc.Movements(r.Context(), mux.Vars(r)["account"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moves)
}

type amountPayload struct {
	Amount int64 `json:"amount"`
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	var payload amountPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.svc.Deposit(r.Context(), caller(r), payload.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var payload amountPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.svc.Withdraw(r.Context(), caller(r), payload.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
