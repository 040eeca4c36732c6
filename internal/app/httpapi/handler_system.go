package httpapi

import (
	"net/http"
	"strings"

	apperrors "github.com/R3E-Network/supplychain/internal/errors"
	"github.com/R3E-Network/supplychain/internal/httputil"
)

func (h *handler) oraclePrice(w http.ResponseWriter, r *http.Request) {
	if h.oracle == nil {
		httputil.WriteErrorResponse(w, r, http.StatusServiceUnavailable, "ORACLE_UNAVAILABLE", "price oracle not configured", nil)
		return
	}
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		h.writeError(w, r, apperrors.InvalidInput("symbol is required"))
		return
	}
	quote, err := h.oracle.Quote(r.Context(), symbol)
	if err != nil {
		if apperrors.GetServiceError(err) != nil {
			h.writeError(w, r, err)
			return
		}
		h.log.WithError(err).WithField("symbol", symbol).Warn("oracle quote failed")
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "ORACLE_UNAVAILABLE", "price oracle request failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *handler) haltStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"halted": h.svc.Halted(r.Context())})
}

func (h *handler) setHalt(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Halted *bool `json:"halted"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if payload.Halted == nil {
		h.writeError(w, r, apperrors.InvalidInput("halted is required"))
		return
	}
	if err := h.svc.SetHalted(r.Context(), caller(r), *payload.Halted); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"halted": *payload.Halted})
}

func (h *handler) listRequests(w http.ResponseWriter, r *http.Request) {
	admin, err := h.svc.IsAdmin(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !admin {
		h.writeError(w, r, apperrors.NotAuthorized("account %s is not an admin", caller(r)))
		return
	}
	writeJSON(w, http.StatusOK, h.requests.listLimit(queryLimit(r, 0)))
}
