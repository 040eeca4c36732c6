package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/supplychain/internal/app/domain/product"
	"github.com/R3E-Network/supplychain/internal/app/services/products"
	"github.com/R3E-Network/supplychain/internal/app/services/ratings"
)

func (h *handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name   string     `json:"name"`
		Price  int64      `json:"price"`
		Expiry *time.Time `json:"expiry"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	in := products.CreateInput{Name: payload.Name, Price: payload.Price}
	if payload.Expiry != nil {
		in.Expiry = *payload.Expiry
	}
	p, err := h.svc.CreateProduct(r.Context(), caller(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.Product(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) updateDetails(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var details product.Details
	if err := decodeJSON(r.Body, &details); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.UpdateDetails(r.Context(), caller(r), id, details)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) removeProduct(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.Remove(r.Context(), caller(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) productHistory(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	hist, err := h.svc.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *handler) productTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	recs, err := h.svc.Transactions(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) productTransitions(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	states, err := h.svc.AllowedTransitions(r.Context(), id, caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"product_id": id,
		"allowed":    states,
	})
}

type statusPayload struct {
	Status string `json:"status"`
}

func (h *handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.svc.UpdateStatus)
}

func (h *handler) forceStatus(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.svc.ForceStatus)
}

func (h *handler) changeStatus(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, caller string, id int64, label string) (product.Product, error)) {
	id, err := productID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var payload statusPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := apply(r.Context(), caller(r), id, payload.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) transfer(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var payload struct {
		NewOwner      string `json:"new_owner"`
		FinalCustomer string `json:"final_customer"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.Transfer(r.Context(), caller(r), id, strings.TrimSpace(payload.NewOwner), strings.TrimSpace(payload.FinalCustomer))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) returnProduct(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.Return(r.Context(), caller(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.MarkVerified(r.Context(), caller(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) rate(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var payload struct {
		Stars       int    `json:"stars"`
		Comment     string `json:"comment"`
		Fingerprint string `json:"fingerprint"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	// A comment wins over a caller-supplied fingerprint.
	fingerprint := payload.Fingerprint
	if payload.Comment != "" {
		fingerprint = ratings.Fingerprint(payload.Comment)
	}
	rated, err := h.svc.Rate(r.Context(), caller(r), id, payload.Stars, fingerprint)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rated)
}

func (h *handler) averageRating(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	summary, err := h.svc.AverageRating(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handler) raterRating(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rated, err := h.svc.Rating(r.Context(), id, mux.Vars(r)["rater"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rated)
}

func (h *handler) fullHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.FullHistory(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
