package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"villaops.org/internal/auth"
	"villaops.org/internal/orders"
)

type orderResponse struct {
	orders.Order
	Total   int64          `json:"total"`
	Actions orders.Actions `json:"actions"`
}

type listOrdersResponse struct {
	Items []orderResponse `json:"items"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (a *API) orderView(actor *auth.User, o orders.Order) orderResponse {
	return orderResponse{Order: o, Total: o.Total(), Actions: a.orders.Actions(actor, o)}
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireFeature(w, r, auth.FeatureInventoryAccess)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f := orders.Filter{
		Department: strings.TrimSpace(q.Get("department")),
		Limit:      limit,
	}
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		st, err := orders.ParseStatus(s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		f.Status = st
	}
	if q.Get("mine") == "true" {
		f.RequestedBy = actor.ID
	}
	list, err := a.orders.List(r.Context(), f)
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	resp := listOrdersResponse{Items: make([]orderResponse, 0, len(list))}
	for _, o := range list {
		resp.Items = append(resp.Items, a.orderView(actor, o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req orders.NewOrder
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	o, err := a.orders.Create(r.Context(), actor, req)
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, a.orderView(actor, o))
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireFeature(w, r, auth.FeatureInventoryAccess)
	if !ok {
		return
	}
	o, err := a.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.orderView(actor, o))
}

func (a *API) handleApproveOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	o, err := a.orders.Approve(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.orderView(actor, o))
}

func (a *API) handleRejectOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	o, err := a.orders.Reject(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.orderView(actor, o))
}

func (a *API) handleSendOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	o, err := a.orders.Send(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.orderView(actor, o))
}

func handleOrderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orders.ErrInvalidInput), errors.Is(err, orders.ErrReasonRequired):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "order operation failed")
	}
}
