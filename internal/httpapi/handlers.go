package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/service"
	"posbackoffice/backend/internal/store"
)

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	resp, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := int64Param(r, "saleID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.GetSale(r.Context(), saleID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleVoidSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := int64Param(r, "saleID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.VoidSale(r.Context(), saleID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleVoidSaleItem(w http.ResponseWriter, r *http.Request) {
	saleItemID, err := int64Param(r, "itemID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.VoidSaleItem(r.Context(), saleItemID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("order id must be a uuid"))
		return
	}

	order, err := a.service.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleVoidOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("order id must be a uuid"))
		return
	}

	var req domain.VoidOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.VoidOrder(r.Context(), orderID, req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetStock(w http.ResponseWriter, r *http.Request) {
	itemID, err := int64Param(r, "itemID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := a.service.GetStock(r.Context(), itemID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleGetTab(w http.ResponseWriter, r *http.Request) {
	tabID, err := int64Param(r, "tabID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tab, err := a.service.GetTab(r.Context(), tabID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tab)
}

func int64Param(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, store.ErrInvalidSale):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyVoided), errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
