package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/cash-drawer/internal/model"
	"github.com/mmeshcher/cash-drawer/internal/repository"
)

type discountRequest struct {
	Type    model.DiscountType `json:"type" validate:"required,oneof=quantity_discount value_discount"`
	Details struct {
		ProductIDs       []int64 `json:"product_ids" validate:"required,min=1,dive,gt=0"`
		RequiredQuantity int64   `json:"required_quantity" validate:"gte=1"`
		DiscountRate     int64   `json:"discount_rate" validate:"gte=0,lte=100"`
		DiscountValue    int64   `json:"discount_value" validate:"gte=0"`
	} `json:"details"`
}

// ListDiscounts возвращает действующие условия скидок кассы.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	discounts, err := h.service.ListDiscounts(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.fail(w, r, err, "list discounts error")
		return
	}
	if discounts == nil {
		discounts = []model.Discount{}
	}
	writeJSON(w, http.StatusOK, discounts)
}

// CreateDiscount добавляет условие скидки кассы.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if !decode(w, r, &req) {
		return
	}

	d, err := h.service.CreateDiscount(r.Context(), chi.URLParam(r, "instanceID"), repository.DiscountInput{
		Type: req.Type,
		Details: model.DiscountDetails{
			ProductIDs:       req.Details.ProductIDs,
			RequiredQuantity: req.Details.RequiredQuantity,
			DiscountRate:     req.Details.DiscountRate,
			DiscountValue:    req.Details.DiscountValue,
		},
	})
	if err != nil {
		h.fail(w, r, err, "create discount error")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// DeleteDiscount удаляет условие скидки.
func (h *Handler) DeleteDiscount(w http.ResponseWriter, r *http.Request) {
	discountID, ok := int64Param(r, "discountID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid discount id")
		return
	}

	if err := h.service.DeleteDiscount(r.Context(), discountID); err != nil {
		h.fail(w, r, err, "delete discount error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
