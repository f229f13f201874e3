// Package handler содержит HTTP-обработчики API денежного ящика.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/cash-drawer/internal/model"
	"github.com/mmeshcher/cash-drawer/internal/repository"
	"github.com/mmeshcher/cash-drawer/internal/service"
	"github.com/mmeshcher/cash-drawer/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateInstance(ctx context.Context) (model.PosInstance, error)
	GetInstance(ctx context.Context, id string) (model.PosInstance, error)
	ListProducts(ctx context.Context, instanceID string) ([]model.Product, error)
	CreateProduct(ctx context.Context, instanceID string, in repository.ProductInput) (model.Product, error)
	UpdateProduct(ctx context.Context, instanceID string, productID int64, in repository.ProductInput) (model.Product, error)
	DeleteProduct(ctx context.Context, instanceID string, productID int64) error
	ListDiscounts(ctx context.Context, instanceID string) ([]model.Discount, error)
	CreateDiscount(ctx context.Context, instanceID string, in repository.DiscountInput) (model.Discount, error)
	DeleteDiscount(ctx context.Context, discountID int64) error
	ListLedger(ctx context.Context, instanceID string) ([]model.LedgerEntry, error)
	RecordDeposit(ctx context.Context, instanceID, person string, amount model.DenominationCount) (model.LedgerEntry, error)
	RecordWithdrawal(ctx context.Context, instanceID, person string, amount model.DenominationCount) (model.LedgerEntry, error)
	DrawerBalance(ctx context.Context, instanceID string) (model.Balance, error)
	FinalizeSale(ctx context.Context, instanceID string, productIDs []int64, tendered model.DenominationCount) (service.SaleResult, error)
	SuggestPayout(ctx context.Context, instanceID string, kind model.PartyKind, name string) (model.Payout, error)
	Revert(ctx context.Context, entryID int64) (model.LedgerEntry, error)
}

// Handler реализует HTTP-обработчики API денежного ящика.
type Handler struct {
	service        Service
	logger         *zap.Logger
	allowedOrigins []string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// allowedOrigins задаёт источники, которым разрешены кросс-доменные запросы.
func NewHandler(s Service, logger *zap.Logger, allowedOrigins []string) *Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Handler{
		service:        s,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode читает JSON-тело запроса и проверяет его по тегам validate.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validation.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "invalid request",
			Fields: validation.Details(err),
		})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyReverted),
		errors.Is(err, service.ErrNotRevertible):
		return http.StatusConflict
	case errors.Is(err, service.ErrInsufficientFunds),
		errors.Is(err, service.ErrInsufficientChange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInsufficientPayment),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidProduct),
		errors.Is(err, service.ErrInvalidDiscount),
		errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrUnknownParty),
		errors.Is(err, validation.ErrUnknownDenomination),
		errors.Is(err, validation.ErrInvalidCount),
		errors.Is(err, validation.ErrEmptyName):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail отвечает ошибкой, соответствующей err. Непредвиденные ошибки логируются.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err), zap.String("uri", r.RequestURI))
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

func int64Param(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

type instanceResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

func newInstanceResponse(inst model.PosInstance) instanceResponse {
	return instanceResponse{ID: inst.ID, CreatedAt: inst.CreatedAt.Format(time.RFC3339)}
}

// CreateInstance создаёт новую кассу.
func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.service.CreateInstance(r.Context())
	if err != nil {
		h.fail(w, r, err, "create instance error")
		return
	}
	writeJSON(w, http.StatusCreated, newInstanceResponse(inst))
}

// GetInstance возвращает кассу.
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.service.GetInstance(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.fail(w, r, err, "get instance error")
		return
	}
	writeJSON(w, http.StatusOK, newInstanceResponse(inst))
}

type productRequest struct {
	Name         string  `json:"name" validate:"required,max=200"`
	Price        *int64  `json:"price" validate:"required,gte=0"`
	SellerName   *string `json:"seller_name" validate:"omitempty,max=200"`
	DisplayOrder *int64  `json:"display_order"`
}

func (req productRequest) input() repository.ProductInput {
	return repository.ProductInput{
		Name:         req.Name,
		Price:        *req.Price,
		SellerName:   req.SellerName,
		DisplayOrder: req.DisplayOrder,
	}
}

// ListProducts возвращает каталог товаров кассы.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.fail(w, r, err, "list products error")
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

// CreateProduct добавляет товар в каталог кассы.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.service.CreateProduct(r.Context(), chi.URLParam(r, "instanceID"), req.input())
	if err != nil {
		h.fail(w, r, err, "create product error")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateProduct изменяет товар.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := int64Param(r, "productID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req productRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.service.UpdateProduct(r.Context(), chi.URLParam(r, "instanceID"), productID, req.input())
	if err != nil {
		h.fail(w, r, err, "update product error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProduct удаляет товар из каталога.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := int64Param(r, "productID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	if err := h.service.DeleteProduct(r.Context(), chi.URLParam(r, "instanceID"), productID); err != nil {
		h.fail(w, r, err, "delete product error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
