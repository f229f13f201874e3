package handler

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/cash-drawer/internal/model"
)

type entryResponse struct {
	ID            int64           `json:"id"`
	PosInstanceID string          `json:"pos_instance_id"`
	EntryType     model.EntryType `json:"entry_type"`
	Data          model.Payload   `json:"data"`
	IsReverted    bool            `json:"is_reverted"`
	CreatedAt     string          `json:"created_at"`
}

func newEntryResponse(e model.LedgerEntry) entryResponse {
	return entryResponse{
		ID:            e.ID,
		PosInstanceID: e.PosInstanceID,
		EntryType:     e.Type(),
		Data:          e.Payload,
		IsReverted:    e.IsReverted,
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
}

// ListLedger возвращает журнал кассы, новые записи первыми.
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListLedger(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.fail(w, r, err, "list ledger error")
		return
	}

	resp := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, newEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

type cashMovementRequest struct {
	EntryType model.EntryType `json:"entry_type" validate:"required,oneof=deposit withdrawal"`
	Data      struct {
		Person string                  `json:"person" validate:"required,max=200"`
		Amount model.DenominationCount `json:"amount" validate:"required"`
	} `json:"data"`
}

// CreateLedgerEntry записывает внесение или изъятие денег.
func (h *Handler) CreateLedgerEntry(w http.ResponseWriter, r *http.Request) {
	var req cashMovementRequest
	if !decode(w, r, &req) {
		return
	}

	instanceID := chi.URLParam(r, "instanceID")

	var (
		entry model.LedgerEntry
		err   error
	)
	switch req.EntryType {
	case model.EntryTypeDeposit:
		entry, err = h.service.RecordDeposit(r.Context(), instanceID, req.Data.Person, req.Data.Amount)
	case model.EntryTypeWithdrawal:
		entry, err = h.service.RecordWithdrawal(r.Context(), instanceID, req.Data.Person, req.Data.Amount)
	}
	if err != nil {
		h.fail(w, r, err, "create ledger entry error")
		return
	}
	writeJSON(w, http.StatusCreated, newEntryResponse(entry))
}

// GetBalance возвращает восстановленное содержимое ящика.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.DrawerBalance(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.fail(w, r, err, "get balance error")
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

type cartItem struct {
	ID int64 `json:"id" validate:"gt=0"`
}

type saleRequest struct {
	Cart       []cartItem              `json:"cart" validate:"required,min=1,dive"`
	PaidAmount model.DenominationCount `json:"paidAmount" validate:"required"`
}

type saleResponse struct {
	EntryID     int64                   `json:"entry_id"`
	Subtotal    int64                   `json:"subtotal"`
	TotalPrice  int64                   `json:"totalPrice"`
	ChangeGiven model.DenominationCount `json:"changeGiven"`
}

// FinalizeSale проводит продажу. Цены товаров берутся из каталога, а не из запроса.
func (h *Handler) FinalizeSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if !decode(w, r, &req) {
		return
	}

	ids := make([]int64, 0, len(req.Cart))
	for _, item := range req.Cart {
		ids = append(ids, item.ID)
	}

	res, err := h.service.FinalizeSale(r.Context(), chi.URLParam(r, "instanceID"), ids, req.PaidAmount)
	if err != nil {
		h.fail(w, r, err, "finalize sale error")
		return
	}
	writeJSON(w, http.StatusCreated, saleResponse{
		EntryID:     res.Entry.ID,
		Subtotal:    res.Subtotal,
		TotalPrice:  res.TotalPrice,
		ChangeGiven: res.ChangeGiven,
	})
}

// SuggestPayout предлагает выплату продавцу или вносителю.
func (h *Handler) SuggestPayout(w http.ResponseWriter, r *http.Request) {
	// chi сопоставляет маршрут по RawPath, только если он задан; иначе параметр уже раскодирован.
	name := chi.URLParam(r, "name")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid name")
			return
		}
		name = unescaped
	}
	kind := model.PartyKind(chi.URLParam(r, "kind"))

	payout, err := h.service.SuggestPayout(r.Context(), chi.URLParam(r, "instanceID"), kind, name)
	if err != nil {
		h.fail(w, r, err, "suggest payout error")
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

type revertResponse struct {
	Message    string        `json:"message"`
	ReversalID int64         `json:"reversal_id"`
	Reversal   entryResponse `json:"reversal"`
}

// RevertEntry отменяет запись журнала.
func (h *Handler) RevertEntry(w http.ResponseWriter, r *http.Request) {
	entryID, ok := int64Param(r, "entryID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	reversal, err := h.service.Revert(r.Context(), entryID)
	if err != nil {
		h.fail(w, r, err, "revert entry error")
		return
	}
	writeJSON(w, http.StatusOK, revertResponse{
		Message:    "Entry reverted successfully",
		ReversalID: reversal.ID,
		Reversal:   newEntryResponse(reversal),
	})
}
