// Package model содержит доменные сущности сервиса денежного ящика.
package model

import "time"

// PosInstance представляет отдельную кассу, к которой привязаны журнал и товары.
type PosInstance struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Product описывает товар из каталога кассы.
type Product struct {
	ID            int64     `json:"id"`
	PosInstanceID string    `json:"pos_instance_id"`
	Name          string    `json:"name"`
	Price         int64     `json:"price"`
	SellerName    *string   `json:"seller_name"`
	DisplayOrder  *int64    `json:"display_order"`
	IsDeleted     bool      `json:"is_deleted"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BelongsTo сообщает, закреплён ли товар за указанным продавцом.
func (p Product) BelongsTo(seller string) bool {
	return p.SellerName != nil && *p.SellerName == seller
}

// EntryType описывает тип записи журнала.
type EntryType string

const (
	EntryTypeSale       EntryType = "sale"
	EntryTypeDeposit    EntryType = "deposit"
	EntryTypeWithdrawal EntryType = "withdrawal"
	EntryTypeReversal   EntryType = "reversal"
)

// Valid сообщает, является ли тип записи одним из известных.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeSale, EntryTypeDeposit, EntryTypeWithdrawal, EntryTypeReversal:
		return true
	}
	return false
}

// LedgerEntry описывает неизменяемую запись журнала денежного ящика.
// После добавления меняется только флаг IsReverted, и только один раз.
type LedgerEntry struct {
	ID            int64
	PosInstanceID string
	Payload       Payload
	IsReverted    bool
	CreatedAt     time.Time
}

// Type возвращает тип записи, определяемый её содержимым.
func (e LedgerEntry) Type() EntryType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EntryType()
}

// PartyKind описывает, кому предлагается выплата.
type PartyKind string

const (
	PartySeller    PartyKind = "seller"
	PartyDepositor PartyKind = "depositor"
)

// Payout содержит предложенную выплату стороне.
type Payout struct {
	TotalAmount     int64             `json:"totalAmount"`
	SuggestedPayout DenominationCount `json:"suggestedPayout"`
}

// Balance содержит восстановленное содержимое ящика и его сумму.
type Balance struct {
	Counts DenominationCount `json:"counts"`
	Total  int64             `json:"total"`
}
