package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEntryType возвращается при разборе записи неизвестного типа.
var ErrUnknownEntryType = errors.New("unknown entry type")

// Payload описывает содержимое записи журнала. Реализуется только типами этого пакета.
type Payload interface {
	EntryType() EntryType
	sealed()
}

// SalePayload описывает продажу: проданные товары, внесённые деньги и выданную сдачу.
type SalePayload struct {
	ProductIDs  []int64           `json:"products"`
	TotalPrice  int64             `json:"totalPrice"`
	PaidAmount  DenominationCount `json:"paidAmount"`
	ChangeGiven DenominationCount `json:"changeGiven"`
}

// DepositPayload описывает внесение наличных в ящик.
type DepositPayload struct {
	Person string            `json:"person"`
	Amount DenominationCount `json:"amount"`
}

// WithdrawalPayload описывает изъятие наличных из ящика.
type WithdrawalPayload struct {
	Person string            `json:"person"`
	Amount DenominationCount `json:"amount"`
}

// ReversalPayload ссылается на отменяемую запись.
type ReversalPayload struct {
	OriginalEntryID int64 `json:"original_entry_id"`
}

func (SalePayload) EntryType() EntryType       { return EntryTypeSale }
func (DepositPayload) EntryType() EntryType    { return EntryTypeDeposit }
func (WithdrawalPayload) EntryType() EntryType { return EntryTypeWithdrawal }
func (ReversalPayload) EntryType() EntryType   { return EntryTypeReversal }

func (SalePayload) sealed()       {}
func (DepositPayload) sealed()    {}
func (WithdrawalPayload) sealed() {}
func (ReversalPayload) sealed()   {}

// EncodePayload сериализует содержимое записи для хранения.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode payload: %w", ErrUnknownEntryType)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.EntryType(), err)
	}
	return data, nil
}

// DecodePayload восстанавливает содержимое записи по её типу.
func DecodePayload(t EntryType, raw []byte) (Payload, error) {
	switch t {
	case EntryTypeSale:
		var p SalePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode sale payload: %w", err)
		}
		return p, nil
	case EntryTypeDeposit:
		var p DepositPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode deposit payload: %w", err)
		}
		return p, nil
	case EntryTypeWithdrawal:
		var p WithdrawalPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode withdrawal payload: %w", err)
		}
		return p, nil
	case EntryTypeReversal:
		var p ReversalPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode reversal payload: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEntryType, t)
}
