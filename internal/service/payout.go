package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmeshcher/cash-drawer/internal/drawer"
	"github.com/mmeshcher/cash-drawer/internal/model"
	"github.com/mmeshcher/cash-drawer/internal/repository"
	"github.com/mmeshcher/cash-drawer/internal/validation"
)

// SuggestPayout считает, сколько причитается продавцу или вносителю,
// и предлагает, какими номиналами выдать эту сумму из ящика.
// Имя сравнивается без окружающих пробелов, как оно сохраняется при записи.
// Журнал не меняется.
func (s *Service) SuggestPayout(ctx context.Context, instanceID string, kind model.PartyKind, name string) (model.Payout, error) {
	name = strings.TrimSpace(name)
	if err := validation.PartyName(name); err != nil {
		return model.Payout{}, err
	}

	var entitled func(entries []model.LedgerEntry) int64
	switch kind {
	case model.PartySeller:
		products, err := s.catalog.FindProductsBySeller(ctx, instanceID, name)
		if err != nil {
			return model.Payout{}, err
		}
		prices := make(map[int64]int64, len(products))
		for _, p := range products {
			prices[p.ID] = p.Price
		}
		entitled = func(entries []model.LedgerEntry) int64 {
			return sellerTotal(entries, prices)
		}
	case model.PartyDepositor:
		entitled = func(entries []model.LedgerEntry) int64 {
			return depositorTotal(entries, name)
		}
	default:
		return model.Payout{}, fmt.Errorf("%w: %q", ErrUnknownParty, kind)
	}

	var (
		total   int64
		balance model.DenominationCount
	)
	err := s.repo.InInstanceTx(ctx, instanceID, func(ctx context.Context, tx repository.LedgerTx) error {
		entries, err := tx.ListEntries(ctx)
		if err != nil {
			return err
		}
		total = entitled(entries)
		balance = drawer.Reconstruct(s.set, entries)
		return nil
	})
	if err != nil {
		return model.Payout{}, err
	}

	if total == 0 {
		return model.Payout{TotalAmount: 0, SuggestedPayout: model.DenominationCount{}}, nil
	}

	if have := balance.Total(); have < total {
		return model.Payout{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, have, total)
	}

	payout, err := drawer.ComputeChange(s.set, balance, total)
	if err != nil {
		return model.Payout{}, err
	}
	return model.Payout{TotalAmount: total, SuggestedPayout: payout}, nil
}

// sellerTotal суммирует цены проданных товаров продавца по неотменённым продажам.
func sellerTotal(entries []model.LedgerEntry, prices map[int64]int64) int64 {
	var total int64
	for _, e := range entries {
		sale, ok := e.Payload.(model.SalePayload)
		if !ok || e.IsReverted {
			continue
		}
		for _, id := range sale.ProductIDs {
			total += prices[id]
		}
	}
	return total
}

// depositorTotal суммирует неотменённые внесения указанного человека.
func depositorTotal(entries []model.LedgerEntry, person string) int64 {
	var total int64
	for _, e := range entries {
		dep, ok := e.Payload.(model.DepositPayload)
		if !ok || e.IsReverted || dep.Person != person {
			continue
		}
		total += dep.Amount.Total()
	}
	return total
}
