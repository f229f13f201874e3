package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/cash-drawer/internal/drawer"
	"github.com/mmeshcher/cash-drawer/internal/model"
	"github.com/mmeshcher/cash-drawer/internal/repository"
	"github.com/mmeshcher/cash-drawer/internal/validation"
)

// SaleResult описывает проведённую продажу.
type SaleResult struct {
	Entry       model.LedgerEntry
	Subtotal    int64
	TotalPrice  int64
	ChangeGiven model.DenominationCount
	Balance     model.DenominationCount
}

// FinalizeSale проводит продажу корзины productIDs с оплатой tendered.
// Цены берутся из каталога, итог при наличии движка скидок считает он.
// Сдача набирается жадно из ящика вместе с внесёнными деньгами.
// Чтение баланса и добавление записи выполняются в одной транзакции кассы.
func (s *Service) FinalizeSale(ctx context.Context, instanceID string, productIDs []int64, tendered model.DenominationCount) (SaleResult, error) {
	if len(productIDs) == 0 {
		return SaleResult{}, ErrEmptyCart
	}
	if err := validation.DenominationCount(s.set, tendered); err != nil {
		return SaleResult{}, err
	}
	tendered = tendered.Normalize()

	cart, err := s.resolveCart(ctx, instanceID, productIDs)
	if err != nil {
		return SaleResult{}, err
	}
	var subtotal int64
	for _, p := range cart {
		subtotal += p.Price
	}
	totalPrice, err := s.salePrice(ctx, instanceID, cart, subtotal)
	if err != nil {
		return SaleResult{}, err
	}

	totalTendered := tendered.Total()
	if totalTendered < totalPrice {
		return SaleResult{}, fmt.Errorf("%w: tendered %d, price %d", ErrInsufficientPayment, totalTendered, totalPrice)
	}
	changeDue := totalTendered - totalPrice

	var (
		res SaleResult
		st  drawerState
	)
	err = s.repo.InInstanceTx(ctx, instanceID, func(ctx context.Context, tx repository.LedgerTx) error {
		var err error
		st, err = s.balanceInTx(ctx, instanceID, tx)
		if err != nil {
			return err
		}

		postTender := st.counts.Add(tendered)
		change, err := drawer.ComputeChange(s.set, postTender, changeDue)
		if err != nil {
			if errors.Is(err, drawer.ErrInsufficientFunds) {
				return fmt.Errorf("%w: change %d", ErrInsufficientChange, changeDue)
			}
			return err
		}

		entry, err := tx.AppendEntry(ctx, model.SalePayload{
			ProductIDs:  productIDs,
			TotalPrice:  totalPrice,
			PaidAmount:  tendered,
			ChangeGiven: change,
		})
		if err != nil {
			return err
		}

		st = drawerState{counts: postTender.Sub(change), throughID: entry.ID}
		res = SaleResult{Entry: entry, Subtotal: subtotal, TotalPrice: totalPrice, ChangeGiven: change, Balance: st.counts}
		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}

	s.storeSnapshot(ctx, instanceID, st)
	return res, nil
}

// resolveCart возвращает товары корзины в порядке покупки. Товар может встречаться несколько раз.
func (s *Service) resolveCart(ctx context.Context, instanceID string, productIDs []int64) ([]model.Product, error) {
	unique := make([]int64, 0, len(productIDs))
	seen := make(map[int64]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}

	products, err := s.catalog.GetProducts(ctx, instanceID, unique)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]model.Product, len(products))
	for _, p := range products {
		if !p.IsDeleted {
			byID[p.ID] = p
		}
	}

	cart := make([]model.Product, 0, len(productIDs))
	for _, id := range productIDs {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: product %d", ErrNotFound, id)
		}
		cart = append(cart, p)
	}
	return cart, nil
}
