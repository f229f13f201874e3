package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/mmeshcher/cash-drawer/internal/model"
	"github.com/mmeshcher/cash-drawer/internal/repository"
	"github.com/mmeshcher/cash-drawer/internal/validation"
)

// ListLedger возвращает записи журнала кассы, новые первыми.
func (s *Service) ListLedger(ctx context.Context, instanceID string) ([]model.LedgerEntry, error) {
	if _, err := s.repo.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}

	entries, err := s.repo.ListEntries(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b model.LedgerEntry) int {
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	return entries, nil
}

// GetEntry возвращает запись журнала по идентификатору.
func (s *Service) GetEntry(ctx context.Context, id int64) (model.LedgerEntry, error) {
	return s.repo.GetEntry(ctx, id)
}

// RecordDeposit записывает внесение денег в ящик.
func (s *Service) RecordDeposit(ctx context.Context, instanceID, person string, amount model.DenominationCount) (model.LedgerEntry, error) {
	person, amount, err := s.checkCash(person, amount)
	if err != nil {
		return model.LedgerEntry{}, err
	}

	var entry model.LedgerEntry
	err = s.repo.InInstanceTx(ctx, instanceID, func(ctx context.Context, tx repository.LedgerTx) error {
		var err error
		entry, err = tx.AppendEntry(ctx, model.DepositPayload{Person: person, Amount: amount})
		return err
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}
	return entry, nil
}

// RecordWithdrawal записывает изъятие денег из ящика.
// Изъятие, после которого какого-либо номинала стало бы меньше нуля, отклоняется.
func (s *Service) RecordWithdrawal(ctx context.Context, instanceID, person string, amount model.DenominationCount) (model.LedgerEntry, error) {
	person, amount, err := s.checkCash(person, amount)
	if err != nil {
		return model.LedgerEntry{}, err
	}

	var (
		entry model.LedgerEntry
		st    drawerState
	)
	err = s.repo.InInstanceTx(ctx, instanceID, func(ctx context.Context, tx repository.LedgerTx) error {
		var err error
		st, err = s.balanceInTx(ctx, instanceID, tx)
		if err != nil {
			return err
		}
		if !st.counts.Covers(amount) {
			return fmt.Errorf("%w: withdrawal of %d", ErrInsufficientFunds, amount.Total())
		}

		entry, err = tx.AppendEntry(ctx, model.WithdrawalPayload{Person: person, Amount: amount})
		if err != nil {
			return err
		}
		st = drawerState{counts: st.counts.Sub(amount), throughID: entry.ID}
		return nil
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}

	s.storeSnapshot(ctx, instanceID, st)
	return entry, nil
}

func (s *Service) checkCash(person string, amount model.DenominationCount) (string, model.DenominationCount, error) {
	person = strings.TrimSpace(person)
	if err := validation.PartyName(person); err != nil {
		return "", nil, err
	}
	if err := validation.DenominationCount(s.set, amount); err != nil {
		return "", nil, err
	}
	amount = amount.Normalize()
	if amount.Total() <= 0 {
		return "", nil, fmt.Errorf("%w: amount is empty", ErrInvalidAmount)
	}
	return person, amount, nil
}

// Revert отменяет запись журнала: помечает её отменённой и добавляет запись-отмену.
// Оба изменения фиксируются вместе.
func (s *Service) Revert(ctx context.Context, entryID int64) (model.LedgerEntry, error) {
	orig, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	if orig.Type() == model.EntryTypeReversal {
		return model.LedgerEntry{}, fmt.Errorf("%w: entry %d", ErrNotRevertible, entryID)
	}
	if orig.IsReverted {
		return model.LedgerEntry{}, fmt.Errorf("%w: entry %d", ErrAlreadyReverted, entryID)
	}

	var reversal model.LedgerEntry
	err = s.repo.InInstanceTx(ctx, orig.PosInstanceID, func(ctx context.Context, tx repository.LedgerTx) error {
		if err := tx.MarkReverted(ctx, entryID); err != nil {
			return err
		}
		var err error
		reversal, err = tx.AppendEntry(ctx, model.ReversalPayload{OriginalEntryID: entryID})
		return err
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}
	return reversal, nil
}
