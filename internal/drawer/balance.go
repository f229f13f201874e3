// Package drawer содержит чистые вычисления над журналом денежного ящика:
// восстановление остатка по номиналам и подбор сдачи.
package drawer

import (
	"sort"

	"github.com/mmeshcher/cash-drawer/internal/model"
)

// Lookup возвращает запись журнала по идентификатору.
type Lookup func(id int64) (model.LedgerEntry, bool)

// Index строит таблицу записей по идентификатору.
func Index(entries []model.LedgerEntry) map[int64]model.LedgerEntry {
	idx := make(map[int64]model.LedgerEntry, len(entries))
	for _, e := range entries {
		idx[e.ID] = e
	}
	return idx
}

// MapLookup превращает таблицу записей в Lookup.
func MapLookup(idx map[int64]model.LedgerEntry) Lookup {
	return func(id int64) (model.LedgerEntry, bool) {
		e, ok := idx[id]
		return e, ok
	}
}

// Reconstruct восстанавливает содержимое ящика по всем записям кассы.
// Отрицательные позиции не считаются ошибкой: решение остаётся за вызывающим.
func Reconstruct(set model.DenominationSet, entries []model.LedgerEntry) model.DenominationCount {
	return Fold(set.Zero(), entries, MapLookup(Index(entries)))
}

// Fold применяет записи к остатку base в порядке возрастания id и возвращает новый остаток.
// lookup нужен для отмен, ссылающихся на записи вне entries.
func Fold(base model.DenominationCount, entries []model.LedgerEntry, lookup Lookup) model.DenominationCount {
	balance := base.Clone()
	for _, e := range sortedByID(entries) {
		apply(balance, e, lookup)
	}
	return balance
}

// Effect возвращает изменение содержимого ящика, вызванное записью без учёта отмен.
// Для отмены результат пустой: её действие зависит от исходной записи.
func Effect(e model.LedgerEntry) model.DenominationCount {
	delta := make(model.DenominationCount)
	switch p := e.Payload.(type) {
	case model.DepositPayload:
		delta.AddInPlace(p.Amount)
	case model.WithdrawalPayload:
		delta.SubInPlace(p.Amount)
	case model.SalePayload:
		delta.AddInPlace(p.PaidAmount)
		delta.SubInPlace(p.ChangeGiven)
	case model.ReversalPayload:
	}
	return delta
}

func apply(balance model.DenominationCount, e model.LedgerEntry, lookup Lookup) {
	rev, ok := e.Payload.(model.ReversalPayload)
	if !ok {
		balance.AddInPlace(Effect(e))
		return
	}

	orig, found := lookup(rev.OriginalEntryID)
	if !found || orig.ID >= e.ID || orig.PosInstanceID != e.PosInstanceID {
		return
	}
	// Отмена отмены не действует.
	if orig.Type() == model.EntryTypeReversal {
		return
	}
	balance.SubInPlace(Effect(orig))
}

func sortedByID(entries []model.LedgerEntry) []model.LedgerEntry {
	if sort.SliceIsSorted(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID }) {
		return entries
	}
	res := make([]model.LedgerEntry, len(entries))
	copy(res, entries)
	sort.SliceStable(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}
