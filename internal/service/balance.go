package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/cash-drawer/internal/cache"
	"github.com/mmeshcher/cash-drawer/internal/drawer"
	"github.com/mmeshcher/cash-drawer/internal/model"
	"github.com/mmeshcher/cash-drawer/internal/repository"
)

// drawerState хранит баланс ящика после записи throughID.
type drawerState struct {
	counts    model.DenominationCount
	throughID int64
}

func (st drawerState) snapshot() cache.Snapshot {
	return cache.Snapshot{ThroughID: st.throughID, Counts: st.counts}
}

// DrawerBalance восстанавливает текущее содержимое ящика кассы.
func (s *Service) DrawerBalance(ctx context.Context, instanceID string) (model.Balance, error) {
	var st drawerState
	err := s.repo.InInstanceTx(ctx, instanceID, func(ctx context.Context, tx repository.LedgerTx) error {
		var err error
		st, err = s.balanceInTx(ctx, instanceID, tx)
		return err
	})
	if err != nil {
		return model.Balance{}, err
	}

	s.storeSnapshot(ctx, instanceID, st)
	return model.Balance{Counts: st.counts, Total: st.counts.Total()}, nil
}

// balanceInTx восстанавливает баланс внутри транзакции кассы.
// При наличии снимка досчитываются только записи после него.
func (s *Service) balanceInTx(ctx context.Context, instanceID string, tx repository.LedgerTx) (drawerState, error) {
	snap, ok := s.loadSnapshot(ctx, instanceID)
	if !ok {
		return s.replay(ctx, tx)
	}

	tail, err := tx.ListEntriesAfter(ctx, snap.ThroughID)
	if err != nil {
		return drawerState{}, err
	}

	idx := drawer.Index(tail)
	fetch := []int64{snap.ThroughID}
	for _, e := range tail {
		if rev, ok := e.Payload.(model.ReversalPayload); ok {
			if _, found := idx[rev.OriginalEntryID]; !found {
				fetch = append(fetch, rev.OriginalEntryID)
			}
		}
	}
	referents, err := tx.GetEntries(ctx, fetch)
	if err != nil {
		return drawerState{}, err
	}
	for _, e := range referents {
		idx[e.ID] = e
	}

	// Снимок указывает за конец журнала: хранилище было пересоздано.
	if _, found := idx[snap.ThroughID]; !found {
		s.dropSnapshot(ctx, instanceID)
		return s.replay(ctx, tx)
	}

	base := s.set.Zero().Add(snap.Counts)
	return drawerState{
		counts:    drawer.Fold(base, tail, drawer.MapLookup(idx)),
		throughID: lastID(tail, snap.ThroughID),
	}, nil
}

func (s *Service) replay(ctx context.Context, tx repository.LedgerTx) (drawerState, error) {
	entries, err := tx.ListEntries(ctx)
	if err != nil {
		return drawerState{}, err
	}
	return drawerState{counts: drawer.Reconstruct(s.set, entries), throughID: lastID(entries, 0)}, nil
}

func lastID(entries []model.LedgerEntry, from int64) int64 {
	for _, e := range entries {
		from = max(from, e.ID)
	}
	return from
}

func (s *Service) loadSnapshot(ctx context.Context, instanceID string) (cache.Snapshot, bool) {
	if s.cache == nil {
		return cache.Snapshot{}, false
	}
	snap, ok, err := s.cache.Get(ctx, instanceID)
	if err != nil {
		s.logger.Warn("balance snapshot read failed", zap.String("instance", instanceID), zap.Error(err))
		return cache.Snapshot{}, false
	}
	return snap, ok
}

// storeSnapshot вызывается только после фиксации транзакции.
func (s *Service) storeSnapshot(ctx context.Context, instanceID string, st drawerState) {
	if s.cache == nil || st.throughID == 0 {
		return
	}
	if err := s.cache.Put(ctx, instanceID, st.snapshot()); err != nil {
		s.logger.Warn("balance snapshot write failed", zap.String("instance", instanceID), zap.Error(err))
	}
}

func (s *Service) dropSnapshot(ctx context.Context, instanceID string) {
	if err := s.cache.Invalidate(ctx, instanceID); err != nil {
		s.logger.Warn("balance snapshot invalidate failed", zap.String("instance", instanceID), zap.Error(err))
	}
}
