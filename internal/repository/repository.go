// Package repository содержит реализации хранилища журнала, касс и каталога товаров.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/cash-drawer/internal/model"
)

//go:embed migrations
var migrationsFS embed.FS

var (
	// ErrNotFound возвращается, если касса, запись журнала, товар или скидка не найдены.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyReverted возвращается при повторной отмене записи.
	ErrAlreadyReverted = errors.New("entry already reverted")
	// ErrNotRevertible возвращается при попытке отменить запись-отмену.
	ErrNotRevertible = errors.New("reversal entries cannot be reverted")
)

// LedgerTx предоставляет доступ к журналу одной кассы внутри атомарного участка.
// Всё, что записано через LedgerTx, фиксируется вместе или не фиксируется вовсе.
type LedgerTx interface {
	// ListEntries возвращает все записи кассы по возрастанию id.
	ListEntries(ctx context.Context) ([]model.LedgerEntry, error)
	// ListEntriesAfter возвращает записи кассы с id больше afterID по возрастанию id.
	ListEntriesAfter(ctx context.Context, afterID int64) ([]model.LedgerEntry, error)
	// GetEntries возвращает записи кассы с указанными id; отсутствующие пропускаются.
	GetEntries(ctx context.Context, ids []int64) ([]model.LedgerEntry, error)
	GetEntry(ctx context.Context, id int64) (model.LedgerEntry, error)
	// AppendEntry добавляет запись и назначает ей id и время создания.
	AppendEntry(ctx context.Context, p model.Payload) (model.LedgerEntry, error)
	// MarkReverted однократно помечает запись как отменённую.
	MarkReverted(ctx context.Context, id int64) error
}

// TxFunc выполняется внутри атомарного участка.
type TxFunc func(ctx context.Context, tx LedgerTx) error

// ProductInput содержит изменяемые поля товара.
type ProductInput struct {
	Name         string
	Price        int64
	SellerName   *string
	DisplayOrder *int64
}

// DiscountInput содержит поля нового условия скидки.
type DiscountInput struct {
	Type    model.DiscountType
	Details model.DiscountDetails
}

type rowScanner interface {
	Scan(dest ...any) error
}

const entryColumns = `id, pos_instance_id, entry_type, data, is_reverted, created_at`

const productColumns = `id, pos_instance_id, name, price, seller_name, display_order, is_deleted, created_at, updated_at`

const discountColumns = `id, pos_instance_id, type, details, is_deleted, created_at, updated_at`

func scanEntry(row rowScanner) (model.LedgerEntry, error) {
	var (
		e         model.LedgerEntry
		entryType string
		data      []byte
	)
	if err := row.Scan(&e.ID, &e.PosInstanceID, &entryType, &data, &e.IsReverted, &e.CreatedAt); err != nil {
		return model.LedgerEntry{}, err
	}

	payload, err := model.DecodePayload(model.EntryType(entryType), data)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("entry %d: %w", e.ID, err)
	}
	e.Payload = payload

	return e, nil
}

func scanProduct(row rowScanner) (model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID, &p.PosInstanceID, &p.Name, &p.Price, &p.SellerName, &p.DisplayOrder, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanDiscount(row rowScanner) (model.Discount, error) {
	var (
		d       model.Discount
		kind    string
		details []byte
	)
	if err := row.Scan(&d.ID, &d.PosInstanceID, &kind, &details, &d.IsDeleted, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return model.Discount{}, err
	}
	d.Type = model.DiscountType(kind)
	if err := json.Unmarshal(details, &d.Details); err != nil {
		return model.Discount{}, fmt.Errorf("discount %d: decode details: %w", d.ID, err)
	}
	return d, nil
}

// revertFailure объясняет, почему условное обновление флага не затронуло ни одной строки.
func revertFailure(e model.LedgerEntry, err error) error {
	if err != nil {
		return err
	}
	if e.Type() == model.EntryTypeReversal {
		return fmt.Errorf("%w: entry %d", ErrNotRevertible, e.ID)
	}
	return fmt.Errorf("%w: entry %d", ErrAlreadyReverted, e.ID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
