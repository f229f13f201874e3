package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/mmeshcher/cash-drawer/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Подходит для разработки и тестов.
// Транзакции кассы сериализуются отдельным мьютексом на каждую кассу;
// изменения копятся в транзакции и применяются только при успехе.
type MemoryRepository struct {
	mu             sync.RWMutex
	instances      map[string]model.PosInstance
	entries        map[int64]model.LedgerEntry
	entryOrder     map[string][]int64
	products       map[int64]model.Product
	discounts      map[int64]model.Discount
	locks          map[string]*sync.Mutex
	nextEntryID    int64
	nextProductID  int64
	nextDiscountID int64
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		instances:  make(map[string]model.PosInstance),
		entries:    make(map[int64]model.LedgerEntry),
		entryOrder: make(map[string][]int64),
		products:   make(map[int64]model.Product),
		discounts:  make(map[int64]model.Discount),
		locks:      make(map[string]*sync.Mutex),
	}
}

// Close ничего не делает.
func (m *MemoryRepository) Close() error {
	return nil
}

// CreateInstance создаёт кассу с указанным идентификатором.
func (m *MemoryRepository) CreateInstance(_ context.Context, id string) (model.PosInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[id]; ok {
		return model.PosInstance{}, fmt.Errorf("create instance: duplicate id %s", id)
	}
	inst := model.PosInstance{ID: id, CreatedAt: now()}
	m.instances[id] = inst
	return inst, nil
}

// GetInstance возвращает кассу по идентификатору.
func (m *MemoryRepository) GetInstance(_ context.Context, id string) (model.PosInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	if !ok {
		return model.PosInstance{}, fmt.Errorf("%w: instance %s", ErrNotFound, id)
	}
	return inst, nil
}

func (m *MemoryRepository) instanceLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// InInstanceTx выполняет fn под мьютексом кассы и применяет изменения только при успехе.
func (m *MemoryRepository) InInstanceTx(ctx context.Context, instanceID string, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := m.GetInstance(ctx, instanceID); err != nil {
		return err
	}

	lock := m.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	tx := &memLedgerTx{repo: m, instanceID: instanceID, reverted: make(map[int64]bool)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range tx.appended {
		m.entries[e.ID] = e
		m.entryOrder[instanceID] = append(m.entryOrder[instanceID], e.ID)
	}
	for id := range tx.reverted {
		e := m.entries[id]
		e.IsReverted = true
		m.entries[id] = e
	}
	return nil
}

// ListEntries возвращает все записи журнала кассы по возрастанию id.
func (m *MemoryRepository) ListEntries(_ context.Context, instanceID string) ([]model.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.committedLocked(instanceID), nil
}

func (m *MemoryRepository) committedLocked(instanceID string) []model.LedgerEntry {
	ids := m.entryOrder[instanceID]
	res := make([]model.LedgerEntry, 0, len(ids))
	for _, id := range ids {
		res = append(res, m.entries[id])
	}
	return res
}

// GetEntry возвращает запись журнала по идентификатору.
func (m *MemoryRepository) GetEntry(_ context.Context, id int64) (model.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return model.LedgerEntry{}, fmt.Errorf("%w: entry %d", ErrNotFound, id)
	}
	return e, nil
}

// CreateProduct добавляет товар в каталог кассы.
func (m *MemoryRepository) CreateProduct(_ context.Context, instanceID string, in ProductInput) (model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[instanceID]; !ok {
		return model.Product{}, fmt.Errorf("%w: instance %s", ErrNotFound, instanceID)
	}

	m.nextProductID++
	ts := now()
	p := model.Product{
		ID:            m.nextProductID,
		PosInstanceID: instanceID,
		Name:          in.Name,
		Price:         in.Price,
		SellerName:    in.SellerName,
		DisplayOrder:  in.DisplayOrder,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	m.products[p.ID] = p
	return p, nil
}

// UpdateProduct изменяет неудалённый товар кассы.
func (m *MemoryRepository) UpdateProduct(_ context.Context, instanceID string, productID int64, in ProductInput) (model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok || p.PosInstanceID != instanceID || p.IsDeleted {
		return model.Product{}, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}

	p.Name = in.Name
	p.Price = in.Price
	p.SellerName = in.SellerName
	p.DisplayOrder = in.DisplayOrder
	p.UpdatedAt = now()
	m.products[productID] = p
	return p, nil
}

// DeleteProduct помечает товар удалённым.
func (m *MemoryRepository) DeleteProduct(_ context.Context, instanceID string, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok || p.PosInstanceID != instanceID || p.IsDeleted {
		return fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	p.IsDeleted = true
	p.UpdatedAt = now()
	m.products[productID] = p
	return nil
}

// ListProducts возвращает неудалённые товары кассы.
func (m *MemoryRepository) ListProducts(_ context.Context, instanceID string) ([]model.Product, error) {
	res := m.filterProducts(func(p model.Product) bool {
		return p.PosInstanceID == instanceID && !p.IsDeleted
	})
	sort.SliceStable(res, func(i, j int) bool {
		a, b := res[i].DisplayOrder, res[j].DisplayOrder
		switch {
		case a != nil && b != nil && *a != *b:
			return *a < *b
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return res[i].Name < res[j].Name
	})
	return res, nil
}

// GetProducts возвращает товары кассы с указанными id, включая удалённые.
func (m *MemoryRepository) GetProducts(_ context.Context, instanceID string, ids []int64) ([]model.Product, error) {
	return m.filterProducts(func(p model.Product) bool {
		return p.PosInstanceID == instanceID && slices.Contains(ids, p.ID)
	}), nil
}

// FindProductsBySeller возвращает все товары продавца, включая удалённые.
func (m *MemoryRepository) FindProductsBySeller(_ context.Context, instanceID, seller string) ([]model.Product, error) {
	return m.filterProducts(func(p model.Product) bool {
		return p.PosInstanceID == instanceID && p.BelongsTo(seller)
	}), nil
}

func (m *MemoryRepository) filterProducts(keep func(model.Product) bool) []model.Product {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []model.Product
	for _, p := range m.products {
		if keep(p) {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// CreateDiscount добавляет условие скидки кассы.
func (m *MemoryRepository) CreateDiscount(_ context.Context, instanceID string, in DiscountInput) (model.Discount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[instanceID]; !ok {
		return model.Discount{}, fmt.Errorf("%w: instance %s", ErrNotFound, instanceID)
	}

	m.nextDiscountID++
	ts := now()
	d := model.Discount{
		ID:            m.nextDiscountID,
		PosInstanceID: instanceID,
		Type:          in.Type,
		Details:       in.Details,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	d.Details.ProductIDs = slices.Clone(in.Details.ProductIDs)
	m.discounts[d.ID] = d
	return d, nil
}

// ListDiscounts возвращает действующие условия скидок кассы, новые первыми.
func (m *MemoryRepository) ListDiscounts(_ context.Context, instanceID string) ([]model.Discount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []model.Discount
	for _, d := range m.discounts {
		if d.PosInstanceID == instanceID && !d.IsDeleted {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

// DeleteDiscount помечает условие скидки удалённым.
func (m *MemoryRepository) DeleteDiscount(_ context.Context, discountID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.discounts[discountID]
	if !ok || d.IsDeleted {
		return fmt.Errorf("%w: discount %d", ErrNotFound, discountID)
	}
	d.IsDeleted = true
	d.UpdatedAt = now()
	m.discounts[discountID] = d
	return nil
}

type memLedgerTx struct {
	repo       *MemoryRepository
	instanceID string
	appended   []model.LedgerEntry
	reverted   map[int64]bool
}

func (t *memLedgerTx) ListEntries(_ context.Context) ([]model.LedgerEntry, error) {
	t.repo.mu.RLock()
	res := t.repo.committedLocked(t.instanceID)
	t.repo.mu.RUnlock()

	res = append(res, t.appended...)
	for i := range res {
		if t.reverted[res[i].ID] {
			res[i].IsReverted = true
		}
	}
	return res, nil
}

func (t *memLedgerTx) ListEntriesAfter(ctx context.Context, afterID int64) ([]model.LedgerEntry, error) {
	all, err := t.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(all), func(i int) bool { return all[i].ID > afterID })
	return all[i:], nil
}

func (t *memLedgerTx) GetEntries(ctx context.Context, ids []int64) ([]model.LedgerEntry, error) {
	all, err := t.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	var res []model.LedgerEntry
	for _, e := range all {
		if slices.Contains(ids, e.ID) {
			res = append(res, e)
		}
	}
	return res, nil
}

func (t *memLedgerTx) GetEntry(ctx context.Context, id int64) (model.LedgerEntry, error) {
	all, err := t.ListEntries(ctx)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	for _, e := range all {
		if e.ID == id {
			return e, nil
		}
	}
	return model.LedgerEntry{}, fmt.Errorf("%w: entry %d", ErrNotFound, id)
}

func (t *memLedgerTx) AppendEntry(ctx context.Context, p model.Payload) (model.LedgerEntry, error) {
	if _, err := model.EncodePayload(p); err != nil {
		return model.LedgerEntry{}, err
	}

	if rev, ok := p.(model.ReversalPayload); ok {
		all, err := t.ListEntries(ctx)
		if err != nil {
			return model.LedgerEntry{}, err
		}
		for _, e := range all {
			if other, ok := e.Payload.(model.ReversalPayload); ok && other.OriginalEntryID == rev.OriginalEntryID {
				return model.LedgerEntry{}, fmt.Errorf("%w: duplicate reversal", ErrAlreadyReverted)
			}
		}
	}

	t.repo.mu.Lock()
	t.repo.nextEntryID++
	id := t.repo.nextEntryID
	t.repo.mu.Unlock()

	e := model.LedgerEntry{ID: id, PosInstanceID: t.instanceID, Payload: p, CreatedAt: now()}
	t.appended = append(t.appended, e)
	return e, nil
}

func (t *memLedgerTx) MarkReverted(ctx context.Context, id int64) error {
	e, err := t.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if e.Type() == model.EntryTypeReversal || e.IsReverted {
		return revertFailure(e, nil)
	}
	t.reverted[id] = true
	return nil
}
