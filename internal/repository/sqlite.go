package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/cash-drawer/internal/model"
)

// SQLiteRepository хранит данные в файле SQLite.
// Используется одно соединение, поэтому записывающие транзакции выполняются строго по очереди.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository открывает базу по пути path и применяет миграции.
// Для базы в памяти используйте ":memory:".
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations/sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return newSQLiteRepository(db), nil
}

func newSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Close закрывает базу.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func now() time.Time {
	return time.Now().UTC()
}

func isSQLiteConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}

// CreateInstance создаёт кассу с указанным идентификатором.
func (r *SQLiteRepository) CreateInstance(ctx context.Context, id string) (model.PosInstance, error) {
	inst := model.PosInstance{ID: id, CreatedAt: now()}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pos_instances (id, created_at) VALUES (?, ?)`,
		inst.ID, inst.CreatedAt,
	)
	if err != nil {
		return model.PosInstance{}, fmt.Errorf("create instance: %w", err)
	}
	return inst, nil
}

// GetInstance возвращает кассу по идентификатору.
func (r *SQLiteRepository) GetInstance(ctx context.Context, id string) (model.PosInstance, error) {
	var inst model.PosInstance
	err := r.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM pos_instances WHERE id = ?`,
		id,
	).Scan(&inst.ID, &inst.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PosInstance{}, fmt.Errorf("%w: instance %s", ErrNotFound, id)
		}
		return model.PosInstance{}, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

// InInstanceTx выполняет fn в транзакции. При ошибке fn все изменения откатываются.
func (r *SQLiteRepository) InInstanceTx(ctx context.Context, instanceID string, fn TxFunc) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM pos_instances WHERE id = ?`, instanceID).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: instance %s", ErrNotFound, instanceID)
		}
		return fmt.Errorf("lock instance: %w", err)
	}

	if err := fn(ctx, &sqlLedgerTx{tx: tx, instanceID: instanceID}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListEntries возвращает все записи журнала кассы по возрастанию id.
func (r *SQLiteRepository) ListEntries(ctx context.Context, instanceID string) ([]model.LedgerEntry, error) {
	return sqlQueryEntries(ctx, r.db,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE pos_instance_id = ? ORDER BY id`,
		instanceID,
	)
}

// GetEntry возвращает запись журнала по идентификатору.
func (r *SQLiteRepository) GetEntry(ctx context.Context, id int64) (model.LedgerEntry, error) {
	return sqlGetEntry(ctx, r.db, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, id)
}

// CreateProduct добавляет товар в каталог кассы.
func (r *SQLiteRepository) CreateProduct(ctx context.Context, instanceID string, in ProductInput) (model.Product, error) {
	ts := now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO products (pos_instance_id, name, price, seller_name, display_order, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		instanceID, in.Name, in.Price, in.SellerName, in.DisplayOrder, ts, ts,
	)
	if err != nil {
		if isSQLiteConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return model.Product{}, fmt.Errorf("%w: instance %s", ErrNotFound, instanceID)
		}
		return model.Product{}, fmt.Errorf("create product: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Product{}, fmt.Errorf("last insert id: %w", err)
	}
	return r.getProduct(ctx, instanceID, id)
}

func (r *SQLiteRepository) getProduct(ctx context.Context, instanceID string, id int64) (model.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ? AND pos_instance_id = ?`,
		id, instanceID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Product{}, fmt.Errorf("%w: product %d", ErrNotFound, id)
		}
		return model.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// UpdateProduct изменяет неудалённый товар кассы.
func (r *SQLiteRepository) UpdateProduct(ctx context.Context, instanceID string, productID int64, in ProductInput) (model.Product, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE products
		 SET name = ?, price = ?, seller_name = ?, display_order = ?, updated_at = ?
		 WHERE id = ? AND pos_instance_id = ? AND is_deleted = FALSE`,
		in.Name, in.Price, in.SellerName, in.DisplayOrder, now(), productID, instanceID,
	)
	if err != nil {
		return model.Product{}, fmt.Errorf("update product: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		if err != nil {
			return model.Product{}, fmt.Errorf("rows affected: %w", err)
		}
		return model.Product{}, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	return r.getProduct(ctx, instanceID, productID)
}

// DeleteProduct помечает товар удалённым.
func (r *SQLiteRepository) DeleteProduct(ctx context.Context, instanceID string, productID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE products SET is_deleted = TRUE, updated_at = ?
		 WHERE id = ? AND pos_instance_id = ? AND is_deleted = FALSE`,
		now(), productID, instanceID,
	)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	return nil
}

// ListProducts возвращает неудалённые товары кассы.
func (r *SQLiteRepository) ListProducts(ctx context.Context, instanceID string) ([]model.Product, error) {
	return sqlQueryProducts(ctx, r.db,
		`SELECT `+productColumns+` FROM products
		 WHERE pos_instance_id = ? AND is_deleted = FALSE
		 ORDER BY display_order IS NULL, display_order ASC, name ASC`,
		instanceID,
	)
}

// GetProducts возвращает товары кассы с указанными id, включая удалённые.
func (r *SQLiteRepository) GetProducts(ctx context.Context, instanceID string, ids []int64) ([]model.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, instanceID)
	for _, id := range ids {
		args = append(args, id)
	}
	return sqlQueryProducts(ctx, r.db,
		`SELECT `+productColumns+` FROM products WHERE pos_instance_id = ? AND id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
}

// FindProductsBySeller возвращает все товары продавца, включая удалённые.
func (r *SQLiteRepository) FindProductsBySeller(ctx context.Context, instanceID, seller string) ([]model.Product, error) {
	return sqlQueryProducts(ctx, r.db,
		`SELECT `+productColumns+` FROM products WHERE pos_instance_id = ? AND seller_name = ?`,
		instanceID, seller,
	)
}

// CreateDiscount добавляет условие скидки кассы.
func (r *SQLiteRepository) CreateDiscount(ctx context.Context, instanceID string, in DiscountInput) (model.Discount, error) {
	details, err := json.Marshal(in.Details)
	if err != nil {
		return model.Discount{}, fmt.Errorf("encode details: %w", err)
	}

	ts := now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO discount_conditions (pos_instance_id, type, details, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		instanceID, string(in.Type), string(details), ts, ts,
	)
	if err != nil {
		if isSQLiteConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return model.Discount{}, fmt.Errorf("%w: instance %s", ErrNotFound, instanceID)
		}
		return model.Discount{}, fmt.Errorf("create discount: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Discount{}, fmt.Errorf("last insert id: %w", err)
	}

	d, err := scanDiscount(r.db.QueryRowContext(ctx,
		`SELECT `+discountColumns+` FROM discount_conditions WHERE id = ?`,
		id,
	))
	if err != nil {
		return model.Discount{}, fmt.Errorf("get discount: %w", err)
	}
	return d, nil
}

// ListDiscounts возвращает действующие условия скидок кассы, новые первыми.
func (r *SQLiteRepository) ListDiscounts(ctx context.Context, instanceID string) ([]model.Discount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+discountColumns+` FROM discount_conditions
		 WHERE pos_instance_id = ? AND is_deleted = FALSE
		 ORDER BY id DESC`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("select discounts: %w", err)
	}
	defer rows.Close()

	var res []model.Discount
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discount: %w", err)
		}
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// DeleteDiscount помечает условие скидки удалённым.
func (r *SQLiteRepository) DeleteDiscount(ctx context.Context, discountID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE discount_conditions SET is_deleted = TRUE, updated_at = ?
		 WHERE id = ? AND is_deleted = FALSE`,
		now(), discountID,
	)
	if err != nil {
		return fmt.Errorf("delete discount: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: discount %d", ErrNotFound, discountID)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqlGetEntry(ctx context.Context, q sqlQuerier, query string, args ...any) (model.LedgerEntry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.LedgerEntry{}, fmt.Errorf("%w: entry %v", ErrNotFound, args[0])
		}
		return model.LedgerEntry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

func sqlQueryEntries(ctx context.Context, q sqlQuerier, query string, args ...any) ([]model.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func sqlQueryProducts(ctx context.Context, q sqlQuerier, query string, args ...any) ([]model.Product, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

type sqlLedgerTx struct {
	tx         *sql.Tx
	instanceID string
}

func (t *sqlLedgerTx) ListEntries(ctx context.Context) ([]model.LedgerEntry, error) {
	return sqlQueryEntries(ctx, t.tx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE pos_instance_id = ? ORDER BY id`,
		t.instanceID,
	)
}

func (t *sqlLedgerTx) ListEntriesAfter(ctx context.Context, afterID int64) ([]model.LedgerEntry, error) {
	return sqlQueryEntries(ctx, t.tx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE pos_instance_id = ? AND id > ? ORDER BY id`,
		t.instanceID, afterID,
	)
}

func (t *sqlLedgerTx) GetEntries(ctx context.Context, ids []int64) ([]model.LedgerEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, t.instanceID)
	for _, id := range ids {
		args = append(args, id)
	}
	return sqlQueryEntries(ctx, t.tx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE pos_instance_id = ? AND id IN (`+placeholders(len(ids))+`) ORDER BY id`,
		args...,
	)
}

func (t *sqlLedgerTx) GetEntry(ctx context.Context, id int64) (model.LedgerEntry, error) {
	return sqlGetEntry(ctx, t.tx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = ? AND pos_instance_id = ?`,
		id, t.instanceID,
	)
}

func (t *sqlLedgerTx) AppendEntry(ctx context.Context, p model.Payload) (model.LedgerEntry, error) {
	data, err := model.EncodePayload(p)
	if err != nil {
		return model.LedgerEntry{}, err
	}

	e := model.LedgerEntry{PosInstanceID: t.instanceID, Payload: p, CreatedAt: now()}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (pos_instance_id, entry_type, data, created_at) VALUES (?, ?, ?, ?)`,
		t.instanceID, string(p.EntryType()), string(data), e.CreatedAt,
	)
	if err != nil {
		if isSQLiteConstraint(err, sqlite3.ErrConstraintUnique) {
			return model.LedgerEntry{}, fmt.Errorf("%w: duplicate reversal", ErrAlreadyReverted)
		}
		return model.LedgerEntry{}, fmt.Errorf("insert entry: %w", err)
	}

	e.ID, err = res.LastInsertId()
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("last insert id: %w", err)
	}
	return e, nil
}

func (t *sqlLedgerTx) MarkReverted(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE ledger_entries SET is_reverted = TRUE
		 WHERE id = ? AND pos_instance_id = ? AND is_reverted = FALSE AND entry_type <> 'reversal'`,
		id, t.instanceID,
	)
	if err != nil {
		return fmt.Errorf("mark reverted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	return revertFailure(t.GetEntry(ctx, id))
}
