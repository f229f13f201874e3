package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/cash-drawer/internal/model"
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations/postgres"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликте сериализации, взаимоблокировке и обрыве соединения.
// Обрыв соединения во время COMMIT не повторяется.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		if sleepErr := sleepCtx(ctx, delays[i]); sleepErr != nil {
			return err
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, errCommitUnknown) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateInstance создаёт кассу с указанным идентификатором.
func (r *PostgresRepository) CreateInstance(ctx context.Context, id string) (model.PosInstance, error) {
	var inst model.PosInstance
	err := r.pool.QueryRow(ctx,
		`INSERT INTO pos_instances (id) VALUES ($1) RETURNING id, created_at`,
		id,
	).Scan(&inst.ID, &inst.CreatedAt)
	if err != nil {
		return model.PosInstance{}, fmt.Errorf("create instance: %w", err)
	}
	return inst, nil
}

// GetInstance возвращает кассу по идентификатору.
func (r *PostgresRepository) GetInstance(ctx context.Context, id string) (model.PosInstance, error) {
	var inst model.PosInstance
	err := r.pool.QueryRow(ctx,
		`SELECT id, created_at FROM pos_instances WHERE id = $1`,
		id,
	).Scan(&inst.ID, &inst.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PosInstance{}, fmt.Errorf("%w: instance %s", ErrNotFound, id)
		}
		return model.PosInstance{}, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

// InInstanceTx выполняет fn в транзакции, удерживая блокировку строки кассы.
// Операции разных касс не блокируют друг друга.
func (r *PostgresRepository) InInstanceTx(ctx context.Context, instanceID string, fn TxFunc) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var locked string
		err = tx.QueryRow(ctx, `SELECT id FROM pos_instances WHERE id = $1 FOR UPDATE`, instanceID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: instance %s", ErrNotFound, instanceID)
			}
			return fmt.Errorf("lock instance: %w", err)
		}

		if err := fn(ctx, &pgLedgerTx{tx: tx, instanceID: instanceID}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return commitError(err)
		}
		return nil
	})
}

// errCommitUnknown означает, что COMMIT был отправлен, но ответ сервера не получен.
// Транзакция могла быть применена, поэтому повторять её нельзя.
var errCommitUnknown = errors.New("commit outcome unknown")

// commitError оставляет повторяемыми только отказы, о которых сообщил сервер.
func commitError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, pgx.ErrTxCommitRollback) {
		return fmt.Errorf("commit tx: %w", err)
	}
	return fmt.Errorf("commit tx: %w: %w", errCommitUnknown, err)
}

// ListEntries возвращает все записи журнала кассы по возрастанию id.
func (r *PostgresRepository) ListEntries(ctx context.Context, instanceID string) ([]model.LedgerEntry, error) {
	return queryEntries(ctx, r.pool,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE pos_instance_id = $1 ORDER BY id`,
		instanceID,
	)
}

// GetEntry возвращает запись журнала по идентификатору.
func (r *PostgresRepository) GetEntry(ctx context.Context, id int64) (model.LedgerEntry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LedgerEntry{}, fmt.Errorf("%w: entry %d", ErrNotFound, id)
		}
		return model.LedgerEntry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// CreateProduct добавляет товар в каталог кассы.
func (r *PostgresRepository) CreateProduct(ctx context.Context, instanceID string, in ProductInput) (model.Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx,
		`INSERT INTO products (pos_instance_id, name, price, seller_name, display_order)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+productColumns,
		instanceID, in.Name, in.Price, in.SellerName, in.DisplayOrder,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return model.Product{}, fmt.Errorf("%w: instance %s", ErrNotFound, instanceID)
		}
		return model.Product{}, fmt.Errorf("create product: %w", err)
	}
	return p, nil
}

// UpdateProduct изменяет неудалённый товар кассы.
func (r *PostgresRepository) UpdateProduct(ctx context.Context, instanceID string, productID int64, in ProductInput) (model.Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx,
		`UPDATE products
		 SET name = $3, price = $4, seller_name = $5, display_order = $6, updated_at = NOW()
		 WHERE id = $1 AND pos_instance_id = $2 AND is_deleted = FALSE
		 RETURNING `+productColumns,
		productID, instanceID, in.Name, in.Price, in.SellerName, in.DisplayOrder,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Product{}, fmt.Errorf("%w: product %d", ErrNotFound, productID)
		}
		return model.Product{}, fmt.Errorf("update product: %w", err)
	}
	return p, nil
}

// DeleteProduct помечает товар удалённым.
func (r *PostgresRepository) DeleteProduct(ctx context.Context, instanceID string, productID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET is_deleted = TRUE, updated_at = NOW()
		 WHERE id = $1 AND pos_instance_id = $2 AND is_deleted = FALSE`,
		productID, instanceID,
	)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	return nil
}

// ListProducts возвращает неудалённые товары кассы.
func (r *PostgresRepository) ListProducts(ctx context.Context, instanceID string) ([]model.Product, error) {
	return queryProducts(ctx, r.pool,
		`SELECT `+productColumns+` FROM products
		 WHERE pos_instance_id = $1 AND is_deleted = FALSE
		 ORDER BY display_order ASC NULLS LAST, name ASC`,
		instanceID,
	)
}

// GetProducts возвращает товары кассы с указанными id, включая удалённые.
func (r *PostgresRepository) GetProducts(ctx context.Context, instanceID string, ids []int64) ([]model.Product, error) {
	return queryProducts(ctx, r.pool,
		`SELECT `+productColumns+` FROM products WHERE pos_instance_id = $1 AND id = ANY($2)`,
		instanceID, ids,
	)
}

// FindProductsBySeller возвращает все товары продавца, включая удалённые.
func (r *PostgresRepository) FindProductsBySeller(ctx context.Context, instanceID, seller string) ([]model.Product, error) {
	return queryProducts(ctx, r.pool,
		`SELECT `+productColumns+` FROM products WHERE pos_instance_id = $1 AND seller_name = $2`,
		instanceID, seller,
	)
}

// CreateDiscount добавляет условие скидки кассы.
func (r *PostgresRepository) CreateDiscount(ctx context.Context, instanceID string, in DiscountInput) (model.Discount, error) {
	details, err := json.Marshal(in.Details)
	if err != nil {
		return model.Discount{}, fmt.Errorf("encode details: %w", err)
	}

	d, err := scanDiscount(r.pool.QueryRow(ctx,
		`INSERT INTO discount_conditions (pos_instance_id, type, details)
		 VALUES ($1, $2, $3)
		 RETURNING `+discountColumns,
		instanceID, string(in.Type), details,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return model.Discount{}, fmt.Errorf("%w: instance %s", ErrNotFound, instanceID)
		}
		return model.Discount{}, fmt.Errorf("create discount: %w", err)
	}
	return d, nil
}

// ListDiscounts возвращает действующие условия скидок кассы, новые первыми.
func (r *PostgresRepository) ListDiscounts(ctx context.Context, instanceID string) ([]model.Discount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+discountColumns+` FROM discount_conditions
		 WHERE pos_instance_id = $1 AND is_deleted = FALSE
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
func (r *PostgresRepository) DeleteDiscount(ctx context.Context, discountID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE discount_conditions SET is_deleted = TRUE, updated_at = NOW()
		 WHERE id = $1 AND is_deleted = FALSE`,
		discountID,
	)
	if err != nil {
		return fmt.Errorf("delete discount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: discount %d", ErrNotFound, discountID)
	}
	return nil
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryEntries(ctx context.Context, q pgQuerier, sql string, args ...any) ([]model.LedgerEntry, error) {
	rows, err := q.Query(ctx, sql, args...)
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

func queryProducts(ctx context.Context, q pgQuerier, sql string, args ...any) ([]model.Product, error) {
	rows, err := q.Query(ctx, sql, args...)
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

type pgLedgerTx struct {
	tx         pgx.Tx
	instanceID string
}

func (t *pgLedgerTx) ListEntries(ctx context.Context) ([]model.LedgerEntry, error) {
	return queryEntries(ctx, t.tx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE pos_instance_id = $1 ORDER BY id`,
		t.instanceID,
	)
}

func (t *pgLedgerTx) ListEntriesAfter(ctx context.Context, afterID int64) ([]model.LedgerEntry, error) {
	return queryEntries(ctx, t.tx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE pos_instance_id = $1 AND id > $2 ORDER BY id`,
		t.instanceID, afterID,
	)
}

func (t *pgLedgerTx) GetEntries(ctx context.Context, ids []int64) ([]model.LedgerEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return queryEntries(ctx, t.tx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE pos_instance_id = $1 AND id = ANY($2) ORDER BY id`,
		t.instanceID, ids,
	)
}

func (t *pgLedgerTx) GetEntry(ctx context.Context, id int64) (model.LedgerEntry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 AND pos_instance_id = $2`,
		id, t.instanceID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LedgerEntry{}, fmt.Errorf("%w: entry %d", ErrNotFound, id)
		}
		return model.LedgerEntry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

func (t *pgLedgerTx) AppendEntry(ctx context.Context, p model.Payload) (model.LedgerEntry, error) {
	data, err := model.EncodePayload(p)
	if err != nil {
		return model.LedgerEntry{}, err
	}

	e := model.LedgerEntry{PosInstanceID: t.instanceID, Payload: p}
	err = t.tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (pos_instance_id, entry_type, data) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		t.instanceID, string(p.EntryType()), data,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return model.LedgerEntry{}, fmt.Errorf("%w: duplicate reversal", ErrAlreadyReverted)
		}
		return model.LedgerEntry{}, fmt.Errorf("insert entry: %w", err)
	}
	return e, nil
}

func (t *pgLedgerTx) MarkReverted(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE ledger_entries SET is_reverted = TRUE
		 WHERE id = $1 AND pos_instance_id = $2 AND is_reverted = FALSE AND entry_type <> 'reversal'`,
		id, t.instanceID,
	)
	if err != nil {
		return fmt.Errorf("mark reverted: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return revertFailure(t.GetEntry(ctx, id))
}
