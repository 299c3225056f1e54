package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bartab/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к счетам и журналу транзакций в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
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

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second},
	}

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

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликтах сериализации, взаимных блокировках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateBar создаёт бар вместе с настройками по умолчанию.
func (r *PostgresRepository) CreateBar(ctx context.Context, bar model.Bar) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO bars (id, name) VALUES ($1, $2)`, bar.ID, bar.Name)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrBarExists, bar.ID)
		}
		return fmt.Errorf("insert bar: %w", err)
	}

	s := model.DefaultBarSettings(bar.ID)
	_, err = tx.Exec(ctx,
		`INSERT INTO bar_settings
		 (bar_id, money_warning_threshold, transaction_cancel_threshold, default_tax,
		  agios_enabled, agios_threshold, agios_factor)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (bar_id) DO NOTHING`,
		s.BarID, s.MoneyWarningThreshold, s.TransactionCancelThreshold, s.DefaultTax,
		s.AgiosEnabled, s.AgiosThreshold, s.AgiosFactor,
	)
	if err != nil {
		return fmt.Errorf("insert bar settings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetBar возвращает бар по идентификатору.
func (r *PostgresRepository) GetBar(ctx context.Context, id string) (*model.Bar, error) {
	var b model.Bar
	err := r.pool.QueryRow(ctx, `SELECT id, name FROM bars WHERE id = $1`, id).Scan(&b.ID, &b.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBarNotFound
		}
		return nil, fmt.Errorf("get bar: %w", err)
	}
	return &b, nil
}

// ListBars возвращает все бары.
func (r *PostgresRepository) ListBars(ctx context.Context) ([]model.Bar, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM bars ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select bars: %w", err)
	}
	defer rows.Close()

	var res []model.Bar
	for rows.Next() {
		var b model.Bar
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		res = append(res, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetBarSettings возвращает настройки бара.
func (r *PostgresRepository) GetBarSettings(ctx context.Context, barID string) (*model.BarSettings, error) {
	var s model.BarSettings
	err := r.pool.QueryRow(ctx,
		`SELECT bar_id, money_warning_threshold, transaction_cancel_threshold, default_tax,
		        agios_enabled, agios_threshold, agios_factor, last_modified
		 FROM bar_settings WHERE bar_id = $1`,
		barID,
	).Scan(&s.BarID, &s.MoneyWarningThreshold, &s.TransactionCancelThreshold, &s.DefaultTax,
		&s.AgiosEnabled, &s.AgiosThreshold, &s.AgiosFactor, &s.LastModified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBarNotFound
		}
		return nil, fmt.Errorf("get bar settings: %w", err)
	}
	return &s, nil
}

// UpdateBarSettings сохраняет настройки бара.
func (r *PostgresRepository) UpdateBarSettings(ctx context.Context, s model.BarSettings) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bar_settings
		 SET money_warning_threshold = $2, transaction_cancel_threshold = $3, default_tax = $4,
		     agios_enabled = $5, agios_threshold = $6, agios_factor = $7, last_modified = now()
		 WHERE bar_id = $1`,
		s.BarID, s.MoneyWarningThreshold, s.TransactionCancelThreshold, s.DefaultTax,
		s.AgiosEnabled, s.AgiosThreshold, s.AgiosFactor,
	)
	if err != nil {
		return fmt.Errorf("update bar settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBarNotFound
	}
	return nil
}

// CreateUser создаёт пользователя с паролем.
func (r *PostgresRepository) CreateUser(ctx context.Context, username string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id`,
		username, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const userColumns = `id, username, full_name, created_at, password_hash`

func (r *PostgresRepository) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Username, &u.FullName, &u.CreatedAt, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return r.getUser(ctx, `id = $1`, id)
}

// GetUserByUsername возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getUser(ctx, `username = $1`, username)
}

// GetOrCreateUser возвращает пользователя с указанным логином, создавая его при отсутствии.
func (r *PostgresRepository) GetOrCreateUser(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username) VALUES ($1)
		 ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		 RETURNING id, username, full_name, created_at`,
		username,
	).Scan(&u.ID, &u.Username, &u.FullName, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}
	return &u, nil
}

const accountColumns = `id, bar_id, owner_id, money, overdrawn_since, deleted, staff, last_modified`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	if err := row.Scan(&a.ID, &a.BarID, &a.OwnerID, &a.Money, &a.OverdrawnSince, &a.Deleted, &a.Staff, &a.LastModified); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetOrCreateAccount возвращает счёт пользователя в баре, создавая его при первой связи.
func (r *PostgresRepository) GetOrCreateAccount(ctx context.Context, barID string, ownerID int64) (*model.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx,
		`INSERT INTO accounts (bar_id, owner_id) VALUES ($1, $2)
		 ON CONFLICT (bar_id, owner_id) DO UPDATE SET bar_id = EXCLUDED.bar_id
		 RETURNING `+accountColumns,
		barID, ownerID,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, fmt.Errorf("%w: %s", ErrBarNotFound, barID)
		}
		return nil, fmt.Errorf("get or create account: %w", err)
	}
	return a, nil
}

// GetAccount возвращает счёт по идентификатору.
func (r *PostgresRepository) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetAccountByOwner возвращает счёт пользователя в баре.
func (r *PostgresRepository) GetAccountByOwner(ctx context.Context, barID string, ownerID int64) (*model.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE bar_id = $1 AND owner_id = $2`,
		barID, ownerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account by owner: %w", err)
	}
	return a, nil
}

// ListAccounts возвращает неудалённые счета бара.
func (r *PostgresRepository) ListAccounts(ctx context.Context, barID string) ([]model.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE bar_id = $1 AND deleted = FALSE ORDER BY id`,
		barID,
	)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var res []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		res = append(res, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CountAccounts возвращает число неудалённых счетов бара.
func (r *PostgresRepository) CountAccounts(ctx context.Context, barID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM accounts WHERE bar_id = $1 AND deleted = FALSE`,
		barID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// SetAccountDeleted переводит счёт в удалённое состояние или восстанавливает его.
func (r *PostgresRepository) SetAccountDeleted(ctx context.Context, id int64, deleted bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET deleted = $2, last_modified = now() WHERE id = $1`,
		id, deleted,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetAccountStaff назначает владельца счёта персоналом бара или снимает это назначение.
func (r *PostgresRepository) SetAccountStaff(ctx context.Context, id int64, staff bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET staff = $2, last_modified = now() WHERE id = $1`,
		id, staff,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// MarkOverdrawn устанавливает дату начала овердрафта, если баланс отрицателен и дата ещё не задана.
func (r *PostgresRepository) MarkOverdrawn(ctx context.Context, id int64, since time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET overdrawn_since = $2, last_modified = now()
		 WHERE id = $1 AND money < 0 AND overdrawn_since IS NULL`,
		id, dayOf(since),
	)
	if err != nil {
		return false, fmt.Errorf("mark overdrawn: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClearOverdrawn сбрасывает дату начала овердрафта, если баланс неотрицателен.
func (r *PostgresRepository) ClearOverdrawn(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET overdrawn_since = NULL, last_modified = now()
		 WHERE id = $1 AND money >= 0 AND overdrawn_since IS NOT NULL`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("clear overdrawn: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreateItem добавляет товар на склад бара.
func (r *PostgresRepository) CreateItem(ctx context.Context, item model.Item) (int64, error) {
	unitFactor := item.UnitFactor
	if unitFactor.IsZero() {
		unitFactor = decimal.NewFromInt(1)
	}

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO items (bar_id, name, price, qty, unit_factor) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		item.BarID, item.Name, item.Price, item.Qty, unitFactor,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return 0, fmt.Errorf("%w: %s", ErrBarNotFound, item.BarID)
		}
		return 0, fmt.Errorf("create item: %w", err)
	}
	return id, nil
}

// GetItem возвращает товар по идентификатору.
func (r *PostgresRepository) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	var it model.Item
	err := r.pool.QueryRow(ctx,
		`SELECT id, bar_id, name, price, qty, unit_factor, deleted FROM items WHERE id = $1`,
		id,
	).Scan(&it.ID, &it.BarID, &it.Name, &it.Price, &it.Qty, &it.UnitFactor, &it.Deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &it, nil
}

// ApplyTransaction атомарно сохраняет транзакцию и применяет её операции к счетам и товарам.
// Строки счетов блокируются в порядке возрастания идентификаторов, баланс изменяется
// инкрементом внутри UPDATE.
func (r *PostgresRepository) ApplyTransaction(ctx context.Context, t *model.Transaction) (*model.Transaction, error) {
	var res *model.Transaction
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		applied, err := applyTransaction(ctx, tx, t)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		res = applied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CancelTransaction помечает транзакцию отменённой и в той же транзакции БД применяет
// обратную ей транзакцию reversal.
func (r *PostgresRepository) CancelTransaction(ctx context.Context, id int64, reversal *model.Transaction) (*model.Transaction, error) {
	var res *model.Transaction
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var canceled bool
		err = tx.QueryRow(ctx, `SELECT canceled FROM transactions WHERE id = $1 FOR UPDATE`, id).Scan(&canceled)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTransactionNotFound
			}
			return fmt.Errorf("lock transaction: %w", err)
		}
		if canceled {
			return model.ErrAlreadyCanceled
		}

		if _, err := tx.Exec(ctx, `UPDATE transactions SET canceled = TRUE WHERE id = $1`, id); err != nil {
			return fmt.Errorf("mark canceled: %w", err)
		}

		applied, err := applyTransaction(ctx, tx, reversal)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		res = applied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func applyTransaction(ctx context.Context, tx pgx.Tx, t *model.Transaction) (*model.Transaction, error) {
	res := *t
	res.AccountOperations = slices.Clone(t.AccountOperations)
	res.ItemOperations = slices.Clone(t.ItemOperations)

	balances, err := lockAccounts(ctx, tx, res.BarID, res.AccountOperations)
	if err != nil {
		return nil, err
	}
	for _, op := range res.AccountOperations {
		if op.Expected != nil && !balances[op.AccountID].Equal(*op.Expected) {
			return nil, fmt.Errorf("%w: account %d", model.ErrBalanceChanged, op.AccountID)
		}
	}
	day := dayOf(res.Timestamp)
	for i := range res.AccountOperations {
		op := &res.AccountOperations[i]
		err := tx.QueryRow(ctx,
			`UPDATE accounts
			 SET money = money + $2::numeric,
			     overdrawn_since = CASE
			         WHEN money + $2::numeric >= 0 THEN NULL
			         WHEN overdrawn_since IS NULL THEN $3::date
			         ELSE overdrawn_since
			     END,
			     last_modified = now()
			 WHERE id = $1
			 RETURNING money`,
			op.AccountID, op.Delta, day,
		).Scan(&op.Balance)
		if err != nil {
			return nil, fmt.Errorf("update account balance: %w", err)
		}
	}

	unitFactors, err := lockItems(ctx, tx, res.BarID, res.ItemOperations)
	if err != nil {
		return nil, err
	}
	for i := range res.ItemOperations {
		op := &res.ItemOperations[i]
		op.Normalized = op.Delta.Mul(unitFactors[op.ItemID])
		if _, err := tx.Exec(ctx, `UPDATE items SET qty = qty + $2::numeric WHERE id = $1`, op.ItemID, op.Delta); err != nil {
			return nil, fmt.Errorf("update item qty: %w", err)
		}
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO transactions (bar_id, type, author_id, timestamp, money_flow, motive, reversal_of)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		res.BarID, string(res.Type), res.AuthorID, res.Timestamp, res.MoneyFlow, res.Motive, res.ReversalOf,
	).Scan(&res.ID)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	for _, op := range res.AccountOperations {
		_, err := tx.Exec(ctx,
			`INSERT INTO account_operations (transaction_id, account_id, delta, balance) VALUES ($1, $2, $3, $4)`,
			res.ID, op.AccountID, op.Delta, op.Balance,
		)
		if err != nil {
			return nil, fmt.Errorf("insert account operation: %w", err)
		}
	}
	for _, op := range res.ItemOperations {
		_, err := tx.Exec(ctx,
			`INSERT INTO item_operations (transaction_id, item_id, delta, normalized) VALUES ($1, $2, $3, $4)`,
			res.ID, op.ItemID, op.Delta, op.Normalized,
		)
		if err != nil {
			return nil, fmt.Errorf("insert item operation: %w", err)
		}
	}

	return &res, nil
}

// lockAccounts блокирует строки счетов, проверяет, что они принадлежат бару и не удалены,
// и возвращает их балансы до изменения.
func lockAccounts(ctx context.Context, tx pgx.Tx, barID string, ops []model.AccountOperation) (map[int64]decimal.Decimal, error) {
	balances := make(map[int64]decimal.Decimal, len(ops))
	if len(ops) == 0 {
		return balances, nil
	}
	ids := make([]int64, 0, len(ops))
	for _, op := range ops {
		ids = append(ids, op.AccountID)
	}

	rows, err := tx.Query(ctx,
		`SELECT id, bar_id, deleted, money FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      int64
			bar     string
			deleted bool
			money   decimal.Decimal
		)
		if err := rows.Scan(&id, &bar, &deleted, &money); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		if bar != barID || deleted {
			return nil, fmt.Errorf("%w: %d", model.ErrInvalidAccount, id)
		}
		balances[id] = money
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for _, id := range ids {
		if _, ok := balances[id]; !ok {
			return nil, fmt.Errorf("%w: %d", model.ErrInvalidAccount, id)
		}
	}
	return balances, nil
}

func lockItems(ctx context.Context, tx pgx.Tx, barID string, ops []model.ItemOperation) (map[int64]decimal.Decimal, error) {
	factors := make(map[int64]decimal.Decimal, len(ops))
	if len(ops) == 0 {
		return factors, nil
	}
	ids := make([]int64, 0, len(ops))
	for _, op := range ops {
		ids = append(ids, op.ItemID)
	}

	rows, err := tx.Query(ctx,
		`SELECT id, bar_id, deleted, unit_factor FROM items WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("lock items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      int64
			bar     string
			deleted bool
			factor  decimal.Decimal
		)
		if err := rows.Scan(&id, &bar, &deleted, &factor); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if bar != barID || deleted {
			return nil, fmt.Errorf("%w: %d", ErrItemNotFound, id)
		}
		factors[id] = factor
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for _, id := range ids {
		if _, ok := factors[id]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrItemNotFound, id)
		}
	}
	return factors, nil
}

// GetTransaction возвращает транзакцию вместе с её операциями.
func (r *PostgresRepository) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	var (
		t   model.Transaction
		typ string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, bar_id, type, author_id, timestamp, money_flow, motive, canceled, reversal_of
		 FROM transactions WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.BarID, &typ, &t.AuthorID, &t.Timestamp, &t.MoneyFlow, &t.Motive, &t.Canceled, &t.ReversalOf)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	t.Type = model.TransactionType(typ)

	rows, err := r.pool.Query(ctx,
		`SELECT account_id, delta, balance FROM account_operations WHERE transaction_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("select account operations: %w", err)
	}
	t.AccountOperations, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AccountOperation, error) {
		var op model.AccountOperation
		err := row.Scan(&op.AccountID, &op.Delta, &op.Balance)
		return op, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan account operations: %w", err)
	}

	rows, err = r.pool.Query(ctx,
		`SELECT item_id, delta, normalized FROM item_operations WHERE transaction_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("select item operations: %w", err)
	}
	t.ItemOperations, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ItemOperation, error) {
		var op model.ItemOperation
		err := row.Scan(&op.ItemID, &op.Delta, &op.Normalized)
		return op, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan item operations: %w", err)
	}

	return &t, nil
}

// QueryTransactions суммирует изменения по журналу транзакций бара с группировкой по счёту или товару.
// Отменённые транзакции и транзакции отмены не учитываются.
func (r *PostgresRepository) QueryTransactions(ctx context.Context, q model.StatsQuery) ([]model.StatsRow, error) {
	var sb strings.Builder
	switch q.GroupBy {
	case model.GroupByAccount:
		sb.WriteString(`SELECT o.account_id, SUM(o.delta) FROM account_operations o`)
	case model.GroupByItem:
		sb.WriteString(`SELECT o.item_id, SUM(o.normalized) FROM item_operations o`)
	default:
		return nil, fmt.Errorf("%w: group by %q", model.ErrValidation, q.GroupBy)
	}
	sb.WriteString(` JOIN transactions t ON t.id = o.transaction_id
		WHERE t.bar_id = $1 AND t.canceled = FALSE AND t.type <> $2`)

	args := []any{q.BarID, string(model.TransactionCancel)}
	if !q.From.IsZero() {
		args = append(args, q.From)
		fmt.Fprintf(&sb, ` AND t.timestamp >= $%d`, len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		fmt.Fprintf(&sb, ` AND t.timestamp < $%d`, len(args))
	}
	if len(q.Types) > 0 {
		types := make([]string, 0, len(q.Types))
		for _, t := range q.Types {
			types = append(types, string(t))
		}
		args = append(args, types)
		fmt.Fprintf(&sb, ` AND t.type = ANY($%d)`, len(args))
	}
	sb.WriteString(` GROUP BY 1 ORDER BY 2, 1`)

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	res, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.StatsRow, error) {
		var s model.StatsRow
		err := row.Scan(&s.Key, &s.Total)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan stats: %w", err)
	}
	return res, nil
}
