package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bartab/internal/model"
)

type accountKey struct {
	barID   string
	ownerID int64
}

// MemoryRepository хранит счета и журнал транзакций в памяти процесса.
// Все изменения сериализуются одним мьютексом.
type MemoryRepository struct {
	mu sync.Mutex

	bars     map[string]model.Bar
	settings map[string]model.BarSettings

	users       map[int64]model.User
	usersByName map[string]int64

	accounts      map[int64]*model.Account
	accountsByKey map[accountKey]int64

	items map[int64]*model.Item

	transactions []*model.Transaction

	nextUserID    int64
	nextAccountID int64
	nextItemID    int64
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		bars:          make(map[string]model.Bar),
		settings:      make(map[string]model.BarSettings),
		users:         make(map[int64]model.User),
		usersByName:   make(map[string]int64),
		accounts:      make(map[int64]*model.Account),
		accountsByKey: make(map[accountKey]int64),
		items:         make(map[int64]*model.Item),
	}
}

// Close ничего не делает и нужен для совместимости с PostgresRepository.
func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) CreateBar(_ context.Context, bar model.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bars[bar.ID]; ok {
		return fmt.Errorf("%w: %s", ErrBarExists, bar.ID)
	}
	m.bars[bar.ID] = bar
	s := model.DefaultBarSettings(bar.ID)
	s.LastModified = time.Now()
	m.settings[bar.ID] = s
	return nil
}

func (m *MemoryRepository) GetBar(_ context.Context, id string) (*model.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bars[id]
	if !ok {
		return nil, ErrBarNotFound
	}
	return &b, nil
}

func (m *MemoryRepository) ListBars(_ context.Context) ([]model.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]model.Bar, 0, len(m.bars))
	for _, b := range m.bars {
		res = append(res, b)
	}
	slices.SortFunc(res, func(a, b model.Bar) int { return cmp.Compare(a.ID, b.ID) })
	return res, nil
}

func (m *MemoryRepository) GetBarSettings(_ context.Context, barID string) (*model.BarSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[barID]
	if !ok {
		return nil, ErrBarNotFound
	}
	return &s, nil
}

func (m *MemoryRepository) UpdateBarSettings(_ context.Context, s model.BarSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.settings[s.BarID]; !ok {
		return ErrBarNotFound
	}
	s.LastModified = time.Now()
	m.settings[s.BarID] = s
	return nil
}

func (m *MemoryRepository) CreateUser(_ context.Context, username string, passwordHash []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.usersByName[username]; ok {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, username)
	}
	m.nextUserID++
	u := model.User{
		ID:           m.nextUserID,
		Username:     username,
		CreatedAt:    time.Now(),
		PasswordHash: slices.Clone(passwordHash),
	}
	m.users[u.ID] = u
	m.usersByName[username] = u.ID
	return u.ID, nil
}

func (m *MemoryRepository) GetUser(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryRepository) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.usersByName[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := m.users[id]
	return &u, nil
}

func (m *MemoryRepository) GetOrCreateUser(_ context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.usersByName[username]; ok {
		u := m.users[id]
		return &u, nil
	}
	m.nextUserID++
	u := model.User{ID: m.nextUserID, Username: username, CreatedAt: time.Now()}
	m.users[u.ID] = u
	m.usersByName[username] = u.ID
	return &u, nil
}

func (m *MemoryRepository) GetOrCreateAccount(_ context.Context, barID string, ownerID int64) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bars[barID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrBarNotFound, barID)
	}
	if _, ok := m.users[ownerID]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, ownerID)
	}

	key := accountKey{barID: barID, ownerID: ownerID}
	if id, ok := m.accountsByKey[key]; ok {
		cp := *m.accounts[id]
		return &cp, nil
	}

	m.nextAccountID++
	a := &model.Account{
		ID:           m.nextAccountID,
		BarID:        barID,
		OwnerID:      ownerID,
		Money:        decimal.Zero,
		LastModified: time.Now(),
	}
	m.accounts[a.ID] = a
	m.accountsByKey[key] = a.ID
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) GetAccount(_ context.Context, id int64) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) GetAccountByOwner(_ context.Context, barID string, ownerID int64) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.accountsByKey[accountKey{barID: barID, ownerID: ownerID}]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *m.accounts[id]
	return &cp, nil
}

func (m *MemoryRepository) ListAccounts(_ context.Context, barID string) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Account
	for _, a := range m.accounts {
		if a.BarID == barID && !a.Deleted {
			res = append(res, *a)
		}
	}
	slices.SortFunc(res, func(a, b model.Account) int { return cmp.Compare(a.ID, b.ID) })
	return res, nil
}

func (m *MemoryRepository) CountAccounts(ctx context.Context, barID string) (int, error) {
	accounts, err := m.ListAccounts(ctx, barID)
	if err != nil {
		return 0, err
	}
	return len(accounts), nil
}

func (m *MemoryRepository) SetAccountDeleted(_ context.Context, id int64, deleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.Deleted = deleted
	a.LastModified = time.Now()
	return nil
}

func (m *MemoryRepository) SetAccountStaff(_ context.Context, id int64, staff bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.Staff = staff
	a.LastModified = time.Now()
	return nil
}

func (m *MemoryRepository) MarkOverdrawn(_ context.Context, id int64, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return false, ErrAccountNotFound
	}
	if !a.Money.IsNegative() || a.OverdrawnSince != nil {
		return false, nil
	}
	day := dayOf(since)
	a.OverdrawnSince = &day
	a.LastModified = time.Now()
	return true, nil
}

func (m *MemoryRepository) ClearOverdrawn(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return false, ErrAccountNotFound
	}
	if a.Money.IsNegative() || a.OverdrawnSince == nil {
		return false, nil
	}
	a.OverdrawnSince = nil
	a.LastModified = time.Now()
	return true, nil
}

func (m *MemoryRepository) CreateItem(_ context.Context, item model.Item) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bars[item.BarID]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrBarNotFound, item.BarID)
	}
	if item.UnitFactor.IsZero() {
		item.UnitFactor = decimal.NewFromInt(1)
	}
	m.nextItemID++
	item.ID = m.nextItemID
	m.items[item.ID] = &item
	return item.ID, nil
}

func (m *MemoryRepository) GetItem(_ context.Context, id int64) (*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (m *MemoryRepository) ApplyTransaction(_ context.Context, t *model.Transaction) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.apply(t)
}

func (m *MemoryRepository) CancelTransaction(_ context.Context, id int64, reversal *model.Transaction) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orig := m.findTransaction(id)
	if orig == nil {
		return nil, ErrTransactionNotFound
	}
	if orig.Canceled {
		return nil, model.ErrAlreadyCanceled
	}

	res, err := m.apply(reversal)
	if err != nil {
		return nil, err
	}
	orig.Canceled = true
	return res, nil
}

// apply проверяет все операции до изменения состояния, поэтому ошибка не оставляет частичных записей.
func (m *MemoryRepository) apply(t *model.Transaction) (*model.Transaction, error) {
	for _, op := range t.AccountOperations {
		a, ok := m.accounts[op.AccountID]
		if !ok || a.BarID != t.BarID || a.Deleted {
			return nil, fmt.Errorf("%w: %d", model.ErrInvalidAccount, op.AccountID)
		}
		if op.Expected != nil && !a.Money.Equal(*op.Expected) {
			return nil, fmt.Errorf("%w: account %d", model.ErrBalanceChanged, op.AccountID)
		}
	}
	for _, op := range t.ItemOperations {
		it, ok := m.items[op.ItemID]
		if !ok || it.BarID != t.BarID || it.Deleted {
			return nil, fmt.Errorf("%w: %d", ErrItemNotFound, op.ItemID)
		}
	}

	res := *t
	res.AccountOperations = slices.Clone(t.AccountOperations)
	res.ItemOperations = slices.Clone(t.ItemOperations)

	now := time.Now()
	for i := range res.AccountOperations {
		op := &res.AccountOperations[i]
		a := m.accounts[op.AccountID]
		a.Money = a.Money.Add(op.Delta)
		a.OverdrawnSince = nextOverdrawnSince(a.OverdrawnSince, a.Money, res.Timestamp)
		a.LastModified = now
		op.Balance = a.Money
	}
	for i := range res.ItemOperations {
		op := &res.ItemOperations[i]
		it := m.items[op.ItemID]
		it.Qty = it.Qty.Add(op.Delta)
		op.Normalized = op.Delta.Mul(it.UnitFactor)
	}

	res.ID = int64(len(m.transactions) + 1)
	stored := res
	stored.AccountOperations = slices.Clone(res.AccountOperations)
	stored.ItemOperations = slices.Clone(res.ItemOperations)
	m.transactions = append(m.transactions, &stored)
	return &res, nil
}

func (m *MemoryRepository) findTransaction(id int64) *model.Transaction {
	if id <= 0 || id > int64(len(m.transactions)) {
		return nil
	}
	return m.transactions[id-1]
}

func (m *MemoryRepository) GetTransaction(_ context.Context, id int64) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.findTransaction(id)
	if t == nil {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	cp.AccountOperations = slices.Clone(t.AccountOperations)
	cp.ItemOperations = slices.Clone(t.ItemOperations)
	return &cp, nil
}

func (m *MemoryRepository) QueryTransactions(_ context.Context, q model.StatsQuery) ([]model.StatsRow, error) {
	if q.GroupBy != model.GroupByAccount && q.GroupBy != model.GroupByItem {
		return nil, fmt.Errorf("%w: group by %q", model.ErrValidation, q.GroupBy)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	totals := make(map[int64]decimal.Decimal)
	for _, t := range m.transactions {
		if t.BarID != q.BarID || t.Canceled || t.Type == model.TransactionCancel {
			continue
		}
		if !q.From.IsZero() && t.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !t.Timestamp.Before(q.To) {
			continue
		}
		if len(q.Types) > 0 && !slices.Contains(q.Types, t.Type) {
			continue
		}

		if q.GroupBy == model.GroupByAccount {
			for _, op := range t.AccountOperations {
				totals[op.AccountID] = totals[op.AccountID].Add(op.Delta)
			}
		} else {
			for _, op := range t.ItemOperations {
				totals[op.ItemID] = totals[op.ItemID].Add(op.Normalized)
			}
		}
	}

	res := make([]model.StatsRow, 0, len(totals))
	for k, v := range totals {
		res = append(res, model.StatsRow{Key: k, Total: v})
	}
	slices.SortFunc(res, func(a, b model.StatsRow) int {
		if c := a.Total.Cmp(b.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return res, nil
}
