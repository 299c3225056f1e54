// Package ledger реализует единственную точку изменения балансов счетов:
// создание транзакций и их отмену.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/bartab/internal/model"
	"github.com/mmeshcher/bartab/internal/repository"
	"github.com/mmeshcher/bartab/internal/validation"
)

// Repository описывает хранилище, через которое сервис читает счета и фиксирует транзакции.
type Repository interface {
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetAccountByOwner(ctx context.Context, barID string, ownerID int64) (*model.Account, error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	GetBarSettings(ctx context.Context, barID string) (*model.BarSettings, error)
	GetTransaction(ctx context.Context, id int64) (*model.Transaction, error)
	ApplyTransaction(ctx context.Context, t *model.Transaction) (*model.Transaction, error)
	CancelTransaction(ctx context.Context, id int64, reversal *model.Transaction) (*model.Transaction, error)
}

// Actor описывает автора операции.
type Actor struct {
	UserID int64
	// System отмечает автоматические операции, например начисление агио.
	System bool
	// Staff отмечает персонал бара, в котором выполняется операция.
	Staff bool
}

// CapabilityFunc решает, может ли автор провести операцию типа typ над счётом account.
// Для поставок account равен nil.
type CapabilityFunc func(actor Actor, account *model.Account, typ model.TransactionType) bool

// OwnerOrStaff разрешает владельцу счёта покупки, переводы и снятия со своего счёта.
// Пополнения, возвраты, штрафы, поставки и агио доступны только персоналу бара и системе.
func OwnerOrStaff(actor Actor, account *model.Account, typ model.TransactionType) bool {
	if actor.System || actor.Staff {
		return true
	}
	switch typ {
	case model.TransactionBuy, model.TransactionGive, model.TransactionWithdraw:
		return account != nil && account.OwnerID == actor.UserID
	}
	return false
}

// AllowAll разрешает любые изменения.
func AllowAll(Actor, *model.Account, model.TransactionType) bool { return true }

// Request описывает запрос на создание транзакции.
type Request struct {
	Type   model.TransactionType
	Amount decimal.Decimal
	// AccountID равен нулю, если операция относится к счёту автора в текущем баре.
	AccountID       int64
	TargetAccountID int64
	ItemID          int64
	Qty             decimal.Decimal
	Motive          string
	// ExpectedBalance, если задан, проверяется под блокировкой счёта перед применением.
	ExpectedBalance *decimal.Decimal
}

// Service применяет транзакции к счетам.
type Service struct {
	repo      Repository
	canMutate CapabilityFunc
	now       func() time.Time
	logger    *zap.Logger
}

// Option настраивает Service.
type Option func(*Service)

// WithCapability задаёт проверку прав на изменение счёта.
func WithCapability(f CapabilityFunc) Option {
	return func(s *Service) { s.canMutate = f }
}

// WithClock задаёт источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger задаёт логгер сервиса.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService создаёт сервис изменения балансов.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		canMutate: OwnerOrStaff,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit проверяет запрос, сохраняет транзакцию и применяет её изменения к счетам.
// Всё происходит в одной транзакции хранилища: при ошибке ничего не записывается.
func (s *Service) Submit(ctx context.Context, barID string, actor *Actor, req Request) (*model.Transaction, error) {
	if barID == "" {
		return nil, fmt.Errorf("%w: bar is required", model.ErrInsufficientContext)
	}
	if actor == nil {
		return nil, fmt.Errorf("%w: actor is required", model.ErrInsufficientContext)
	}

	t := &model.Transaction{
		BarID:     barID,
		Type:      req.Type,
		AuthorID:  actor.UserID,
		Timestamp: s.now(),
		Motive:    req.Motive,
	}

	var err error
	switch req.Type {
	case model.TransactionBuy:
		err = s.buildBuy(ctx, t, actor, req)
	case model.TransactionGive:
		err = s.buildGive(ctx, t, actor, req)
	case model.TransactionDeposit, model.TransactionRefund:
		err = s.buildSingle(ctx, t, actor, req, req.Amount)
	case model.TransactionWithdraw, model.TransactionPunish, model.TransactionAgios:
		err = s.buildSingle(ctx, t, actor, req, req.Amount.Neg())
	case model.TransactionAppro:
		err = s.buildAppro(ctx, t, actor, req)
	default:
		err = fmt.Errorf("%w: transaction type %q cannot be submitted", model.ErrValidation, req.Type)
	}
	if err != nil {
		return nil, err
	}

	res, err := s.repo.ApplyTransaction(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("apply %s transaction: %w", t.Type, err)
	}

	s.logger.Debug("transaction committed",
		zap.Int64("id", res.ID),
		zap.String("bar", res.BarID),
		zap.String("type", string(res.Type)),
		zap.String("moneyflow", res.MoneyFlow.String()),
	)
	return res, nil
}

func (s *Service) buildSingle(ctx context.Context, t *model.Transaction, actor *Actor, req Request, delta decimal.Decimal) error {
	if err := validation.PositiveAmount("amount", req.Amount); err != nil {
		return err
	}
	account, err := s.mutableAccount(ctx, t, actor, req.AccountID)
	if err != nil {
		return err
	}
	t.MoneyFlow = req.Amount
	t.AccountOperations = []model.AccountOperation{{AccountID: account.ID, Delta: delta, Expected: req.ExpectedBalance}}
	return nil
}

func (s *Service) buildGive(ctx context.Context, t *model.Transaction, actor *Actor, req Request) error {
	if err := validation.PositiveAmount("amount", req.Amount); err != nil {
		return err
	}
	from, err := s.mutableAccount(ctx, t, actor, req.AccountID)
	if err != nil {
		return err
	}
	if req.TargetAccountID == 0 {
		return fmt.Errorf("%w: target account is required", model.ErrValidation)
	}
	to, err := s.barAccount(ctx, t.BarID, req.TargetAccountID)
	if err != nil {
		return err
	}
	if from.ID == to.ID {
		return fmt.Errorf("%w: cannot give to the same account", model.ErrValidation)
	}

	t.MoneyFlow = req.Amount
	t.AccountOperations = []model.AccountOperation{
		{AccountID: from.ID, Delta: req.Amount.Neg()},
		{AccountID: to.ID, Delta: req.Amount},
	}
	return nil
}

func (s *Service) buildBuy(ctx context.Context, t *model.Transaction, actor *Actor, req Request) error {
	if err := validation.PositiveAmount("qty", req.Qty); err != nil {
		return err
	}
	item, err := s.barItem(ctx, t.BarID, req.ItemID)
	if err != nil {
		return err
	}
	account, err := s.mutableAccount(ctx, t, actor, req.AccountID)
	if err != nil {
		return err
	}

	cost := req.Qty.Mul(item.Price)
	t.MoneyFlow = cost
	t.AccountOperations = []model.AccountOperation{{AccountID: account.ID, Delta: cost.Neg()}}
	t.ItemOperations = []model.ItemOperation{{ItemID: item.ID, Delta: req.Qty.Neg()}}
	return nil
}

func (s *Service) buildAppro(ctx context.Context, t *model.Transaction, actor *Actor, req Request) error {
	if !s.canMutate(*actor, nil, t.Type) {
		return fmt.Errorf("%w: restocking requires bar staff", model.ErrForbidden)
	}
	if err := validation.PositiveAmount("qty", req.Qty); err != nil {
		return err
	}
	if req.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", model.ErrValidation)
	}
	item, err := s.barItem(ctx, t.BarID, req.ItemID)
	if err != nil {
		return err
	}

	t.MoneyFlow = req.Amount
	t.ItemOperations = []model.ItemOperation{{ItemID: item.ID, Delta: req.Qty}}
	return nil
}

// mutableAccount находит счёт операции и проверяет право автора провести над ним транзакцию t.
func (s *Service) mutableAccount(ctx context.Context, t *model.Transaction, actor *Actor, id int64) (*model.Account, error) {
	barID := t.BarID
	var (
		account *model.Account
		err     error
	)
	if id == 0 {
		if actor.System {
			return nil, fmt.Errorf("%w: account is required for system operations", model.ErrInsufficientContext)
		}
		account, err = s.repo.GetAccountByOwner(ctx, barID, actor.UserID)
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: user %d has no account in bar %s", model.ErrInvalidAccount, actor.UserID, barID)
		}
		if err != nil {
			return nil, err
		}
		if account.Deleted {
			return nil, fmt.Errorf("%w: %d", model.ErrInvalidAccount, account.ID)
		}
	} else {
		account, err = s.barAccount(ctx, barID, id)
		if err != nil {
			return nil, err
		}
	}

	if !s.canMutate(*actor, account, t.Type) {
		return nil, fmt.Errorf("%w: %s on account %d", model.ErrForbidden, t.Type, account.ID)
	}
	return account, nil
}

// barAccount возвращает неудалённый счёт указанного бара.
func (s *Service) barAccount(ctx context.Context, barID string, id int64) (*model.Account, error) {
	account, err := s.repo.GetAccount(ctx, id)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidAccount, id)
	}
	if err != nil {
		return nil, err
	}
	if account.BarID != barID || account.Deleted {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidAccount, id)
	}
	return account, nil
}

func (s *Service) barItem(ctx context.Context, barID string, id int64) (*model.Item, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: item is required", model.ErrValidation)
	}
	item, err := s.repo.GetItem(ctx, id)
	if errors.Is(err, repository.ErrItemNotFound) {
		return nil, fmt.Errorf("%w: item %d", model.ErrValidation, id)
	}
	if err != nil {
		return nil, err
	}
	if item.BarID != barID || item.Deleted {
		return nil, fmt.Errorf("%w: item %d", model.ErrValidation, id)
	}
	return item, nil
}
