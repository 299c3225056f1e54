// Package agios реализует начисление агио: комиссии за овердрафт, которую платит счёт,
// остающийся в минусе дольше порога, заданного в настройках бара.
package agios

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mmeshcher/bartab/internal/ledger"
	"github.com/mmeshcher/bartab/internal/model"
)

// Repository описывает доступ к счетам и настройкам, нужный для начисления агио.
type Repository interface {
	ListBars(ctx context.Context) ([]model.Bar, error)
	ListAccounts(ctx context.Context, barID string) ([]model.Account, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetBarSettings(ctx context.Context, barID string) (*model.BarSettings, error)
	MarkOverdrawn(ctx context.Context, id int64, since time.Time) (bool, error)
	ClearOverdrawn(ctx context.Context, id int64) (bool, error)
}

// Ledger создаёт транзакции агио.
type Ledger interface {
	Submit(ctx context.Context, barID string, actor *ledger.Actor, req ledger.Request) (*model.Transaction, error)
}

// Engine решает, нужно ли начислить агио счёту, и проводит начисление через Ledger.
// Собственного планировщика у Engine нет: его вызывают извне раз в период.
type Engine struct {
	repo     Repository
	ledger   Ledger
	defaults ledger.DefaultAccountResolver
	logger   *zap.Logger
}

// NewEngine создаёт движок начисления агио.
func NewEngine(repo Repository, l Ledger, defaults ledger.DefaultAccountResolver, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		repo:     repo,
		ledger:   l,
		defaults: defaults,
		logger:   logger,
	}
}

// Summary содержит итоги прохода по счетам.
type Summary struct {
	Accounts int             `json:"accounts"`
	Charged  int             `json:"charged"`
	Total    decimal.Decimal `json:"total"`
}

func (s *Summary) add(other Summary) {
	s.Accounts += other.Accounts
	s.Charged += other.Charged
	s.Total = s.Total.Add(other.Total)
}

// accrualAttempts ограничивает число перечитываний счёта, баланс которого изменился
// между чтением и начислением.
const accrualAttempts = 3

// RunAccrual оценивает один счёт на дату date и возвращает сумму начисленного агио.
//
// Неотрицательный баланс сбрасывает дату начала овердрафта. Отрицательный баланс без даты
// начала получает дату date и в этот запуск не облагается. Иначе, если агио включено и с
// даты начала прошло не меньше порога целых дней, начисляется |баланс| * коэффициент.
// Дата начала овердрафта после начисления не меняется.
//
// Агио считается от прочитанного баланса и проводится только если под блокировкой счёта
// баланс тот же; иначе счёт перечитывается.
func (e *Engine) RunAccrual(ctx context.Context, accountID int64, date time.Time) (decimal.Decimal, error) {
	var (
		fee decimal.Decimal
		err error
	)
	for i := 0; i < accrualAttempts; i++ {
		fee, err = e.accrue(ctx, accountID, date)
		if !errors.Is(err, model.ErrBalanceChanged) {
			return fee, err
		}
		e.logger.Debug("balance changed during agios run, retrying", zap.Int64("account", accountID))
	}
	return decimal.Zero, err
}

func (e *Engine) accrue(ctx context.Context, accountID int64, date time.Time) (decimal.Decimal, error) {
	account, err := e.repo.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get account %d: %w", accountID, err)
	}
	if account.Deleted {
		return decimal.Zero, fmt.Errorf("%w: %d", model.ErrInvalidAccount, accountID)
	}

	if !account.Overdrawn() {
		if account.OverdrawnSince != nil {
			if _, err := e.repo.ClearOverdrawn(ctx, account.ID); err != nil {
				return decimal.Zero, fmt.Errorf("clear overdraft of account %d: %w", account.ID, err)
			}
		}
		return decimal.Zero, nil
	}

	if account.OverdrawnSince == nil {
		if _, err := e.repo.MarkOverdrawn(ctx, account.ID, date); err != nil {
			return decimal.Zero, fmt.Errorf("mark account %d overdrawn: %w", account.ID, err)
		}
		return decimal.Zero, nil
	}

	settings, err := e.repo.GetBarSettings(ctx, account.BarID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get bar settings: %w", err)
	}
	if !settings.AgiosEnabled {
		return decimal.Zero, nil
	}
	if float64(ElapsedDays(*account.OverdrawnSince, date)) < settings.AgiosThreshold {
		return decimal.Zero, nil
	}

	fee := Fee(account.Money, settings.AgiosFactor)
	if !fee.IsPositive() {
		return decimal.Zero, nil
	}

	author, err := e.defaults.DefaultAccount(ctx, account.BarID)
	if err != nil {
		return decimal.Zero, err
	}

	balance := account.Money
	t, err := e.ledger.Submit(ctx, account.BarID, ledger.SystemActor(author), ledger.Request{
		Type:            model.TransactionAgios,
		Amount:          fee,
		AccountID:       account.ID,
		ExpectedBalance: &balance,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("charge agios to account %d: %w", account.ID, err)
	}

	e.logger.Info("agios charged",
		zap.Int64("account", account.ID),
		zap.String("bar", account.BarID),
		zap.String("fee", fee.String()),
		zap.Int64("transaction", t.ID),
	)
	return fee, nil
}

// RunBar вызывает RunAccrual для каждого неудалённого счёта бара.
// Ошибки отдельных счетов не прерывают проход и возвращаются вместе.
func (e *Engine) RunBar(ctx context.Context, barID string, date time.Time) (Summary, error) {
	var sum Summary
	if barID == "" {
		return sum, fmt.Errorf("%w: bar is required", model.ErrInsufficientContext)
	}

	accounts, err := e.repo.ListAccounts(ctx, barID)
	if err != nil {
		return sum, fmt.Errorf("list accounts: %w", err)
	}

	var errs error
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return sum, multierr.Append(errs, err)
		}

		sum.Accounts++
		fee, err := e.RunAccrual(ctx, a.ID, date)
		if err != nil {
			e.logger.Error("agios run failed", zap.Int64("account", a.ID), zap.String("bar", barID), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		if fee.IsPositive() {
			sum.Charged++
			sum.Total = sum.Total.Add(fee)
		}
	}

	return sum, errs
}

// RunAll вызывает RunBar для всех баров.
func (e *Engine) RunAll(ctx context.Context, date time.Time) (Summary, error) {
	var sum Summary

	bars, err := e.repo.ListBars(ctx)
	if err != nil {
		return sum, fmt.Errorf("list bars: %w", err)
	}

	var errs error
	for _, b := range bars {
		s, err := e.RunBar(ctx, b.ID, date)
		sum.add(s)
		errs = multierr.Append(errs, err)
	}
	return sum, errs
}

// Fee вычисляет агио для баланса balance: |balance| * factor.
func Fee(balance, factor decimal.Decimal) decimal.Decimal {
	return balance.Abs().Mul(factor)
}

// ElapsedDays возвращает число целых календарных дней между since и date.
func ElapsedDays(since, date time.Time) int {
	return int(day(date).Sub(day(since)).Hours() / 24)
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
