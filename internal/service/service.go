// Package service объединяет операции бара, используемые HTTP-обработчиками и планировщиком.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/bartab/internal/agios"
	"github.com/mmeshcher/bartab/internal/ledger"
	"github.com/mmeshcher/bartab/internal/model"
	"github.com/mmeshcher/bartab/internal/repository"
	"github.com/mmeshcher/bartab/internal/validation"
)

// maxCancelThresholdHours ограничивает окно отмены транзакций десятью годами.
const maxCancelThresholdHours = 10 * 365 * 24

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateBar(ctx context.Context, bar model.Bar) error
	GetBar(ctx context.Context, id string) (*model.Bar, error)
	GetBarSettings(ctx context.Context, barID string) (*model.BarSettings, error)
	UpdateBarSettings(ctx context.Context, s model.BarSettings) error
	CreateUser(ctx context.Context, username string, passwordHash []byte) (int64, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetOrCreateAccount(ctx context.Context, barID string, ownerID int64) (*model.Account, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetAccountByOwner(ctx context.Context, barID string, ownerID int64) (*model.Account, error)
	CountAccounts(ctx context.Context, barID string) (int, error)
	CreateItem(ctx context.Context, item model.Item) (int64, error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	SetAccountDeleted(ctx context.Context, id int64, deleted bool) error
	SetAccountStaff(ctx context.Context, id int64, staff bool) error
	GetTransaction(ctx context.Context, id int64) (*model.Transaction, error)
	QueryTransactions(ctx context.Context, q model.StatsQuery) ([]model.StatsRow, error)
}

// Ledger описывает сервис изменения балансов.
type Ledger interface {
	Submit(ctx context.Context, barID string, actor *ledger.Actor, req ledger.Request) (*model.Transaction, error)
	Cancel(ctx context.Context, id int64, actor *ledger.Actor) (*model.Transaction, error)
}

// Accrual описывает движок начисления агио.
type Accrual interface {
	RunAccrual(ctx context.Context, accountID int64, date time.Time) (decimal.Decimal, error)
	RunBar(ctx context.Context, barID string, date time.Time) (agios.Summary, error)
	RunAll(ctx context.Context, date time.Time) (agios.Summary, error)
}

// Service содержит операции бара поверх хранилища, журнала и движка агио.
type Service struct {
	repo    Repository
	ledger  Ledger
	accrual Accrual
	logger  *zap.Logger
	now     func() time.Time

	systemUsername string
	admins         []string
}

// Option настраивает Service.
type Option func(*Service)

// WithSystemUsername задаёт имя системного пользователя, от имени которого начисляется агио.
// Под этим именем нельзя зарегистрироваться или войти.
func WithSystemUsername(name string) Option {
	return func(s *Service) { s.systemUsername = name }
}

// WithAdmins задаёт пользователей, которые считаются персоналом во всех барах.
func WithAdmins(usernames ...string) Option {
	return func(s *Service) { s.admins = usernames }
}

// NewService создаёт новый сервис.
func NewService(repo Repository, l Ledger, accrual Accrual, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:           repo,
		ledger:         l,
		accrual:        accrual,
		logger:         logger,
		now:            time.Now,
		systemUsername: "bar",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// BarInfo содержит описание бара и число активных счетов.
type BarInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CountAccounts int    `json:"count_accounts"`
}

// CreateBar создаёт бар; настройки создаются вместе с ним.
func (s *Service) CreateBar(ctx context.Context, id, name string) error {
	if !validation.IsValidBarID(id) {
		return fmt.Errorf("%w: invalid bar id %q", model.ErrValidation, id)
	}
	return s.repo.CreateBar(ctx, model.Bar{ID: id, Name: name})
}

// GetBar возвращает бар и число его неудалённых счетов.
func (s *Service) GetBar(ctx context.Context, id string) (*BarInfo, error) {
	b, err := s.repo.GetBar(ctx, id)
	if err != nil {
		return nil, err
	}
	n, err := s.repo.CountAccounts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &BarInfo{ID: b.ID, Name: b.Name, CountAccounts: n}, nil
}

// GetBarSettings возвращает настройки бара.
func (s *Service) GetBarSettings(ctx context.Context, barID string) (*model.BarSettings, error) {
	return s.repo.GetBarSettings(ctx, barID)
}

// UpdateBarSettings проверяет и сохраняет настройки бара.
func (s *Service) UpdateBarSettings(ctx context.Context, settings model.BarSettings) error {
	if settings.TransactionCancelThreshold < 0 || settings.AgiosThreshold < 0 {
		return fmt.Errorf("%w: thresholds must not be negative", model.ErrValidation)
	}
	if settings.TransactionCancelThreshold > maxCancelThresholdHours {
		return fmt.Errorf("%w: cancel threshold must not exceed %d hours", model.ErrValidation, maxCancelThresholdHours)
	}
	if settings.AgiosFactor.IsNegative() {
		return fmt.Errorf("%w: agios factor must not be negative", model.ErrValidation)
	}
	return s.repo.UpdateBarSettings(ctx, settings)
}

func hashPassword(username, password string) []byte {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return sum[:]
}

// RegisterUser регистрирует пользователя с паролем.
func (s *Service) RegisterUser(ctx context.Context, username, password string) (*model.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", model.ErrValidation)
	}
	if username == s.systemUsername {
		return nil, fmt.Errorf("%w: username %q is reserved", model.ErrForbidden, username)
	}

	id, err := s.repo.CreateUser(ctx, username, hashPassword(username, password))
	if err != nil {
		return nil, err
	}
	return &model.User{ID: id, Username: username}, nil
}

// AuthenticateUser проверяет логин и пароль пользователя.
// Системный пользователь и пользователи без пароля войти не могут.
func (s *Service) AuthenticateUser(ctx context.Context, username, password string) (*model.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", model.ErrValidation)
	}
	if username == s.systemUsername {
		return nil, fmt.Errorf("%w: user %q cannot log in", model.ErrForbidden, username)
	}

	u, err := s.repo.GetUserByUsername(ctx, username)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, model.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if len(u.PasswordHash) == 0 || subtle.ConstantTimeCompare(u.PasswordHash, hashPassword(username, password)) != 1 {
		return nil, model.ErrInvalidCredentials
	}
	return u, nil
}

// ResolveActor строит автора операций пользователя userID в баре barID.
// Пользователь считается персоналом, если он администратор или его счёт в баре отмечен как персонал.
func (s *Service) ResolveActor(ctx context.Context, barID string, userID int64) (*ledger.Actor, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	actor := &ledger.Actor{UserID: u.ID}
	if slices.Contains(s.admins, u.Username) {
		actor.Staff = true
		return actor, nil
	}
	if barID == "" {
		return actor, nil
	}

	a, err := s.repo.GetAccountByOwner(ctx, barID, u.ID)
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		return actor, nil
	case err != nil:
		return nil, err
	}
	actor.Staff = a.Staff && !a.Deleted
	return actor, nil
}

// OpenAccount создаёт счёт пользователя username в баре при первой связи и возвращает его.
// Пустой username открывает счёт самого автора; счёт другому пользователю открывает только персонал.
func (s *Service) OpenAccount(ctx context.Context, barID string, actor *ledger.Actor, username string) (*model.Account, error) {
	if barID == "" || actor == nil {
		return nil, fmt.Errorf("%w: bar and actor are required", model.ErrInsufficientContext)
	}
	if username == "" {
		return s.repo.GetOrCreateAccount(ctx, barID, actor.UserID)
	}

	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u.ID != actor.UserID && !actor.Staff {
		return nil, fmt.Errorf("%w: only bar staff can open accounts for other users", model.ErrForbidden)
	}
	return s.repo.GetOrCreateAccount(ctx, barID, u.ID)
}

// SetAccountStaff отмечает владельца счёта персоналом бара или снимает отметку.
func (s *Service) SetAccountStaff(ctx context.Context, barID string, id int64, staff bool) (*model.Account, error) {
	if _, err := s.GetAccount(ctx, barID, id); err != nil {
		return nil, err
	}
	if err := s.repo.SetAccountStaff(ctx, id, staff); err != nil {
		return nil, err
	}
	return s.repo.GetAccount(ctx, id)
}

// GetMyAccount возвращает счёт пользователя в баре.
func (s *Service) GetMyAccount(ctx context.Context, barID string, userID int64) (*model.Account, error) {
	if barID == "" {
		return nil, fmt.Errorf("%w: bar is required", model.ErrInsufficientContext)
	}
	return s.repo.GetAccountByOwner(ctx, barID, userID)
}

// GetAccount возвращает счёт бара по идентификатору.
func (s *Service) GetAccount(ctx context.Context, barID string, id int64) (*model.Account, error) {
	a, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.BarID != barID {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidAccount, id)
	}
	return a, nil
}

// DeleteAccount помечает счёт удалённым. Счета физически не удаляются.
func (s *Service) DeleteAccount(ctx context.Context, barID string, id int64) error {
	if _, err := s.GetAccount(ctx, barID, id); err != nil {
		return err
	}
	return s.repo.SetAccountDeleted(ctx, id, true)
}

// CreateItem добавляет товар в бар. Нулевой коэффициент приведения заменяется единицей.
func (s *Service) CreateItem(ctx context.Context, item model.Item) (*model.Item, error) {
	if item.BarID == "" {
		return nil, fmt.Errorf("%w: bar is required", model.ErrInsufficientContext)
	}
	if item.Name == "" {
		return nil, fmt.Errorf("%w: item name is required", model.ErrValidation)
	}
	if item.Price.IsNegative() || item.UnitFactor.IsNegative() {
		return nil, fmt.Errorf("%w: price and unit factor must not be negative", model.ErrValidation)
	}
	if item.UnitFactor.IsZero() {
		item.UnitFactor = decimal.NewFromInt(1)
	}

	id, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		return nil, err
	}
	return s.repo.GetItem(ctx, id)
}

// SubmitTransaction создаёт транзакцию в баре.
func (s *Service) SubmitTransaction(ctx context.Context, barID string, actor *ledger.Actor, req ledger.Request) (*model.Transaction, error) {
	return s.ledger.Submit(ctx, barID, actor, req)
}

// CancelTransaction отменяет транзакцию бара.
func (s *Service) CancelTransaction(ctx context.Context, barID string, id int64, actor *ledger.Actor) (*model.Transaction, error) {
	if _, err := s.GetTransaction(ctx, barID, id); err != nil {
		return nil, err
	}
	return s.ledger.Cancel(ctx, id, actor)
}

// GetTransaction возвращает транзакцию бара.
func (s *Service) GetTransaction(ctx context.Context, barID string, id int64) (*model.Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.BarID != barID {
		return nil, fmt.Errorf("%w: transaction %d belongs to another bar", model.ErrValidation, id)
	}
	return t, nil
}

// RunAccrual начисляет агио одному счёту бара на дату date.
func (s *Service) RunAccrual(ctx context.Context, barID string, accountID int64, date time.Time) (decimal.Decimal, error) {
	if _, err := s.GetAccount(ctx, barID, accountID); err != nil {
		return decimal.Zero, err
	}
	return s.accrual.RunAccrual(ctx, accountID, date)
}

// RunBarAccrual начисляет агио всем счетам бара на дату date.
func (s *Service) RunBarAccrual(ctx context.Context, barID string, date time.Time) (agios.Summary, error) {
	if _, err := s.repo.GetBar(ctx, barID); err != nil {
		return agios.Summary{}, err
	}
	return s.accrual.RunBar(ctx, barID, date)
}

// QueryTransactions возвращает агрегаты по журналу транзакций бара.
// Запрос без бара завершается ошибкой model.ErrNoBarScope, а не пустым результатом.
func (s *Service) QueryTransactions(ctx context.Context, q model.StatsQuery) ([]model.StatsRow, error) {
	if q.BarID == "" {
		return nil, model.ErrNoBarScope
	}
	return s.repo.QueryTransactions(ctx, q)
}

// AccountRanking возвращает сумму изменений балансов по счетам бара.
func (s *Service) AccountRanking(ctx context.Context, barID string, from, to time.Time, types []model.TransactionType) ([]model.StatsRow, error) {
	return s.QueryTransactions(ctx, model.StatsQuery{
		BarID:   barID,
		From:    from,
		To:      to,
		Types:   types,
		GroupBy: model.GroupByAccount,
	})
}

// ItemRanking возвращает объём потребления товаров бара в приведённых единицах.
func (s *Service) ItemRanking(ctx context.Context, barID string, from, to time.Time) ([]model.StatsRow, error) {
	return s.QueryTransactions(ctx, model.StatsQuery{
		BarID:   barID,
		From:    from,
		To:      to,
		Types:   []model.TransactionType{model.TransactionBuy},
		GroupBy: model.GroupByItem,
	})
}

// StartAgiosUpdates периодически, не чаще раза в календарный день, запускает начисление агио
// по всем барам. Блокируется до отмены ctx. При interval <= 0 сразу возвращается.
func (s *Service) StartAgiosUpdates(ctx context.Context, interval time.Duration) {
	if s.accrual == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last = s.runDailyAgios(ctx, last)
		}
	}
}

// runDailyAgios запускает начисление, если за текущий день оно ещё не выполнялось,
// и возвращает день последнего запуска. Если проход не обработал ни одного счёта и
// завершился ошибкой, день не засчитывается и следующий тик повторит запуск.
func (s *Service) runDailyAgios(ctx context.Context, last time.Time) time.Time {
	now := s.now()
	y, m, d := now.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if today.Equal(last) {
		return last
	}

	sum, err := s.accrual.RunAll(ctx, now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return last
		}
		if sum.Accounts == 0 {
			s.logger.Error("agios run failed, will retry", zap.Error(err))
			return last
		}
		s.logger.Error("agios run finished with errors", zap.Error(err))
	}
	s.logger.Info("agios run finished",
		zap.Int("accounts", sum.Accounts),
		zap.Int("charged", sum.Charged),
		zap.String("total", sum.Total.String()),
	)
	return today
}
