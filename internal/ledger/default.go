package ledger

import (
	"context"
	"fmt"

	"github.com/mmeshcher/bartab/internal/model"
)

// DefaultAccountResolver возвращает счёт, от имени которого проводятся автоматические операции.
type DefaultAccountResolver interface {
	DefaultAccount(ctx context.Context, barID string) (*model.Account, error)
}

// AccountStore описывает хранилище, в котором создаются системный пользователь и его счета.
type AccountStore interface {
	GetOrCreateUser(ctx context.Context, username string) (*model.User, error)
	GetOrCreateAccount(ctx context.Context, barID string, ownerID int64) (*model.Account, error)
}

// SystemAccounts находит или создаёт счёт системного пользователя в каждом баре.
type SystemAccounts struct {
	store    AccountStore
	username string
}

// NewSystemAccounts создаёт резолвер системных счетов для пользователя username.
func NewSystemAccounts(store AccountStore, username string) *SystemAccounts {
	return &SystemAccounts{store: store, username: username}
}

// DefaultAccount возвращает счёт системного пользователя в баре barID.
func (r *SystemAccounts) DefaultAccount(ctx context.Context, barID string) (*model.Account, error) {
	if barID == "" {
		return nil, fmt.Errorf("%w: bar is required", model.ErrInsufficientContext)
	}
	u, err := r.store.GetOrCreateUser(ctx, r.username)
	if err != nil {
		return nil, fmt.Errorf("resolve system user: %w", err)
	}
	a, err := r.store.GetOrCreateAccount(ctx, barID, u.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve system account: %w", err)
	}
	return a, nil
}

// SystemActor возвращает автора автоматических операций для счёта account.
func SystemActor(account *model.Account) *Actor {
	return &Actor{UserID: account.OwnerID, System: true}
}
