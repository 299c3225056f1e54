package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/bartab/internal/model"
)

// newIntegrationRepository подключается к базе из DATABASE_URI; без неё тест пропускается.
func newIntegrationRepository(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("DATABASE_URI")
	if dsn == "" {
		t.Skip("DATABASE_URI is not set")
	}

	repo, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func integrationAccount(t *testing.T, repo *PostgresRepository) *model.Account {
	t.Helper()

	ctx := context.Background()
	suffix := time.Now().UnixNano()
	barID := fmt.Sprintf("itest%d", suffix)

	require.NoError(t, repo.CreateBar(ctx, model.Bar{ID: barID, Name: "integration"}))
	u, err := repo.GetOrCreateUser(ctx, fmt.Sprintf("itest-%d", suffix))
	require.NoError(t, err)
	a, err := repo.GetOrCreateAccount(ctx, barID, u.ID)
	require.NoError(t, err)
	return a
}

func TestPostgres_ConcurrentMutationsOnOneAccount(t *testing.T) {
	repo := newIntegrationRepository(t)
	account := integrationAccount(t, repo)

	apply := func(typ model.TransactionType, delta int64) error {
		_, err := repo.ApplyTransaction(context.Background(), &model.Transaction{
			BarID:     account.BarID,
			Type:      typ,
			AuthorID:  account.OwnerID,
			Timestamp: time.Now(),
			MoneyFlow: decimal.NewFromInt(delta).Abs(),
			AccountOperations: []model.AccountOperation{
				{AccountID: account.ID, Delta: decimal.NewFromInt(delta)},
			},
		})
		return err
	}

	const n = 50
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error { return apply(model.TransactionWithdraw, -5) })
		g.Go(func() error { return apply(model.TransactionDeposit, 3) })
	}
	require.NoError(t, g.Wait())

	got, err := repo.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.True(t, got.Money.Equal(decimal.NewFromInt(-2*n)), "balance = %s", got.Money)
	assert.NotNil(t, got.OverdrawnSince)
}

func TestPostgres_ExpectedBalanceCheckedUnderLock(t *testing.T) {
	repo := newIntegrationRepository(t)
	account := integrationAccount(t, repo)
	ctx := context.Background()

	charge := func(expected decimal.Decimal) error {
		_, err := repo.ApplyTransaction(ctx, &model.Transaction{
			BarID:     account.BarID,
			Type:      model.TransactionAgios,
			AuthorID:  account.OwnerID,
			Timestamp: time.Now(),
			MoneyFlow: decimal.NewFromInt(1),
			AccountOperations: []model.AccountOperation{
				{AccountID: account.ID, Delta: decimal.NewFromInt(-1), Expected: &expected},
			},
		})
		return err
	}

	require.ErrorIs(t, charge(decimal.NewFromInt(-20)), model.ErrBalanceChanged)
	require.NoError(t, charge(decimal.Zero))

	got, err := repo.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Money.Equal(decimal.NewFromInt(-1)), "balance = %s", got.Money)
}
