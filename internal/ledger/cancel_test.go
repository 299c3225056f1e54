package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/bartab/internal/model"
	"github.com/mmeshcher/bartab/internal/repository"
)

func TestCancel_Window(t *testing.T) {
	tests := []struct {
		name    string
		after   time.Duration
		wantErr error
	}{
		{
			name:  "47 hours accepted",
			after: 47 * time.Hour,
		},
		{
			name:  "exactly 48 hours accepted",
			after: 48 * time.Hour,
		},
		{
			name:    "50 hours rejected",
			after:   50 * time.Hour,
			wantErr: model.ErrStaleCancellation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			actor := &Actor{UserID: f.alice.OwnerID}

			orig, err := f.svc.Submit(ctx, "natation", actor, Request{
				Type:   model.TransactionWithdraw,
				Amount: dec("6"),
			})
			require.NoError(t, err)

			f.now = f.now.Add(tt.after)
			rev, err := f.svc.Cancel(ctx, orig.ID, actor)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, f.balance(t, f.alice.ID).Equal(dec("-6")))

				stored, err := f.repo.GetTransaction(ctx, orig.ID)
				require.NoError(t, err)
				assert.False(t, stored.Canceled)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, model.TransactionCancel, rev.Type)
			require.NotNil(t, rev.ReversalOf)
			assert.Equal(t, orig.ID, *rev.ReversalOf)
			assert.True(t, rev.AccountOperations[0].Delta.Equal(dec("6")))
			assert.True(t, f.balance(t, f.alice.ID).IsZero())

			a, err := f.repo.GetAccount(ctx, f.alice.ID)
			require.NoError(t, err)
			assert.Nil(t, a.OverdrawnSince)
		})
	}
}

func TestCancel_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := &Actor{UserID: f.alice.OwnerID}

	orig, err := f.svc.Submit(ctx, "natation", alice, Request{Type: model.TransactionWithdraw, Amount: dec("2")})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, orig.ID, nil)
	assert.ErrorIs(t, err, model.ErrInsufficientContext)

	_, err = f.svc.Cancel(ctx, orig.ID, &Actor{UserID: f.bob.OwnerID})
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.svc.Cancel(ctx, 4242, alice)
	assert.ErrorIs(t, err, repository.ErrTransactionNotFound)

	rev, err := f.svc.Cancel(ctx, orig.ID, alice)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, orig.ID, alice)
	assert.ErrorIs(t, err, model.ErrAlreadyCanceled)

	_, err = f.svc.Cancel(ctx, rev.ID, alice)
	assert.ErrorIs(t, err, model.ErrNotCancellable)

	assert.True(t, f.balance(t, f.alice.ID).IsZero())
}

func TestCancel_ByStaff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orig, err := f.svc.Submit(ctx, "natation", &Actor{UserID: f.alice.OwnerID}, Request{
		Type:   model.TransactionWithdraw,
		Amount: dec("3"),
	})
	require.NoError(t, err)

	rev, err := f.svc.Cancel(ctx, orig.ID, &Actor{UserID: f.bob.OwnerID, Staff: true})
	require.NoError(t, err)
	assert.Equal(t, f.bob.OwnerID, rev.AuthorID)
	assert.True(t, f.balance(t, f.alice.ID).IsZero())
}

func TestCancel_RevertsItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := &Actor{UserID: f.alice.OwnerID}

	itemID, err := f.repo.CreateItem(ctx, model.Item{BarID: "natation", Name: "Coca", Price: dec("0.8"), Qty: dec("10")})
	require.NoError(t, err)

	orig, err := f.svc.Submit(ctx, "natation", alice, Request{Type: model.TransactionBuy, ItemID: itemID, Qty: dec("2")})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, orig.ID, alice)
	require.NoError(t, err)

	item, err := f.repo.GetItem(ctx, itemID)
	require.NoError(t, err)
	assert.True(t, item.Qty.Equal(dec("10")))
	assert.True(t, f.balance(t, f.alice.ID).IsZero())

	rows, err := f.repo.QueryTransactions(ctx, model.StatsQuery{BarID: "natation", GroupBy: model.GroupByItem})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCancellationAllowed(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, CancellationAllowed(created, created, 0))
	assert.True(t, CancellationAllowed(created, created.Add(90*time.Minute), 1.5))
	assert.False(t, CancellationAllowed(created, created.Add(91*time.Minute), 1.5))

	// Порог больше, чем помещается в time.Duration.
	assert.True(t, CancellationAllowed(created, created.Add(time.Hour), 1e12))
	assert.True(t, CancellationAllowed(created, created.AddDate(10, 0, 0), 1e12))
	assert.False(t, CancellationAllowed(created, created.Add(time.Hour), -1))
}
