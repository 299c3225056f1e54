package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bartab/internal/model"
)

// Cancel отменяет транзакцию, создавая обратную ей транзакцию типа cancel.
// Исходная транзакция помечается отменённой, история не удаляется.
func (s *Service) Cancel(ctx context.Context, id int64, actor *Actor) (*model.Transaction, error) {
	if actor == nil {
		return nil, fmt.Errorf("%w: actor is required", model.ErrInsufficientContext)
	}

	orig, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Type == model.TransactionCancel {
		return nil, fmt.Errorf("%w: %d", model.ErrNotCancellable, id)
	}
	if orig.Canceled {
		return nil, fmt.Errorf("%w: %d", model.ErrAlreadyCanceled, id)
	}
	if !actor.System && !actor.Staff && actor.UserID != orig.AuthorID {
		return nil, fmt.Errorf("%w: only the author or bar staff can cancel transaction %d", model.ErrForbidden, id)
	}

	settings, err := s.repo.GetBarSettings(ctx, orig.BarID)
	if err != nil {
		return nil, fmt.Errorf("get bar settings: %w", err)
	}

	now := s.now()
	if !CancellationAllowed(orig.Timestamp, now, settings.TransactionCancelThreshold) {
		return nil, fmt.Errorf("%w: transaction %d is %s old", model.ErrStaleCancellation, id, now.Sub(orig.Timestamp).Round(time.Minute))
	}

	res, err := s.repo.CancelTransaction(ctx, id, Reversal(orig, actor.UserID, now))
	if err != nil {
		return nil, fmt.Errorf("cancel transaction %d: %w", id, err)
	}

	s.logger.Info("transaction canceled",
		zap.Int64("id", id),
		zap.Int64("reversal", res.ID),
		zap.String("bar", res.BarID),
	)
	return res, nil
}

// CancellationAllowed сообщает, попадает ли момент now в окно отмены длиной thresholdHours
// часов от создания транзакции. Граница окна включается. Сравнение идёт в часах,
// поэтому сколь угодно большой порог не переполняет time.Duration.
func CancellationAllowed(created, now time.Time, thresholdHours float64) bool {
	return now.Sub(created).Hours() <= thresholdHours
}

// Reversal строит транзакцию, компенсирующую все операции orig.
func Reversal(orig *model.Transaction, authorID int64, at time.Time) *model.Transaction {
	origID := orig.ID
	r := &model.Transaction{
		BarID:      orig.BarID,
		Type:       model.TransactionCancel,
		AuthorID:   authorID,
		Timestamp:  at,
		MoneyFlow:  orig.MoneyFlow.Neg(),
		ReversalOf: &origID,
	}
	for _, op := range orig.AccountOperations {
		r.AccountOperations = append(r.AccountOperations, model.AccountOperation{
			AccountID: op.AccountID,
			Delta:     op.Delta.Neg(),
		})
	}
	for _, op := range orig.ItemOperations {
		r.ItemOperations = append(r.ItemOperations, model.ItemOperation{
			ItemID: op.ItemID,
			Delta:  op.Delta.Neg(),
		})
	}
	return r
}
