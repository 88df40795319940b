package services

import (
	"context"

	"github.com/upb/model-control-plane/repositories"
)

// WithTransactionResult runs fn inside txMgr.InTransaction and returns its result.
// The context handed to fn carries the transaction, so repositories called with it
// take part in the same unit of work.
func WithTransactionResult[T any](ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := txMgr.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		var err error
		result, err = fn(txCtx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
