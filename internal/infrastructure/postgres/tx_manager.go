package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type Transactor interface {
	WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error
}

type TxManager struct {
	db DB
}

func NewTxManager(db DB) *TxManager {
	return &TxManager{db: db}
}

type txKey struct{}

// WithinTransaction executes a function within a transaction.
// It injects the tx into the context. If ctx already carries a transaction
// the function joins it and the outermost caller decides commit or rollback.
func (tm *TxManager) WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) (err error) {
	if GetTx(ctx) != nil {
		return tFunc(ctx)
	}

	tx, err := tm.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	// Rollback and commit must release the connection even if ctx is already done.
	endCtx := context.WithoutCancel(ctx)
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(endCtx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(endCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback transaction: %w", rbErr))
			}
			return
		}
		if cErr := tx.Commit(endCtx); cErr != nil {
			err = fmt.Errorf("commit transaction: %w", cErr)
		}
	}()

	return tFunc(context.WithValue(ctx, txKey{}, tx))
}

// GetTx retrieves the transaction from context, or nil if not present.
func GetTx(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}
