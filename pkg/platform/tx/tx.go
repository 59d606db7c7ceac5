package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// SQLRunner runs a function inside a database transaction. Stores that look up
// their executor with From join the transaction automatically, so a record and
// its audit outbox row commit or roll back together.
type SQLRunner struct {
	db *sql.DB
}

func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MemoryRunner gives in-memory stores the same all-or-nothing boundary as
// SQLRunner. Stores register an undo with OnRollback after each write; if fn
// fails the undos run newest first.
type MemoryRunner struct{}

type undoLogKey struct{}

type undoLog struct {
	mu    sync.Mutex
	undos []func()
}

func (MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(undoLogKey{}).(*undoLog); ok {
		return fn(ctx)
	}
	log := &undoLog{}
	if err := fn(context.WithValue(ctx, undoLogKey{}, log)); err != nil {
		log.mu.Lock()
		defer log.mu.Unlock()
		for i := len(log.undos) - 1; i >= 0; i-- {
			log.undos[i]()
		}
		return err
	}
	return nil
}

// OnRollback registers undo with the MemoryRunner transaction in ctx. Outside
// one it does nothing and the write stands.
func OnRollback(ctx context.Context, undo func()) {
	log, ok := ctx.Value(undoLogKey{}).(*undoLog)
	if !ok {
		return
	}
	log.mu.Lock()
	log.undos = append(log.undos, undo)
	log.mu.Unlock()
}
