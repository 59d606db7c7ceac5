package main

import (
	"context"
	"fmt"
	"time"

	"checkpoint/internal/processing/ports"
)

const defaultSaveTxTimeout = 5 * time.Second

// boundedTx refuses to open a transaction for a cancelled request and bounds
// transactions whose context carries no deadline.
type boundedTx struct {
	inner   ports.TxRunner
	timeout time.Duration
}

func newBoundedTx(inner ports.TxRunner, timeout time.Duration) *boundedTx {
	return &boundedTx{inner: inner, timeout: timeout}
}

func (t *boundedTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultSaveTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return t.inner.RunInTx(ctx, fn)
}
