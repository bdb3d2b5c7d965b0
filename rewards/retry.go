package rewards

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/dbctx"
	"github.com/cppla/habitledger/metrics"
)

// RetryPolicy bounds how often a transient failure is re-attempted.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	return b
}

// run executes fn in one transaction per attempt. Policy and invariant
// errors end the loop at once; anything else is retried and finally
// surfaced as a retriable GEN_001.
func (o *Orchestrator) run(ctx context.Context, kind string, fn func(dbc dbctx.Context) error) error {
	start := time.Now()
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		actx, cancel := o.storeContext(ctx)
		defer cancel()
		err := o.db.WithContext(actx).Transaction(func(tx *gorm.DB) error {
			return fn(dbctx.Context{Ctx: actx, Tx: tx})
		})
		if err == nil {
			return struct{}{}, nil
		}
		if apperr.IsPolicy(err) || apperr.IsInvariant(err) || ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(o.cfg.Retry.backOff()),
		backoff.WithMaxTries(o.cfg.Retry.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			metrics.RecordRetry(kind)
			o.log.Warn("transient failure, retrying",
				zap.String("kind", kind),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)

	code := "OK"
	if err != nil {
		ae := apperr.From(err)
		err = ae
		code = ae.Code
		switch {
		case ae.Class == apperr.ClassPolicy:
		case apperr.IsTimeout(err):
			o.log.Warn("reward operation timed out",
				zap.String("kind", kind),
				zap.Int("attempts", attempt),
				zap.Error(err))
		default:
			o.log.Error("reward operation failed",
				zap.String("kind", kind),
				zap.String("class", ae.Class.String()),
				zap.Int("attempts", attempt),
				zap.Error(err))
		}
	}
	metrics.RecordEvent(kind, code, time.Since(start))
	return err
}

func (o *Orchestrator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.StoreTimeout)
}
