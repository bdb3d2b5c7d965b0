package otp

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/clock"
	"github.com/cppla/habitledger/metrics"
	"github.com/cppla/habitledger/models"
)

// GateDecision is the read projection handed to the login flow.
type GateDecision struct {
	Allowed           bool       `json:"allowed"`
	ReasonCode        string     `json:"reason_code,omitempty"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
	RetryAfterSeconds int        `json:"retry_after_seconds,omitempty"`
	AttemptsRemaining int        `json:"attempts_remaining"`
}

type Throttle struct {
	store   Store
	policy  Policy
	clock   clock.Clock
	sender  Sender
	log     *zap.Logger
	timeout time.Duration
	hash    func(code string, cost int) (string, error)
}

// Option customises a Throttle.
type Option func(*Throttle)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option { return func(t *Throttle) { t.clock = c } }

// WithSender replaces the logging sender.
func WithSender(s Sender) Option { return func(t *Throttle) { t.sender = s } }

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option { return func(t *Throttle) { t.timeout = d } }

func NewThrottle(store Store, policy Policy, log *zap.Logger, opts ...Option) *Throttle {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Throttle{
		store:  store,
		policy: policy.withDefaults(),
		clock:  clock.System{},
		log:    log.Named("otp"),
		hash:   hashCode,
	}
	for _, o := range opts {
		o(t)
	}
	if t.sender == nil {
		t.sender = NewLogSender(log)
	}
	return t
}

// Policy returns the effective limits.
func (t *Throttle) Policy() Policy { return t.policy }

// CheckAndRecordAttempt gates a code request. It fails AUTH_002 while locked
// and AUTH_001 when the previous recorded request is too recent; a rejected
// request is not recorded.
func (t *Throttle) CheckAndRecordAttempt(ctx context.Context, phone string) error {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return err
	}
	now := t.clock.Now()
	var result error
	err = t.mutate(ctx, phone, func(st *models.OtpAttempt) (bool, error) {
		result = nil
		changed := t.expireLock(st, now)
		if result = t.gate(st, now); result != nil {
			return changed, nil
		}
		st.LastRequestAt = &now
		return true, nil
	})
	return t.finish("request", phone, result, err)
}

// Issue gates a request like CheckAndRecordAttempt, stores a fresh code and
// hands it to the sender. A new code replaces any previous one. Requests the
// current state already rejects never reach the bcrypt hash.
func (t *Throttle) Issue(ctx context.Context, phone string) error {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return err
	}
	now := t.clock.Now()
	if err := t.pregate(ctx, phone, now); err != nil {
		return err
	}

	code, err := generateCode(t.policy.CodeLength)
	if err != nil {
		return apperr.Transient(err)
	}
	hash, err := t.hash(code, t.policy.HashCost)
	if err != nil {
		return apperr.Transient(err)
	}

	var result error
	err = t.mutate(ctx, phone, func(st *models.OtpAttempt) (bool, error) {
		result = nil
		changed := t.expireLock(st, now)
		if result = t.gate(st, now); result != nil {
			return changed, nil
		}
		expires := now.Add(t.policy.CodeTTL)
		st.LastRequestAt = &now
		st.CodeHash = hash
		st.CodeExpiresAt = &expires
		return true, nil
	})
	if err := t.finish("issue", phone, result, err); err != nil {
		return err
	}
	if err := t.sender.Send(ctx, phone, code); err != nil {
		t.log.Error("otp delivery failed", zap.String("phone", maskPhone(phone)), zap.Error(err))
		return apperr.Transient(err)
	}
	return nil
}

// Verify checks code against the issued one. While locked it fails AUTH_002
// without touching the lock. A wrong, missing or expired code fails AUTH_003
// and counts toward MaxAttempts; reaching it locks the phone for LockoutTTL.
// A valid code is consumed and clears the counter.
func (t *Throttle) Verify(ctx context.Context, phone, code string) error {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return err
	}
	now := t.clock.Now()
	var (
		result      error
		lockedUntil *time.Time
	)
	err = t.mutate(ctx, phone, func(st *models.OtpAttempt) (bool, error) {
		// fn may run more than once; only the committed run counts.
		result, lockedUntil = nil, nil
		changed := t.expireLock(st, now)
		if locked(st, now) {
			result = apperr.ErrOTPLocked
			return changed, nil
		}
		if st.WindowStartedAt != nil && now.Sub(*st.WindowStartedAt) >= t.policy.AttemptWindow {
			st.AttemptCount = 0
			st.WindowStartedAt = nil
		}

		if st.CodeExpiresAt != nil && now.Before(*st.CodeExpiresAt) && checkCode(st.CodeHash, code) {
			st.AttemptCount = 0
			st.WindowStartedAt = nil
			st.CodeHash = ""
			st.CodeExpiresAt = nil
			return true, nil
		}

		if st.WindowStartedAt == nil {
			st.WindowStartedAt = &now
		}
		st.AttemptCount++
		result = apperr.ErrInvalidOTP
		if st.AttemptCount >= t.policy.MaxAttempts {
			until := now.Add(t.policy.LockoutTTL)
			st.LockedUntil = &until
			st.CodeHash = ""
			st.CodeExpiresAt = nil
			lockedUntil = &until
		}
		return true, nil
	})
	if err == nil && lockedUntil != nil {
		metrics.RecordOTPLockout()
		t.log.Warn("otp locked",
			zap.String("phone", maskPhone(phone)),
			zap.Int("max_attempts", t.policy.MaxAttempts),
			zap.Time("locked_until", *lockedUntil))
	}
	return t.finish("verify", phone, result, err)
}

// Status projects the current gate without modifying state.
func (t *Throttle) Status(ctx context.Context, phone string) (GateDecision, error) {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return GateDecision{}, err
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	st, err := t.store.Get(ctx, phone)
	if err != nil {
		return GateDecision{}, apperr.Transient(err)
	}
	return t.decide(st, t.clock.Now()), nil
}

// Purge drops states idle for longer than the policy retention.
func (t *Throttle) Purge(ctx context.Context) (int64, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return t.store.Purge(ctx, t.clock.Now().Add(-t.policy.Retention()))
}

func (t *Throttle) decide(st models.OtpAttempt, now time.Time) GateDecision {
	d := GateDecision{Allowed: true, AttemptsRemaining: t.policy.MaxAttempts}
	if st.LockedUntil != nil && !now.Before(*st.LockedUntil) {
		return d
	}
	if locked(&st, now) {
		until := *st.LockedUntil
		return GateDecision{
			ReasonCode:        apperr.CodeOTPLocked,
			LockedUntil:       &until,
			RetryAfterSeconds: ceilSeconds(until.Sub(now)),
		}
	}
	if st.WindowStartedAt == nil || now.Sub(*st.WindowStartedAt) < t.policy.AttemptWindow {
		d.AttemptsRemaining = max(t.policy.MaxAttempts-st.AttemptCount, 0)
	}
	if st.LastRequestAt != nil {
		if wait := t.policy.RequestInterval - now.Sub(*st.LastRequestAt); wait > 0 {
			d.Allowed = false
			d.ReasonCode = apperr.CodeOTPRateLimited
			d.RetryAfterSeconds = ceilSeconds(wait)
		}
	}
	return d
}

// pregate applies gate to a plain read. Mutate gates again atomically.
func (t *Throttle) pregate(ctx context.Context, phone string, now time.Time) error {
	rctx, cancel := t.withTimeout(ctx)
	defer cancel()
	st, err := t.store.Get(rctx, phone)
	if err != nil {
		return t.finish("issue", phone, nil, err)
	}
	if result := t.gate(&st, now); result != nil {
		return t.finish("issue", phone, result, nil)
	}
	return nil
}

// gate returns the request-path rejection, if any.
func (t *Throttle) gate(st *models.OtpAttempt, now time.Time) error {
	if locked(st, now) {
		return apperr.ErrOTPLocked
	}
	if st.LastRequestAt != nil && now.Sub(*st.LastRequestAt) < t.policy.RequestInterval {
		return apperr.ErrOTPRateLimited
	}
	return nil
}

// expireLock resets a state whose lock has run out.
func (t *Throttle) expireLock(st *models.OtpAttempt, now time.Time) bool {
	if st.LockedUntil == nil || now.Before(*st.LockedUntil) {
		return false
	}
	st.LockedUntil = nil
	st.AttemptCount = 0
	st.WindowStartedAt = nil
	t.log.Info("otp lock expired", zap.String("phone", maskPhone(st.Phone)))
	return true
}

func locked(st *models.OtpAttempt, now time.Time) bool {
	return st.LockedUntil != nil && now.Before(*st.LockedUntil)
}

func (t *Throttle) mutate(ctx context.Context, phone string, fn MutateFunc) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return t.store.Mutate(ctx, phone, fn)
}

func (t *Throttle) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.timeout)
}

// finish maps the store error and the policy result onto one error and
// records the decision.
func (t *Throttle) finish(op, phone string, result, storeErr error) error {
	if storeErr != nil {
		if !apperr.IsInvariant(storeErr) {
			storeErr = apperr.Transient(storeErr)
		}
		t.log.Error("otp store failure", zap.String("op", op), zap.String("phone", maskPhone(phone)), zap.Error(storeErr))
		metrics.RecordOTPDecision(op, apperr.CodeServerError)
		return storeErr
	}
	if result != nil {
		metrics.RecordOTPDecision(op, apperr.From(result).Code)
		t.log.Debug("otp rejected", zap.String("op", op), zap.String("phone", maskPhone(phone)), zap.Error(result))
		return result
	}
	metrics.RecordOTPDecision(op, "OK")
	return nil
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
