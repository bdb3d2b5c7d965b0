package otp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/models"
)

const (
	redisKeyPrefix   = "otp:attempt:"
	maxWatchRetries  = 8
	redisKeyTTLSlack = time.Minute
)

// ErrContention is returned when optimistic transactions keep losing.
var ErrContention = errors.New("otp: state contention")

// RedisStore keeps state in one key per phone and relies on key expiry
// instead of purging.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a store whose keys expire ttl after their last write.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl + redisKeyTTLSlack}
}

func redisKey(phone string) string { return redisKeyPrefix + phone }

// record is the stored form; it carries CodeHash, which OtpAttempt hides from JSON.
type record struct {
	AttemptCount    int        `json:"attempt_count"`
	WindowStartedAt *time.Time `json:"window_started_at,omitempty"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
	LastRequestAt   *time.Time `json:"last_request_at,omitempty"`
	CodeHash        string     `json:"code_hash,omitempty"`
	CodeExpiresAt   *time.Time `json:"code_expires_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func decode(phone string, raw []byte) (models.OtpAttempt, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.OtpAttempt{}, apperr.Invariant("corrupt otp state for %s: %v", maskPhone(phone), err)
	}
	return models.OtpAttempt{
		Phone:           phone,
		AttemptCount:    r.AttemptCount,
		WindowStartedAt: r.WindowStartedAt,
		LockedUntil:     r.LockedUntil,
		LastRequestAt:   r.LastRequestAt,
		CodeHash:        r.CodeHash,
		CodeExpiresAt:   r.CodeExpiresAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func encode(st *models.OtpAttempt) ([]byte, error) {
	return json.Marshal(record{
		AttemptCount:    st.AttemptCount,
		WindowStartedAt: st.WindowStartedAt,
		LockedUntil:     st.LockedUntil,
		LastRequestAt:   st.LastRequestAt,
		CodeHash:        st.CodeHash,
		CodeExpiresAt:   st.CodeExpiresAt,
		UpdatedAt:       time.Now().UTC(),
	})
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, phone string) (models.OtpAttempt, error) {
	raw, err := c.Get(ctx, redisKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.OtpAttempt{Phone: phone}, nil
	}
	if err != nil {
		return models.OtpAttempt{}, err
	}
	return decode(phone, raw)
}

// Mutate runs fn inside WATCH/MULTI and retries when the key changed underneath.
func (s *RedisStore) Mutate(ctx context.Context, phone string, fn MutateFunc) error {
	key := redisKey(phone)
	txf := func(tx *redis.Tx) error {
		st, err := s.load(ctx, tx, phone)
		if err != nil {
			return err
		}
		save, err := fn(&st)
		if err != nil || !save {
			return err
		}
		b, err := encode(&st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}

func (s *RedisStore) Get(ctx context.Context, phone string) (models.OtpAttempt, error) {
	return s.load(ctx, s.rdb, phone)
}

// Purge is a no-op; keys carry their own TTL.
func (s *RedisStore) Purge(context.Context, time.Time) (int64, error) {
	return 0, nil
}
