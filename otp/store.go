package otp

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/habitledger/models"
)

// MutateFunc inspects and edits the state of one phone. It returns whether
// the state must be written back. A non-nil error aborts without writing.
type MutateFunc func(st *models.OtpAttempt) (bool, error)

// Store persists throttle state. Mutate is the only write path and must run
// fn atomically with respect to other Mutate calls for the same phone.
type Store interface {
	Mutate(ctx context.Context, phone string, fn MutateFunc) error
	Get(ctx context.Context, phone string) (models.OtpAttempt, error)
	// Purge drops unlocked states untouched since before. Stores with native
	// expiry may return 0.
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// GormStore keeps state in the otp_attempts table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Mutate locks the phone's row for the duration of fn.
func (s *GormStore) Mutate(ctx context.Context, phone string, fn MutateFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.OtpAttempt{Phone: phone}).Error; err != nil {
			return err
		}
		var st models.OtpAttempt
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("phone = ?", phone).First(&st).Error; err != nil {
			return err
		}
		save, err := fn(&st)
		if err != nil || !save {
			return err
		}
		return tx.Save(&st).Error
	})
}

// Get returns the stored state or a zero state.
func (s *GormStore) Get(ctx context.Context, phone string) (models.OtpAttempt, error) {
	var st models.OtpAttempt
	err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.OtpAttempt{Phone: phone}, nil
	}
	return st, err
}

func (s *GormStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("updated_at < ?", before).
		Where("(locked_until IS NULL OR locked_until < ?)", before).
		Delete(&models.OtpAttempt{})
	return res.RowsAffected, res.Error
}
