// Package ledger is the append-only credit ledger. Balances are always folded
// from entries; nothing stores a running total.
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/dbctx"
	"github.com/cppla/habitledger/metrics"
	"github.com/cppla/habitledger/models"
)

// Grant is a request to append one entry.
type Grant struct {
	UserID    string
	Amount    int64
	Type      string
	RelatedID string
}

// GrantResult carries the stored entry. AlreadyGranted is set when the
// (user, related id) pair existed before the call; it is not an error.
type GrantResult struct {
	Entry          models.LedgerEntry `json:"entry"`
	AlreadyGranted bool               `json:"already_granted"`
}

// Page is one page of entry history.
type Page struct {
	Items      []models.LedgerEntry `json:"items"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	Total      int64                `json:"total"`
	TotalPages int                  `json:"total_pages"`
}

const maxPageSize = 100

type Ledger struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

// New creates a Ledger.
func New(db *gorm.DB, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{db: db, log: log.Named("ledger"), now: time.Now}
}

// Grant appends g unless an entry with the same (user, related id) exists.
func (l *Ledger) Grant(dbc dbctx.Context, g Grant) (GrantResult, error) {
	if err := validate(g); err != nil {
		return GrantResult{}, err
	}
	db := dbc.DB(l.db)

	entry := models.LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    g.UserID,
		Amount:    g.Amount,
		Type:      g.Type,
		RelatedID: g.RelatedID,
		CreatedAt: l.now().UTC(),
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if res.Error != nil {
		return GrantResult{}, res.Error
	}
	if res.RowsAffected == 1 {
		metrics.RecordGrant(g.Type, false)
		l.log.Info("credit entry appended",
			zap.String("user_id", g.UserID),
			zap.String("type", g.Type),
			zap.String("related_id", g.RelatedID),
			zap.Int64("amount", g.Amount))
		return GrantResult{Entry: entry}, nil
	}

	existing, err := l.find(db, g.UserID, g.RelatedID)
	if err != nil {
		return GrantResult{}, err
	}
	metrics.RecordGrant(g.Type, true)
	l.log.Debug("credit entry already granted",
		zap.String("user_id", g.UserID),
		zap.String("related_id", g.RelatedID))
	return GrantResult{Entry: existing, AlreadyGranted: true}, nil
}

// Debit records a PURCHASE_DEBIT of amount credits keyed by txID. The balance
// check and the insert share one transaction with the user's row locked;
// replaying the same txID returns the original entry.
func (l *Ledger) Debit(dbc dbctx.Context, userID string, amount int64, txID string) (GrantResult, error) {
	if amount <= 0 {
		return GrantResult{}, apperr.InvalidRequest("debit amount must be positive")
	}
	if txID == "" {
		return GrantResult{}, apperr.InvalidRequest("missing transaction id")
	}
	if dbc.InTx() {
		return l.debit(dbc.DB(l.db), userID, amount, txID)
	}
	var out GrantResult
	err := dbc.DB(l.db).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = l.debit(tx, userID, amount, txID)
		return err
	})
	return out, err
}

func (l *Ledger) debit(tx *gorm.DB, userID string, amount int64, txID string) (GrantResult, error) {
	if err := lockUser(tx, userID); err != nil {
		return GrantResult{}, err
	}
	key := PurchaseKey(txID)
	existing, err := l.find(tx, userID, key)
	switch {
	case err == nil:
		return GrantResult{Entry: existing, AlreadyGranted: true}, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return GrantResult{}, err
	}

	balance, err := balance(tx, userID)
	if err != nil {
		return GrantResult{}, err
	}
	if balance < amount {
		return GrantResult{}, apperr.ErrInsufficientCredits.WithMessage("INSUFFICIENT_CREDITS: balance %d, need %d", balance, amount)
	}
	return l.Grant(dbctx.Context{Ctx: tx.Statement.Context, Tx: tx}, Grant{
		UserID:    userID,
		Amount:    -amount,
		Type:      models.EntryPurchaseDebit,
		RelatedID: key,
	})
}

// lockUser serializes balance-dependent writes for one user on the
// streak_states row, which every user with activity already has.
func lockUser(tx *gorm.DB, userID string) error {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.StreakState{UserID: userID}).Error; err != nil {
		return err
	}
	var st models.StreakState
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("user_id").Where("user_id = ?", userID).First(&st).Error
}

// Balance folds all entries of userID.
func (l *Ledger) Balance(dbc dbctx.Context, userID string) (int64, error) {
	return balance(dbc.DB(l.db), userID)
}

func balance(db *gorm.DB, userID string) (int64, error) {
	var sum int64
	err := db.Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

// Entries returns userID's history, newest first. page is 1-based.
func (l *Ledger) Entries(dbc dbctx.Context, userID string, page, size int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	db := dbc.DB(l.db)
	q := func() *gorm.DB {
		return db.Model(&models.LedgerEntry{}).Where("user_id = ?", userID)
	}

	var total int64
	if err := q().Count(&total).Error; err != nil {
		return Page{}, err
	}
	items := make([]models.LedgerEntry, 0, size)
	if err := q().Order("created_at DESC, id").Offset((page - 1) * size).Limit(size).Find(&items).Error; err != nil {
		return Page{}, err
	}
	return Page{
		Items:      items,
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: int((total + int64(size) - 1) / int64(size)),
	}, nil
}

// Find returns the entry keyed by (userID, relatedID) or GEN_002.
func (l *Ledger) Find(dbc dbctx.Context, userID, relatedID string) (models.LedgerEntry, error) {
	return l.find(dbc.DB(l.db), userID, relatedID)
}

func (l *Ledger) find(db *gorm.DB, userID, relatedID string) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := db.Where("user_id = ? AND related_id = ?", userID, relatedID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return e, apperr.ErrNotFound.WithMessage("ledger entry %s not found", relatedID)
	}
	return e, err
}

func validate(g Grant) error {
	switch {
	case g.UserID == "":
		return apperr.InvalidRequest("missing user id")
	case g.RelatedID == "":
		return apperr.InvalidRequest("missing related id")
	case g.Amount == 0:
		return apperr.InvalidRequest("zero amount")
	case g.Type == "":
		return apperr.InvalidRequest("missing entry type")
	}
	if g.Type == models.EntryPurchaseDebit && g.Amount > 0 {
		return apperr.InvalidRequest("debit must be negative")
	}
	if g.Type != models.EntryPurchaseDebit && g.Amount < 0 {
		return apperr.InvalidRequest("%s must be positive", g.Type)
	}
	return nil
}
