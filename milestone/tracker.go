package milestone

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/dbctx"
	"github.com/cppla/habitledger/ledger"
	"github.com/cppla/habitledger/models"
)

// PendingGrant is the credit a successful claim owes. The caller applies it
// through the ledger inside the same transaction as the claim.
type PendingGrant struct {
	UserID      string `json:"user_id"`
	MilestoneID string `json:"milestone_id"`
	Amount      int64  `json:"amount"`
	RelatedID   string `json:"related_id"`
	Type        string `json:"type"`
}

// Grant converts p to a ledger grant.
func (p PendingGrant) Grant() ledger.Grant {
	return ledger.Grant{UserID: p.UserID, Amount: p.Amount, Type: p.Type, RelatedID: p.RelatedID}
}

// StatusView is the UI projection of one milestone for one user.
type StatusView struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	Category      string `json:"category,omitempty"`
	Progress      int    `json:"progress"`
	Required      int    `json:"required"`
	Status        string `json:"status"`
	RewardCredits int64  `json:"reward_credits"`
	StartDate     string `json:"start_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
}

type Tracker struct {
	db      *gorm.DB
	catalog *Catalog
	log     *zap.Logger
	now     func() time.Time
}

func NewTracker(db *gorm.DB, catalog *Catalog, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{db: db, catalog: catalog, log: log.Named("milestone"), now: time.Now}
}

// Catalog returns the definitions the tracker serves.
func (t *Tracker) Catalog() *Catalog { return t.catalog }

// ForCategory returns active milestones bound to category on day.
func (t *Tracker) ForCategory(category, day string) []Definition {
	return t.catalog.ForCategory(category, day)
}

// AdvanceProgress adds delta to the user's progress, clamped at the required
// amount. CLAIMED rows are terminal and returned unchanged.
func (t *Tracker) AdvanceProgress(dbc dbctx.Context, userID, milestoneID string, delta int) (models.MilestoneProgress, error) {
	if delta < 0 {
		return models.MilestoneProgress{}, apperr.InvalidRequest("negative progress delta %d", delta)
	}
	def, ok := t.catalog.Get(milestoneID)
	if !ok {
		err := apperr.Invariant("milestone definition %q missing", milestoneID)
		t.log.Error("advance on unknown milestone", zap.String("user_id", userID), zap.String("milestone_id", milestoneID), zap.Error(err))
		return models.MilestoneProgress{}, err
	}

	var out models.MilestoneProgress
	err := t.inTx(dbc, func(tx *gorm.DB) error {
		row, err := lockProgress(tx, userID, milestoneID)
		if err != nil {
			return err
		}
		if row.Progress < 0 {
			return apperr.Invariant("negative progress %d on %s/%s", row.Progress, userID, milestoneID)
		}
		if row.Status == models.MilestoneClaimed || delta == 0 {
			out = *row
			return nil
		}
		next := row.Progress + delta
		if next > def.RequiredProgress {
			next = def.RequiredProgress
		}
		if next == row.Progress && row.Status != models.MilestoneLocked {
			out = *row
			return nil
		}
		row.Progress = next
		row.Status = models.MilestoneInProgress
		if err := tx.Save(row).Error; err != nil {
			return err
		}
		out = *row
		return nil
	})
	return out, err
}

// Claim marks the milestone CLAIMED and returns the owed grant. day is the
// caller's local day, checked against the availability window.
func (t *Tracker) Claim(dbc dbctx.Context, userID, milestoneID, day string) (PendingGrant, error) {
	def, ok := t.catalog.Get(milestoneID)
	if !ok {
		return PendingGrant{}, apperr.ErrNotFound.WithMessage("milestone %s not found", milestoneID)
	}

	var out PendingGrant
	err := t.inTx(dbc, func(tx *gorm.DB) error {
		row, err := lockProgress(tx, userID, milestoneID)
		if err != nil {
			return err
		}
		switch {
		case row.Status == models.MilestoneClaimed:
			return apperr.ErrAlreadyClaimed
		case !def.ActiveOn(day):
			return apperr.ErrExpired
		case row.Progress < def.RequiredProgress:
			return apperr.ErrNotEligible.WithMessage("NOT_ELIGIBLE: progress %d of %d", row.Progress, def.RequiredProgress)
		}
		now := t.now().UTC()
		row.Status = models.MilestoneClaimed
		row.ClaimedAt = &now
		if err := tx.Save(row).Error; err != nil {
			return err
		}
		out = PendingGrant{
			UserID:      userID,
			MilestoneID: milestoneID,
			Amount:      def.RewardCredits,
			RelatedID:   ledger.MilestoneKey(milestoneID),
			Type:        models.EntryMilestoneReward,
		}
		t.log.Info("milestone claimed", zap.String("user_id", userID), zap.String("milestone_id", milestoneID))
		return nil
	})
	return out, err
}

// Progress returns the stored row, or a LOCKED zero row when none exists.
func (t *Tracker) Progress(dbc dbctx.Context, userID, milestoneID string) (models.MilestoneProgress, error) {
	var row models.MilestoneProgress
	err := dbc.DB(t.db).Where("user_id = ? AND milestone_id = ?", userID, milestoneID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.MilestoneProgress{UserID: userID, MilestoneID: milestoneID, Status: models.MilestoneLocked}, nil
	}
	return row, err
}

// Statuses projects every catalog milestone for userID.
func (t *Tracker) Statuses(dbc dbctx.Context, userID string) ([]StatusView, error) {
	var rows []models.MilestoneProgress
	if err := dbc.DB(t.db).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]models.MilestoneProgress, len(rows))
	for _, r := range rows {
		if _, ok := t.catalog.Get(r.MilestoneID); !ok {
			t.log.Warn("progress row without definition", zap.String("user_id", userID), zap.String("milestone_id", r.MilestoneID))
			continue
		}
		byID[r.MilestoneID] = r
	}

	defs := t.catalog.All()
	out := make([]StatusView, 0, len(defs))
	for _, d := range defs {
		v := StatusView{
			ID:            d.ID,
			DisplayName:   d.DisplayName,
			Category:      d.Category,
			Required:      d.RequiredProgress,
			Status:        models.MilestoneLocked,
			RewardCredits: d.RewardCredits,
			StartDate:     d.StartDate,
			EndDate:       d.EndDate,
		}
		if r, ok := byID[d.ID]; ok {
			v.Progress = r.Progress
			v.Status = r.Status
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *Tracker) inTx(dbc dbctx.Context, fn func(tx *gorm.DB) error) error {
	if dbc.InTx() {
		return fn(dbc.DB(t.db))
	}
	return dbc.DB(t.db).Transaction(fn)
}

func lockProgress(tx *gorm.DB, userID, milestoneID string) (*models.MilestoneProgress, error) {
	seed := models.MilestoneProgress{UserID: userID, MilestoneID: milestoneID, Status: models.MilestoneLocked}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var row models.MilestoneProgress
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND milestone_id = ?", userID, milestoneID).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
