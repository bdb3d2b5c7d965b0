package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/dbctx"
	"github.com/cppla/habitledger/models"
	"github.com/cppla/habitledger/testutil"
)

func bg() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(testutil.DB(t), testutil.Logger())
}

func TestGrantIsIdempotentPerRelatedID(t *testing.T) {
	l := newLedger(t)
	g := Grant{UserID: "u1", Amount: 50, Type: models.EntryStreakReward, RelatedID: StreakRewardKey("presence", 7)}

	first, err := l.Grant(bg(), g)
	require.NoError(t, err)
	assert.False(t, first.AlreadyGranted)
	assert.NotEmpty(t, first.Entry.ID)

	again, err := l.Grant(bg(), g)
	require.NoError(t, err)
	assert.True(t, again.AlreadyGranted)
	assert.Equal(t, first.Entry.ID, again.Entry.ID)

	bal, err := l.Balance(bg(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal)
}

func TestConcurrentGrantsWriteOneEntry(t *testing.T) {
	l := newLedger(t)
	g := Grant{UserID: "u1", Amount: 100, Type: models.EntryMilestoneReward, RelatedID: MilestoneKey("week_one")}

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		fresh   int
		replays int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Grant(bg(), g)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.AlreadyGranted {
				replays++
			} else {
				fresh++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, n-1, replays)

	page, err := l.Entries(bg(), "u1", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}

func TestBalanceIsFoldOfEntries(t *testing.T) {
	l := newLedger(t)
	amounts := []int64{10, 25, 100}
	for i, a := range amounts {
		_, err := l.Grant(bg(), Grant{UserID: "u1", Amount: a, Type: models.EntryReferralReward, RelatedID: ReferralKey(fmt.Sprintf("r%d", i))})
		require.NoError(t, err)
	}
	_, err := l.Grant(bg(), Grant{UserID: "u2", Amount: 999, Type: models.EntryReferralReward, RelatedID: ReferralKey("r0")})
	require.NoError(t, err)

	_, err = l.Debit(bg(), "u1", 30, "tx-1")
	require.NoError(t, err)

	page, err := l.Entries(bg(), "u1", 1, 50)
	require.NoError(t, err)
	var fold int64
	for _, e := range page.Items {
		fold += e.Amount
	}
	bal, err := l.Balance(bg(), "u1")
	require.NoError(t, err)
	assert.Equal(t, fold, bal)
	assert.Equal(t, int64(105), bal)
}

func TestBalanceOfUnknownUserIsZero(t *testing.T) {
	l := newLedger(t)
	bal, err := l.Balance(bg(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestDebit(t *testing.T) {
	l := newLedger(t)
	_, err := l.Grant(bg(), Grant{UserID: "u1", Amount: 40, Type: models.EntryReflectionReward, RelatedID: ReflectionKey("2024-W02")})
	require.NoError(t, err)

	_, err = l.Debit(bg(), "u1", 50, "tx-big")
	assert.ErrorIs(t, err, apperr.ErrInsufficientCredits)

	res, err := l.Debit(bg(), "u1", 40, "tx-ok")
	require.NoError(t, err)
	assert.Equal(t, int64(-40), res.Entry.Amount)
	assert.Equal(t, "PURCHASE_tx-ok", res.Entry.RelatedID)

	// A replay succeeds even though the balance is now zero.
	again, err := l.Debit(bg(), "u1", 40, "tx-ok")
	require.NoError(t, err)
	assert.True(t, again.AlreadyGranted)
	assert.Equal(t, res.Entry.ID, again.Entry.ID)

	bal, err := l.Balance(bg(), "u1")
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestGrantValidation(t *testing.T) {
	l := newLedger(t)
	bad := []Grant{
		{Amount: 1, Type: models.EntryStreakReward, RelatedID: "x"},
		{UserID: "u1", Amount: 1, Type: models.EntryStreakReward},
		{UserID: "u1", Amount: 0, Type: models.EntryStreakReward, RelatedID: "x"},
		{UserID: "u1", Amount: -5, Type: models.EntryStreakReward, RelatedID: "x"},
		{UserID: "u1", Amount: 5, Type: models.EntryPurchaseDebit, RelatedID: "x"},
	}
	for _, g := range bad {
		_, err := l.Grant(bg(), g)
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest, "%+v", g)
	}
}

func TestEntriesPagination(t *testing.T) {
	l := newLedger(t)
	for i := 0; i < 5; i++ {
		_, err := l.Grant(bg(), Grant{UserID: "u1", Amount: 1, Type: models.EntryReferralReward, RelatedID: ReferralKey(fmt.Sprintf("r%d", i))})
		require.NoError(t, err)
	}
	page, err := l.Entries(bg(), "u1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 3, page.TotalPages)
}

func TestRelatedIDFormatsAreFrozen(t *testing.T) {
	assert.Equal(t, "STREAK_REWARD_PRESENCE_7", StreakRewardKey("presence", 7))
	assert.Equal(t, "MILESTONE_week_one", MilestoneKey("week_one"))
	assert.Equal(t, "REFLECTION_2024-W02", ReflectionKey("2024-W02"))
	assert.Equal(t, "PURCHASE_abc", PurchaseKey("abc"))
	assert.Equal(t, "REFERRAL_u9", ReferralKey("u9"))
}
