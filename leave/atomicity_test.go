package leave_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

var errDiskFull = errors.New("disk full")

// failingStore fails the next SaveRequest made inside a transaction.
type failingStore struct {
	*memory.Store
	failNext bool
}

func (s *failingStore) WithTx(ctx context.Context, fn func(leave.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx leave.Tx) error {
		return fn(failingTx{Tx: tx, owner: s})
	})
}

type failingTx struct {
	leave.Tx
	owner *failingStore
}

func (t failingTx) SaveRequest(ctx context.Context, r leave.Request) error {
	if t.owner.failNext {
		t.owner.failNext = false
		return errDiskFull
	}
	return t.Tx.SaveRequest(ctx, r)
}

// failing wires a second lifecycle over the fixture's store whose request
// saves can be made to fail.
func (f *fixture) failing() (*leave.Lifecycle, *failingStore) {
	store := &failingStore{Store: f.store}
	lc := leave.NewLifecycle(leave.Deps{
		Catalog:   f.catalog,
		Balances:  f.balances,
		Requests:  store,
		Directory: f.store,
		Calendar:  f.store,
		Now:       func() time.Time { return f.now },
	})
	return lc, store
}

func (f *fixture) ledgerKeys(t *testing.T) []string {
	t.Helper()
	txs, err := f.balances.Transactions(f.ctx, f.key(emp1, 2025))
	require.NoError(t, err)
	keys := make([]string, 0, len(txs))
	for _, tx := range txs {
		keys = append(keys, tx.IdempotencyKey)
	}
	return keys
}

// =============================================================================
// ROLLBACK
// =============================================================================

func TestRecordDecision_FailedSaveLeavesNoApproval(t *testing.T) {
	// GIVEN: A two-level request waiting on the reporting manager
	// WHEN: The request save fails while level 1 is approved, and the
	//       manager retries
	// THEN: The failed attempt leaves nothing behind and the retry records
	//       exactly one approval for level 1

	f := newFixture(t, twoLevels)
	f.grant(t, emp1, 2025, "20")
	id := f.submit(t, mar(10), mar(14)).Request.ID
	lc, store := f.failing()

	decision := leave.Decision{TenantID: tenant, RequestID: id, LevelOrder: 1, ApproverID: manager, Action: leave.ActionApproved}

	store.failNext = true
	_, err := lc.RecordDecision(f.ctx, decision)
	require.ErrorIs(t, err, errDiskFull)

	approvals, err := f.store.ListApprovals(f.ctx, tenant, id)
	require.NoError(t, err)
	assert.Empty(t, approvals)
	got, err := f.lifecycle.GetRequest(f.ctx, tenant, id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Request.CurrentLevel)

	res, err := lc.RecordDecision(f.ctx, decision)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Request.CurrentLevel)
	require.Len(t, res.Approvals, 1)
	assert.Equal(t, 1, res.Approvals[0].LevelOrder)

	_, err = lc.RecordDecision(f.ctx, decision)
	assert.ErrorIs(t, err, leave.ErrOutOfOrder)
	approvals, err = f.store.ListApprovals(f.ctx, tenant, id)
	require.NoError(t, err)
	assert.Len(t, approvals, 1)
}

func TestRecordDecision_FailedFinalSaveRollsBackLedger(t *testing.T) {
	// GIVEN: Level 1 has approved
	// WHEN: The request save fails while level 2 approves
	// THEN: Pending is untouched and no consumption is booked until the
	//       retry succeeds

	f := newFixture(t, twoLevels)
	f.grant(t, emp1, 2025, "20")
	id := f.submit(t, mar(10), mar(14)).Request.ID
	_, err := f.decide(1, manager, id, leave.ActionApproved)
	require.NoError(t, err)
	lc, store := f.failing()
	before := f.ledgerKeys(t)

	decision := leave.Decision{TenantID: tenant, RequestID: id, LevelOrder: 2, ApproverID: hr, Action: leave.ActionApproved}

	store.failNext = true
	_, err = lc.RecordDecision(f.ctx, decision)
	require.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, before, f.ledgerKeys(t))
	b := f.balance(t, emp1, 2025)
	assert.True(t, b.Pending.Equal(dec("5")))
	assert.True(t, b.Used.IsZero())
	approvals, err := f.store.ListApprovals(f.ctx, tenant, id)
	require.NoError(t, err)
	assert.Len(t, approvals, 1)

	res, err := lc.RecordDecision(f.ctx, decision)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, res.Request.Status)
	assert.True(t, res.Balance.Used.Equal(dec("5")))
	assert.True(t, res.Balance.Pending.IsZero())
	assert.Len(t, res.Approvals, 2)
	f.assertConserved(t, emp1, 2025)
}

func TestSubmit_FailedSaveRollsBackReservation(t *testing.T) {
	f := newFixture(t, twoLevels)
	f.grant(t, emp1, 2025, "20")
	lc, store := f.failing()
	before := f.ledgerKeys(t)

	store.failNext = true
	_, err := lc.Submit(f.ctx, f.request(mar(10), mar(14)))
	require.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, before, f.ledgerKeys(t), "the reservation is rolled back, not compensated")
	reqs, err := f.store.ListRequests(f.ctx, leave.RequestFilter{TenantID: tenant})
	require.NoError(t, err)
	assert.Empty(t, reqs)
	assert.True(t, f.balance(t, emp1, 2025).Available().Equal(dec("20")))
}

func TestAppendApproval_OnePerLevel(t *testing.T) {
	f := newFixture(t, twoLevels)
	f.grant(t, emp1, 2025, "20")
	id := f.submit(t, mar(10), mar(14)).Request.ID

	a := leave.Approval{ID: "a-1", TenantID: tenant, RequestID: id, LevelOrder: 1, ApproverID: manager, Action: leave.ActionApproved, ActedAt: f.now}
	require.NoError(t, f.store.AppendApproval(f.ctx, a))

	a.ID = "a-2"
	err := f.store.AppendApproval(f.ctx, a)
	assert.ErrorIs(t, err, leave.ErrLevelAlreadyDecided)
	assert.Equal(t, leave.KindSequencing, leave.Classify(err))

	a.ID, a.LevelOrder = "a-3", 2
	assert.NoError(t, f.store.AppendApproval(f.ctx, a))
}

// =============================================================================
// MULTI-LEVEL REJECTION
// =============================================================================

func TestRecordDecision_SecondLevelRejects(t *testing.T) {
	// GIVEN: Level 1 reporting manager, level 2 HR
	// WHEN: The manager approves and HR rejects
	// THEN: The request is REJECTED with both decisions on record and
	//       nothing used

	f := newFixture(t, twoLevels)
	f.grant(t, emp1, 2025, "20")
	id := f.submit(t, mar(10), mar(14)).Request.ID

	res, err := f.decide(1, manager, id, leave.ActionApproved)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusSubmitted, res.Request.Status)
	assert.True(t, res.Balance.Pending.Equal(dec("5")))

	res, err = f.decide(2, hr, id, leave.ActionRejected)
	require.NoError(t, err)

	assert.Equal(t, leave.StatusRejected, res.Request.Status)
	assert.NotNil(t, res.Request.DecidedAt)
	require.Len(t, res.Approvals, 2)
	assert.Equal(t, leave.ActionApproved, res.Approvals[0].Action)
	assert.Equal(t, leave.ActionRejected, res.Approvals[1].Action)
	assert.True(t, res.Balance.Used.IsZero())
	assert.True(t, res.Balance.Pending.IsZero())
	assert.True(t, res.Balance.Available().Equal(dec("20")))
	assert.Equal(t, []leave.EventType{leave.EventSubmitted, leave.EventRejected}, f.events.types())
	f.assertConserved(t, emp1, 2025)
}
