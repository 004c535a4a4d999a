package lockcore

import (
	"testing"

	"github.com/distfs/lockcore/pkg/lockerr"
	"github.com/distfs/lockcore/pkg/rangelock"
	"github.com/distfs/lockcore/pkg/waiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocks(mandatory bool) *Locks {
	cfg := DefaultConfig()
	cfg.MandatoryLocks = mandatory
	return NewLocks(cfg, NewMetrics(nil), nil)
}

// ============================================================================
// Scenario 1: basic conflict
// ============================================================================

func TestScenario_BasicConflict(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	l.OpenDescriptor("ino1", 1)
	l.OpenDescriptor("ino1", 2)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	_, err = l.Lk(2, CmdSetLk, Frame{Owner: "bob"}, Flock{Kind: rangelock.Write, Start: 50, Len: 100}, nil)
	require.Error(t, err)
	assert.True(t, lockerr.IsEAgain(err))
}

// ============================================================================
// Scenario 2: blocking grant
// ============================================================================

func TestScenario_BlockingGrant(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	l.OpenDescriptor("ino1", 1)
	l.OpenDescriptor("ino1", 2)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	var woken waiter.Outcome
	fl, err := l.Lk(2, CmdSetLkW, Frame{Owner: "bob"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100},
		waiter.ResumerFunc(func(o waiter.Outcome) { woken = o }))
	require.NoError(t, err)
	assert.Equal(t, Flock{}, fl, "a parked SETLKW returns the zero value; the grant arrives via the resumer")

	_, err = l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Unlock, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	require.Equal(t, waiter.StatusGranted, woken.Status)
	assert.Equal(t, "bob", woken.Lock.Owner)
}

// ============================================================================
// Scenario 3: same-owner coalesce
// ============================================================================

func TestScenario_SameOwnerCoalesce(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	d := l.OpenDescriptor("ino1", 1)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)
	_, err = l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 100, Len: 100}, nil)
	require.NoError(t, err)

	f := l.fileLocked("ino1")
	snap := f.Snapshot()
	require.Len(t, snap.Granted, 1, "adjacent same-owner write grants must coalesce into one record")
	assert.Equal(t, int64(0), snap.Granted[0].Start)
	assert.Equal(t, int64(199), snap.Granted[0].End)

	d.ResetSnapshot()
	rec := d.GetLockFD(f)
	assert.Equal(t, int64(0), rec.Start)
}

// ============================================================================
// Scenario 4: mandatory-mode read gate
// ============================================================================

func TestScenario_MandatoryReadGate(t *testing.T) {
	t.Parallel()

	l := newTestLocks(true)
	l.OpenDescriptor("ino1", 1)
	l.OpenDescriptor("ino1", 2)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	outcome, err := l.Readv(2, Frame{Owner: "bob"}, true, 0, 50, nil)
	require.Error(t, err)
	assert.True(t, lockerr.IsEAgain(err))
	assert.Equal(t, IOForward, outcome)

	var woken waiter.Outcome
	outcome, err = l.Readv(2, Frame{Owner: "bob"}, false, 0, 50,
		waiter.ResumerFunc(func(o waiter.Outcome) { woken = o }))
	require.NoError(t, err)
	assert.Equal(t, IOParked, outcome)

	_, err = l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Unlock, Start: 0, Len: 100}, nil)
	require.NoError(t, err)
	assert.Equal(t, waiter.StatusGranted, woken.Status)
}

func TestScenario_AdvisoryModeNeverGates(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	l.OpenDescriptor("ino1", 1)
	l.OpenDescriptor("ino1", 2)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	outcome, err := l.Readv(2, Frame{Owner: "bob"}, true, 0, 50, nil)
	require.NoError(t, err)
	assert.Equal(t, IOForward, outcome)
}

// ============================================================================
// Scenario 5: GETLK_FD iteration
// ============================================================================

func TestScenario_GetLkFDIteration(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	l.OpenDescriptor("ino1", 1)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)
	_, err = l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 500, Len: 100}, nil)
	require.NoError(t, err)

	first, err := l.Lk(1, CmdGetLkFD, Frame{}, Flock{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Start)

	second, err := l.Lk(1, CmdGetLkFD, Frame{}, Flock{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(500), second.Start)

	eol, err := l.Lk(1, CmdGetLkFD, Frame{}, Flock{}, nil)
	require.NoError(t, err)
	assert.Equal(t, rangelock.EOL, eol.Kind)
}

// ============================================================================
// Scenario 6: zero-owner flush
// ============================================================================

func TestScenario_ZeroOwnerFlush(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	l.OpenDescriptor("ino1", 1)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)
	_, err = l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 500, Len: 100}, nil)
	require.NoError(t, err)

	require.NoError(t, l.Flush(1, Frame{}))

	f := l.fileLocked("ino1")
	assert.Empty(t, f.Snapshot().Granted, "a zero-owner flush clears every lock on the descriptor regardless of owner")
}

func TestFlush_OwnerScopedLeavesOtherOwnersAlone(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	l.OpenDescriptor("ino1", 1)
	l.OpenDescriptor("ino1", 2)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)
	_, err = l.Lk(2, CmdSetLk, Frame{Owner: "bob"}, Flock{Kind: rangelock.Write, Start: 500, Len: 100}, nil)
	require.NoError(t, err)

	require.NoError(t, l.Flush(1, Frame{Owner: "alice"}))

	f := l.fileLocked("ino1")
	snap := f.Snapshot()
	require.Len(t, snap.Granted, 1)
	assert.Equal(t, "bob", snap.Granted[0].Owner)
}

// ============================================================================
// GETLK, release, forget, truncate, clear-locks
// ============================================================================

func TestGetLk_ReportsBlockerThenUnlockOnNoConflict(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	l.OpenDescriptor("ino1", 1)
	l.OpenDescriptor("ino1", 2)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	fl, err := l.Lk(2, CmdGetLk, Frame{Owner: "bob"}, Flock{Kind: rangelock.Write, Start: 50, Len: 10}, nil)
	require.NoError(t, err)
	assert.Equal(t, rangelock.Write, fl.Kind)
	assert.Equal(t, "alice", fl.Owner)

	fl, err = l.Lk(2, CmdGetLk, Frame{Owner: "bob"}, Flock{Kind: rangelock.Write, Start: 200, Len: 10}, nil)
	require.NoError(t, err)
	assert.Equal(t, rangelock.Unlock, fl.Kind)
}

func TestRelease_ClearsDescriptorAndDestroysIt(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	l.OpenDescriptor("ino1", 1)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	require.NoError(t, l.Release(1))

	_, err = l.Lk(1, CmdGetLk, Frame{Owner: "alice"}, Flock{Start: 0, Len: 1}, nil)
	require.Error(t, err)
	assert.True(t, lockerr.IsBadFD(err))
}

func TestForget_DiscardsBlockedWaitersWithoutEAGAIN(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	l.OpenDescriptor("ino1", 1)
	l.OpenDescriptor("ino1", 2)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	var woken waiter.Outcome
	_, err = l.Lk(2, CmdSetLkW, Frame{Owner: "bob"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100},
		waiter.ResumerFunc(func(o waiter.Outcome) { woken = o }))
	require.NoError(t, err)

	l.Forget("ino1")
	require.Equal(t, waiter.StatusDiscarded, woken.Status, "forget must never report a blocked waiter as a lock failure")
}

func TestTruncate_RejectedUnderMandatoryOverlap(t *testing.T) {
	t.Parallel()

	l := newTestLocks(true)
	l.OpenDescriptor("ino1", 1)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 100, Len: 100}, nil)
	require.NoError(t, err)

	err = l.Truncate("ino1", Frame{Owner: "bob"}, 50)
	require.Error(t, err)
	assert.True(t, lockerr.IsEAgain(err))

	err = l.Truncate("ino1", Frame{Owner: "alice"}, 50)
	assert.NoError(t, err)
}

func TestClearLocks_RoundTripsThroughDirectiveString(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	l.OpenDescriptor("ino1", 1)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	result, err := l.ClearLocks("ino1", "type=posix;range=0-0")
	require.NoError(t, err)
	assert.Equal(t, 1, result.GrantedCleared)
	assert.Equal(t, "posix-locks: posix blocked locks=0 granted locks=1", result.String())
}

func TestClearLocks_NonPosixScopeIsANoOp(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	l.OpenDescriptor("ino1", 1)
	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	result, err := l.ClearLocks("ino1", "type=inode;range=0-0")
	require.NoError(t, err)
	assert.Equal(t, 0, result.GrantedCleared)

	f := l.fileLocked("ino1")
	assert.Len(t, f.Snapshot().Granted, 1)
}

// ============================================================================
// Resource ceilings
// ============================================================================

func TestLk_GrantRejectedAtPerFileCeiling(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxLocksPerFile = 1
	l := NewLocks(cfg, NewMetrics(nil), nil)
	l.OpenDescriptor("ino1", 1)
	l.OpenDescriptor("ino1", 2)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	_, err = l.Lk(2, CmdSetLk, Frame{Owner: "bob"}, Flock{Kind: rangelock.Write, Start: 500, Len: 100}, nil)
	require.Error(t, err)
	assert.True(t, lockerr.IsLockLimitExceeded(err))
}

func TestLk_ParkRejectedAtPerFileBlockedCeiling(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxBlockedPerFile = 1
	l := NewLocks(cfg, NewMetrics(nil), nil)
	l.OpenDescriptor("ino1", 1)
	l.OpenDescriptor("ino1", 2)
	l.OpenDescriptor("ino1", 3)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	_, err = l.Lk(2, CmdSetLkW, Frame{Owner: "bob"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, waiter.ResumerFunc(func(waiter.Outcome) {}))
	require.NoError(t, err)

	_, err = l.Lk(3, CmdSetLkW, Frame{Owner: "carol"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, waiter.ResumerFunc(func(waiter.Outcome) {}))
	require.Error(t, err)
	assert.True(t, lockerr.IsNoMem(err))
}

// TestLk_ParkCeiling_ReplenishesAfterGrant guards against the park counter
// leaking: a blocked waiter promoted to a grant by a wake pass must free its
// waitsByFile slot, not hold it forever.
func TestLk_ParkCeiling_ReplenishesAfterGrant(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxBlockedPerFile = 1
	l := NewLocks(cfg, NewMetrics(nil), nil)
	l.OpenDescriptor("ino1", 1)
	l.OpenDescriptor("ino1", 2)
	l.OpenDescriptor("ino1", 3)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	var bobGranted waiter.Outcome
	_, err = l.Lk(2, CmdSetLkW, Frame{Owner: "bob"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100},
		waiter.ResumerFunc(func(o waiter.Outcome) { bobGranted = o }))
	require.NoError(t, err)
	assert.Equal(t, 1, l.limits.ParkCount("ino1"))

	_, err = l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Unlock, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	assert.Equal(t, waiter.StatusGranted, bobGranted.Status)
	assert.Equal(t, 0, l.limits.ParkCount("ino1"))
	assert.Equal(t, 1, l.limits.GrantCount("ino1"))

	_, err = l.Lk(3, CmdSetLkW, Frame{Owner: "carol"}, Flock{Kind: rangelock.Write, Start: 200, Len: 100}, waiter.ResumerFunc(func(waiter.Outcome) {}))
	assert.NoError(t, err)
}

// TestLk_ParkCeiling_ReplenishesAfterCancellation guards against the park
// counter leaking on the cancellation path: releasing a descriptor with a
// blocked waiter on it must free that waiter's waitsByFile slot.
func TestLk_ParkCeiling_ReplenishesAfterCancellation(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxBlockedPerFile = 1
	l := NewLocks(cfg, NewMetrics(nil), nil)
	l.OpenDescriptor("ino1", 1)
	l.OpenDescriptor("ino1", 2)
	l.OpenDescriptor("ino1", 3)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, nil)
	require.NoError(t, err)

	var bobDenied waiter.Outcome
	_, err = l.Lk(2, CmdSetLkW, Frame{Owner: "bob"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100},
		waiter.ResumerFunc(func(o waiter.Outcome) { bobDenied = o }))
	require.NoError(t, err)
	assert.Equal(t, 1, l.limits.ParkCount("ino1"))

	require.NoError(t, l.Release(2))

	assert.Equal(t, waiter.StatusDenied, bobDenied.Status)
	assert.Equal(t, 0, l.limits.ParkCount("ino1"))

	_, err = l.Lk(3, CmdSetLkW, Frame{Owner: "carol"}, Flock{Kind: rangelock.Write, Start: 0, Len: 100}, waiter.ResumerFunc(func(waiter.Outcome) {}))
	assert.NoError(t, err)
}

func TestLk_NegativeRangeRejected(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	l.OpenDescriptor("ino1", 1)

	_, err := l.Lk(1, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: -1, Len: 100}, nil)
	require.Error(t, err)
	assert.True(t, lockerr.IsInvalid(err))
}

func TestLk_UnknownFdIsBadFD(t *testing.T) {
	t.Parallel()

	l := newTestLocks(false)
	_, err := l.Lk(99, CmdSetLk, Frame{Owner: "alice"}, Flock{Kind: rangelock.Write, Start: 0, Len: 1}, nil)
	require.Error(t, err)
	assert.True(t, lockerr.IsBadFD(err))
}
