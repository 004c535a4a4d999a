package lockcore

import (
	"github.com/distfs/lockcore/pkg/rangelock"
	"github.com/distfs/lockcore/pkg/waiter"
)

// GrantResult is the immediate disposition of a SETLK/SETLKW request, the
// state machine's INIT transition target.
type GrantResult int

const (
	ResultGranted GrantResult = iota
	ResultWouldBlock
	ResultParked
)

func (r GrantResult) String() string {
	switch r {
	case ResultGranted:
		return "granted"
	case ResultWouldBlock:
		return "would_block"
	case ResultParked:
		return "parked"
	default:
		return "unknown"
	}
}

// ConflictScan is the exported, locking form of conflictScanLocked, used by
// GETLK to return blocker info without mutating state.
func ConflictScan(f *FileState, req rangelock.Lock) (rangelock.Lock, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return conflictScanLocked(f, req)
}

// RequestLock runs the SETLK/SETLKW grant algorithm. req.Kind must
// not be Unlock; unlocks always succeed via Unlock instead.
//
// nonBlocking is true for SETLK, false for SETLKW. resumer is stashed on the
// blocked record when the result is ResultParked and is later invoked, with
// f's mutex released, by GrantBlocked.
func RequestLock(f *FileState, req rangelock.Lock, nonBlocking bool, resumer waiter.Resumer) (GrantResult, rangelock.Lock) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if canGrantLocked(f, req) {
		insertGrantLocked(f, req)
		return ResultGranted, req
	}

	if nonBlocking {
		return ResultWouldBlock, req
	}

	req.Blocked = true
	f.ExtList = append(f.ExtList, req)
	f.blocked[req.ID] = &waiter.Parked{Lock: req, Resumer: resumer}
	return ResultParked, req
}

// Unlock runs the unlock edit of the grant insertion, the unlock branch.
// It always succeeds; POSIX unlock on a non-held range is a no-op, matching
// the idempotent-unlock law.
func Unlock(f *FileState, req rangelock.Lock) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req.Kind = rangelock.Unlock
	insertGrantLocked(f, req)
}

// rwAllowedLocked implements the mandatory-mode gate for readv/writev:
// op=read is blocked only by a different-owner write; op=write is blocked
// by any different-owner overlapping grant. Callers must hold f.mu.
func rwAllowedLocked(f *FileState, region rangelock.Lock, op rangelock.Kind) bool {
	for _, e := range f.ExtList {
		if e.Blocked || rangelock.SameOwner(e, region) {
			continue
		}
		if !rangelock.Overlap(e, region) {
			continue
		}
		if op == rangelock.Read && e.Kind != rangelock.Write {
			continue
		}
		return false
	}
	return true
}

// RWAllowed is the exported, locking form of rwAllowedLocked.
func RWAllowed(f *FileState, region rangelock.Lock, op rangelock.Kind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return rwAllowedLocked(f, region, op)
}

// ParkRW enqueues a mandatory-mode I/O stub on rw_list when rwAllowedLocked
// denied it and the descriptor is not O_NONBLOCK.
func ParkRW(f *FileState, region rangelock.Lock, resumer waiter.Resumer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RWList = append(f.RWList, &waiter.Parked{Lock: region, Resumer: resumer})
}
