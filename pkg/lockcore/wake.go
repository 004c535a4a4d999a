package lockcore

import "github.com/distfs/lockcore/pkg/waiter"

type resumption struct {
	resumer waiter.Resumer
	outcome waiter.Outcome
}

// GrantBlocked runs a single-pass wake over both wait queues: it collects
// every now-grantable blocked lock and
// every now-allowed mandatory-I/O stub while holding f.mu, then resumes
// them all after releasing it. Resumption must happen outside f.mu so a
// resumed caller can safely re-enter the dispatcher.
//
// limits is charged here too: a blocked ExtList record promoted to a grant
// moves its accounting from waitsByFile to locksByFile, the same way a
// cancelled one (releaseLocked, Forget, ClearPosixLocks) must release its
// waitsByFile slot. limits may be nil in tests that don't exercise ceilings.
//
// Fairness: the scan is single-pass per call and walks ExtList/RWList in
// their existing (FIFO insertion) order, so an earlier waiter is always
// considered before a later one; a newly-arriving non-blocking request can
// still overtake a waiter by grabbing a freshly-freed range before the next
// wake pass runs, which is allowed.
func GrantBlocked(f *FileState, limits *Limits) {
	var toResume []resumption

	f.mu.Lock()

	// Snapshot the blocked IDs in their current FIFO order first: insertGrantLocked
	// rewrites f.ExtList's backing slice as each grant below runs, so the wake
	// pass must not iterate over f.ExtList directly while also mutating it.
	var blockedIDs []string
	for _, e := range f.ExtList {
		if e.Blocked {
			blockedIDs = append(blockedIDs, e.ID)
		}
	}

	for _, id := range blockedIDs {
		idx := indexByID(f.ExtList, id)
		if idx < 0 {
			continue
		}
		e := f.ExtList[idx]
		if !canGrantLocked(f, e) {
			continue
		}

		f.ExtList = append(f.ExtList[:idx], f.ExtList[idx+1:]...)
		p := f.blocked[e.ID]
		delete(f.blocked, e.ID)

		granted := e
		granted.Blocked = false
		insertGrantLocked(f, granted)
		if limits != nil {
			limits.DecPark(f.Handle)
			limits.IncGrant(f.Handle)
		}

		if p != nil && !p.IsCancelled() {
			p.Cancel()
			toResume = append(toResume, resumption{
				resumer: p.Resumer,
				outcome: waiter.Outcome{Status: waiter.StatusGranted, Lock: granted},
			})
		}
	}

	var keptRW []*waiter.Parked
	for _, w := range f.RWList {
		if rwAllowedLocked(f, w.Lock, w.Lock.Kind) {
			if !w.IsCancelled() {
				w.Cancel()
				toResume = append(toResume, resumption{
					resumer: w.Resumer,
					outcome: waiter.Outcome{Status: waiter.StatusGranted, Lock: w.Lock},
				})
			}
			continue
		}
		keptRW = append(keptRW, w)
	}
	f.RWList = keptRW
	f.mu.Unlock()

	for _, r := range toResume {
		if r.resumer != nil {
			r.resumer.Resume(r.outcome)
		}
	}
}
