package lockcore

import "github.com/distfs/lockcore/pkg/rangelock"

// conflictScanLocked returns the first granted record that would conflict
// with req, or ok=false if none does. Used by GETLK to return blocker info.
// Callers must hold f.mu.
func conflictScanLocked(f *FileState, req rangelock.Lock) (rangelock.Lock, bool) {
	for _, e := range f.ExtList {
		if e.Blocked {
			continue
		}
		if rangelock.Conflicts(e, req) {
			return e, true
		}
	}
	return rangelock.Lock{}, false
}

// canGrantLocked reports whether no granted record conflicts with req.
// Callers must hold f.mu.
func canGrantLocked(f *FileState, req rangelock.Lock) bool {
	_, conflicting := conflictScanLocked(f, req)
	return !conflicting
}

// insertGrantLocked implements the lock-table insertion algorithm used for
// both new grants and unlock edits. Callers must hold
// f.mu. req.Blocked must be false; blocked records never pass through here.
func insertGrantLocked(f *FileState, req rangelock.Lock) {
	var kept []rangelock.Lock
	for _, e := range f.ExtList {
		if e.Blocked || !rangelock.SameOwner(e, req) {
			kept = append(kept, e)
			continue
		}

		if req.Kind == rangelock.Unlock {
			residuals := rangelock.Subtract(e, req)
			kept = append(kept, residuals...)
			continue
		}

		if merged, ok := rangelock.MergeIfAdjacentOrOverlap(e, req); ok {
			req = merged
			continue
		}

		kept = append(kept, e)
	}
	f.ExtList = kept

	if req.Kind != rangelock.Unlock && req.End >= req.Start {
		req.Blocked = false
		f.ExtList = append(f.ExtList, req)
	}
}

// indexByID returns the index of the record with the given ID, or -1.
func indexByID(list []rangelock.Lock, id string) int {
	for i, l := range list {
		if l.ID == id {
			return i
		}
	}
	return -1
}
