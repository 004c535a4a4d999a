package lockcore

import (
	"sync"

	"github.com/distfs/lockcore/pkg/rangelock"
)

// Descriptor is the per-descriptor context (D in the data model): created
// at open/create/opendir, destroyed at release.
type Descriptor struct {
	mu sync.Mutex

	FdID uint64

	snapshotTaken bool
	snapshot      []rangelock.Lock
}

// NewDescriptor creates a descriptor context for fdID.
func NewDescriptor(fdID uint64) *Descriptor {
	return &Descriptor{FdID: fdID}
}

// GetLockFD implements the GETLK_FD algorithm: the first call takes a
// consistent snapshot of every granted record on this descriptor, copied
// while holding the file's mutex; each call after that pops the next record,
// and once the snapshot is drained it returns the EOL sentinel so the caller
// stops iterating. The snapshot and its iteration state are guarded by the
// descriptor's own mutex, not by the file's mutex.
func (d *Descriptor) GetLockFD(f *FileState) rangelock.Lock {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.snapshotTaken {
		f.mu.Lock()
		for _, l := range f.ExtList {
			if !l.Blocked && l.FdID == d.FdID {
				d.snapshot = append(d.snapshot, l)
			}
		}
		f.mu.Unlock()
		d.snapshotTaken = true
	}

	if len(d.snapshot) == 0 {
		return rangelock.Lock{Kind: rangelock.EOL}
	}

	head := d.snapshot[0]
	d.snapshot = d.snapshot[1:]
	return head
}

// ResetSnapshot clears the iteration state, letting a later GETLK_FD call
// take a fresh snapshot. Exposed for tests; production callers never need
// it because a descriptor is destroyed and replaced at release.
func (d *Descriptor) ResetSnapshot() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshotTaken = false
	d.snapshot = nil
}
