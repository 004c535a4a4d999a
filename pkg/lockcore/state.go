package lockcore

import (
	"sync"

	"github.com/distfs/lockcore/pkg/rangelock"
	"github.com/distfs/lockcore/pkg/waiter"
)

// DomainLockHandle is an opaque slot for the entrylk/inodelk subsystems,
// which are separate lock families layered on the same per-file structure
// and out of this core's logic. FileState only carries the slice around;
// nothing here inspects its contents.
type DomainLockHandle any

// FileState is the per-inode lock state (F in the data model): one
// instance per inode that has ever been locked, guarded by a single mutex
// that serializes every read and write of the fields below. No global
// mutex exists anywhere in this package.
type FileState struct {
	mu sync.Mutex

	Handle string

	// ExtList holds both granted and blocked POSIX lock records,
	// intermixed in insertion order; a blocked record's Lock.Blocked
	// field distinguishes it from a grant.
	ExtList []rangelock.Lock

	// blocked indexes the continuation for every blocked ExtList entry
	// by lock ID, so a wake pass can resume it without re-deriving it.
	blocked map[string]*waiter.Parked

	// RWList holds mandatory-mode read/write requests parked because
	// rwAllowed denied them at enqueue time.
	RWList []*waiter.Parked

	Mandatory bool

	DomainLocks []DomainLockHandle
}

// NewFileState creates lock state for an inode on first access.
func NewFileState(handle string, mandatory bool) *FileState {
	return &FileState{
		Handle:    handle,
		blocked:   make(map[string]*waiter.Parked),
		Mandatory: mandatory,
	}
}

// Snapshot returns a point-in-time copy of the file's lock state, the
// non-diagnostic equivalent of a statedump: plain data for metrics and
// tests, never formatted output.
type Snapshot struct {
	Handle       string
	Granted      []rangelock.Lock
	BlockedLocks []rangelock.Lock
	RWWaiters    int
}

func (f *FileState) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Snapshot{Handle: f.Handle, RWWaiters: len(f.RWList)}
	for _, l := range f.ExtList {
		if l.Blocked {
			s.BlockedLocks = append(s.BlockedLocks, l)
		} else {
			s.Granted = append(s.Granted, l)
		}
	}
	return s
}
