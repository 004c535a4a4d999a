// Package rangelock implements the pure range algebra a POSIX byte-range
// lock table is built from: overlap, ownership, conflict, subtraction and
// coalescing over inclusive [start,end] byte ranges. It has no internal
// dependencies and holds no state of its own — every function here except
// NewLock (which draws a fresh UUID) is referentially transparent,
// grounded on the split/merge algorithm a
// metadata lock manager performs over its unified lock records.
package rangelock

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind identifies what a Lock represents.
type Kind int

const (
	Read Kind = iota
	Write
	Unlock
	// EOL is never stored; it is the sentinel Kind returned by a
	// descriptor inventory to signal end-of-iteration to a GETLK_FD caller.
	EOL
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	case Unlock:
		return "unlock"
	case EOL:
		return "eol"
	default:
		return "unknown"
	}
}

// EOF represents an open-ended range end (`len = 0` in the wire flock).
const EOF = int64(1<<63 - 1)

// Lock is a record of a POSIX lock request or grant.
type Lock struct {
	ID         string
	Kind       Kind
	Start      int64
	End        int64
	Owner      string
	ClientPID  int64
	Transport  string
	FdID       uint64
	Blocked    bool
	GrantedAt  int64
	BlockedAt  int64
}

// NewLock builds a Lock with a fresh ID, ready for insertion or parking.
func NewLock(kind Kind, start, end int64, owner, transport string, pid int64, fdID uint64) Lock {
	return Lock{
		ID:        uuid.NewString(),
		Kind:      kind,
		Start:     start,
		End:       end,
		Owner:     owner,
		ClientPID: pid,
		Transport: transport,
		FdID:      fdID,
	}
}

func (l Lock) String() string {
	return fmt.Sprintf("%s[%d,%d]owner=%s", l.Kind, l.Start, l.End, l.Owner)
}

// Overlap reports whether a and b's ranges intersect.
func Overlap(a, b Lock) bool {
	return a.Start <= b.End && b.Start <= a.End
}

// Adjacent reports whether b begins exactly one byte past the end of a.
func Adjacent(a, b Lock) bool {
	return b.Start == a.End+1
}

// SameOwner reports whether a and b were requested by the same owner over
// the same transport. PIDs are never compared: two processes on the same
// machine may legitimately share an owner token (NFS-style), and two
// distinct owners may coincidentally carry the same PID.
func SameOwner(a, b Lock) bool {
	return a.Owner == b.Owner && a.Transport == b.Transport
}

// Conflicts reports whether a and b cannot both be granted: they overlap,
// belong to different owners, and at least one is a write lock.
func Conflicts(a, b Lock) bool {
	return Overlap(a, b) && !SameOwner(a, b) && (a.Kind == Write || b.Kind == Write)
}

// Subtract returns the 0, 1, or 2 residual ranges left in existing after
// removing the portion covered by removed. existing and removed must
// overlap; callers are expected to have checked that already, but Subtract
// degrades gracefully (returning existing unchanged) when they don't.
func Subtract(existing, removed Lock) []Lock {
	if !Overlap(existing, removed) {
		return []Lock{existing}
	}

	var residuals []Lock
	if existing.Start < removed.Start {
		left := existing
		left.End = removed.Start - 1
		residuals = append(residuals, left)
	}
	if existing.End > removed.End {
		right := existing
		right.Start = removed.End + 1
		residuals = append(residuals, right)
	}
	return residuals
}

// MergeIfAdjacentOrOverlap returns the union of a and b when they are
// eligible to coalesce (same owner, same kind, and either overlapping or
// immediately adjacent), and false otherwise.
func MergeIfAdjacentOrOverlap(a, b Lock) (Lock, bool) {
	if !SameOwner(a, b) || a.Kind != b.Kind {
		return Lock{}, false
	}
	if !Overlap(a, b) && !Adjacent(a, b) && !Adjacent(b, a) {
		return Lock{}, false
	}

	merged := a
	if b.Start < merged.Start {
		merged.Start = b.Start
	}
	if b.End > merged.End {
		merged.End = b.End
	}
	return merged, true
}
