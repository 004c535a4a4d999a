package lockcore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/distfs/lockcore/pkg/lockerr"
	"github.com/distfs/lockcore/pkg/rangelock"
	"github.com/distfs/lockcore/pkg/waiter"
)

// componentName is the reporting identity clear-locks results are prefixed
// with, matching the "<name>: ..." shape a getxattr clear-locks caller
// expects back.
const componentName = "posix-locks"

// ClearLocksScope names which lock family a clear-locks directive targets.
type ClearLocksScope string

const (
	ScopeInode ClearLocksScope = "inode"
	ScopeEntry ClearLocksScope = "entry"
	ScopePosix ClearLocksScope = "posix"
)

// ClearLocksDirective is the parsed form of a clear-locks getxattr value:
// "type=posix;range=0-100" or "type=posix;range=0-0" for the whole file.
type ClearLocksDirective struct {
	Scope ClearLocksScope
	Start int64
	End   int64
}

// ParseClearLocksDirective parses a clear-locks getxattr value into its
// scope and range. Unknown scopes fail with EINVAL.
func ParseClearLocksDirective(s string) (ClearLocksDirective, error) {
	var d ClearLocksDirective
	fields := strings.Split(s, ";")
	for _, field := range fields {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "type":
			switch ClearLocksScope(val) {
			case ScopeInode, ScopeEntry, ScopePosix:
				d.Scope = ClearLocksScope(val)
			default:
				return ClearLocksDirective{}, lockerr.NewInvalidError("", "unknown clear-locks scope: "+val)
			}
		case "range":
			start, end, err := parseRange(val)
			if err != nil {
				return ClearLocksDirective{}, err
			}
			d.Start, d.End = start, end
		}
	}
	if d.Scope == "" {
		return ClearLocksDirective{}, lockerr.NewInvalidError("", "clear-locks directive missing type")
	}
	return d, nil
}

func parseRange(s string) (int64, int64, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, lockerr.NewInvalidError("", "malformed clear-locks range: "+s)
	}
	start, err1 := strconv.ParseInt(parts[0], 10, 64)
	end, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, lockerr.NewInvalidError("", "malformed clear-locks range: "+s)
	}
	if end == 0 && start == 0 {
		end = rangelock.EOF
	}
	return start, end, nil
}

// ClearLocksResult reports how many locks a clear-locks pass removed.
type ClearLocksResult struct {
	Scope          ClearLocksScope
	BlockedCleared int
	GrantedCleared int
}

// String reproduces the exact result-string shape the original clear-locks
// getxattr handler returns: "<name>: <kind> blocked locks=N granted locks=M".
func (r ClearLocksResult) String() string {
	return fmt.Sprintf("%s: %s blocked locks=%d granted locks=%d", componentName, r.Scope, r.BlockedCleared, r.GrantedCleared)
}

// ClearPosixLocks clears every POSIX lock on f overlapping the directive's
// range, woken with EAGAIN if blocked, silently dropped if granted, mirroring
// the owner-agnostic bulk clear a crash-recovery caller needs rather than the
// owner/fd-scoped flush path. limits may be nil in tests that don't exercise
// ceilings.
func ClearPosixLocks(f *FileState, d ClearLocksDirective, limits *Limits) ClearLocksResult {
	target := rangelock.Lock{Start: d.Start, End: d.End}
	result := ClearLocksResult{Scope: d.Scope}

	var toResume []resumption

	f.mu.Lock()
	kept := f.ExtList[:0]
	for _, e := range f.ExtList {
		if !rangelock.Overlap(e, target) {
			kept = append(kept, e)
			continue
		}

		if e.Blocked {
			result.BlockedCleared++
			if p, ok := f.blocked[e.ID]; ok && !p.IsCancelled() {
				p.Cancel()
				toResume = append(toResume, resumption{
					resumer: p.Resumer,
					outcome: waiter.Outcome{Status: waiter.StatusDenied, Lock: e},
				})
			}
			delete(f.blocked, e.ID)
			if limits != nil {
				limits.DecPark(f.Handle)
			}
			continue
		}

		result.GrantedCleared++
		if limits != nil {
			limits.DecGrant(f.Handle)
		}
	}
	f.ExtList = kept
	f.mu.Unlock()

	for _, r := range toResume {
		if r.resumer != nil {
			r.resumer.Resume(r.outcome)
		}
	}
	return result
}
