// Package lockcore implements the lock table, blocked-waiter wake passes,
// descriptor lock inventory and operation dispatcher of a POSIX byte-range
// lock core, composed over the pure algebra in pkg/rangelock and the
// continuation capability in pkg/waiter.
package lockcore

import (
	"fmt"
	"sync"

	"github.com/distfs/lockcore/internal/logger"
	"github.com/distfs/lockcore/pkg/lockerr"
	"github.com/distfs/lockcore/pkg/rangelock"
	"github.com/distfs/lockcore/pkg/waiter"
)

// Cmd names a lk() sub-operation.
type Cmd string

const (
	CmdGetLk     Cmd = "GETLK"
	CmdSetLk     Cmd = "SETLK"
	CmdSetLkW    Cmd = "SETLKW"
	CmdGetLkFD   Cmd = "GETLK_FD"
	CmdReslkLck  Cmd = "RESLK_LCK"
	CmdReslkLckW Cmd = "RESLK_LCKW"
	CmdReslkUnlk Cmd = "RESLK_UNLCK"
)

// Frame identifies the caller of an operation: the lock owner, the
// transport the request arrived on, and an advisory PID for reporting.
type Frame struct {
	Owner     string
	Transport string
	PID       int64
}

// IsZeroOwner reports whether this frame is the client-disconnect sentinel
// (the empty-length owner used to mean "client gone; free everything on
// this fd").
func (fr Frame) IsZeroOwner() bool { return fr.Owner == "" }

// Flock is the wire lock specification lk() accepts and fills in.
type Flock struct {
	Kind  rangelock.Kind
	Start int64
	Len   int64 // 0 means "to end of file"
	PID   int64
	Owner string
}

func (fl Flock) toRange() (start, end int64) {
	start = fl.Start
	if fl.Len == 0 {
		end = rangelock.EOF
	} else {
		end = fl.Start + fl.Len - 1
	}
	return start, end
}

// Locks is the top-level registry composing the range algebra, lock table,
// wake scheduler and descriptor inventory into the public operations: one
// FileState per inode, one Descriptor per open fd, created lazily and
// destroyed on release/forget.
type Locks struct {
	mu          sync.Mutex
	files       map[string]*FileState
	descriptors map[uint64]*Descriptor
	fdHandle    map[uint64]string

	cfg         Config
	metrics     *Metrics
	limits      *Limits
	reservation ReservationVerifier
}

// NewLocks creates an empty registry. A nil reservation verifier defaults
// to NoopReservationVerifier.
func NewLocks(cfg Config, metrics *Metrics, reservation ReservationVerifier) *Locks {
	if reservation == nil {
		reservation = NoopReservationVerifier{}
	}
	return &Locks{
		files:       make(map[string]*FileState),
		descriptors: make(map[uint64]*Descriptor),
		fdHandle:    make(map[uint64]string),
		cfg:         cfg,
		metrics:     metrics,
		limits:      NewLimits(),
		reservation: reservation,
	}
}

func (l *Locks) fileLocked(handle string) *FileState {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.files[handle]
	if !ok {
		f = NewFileState(handle, l.cfg.MandatoryLocks)
		l.files[handle] = f
	}
	return f
}

// OpenDescriptor creates the descriptor context for fdID against handle,
// lazily creating the file's lock state on first access (F is created
// lazily keyed by inode identity).
func (l *Locks) OpenDescriptor(handle string, fdID uint64) *Descriptor {
	l.fileLocked(handle)

	l.mu.Lock()
	defer l.mu.Unlock()
	d := NewDescriptor(fdID)
	l.descriptors[fdID] = d
	l.fdHandle[fdID] = handle
	return d
}

func (l *Locks) lookupDescriptor(fdID uint64) (*Descriptor, *FileState, error) {
	l.mu.Lock()
	d, ok := l.descriptors[fdID]
	handle := l.fdHandle[fdID]
	l.mu.Unlock()
	if !ok {
		return nil, nil, lockerr.NewBadFDError(fmt.Sprintf("%d", fdID))
	}
	return d, l.fileLocked(handle), nil
}

func (l *Locks) trace(op, handle string) {
	if l.cfg.Trace {
		logger.Debug("lockcore: "+op, logger.Handle(handle), logger.Procedure(op))
	}
}

// Lk dispatches GETLK, SETLK, SETLKW, GETLK_FD and the RESLK_* variants.
// On ResultParked the returned Flock is the zero value and err is
// nil; the reply happens later from a wake pass invoking resumer.
func (l *Locks) Lk(fdID uint64, cmd Cmd, frame Frame, flock Flock, resumer waiter.Resumer) (Flock, error) {
	d, f, err := l.lookupDescriptor(fdID)
	if err != nil {
		return Flock{}, err
	}
	handle := f.Handle
	l.trace(string(cmd), handle)

	if flock.Start < 0 || flock.Len < 0 {
		return Flock{}, lockerr.NewInvalidError(handle, "negative start or length")
	}

	start, end := flock.toRange()
	req := rangelock.NewLock(flock.Kind, start, end, frame.Owner, frame.Transport, frame.PID, fdID)

	switch cmd {
	case CmdGetLk:
		blocker, found := ConflictScan(f, req)
		if !found {
			return Flock{Kind: rangelock.Unlock}, nil
		}
		return Flock{Kind: blocker.Kind, Start: blocker.Start, Len: rangeLen(blocker), PID: blocker.ClientPID, Owner: blocker.Owner}, nil

	case CmdGetLkFD:
		rec := d.GetLockFD(f)
		return Flock{Kind: rec.Kind, Start: rec.Start, Len: rangeLen(rec), PID: rec.ClientPID, Owner: rec.Owner}, nil

	case CmdSetLk, CmdSetLkW, CmdReslkLck, CmdReslkLckW, CmdReslkUnlk:
		isReservation := cmd == CmdReslkLck || cmd == CmdReslkLckW || cmd == CmdReslkUnlk
		if isReservation {
			if err := l.reservation.Verify(handle, req); err != nil {
				return Flock{}, err
			}
		}

		if flock.Kind == rangelock.Unlock || cmd == CmdReslkUnlk {
			// Charge the grant ceiling by the change in granted records: an
			// unlock can drop records outright or split one into two.
			f.mu.Lock()
			before := len(f.ExtList)
			req.Kind = rangelock.Unlock
			insertGrantLocked(f, req)
			delta := len(f.ExtList) - before
			f.mu.Unlock()
			for ; delta < 0; delta++ {
				l.limits.DecGrant(handle)
			}
			for ; delta > 0; delta-- {
				l.limits.IncGrant(handle)
			}
			l.metrics.ObserveGrant("unlock", StatusGranted)
			GrantBlocked(f, l.limits)
			return l.withLType(f, fdID, Flock{Kind: rangelock.Unlock}), nil
		}

		if err := l.limits.CheckGrant(l.cfg, handle); err != nil {
			return Flock{}, err
		}

		nonBlocking := cmd == CmdSetLk || cmd == CmdReslkLck
		if !nonBlocking {
			if err := l.limits.CheckPark(l.cfg, handle); err != nil {
				return Flock{}, err
			}
		}

		result, granted := RequestLock(f, req, nonBlocking, resumer)
		switch result {
		case ResultGranted:
			l.limits.IncGrant(handle)
			l.metrics.ObserveGrant(granted.Kind.String(), StatusGranted)
			return l.withLType(f, fdID, Flock{Kind: granted.Kind, Start: granted.Start, Len: rangeLen(granted)}), nil
		case ResultWouldBlock:
			l.metrics.ObserveGrant(req.Kind.String(), StatusDenied)
			return Flock{}, lockerr.NewAgainError(handle)
		default: // ResultParked
			l.limits.IncPark(handle)
			l.metrics.ObserveGrant(req.Kind.String(), StatusParked)
			return Flock{}, nil
		}

	default:
		return Flock{}, lockerr.NewInvalidError(handle, "unknown lk command")
	}
}

// withLType implements the diagnostic l_type rewrite: the outgoing
// flock always reports whether any lock remains on the descriptor.
func (l *Locks) withLType(f *FileState, fdID uint64, fl Flock) Flock {
	snap := f.Snapshot()
	for _, g := range snap.Granted {
		if g.FdID == fdID {
			fl.Kind = rangelock.Read
			return fl
		}
	}
	fl.Kind = rangelock.Unlock
	return fl
}

func rangeLen(l rangelock.Lock) int64 {
	if l.End == rangelock.EOF {
		return 0
	}
	return l.End - l.Start + 1
}

// Flush implements flush: owner-scoped release, with a zero-owner fast
// path that clears every lock on the descriptor regardless of owner.
func (l *Locks) Flush(fdID uint64, frame Frame) error {
	_, f, err := l.lookupDescriptor(fdID)
	if err != nil {
		return err
	}
	l.trace("flush", f.Handle)

	reason := ReasonExplicit
	if frame.IsZeroOwner() {
		reason = ReasonDisconnect
	}
	releaseLocked(f, func(e rangelock.Lock) bool {
		if frame.IsZeroOwner() {
			return e.FdID == fdID
		}
		return e.Owner == frame.Owner && e.Transport == frame.Transport
	}, reason, l.metrics, l.limits)

	GrantBlocked(f, l.limits)
	return nil
}

// Release implements release: fd-scoped clearing followed by
// descriptor destruction.
func (l *Locks) Release(fdID uint64) error {
	_, f, err := l.lookupDescriptor(fdID)
	if err != nil {
		return err
	}
	l.trace("release", f.Handle)

	releaseLocked(f, func(e rangelock.Lock) bool {
		return e.FdID == fdID
	}, ReasonExplicit, l.metrics, l.limits)

	GrantBlocked(f, l.limits)

	l.mu.Lock()
	delete(l.descriptors, fdID)
	delete(l.fdHandle, fdID)
	l.mu.Unlock()
	return nil
}

// releaseLocked removes every record matching predicate, waking blocked
// matches with EAGAIN and silently dropping granted matches.
func releaseLocked(f *FileState, matches func(rangelock.Lock) bool, reason string, metrics *Metrics, limits *Limits) {
	var toResume []resumption

	f.mu.Lock()
	kept := f.ExtList[:0]
	for _, e := range f.ExtList {
		if !matches(e) {
			kept = append(kept, e)
			continue
		}
		if e.Blocked {
			if p, ok := f.blocked[e.ID]; ok && !p.IsCancelled() {
				p.Cancel()
				toResume = append(toResume, resumption{
					resumer: p.Resumer,
					outcome: waiter.Outcome{Status: waiter.StatusDenied, Lock: e},
				})
			}
			delete(f.blocked, e.ID)
			limits.DecPark(f.Handle)
			continue
		}
		limits.DecGrant(f.Handle)
	}
	f.ExtList = kept
	f.mu.Unlock()

	for _, r := range toResume {
		metrics.ObserveRelease(reason)
		if r.resumer != nil {
			r.resumer.Resume(r.outcome)
		}
	}
}

// Forget implements forget: the terminal cleanup run on inode
// eviction. rw_list is drained without resuming its stubs (the inode is
// going away); blocked ext_list entries are resumed with StatusDiscarded
// (success, original flock, op_ret=-1), never reported as a lock failure.
func (l *Locks) Forget(handle string) {
	l.mu.Lock()
	f, ok := l.files[handle]
	if ok {
		delete(l.files, handle)
	}
	l.mu.Unlock()
	if !ok {
		return
	}

	f.mu.Lock()
	f.RWList = nil // stubs are simply dropped; never resumed

	var toResume []resumption
	for _, e := range f.ExtList {
		if e.Blocked {
			if p, ok := f.blocked[e.ID]; ok && !p.IsCancelled() {
				p.Cancel()
				toResume = append(toResume, resumption{
					resumer: p.Resumer,
					outcome: waiter.Outcome{Status: waiter.StatusDiscarded, Lock: e},
				})
			}
		}
	}
	f.ExtList = nil
	f.blocked = make(map[string]*waiter.Parked)
	f.DomainLocks = nil
	f.mu.Unlock()

	l.limits.ForgetFile(handle)

	for _, r := range toResume {
		l.metrics.ObserveRelease(ReasonForget)
		if r.resumer != nil {
			r.resumer.Resume(r.outcome)
		}
	}
}

// Truncate and Ftruncate implement the mandatory-mode gate on a resize:
// they reject with EAGAIN if any non-blocked, different-owner lock overlaps
// [offset, EOF].
func (l *Locks) Truncate(handle string, frame Frame, offset int64) error {
	return l.checkResize(handle, frame, offset)
}

func (l *Locks) Ftruncate(fdID uint64, frame Frame, offset int64) error {
	_, f, err := l.lookupDescriptor(fdID)
	if err != nil {
		return err
	}
	return l.checkResizeFile(f, frame, offset)
}

func (l *Locks) checkResize(handle string, frame Frame, offset int64) error {
	return l.checkResizeFile(l.fileLocked(handle), frame, offset)
}

func (l *Locks) checkResizeFile(f *FileState, frame Frame, offset int64) error {
	if !f.Mandatory {
		return nil
	}
	region := rangelock.Lock{Start: offset, End: rangelock.EOF, Owner: frame.Owner, Transport: frame.Transport}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.ExtList {
		if e.Blocked || rangelock.SameOwner(e, region) {
			continue
		}
		if rangelock.Overlap(e, region) {
			return lockerr.NewAgainError(f.Handle)
		}
	}
	return nil
}

// IOOutcome is the immediate disposition of a mandatory-mode readv/writev
// gate check.
type IOOutcome int

const (
	IOForward IOOutcome = iota
	IOParked
)

// Readv and Writev implement the mandatory-mode I/O gate. IOForward means
// the caller should proceed to the downstream storage layer immediately;
// IOParked means a stub was queued on rw_list and resumer will be invoked by
// a later wake pass.
func (l *Locks) Readv(fdID uint64, frame Frame, nonBlockingFD bool, offset, length int64, resumer waiter.Resumer) (IOOutcome, error) {
	return l.rwGate(fdID, frame, nonBlockingFD, offset, length, rangelock.Read, resumer)
}

func (l *Locks) Writev(fdID uint64, frame Frame, nonBlockingFD bool, offset, length int64, resumer waiter.Resumer) (IOOutcome, error) {
	return l.rwGate(fdID, frame, nonBlockingFD, offset, length, rangelock.Write, resumer)
}

func (l *Locks) rwGate(fdID uint64, frame Frame, nonBlockingFD bool, offset, length int64, op rangelock.Kind, resumer waiter.Resumer) (IOOutcome, error) {
	_, f, err := l.lookupDescriptor(fdID)
	if err != nil {
		return IOForward, err
	}
	if !f.Mandatory {
		return IOForward, nil
	}

	region := rangelock.Lock{Kind: op, Start: offset, End: offset + length - 1, Owner: frame.Owner, Transport: frame.Transport, FdID: fdID}
	if RWAllowed(f, region, op) {
		return IOForward, nil
	}
	if nonBlockingFD {
		return IOForward, lockerr.NewAgainError(f.Handle)
	}
	ParkRW(f, region, resumer)
	return IOParked, nil
}

// ClearLocks implements the clear-locks getxattr directive.
func (l *Locks) ClearLocks(handle, directive string) (ClearLocksResult, error) {
	d, err := ParseClearLocksDirective(directive)
	if err != nil {
		return ClearLocksResult{}, err
	}
	if d.Scope != ScopePosix {
		return ClearLocksResult{Scope: d.Scope}, nil
	}
	f := l.fileLocked(handle)
	result := ClearPosixLocks(f, d, l.limits)
	GrantBlocked(f, l.limits)
	return result, nil
}
