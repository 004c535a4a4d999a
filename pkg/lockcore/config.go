package lockcore

import (
	"sync"

	"github.com/distfs/lockcore/pkg/lockerr"
)

// Config controls dispatcher-wide behavior. It is a plain struct a host
// process decodes from its own configuration file — this module never
// parses flags or files itself.
type Config struct {
	// MandatoryLocks enables the mandatory-mode read/write gate;
	// when false, byte-range locks are purely advisory.
	MandatoryLocks bool `mapstructure:"mandatory-locks" yaml:"mandatory-locks"`

	// Trace emits one debug log line on entry to Lk, Flush and Release;
	// the other dispatcher operations are not traced, and no line is
	// logged on return. The lines appear only when the logger level is
	// Debug.
	Trace bool `mapstructure:"trace" yaml:"trace"`

	// MaxLocksPerFile bounds ext_list's size to keep an unbounded stream
	// of SETLKW requests from exhausting memory. 0 disables the check.
	MaxLocksPerFile int `mapstructure:"max-locks-per-file" yaml:"max-locks-per-file"`

	// MaxBlockedPerFile bounds how many parked SETLKW/mandatory-I/O
	// waiters a single file may accumulate. 0 disables the check.
	MaxBlockedPerFile int `mapstructure:"max-blocked-per-file" yaml:"max-blocked-per-file"`
}

// DefaultConfig returns sensible defaults for a production deployment.
func DefaultConfig() Config {
	return Config{
		MandatoryLocks:    false,
		Trace:             false,
		MaxLocksPerFile:   1000,
		MaxBlockedPerFile: 1000,
	}
}

// Limits tracks live per-file lock and waiter counts for resource-ceiling
// enforcement, kept separate from the lock table itself so the dispatcher
// can check/charge it without walking ext_list.
type Limits struct {
	mu           sync.Mutex
	locksByFile  map[string]int
	waitsByFile  map[string]int
}

func NewLimits() *Limits {
	return &Limits{
		locksByFile: make(map[string]int),
		waitsByFile: make(map[string]int),
	}
}

func (l *Limits) CheckGrant(cfg Config, handle string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.MaxLocksPerFile > 0 && l.locksByFile[handle] >= cfg.MaxLocksPerFile {
		return lockerr.NewLockLimitExceededError(handle, cfg.MaxLocksPerFile)
	}
	return nil
}

func (l *Limits) CheckPark(cfg Config, handle string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.MaxBlockedPerFile > 0 && l.waitsByFile[handle] >= cfg.MaxBlockedPerFile {
		return lockerr.NewNoMemError(handle, "blocked-waiter queue full")
	}
	return nil
}

func (l *Limits) IncGrant(handle string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locksByFile[handle]++
}

func (l *Limits) DecGrant(handle string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locksByFile[handle] > 0 {
		l.locksByFile[handle]--
	}
	if l.locksByFile[handle] == 0 {
		delete(l.locksByFile, handle)
	}
}

func (l *Limits) IncPark(handle string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waitsByFile[handle]++
}

func (l *Limits) DecPark(handle string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.waitsByFile[handle] > 0 {
		l.waitsByFile[handle]--
	}
	if l.waitsByFile[handle] == 0 {
		delete(l.waitsByFile, handle)
	}
}

// ForgetFile drops every ceiling count for handle outright, used when the
// whole file's lock state is torn down (forget) rather than edited record by
// record.
func (l *Limits) ForgetFile(handle string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locksByFile, handle)
	delete(l.waitsByFile, handle)
}

func (l *Limits) GrantCount(handle string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locksByFile[handle]
}

func (l *Limits) ParkCount(handle string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waitsByFile[handle]
}
