package logger

import "log/slog"

// Standard field keys for structured logging, kept consistent across every
// dispatcher operation so log lines can be aggregated and queried uniformly.
const (
	KeyTraceID   = "trace_id"
	KeyProcedure = "procedure" // dispatcher operation: lk, flush, release, readv, writev, ...
	KeyHandle    = "handle"    // file handle / descriptor identifier
	KeyOwner     = "owner"     // lock owner

	KeyLockType   = "lock_type"   // read, write, unlock
	KeyLockStart  = "lock_start"  // range start
	KeyLockEnd    = "lock_end"    // range end (EOF sentinel possible)
	KeyLockID     = "lock_id"     // UUID of a granted/blocked lock record
	KeyCmd        = "cmd"         // setlk, setlkw, getlk, getlk_fd
	KeyStatus     = "status"      // granted, denied, blocked, cancelled
	KeyReason     = "reason"      // explicit, timeout, disconnect
	KeyWaiters    = "waiters"     // queue depth after an enqueue/dequeue
	KeyGranted    = "granted"     // count of locks granted by a clear-locks pass
	KeyBlocked    = "blocked"     // count of locks cleared while still blocked
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

func TraceID(id string) slog.Attr   { return slog.String(KeyTraceID, id) }
func Procedure(name string) slog.Attr { return slog.String(KeyProcedure, name) }
func Handle(h string) slog.Attr     { return slog.String(KeyHandle, h) }
func Owner(o string) slog.Attr      { return slog.String(KeyOwner, o) }

func LockType(t string) slog.Attr  { return slog.String(KeyLockType, t) }
func LockStart(v int64) slog.Attr  { return slog.Int64(KeyLockStart, v) }
func LockEnd(v int64) slog.Attr    { return slog.Int64(KeyLockEnd, v) }
func LockID(id string) slog.Attr   { return slog.String(KeyLockID, id) }
func Cmd(c string) slog.Attr       { return slog.String(KeyCmd, c) }
func Status(s string) slog.Attr    { return slog.String(KeyStatus, s) }
func Reason(r string) slog.Attr    { return slog.String(KeyReason, r) }
func Waiters(n int) slog.Attr      { return slog.Int(KeyWaiters, n) }
func Granted(n int) slog.Attr      { return slog.Int(KeyGranted, n) }
func Blocked(n int) slog.Attr      { return slog.Int(KeyBlocked, n) }
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
