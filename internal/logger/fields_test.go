package logger

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldConstructors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KeyHandle, Handle("fh-1").Key)
	assert.Equal(t, "fh-1", Handle("fh-1").Value.String())

	assert.Equal(t, KeyOwner, Owner("alice").Key)
	assert.Equal(t, KeyLockType, LockType("write").Key)
	assert.Equal(t, KeyStatus, Status("granted").Key)
	assert.Equal(t, KeyReason, Reason("explicit").Key)
	assert.Equal(t, KeyCmd, Cmd("setlk").Key)

	assert.Equal(t, int64(42), LockStart(42).Value.Int64())
	assert.Equal(t, int64(99), LockEnd(99).Value.Int64())
	assert.Equal(t, int64(3), Waiters(3).Value.Int64())
	assert.Equal(t, int64(2), Granted(2).Value.Int64())
	assert.Equal(t, int64(1), Blocked(1).Value.Int64())
	assert.Equal(t, 4.5, DurationMs(4.5).Value.Float64())
}

func TestErr(t *testing.T) {
	t.Parallel()

	attr := Err(errors.New("boom"))
	assert.Equal(t, KeyError, attr.Key)
	assert.Equal(t, "boom", attr.Value.String())

	assert.True(t, Err(nil).Equal(slog.Attr{}))
}
