package lockcore

import "github.com/distfs/lockcore/pkg/rangelock"

// ReservationVerifier models the external reservation-lock module the
// RESLK_LCK/RESLK_LCKW/RESLK_UNLCK commands delegate to. Its own grant
// policy is out of this core's scope; this core only
// guarantees the call ordering the original always used: Verify runs before
// the ordinary SETLK/SETLKW algorithm for those three sub-commands.
type ReservationVerifier interface {
	Verify(handle string, req rangelock.Lock) error
}

// NoopReservationVerifier permits every reservation request, leaving real
// reservation policy entirely to the caller.
type NoopReservationVerifier struct{}

func (NoopReservationVerifier) Verify(string, rangelock.Lock) error { return nil }
