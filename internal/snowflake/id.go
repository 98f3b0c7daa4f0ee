// Package snowflake provides time-ordered unique IDs.
//
// IDs generated in a later millisecond always compare greater than IDs
// generated earlier, which lets "latest row wins" queries order by primary
// key alone.
package snowflake

import (
	"math/rand"
	"time"
)

// An ID is 48 bits of milliseconds since the Unix epoch followed by 16
// random bits.
type ID uint64

// Now returns an ID for the current time.
func Now() ID {
	return TimeToID(time.Now())
}

// TimeToID converts a time.Time to an ID.
func TimeToID(ts time.Time) ID {
	return ID(uint64(ts.UnixNano()/int64(time.Millisecond))<<16 | uint64(rand.Intn(1<<16)))
}

// ToTime returns the time an ID was generated.
func (id ID) ToTime() time.Time {
	return time.Unix(0, int64(id>>16)*1e6)
}
