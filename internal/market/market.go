// Package market answers whether US equity markets are open.
package market

import (
	"errors"
	"time"
	_ "time/tzdata"
)

// ErrClosed is returned by Clock.Check outside regular trading hours.
var ErrClosed = errors.New("market: closed")

var eastern = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// IsOpen reports whether now falls in a regular session: Monday to Friday,
// 09:30:00 through 16:00:00 Eastern, both ends inclusive. Holidays are not
// considered.
func IsOpen(now time.Time) bool {
	et := now.In(eastern)
	if wd := et.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	y, m, d := et.Date()
	open := time.Date(y, m, d, 9, 30, 0, 0, eastern)
	closing := time.Date(y, m, d, 16, 0, 0, 0, eastern)
	return !et.Before(open) && !et.After(closing)
}

// Clock gates trading on market hours. A zero Clock uses time.Now.
type Clock struct {
	Now        func() time.Time
	AlwaysOpen bool
}

// NewClock returns a Clock on the wall clock.
func NewClock(alwaysOpen bool) *Clock {
	return &Clock{Now: time.Now, AlwaysOpen: alwaysOpen}
}

// Open reports whether trading is currently allowed.
func (c *Clock) Open() bool {
	if c.AlwaysOpen {
		return true
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return IsOpen(now())
}

// Check returns ErrClosed when trading is not allowed.
func (c *Clock) Check() error {
	if !c.Open() {
		return ErrClosed
	}
	return nil
}
