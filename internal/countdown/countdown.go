// Package countdown computes the time remaining until the next New Year and keeps a live
// value ticking once per second.
package countdown

import (
	"time"
)

// Time is the remaining duration broken into calendar-free units.
// Days is unbounded; Hours is 0-23, Minutes and Seconds are 0-59.
type Time struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// TotalSeconds reassembles the fields into whole seconds.
func (t Time) TotalSeconds() int64 {
	return ((int64(t.Days)*24+int64(t.Hours))*60+int64(t.Minutes))*60 + int64(t.Seconds)
}

// IsZero reports whether every field is zero.
func (t Time) IsZero() bool {
	return t == Time{}
}

// State is COUNTING while the target lies ahead and ELAPSED once it has been reached.
type State int

const (
	Counting State = iota
	Elapsed
)

// String returns "counting" or "elapsed".
func (s State) String() string {
	if s == Elapsed {
		return "elapsed"
	}
	return "counting"
}

// MarshalText lets State appear as a string in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Target returns midnight, January 1 of the year after now, in now's location.
// It is derived from now on every call, so a countdown left running across a year
// boundary moves on to the following New Year.
func Target(now time.Time) time.Time {
	return time.Date(now.Year()+1, time.January, 1, 0, 0, 0, 0, now.Location())
}

// Compute breaks target-now into days, hours, minutes and seconds, truncating partial
// seconds. It returns the zero Time once now is at or after target.
func Compute(now, target time.Time) Time {
	diff := target.Sub(now)
	if diff <= 0 {
		return Time{}
	}

	total := int64(diff / time.Second)
	return Time{
		Days:    int(total / 86400),
		Hours:   int(total / 3600 % 24),
		Minutes: int(total / 60 % 60),
		Seconds: int(total % 60),
	}
}

// StateAt reports whether target is still ahead of now.
func StateAt(now, target time.Time) State {
	if target.Sub(now) <= 0 {
		return Elapsed
	}
	return Counting
}

// Remaining is Compute against the recomputed Target for now.
func Remaining(now time.Time) Time {
	return Compute(now, Target(now))
}

// Snapshot is one evaluation of the countdown.
type Snapshot struct {
	Time
	State  State     `json:"state"`
	Target time.Time `json:"target"`
	At     time.Time `json:"at"`
}

// TargetFunc picks the target instant for a given now.
type TargetFunc func(now time.Time) time.Time

// Fixed returns a TargetFunc that always counts toward t.
func Fixed(t time.Time) TargetFunc {
	return func(time.Time) time.Time { return t }
}

// Evaluate produces a Snapshot for now using target.
func Evaluate(now time.Time, target TargetFunc) Snapshot {
	if target == nil {
		target = Target
	}
	t := target(now)
	return Snapshot{
		Time:   Compute(now, t),
		State:  StateAt(now, t),
		Target: t,
		At:     now,
	}
}
