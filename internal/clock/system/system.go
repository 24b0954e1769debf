// Package system provides the wall clock used by the composition root.
package system

import "time"

// Clock reports UTC wall time. The pipeline, governor and host pacer take
// its Now method as their time source.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
