// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements scraper.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time. The monotonic reading is kept, so
// durations between two calls ignore wall clock steps.
func (Clock) Now() time.Time {
	return time.Now()
}
