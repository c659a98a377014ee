// Package clock abstracts time for services that stamp billing records,
// so tests can pin the current instant.
package clock

import "time"

// Clock supplies the current time in UTC.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSystemClock returns the wall clock.
func NewSystemClock() Clock { return systemClock{} }
