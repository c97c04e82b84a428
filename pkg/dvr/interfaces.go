package dvr

import "time"

// Clock abstracts time so the poll scheduler can be tested without
// waiting out real intervals.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}
