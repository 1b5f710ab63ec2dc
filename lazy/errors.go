package lazy

import "errors"

var (
	// ErrNilContainer is returned by Loader.Attach when the container node
	// is nil.
	ErrNilContainer = errors.New("lazy: nil container")

	// ErrSchedulerClosed is returned by Scheduler.Schedule after Close.
	ErrSchedulerClosed = errors.New("lazy: scheduler closed")
)
