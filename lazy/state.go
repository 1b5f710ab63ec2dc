package lazy

// LoadState tracks a deferred image element through its lifecycle. States
// advance monotonically except for the single allowed retry after a failed
// promotion, which returns the element to StatePreloading once.
type LoadState int

const (
	// StatePending means the element still shows its placeholder and is
	// being observed for proximity.
	StatePending LoadState = iota
	// StatePreloading means the real source has been attached and the
	// resource has not yet loaded.
	StatePreloading
	// StateLoaded means the resource loaded successfully.
	StateLoaded
	// StateFailed is terminal: promotion failed and the retry budget is
	// spent. The placeholder remains visible.
	StateFailed
)

func (s LoadState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePreloading:
		return "preloading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}
