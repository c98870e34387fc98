package common

// ReentrancyGuard is a mutual-exclusion flag scoped to a single logical call.
// It never blocks: a second Enter before the release fails immediately.
type ReentrancyGuard struct {
	entered bool
}

// Enter marks the guard as held. The returned release func must be deferred.
func (g *ReentrancyGuard) Enter() (func(), error) {
	if g.entered {
		return nil, ErrReentrantCall
	}
	g.entered = true
	return func() { g.entered = false }, nil
}

// Entered reports whether a guarded call is in progress.
func (g *ReentrancyGuard) Entered() bool { return g.entered }
