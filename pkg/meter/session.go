package meter

// SessionContext tracks the intended counter kind per channel for exactly
// one wake cycle. Create one at cycle start with NewSessionContext and
// discard it at cycle end; it replaces reliance on peripheral
// read-after-write consistency.
type SessionContext struct {
	initialized bool
	kind0       CounterKind
	kind1       CounterKind
}

// NewSessionContext returns an uninitialized context. The first Submit or
// Init call seeds it from the cycle's Snapshot.
func NewSessionContext() *SessionContext {
	return &SessionContext{}
}

// Init seeds the context from the snapshot if it has not been seeded yet.
// Calling Init again is a no-op; the context's view wins over the snapshot
// once a change has been requested.
func (c *SessionContext) Init(snap Snapshot) {
	if c.initialized {
		return
	}
	c.kind0 = snap.Kind0
	c.kind1 = snap.Kind1
	c.initialized = true
}

// Intended returns the currently intended kinds.
func (c *SessionContext) Intended() (k0, k1 CounterKind, err error) {
	if !c.initialized {
		return 0, 0, ErrNotInitialized
	}
	return c.kind0, c.kind1, nil
}

// Reset clears the context. Call at the start of every new cycle; the
// context must never survive a sleep boundary.
func (c *SessionContext) Reset() {
	c.initialized = false
	c.kind0 = 0
	c.kind1 = 0
}

// Submit requests a counter kind change as an atomic pair.
//
// A nil member means "leave unchanged": its value is taken from the
// context's intended kind, never from the raw snapshot, so an earlier
// change this cycle is not silently reverted. Both resulting kinds must be
// valid. The pair goes to the peripheral as a single call; the context is
// updated only if the peripheral accepts.
func (c *SessionContext) Submit(p Peripheral, snap Snapshot, k0, k1 *CounterKind) error {
	c.Init(snap)

	next0, next1 := c.kind0, c.kind1
	if k0 != nil {
		next0 = *k0
	}
	if k1 != nil {
		next1 = *k1
	}

	if !next0.Valid() || !next1.Valid() {
		return ErrInvalidKind
	}

	if err := p.SetCounterKinds(next0, next1); err != nil {
		return err
	}

	c.kind0 = next0
	c.kind1 = next1
	return nil
}
