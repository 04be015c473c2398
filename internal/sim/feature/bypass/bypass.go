package bypass

import "mapkit/internal/sim/space"

// Tokens are short-lived, read-once grants keyed by actor. Expiry is counted
// in ticks so server stalls or tick-rate changes shift it consistently with
// the rest of the engine.
type Tokens struct {
	expiry map[space.ActorID]uint64
}

func New() *Tokens {
	return &Tokens{expiry: map[space.ActorID]uint64{}}
}

// Grant sets expiry = now + window, replacing any earlier token.
func (t *Tokens) Grant(id space.ActorID, nowTick uint64, windowTicks int) {
	if windowTicks < 0 {
		windowTicks = 0
	}
	t.expiry[id] = nowTick + uint64(windowTicks)
}

// ConsumeIfActive removes the token unconditionally and reports whether it was
// still inside its window (now <= expiry).
func (t *Tokens) ConsumeIfActive(id space.ActorID, nowTick uint64) bool {
	until, ok := t.expiry[id]
	if !ok {
		return false
	}
	delete(t.expiry, id)
	return nowTick <= until
}

func (t *Tokens) Has(id space.ActorID) bool {
	_, ok := t.expiry[id]
	return ok
}

func (t *Tokens) Forget(id space.ActorID) { delete(t.expiry, id) }

func (t *Tokens) Len() int { return len(t.expiry) }
