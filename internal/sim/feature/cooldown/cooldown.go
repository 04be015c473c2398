package cooldown

import "mapkit/internal/sim/space"

// Tracker counts down per-actor cooldowns once per tick and remembers the last
// block position seen for each actor (movement debounce).
type Tracker struct {
	left map[space.ActorID]int
	last map[space.ActorID]space.Location
}

func New() *Tracker {
	return &Tracker{
		left: map[space.ActorID]int{},
		last: map[space.ActorID]space.Location{},
	}
}

// Tick decrements every tracked actor.
func (t *Tracker) Tick() {
	for id := range t.left {
		t.TickActor(id)
	}
}

// TickActor decrements one actor, floored at zero. Entries reaching zero are pruned.
func (t *Tracker) TickActor(id space.ActorID) {
	n, ok := t.left[id]
	if !ok {
		return
	}
	n--
	if n <= 0 {
		delete(t.left, id)
		return
	}
	t.left[id] = n
}

// Arm sets (or overwrites) the remaining ticks.
func (t *Tracker) Arm(id space.ActorID, ticks int) {
	if ticks <= 0 {
		delete(t.left, id)
		return
	}
	t.left[id] = ticks
}

func (t *Tracker) Active(id space.ActorID) bool { return t.left[id] > 0 }

func (t *Tracker) Remaining(id space.ActorID) int { return t.left[id] }

// Moved records loc as the actor's last position and reports whether it
// differs from the previous one. The first observation counts as a move.
func (t *Tracker) Moved(id space.ActorID, loc space.Location) bool {
	prev, ok := t.last[id]
	t.last[id] = loc
	return !ok || prev != loc
}

func (t *Tracker) Forget(id space.ActorID) {
	delete(t.left, id)
	delete(t.last, id)
}

// Len is the number of actors with an active cooldown.
func (t *Tracker) Len() int { return len(t.left) }
