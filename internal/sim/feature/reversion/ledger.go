package reversion

import (
	"log"
	"sort"

	"mapkit/internal/sim/host"
	"mapkit/internal/sim/space"
)

const (
	DefaultTicksPerSecond = 20
	DefaultScanDepth      = 64
)

type Config struct {
	TicksPerSecond int
	// ScanDepth bounds the downward search for a moved object that settled
	// below its last recorded cell.
	ScanDepth int
}

func (c *Config) applyDefaults() {
	if c.TicksPerSecond <= 0 {
		c.TicksPerSecond = DefaultTicksPerSecond
	}
	if c.ScanDepth <= 0 {
		c.ScanDepth = DefaultScanDepth
	}
}

// Pending is one scheduled restoration. At most one exists per original location.
type Pending struct {
	Original  space.Location
	Snapshot  host.BlockState
	MovedTo   space.Location
	TicksLeft int
	Transient host.Transient
}

func (p Pending) Moved() bool { return p.MovedTo != p.Original }

type OutcomeKind string

const (
	Restored OutcomeKind = "RESTORED"
	Dropped  OutcomeKind = "DROPPED"
	Failed   OutcomeKind = "FAILED"
)

type Outcome struct {
	Kind     OutcomeKind
	Original space.Location
	Snapshot host.BlockState
	MovedTo  space.Location
	// Cleared is where the moved object was removed, if it was found.
	Cleared    space.Location
	HasCleared bool
}

// Ledger restores world cells to a snapshot after a tick-counted delay. It is
// owned by the tick goroutine; no method is safe for concurrent use.
type Ledger struct {
	cfg Config
	log *log.Logger

	pending map[space.Location]*Pending
	// current cell -> original cell, for objects that moved before restoration.
	alias map[space.Location]space.Location
}

func New(cfg Config, logger *log.Logger) *Ledger {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Ledger{
		cfg:     cfg,
		log:     logger,
		pending: map[space.Location]*Pending{},
		alias:   map[space.Location]space.Location{},
	}
}

func (l *Ledger) ticksFor(seconds int) int {
	if seconds < 0 {
		seconds = 0
	}
	return seconds * l.cfg.TicksPerSecond
}

func (l *Ledger) IsBusy(w space.WorldKey, original space.Vec3i) bool {
	_, ok := l.pending[space.Location{World: w, Pos: original}]
	return ok
}

func (l *Ledger) Get(w space.WorldKey, original space.Vec3i) (Pending, bool) {
	p, ok := l.pending[space.Location{World: w, Pos: original}]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// AddTimed schedules a restoration in place, replacing any pending one for
// the same cell.
func (l *Ledger) AddTimed(w space.WorldKey, original space.Vec3i, snapshot host.BlockState, delaySeconds int) {
	key := space.Location{World: w, Pos: original}
	if prev, ok := l.pending[key]; ok && prev.Moved() {
		l.dropAlias(prev.MovedTo, key)
	}
	l.pending[key] = &Pending{
		Original:  key,
		Snapshot:  snapshot,
		MovedTo:   key,
		TicksLeft: l.ticksFor(delaySeconds),
	}
}

// RegisterMove records that the object from original now sits at movedTo and
// re-arms the timer. An existing entry keeps its snapshot; only its target
// and countdown change.
func (l *Ledger) RegisterMove(w space.WorldKey, original, movedTo space.Vec3i, snapshot host.BlockState, delaySeconds int) {
	key := space.Location{World: w, Pos: original}
	dest := space.Location{World: w, Pos: movedTo}

	if p, ok := l.pending[key]; ok {
		if p.Moved() && p.MovedTo != dest {
			l.dropAlias(p.MovedTo, key)
		}
		p.MovedTo = dest
		p.TicksLeft = l.ticksFor(delaySeconds)
	} else {
		l.pending[key] = &Pending{
			Original:  key,
			Snapshot:  snapshot,
			MovedTo:   dest,
			TicksLeft: l.ticksFor(delaySeconds),
		}
	}
	l.alias[dest] = key
}

// AttachTransient ties a short-lived entity to a pending entry; it is
// discarded before the restoration is applied.
func (l *Ledger) AttachTransient(w space.WorldKey, original space.Vec3i, t host.Transient) bool {
	p, ok := l.pending[space.Location{World: w, Pos: original}]
	if !ok {
		return false
	}
	p.Transient = t
	return true
}

// ResolveOriginal maps a clicked cell back to the original cell of a moved
// object; cells with no alias map to themselves.
func (l *Ledger) ResolveOriginal(w space.WorldKey, clicked space.Vec3i) space.Vec3i {
	if orig, ok := l.alias[space.Location{World: w, Pos: clicked}]; ok {
		return orig.Pos
	}
	return clicked
}

func (l *Ledger) ForgetAlias(w space.WorldKey, current space.Vec3i) {
	delete(l.alias, space.Location{World: w, Pos: current})
}

func (l *Ledger) Len() int      { return len(l.pending) }
func (l *Ledger) AliasLen() int { return len(l.alias) }

// Clear drops every entry without touching the world.
func (l *Ledger) Clear() {
	l.pending = map[space.Location]*Pending{}
	l.alias = map[space.Location]space.Location{}
}

// dropAlias removes cur's alias only if it still points at original.
func (l *Ledger) dropAlias(cur, original space.Location) {
	if got, ok := l.alias[cur]; ok && got == original {
		delete(l.alias, cur)
	}
}

// Tick advances every entry by one tick and fires the ones that reach zero.
// Entries are visited in a stable order.
func (l *Ledger) Tick(worlds host.Resolver) []Outcome {
	if len(l.pending) == 0 {
		return nil
	}
	keys := make([]space.Location, 0, len(l.pending))
	for k := range l.pending {
		keys = append(keys, k)
	}
	sortLocations(keys)

	var out []Outcome
	for _, k := range keys {
		p := l.pending[k]
		p.TicksLeft--
		if p.TicksLeft > 0 {
			continue
		}
		out = append(out, l.fireSafe(worlds, p))
		delete(l.pending, k)
	}
	return out
}

func (l *Ledger) fireSafe(worlds host.Resolver, p *Pending) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Printf("warn: reversion at %s panicked: %v", p.Original, r)
			l.dropAlias(p.MovedTo, p.Original)
			delete(l.alias, p.Original)
			o = Outcome{Kind: Failed, Original: p.Original, Snapshot: p.Snapshot, MovedTo: p.MovedTo}
		}
	}()
	return l.fire(worlds, p)
}

func (l *Ledger) fire(worlds host.Resolver, p *Pending) Outcome {
	o := Outcome{Original: p.Original, Snapshot: p.Snapshot, MovedTo: p.MovedTo}

	var (
		w  host.World
		ok bool
	)
	if worlds != nil {
		w, ok = worlds.World(p.Original.World)
	}
	if !ok || w == nil {
		// Unloaded world: drop so the entry cannot linger.
		l.log.Printf("warn: world %s not available; dropping reversion at %s", p.Original.World, p.Original.Pos)
		l.dropAlias(p.MovedTo, p.Original)
		delete(l.alias, p.Original)
		o.Kind = Dropped
		return o
	}

	if p.Transient != nil && p.Transient.Alive() {
		p.Transient.Discard()
	}

	if p.Moved() {
		moved := p.MovedTo.Pos
		if w.Block(moved).SameKind(p.Snapshot) {
			w.SetBlock(moved, host.Air)
			o.Cleared, o.HasCleared = p.MovedTo, true
		} else {
			scan := moved.Down(1)
			for steps := 0; scan.Y >= w.BottomY() && steps < l.cfg.ScanDepth; steps++ {
				if w.Block(scan).SameKind(p.Snapshot) {
					w.SetBlock(scan, host.Air)
					cleared := space.Location{World: p.Original.World, Pos: scan}
					l.dropAlias(cleared, p.Original)
					o.Cleared, o.HasCleared = cleared, true
					break
				}
				scan = scan.Down(1)
			}
		}
		l.dropAlias(p.MovedTo, p.Original)
	}

	w.SetBlock(p.Original.Pos, p.Snapshot)
	delete(l.alias, p.Original)
	o.Kind = Restored
	return o
}

func sortLocations(ls []space.Location) {
	sort.Slice(ls, func(i, j int) bool {
		a, b := ls[i], ls[j]
		if a.World != b.World {
			return a.World < b.World
		}
		if a.Pos.X != b.Pos.X {
			return a.Pos.X < b.Pos.X
		}
		if a.Pos.Y != b.Pos.Y {
			return a.Pos.Y < b.Pos.Y
		}
		return a.Pos.Z < b.Pos.Z
	})
}
