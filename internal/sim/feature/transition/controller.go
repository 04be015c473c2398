// Package transition drives an actor through lift, rotate and teleport phases.
package transition

import (
	"log"
	"math"
	"sort"

	"mapkit/internal/sim/host"
	"mapkit/internal/sim/space"
)

const (
	DefaultAnimTicks            = 20
	DefaultLiftVelocity         = 0.004
	DefaultTotalRotationDeg     = 160.0
	DefaultArrivalSuppressTicks = 6
	DefaultLandingHeadroom      = 6
)

type Config struct {
	AnimTicks            int
	LiftVelocity         float64
	TotalRotationDeg     float64
	ArrivalSuppressTicks int
	// LandingHeadroom is how far above the column surface the landing search goes.
	LandingHeadroom int

	BeginSound      string
	LiftParticle    string
	ArrivalParticle string
}

func (c *Config) applyDefaults() {
	if c.AnimTicks <= 0 {
		c.AnimTicks = DefaultAnimTicks
	}
	if c.LiftVelocity <= 0 {
		c.LiftVelocity = DefaultLiftVelocity
	}
	if c.TotalRotationDeg <= 0 {
		c.TotalRotationDeg = DefaultTotalRotationDeg
	}
	if c.ArrivalSuppressTicks <= 0 {
		c.ArrivalSuppressTicks = DefaultArrivalSuppressTicks
	}
	if c.LandingHeadroom <= 0 {
		c.LandingHeadroom = DefaultLandingHeadroom
	}
	if c.BeginSound == "" {
		c.BeginSound = "teleport_block"
	}
	if c.LiftParticle == "" {
		c.LiftParticle = "portal"
	}
	if c.ArrivalParticle == "" {
		c.ArrivalParticle = "reverse_portal"
	}
}

type Pending struct {
	Target    space.Location
	StartTick uint64
}

type ArrivalKind string

const (
	Teleported ArrivalKind = "TELEPORTED"
	// Aborted means the target world could not be resolved or the step panicked.
	Aborted ArrivalKind = "ABORTED"
)

type Arrival struct {
	Kind       ArrivalKind
	Actor      space.ActorID
	From       space.Location
	Target     space.Location
	Landing    space.Vec3
	Elapsed    int
	Obstructed bool
}

// Controller owns per-actor transitions. Like the ledger it belongs to the
// tick goroutine.
type Controller struct {
	cfg   Config
	log   *log.Logger
	sink  host.Sink
	now   uint64
	queue map[space.ActorID]*Pending

	lastArrival map[space.ActorID]uint64
	// actor -> the cell it arrived on; steps there are ignored until it leaves.
	binding map[space.ActorID]space.Location
}

func New(cfg Config, sink host.Sink, logger *log.Logger) *Controller {
	cfg.applyDefaults()
	if sink == nil {
		sink = host.NopSink{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		cfg:         cfg,
		log:         logger,
		sink:        sink,
		queue:       map[space.ActorID]*Pending{},
		lastArrival: map[space.ActorID]uint64{},
		binding:     map[space.ActorID]space.Location{},
	}
}

func (c *Controller) Now() uint64 { return c.now }

// Queue starts a transition. A second request while one is pending is ignored.
func (c *Controller) Queue(a host.Actor, target space.Location) bool {
	if a == nil {
		return false
	}
	id := a.ID()
	if _, ok := c.queue[id]; ok {
		return false
	}
	v := a.Velocity()
	v.Y = 0
	a.SetVelocity(v)

	c.queue[id] = &Pending{Target: target, StartTick: c.now}

	loc := a.Location()
	c.sink.Cue(host.Cue{Kind: host.CueSound, Actor: id, World: loc.World, Pos: a.Position(), Name: c.cfg.BeginSound, Count: 1})
	c.sink.Cue(host.Cue{Kind: host.CueRotate, Actor: id, World: loc.World, RotationDeg: c.cfg.TotalRotationDeg, DurationTicks: c.cfg.AnimTicks})
	return true
}

func (c *Controller) IsPending(id space.ActorID) bool {
	_, ok := c.queue[id]
	return ok
}

// Rotation is the eased rotation at the given elapsed tick, in [0, TotalRotationDeg].
func (c *Controller) Rotation(elapsed int) float64 {
	t := float64(elapsed) / float64(c.cfg.AnimTicks)
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return c.cfg.TotalRotationDeg
	}
	return c.cfg.TotalRotationDeg * (1 - math.Cos(math.Pi*t)) / 2
}

// ShouldIgnoreStep reports whether a step on pos must not start another
// transition: the actor arrived within the suppression window, or it still
// stands on the cell it arrived on.
func (c *Controller) ShouldIgnoreStep(id space.ActorID, w space.WorldKey, pos space.Vec3i) bool {
	if last, ok := c.lastArrival[id]; ok && c.now-last < uint64(c.cfg.ArrivalSuppressTicks) {
		return true
	}
	b, ok := c.binding[id]
	return ok && b.World == w && b.Pos == pos
}

// Tick advances every pending transition and then releases arrival bindings
// for actors that stepped off their landing cell.
func (c *Controller) Tick(actors host.Actors, worlds host.Resolver) []Arrival {
	var out []Arrival
	if len(c.queue) > 0 {
		ids := make([]space.ActorID, 0, len(c.queue))
		for id := range c.queue {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			a, ok := actors.Actor(id)
			if !ok || a == nil {
				delete(c.queue, id)
				continue
			}
			if arr, done := c.stepSafe(a, worlds, c.queue[id]); done {
				delete(c.queue, id)
				out = append(out, arr)
			}
		}
	}
	c.releaseBindings(actors)
	c.pruneArrivals()
	c.now++
	return out
}

func (c *Controller) stepSafe(a host.Actor, worlds host.Resolver, p *Pending) (arr Arrival, done bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Printf("warn: transition for %s panicked: %v", a.ID(), r)
			arr = Arrival{Kind: Aborted, Actor: a.ID(), Target: p.Target}
			done = true
		}
	}()
	return c.step(a, worlds, p)
}

func (c *Controller) step(a host.Actor, worlds host.Resolver, p *Pending) (Arrival, bool) {
	elapsed := int(c.now - p.StartTick)
	from := a.Location()

	obstructed := false
	if w, ok := worlds.World(from.World); ok && w != nil {
		obstructed = !w.IsAir(from.Pos.Up(1))
	}
	if !obstructed && elapsed < c.cfg.AnimTicks {
		c.lift(a, from.World, elapsed)
		return Arrival{}, false
	}
	arr := c.teleport(a, worlds, p.Target)
	arr.From = from
	arr.Elapsed = elapsed
	arr.Obstructed = obstructed
	return arr, true
}

func (c *Controller) lift(a host.Actor, w space.WorldKey, elapsed int) {
	v := a.Velocity()
	v.Y = c.cfg.LiftVelocity
	a.SetVelocity(v)
	a.ResetFallDistance()

	pos := a.Position()
	pos.Y += 0.5
	c.sink.Cue(host.Cue{
		Kind:        host.CueParticle,
		Actor:       a.ID(),
		World:       w,
		Pos:         pos,
		Name:        c.cfg.LiftParticle,
		Count:       8,
		Spread:      0.15,
		RotationDeg: c.Rotation(elapsed + 1),
	})
}

func (c *Controller) teleport(a host.Actor, worlds host.Resolver, target space.Location) Arrival {
	id := a.ID()
	w, ok := worlds.World(target.World)
	if !ok || w == nil {
		c.log.Printf("warn: world %s not available; cancelling transition for %s", target.World, id)
		return Arrival{Kind: Aborted, Actor: id, Target: target}
	}
	feet := SafeLanding(w, target.Pos, c.cfg.LandingHeadroom)
	landing := feet.Center()

	a.SetVelocity(space.Vec3{})
	a.Teleport(target.World, landing)

	c.lastArrival[id] = c.now
	c.binding[id] = target

	pos := landing
	pos.Y += 0.5
	c.sink.Cue(host.Cue{Kind: host.CueParticle, Actor: id, World: target.World, Pos: pos, Name: c.cfg.ArrivalParticle, Count: 25, Spread: 0.4})
	return Arrival{Kind: Teleported, Actor: id, Target: target, Landing: landing}
}

// SafeLanding searches upward from base+1 for two clear cells over a cell that
// supports standing, up to headroom cells above the column surface. It falls
// back to base+1.
func SafeLanding(w host.World, base space.Vec3i, headroom int) space.Vec3i {
	startY := base.Y + 1
	if floor := w.BottomY() + 1; startY < floor {
		startY = floor
	}
	maxY := w.SurfaceY(base.X, base.Z) + headroom
	if top := w.TopY(); maxY > top {
		maxY = top
	}
	for y := startY; y <= maxY; y++ {
		feet := space.Vec3i{X: base.X, Y: y, Z: base.Z}
		if w.IsAir(feet) && w.IsAir(feet.Up(1)) && w.SupportsStanding(feet.Down(1)) {
			return feet
		}
	}
	return base.Up(1)
}

func (c *Controller) releaseBindings(actors host.Actors) {
	for id, b := range c.binding {
		a, ok := actors.Actor(id)
		if !ok || a == nil {
			delete(c.binding, id)
			continue
		}
		loc := a.Location()
		if loc.World != b.World || loc.Pos.Down(1) != b.Pos {
			delete(c.binding, id)
		}
	}
}

func (c *Controller) pruneArrivals() {
	for id, last := range c.lastArrival {
		if c.now-last >= uint64(c.cfg.ArrivalSuppressTicks) {
			delete(c.lastArrival, id)
		}
	}
}

// Forget drops every trace of the actor.
func (c *Controller) Forget(id space.ActorID) {
	delete(c.queue, id)
	delete(c.lastArrival, id)
	delete(c.binding, id)
}

func (c *Controller) Len() int         { return len(c.queue) }
func (c *Controller) BindingLen() int  { return len(c.binding) }
func (c *Controller) ArrivalsLen() int { return len(c.lastArrival) }
