package gridworld

import (
	"math"
	"sync"

	"mapkit/internal/sim/space"
)

type Actor struct {
	id space.ActorID

	mu        sync.Mutex
	world     space.WorldKey
	pos       space.Vec3
	vel       space.Vec3
	fall      float64
	spectator bool
	onGround  bool
	mounted   bool
	teleports int
}

func NewActor(id space.ActorID, w space.WorldKey, pos space.Vec3) *Actor {
	return &Actor{id: id, world: w, pos: pos, onGround: true}
}

func (a *Actor) ID() space.ActorID { return a.id }

func (a *Actor) Location() space.Location {
	a.mu.Lock()
	defer a.mu.Unlock()
	return space.Location{World: a.world, Pos: space.Vec3i{
		X: int(math.Floor(a.pos.X)),
		Y: int(math.Floor(a.pos.Y)),
		Z: int(math.Floor(a.pos.Z)),
	}}
}

func (a *Actor) Position() space.Vec3 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos
}

func (a *Actor) Velocity() space.Vec3 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.vel
}

func (a *Actor) SetVelocity(v space.Vec3) {
	a.mu.Lock()
	a.vel = v
	a.mu.Unlock()
}

func (a *Actor) ResetFallDistance() {
	a.mu.Lock()
	a.fall = 0
	a.mu.Unlock()
}

func (a *Actor) Teleport(w space.WorldKey, pos space.Vec3) {
	a.mu.Lock()
	a.world = w
	a.pos = pos
	a.teleports++
	a.mu.Unlock()
}

// MoveTo places the actor without counting a teleport.
func (a *Actor) MoveTo(w space.WorldKey, pos space.Vec3) {
	a.mu.Lock()
	a.world = w
	a.pos = pos
	a.mu.Unlock()
}

func (a *Actor) Teleports() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.teleports
}

func (a *Actor) Spectator() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spectator
}

func (a *Actor) OnGround() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.onGround
}

func (a *Actor) Mounted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mounted
}

func (a *Actor) SetSpectator(v bool) { a.mu.Lock(); a.spectator = v; a.mu.Unlock() }
func (a *Actor) SetOnGround(v bool)  { a.mu.Lock(); a.onGround = v; a.mu.Unlock() }
func (a *Actor) SetMounted(v bool)   { a.mu.Lock(); a.mounted = v; a.mu.Unlock() }

// FallingBlock is a transient entity attached to a reversion entry.
type FallingBlock struct {
	mu        sync.Mutex
	alive     bool
	discarded bool
}

func NewFallingBlock() *FallingBlock { return &FallingBlock{alive: true} }

func (f *FallingBlock) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *FallingBlock) Discard() {
	f.mu.Lock()
	f.alive = false
	f.discarded = true
	f.mu.Unlock()
}

// Land marks the entity as settled without a discard.
func (f *FallingBlock) Land() {
	f.mu.Lock()
	f.alive = false
	f.mu.Unlock()
}

func (f *FallingBlock) Discarded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discarded
}
