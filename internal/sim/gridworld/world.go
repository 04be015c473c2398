// Package gridworld is an in-memory host: sparse cell maps per world plus a
// roster of actors. It backs the standalone server and the engine tests.
package gridworld

import (
	"sort"
	"sync"

	"mapkit/internal/sim/host"
	"mapkit/internal/sim/space"
)

type Options struct {
	BottomY     int
	TopY        int
	HasSkyLight bool
	DayTicks    int
	// Passable lists block kinds actors can walk through besides air.
	Passable []string
}

func (o *Options) applyDefaults() {
	if o.TopY <= o.BottomY {
		o.BottomY, o.TopY = -64, 320
	}
	if o.DayTicks <= 0 {
		o.DayTicks = 24000
	}
	if o.Passable == nil {
		o.Passable = []string{"short_grass", "tall_grass", "fern", "flower", "water"}
	}
}

type World struct {
	key  space.WorldKey
	opts Options

	passable map[string]struct{}

	mu    sync.RWMutex
	cells map[space.Vec3i]host.BlockState
	clock uint64
}

func NewWorld(key space.WorldKey, opts Options) *World {
	opts.applyDefaults()
	p := make(map[string]struct{}, len(opts.Passable))
	for _, k := range opts.Passable {
		p[k] = struct{}{}
	}
	return &World{
		key:      key,
		opts:     opts,
		passable: p,
		cells:    map[space.Vec3i]host.BlockState{},
	}
}

func (w *World) Key() space.WorldKey { return w.key }
func (w *World) BottomY() int        { return w.opts.BottomY }
func (w *World) TopY() int           { return w.opts.TopY }
func (w *World) HasSkyLight() bool   { return w.opts.HasSkyLight }

func (w *World) Block(p space.Vec3i) host.BlockState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if s, ok := w.cells[p]; ok {
		return s
	}
	return host.Air
}

func (w *World) SetBlock(p space.Vec3i, s host.BlockState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s.IsAir() {
		delete(w.cells, p)
		return
	}
	w.cells[p] = s
}

// Fill sets every cell in the inclusive box.
func (w *World) Fill(from, to space.Vec3i, s host.BlockState) {
	if from.X > to.X {
		from.X, to.X = to.X, from.X
	}
	if from.Y > to.Y {
		from.Y, to.Y = to.Y, from.Y
	}
	if from.Z > to.Z {
		from.Z, to.Z = to.Z, from.Z
	}
	for y := from.Y; y <= to.Y; y++ {
		for x := from.X; x <= to.X; x++ {
			for z := from.Z; z <= to.Z; z++ {
				w.SetBlock(space.Vec3i{X: x, Y: y, Z: z}, s)
			}
		}
	}
}

func (w *World) IsAir(p space.Vec3i) bool { return w.Block(p).IsAir() }

func (w *World) solid(s host.BlockState) bool {
	if s.IsAir() {
		return false
	}
	_, soft := w.passable[s.Kind]
	return !soft
}

func (w *World) SupportsStanding(p space.Vec3i) bool { return w.solid(w.Block(p)) }

func (w *World) SurfaceY(x, z int) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	top := w.opts.BottomY - 1
	for p, s := range w.cells {
		if p.X != x || p.Z != z || !w.solid(s) {
			continue
		}
		if p.Y > top {
			top = p.Y
		}
	}
	return top + 1
}

func (w *World) Time() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.clock
}

func (w *World) SetTime(t uint64) {
	w.mu.Lock()
	w.clock = t
	w.mu.Unlock()
}

func (w *World) TimeOfDay() float64 {
	day := uint64(w.opts.DayTicks)
	return float64(w.Time()%day) / float64(day)
}

func (w *World) advance() {
	w.mu.Lock()
	w.clock++
	w.mu.Unlock()
}

// CountKind counts cells of the given kind inside the inclusive box.
func (w *World) CountKind(from, to space.Vec3i, kind string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := 0
	for p, s := range w.cells {
		if s.Kind != kind {
			continue
		}
		if p.X < from.X || p.X > to.X || p.Y < from.Y || p.Y > to.Y || p.Z < from.Z || p.Z > to.Z {
			continue
		}
		n++
	}
	return n
}

// Universe holds loaded worlds and connected actors.
type Universe struct {
	mu     sync.RWMutex
	worlds map[space.WorldKey]*World
	actors map[space.ActorID]*Actor
}

func NewUniverse() *Universe {
	return &Universe{
		worlds: map[space.WorldKey]*World{},
		actors: map[space.ActorID]*Actor{},
	}
}

func (u *Universe) AddWorld(w *World) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.worlds[w.Key()] = w
}

// Unload removes a world; resolvers report it missing afterwards.
func (u *Universe) Unload(k space.WorldKey) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.worlds, k)
}

func (u *Universe) Grid(k space.WorldKey) (*World, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	w, ok := u.worlds[k]
	return w, ok
}

func (u *Universe) World(k space.WorldKey) (host.World, bool) {
	w, ok := u.Grid(k)
	if !ok {
		return nil, false
	}
	return w, true
}

// Advance moves every world clock forward one tick.
func (u *Universe) Advance() {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, w := range u.worlds {
		w.advance()
	}
}

func (u *Universe) AddActor(a *Actor) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.actors[a.id] = a
}

func (u *Universe) RemoveActor(id space.ActorID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.actors, id)
}

func (u *Universe) Player(id space.ActorID) (*Actor, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	a, ok := u.actors[id]
	return a, ok
}

func (u *Universe) Actor(id space.ActorID) (host.Actor, bool) {
	a, ok := u.Player(id)
	if !ok {
		return nil, false
	}
	return a, true
}

func (u *Universe) Online() []space.ActorID {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]space.ActorID, 0, len(u.actors))
	for id := range u.actors {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
