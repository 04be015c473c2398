package gridworld

import (
	"math"
	"sync"

	"github.com/google/uuid"

	"mapkit/internal/sim/space"
)

// Wild is a creature spawned for an encounter.
type Wild struct {
	Handle  string         `json:"handle"`
	Species string         `json:"species"`
	Level   int            `json:"level"`
	Shiny   bool           `json:"shiny,omitempty"`
	Aspect  string         `json:"aspect,omitempty"`
	World   space.WorldKey `json:"world"`
	Pos     space.Vec3     `json:"pos"`
	Foe     space.ActorID  `json:"foe"`
}

// Wilds is a minimal encounter domain: it spawns wilds next to the actor and
// tracks one battle per actor.
type Wilds struct {
	u *Universe

	mu      sync.Mutex
	live    map[string]Wild
	battles map[space.ActorID]string
}

func NewWilds(u *Universe) *Wilds {
	return &Wilds{u: u, live: map[string]Wild{}, battles: map[space.ActorID]string{}}
}

// Spawn places a wild near the actor and opens a battle. It fails when the
// actor is offline or already battling.
func (ws *Wilds) Spawn(id space.ActorID, species string, level int, shiny bool, aspect string) (string, bool) {
	a, ok := ws.u.Player(id)
	if !ok || species == "" {
		return "", false
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if _, busy := ws.battles[id]; busy {
		return "", false
	}
	loc := a.Location()
	pos := a.Position()
	if w, ok := ws.u.Grid(loc.World); ok {
		pos = spawnBeside(w, pos)
	}
	wild := Wild{
		Handle:  uuid.NewString(),
		Species: species,
		Level:   level,
		Shiny:   shiny,
		Aspect:  aspect,
		World:   loc.World,
		Pos:     pos,
		Foe:     id,
	}
	ws.live[wild.Handle] = wild
	ws.battles[id] = wild.Handle
	return wild.Handle, true
}

// spawnBeside tries the four neighbours and two diagonals at the actor's
// height, falling back to +1 on X.
func spawnBeside(w *World, base space.Vec3) space.Vec3 {
	offsets := [][2]float64{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {-1, -1}}
	for _, o := range offsets {
		c := space.Vec3i{
			X: int(math.Floor(base.X + o[0])),
			Y: int(math.Floor(base.Y)),
			Z: int(math.Floor(base.Z + o[1])),
		}
		if w.IsAir(c) && w.IsAir(c.Up(1)) && !w.IsAir(c.Down(1)) {
			return space.Vec3{X: float64(c.X) + 0.5, Y: base.Y, Z: float64(c.Z) + 0.5}
		}
	}
	return space.Vec3{X: math.Floor(base.X) + 1.5, Y: base.Y, Z: math.Floor(base.Z) + 0.5}
}

func (ws *Wilds) InBattle(id space.ActorID) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	_, ok := ws.battles[id]
	return ok
}

// Despawn removes a live wild and closes its battle.
func (ws *Wilds) Despawn(handle string) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	wild, ok := ws.live[handle]
	if !ok {
		return false
	}
	delete(ws.live, handle)
	if ws.battles[wild.Foe] == handle {
		delete(ws.battles, wild.Foe)
	}
	return true
}

// EndBattle closes the actor's battle and leaves the wild in the world.
func (ws *Wilds) EndBattle(id space.ActorID) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	delete(ws.battles, id)
}

func (ws *Wilds) Get(handle string) (Wild, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	w, ok := ws.live[handle]
	return w, ok
}

func (ws *Wilds) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.live)
}
