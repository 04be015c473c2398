package zones

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"mapkit/internal/sim/space"
)

// Index is a linear-scan zone lookup. Zones are kept in insertion order, so
// FindAt returns overlapping zones oldest-first and callers that need a single
// zone take the first result.
type Index struct {
	mu    sync.RWMutex
	order []uuid.UUID
	byID  map[uuid.UUID]Zone
}

func NewIndex() *Index {
	return &Index{byID: map[uuid.UUID]Zone{}}
}

// Replace swaps the whole content (used after a store load).
func (x *Index) Replace(zs []Zone) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.order = x.order[:0]
	x.byID = make(map[uuid.UUID]Zone, len(zs))
	for _, z := range zs {
		if _, dup := x.byID[z.ID]; !dup {
			x.order = append(x.order, z.ID)
		}
		x.byID[z.ID] = z.clone()
	}
}

// Put inserts or replaces a zone. Replacement keeps the original position.
func (x *Index) Put(z Zone) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.byID[z.ID]; !ok {
		x.order = append(x.order, z.ID)
	}
	x.byID[z.ID] = z.clone()
}

func (x *Index) Remove(id uuid.UUID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.byID[id]; !ok {
		return false
	}
	delete(x.byID, id)
	for i, cur := range x.order {
		if cur == id {
			x.order = append(x.order[:i], x.order[i+1:]...)
			break
		}
	}
	return true
}

func (x *Index) Get(id uuid.UUID) (Zone, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	z, ok := x.byID[id]
	if !ok {
		return Zone{}, false
	}
	return z.clone(), true
}

func (x *Index) All() []Zone {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Zone, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.byID[id].clone())
	}
	return out
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.order)
}

// FindAt returns every zone containing the point, oldest-first.
func (x *Index) FindAt(w space.WorldKey, px, py, pz int) []Zone {
	l := space.At(w, px, py, pz)
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []Zone
	for _, id := range x.order {
		z := x.byID[id]
		if z.Contains(l) {
			out = append(out, z.clone())
		}
	}
	return out
}

// FindUnder looks at the actor's cell first and then the cell below it,
// so a zone is found whether it was placed at foot or ground level.
func (x *Index) FindUnder(l space.Location) (Zone, bool) {
	zs := x.FindAt(l.World, l.Pos.X, l.Pos.Y, l.Pos.Z)
	if len(zs) == 0 {
		zs = x.FindAt(l.World, l.Pos.X, l.Pos.Y-1, l.Pos.Z)
	}
	if len(zs) == 0 {
		return Zone{}, false
	}
	return zs[0], true
}

// FindByName matches case-insensitively: an exact name wins, otherwise the
// first zone whose name has the given prefix.
func (x *Index) FindByName(name string) (Zone, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Zone{}, false
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	var (
		prefix Zone
		found  bool
	)
	for _, id := range x.order {
		z := x.byID[id]
		lname := strings.ToLower(z.Name)
		if lname == needle {
			return z.clone(), true
		}
		if !found && strings.HasPrefix(lname, needle) {
			prefix = z
			found = true
		}
	}
	if !found {
		return Zone{}, false
	}
	return prefix.clone(), true
}
