package zones

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mapkit/internal/sim/space"
)

type TimeFilter string

const (
	TimeBoth  TimeFilter = "BOTH"
	TimeDay   TimeFilter = "DAY"
	TimeNight TimeFilter = "NIGHT"
)

func ParseTimeFilter(s string) (TimeFilter, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "BOTH":
		return TimeBoth, nil
	case "DAY":
		return TimeDay, nil
	case "NIGHT":
		return TimeNight, nil
	}
	return "", fmt.Errorf("unknown time filter %q", s)
}

// Matches reports whether an entry with this filter is eligible in the given phase.
func (f TimeFilter) Matches(isDay bool) bool {
	switch f {
	case TimeDay:
		return isDay
	case TimeNight:
		return !isDay
	default:
		return true
	}
}

type SpawnEntry struct {
	Species  string     `json:"species"`
	MinLevel int        `json:"minLevel"`
	MaxLevel int        `json:"maxLevel"`
	Weight   int        `json:"weight"`
	Time     TimeFilter `json:"time"`
	Aspect   string     `json:"aspect,omitempty"`
}

func (e SpawnEntry) Validate() error {
	if strings.TrimSpace(e.Species) == "" {
		return fmt.Errorf("species must not be empty")
	}
	if e.MinLevel <= 0 {
		return fmt.Errorf("species %s: minLevel must be > 0", e.Species)
	}
	if e.MaxLevel < e.MinLevel {
		return fmt.Errorf("species %s: maxLevel %d < minLevel %d", e.Species, e.MaxLevel, e.MinLevel)
	}
	if e.Weight <= 0 {
		return fmt.Errorf("species %s: weight must be > 0", e.Species)
	}
	switch e.Time {
	case TimeBoth, TimeDay, TimeNight:
	default:
		return fmt.Errorf("species %s: bad time filter %q", e.Species, e.Time)
	}
	return nil
}

// DisplaySpecies strips a "namespace:" prefix.
func (e SpawnEntry) DisplaySpecies() string {
	if i := strings.IndexByte(e.Species, ':'); i >= 0 && i+1 < len(e.Species) {
		return e.Species[i+1:]
	}
	return e.Species
}

// Zone is an immutable value. Mutating helpers return a new Zone.
type Zone struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	World     space.WorldKey `json:"worldKey"`
	MinX      int            `json:"minX"`
	MinY      int            `json:"minY"`
	MinZ      int            `json:"minZ"`
	MaxX      int            `json:"maxX"`
	MaxY      int            `json:"maxY"`
	MaxZ      int            `json:"maxZ"`
	CreatedMs int64          `json:"timeCreated"`
	ShinyOdds int            `json:"shinyOdds"`
	Spawns    []SpawnEntry   `json:"spawns"`
}

type Bounds struct {
	MinX, MinY, MinZ int
	MaxX, MaxY, MaxZ int
}

// SingleY is the degenerate vertical bound of a one-layer zone.
func SingleY(minX, minZ, maxX, maxZ, y int) Bounds {
	return Bounds{MinX: minX, MinY: y, MinZ: minZ, MaxX: maxX, MaxY: y, MaxZ: maxZ}
}

func (b Bounds) normalized() Bounds {
	if b.MinX > b.MaxX {
		b.MinX, b.MaxX = b.MaxX, b.MinX
	}
	if b.MinY > b.MaxY {
		b.MinY, b.MaxY = b.MaxY, b.MinY
	}
	if b.MinZ > b.MaxZ {
		b.MinZ, b.MaxZ = b.MaxZ, b.MinZ
	}
	return b
}

func New(id uuid.UUID, name string, world space.WorldKey, b Bounds, createdMs int64, shinyOdds int, spawns []SpawnEntry) Zone {
	b = b.normalized()
	return Zone{
		ID:        id,
		Name:      name,
		World:     world,
		MinX:      b.MinX,
		MinY:      b.MinY,
		MinZ:      b.MinZ,
		MaxX:      b.MaxX,
		MaxY:      b.MaxY,
		MaxZ:      b.MaxZ,
		CreatedMs: createdMs,
		ShinyOdds: shinyOdds,
		Spawns:    cloneSpawns(spawns),
	}
}

func (z Zone) Bounds() Bounds {
	return Bounds{MinX: z.MinX, MinY: z.MinY, MinZ: z.MinZ, MaxX: z.MaxX, MaxY: z.MaxY, MaxZ: z.MaxZ}
}

func (z Zone) Contains(l space.Location) bool {
	if l.World != z.World {
		return false
	}
	p := l.Pos
	return p.X >= z.MinX && p.X <= z.MaxX &&
		p.Z >= z.MinZ && p.Z <= z.MaxZ &&
		p.Y >= z.MinY && p.Y <= z.MaxY
}

func (z Zone) WithSpawns(spawns []SpawnEntry) Zone {
	out := z
	out.Spawns = cloneSpawns(spawns)
	return out
}

func (z Zone) WithSpawnAdded(e SpawnEntry) Zone {
	ns := make([]SpawnEntry, 0, len(z.Spawns)+1)
	ns = append(ns, z.Spawns...)
	ns = append(ns, e)
	return z.WithSpawns(ns)
}

// WithSpawnRemoved drops every entry whose species matches case-insensitively.
func (z Zone) WithSpawnRemoved(species string) (Zone, int) {
	ns := make([]SpawnEntry, 0, len(z.Spawns))
	removed := 0
	for _, e := range z.Spawns {
		if strings.EqualFold(e.Species, species) {
			removed++
			continue
		}
		ns = append(ns, e)
	}
	return z.WithSpawns(ns), removed
}

func (z Zone) clone() Zone {
	out := z
	out.Spawns = cloneSpawns(z.Spawns)
	return out
}

func cloneSpawns(in []SpawnEntry) []SpawnEntry {
	out := make([]SpawnEntry, len(in))
	copy(out, in)
	return out
}
