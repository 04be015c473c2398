package worlds

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"mapkit/internal/sim/space"
)

type Config struct {
	DefaultWorldID string      `yaml:"default_world_id"`
	Worlds         []WorldSpec `yaml:"worlds"`
	Pads           []PadSpec   `yaml:"pads,omitempty"`
}

type WorldSpec struct {
	ID          string    `yaml:"id"`
	HasSkyLight bool      `yaml:"has_sky_light"`
	DayTicks    int       `yaml:"day_ticks"`
	BottomY     int       `yaml:"bottom_y"`
	TopY        int       `yaml:"top_y"`
	Floor       FloorSpec `yaml:"floor"`
	Spawn       PointSpec `yaml:"spawn"`
}

// FloorSpec lays a flat square of blocks when the world is created.
type FloorSpec struct {
	Y      int    `yaml:"y"`
	Radius int    `yaml:"radius"`
	Kind   string `yaml:"kind"`
}

type PointSpec struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	Z int `yaml:"z"`
}

// PadSpec is a teleport block: stepping on it starts a transition to the target.
type PadSpec struct {
	ID      string `yaml:"id"`
	World   string `yaml:"world"`
	X       int    `yaml:"x"`
	Y       int    `yaml:"y"`
	Z       int    `yaml:"z"`
	ToWorld string `yaml:"to_world"`
	ToX     int    `yaml:"to_x"`
	ToY     int    `yaml:"to_y"`
	ToZ     int    `yaml:"to_z"`
}

func (p PadSpec) At() space.Location {
	return space.At(space.WorldKey(p.World), p.X, p.Y, p.Z)
}

func (p PadSpec) Target() space.Location {
	return space.At(space.WorldKey(p.ToWorld), p.ToX, p.ToY, p.ToZ)
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg = Config{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("worlds.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("worlds.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		DefaultWorldID: "minecraft:overworld",
		Worlds: []WorldSpec{
			{
				ID:          "minecraft:overworld",
				HasSkyLight: true,
				DayTicks:    24000,
				BottomY:     -64,
				TopY:        320,
				Floor:       FloorSpec{Y: 63, Radius: 32, Kind: "grass_block"},
				Spawn:       PointSpec{X: 0, Y: 64, Z: 0},
			},
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	for i := range c.Worlds {
		w := &c.Worlds[i]
		w.ID = strings.TrimSpace(w.ID)
		if w.DayTicks <= 0 {
			w.DayTicks = 24000
		}
		if w.TopY <= w.BottomY {
			w.BottomY, w.TopY = -64, 320
		}
		if w.Floor.Kind == "" && w.Floor.Radius > 0 {
			w.Floor.Kind = "stone"
		}
		if w.Spawn == (PointSpec{}) && w.Floor.Radius > 0 {
			w.Spawn = PointSpec{Y: w.Floor.Y + 1}
		}
	}
	if strings.TrimSpace(c.DefaultWorldID) == "" && len(c.Worlds) > 0 {
		c.DefaultWorldID = c.Worlds[0].ID
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if len(c.Worlds) == 0 {
		return fmt.Errorf("worlds must not be empty")
	}
	seen := map[string]WorldSpec{}
	for _, w := range c.Worlds {
		if w.ID == "" {
			return fmt.Errorf("world id must not be empty")
		}
		if _, dup := seen[w.ID]; dup {
			return fmt.Errorf("duplicate world id: %s", w.ID)
		}
		seen[w.ID] = w
		if w.Floor.Radius < 0 {
			return fmt.Errorf("world %s floor.radius must be >= 0", w.ID)
		}
		if w.Floor.Radius > 0 && (w.Floor.Y < w.BottomY || w.Floor.Y >= w.TopY) {
			return fmt.Errorf("world %s floor.y %d outside [%d,%d)", w.ID, w.Floor.Y, w.BottomY, w.TopY)
		}
	}
	if _, ok := seen[c.DefaultWorldID]; !ok {
		return fmt.Errorf("default_world_id %q not found in worlds", c.DefaultWorldID)
	}
	padIDs := map[string]bool{}
	for i, p := range c.Pads {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("pads[%d] missing id", i)
		}
		if padIDs[p.ID] {
			return fmt.Errorf("duplicate pad id: %s", p.ID)
		}
		padIDs[p.ID] = true
		from, ok := seen[p.World]
		if !ok {
			return fmt.Errorf("pads[%d] world %q not found", i, p.World)
		}
		to, ok := seen[p.ToWorld]
		if !ok {
			return fmt.Errorf("pads[%d] to_world %q not found", i, p.ToWorld)
		}
		if p.Y < from.BottomY || p.Y >= from.TopY {
			return fmt.Errorf("pads[%d] y %d outside world %s", i, p.Y, from.ID)
		}
		if p.ToY < to.BottomY || p.ToY >= to.TopY {
			return fmt.Errorf("pads[%d] to_y %d outside world %s", i, p.ToY, to.ID)
		}
	}
	return nil
}

func (c Config) World(id string) (WorldSpec, bool) {
	for _, w := range c.Worlds {
		if w.ID == id {
			return w, true
		}
	}
	return WorldSpec{}, false
}

// Manifest lists the configured worlds sorted by id.
func (c Config) Manifest() []string {
	out := make([]string, 0, len(c.Worlds))
	for _, w := range c.Worlds {
		out = append(out, w.ID)
	}
	sort.Strings(out)
	return out
}
