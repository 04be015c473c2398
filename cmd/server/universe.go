package main

import (
	"mapkit/internal/protocol"
	"mapkit/internal/sim/engine"
	"mapkit/internal/sim/feature/encounter"
	"mapkit/internal/sim/gridworld"
	"mapkit/internal/sim/host"
	"mapkit/internal/sim/space"
	"mapkit/internal/sim/worlds"
)

const padKind = "teleport_pad"

// buildUniverse creates one grid world per configured world, lays its floor
// and marks every pad cell.
func buildUniverse(cfg worlds.Config) (*gridworld.Universe, []engine.Pad) {
	u := gridworld.NewUniverse()
	for _, ws := range cfg.Worlds {
		w := gridworld.NewWorld(space.WorldKey(ws.ID), gridworld.Options{
			BottomY:     ws.BottomY,
			TopY:        ws.TopY,
			HasSkyLight: ws.HasSkyLight,
			DayTicks:    ws.DayTicks,
		})
		if f := ws.Floor; f.Radius > 0 {
			w.Fill(
				space.Vec3i{X: -f.Radius, Y: f.Y, Z: -f.Radius},
				space.Vec3i{X: f.Radius, Y: f.Y, Z: f.Radius},
				host.BlockState{Kind: f.Kind},
			)
		}
		u.AddWorld(w)
	}

	pads := make([]engine.Pad, 0, len(cfg.Pads))
	for _, p := range cfg.Pads {
		at := p.At()
		if w, ok := u.Grid(at.World); ok {
			w.SetBlock(at.Pos, host.BlockState{Kind: padKind})
		}
		pads = append(pads, engine.Pad{ID: p.ID, At: at, Target: p.Target()})
	}
	return u, pads
}

// encounterEnv spawns wilds in the grid universe.
func encounterEnv(wilds *gridworld.Wilds) encounter.Env {
	return encounter.Env{
		InEncounterFn: wilds.InBattle,
		StartEncounterFn: func(req encounter.Request) (string, bool) {
			return wilds.Spawn(req.Actor, req.Species, req.Level, req.Shiny, req.Aspect)
		},
		DespawnFn: func(_ space.ActorID, handle string) bool { return wilds.Despawn(handle) },
	}
}

func worldRefs(cfg worlds.Config) []protocol.WorldRef {
	out := make([]protocol.WorldRef, 0, len(cfg.Worlds))
	for _, id := range cfg.Manifest() {
		ws, _ := cfg.World(id)
		out = append(out, protocol.WorldRef{
			WorldID:     ws.ID,
			HasSkyLight: ws.HasSkyLight,
			BottomY:     ws.BottomY,
			TopY:        ws.TopY,
		})
	}
	return out
}
