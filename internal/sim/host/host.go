// Package host declares what the engine needs from the game host: worlds,
// cells, actors and a fire-and-forget presentation sink. The engine never
// reaches past these interfaces.
package host

import "mapkit/internal/sim/space"

// BlockState is the material at a cell. Kind identifies the block type; Variant
// carries any state properties the host cares about (facing, half, ...).
type BlockState struct {
	Kind    string `json:"kind"`
	Variant string `json:"variant,omitempty"`
}

const KindAir = "air"

var Air = BlockState{Kind: KindAir}

func (s BlockState) IsAir() bool { return s.Kind == "" || s.Kind == KindAir }

// SameKind compares block types, ignoring variant properties.
func (s BlockState) SameKind(o BlockState) bool { return s.Kind == o.Kind }

type World interface {
	Key() space.WorldKey

	Block(p space.Vec3i) BlockState
	SetBlock(p space.Vec3i, s BlockState)

	// IsAir reports whether an actor can occupy the cell.
	IsAir(p space.Vec3i) bool
	// SupportsStanding reports whether the cell is an opaque full cube or has a
	// solid top face.
	SupportsStanding(p space.Vec3i) bool

	BottomY() int
	TopY() int
	// SurfaceY is the first y above the highest motion-blocking cell in the column.
	SurfaceY(x, z int) int

	HasSkyLight() bool
	// TimeOfDay is the normalized position in the day cycle, in [0,1). Values
	// below 0.5 are day.
	TimeOfDay() float64
	// Time is the world clock in ticks.
	Time() uint64
}

type Resolver interface {
	// World returns nil, false for unknown or unloaded worlds.
	World(k space.WorldKey) (World, bool)
}

type Actor interface {
	ID() space.ActorID
	// Location is the actor's block position (feet) and world.
	Location() space.Location
	Position() space.Vec3
	Velocity() space.Vec3
	SetVelocity(v space.Vec3)
	ResetFallDistance()
	Teleport(w space.WorldKey, pos space.Vec3)

	Spectator() bool
	OnGround() bool
	Mounted() bool
}

type Actors interface {
	Actor(id space.ActorID) (Actor, bool)
	// Online returns connected actor ids in a stable order.
	Online() []space.ActorID
}

// Transient is a short-lived entity (e.g. a falling block) tied to a ledger entry.
type Transient interface {
	Alive() bool
	Discard()
}

type CueKind string

const (
	CueSound    CueKind = "SOUND"
	CueParticle CueKind = "PARTICLE"
	CueRotate   CueKind = "ROTATE"
)

// Cue is a presentation hint. Cues never feed back into state transitions.
type Cue struct {
	Kind  CueKind        `json:"kind"`
	Actor space.ActorID  `json:"actor,omitempty"`
	World space.WorldKey `json:"world,omitempty"`
	Pos   space.Vec3     `json:"pos"`

	Name          string  `json:"name,omitempty"`
	Count         int     `json:"count,omitempty"`
	Spread        float64 `json:"spread,omitempty"`
	RotationDeg   float64 `json:"rotation_deg,omitempty"`
	DurationTicks int     `json:"duration_ticks,omitempty"`
}

type Sink interface {
	Cue(c Cue)
}

type NopSink struct{}

func (NopSink) Cue(Cue) {}
