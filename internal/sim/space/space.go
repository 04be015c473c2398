package space

import "fmt"

// WorldKey names a world/dimension (e.g. "minecraft:overworld").
type WorldKey string

type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3i) Add(dx, dy, dz int) Vec3i { return Vec3i{X: v.X + dx, Y: v.Y + dy, Z: v.Z + dz} }
func (v Vec3i) Up(n int) Vec3i           { return Vec3i{X: v.X, Y: v.Y + n, Z: v.Z} }
func (v Vec3i) Down(n int) Vec3i         { return Vec3i{X: v.X, Y: v.Y - n, Z: v.Z} }
func (v Vec3i) ToArray() [3]int          { return [3]int{v.X, v.Y, v.Z} }

func (v Vec3i) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

// Location is a compound map key; compare by value, never by pointer.
type Location struct {
	World WorldKey `json:"world"`
	Pos   Vec3i    `json:"pos"`
}

func At(w WorldKey, x, y, z int) Location {
	return Location{World: w, Pos: Vec3i{X: x, Y: y, Z: z}}
}

func (l Location) Up(n int) Location   { return Location{World: l.World, Pos: l.Pos.Up(n)} }
func (l Location) Down(n int) Location { return Location{World: l.World, Pos: l.Pos.Down(n)} }

func (l Location) String() string { return fmt.Sprintf("%s@%s", l.World, l.Pos) }

// ActorID identifies a connected participant.
type ActorID string

// Vec3 is a continuous position or velocity.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Center returns the middle of the block's footprint at its floor.
func (v Vec3i) Center() Vec3 {
	return Vec3{X: float64(v.X) + 0.5, Y: float64(v.Y), Z: float64(v.Z) + 0.5}
}
