package transition

import (
	"io"
	"log"
	"testing"

	"mapkit/internal/sim/gridworld"
	"mapkit/internal/sim/host"
	"mapkit/internal/sim/space"
)

type recSink struct{ cues []host.Cue }

func (r *recSink) Cue(c host.Cue) { r.cues = append(r.cues, c) }

func (r *recSink) count(k host.CueKind) int {
	n := 0
	for _, c := range r.cues {
		if c.Kind == k {
			n++
		}
	}
	return n
}

var stone = host.BlockState{Kind: "stone"}

func setup(t *testing.T) (*gridworld.Universe, *gridworld.World, *gridworld.Actor, *Controller, *recSink) {
	t.Helper()
	u := gridworld.NewUniverse()
	w := gridworld.NewWorld("W", gridworld.Options{BottomY: 0, TopY: 128})
	w.Fill(space.Vec3i{X: -4, Y: 63, Z: -4}, space.Vec3i{X: 16, Y: 63, Z: 16}, stone)
	w.SetBlock(space.Vec3i{X: 10, Y: 64, Z: 10}, host.BlockState{Kind: "teleport_block"})
	u.AddWorld(w)
	a := gridworld.NewActor("p1", "W", space.Vec3{X: 0.5, Y: 64, Z: 0.5})
	u.AddActor(a)
	sink := &recSink{}
	c := New(Config{}, sink, log.New(io.Discard, "", 0))
	return u, w, a, c, sink
}

func target() space.Location { return space.At("W", 10, 64, 10) }

func TestLiftThenTeleport(t *testing.T) {
	u, _, a, c, sink := setup(t)
	a.SetVelocity(space.Vec3{X: 0.1, Y: -0.5, Z: 0})
	if !c.Queue(a, target()) {
		t.Fatalf("queue rejected")
	}
	if v := a.Velocity(); v.Y != 0 || v.X != 0.1 {
		t.Fatalf("velocity after queue=%+v", v)
	}
	if sink.count(host.CueSound) != 1 || sink.count(host.CueRotate) != 1 {
		t.Fatalf("begin cues=%+v", sink.cues)
	}

	for i := 0; i < DefaultAnimTicks; i++ {
		if out := c.Tick(u, u); len(out) != 0 {
			t.Fatalf("tick %d arrived early: %+v", i, out)
		}
		if a.Velocity().Y != DefaultLiftVelocity {
			t.Fatalf("tick %d not lifting", i)
		}
	}
	out := c.Tick(u, u)
	if len(out) != 1 || out[0].Kind != Teleported || out[0].Obstructed {
		t.Fatalf("arrival=%+v", out)
	}
	if out[0].Elapsed != DefaultAnimTicks {
		t.Fatalf("elapsed=%d", out[0].Elapsed)
	}
	want := space.Vec3{X: 10.5, Y: 65, Z: 10.5}
	if got := a.Position(); got != want {
		t.Fatalf("landed at %+v want %+v", got, want)
	}
	if a.Velocity() != (space.Vec3{}) {
		t.Fatalf("velocity not zeroed")
	}
	if c.Len() != 0 {
		t.Fatalf("pending=%d", c.Len())
	}
}

func TestObstructionTeleportsImmediately(t *testing.T) {
	u, w, a, c, _ := setup(t)
	w.SetBlock(space.Vec3i{X: 0, Y: 65, Z: 0}, stone)
	c.Queue(a, target())

	out := c.Tick(u, u)
	if len(out) != 1 || !out[0].Obstructed || out[0].Elapsed != 0 {
		t.Fatalf("arrival=%+v", out)
	}
	if a.Teleports() != 1 {
		t.Fatalf("teleports=%d", a.Teleports())
	}
}

func TestSecondQueueIsNoop(t *testing.T) {
	u, _, a, c, _ := setup(t)
	c.Queue(a, target())
	c.Tick(u, u)
	if c.Queue(a, space.At("W", 0, 64, 0)) {
		t.Fatalf("second queue accepted")
	}
	if c.Len() != 1 {
		t.Fatalf("pending=%d", c.Len())
	}
}

func TestArrivalSuppression(t *testing.T) {
	u, w, a, c, _ := setup(t)
	w.SetBlock(space.Vec3i{X: 0, Y: 65, Z: 0}, stone)
	c.Queue(a, target())
	c.Tick(u, u)

	other := space.Vec3i{X: 11, Y: 64, Z: 10}
	if !c.ShouldIgnoreStep("p1", "W", other) {
		t.Fatalf("steps inside the window must be ignored")
	}
	for i := 0; i < DefaultArrivalSuppressTicks; i++ {
		c.Tick(u, u)
	}
	if c.ShouldIgnoreStep("p1", "W", other) {
		t.Fatalf("window should have expired")
	}
	if !c.ShouldIgnoreStep("p1", "W", target().Pos) {
		t.Fatalf("still standing on arrival cell")
	}
	if c.ShouldIgnoreStep("p1", "X", target().Pos) {
		t.Fatalf("binding is per world")
	}

	a.MoveTo("W", space.Vec3{X: 11.5, Y: 65, Z: 10.5})
	c.Tick(u, u)
	if c.ShouldIgnoreStep("p1", "W", target().Pos) {
		t.Fatalf("binding should clear after stepping off")
	}
	if c.BindingLen() != 0 || c.ArrivalsLen() != 0 {
		t.Fatalf("bindings=%d arrivals=%d", c.BindingLen(), c.ArrivalsLen())
	}
}

func TestMissingActorDropped(t *testing.T) {
	u, _, a, c, _ := setup(t)
	c.Queue(a, target())
	u.RemoveActor("p1")
	if out := c.Tick(u, u); len(out) != 0 {
		t.Fatalf("out=%+v", out)
	}
	if c.Len() != 0 {
		t.Fatalf("pending=%d", c.Len())
	}
}

func TestUnloadedTargetAborts(t *testing.T) {
	u, w, a, c, _ := setup(t)
	w.SetBlock(space.Vec3i{X: 0, Y: 65, Z: 0}, stone)
	c.Queue(a, space.At("gone", 0, 64, 0))
	out := c.Tick(u, u)
	if len(out) != 1 || out[0].Kind != Aborted {
		t.Fatalf("out=%+v", out)
	}
	if a.Teleports() != 0 || c.Len() != 0 {
		t.Fatalf("teleports=%d pending=%d", a.Teleports(), c.Len())
	}
}

func TestSafeLandingFallback(t *testing.T) {
	w := gridworld.NewWorld("W", gridworld.Options{BottomY: 0, TopY: 80})
	w.Fill(space.Vec3i{X: 5, Y: 60, Z: 5}, space.Vec3i{X: 5, Y: 80, Z: 5}, stone)
	base := space.Vec3i{X: 5, Y: 64, Z: 5}
	if got := SafeLanding(w, base, 6); got != base.Up(1) {
		t.Fatalf("fallback=%v", got)
	}
	w.Fill(space.Vec3i{X: 5, Y: 70, Z: 5}, space.Vec3i{X: 5, Y: 80, Z: 5}, host.Air)
	if got := SafeLanding(w, base, 6); got.Y != 70 {
		t.Fatalf("landing=%v want y=70", got)
	}
}

func TestRotationMonotonicBounded(t *testing.T) {
	c := New(Config{}, nil, nil)
	prev := -1.0
	for e := -1; e <= DefaultAnimTicks+2; e++ {
		r := c.Rotation(e)
		if r < prev || r < 0 || r > DefaultTotalRotationDeg {
			t.Fatalf("rotation(%d)=%v prev=%v", e, r, prev)
		}
		prev = r
	}
}

func TestForget(t *testing.T) {
	u, w, a, c, _ := setup(t)
	w.SetBlock(space.Vec3i{X: 0, Y: 65, Z: 0}, stone)
	c.Queue(a, target())
	c.Tick(u, u)
	c.Forget("p1")
	if c.Len() != 0 || c.BindingLen() != 0 || c.ArrivalsLen() != 0 {
		t.Fatalf("state left after forget")
	}
}
