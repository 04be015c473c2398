// Package encounter fires zone encounters as actors walk through spawn zones.
package encounter

import (
	"log"

	"github.com/google/uuid"

	"mapkit/internal/sim/feature/cooldown"
	"mapkit/internal/sim/feature/selection"
	"mapkit/internal/sim/host"
	"mapkit/internal/sim/space"
	"mapkit/internal/sim/zones"
)

const (
	DefaultCooldownTicks   = 60
	DefaultStepChance      = 0.08
	DefaultGlobalShinyOdds = 4096
)

type Config struct {
	CooldownTicks int
	// StepChance is the probability that an eligible step triggers.
	StepChance       float64
	DefaultShinyOdds int
}

func (c *Config) applyDefaults() {
	if c.CooldownTicks <= 0 {
		c.CooldownTicks = DefaultCooldownTicks
	}
	if c.StepChance <= 0 {
		c.StepChance = DefaultStepChance
	}
	if c.DefaultShinyOdds <= 0 {
		c.DefaultShinyOdds = DefaultGlobalShinyOdds
	}
}

// Rand is the part of *math/rand.Rand the scheduler draws from.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// ZoneFinder is satisfied by *zones.Index.
type ZoneFinder interface {
	FindAt(w space.WorldKey, x, y, z int) []zones.Zone
}

type Request struct {
	Actor   space.ActorID  `json:"actor"`
	At      space.Location `json:"at"`
	ZoneID  uuid.UUID      `json:"zone_id"`
	Species string         `json:"species"`
	Level   int            `json:"level"`
	Shiny   bool           `json:"shiny"`
	Aspect  string         `json:"aspect,omitempty"`
}

type Reason string

const (
	Ineligible Reason = "INELIGIBLE"
	Stationary Reason = "STATIONARY"
	Cooling    Reason = "COOLING"
	NoZone     Reason = "NO_ZONE"
	Busy       Reason = "BUSY"
	NoRoll     Reason = "NO_ROLL"
	EmptyPool  Reason = "EMPTY_POOL"
	NoChoice   Reason = "NO_CHOICE"
	Refused    Reason = "REFUSED"
	Started    Reason = "STARTED"
	Panicked   Reason = "PANICKED"
)

type Result struct {
	Reason  Reason
	Request Request
	Handle  string
}

// Scheduler never mutates zones. It is owned by the tick goroutine.
type Scheduler struct {
	cfg   Config
	log   *log.Logger
	env   Env
	zones ZoneFinder
	rng   Rand
	cd    *cooldown.Tracker

	// actor -> handle of the wild spawned for its current encounter
	active map[space.ActorID]string
}

func New(cfg Config, zs ZoneFinder, env Env, rng Rand, logger *log.Logger) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		log:    logger,
		env:    env,
		zones:  zs,
		rng:    rng,
		cd:     cooldown.New(),
		active: map[space.ActorID]string{},
	}
}

// StepAll runs Step for every online actor and returns the steps that reached
// the domain action (started or refused).
func (s *Scheduler) StepAll(actors host.Actors, worlds host.Resolver) []Result {
	var out []Result
	for _, id := range actors.Online() {
		a, ok := actors.Actor(id)
		if !ok || a == nil {
			continue
		}
		var w host.World
		if worlds != nil {
			w, _ = worlds.World(a.Location().World)
		}
		r := s.stepSafe(a, w)
		switch r.Reason {
		case Started, Refused, Panicked:
			out = append(out, r)
		}
	}
	return out
}

func (s *Scheduler) stepSafe(a host.Actor, w host.World) (r Result) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Printf("warn: encounter step for %s panicked: %v", a.ID(), rec)
			r = Result{Reason: Panicked, Request: Request{Actor: a.ID()}}
		}
	}()
	return s.Step(a, w)
}

// Step evaluates one actor for this tick. w is the actor's current world; a
// nil world disables time-of-day filtering.
func (s *Scheduler) Step(a host.Actor, w host.World) Result {
	id := a.ID()
	s.cd.TickActor(id)

	if a.Spectator() || !a.OnGround() || a.Mounted() || s.env.InEncounter(id) {
		return Result{Reason: Ineligible}
	}
	loc := a.Location()
	if !s.cd.Moved(id, loc) {
		return Result{Reason: Stationary}
	}
	if s.cd.Active(id) {
		return Result{Reason: Cooling}
	}

	found := s.zones.FindAt(loc.World, loc.Pos.X, loc.Pos.Y, loc.Pos.Z)
	if len(found) == 0 {
		return Result{Reason: NoZone}
	}
	// Oldest zone wins when several overlap.
	zone := found[0]

	if s.env.InEncounter(id) {
		return Result{Reason: Busy}
	}
	if s.rng.Float64() >= s.cfg.StepChance {
		return Result{Reason: NoRoll}
	}

	pool := FilterByTime(zone.Spawns, w)
	if len(pool) == 0 {
		return Result{Reason: EmptyPool}
	}
	choice, ok := selection.Choose(pool, func(e zones.SpawnEntry) int { return e.Weight }, s.rng)
	if !ok {
		return Result{Reason: NoChoice}
	}

	span := choice.MaxLevel - choice.MinLevel + 1
	if span < 1 {
		span = 1
	}
	req := Request{
		Actor:   id,
		At:      loc,
		ZoneID:  zone.ID,
		Species: choice.Species,
		Level:   choice.MinLevel + s.rng.Intn(span),
		Shiny:   s.rollShiny(zone.ShinyOdds),
		Aspect:  choice.Aspect,
	}

	handle, started := s.env.StartEncounter(req)
	if !started {
		return Result{Reason: Refused, Request: req}
	}
	s.cd.Arm(id, s.cfg.CooldownTicks)
	if handle != "" {
		s.active[id] = handle
	}
	return Result{Reason: Started, Request: req, Handle: handle}
}

func (s *Scheduler) rollShiny(zoneOdds int) bool {
	odds := zoneOdds
	if odds <= 0 {
		odds = s.cfg.DefaultShinyOdds
	}
	if odds <= 1 {
		return true
	}
	return s.rng.Intn(odds) == 0
}

// FilterByTime keeps the entries eligible in w's current phase. Worlds without
// sky light (and a nil world) have no phase, so every entry passes.
func FilterByTime(entries []zones.SpawnEntry, w host.World) []zones.SpawnEntry {
	if len(entries) == 0 {
		return nil
	}
	if w == nil || !w.HasSkyLight() {
		return entries
	}
	isDay := w.TimeOfDay() < 0.5
	out := make([]zones.SpawnEntry, 0, len(entries))
	for _, e := range entries {
		if e.Time.Matches(isDay) {
			out = append(out, e)
		}
	}
	return out
}

// OnBattleFled despawns the wild tracked for the actor, if any. It returns the
// handle that was tracked and whether the despawn succeeded.
func (s *Scheduler) OnBattleFled(id space.ActorID) (handle string, despawned bool) {
	handle, ok := s.active[id]
	if !ok {
		return "", false
	}
	delete(s.active, id)
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Printf("warn: despawn %s for %s panicked: %v", handle, id, rec)
			despawned = false
		}
	}()
	return handle, s.env.Despawn(id, handle)
}

// OnEncounterEnded drops the tracked wild without despawning it.
func (s *Scheduler) OnEncounterEnded(id space.ActorID) { delete(s.active, id) }

func (s *Scheduler) ActiveWild(id space.ActorID) (string, bool) {
	h, ok := s.active[id]
	return h, ok
}

func (s *Scheduler) CooldownRemaining(id space.ActorID) int { return s.cd.Remaining(id) }

// Forget removes all per-actor state (cooldown, last position, tracked wild).
func (s *Scheduler) Forget(id space.ActorID) {
	s.cd.Forget(id)
	delete(s.active, id)
}

func (s *Scheduler) CooldownLen() int { return s.cd.Len() }
func (s *Scheduler) ActiveLen() int   { return len(s.active) }
