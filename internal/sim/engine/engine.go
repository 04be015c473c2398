// Package engine composes the zone index, reversion ledger, transition
// controller, encounter scheduler and level-cap enforcer into one tick loop.
package engine

import (
	"errors"
	"log"
	"math/rand"
	"sync/atomic"

	"mapkit/internal/sim/feature/encounter"
	"mapkit/internal/sim/feature/levelcap"
	"mapkit/internal/sim/feature/reversion"
	"mapkit/internal/sim/feature/transition"
	"mapkit/internal/sim/host"
	"mapkit/internal/sim/space"
	"mapkit/internal/sim/tuning"
	"mapkit/internal/sim/zones"
)

var (
	ErrStopped  = errors.New("engine stopped")
	ErrBusy     = errors.New("cell already has a pending reversion")
	ErrNoBlock  = errors.New("no block at cell")
	ErrOccupied = errors.New("destination is not empty")
	ErrNoWorld  = errors.New("world not available")
	ErrNoActor  = errors.New("actor not online")
	ErrBadOp    = errors.New("unknown op")
)

// Host is what the engine needs from the game host.
type Host struct {
	Worlds host.Resolver
	Actors host.Actors
	Sink   host.Sink
	// Advance, when set, moves host clocks forward once per tick before any
	// component runs.
	Advance func()
}

// Pad is a teleport block: stepping on At starts a transition to Target.
type Pad struct {
	ID     string
	At     space.Location
	Target space.Location
}

type Config struct {
	TickRateHz int

	Encounter  encounter.Config
	Transition transition.Config
	Reversion  reversion.Config
	LevelCap   levelcap.Config
	DefaultCap int

	Pads []Pad
	Seed int64
}

// ConfigFromTuning maps tuning.yaml onto the component configs.
func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		TickRateHz: t.TickRateHz,
		Encounter: encounter.Config{
			CooldownTicks:    t.Encounter.CooldownTicks,
			StepChance:       t.Encounter.StepChance,
			DefaultShinyOdds: t.Encounter.DefaultShinyOdds,
		},
		Transition: transition.Config{
			AnimTicks:            t.Transition.AnimTicks,
			LiftVelocity:         t.Transition.LiftVelocity,
			TotalRotationDeg:     t.Transition.TotalRotationDeg,
			ArrivalSuppressTicks: t.Transition.ArrivalSuppressTicks,
			LandingHeadroom:      t.Transition.LandingHeadroom,
		},
		Reversion: reversion.Config{
			TicksPerSecond: t.TickRateHz,
			ScanDepth:      t.Reversion.ScanDepth,
		},
		LevelCap: levelcap.Config{
			Enabled:            t.LevelCap.Enabled,
			BypassIfShiny:      t.LevelCap.BypassIfShiny,
			BypassOnMasterBall: t.LevelCap.BypassOnMasterBall,
			ClampGainedOverCap: t.LevelCap.ClampGainedOverCap,
			BypassWindowTicks:  t.LevelCap.BypassWindowTicks,
		},
		DefaultCap: t.LevelCap.DefaultCap,
	}
}

type Options struct {
	Logger *log.Logger
	// Domain is the external encounter layer (start, despawn, in-encounter).
	Domain encounter.Env
	// Rand overrides the seeded source; tests pass a fixed one.
	Rand  encounter.Rand
	Caps  levelcap.Caps
	Sinks []EventSink
}

// Engine is single-threaded: all component state is touched only by the loop
// goroutine (Run) or by Step when no loop is running.
type Engine struct {
	cfg  Config
	log  *log.Logger
	host Host

	tick atomic.Uint64

	zones   *zones.Index
	ledger  *reversion.Ledger
	trans   *transition.Controller
	enc     *encounter.Scheduler
	levels  *levelcap.Enforcer
	pads    map[space.Location]Pad
	sinks   []EventSink
	pending []Event

	join      chan space.ActorID
	leave     chan space.ActorID
	teleports chan teleportReq
	ledgerOps chan ledgerReq
	flees     chan fleeReq
	capOps    chan capReq
	states    chan stateReq
	stop      chan struct{}
	stopped   atomic.Bool
}

func New(cfg Config, h Host, idx *zones.Index, opts Options) *Engine {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if cfg.Reversion.TicksPerSecond <= 0 {
		cfg.Reversion.TicksPerSecond = cfg.TickRateHz
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if h.Sink == nil {
		h.Sink = host.NopSink{}
	}
	if idx == nil {
		idx = zones.NewIndex()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}
	caps := opts.Caps
	if caps == nil && cfg.DefaultCap > 0 {
		caps = levelcap.StaticCap(cfg.DefaultCap)
	}

	e := &Engine{
		cfg:       cfg,
		log:       logger,
		host:      h,
		zones:     idx,
		ledger:    reversion.New(cfg.Reversion, logger),
		trans:     transition.New(cfg.Transition, h.Sink, logger),
		enc:       encounter.New(cfg.Encounter, idx, opts.Domain, rng, logger),
		levels:    levelcap.New(cfg.LevelCap, caps),
		pads:      map[space.Location]Pad{},
		sinks:     opts.Sinks,
		join:      make(chan space.ActorID, 64),
		leave:     make(chan space.ActorID, 64),
		teleports: make(chan teleportReq, 64),
		ledgerOps: make(chan ledgerReq, 64),
		flees:     make(chan fleeReq, 64),
		capOps:    make(chan capReq, 64),
		states:    make(chan stateReq, 16),
		stop:      make(chan struct{}),
	}
	for _, p := range cfg.Pads {
		e.pads[p.At] = p
	}
	return e
}

func (e *Engine) Join() chan<- space.ActorID  { return e.join }
func (e *Engine) Leave() chan<- space.ActorID { return e.leave }

func (e *Engine) CurrentTick() uint64 { return e.tick.Load() }

// Zones is the shared index. It is safe for concurrent use.
func (e *Engine) Zones() *zones.Index { return e.zones }

func (e *Engine) AddSink(s EventSink) { e.sinks = append(e.sinks, s) }

func (e *Engine) Stop() {
	if e.stopped.CompareAndSwap(false, true) {
		close(e.stop)
	}
}

func (e *Engine) emit(ev Event) {
	ev.Tick = e.tick.Load()
	e.pending = append(e.pending, ev)
}

func (e *Engine) flush() {
	if len(e.pending) == 0 {
		return
	}
	for _, ev := range e.pending {
		for _, s := range e.sinks {
			if err := s.WriteEvent(ev); err != nil {
				e.log.Printf("warn: event sink: %v", err)
			}
		}
	}
	e.pending = e.pending[:0]
}

func (e *Engine) handleJoin(id space.ActorID) {
	ev := Event{Kind: EventActorJoined, Actor: id}
	if a, ok := e.host.Actors.Actor(id); ok && a != nil {
		ev.World = a.Location().World
	}
	e.emit(ev)
}

// handleLeave removes every trace of the actor across components.
func (e *Engine) handleLeave(id space.ActorID) {
	e.enc.Forget(id)
	e.trans.Forget(id)
	e.levels.Forget(id)
	e.emit(Event{Kind: EventActorLeft, Actor: id})
}
