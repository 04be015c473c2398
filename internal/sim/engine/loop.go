package engine

import (
	"context"
	"time"

	"mapkit/internal/sim/feature/encounter"
	"mapkit/internal/sim/feature/reversion"
	"mapkit/internal/sim/feature/transition"
	"mapkit/internal/sim/space"
)

func (e *Engine) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(e.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins, pendingLeaves []space.ActorID

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case id := <-e.join:
			pendingJoins = append(pendingJoins, id)
		case id := <-e.leave:
			pendingLeaves = append(pendingLeaves, id)
		case req := <-e.teleports:
			e.handleTeleport(req)
		case req := <-e.ledgerOps:
			e.handleLedger(req)
		case req := <-e.flees:
			e.handleFlee(req)
		case req := <-e.capOps:
			e.handleCap(req)
		case req := <-e.states:
			req.Resp <- e.snapshotState()
		case <-ticker.C:
			for _, id := range pendingJoins {
				e.handleJoin(id)
			}
			for _, id := range pendingLeaves {
				e.handleLeave(id)
			}
			e.step()
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
		}
	}
}

// Step advances exactly one tick. It must not be called while Run is active.
func (e *Engine) Step() { e.step() }

func (e *Engine) step() {
	if e.host.Advance != nil {
		e.host.Advance()
	}

	e.checkPads()

	for _, o := range e.ledger.Tick(e.host.Worlds) {
		e.emitReversion(o)
	}
	for _, a := range e.trans.Tick(e.host.Actors, e.host.Worlds) {
		e.emitArrival(a)
	}
	for _, r := range e.enc.StepAll(e.host.Actors, e.host.Worlds) {
		e.emitEncounter(r)
	}

	e.flush()
	e.tick.Add(1)
}

// checkPads starts a transition for grounded actors standing on a pad.
func (e *Engine) checkPads() {
	if len(e.pads) == 0 {
		return
	}
	for _, id := range e.host.Actors.Online() {
		a, ok := e.host.Actors.Actor(id)
		if !ok || a == nil || !a.OnGround() || a.Spectator() {
			continue
		}
		below := a.Location().Down(1)
		pad, ok := e.pads[below]
		if !ok || e.trans.ShouldIgnoreStep(id, below.World, below.Pos) {
			continue
		}
		if e.trans.Queue(a, pad.Target) {
			e.emit(Event{
				Kind:     EventTeleportQueued,
				Actor:    id,
				World:    below.World,
				Teleport: &TeleportDetail{From: a.Location(), Target: pad.Target},
			})
		}
	}
}

func (e *Engine) emitReversion(o reversion.Outcome) {
	d := &ReversionDetail{Original: o.Original, MovedTo: o.MovedTo, Snapshot: o.Snapshot}
	if o.HasCleared {
		c := o.Cleared
		d.Cleared = &c
	}
	kind := EventReversionRestored
	switch o.Kind {
	case reversion.Dropped:
		kind = EventReversionDropped
	case reversion.Failed:
		kind = EventReversionFailed
	}
	e.emit(Event{Kind: kind, World: o.Original.World, Reversion: d})
}

func (e *Engine) emitArrival(a transition.Arrival) {
	kind := EventTeleported
	if a.Kind == transition.Aborted {
		kind = EventTeleportAborted
	}
	e.emit(Event{
		Kind:  kind,
		Actor: a.Actor,
		World: a.Target.World,
		Teleport: &TeleportDetail{
			From:       a.From,
			Target:     a.Target,
			Landing:    a.Landing,
			Elapsed:    a.Elapsed,
			Obstructed: a.Obstructed,
		},
	})
}

func (e *Engine) emitEncounter(r encounter.Result) {
	if r.Reason != encounter.Started && r.Reason != encounter.Refused {
		return
	}
	kind := EventEncounterStarted
	if r.Reason == encounter.Refused {
		kind = EventEncounterRefused
	}
	req := r.Request
	e.emit(Event{Kind: kind, Actor: req.Actor, World: req.At.World, Encounter: &req, Handle: r.Handle})
}
