package engine

import (
	"context"
	"errors"
	"fmt"

	"mapkit/internal/sim/host"
	"mapkit/internal/sim/space"
)

var ErrPending = errors.New("transition already pending")

type teleportReq struct {
	Actor  space.ActorID
	Target space.Location
	Resp   chan error
}

type LedgerOp string

const (
	// OpBreak removes the block at Pos and restores it after the delay.
	OpBreak LedgerOp = "BREAK"
	// OpPush moves the block at Pos to Dest; the original cell is restored
	// and the moved block cleared after the delay.
	OpPush        LedgerOp = "PUSH"
	OpResolve     LedgerOp = "RESOLVE"
	OpForgetAlias LedgerOp = "FORGET_ALIAS"
)

type LedgerRequest struct {
	Op           LedgerOp       `json:"op"`
	World        space.WorldKey `json:"world"`
	Pos          space.Vec3i    `json:"pos"`
	Dest         space.Vec3i    `json:"dest"`
	DelaySeconds int            `json:"delay_seconds"`
}

type LedgerResult struct {
	Original space.Vec3i     `json:"original"`
	Snapshot host.BlockState `json:"snapshot"`
}

type ledgerReq struct {
	Req  LedgerRequest
	Resp chan ledgerResp
}

type ledgerResp struct {
	Res LedgerResult
	Err error
}

type FleeResult struct {
	Handle    string `json:"handle,omitempty"`
	Despawned bool   `json:"despawned"`
}

type fleeReq struct {
	Actor space.ActorID
	Resp  chan FleeResult
}

type capReq struct {
	Req  LevelCapRequest
	Resp chan capResp
}

type capResp struct {
	Res LevelCapResponse
	Err error
}

type State struct {
	Tick              uint64 `json:"tick"`
	Online            int    `json:"online"`
	Zones             int    `json:"zones"`
	Pads              int    `json:"pads"`
	PendingReversions int    `json:"pending_reversions"`
	Aliases           int    `json:"aliases"`
	Transitions       int    `json:"transitions"`
	ArrivalBindings   int    `json:"arrival_bindings"`
	Cooldowns         int    `json:"cooldowns"`
	ActiveWilds       int    `json:"active_wilds"`
	CapTags           int    `json:"cap_tags"`
	CapTokens         int    `json:"cap_tokens"`
}

type stateReq struct {
	Resp chan State
}

// call hands req to the loop goroutine and waits for its answer.
func call[Req, Resp any](ctx context.Context, stop <-chan struct{}, ch chan<- Req, req Req, resp <-chan Resp) (Resp, error) {
	var zero Resp
	select {
	case ch <- req:
	case <-stop:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-stop:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// QueueTeleport starts a transition for an online actor. Safe from any goroutine.
func (e *Engine) QueueTeleport(ctx context.Context, id space.ActorID, target space.Location) error {
	resp := make(chan error, 1)
	err, callErr := call(ctx, e.stop, e.teleports, teleportReq{Actor: id, Target: target, Resp: resp}, resp)
	if callErr != nil {
		return callErr
	}
	return err
}

func (e *Engine) Ledger(ctx context.Context, req LedgerRequest) (LedgerResult, error) {
	resp := make(chan ledgerResp, 1)
	r, err := call(ctx, e.stop, e.ledgerOps, ledgerReq{Req: req, Resp: resp}, resp)
	if err != nil {
		return LedgerResult{}, err
	}
	return r.Res, r.Err
}

// BattleFled despawns the wild the actor fled from, if the scheduler tracks one.
func (e *Engine) BattleFled(ctx context.Context, id space.ActorID) (FleeResult, error) {
	resp := make(chan FleeResult, 1)
	return call(ctx, e.stop, e.flees, fleeReq{Actor: id, Resp: resp}, resp)
}

func (e *Engine) LevelCap(ctx context.Context, req LevelCapRequest) (LevelCapResponse, error) {
	resp := make(chan capResp, 1)
	r, err := call(ctx, e.stop, e.capOps, capReq{Req: req, Resp: resp}, resp)
	if err != nil {
		return LevelCapResponse{}, err
	}
	return r.Res, r.Err
}

func (e *Engine) State(ctx context.Context) (State, error) {
	resp := make(chan State, 1)
	return call(ctx, e.stop, e.states, stateReq{Resp: resp}, resp)
}

func (e *Engine) handleTeleport(req teleportReq) {
	req.Resp <- e.queueTeleport(req.Actor, req.Target)
}

func (e *Engine) queueTeleport(id space.ActorID, target space.Location) error {
	a, ok := e.host.Actors.Actor(id)
	if !ok || a == nil {
		return ErrNoActor
	}
	from := a.Location()
	if !e.trans.Queue(a, target) {
		return ErrPending
	}
	e.emit(Event{Kind: EventTeleportQueued, Actor: id, World: from.World, Teleport: &TeleportDetail{From: from, Target: target}})
	return nil
}

func (e *Engine) handleLedger(req ledgerReq) {
	res, err := e.applyLedger(req.Req)
	req.Resp <- ledgerResp{Res: res, Err: err}
}

func (e *Engine) applyLedger(r LedgerRequest) (LedgerResult, error) {
	switch r.Op {
	case OpResolve:
		return LedgerResult{Original: e.ledger.ResolveOriginal(r.World, r.Pos)}, nil
	case OpForgetAlias:
		e.ledger.ForgetAlias(r.World, r.Pos)
		return LedgerResult{Original: r.Pos}, nil
	case OpBreak, OpPush:
	default:
		return LedgerResult{}, fmt.Errorf("ledger %q: %w", r.Op, ErrBadOp)
	}

	w, ok := e.host.Worlds.World(r.World)
	if !ok || w == nil {
		return LedgerResult{}, ErrNoWorld
	}
	cur := w.Block(r.Pos)
	if cur.IsAir() {
		return LedgerResult{}, ErrNoBlock
	}

	if r.Op == OpBreak {
		// A moved object already has its entry under the original cell.
		if orig := e.ledger.ResolveOriginal(r.World, r.Pos); orig != r.Pos || e.ledger.IsBusy(r.World, r.Pos) {
			return LedgerResult{}, ErrBusy
		}
		w.SetBlock(r.Pos, host.Air)
		e.ledger.AddTimed(r.World, r.Pos, cur, r.DelaySeconds)
		e.emitArmed(r.World, r.Pos, r.Pos, cur)
		return LedgerResult{Original: r.Pos, Snapshot: cur}, nil
	}

	if !w.IsAir(r.Dest) {
		return LedgerResult{}, ErrOccupied
	}
	orig := e.ledger.ResolveOriginal(r.World, r.Pos)
	snap := cur
	if p, ok := e.ledger.Get(r.World, orig); ok {
		snap = p.Snapshot
	}
	w.SetBlock(r.Dest, cur)
	w.SetBlock(r.Pos, host.Air)
	e.ledger.RegisterMove(r.World, orig, r.Dest, snap, r.DelaySeconds)
	e.emitArmed(r.World, orig, r.Dest, snap)
	return LedgerResult{Original: orig, Snapshot: snap}, nil
}

func (e *Engine) emitArmed(w space.WorldKey, orig, moved space.Vec3i, snap host.BlockState) {
	e.emit(Event{Kind: EventReversionArmed, World: w, Reversion: &ReversionDetail{
		Original: space.Location{World: w, Pos: orig},
		MovedTo:  space.Location{World: w, Pos: moved},
		Snapshot: snap,
	}})
}

func (e *Engine) handleFlee(req fleeReq) {
	handle, ok := e.enc.OnBattleFled(req.Actor)
	if handle != "" {
		e.emit(Event{Kind: EventWildDespawned, Actor: req.Actor, Handle: handle})
	}
	req.Resp <- FleeResult{Handle: handle, Despawned: ok}
}

func (e *Engine) snapshotState() State {
	return State{
		Tick:              e.tick.Load(),
		Online:            len(e.host.Actors.Online()),
		Zones:             e.zones.Len(),
		Pads:              len(e.pads),
		PendingReversions: e.ledger.Len(),
		Aliases:           e.ledger.AliasLen(),
		Transitions:       e.trans.Len(),
		ArrivalBindings:   e.trans.BindingLen(),
		Cooldowns:         e.enc.CooldownLen(),
		ActiveWilds:       e.enc.ActiveLen(),
		CapTags:           e.levels.TagLen(),
		CapTokens:         e.levels.TokenLen(),
	}
}
