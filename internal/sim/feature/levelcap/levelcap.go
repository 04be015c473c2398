// Package levelcap keeps an owner's creatures at or below the owner's level
// cap, with shiny and master-ball capture exceptions.
package levelcap

import (
	"fmt"

	"mapkit/internal/sim/feature/bypass"
	"mapkit/internal/sim/space"
)

const (
	DefaultCap               = 100
	DefaultBypassWindowTicks = 400
)

// Capabilities the domain layer implements for its creature and ball types.
type (
	HasLevel interface {
		Level() int
	}
	HasShinyFlag interface {
		Shiny() bool
	}
	HasID interface {
		ID() string
	}
	IsCapturableBall interface {
		IsMasterBall() bool
	}
	// HasExperience is optional; without it experience can only be blocked at
	// the cap, never trimmed.
	HasExperience interface {
		ExpToLevel(level int) int
	}
)

// Creature is the minimum a checked creature must expose.
type Creature interface {
	HasLevel
	HasID
}

type Caps interface {
	EffectiveCap(owner space.ActorID) int
}

// StaticCap applies one cap to every owner.
type StaticCap int

func (c StaticCap) EffectiveCap(space.ActorID) int { return int(c) }

type Config struct {
	Enabled            bool
	BypassIfShiny      bool
	BypassOnMasterBall bool
	ClampGainedOverCap bool
	BypassWindowTicks  int
}

func (c *Config) applyDefaults() {
	if c.BypassWindowTicks <= 0 {
		c.BypassWindowTicks = DefaultBypassWindowTicks
	}
}

type ExpVerdict struct {
	Cancel  bool   `json:"cancel"`
	Allowed int    `json:"allowed"`
	Notice  string `json:"notice,omitempty"`
}

type CaptureVerdict struct {
	Allow  bool   `json:"allow"`
	Bypass string `json:"bypass,omitempty"`
	Notice string `json:"notice,omitempty"`
}

type ClampVerdict struct {
	Clamp   bool   `json:"clamp"`
	ClampTo int    `json:"clamp_to,omitempty"`
	Bypass  string `json:"bypass,omitempty"`
	Notice  string `json:"notice,omitempty"`
}

const (
	BypassShiny  = "shiny"
	BypassMaster = "master"
	BypassTag    = "tag"
)

// Enforcer is owned by the tick goroutine.
type Enforcer struct {
	cfg    Config
	caps   Caps
	tokens *bypass.Tokens
	// owner -> ids of creatures captured under a bypass
	tags map[space.ActorID]map[string]struct{}
}

func New(cfg Config, caps Caps) *Enforcer {
	cfg.applyDefaults()
	if caps == nil {
		caps = StaticCap(DefaultCap)
	}
	return &Enforcer{
		cfg:    cfg,
		caps:   caps,
		tokens: bypass.New(),
		tags:   map[space.ActorID]map[string]struct{}{},
	}
}

func (e *Enforcer) Enabled() bool { return e.cfg.Enabled }

// OnExperience decides how much of incoming experience mon may receive.
func (e *Enforcer) OnExperience(owner space.ActorID, mon HasLevel, incoming int) ExpVerdict {
	if !e.cfg.Enabled {
		return ExpVerdict{Allowed: incoming}
	}
	capLvl := e.caps.EffectiveCap(owner)
	if mon.Level() >= capLvl {
		return ExpVerdict{Cancel: true, Notice: fmt.Sprintf("EXP blocked: at level cap %d.", capLvl)}
	}
	if incoming <= 0 {
		return ExpVerdict{Allowed: incoming}
	}
	xp, ok := mon.(HasExperience)
	if !ok {
		return ExpVerdict{Allowed: incoming}
	}
	toCap := xp.ExpToLevel(capLvl)
	if toCap <= 0 {
		return ExpVerdict{Cancel: true, Notice: fmt.Sprintf("EXP blocked: would exceed the level cap %d.", capLvl)}
	}
	if incoming > toCap {
		return ExpVerdict{Allowed: toCap, Notice: fmt.Sprintf("EXP trimmed to reach level cap %d.", capLvl)}
	}
	return ExpVerdict{Allowed: incoming}
}

// OnCandy blocks candy use on creatures already at the cap.
func (e *Enforcer) OnCandy(owner space.ActorID, mon HasLevel) ExpVerdict {
	if !e.cfg.Enabled {
		return ExpVerdict{}
	}
	if capLvl := e.caps.EffectiveCap(owner); mon.Level() >= capLvl {
		return ExpVerdict{Cancel: true, Notice: fmt.Sprintf("EXP candy blocked: at level cap %d.", capLvl)}
	}
	return ExpVerdict{}
}

// OnCaptureAttempt runs when a ball hits target. Over-cap targets are blocked
// unless shiny or master-ball rules apply; allowed over-cap captures are
// tagged so OnGained skips the clamp.
func (e *Enforcer) OnCaptureAttempt(owner space.ActorID, target Creature, ball IsCapturableBall, nowTick uint64) CaptureVerdict {
	if !e.cfg.Enabled {
		return CaptureVerdict{Allow: true}
	}
	lvl := target.Level()
	capLvl := e.caps.EffectiveCap(owner)
	if lvl <= capLvl {
		return CaptureVerdict{Allow: true}
	}

	shiny := e.cfg.BypassIfShiny && isShiny(target)
	master := e.cfg.BypassOnMasterBall && ball != nil && ball.IsMasterBall()
	if !shiny && !master {
		return CaptureVerdict{Notice: fmt.Sprintf("Capture blocked: level %d above cap %d.", lvl, capLvl)}
	}

	if id := target.ID(); id != "" {
		set := e.tags[owner]
		if set == nil {
			set = map[string]struct{}{}
			e.tags[owner] = set
		}
		set[id] = struct{}{}
	}
	if master {
		e.tokens.Grant(owner, nowTick, e.cfg.BypassWindowTicks)
		return CaptureVerdict{Allow: true, Bypass: BypassMaster, Notice: fmt.Sprintf("Capture bypass (master ball): level %d allowed.", lvl)}
	}
	return CaptureVerdict{Allow: true, Bypass: BypassShiny, Notice: fmt.Sprintf("Capture bypass (shiny): level %d allowed.", lvl)}
}

// OnGained runs when mon joins owner's party. Bypass sources are consumed
// in order: capture tag, shiny rule, master-ball token (read-once).
func (e *Enforcer) OnGained(owner space.ActorID, mon Creature, nowTick uint64) ClampVerdict {
	if !e.cfg.Enabled {
		return ClampVerdict{}
	}
	lvl := mon.Level()
	capLvl := e.caps.EffectiveCap(owner)

	by := ""
	if e.consumeTag(owner, mon.ID()) {
		by = BypassTag
	}
	if by == "" && e.cfg.BypassIfShiny && isShiny(mon) {
		by = BypassShiny
	}
	// Read-once: consumed on every gain, matched or not.
	if e.tokens.ConsumeIfActive(owner, nowTick) && by == "" {
		by = BypassMaster
	}

	if lvl <= capLvl || by != "" {
		return ClampVerdict{Bypass: by}
	}
	if !e.cfg.ClampGainedOverCap {
		return ClampVerdict{Notice: fmt.Sprintf("Gained over cap (%d > %d); no clamp applied.", lvl, capLvl)}
	}
	return ClampVerdict{Clamp: true, ClampTo: capLvl, Notice: fmt.Sprintf("Level clamped to %d.", capLvl)}
}

// OnLevelUp is a safety clamp after any level change.
func (e *Enforcer) OnLevelUp(owner space.ActorID, mon HasLevel) ClampVerdict {
	if !e.cfg.Enabled {
		return ClampVerdict{}
	}
	lvl := mon.Level()
	capLvl := e.caps.EffectiveCap(owner)
	if lvl <= capLvl {
		return ClampVerdict{}
	}
	return ClampVerdict{Clamp: true, ClampTo: capLvl, Notice: fmt.Sprintf("Level up clamped to cap (%d).", capLvl)}
}

func (e *Enforcer) consumeTag(owner space.ActorID, id string) bool {
	set, ok := e.tags[owner]
	if !ok {
		return false
	}
	_, hit := set[id]
	delete(set, id)
	if len(set) == 0 {
		delete(e.tags, owner)
	}
	return hit
}

func isShiny(v any) bool {
	s, ok := v.(HasShinyFlag)
	return ok && s.Shiny()
}

func (e *Enforcer) HasToken(owner space.ActorID) bool { return e.tokens.Has(owner) }

// Forget drops the owner's tags and token.
func (e *Enforcer) Forget(owner space.ActorID) {
	delete(e.tags, owner)
	e.tokens.Forget(owner)
}

func (e *Enforcer) TagLen() int   { return len(e.tags) }
func (e *Enforcer) TokenLen() int { return e.tokens.Len() }
