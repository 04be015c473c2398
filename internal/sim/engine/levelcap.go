package engine

import (
	"fmt"

	"mapkit/internal/sim/feature/levelcap"
	"mapkit/internal/sim/space"
)

type CapOp string

const (
	CapExperience CapOp = "EXPERIENCE"
	CapCandy      CapOp = "CANDY"
	CapCapture    CapOp = "CAPTURE"
	CapGained     CapOp = "GAINED"
	CapLevelUp    CapOp = "LEVEL_UP"
)

// Creature is the wire shape of a checked creature.
type Creature struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
	Shiny bool   `json:"shiny,omitempty"`
	// ExpToCap, when set, is the experience still needed to reach the cap level.
	ExpToCap *int `json:"exp_to_cap,omitempty"`
}

type LevelCapRequest struct {
	Op         CapOp         `json:"op"`
	Owner      space.ActorID `json:"owner"`
	Creature   Creature      `json:"creature"`
	MasterBall bool          `json:"master_ball,omitempty"`
	Incoming   int           `json:"incoming,omitempty"`
}

type LevelCapResponse struct {
	Exp     *levelcap.ExpVerdict     `json:"exp,omitempty"`
	Capture *levelcap.CaptureVerdict `json:"capture,omitempty"`
	Clamp   *levelcap.ClampVerdict   `json:"clamp,omitempty"`
}

type creature struct{ c Creature }

func (m creature) ID() string  { return m.c.ID }
func (m creature) Level() int  { return m.c.Level }
func (m creature) Shiny() bool { return m.c.Shiny }

type trimmable struct{ creature }

func (m trimmable) ExpToLevel(int) int { return *m.c.ExpToCap }

type ball bool

func (b ball) IsMasterBall() bool { return bool(b) }

func (c Creature) capable() levelcap.Creature {
	if c.ExpToCap != nil {
		return trimmable{creature{c}}
	}
	return creature{c}
}

func (e *Engine) handleCap(req capReq) {
	res, err := e.applyCap(req.Req)
	req.Resp <- capResp{Res: res, Err: err}
}

func (e *Engine) applyCap(r LevelCapRequest) (LevelCapResponse, error) {
	mon := r.Creature.capable()
	now := e.tick.Load()
	switch r.Op {
	case CapExperience:
		v := e.levels.OnExperience(r.Owner, mon, r.Incoming)
		return LevelCapResponse{Exp: &v}, nil
	case CapCandy:
		v := e.levels.OnCandy(r.Owner, mon)
		return LevelCapResponse{Exp: &v}, nil
	case CapCapture:
		v := e.levels.OnCaptureAttempt(r.Owner, mon, ball(r.MasterBall), now)
		return LevelCapResponse{Capture: &v}, nil
	case CapGained:
		v := e.levels.OnGained(r.Owner, mon, now)
		return LevelCapResponse{Clamp: &v}, nil
	case CapLevelUp:
		v := e.levels.OnLevelUp(r.Owner, mon)
		return LevelCapResponse{Clamp: &v}, nil
	}
	return LevelCapResponse{}, fmt.Errorf("level cap %q: %w", r.Op, ErrBadOp)
}
