package protocol

import (
	"mapkit/internal/sim/engine"
	"mapkit/internal/sim/host"
	"mapkit/internal/sim/space"
)

// SUBSCRIBE (client -> server). Sent first, and again to change filters.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Actor limits cues and events to one actor; empty means everyone.
	Actor  space.ActorID `json:"actor,omitempty"`
	Events bool          `json:"events,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	Tick            uint64     `json:"tick"`
	TickRateHz      int        `json:"tick_rate_hz,omitempty"`
	Worlds          []WorldRef `json:"worlds,omitempty"`
}

type WorldRef struct {
	WorldID     string `json:"world_id"`
	HasSkyLight bool   `json:"has_sky_light"`
	BottomY     int    `json:"bottom_y"`
	TopY        int    `json:"top_y"`
}

// CUE (server -> client): a presentation hint.
type CueMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Tick            uint64   `json:"tick"`
	Cue             host.Cue `json:"cue"`
}

// EVENT (server -> client): an engine outcome.
type EventMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Event           engine.Event `json:"event"`
}

// ErrorMsg is the JSON error body of the admin API.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func NewCue(tick uint64, c host.Cue) CueMsg {
	return CueMsg{Type: TypeCue, ProtocolVersion: Version, Tick: tick, Cue: c}
}

func NewEvent(ev engine.Event) EventMsg {
	return EventMsg{Type: TypeEvent, ProtocolVersion: Version, Event: ev}
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Code: code, Message: msg}
}
