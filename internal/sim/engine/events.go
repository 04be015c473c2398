package engine

import (
	"mapkit/internal/sim/feature/encounter"
	"mapkit/internal/sim/host"
	"mapkit/internal/sim/space"
)

type EventKind string

const (
	EventActorJoined       EventKind = "ACTOR_JOINED"
	EventActorLeft         EventKind = "ACTOR_LEFT"
	EventEncounterStarted  EventKind = "ENCOUNTER_STARTED"
	EventEncounterRefused  EventKind = "ENCOUNTER_REFUSED"
	EventWildDespawned     EventKind = "WILD_DESPAWNED"
	EventReversionArmed    EventKind = "REVERSION_ARMED"
	EventReversionRestored EventKind = "REVERSION_RESTORED"
	EventReversionDropped  EventKind = "REVERSION_DROPPED"
	EventReversionFailed   EventKind = "REVERSION_FAILED"
	EventTeleportQueued    EventKind = "TELEPORT_QUEUED"
	EventTeleported        EventKind = "TELEPORTED"
	EventTeleportAborted   EventKind = "TELEPORT_ABORTED"
)

// Event is one engine outcome. Exactly one of the detail pointers is set for
// kinds that carry details.
type Event struct {
	Tick  uint64         `json:"tick"`
	Kind  EventKind      `json:"kind"`
	Actor space.ActorID  `json:"actor,omitempty"`
	World space.WorldKey `json:"world,omitempty"`

	Encounter *encounter.Request `json:"encounter,omitempty"`
	Handle    string             `json:"handle,omitempty"`
	Reversion *ReversionDetail   `json:"reversion,omitempty"`
	Teleport  *TeleportDetail    `json:"teleport,omitempty"`
}

type ReversionDetail struct {
	Original space.Location  `json:"original"`
	MovedTo  space.Location  `json:"moved_to"`
	Cleared  *space.Location `json:"cleared,omitempty"`
	Snapshot host.BlockState `json:"snapshot"`
}

type TeleportDetail struct {
	From       space.Location `json:"from"`
	Target     space.Location `json:"target"`
	Landing    space.Vec3     `json:"landing"`
	Elapsed    int            `json:"elapsed"`
	Obstructed bool           `json:"obstructed,omitempty"`
}

// EventSink receives every event on the tick goroutine. Implementations must
// not block for long; slow sinks should queue and drop.
type EventSink interface {
	WriteEvent(ev Event) error
}
