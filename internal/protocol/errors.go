package protocol

import (
	"errors"

	"mapkit/internal/persistence/zonestore"
	"mapkit/internal/sim/engine"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Request layer.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrNotFound     = "E_NOT_FOUND"
	ErrConflict     = "E_CONFLICT"
	ErrNoPermission = "E_NO_PERMISSION"

	// Engine state.
	ErrWorldNotFound = "E_WORLD_NOT_FOUND"
	ErrNoActor       = "E_NO_ACTOR"
	ErrBusy          = "E_BUSY"
	ErrStopped       = "E_STOPPED"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrNotFound:        {},
	ErrConflict:        {},
	ErrNoPermission:    {},
	ErrWorldNotFound:   {},
	ErrNoActor:         {},
	ErrBusy:            {},
	ErrStopped:         {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps engine and store errors onto wire codes.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, zonestore.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, engine.ErrNoWorld):
		return ErrWorldNotFound
	case errors.Is(err, engine.ErrNoActor):
		return ErrNoActor
	case errors.Is(err, engine.ErrBusy), errors.Is(err, engine.ErrPending):
		return ErrBusy
	case errors.Is(err, engine.ErrOccupied), errors.Is(err, engine.ErrNoBlock):
		return ErrConflict
	case errors.Is(err, engine.ErrBadOp), errors.Is(err, zonestore.ErrInvalid):
		return ErrBadRequest
	case errors.Is(err, engine.ErrStopped):
		return ErrStopped
	}
	return ErrInternal
}
