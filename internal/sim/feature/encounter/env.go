package encounter

import "mapkit/internal/sim/space"

// Env is the domain layer the scheduler calls out to. Every hook is optional.
type Env struct {
	InEncounterFn    func(id space.ActorID) bool
	StartEncounterFn func(req Request) (handle string, ok bool)
	DespawnFn        func(id space.ActorID, handle string) bool
}

func (e Env) InEncounter(id space.ActorID) bool {
	if e.InEncounterFn == nil {
		return false
	}
	return e.InEncounterFn(id)
}

func (e Env) StartEncounter(req Request) (string, bool) {
	if e.StartEncounterFn == nil {
		return "", false
	}
	return e.StartEncounterFn(req)
}

func (e Env) Despawn(id space.ActorID, handle string) bool {
	if e.DespawnFn == nil {
		return false
	}
	return e.DespawnFn(id, handle)
}
