package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"mapkit/internal/protocol"
	"mapkit/internal/sim/engine"
	"mapkit/internal/sim/gridworld"
	"mapkit/internal/sim/space"
	"mapkit/internal/transport/cues"
)

// actorHandlers drive the built-in grid host: actors connect, walk and
// disconnect over loopback HTTP.
type actorHandlers struct {
	u        *gridworld.Universe
	wilds    *gridworld.Wilds
	eng      *engine.Engine
	defWorld space.WorldKey
}

type joinReq struct {
	ID    space.ActorID  `json:"id"`
	World space.WorldKey `json:"world,omitempty"`
	Pos   *space.Vec3    `json:"pos,omitempty"`
}

type moveReq struct {
	World space.WorldKey `json:"world,omitempty"`
	Pos   space.Vec3     `json:"pos"`
}

func (h *actorHandlers) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/v1/actors", loopbackOnly(h.list))
	mux.HandleFunc("POST /admin/v1/actors", loopbackOnly(h.join))
	mux.HandleFunc("POST /admin/v1/actors/{id}/move", loopbackOnly(h.move))
	mux.HandleFunc("DELETE /admin/v1/actors/{id}", loopbackOnly(h.leave))
}

func (h *actorHandlers) list(rw http.ResponseWriter, r *http.Request) {
	type row struct {
		ID       space.ActorID  `json:"id"`
		Location space.Location `json:"location"`
		InBattle bool           `json:"in_battle"`
	}
	out := []row{}
	for _, id := range h.u.Online() {
		a, ok := h.u.Player(id)
		if !ok {
			continue
		}
		out = append(out, row{ID: id, Location: a.Location(), InBattle: h.wilds.InBattle(id)})
	}
	writeJSON(rw, http.StatusOK, map[string]any{"actors": out})
}

func (h *actorHandlers) join(rw http.ResponseWriter, r *http.Request) {
	var req joinReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(string(req.ID)) == "" {
		writeJSON(rw, http.StatusBadRequest, protocol.NewError(protocol.ErrBadRequest, "id is required"))
		return
	}
	if _, ok := h.u.Player(req.ID); ok {
		writeJSON(rw, http.StatusConflict, protocol.NewError(protocol.ErrConflict, "actor already online"))
		return
	}
	world := req.World
	if world == "" {
		world = h.defWorld
	}
	w, ok := h.u.Grid(world)
	if !ok {
		writeJSON(rw, http.StatusNotFound, protocol.NewError(protocol.ErrWorldNotFound, "unknown world"))
		return
	}
	pos := space.Vec3{X: 0.5, Y: float64(w.SurfaceY(0, 0)), Z: 0.5}
	if req.Pos != nil {
		pos = *req.Pos
	}
	a := gridworld.NewActor(req.ID, world, pos)
	h.u.AddActor(a)
	select {
	case h.eng.Join() <- req.ID:
	case <-r.Context().Done():
		h.u.RemoveActor(req.ID)
		return
	}
	writeJSON(rw, http.StatusCreated, map[string]any{"id": req.ID, "location": a.Location()})
}

func (h *actorHandlers) move(rw http.ResponseWriter, r *http.Request) {
	a, ok := h.u.Player(space.ActorID(r.PathValue("id")))
	if !ok {
		writeJSON(rw, http.StatusNotFound, protocol.NewError(protocol.ErrNoActor, "actor not online"))
		return
	}
	var req moveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(rw, http.StatusBadRequest, protocol.NewError(protocol.ErrProtoBadRequest, "bad json"))
		return
	}
	world := req.World
	if world == "" {
		world = a.Location().World
	}
	if _, ok := h.u.Grid(world); !ok {
		writeJSON(rw, http.StatusNotFound, protocol.NewError(protocol.ErrWorldNotFound, "unknown world"))
		return
	}
	a.MoveTo(world, req.Pos)
	writeJSON(rw, http.StatusOK, map[string]any{"id": a.ID(), "location": a.Location()})
}

func (h *actorHandlers) leave(rw http.ResponseWriter, r *http.Request) {
	id := space.ActorID(r.PathValue("id"))
	if _, ok := h.u.Player(id); !ok {
		writeJSON(rw, http.StatusNotFound, protocol.NewError(protocol.ErrNoActor, "actor not online"))
		return
	}
	select {
	case h.eng.Leave() <- id:
	case <-r.Context().Done():
		return
	}
	h.u.RemoveActor(id)
	h.wilds.EndBattle(id)
	writeJSON(rw, http.StatusOK, map[string]any{"id": id, "left": true})
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !cues.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
