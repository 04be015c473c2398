// Package admin serves the loopback-only administrative HTTP surface:
// zone CRUD over the zone store and engine requests (state, ledger,
// teleport, flee, level cap).
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	persistlog "mapkit/internal/persistence/log"
	"mapkit/internal/persistence/zonestore"
	"mapkit/internal/protocol"
	"mapkit/internal/sim/engine"
	"mapkit/internal/sim/space"
	"mapkit/internal/sim/zones"
	"mapkit/internal/transport/cues"
)

const maxBody = 1 << 20

// Engine is the subset of *engine.Engine the handlers call.
type Engine interface {
	State(ctx context.Context) (engine.State, error)
	QueueTeleport(ctx context.Context, id space.ActorID, target space.Location) error
	Ledger(ctx context.Context, req engine.LedgerRequest) (engine.LedgerResult, error)
	BattleFled(ctx context.Context, id space.ActorID) (engine.FleeResult, error)
	LevelCap(ctx context.Context, req engine.LevelCapRequest) (engine.LevelCapResponse, error)
}

type Auditor interface {
	WriteAudit(persistlog.AuditEntry) error
}

type Server struct {
	Log    *log.Logger
	Store  *zonestore.Store
	Engine Engine
	// Audit is optional.
	Audit Auditor
	// AllowRemote disables the loopback check.
	AllowRemote bool
	// Timeout bounds each engine round-trip.
	Timeout time.Duration
}

// Register mounts every admin route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/v1/state", s.guard(s.handleState))

	mux.HandleFunc("GET /admin/v1/zones", s.guard(s.handleListZones))
	mux.HandleFunc("POST /admin/v1/zones", s.guard(s.handleCreateZone))
	mux.HandleFunc("DELETE /admin/v1/zones", s.guard(s.handleRemoveByName))
	mux.HandleFunc("GET /admin/v1/zones/checklist", s.guard(s.handleChecklist))
	mux.HandleFunc("POST /admin/v1/zones/removehere", s.guard(s.handleRemoveHere))
	mux.HandleFunc("GET /admin/v1/zones/{id}", s.guard(s.handleGetZone))
	mux.HandleFunc("DELETE /admin/v1/zones/{id}", s.guard(s.handleRemoveZone))
	mux.HandleFunc("POST /admin/v1/zones/{id}/spawns", s.guard(s.handleAddSpawn))
	mux.HandleFunc("DELETE /admin/v1/zones/{id}/spawns", s.guard(s.handleRemoveSpawn))

	mux.HandleFunc("POST /admin/v1/ledger", s.guard(s.handleLedger))
	mux.HandleFunc("POST /admin/v1/teleport", s.guard(s.handleTeleport))
	mux.HandleFunc("POST /admin/v1/flee", s.guard(s.handleFlee))
	mux.HandleFunc("POST /admin/v1/levelcap", s.guard(s.handleLevelCap))
}

func (s *Server) guard(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.AllowRemote && !cues.IsLoopbackRemote(r.RemoteAddr) {
			writeError(rw, http.StatusForbidden, protocol.ErrNoPermission, "forbidden")
			return
		}
		h(rw, r)
	}
}

func (s *Server) engineCtx(r *http.Request) (context.Context, context.CancelFunc) {
	d := s.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

func (s *Server) audit(r *http.Request, action string, z zones.Zone, detail string) {
	if s.Audit == nil {
		return
	}
	e := persistlog.AuditEntry{
		Actor:  r.Header.Get("X-Admin-Actor"),
		Action: action,
		ZoneID: z.ID.String(),
		Zone:   z.Name,
		Detail: detail,
	}
	if err := s.Audit.WriteAudit(e); err != nil && s.Log != nil {
		s.Log.Printf("warn: audit %s: %v", action, err)
	}
}

// ZoneSummary is the list view of a zone.
type ZoneSummary struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	World     space.WorldKey `json:"worldKey"`
	Min       [3]int         `json:"min"`
	Max       [3]int         `json:"max"`
	Spawns    int            `json:"spawns"`
	ShinyOdds int            `json:"shinyOdds"`
	CreatedMs int64          `json:"timeCreated"`
}

func summarize(z zones.Zone) ZoneSummary {
	return ZoneSummary{
		ID:        z.ID.String(),
		Name:      z.Name,
		World:     z.World,
		Min:       [3]int{z.MinX, z.MinY, z.MinZ},
		Max:       [3]int{z.MaxX, z.MaxY, z.MaxZ},
		Spawns:    len(z.Spawns),
		ShinyOdds: z.ShinyOdds,
		CreatedMs: z.CreatedMs,
	}
}

func (s *Server) handleState(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.engineCtx(r)
	defer cancel()
	st, err := s.Engine.State(ctx)
	if err != nil {
		writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, st)
}

func (s *Server) handleListZones(rw http.ResponseWriter, r *http.Request) {
	world := space.WorldKey(strings.TrimSpace(r.URL.Query().Get("world")))
	all := s.Store.Index().All()
	out := make([]ZoneSummary, 0, len(all))
	for _, z := range all {
		if world != "" && z.World != world {
			continue
		}
		out = append(out, summarize(z))
	}
	writeJSON(rw, http.StatusOK, map[string]any{"zones": out, "count": len(out)})
}

func (s *Server) handleGetZone(rw http.ResponseWriter, r *http.Request) {
	id, ok := parseID(rw, r)
	if !ok {
		return
	}
	z, found := s.Store.Index().Get(id)
	if !found {
		writeErr(rw, zonestore.ErrNotFound)
		return
	}
	writeJSON(rw, http.StatusOK, z)
}

// CreateZoneRequest is the body of POST /admin/v1/zones.
type CreateZoneRequest struct {
	Name      string             `json:"name"`
	World     space.WorldKey     `json:"world"`
	Min       [3]int             `json:"min"`
	Max       [3]int             `json:"max"`
	ShinyOdds int                `json:"shinyOdds"`
	Spawns    []zones.SpawnEntry `json:"spawns,omitempty"`
}

func (s *Server) handleCreateZone(rw http.ResponseWriter, r *http.Request) {
	var req CreateZoneRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	for i := range req.Spawns {
		if req.Spawns[i].Time == "" {
			req.Spawns[i].Time = zones.TimeBoth
		}
	}
	b := zones.Bounds{
		MinX: req.Min[0], MinY: req.Min[1], MinZ: req.Min[2],
		MaxX: req.Max[0], MaxY: req.Max[1], MaxZ: req.Max[2],
	}
	z, err := s.Store.Add(req.Name, req.World, b, req.ShinyOdds, req.Spawns)
	if err != nil {
		writeErr(rw, err)
		return
	}
	s.audit(r, "ZONE_CREATE", z, "")
	writeJSON(rw, http.StatusCreated, z)
}

func (s *Server) handleRemoveZone(rw http.ResponseWriter, r *http.Request) {
	id, ok := parseID(rw, r)
	if !ok {
		return
	}
	z, _ := s.Store.Index().Get(id)
	if err := s.Store.Remove(id); err != nil {
		writeErr(rw, err)
		return
	}
	s.audit(r, "ZONE_REMOVE", z, "")
	writeJSON(rw, http.StatusOK, map[string]any{"removed": summarize(z)})
}

func (s *Server) handleRemoveByName(rw http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "missing name")
		return
	}
	z, err := s.Store.RemoveByName(name)
	if err != nil {
		writeErr(rw, err)
		return
	}
	s.audit(r, "ZONE_REMOVE", z, "by name "+name)
	writeJSON(rw, http.StatusOK, map[string]any{"removed": summarize(z)})
}

// LocationRequest names a block cell.
type LocationRequest struct {
	World space.WorldKey `json:"world"`
	X     int            `json:"x"`
	Y     int            `json:"y"`
	Z     int            `json:"z"`
}

func (l LocationRequest) Location() space.Location { return space.At(l.World, l.X, l.Y, l.Z) }

func (s *Server) handleRemoveHere(rw http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	z, err := s.Store.RemoveHere(req.Location())
	if err != nil {
		writeErr(rw, err)
		return
	}
	s.audit(r, "ZONE_REMOVE", z, "here "+req.Location().String())
	writeJSON(rw, http.StatusOK, map[string]any{"removed": summarize(z)})
}

// ChecklistEntry is one species line of a zone checklist.
type ChecklistEntry struct {
	Species string           `json:"species"`
	Aspect  string           `json:"aspect,omitempty"`
	Time    zones.TimeFilter `json:"time"`
}

type Checklist struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	MinY    int              `json:"minY"`
	MaxY    int              `json:"maxY"`
	Species []ChecklistEntry `json:"species"`
}

// handleChecklist answers "what can be found here": the zone under the
// cell (or the cell below) and its species with their time of day.
func (s *Server) handleChecklist(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	world := space.WorldKey(strings.TrimSpace(q.Get("world")))
	if world == "" {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "missing world")
		return
	}
	var xyz [3]int
	for i, k := range []string{"x", "y", "z"} {
		n, err := strconv.Atoi(q.Get(k))
		if err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad "+k)
			return
		}
		xyz[i] = n
	}
	z, ok := s.Store.Index().FindUnder(space.At(world, xyz[0], xyz[1], xyz[2]))
	if !ok {
		writeErr(rw, zonestore.ErrNotFound)
		return
	}
	out := Checklist{ID: z.ID.String(), Name: z.Name, MinY: z.MinY, MaxY: z.MaxY, Species: []ChecklistEntry{}}
	for _, e := range z.Spawns {
		out.Species = append(out.Species, ChecklistEntry{Species: e.DisplaySpecies(), Aspect: e.Aspect, Time: e.Time})
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) handleAddSpawn(rw http.ResponseWriter, r *http.Request) {
	id, ok := parseID(rw, r)
	if !ok {
		return
	}
	var e zones.SpawnEntry
	if !decodeBody(rw, r, &e) {
		return
	}
	if _, found := s.Store.Index().Get(id); !found {
		writeErr(rw, zonestore.ErrNotFound)
		return
	}
	z, err := s.Store.AddSpawn(id, e)
	if err != nil {
		writeErr(rw, err)
		return
	}
	s.audit(r, "SPAWN_ADD", z, e.Species)
	writeJSON(rw, http.StatusOK, z)
}

func (s *Server) handleRemoveSpawn(rw http.ResponseWriter, r *http.Request) {
	id, ok := parseID(rw, r)
	if !ok {
		return
	}
	species := strings.TrimSpace(r.URL.Query().Get("species"))
	if species == "" {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "missing species")
		return
	}
	z, n, err := s.Store.RemoveSpawn(id, species)
	if err != nil {
		writeErr(rw, err)
		return
	}
	if n > 0 {
		s.audit(r, "SPAWN_REMOVE", z, fmt.Sprintf("%s x%d", species, n))
	}
	writeJSON(rw, http.StatusOK, map[string]any{"removed": n, "zone": z})
}

func (s *Server) handleLedger(rw http.ResponseWriter, r *http.Request) {
	var req engine.LedgerRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	ctx, cancel := s.engineCtx(r)
	defer cancel()
	res, err := s.Engine.Ledger(ctx, req)
	if err != nil {
		writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, res)
}

type TeleportRequest struct {
	Actor  space.ActorID   `json:"actor"`
	Target LocationRequest `json:"target"`
}

func (s *Server) handleTeleport(rw http.ResponseWriter, r *http.Request) {
	var req TeleportRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	if req.Actor == "" || req.Target.World == "" {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "actor and target.world are required")
		return
	}
	ctx, cancel := s.engineCtx(r)
	defer cancel()
	if err := s.Engine.QueueTeleport(ctx, req.Actor, req.Target.Location()); err != nil {
		writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusAccepted, map[string]any{"queued": true})
}

type FleeRequest struct {
	Actor space.ActorID `json:"actor"`
}

func (s *Server) handleFlee(rw http.ResponseWriter, r *http.Request) {
	var req FleeRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	ctx, cancel := s.engineCtx(r)
	defer cancel()
	res, err := s.Engine.BattleFled(ctx, req.Actor)
	if err != nil {
		writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, res)
}

func (s *Server) handleLevelCap(rw http.ResponseWriter, r *http.Request) {
	var req engine.LevelCapRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	ctx, cancel := s.engineCtx(r)
	defer cancel()
	res, err := s.Engine.LevelCap(ctx, req)
	if err != nil {
		writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, res)
}

func parseID(rw http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(rw http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "bad json: "+err.Error())
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, protocol.NewError(code, msg))
}

// writeErr maps an engine or store error onto a status and protocol code.
func writeErr(rw http.ResponseWriter, err error) {
	code := protocol.CodeFor(err)
	writeError(rw, statusFor(code), code, err.Error())
}

func statusFor(code string) int {
	switch code {
	case protocol.ErrNotFound, protocol.ErrWorldNotFound, protocol.ErrNoActor:
		return http.StatusNotFound
	case protocol.ErrConflict, protocol.ErrBusy:
		return http.StatusConflict
	case protocol.ErrBadRequest, protocol.ErrProtoBadRequest:
		return http.StatusBadRequest
	case protocol.ErrNoPermission:
		return http.StatusForbidden
	case protocol.ErrStopped:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
