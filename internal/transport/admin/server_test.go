package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	persistlog "mapkit/internal/persistence/log"
	"mapkit/internal/persistence/zonestore"
	"mapkit/internal/protocol"
	"mapkit/internal/sim/engine"
	"mapkit/internal/sim/space"
	"mapkit/internal/sim/zones"
)

type fakeEngine struct {
	state    engine.State
	err      error
	teleport []space.Location
}

func (f *fakeEngine) State(context.Context) (engine.State, error) { return f.state, f.err }

func (f *fakeEngine) QueueTeleport(_ context.Context, _ space.ActorID, target space.Location) error {
	if f.err != nil {
		return f.err
	}
	f.teleport = append(f.teleport, target)
	return nil
}

func (f *fakeEngine) Ledger(_ context.Context, req engine.LedgerRequest) (engine.LedgerResult, error) {
	return engine.LedgerResult{Original: req.Pos}, f.err
}

func (f *fakeEngine) BattleFled(context.Context, space.ActorID) (engine.FleeResult, error) {
	if f.err != nil {
		return engine.FleeResult{}, f.err
	}
	return engine.FleeResult{Handle: "wild-1", Despawned: true}, nil
}

func (f *fakeEngine) LevelCap(context.Context, engine.LevelCapRequest) (engine.LevelCapResponse, error) {
	return engine.LevelCapResponse{}, f.err
}

type memAudit struct {
	mu      sync.Mutex
	entries []persistlog.AuditEntry
}

func (m *memAudit) WriteAudit(e persistlog.AuditEntry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	srv   *httptest.Server
	store *zonestore.Store
	eng   *fakeEngine
	audit *memAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	store, _, err := zonestore.Open(filepath.Join(t.TempDir(), "zones.json"), zones.NewIndex(), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	f := &fixture{store: store, eng: &fakeEngine{}, audit: &memAudit{}}
	s := &Server{Log: logger, Store: store, Engine: f.eng, Audit: f.audit}
	mux := http.NewServeMux()
	s.Register(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func decodeInto(t *testing.T, raw []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func errCode(t *testing.T, raw []byte) string {
	t.Helper()
	var m protocol.ErrorMsg
	decodeInto(t, raw, &m)
	return m.Code
}

func TestZoneLifecycle(t *testing.T) {
	f := newFixture(t)

	code, raw := f.do(t, http.MethodPost, "/admin/v1/zones", CreateZoneRequest{
		Name:  "Route 1",
		World: "overworld",
		Min:   [3]int{10, 64, 10},
		Max:   [3]int{0, 64, 0},
		Spawns: []zones.SpawnEntry{
			{Species: "cobblemon:pidgey", MinLevel: 2, MaxLevel: 4, Weight: 10},
		},
	})
	if code != http.StatusCreated {
		t.Fatalf("create: %d %s", code, raw)
	}
	var z zones.Zone
	decodeInto(t, raw, &z)
	if z.MinX != 0 || z.MaxX != 10 || z.Spawns[0].Time != zones.TimeBoth {
		t.Fatalf("created zone not normalized: %+v", z)
	}
	id := z.ID.String()

	code, raw = f.do(t, http.MethodGet, "/admin/v1/zones?world=overworld", nil)
	var list struct {
		Zones []ZoneSummary `json:"zones"`
		Count int           `json:"count"`
	}
	decodeInto(t, raw, &list)
	if code != http.StatusOK || list.Count != 1 || list.Zones[0].ID != id || list.Zones[0].Spawns != 1 {
		t.Fatalf("list: %d %s", code, raw)
	}
	_, raw = f.do(t, http.MethodGet, "/admin/v1/zones?world=nether", nil)
	decodeInto(t, raw, &list)
	if list.Count != 0 {
		t.Fatalf("world filter: %s", raw)
	}

	if code, raw = f.do(t, http.MethodGet, "/admin/v1/zones/"+id, nil); code != http.StatusOK {
		t.Fatalf("get: %d %s", code, raw)
	}

	// Standing one block above the layer still resolves the zone.
	code, raw = f.do(t, http.MethodGet, "/admin/v1/zones/checklist?world=overworld&x=5&y=65&z=5", nil)
	if code != http.StatusOK {
		t.Fatalf("checklist: %d %s", code, raw)
	}
	var cl Checklist
	decodeInto(t, raw, &cl)
	if cl.Name != "Route 1" || len(cl.Species) != 1 || cl.Species[0].Species != "pidgey" || cl.Species[0].Time != zones.TimeBoth {
		t.Fatalf("checklist: %+v", cl)
	}

	code, raw = f.do(t, http.MethodPost, "/admin/v1/zones/"+id+"/spawns", zones.SpawnEntry{
		Species: "rattata", MinLevel: 1, MaxLevel: 3, Weight: 5, Time: zones.TimeNight,
	})
	decodeInto(t, raw, &z)
	if code != http.StatusOK || len(z.Spawns) != 2 {
		t.Fatalf("add spawn: %d %s", code, raw)
	}
	code, raw = f.do(t, http.MethodPost, "/admin/v1/zones/"+id+"/spawns", zones.SpawnEntry{Species: "x", MinLevel: 5, MaxLevel: 1, Weight: 1})
	if code != http.StatusBadRequest || errCode(t, raw) != protocol.ErrBadRequest {
		t.Fatalf("invalid spawn: %d %s", code, raw)
	}

	code, raw = f.do(t, http.MethodDelete, "/admin/v1/zones/"+id+"/spawns?species=RATTATA", nil)
	var rm struct {
		Removed int `json:"removed"`
	}
	decodeInto(t, raw, &rm)
	if code != http.StatusOK || rm.Removed != 1 {
		t.Fatalf("remove spawn: %d %s", code, raw)
	}

	if code, raw = f.do(t, http.MethodDelete, "/admin/v1/zones/"+id, nil); code != http.StatusOK {
		t.Fatalf("delete: %d %s", code, raw)
	}
	code, raw = f.do(t, http.MethodGet, "/admin/v1/zones/"+id, nil)
	if code != http.StatusNotFound || errCode(t, raw) != protocol.ErrNotFound {
		t.Fatalf("get after delete: %d %s", code, raw)
	}
	if code, _ = f.do(t, http.MethodDelete, "/admin/v1/zones/"+id, nil); code != http.StatusNotFound {
		t.Fatalf("second delete: %d", code)
	}

	got := strings.Join(f.audit.actions(), ",")
	if got != "ZONE_CREATE,SPAWN_ADD,SPAWN_REMOVE,ZONE_REMOVE" {
		t.Fatalf("audit trail: %s", got)
	}

	// Mutations reach disk.
	if _, err := f.store.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if f.store.Index().Len() != 0 {
		t.Fatalf("reloaded %d zones", f.store.Index().Len())
	}
}

func TestRemoveHereAndByName(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"Viridian Forest", "Route 22"} {
		req := CreateZoneRequest{Name: name, World: "overworld", Min: [3]int{0, 70, 0}, Max: [3]int{4, 70, 4}}
		if name == "Route 22" {
			req.Min, req.Max = [3]int{20, 64, 20}, [3]int{30, 64, 30}
		}
		if code, raw := f.do(t, http.MethodPost, "/admin/v1/zones", req); code != http.StatusCreated {
			t.Fatalf("create %s: %d %s", name, code, raw)
		}
	}

	code, raw := f.do(t, http.MethodPost, "/admin/v1/zones/removehere", LocationRequest{World: "overworld", X: 25, Y: 65, Z: 25})
	if code != http.StatusOK || !strings.Contains(string(raw), "Route 22") {
		t.Fatalf("removehere: %d %s", code, raw)
	}
	code, raw = f.do(t, http.MethodPost, "/admin/v1/zones/removehere", LocationRequest{World: "overworld", X: 25, Y: 65, Z: 25})
	if code != http.StatusNotFound {
		t.Fatalf("removehere on empty cell: %d %s", code, raw)
	}

	code, raw = f.do(t, http.MethodDelete, "/admin/v1/zones?name=viridian", nil)
	if code != http.StatusOK || !strings.Contains(string(raw), "Viridian Forest") {
		t.Fatalf("remove by prefix: %d %s", code, raw)
	}
	if code, _ = f.do(t, http.MethodDelete, "/admin/v1/zones?name=", nil); code != http.StatusBadRequest {
		t.Fatalf("empty name: %d", code)
	}
	if f.store.Index().Len() != 0 {
		t.Fatalf("zones left: %d", f.store.Index().Len())
	}
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		method, path string
		body         any
		code         string
	}{
		{http.MethodGet, "/admin/v1/zones/not-a-uuid", nil, protocol.ErrBadRequest},
		{http.MethodPost, "/admin/v1/zones", CreateZoneRequest{Name: "x"}, protocol.ErrBadRequest},
		{http.MethodPost, "/admin/v1/zones", `{"name":"x","bogus":1}`, protocol.ErrProtoBadRequest},
		{http.MethodPost, "/admin/v1/zones", `{`, protocol.ErrProtoBadRequest},
		{http.MethodGet, "/admin/v1/zones/checklist?world=overworld&x=1&z=1", nil, protocol.ErrBadRequest},
		{http.MethodGet, "/admin/v1/zones/checklist?x=1&y=1&z=1", nil, protocol.ErrBadRequest},
		{http.MethodPost, "/admin/v1/teleport", TeleportRequest{Actor: "p1"}, protocol.ErrBadRequest},
	}
	for _, c := range cases {
		code, raw := f.do(t, c.method, c.path, c.body)
		if code != http.StatusBadRequest || errCode(t, raw) != c.code {
			t.Fatalf("%s %s: %d %s", c.method, c.path, code, raw)
		}
	}
}

func TestEngineRoutes(t *testing.T) {
	f := newFixture(t)
	f.eng.state = engine.State{Tick: 7, Online: 2}

	code, raw := f.do(t, http.MethodGet, "/admin/v1/state", nil)
	var st engine.State
	decodeInto(t, raw, &st)
	if code != http.StatusOK || st.Tick != 7 || st.Online != 2 {
		t.Fatalf("state: %d %s", code, raw)
	}

	code, raw = f.do(t, http.MethodPost, "/admin/v1/teleport", TeleportRequest{
		Actor: "p1", Target: LocationRequest{World: "nether", X: 1, Y: 32, Z: 1},
	})
	if code != http.StatusAccepted || len(f.eng.teleport) != 1 || f.eng.teleport[0] != space.At("nether", 1, 32, 1) {
		t.Fatalf("teleport: %d %s", code, raw)
	}

	code, raw = f.do(t, http.MethodPost, "/admin/v1/flee", FleeRequest{Actor: "p1"})
	var fr engine.FleeResult
	decodeInto(t, raw, &fr)
	if code != http.StatusOK || !fr.Despawned || fr.Handle != "wild-1" {
		t.Fatalf("flee: %d %s", code, raw)
	}

	code, raw = f.do(t, http.MethodPost, "/admin/v1/ledger", engine.LedgerRequest{Op: engine.OpResolve, World: "overworld", Pos: space.Vec3i{X: 1, Y: 2, Z: 3}})
	var lr engine.LedgerResult
	decodeInto(t, raw, &lr)
	if code != http.StatusOK || lr.Original != (space.Vec3i{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("ledger: %d %s", code, raw)
	}

	errs := []struct {
		err    error
		status int
		code   string
	}{
		{engine.ErrNoActor, http.StatusNotFound, protocol.ErrNoActor},
		{engine.ErrBusy, http.StatusConflict, protocol.ErrBusy},
		{engine.ErrBadOp, http.StatusBadRequest, protocol.ErrBadRequest},
		{engine.ErrStopped, http.StatusServiceUnavailable, protocol.ErrStopped},
	}
	for _, c := range errs {
		f.eng.err = c.err
		code, raw = f.do(t, http.MethodPost, "/admin/v1/levelcap", engine.LevelCapRequest{Op: engine.CapCandy, Owner: "p1"})
		if code != c.status || errCode(t, raw) != c.code {
			t.Fatalf("%v: %d %s", c.err, code, raw)
		}
	}
}

func TestRemoteForbidden(t *testing.T) {
	s := &Server{Engine: &fakeEngine{}}
	mux := http.NewServeMux()
	s.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "10.0.0.5:4242"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote status=%d", rec.Code)
	}

	s.AllowRemote = true
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed remote status=%d body=%s", rec.Code, rec.Body.String())
	}
}
