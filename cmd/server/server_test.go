package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	persistlog "mapkit/internal/persistence/log"
	"mapkit/internal/persistence/zonestore"
	"mapkit/internal/sim/engine"
	"mapkit/internal/sim/gridworld"
	"mapkit/internal/sim/space"
	"mapkit/internal/sim/tuning"
	"mapkit/internal/sim/worlds"
	"mapkit/internal/sim/zones"
	"mapkit/internal/transport/cues"
)

func findRepoRootForServerTests(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

func loadTestWorlds(t *testing.T) worlds.Config {
	t.Helper()
	cfg, err := worlds.Load(filepath.Join(findRepoRootForServerTests(t), "configs", "worlds.yaml"))
	if err != nil {
		t.Fatalf("load worlds: %v", err)
	}
	return cfg
}

func newTestRuntime(t *testing.T) *serverRuntime {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	dir := t.TempDir()
	store, _, err := zonestore.Open(filepath.Join(dir, "zones.json"), zones.NewIndex(), quiet)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	audit := persistlog.NewAuditLogger(dir)
	t.Cleanup(func() { _ = audit.Close() })

	wcfg := loadTestWorlds(t)
	u, pads := buildUniverse(wcfg)
	wilds := gridworld.NewWilds(u)
	hub := cues.NewHub(quiet)
	cfg := engine.ConfigFromTuning(tuning.Defaults())
	cfg.Pads = pads
	eng := engine.New(cfg, engine.Host{Worlds: u, Actors: u, Sink: hub, Advance: u.Advance}, store.Index(), engine.Options{
		Logger: quiet,
		Domain: encounterEnv(wilds),
		Sinks:  []engine.EventSink{hub},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = eng.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &serverRuntime{
		log:         quiet,
		universe:    u,
		wilds:       wilds,
		defWorld:    space.WorldKey(wcfg.DefaultWorldID),
		eng:         eng,
		store:       store,
		hub:         hub,
		audit:       audit,
		enableAdmin: true,
	}
}

func serve(mux *http.ServeMux, method, path, body, remote string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestBuildUniverseFromWorldsConfig(t *testing.T) {
	cfg := loadTestWorlds(t)
	u, pads := buildUniverse(cfg)
	if len(pads) != len(cfg.Pads) || len(pads) == 0 {
		t.Fatalf("pads=%d config=%d", len(pads), len(cfg.Pads))
	}
	for _, p := range pads {
		w, ok := u.Grid(p.At.World)
		if !ok {
			t.Fatalf("pad %s world %s missing", p.ID, p.At.World)
		}
		if got := w.Block(p.At.Pos).Kind; got != padKind {
			t.Fatalf("pad %s cell kind=%q", p.ID, got)
		}
		if _, ok := u.Grid(p.Target.World); !ok {
			t.Fatalf("pad %s target world %s missing", p.ID, p.Target.World)
		}
	}
	for _, ws := range cfg.Worlds {
		w, ok := u.Grid(space.WorldKey(ws.ID))
		if !ok {
			t.Fatalf("world %s missing", ws.ID)
		}
		if ws.Floor.Radius > 0 && w.SurfaceY(ws.Floor.Radius, ws.Floor.Radius) != ws.Floor.Y+1 {
			t.Fatalf("world %s floor corner surface=%d", ws.ID, w.SurfaceY(ws.Floor.Radius, ws.Floor.Radius))
		}
		if w.HasSkyLight() != ws.HasSkyLight {
			t.Fatalf("world %s sky light mismatch", ws.ID)
		}
	}

	refs := worldRefs(cfg)
	if len(refs) != len(cfg.Worlds) || refs[0].WorldID > refs[len(refs)-1].WorldID {
		t.Fatalf("world refs=%+v", refs)
	}
}

func TestMuxHealthAndLoopback(t *testing.T) {
	rt := newTestRuntime(t)
	mux := rt.mux()

	if rec := serve(mux, http.MethodGet, "/healthz", "", "8.8.8.8:1234"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
	for _, path := range []string{"/admin/v1/state", "/admin/v1/actors", "/admin/v1/zones"} {
		if rec := serve(mux, http.MethodGet, path, "", "8.8.8.8:1234"); rec.Code != http.StatusForbidden {
			t.Fatalf("%s from remote: %d", path, rec.Code)
		}
	}

	rt.enableAdmin = false
	if rec := serve(rt.mux(), http.MethodGet, "/admin/v1/state", "", "127.0.0.1:1234"); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled admin state: %d", rec.Code)
	}
}

func TestActorLifecycleAndMetrics(t *testing.T) {
	rt := newTestRuntime(t)
	mux := rt.mux()
	const local = "127.0.0.1:5555"

	rec := serve(mux, http.MethodPost, "/admin/v1/actors", `{"id":"ash"}`, local)
	if rec.Code != http.StatusCreated {
		t.Fatalf("join: %d %s", rec.Code, rec.Body.String())
	}
	if rec = serve(mux, http.MethodPost, "/admin/v1/actors", `{"id":"ash"}`, local); rec.Code != http.StatusConflict {
		t.Fatalf("double join: %d", rec.Code)
	}
	if rec = serve(mux, http.MethodPost, "/admin/v1/actors", `{"id":"misty","world":"nowhere"}`, local); rec.Code != http.StatusNotFound {
		t.Fatalf("join unknown world: %d", rec.Code)
	}

	rec = serve(mux, http.MethodPost, "/admin/v1/actors/ash/move", `{"pos":{"x":3.5,"y":64,"z":3.5}}`, local)
	if rec.Code != http.StatusOK {
		t.Fatalf("move: %d %s", rec.Code, rec.Body.String())
	}
	a, _ := rt.universe.Player("ash")
	if got := a.Location().Pos; got != (space.Vec3i{X: 3, Y: 64, Z: 3}) {
		t.Fatalf("moved to %v", got)
	}

	rec = serve(mux, http.MethodGet, "/admin/v1/actors", "", local)
	var list struct {
		Actors []struct {
			ID space.ActorID `json:"id"`
		} `json:"actors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list.Actors) != 1 || list.Actors[0].ID != "ash" {
		t.Fatalf("list: %s err=%v", rec.Body.String(), err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		rec = serve(mux, http.MethodGet, "/metrics", "", local)
		if strings.Contains(rec.Body.String(), "mapkit_actors_online 1\n") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics never reported the actor:\n%s", rec.Body.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
	for _, want := range []string{"mapkit_engine_tick ", "mapkit_zones 0", `mapkit_component_size{component="cooldowns"}`, "mapkit_cue_subscribers 0"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("metrics missing %q:\n%s", want, rec.Body.String())
		}
	}

	if rec = serve(mux, http.MethodDelete, "/admin/v1/actors/ash", "", local); rec.Code != http.StatusOK {
		t.Fatalf("leave: %d %s", rec.Code, rec.Body.String())
	}
	if rec = serve(mux, http.MethodDelete, "/admin/v1/actors/ash", "", local); rec.Code != http.StatusNotFound {
		t.Fatalf("second leave: %d", rec.Code)
	}
	if rec = serve(mux, http.MethodPost, "/admin/v1/actors/ash/move", `{"pos":{"x":0,"y":64,"z":0}}`, local); rec.Code != http.StatusNotFound {
		t.Fatalf("move after leave: %d", rec.Code)
	}
}

func TestAdminStateThroughEngine(t *testing.T) {
	rt := newTestRuntime(t)
	rec := serve(rt.mux(), http.MethodGet, "/admin/v1/state", "", "127.0.0.1:1")
	if rec.Code != http.StatusOK {
		t.Fatalf("state: %d %s", rec.Code, rec.Body.String())
	}
	var st engine.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Pads != len(loadTestWorlds(t).Pads) {
		t.Fatalf("state pads=%d", st.Pads)
	}
}
