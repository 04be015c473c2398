package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "mapkit/internal/persistence/log"
	"mapkit/internal/persistence/zonestore"
	"mapkit/internal/protocol"
	"mapkit/internal/sim/engine"
	"mapkit/internal/sim/gridworld"
	"mapkit/internal/sim/space"
	"mapkit/internal/sim/tuning"
	"mapkit/internal/sim/worlds"
	"mapkit/internal/sim/zones"
	"mapkit/internal/transport/admin"
	"mapkit/internal/transport/cues"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		seed       = flag.Int64("seed", 1337, "encounter rng seed")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		worldsPath = flag.String("worlds", "", "path to worlds.yaml (default: <configs>/worlds.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		zonesPath  = flag.String("zones", "", "zone store file (default: <data>/grass_zones.json)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite event index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	wp := strings.TrimSpace(*worldsPath)
	if wp == "" {
		wp = filepath.Join(*configDir, "worlds.yaml")
	}
	if _, err := os.Stat(wp); err != nil {
		logger.Printf("worlds config not found (%s); using a single default world", wp)
		wp = ""
	}
	wcfg, err := worlds.Load(wp)
	if err != nil {
		logger.Fatalf("load worlds config: %v", err)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	zp := strings.TrimSpace(*zonesPath)
	if zp == "" {
		zp = filepath.Join(*dataDir, "grass_zones.json")
	}
	store, report, err := zonestore.Open(zp, zones.NewIndex(), log.New(os.Stdout, "[zones] ", log.LstdFlags))
	if err != nil {
		logger.Fatalf("open zone store: %v", err)
	}
	logger.Printf("zones loaded=%d dropped_zones=%d dropped_spawns=%d rewritten=%v",
		report.Loaded, report.DroppedZones, report.DroppedSpawns, report.Rewritten)

	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertConfig(map[string]any{"tuning": tune, "worlds": wcfg}); err != nil {
			logger.Printf("index backend: upsert configs: %v", err)
		}
	}

	journal := persistlog.NewEventJournal(*dataDir)
	defer journal.Close()
	auditLog := persistlog.NewAuditLogger(*dataDir)
	defer auditLog.Close()

	u, pads := buildUniverse(wcfg)
	wilds := gridworld.NewWilds(u)
	hub := cues.NewHub(log.New(os.Stdout, "[cues] ", log.LstdFlags))

	cfg := engine.ConfigFromTuning(tune)
	cfg.Pads = pads
	cfg.Seed = *seed
	sinks := []engine.EventSink{journal, hub}
	if idx != nil {
		sinks = append(sinks, idx)
	}
	eng := engine.New(cfg, engine.Host{Worlds: u, Actors: u, Sink: hub, Advance: u.Advance}, store.Index(), engine.Options{
		Logger: log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds),
		Domain: encounterEnv(wilds),
		Sinks:  sinks,
	})
	hub.Tick = eng.CurrentTick
	refs := worldRefs(wcfg)
	hub.Welcome = func(m *protocol.WelcomeMsg) {
		m.TickRateHz = cfg.TickRateHz
		m.Worlds = refs
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	rt := &serverRuntime{
		log:         logger,
		universe:    u,
		wilds:       wilds,
		defWorld:    space.WorldKey(wcfg.DefaultWorldID),
		eng:         eng,
		store:       store,
		hub:         hub,
		idx:         idx,
		audit:       auditLog,
		enableAdmin: envBool("MK_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		enablePprof: envBool("MK_ENABLE_PPROF_HTTP", false),
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           rt.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s worlds=%v pads=%d zones=%d", *addr, wcfg.Manifest(), len(pads), store.Index().Len())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

type serverRuntime struct {
	log      *log.Logger
	universe *gridworld.Universe
	wilds    *gridworld.Wilds
	defWorld space.WorldKey
	eng      *engine.Engine
	store    *zonestore.Store
	hub      *cues.Hub
	idx      runtimeIndex
	audit    admin.Auditor

	enableAdmin bool
	enablePprof bool
}

func (rt *serverRuntime) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.handleMetrics)

	if rt.enableAdmin {
		// Local-only admin endpoints.
		adm := &admin.Server{Log: rt.log, Store: rt.store, Engine: rt.eng, Audit: rt.audit}
		adm.Register(mux)
		(&actorHandlers{u: rt.universe, wilds: rt.wilds, eng: rt.eng, defWorld: rt.defWorld}).register(mux)
		mux.HandleFunc("/admin/v1/cues", rt.hub.WSHandler())
	} else {
		rt.log.Printf("admin endpoints disabled (MK_ENABLE_ADMIN_HTTP=false)")
	}
	if rt.enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (rt *serverRuntime) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	st, err := rt.eng.State(ctx)
	if err != nil {
		st.Tick = rt.eng.CurrentTick()
	}

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP mapkit_engine_tick Current engine tick.\n")
	fmt.Fprintf(rw, "# TYPE mapkit_engine_tick gauge\n")
	fmt.Fprintf(rw, "mapkit_engine_tick %d\n", st.Tick)

	fmt.Fprintf(rw, "# HELP mapkit_actors_online Connected actors.\n")
	fmt.Fprintf(rw, "# TYPE mapkit_actors_online gauge\n")
	fmt.Fprintf(rw, "mapkit_actors_online %d\n", st.Online)

	fmt.Fprintf(rw, "# HELP mapkit_zones Loaded grass zones.\n")
	fmt.Fprintf(rw, "# TYPE mapkit_zones gauge\n")
	fmt.Fprintf(rw, "mapkit_zones %d\n", rt.store.Index().Len())

	fmt.Fprintf(rw, "# HELP mapkit_component_size Live entries per engine component.\n")
	fmt.Fprintf(rw, "# TYPE mapkit_component_size gauge\n")
	for _, c := range []struct {
		name string
		n    int
	}{
		{"pending_reversions", st.PendingReversions},
		{"aliases", st.Aliases},
		{"transitions", st.Transitions},
		{"arrival_bindings", st.ArrivalBindings},
		{"cooldowns", st.Cooldowns},
		{"active_wilds", st.ActiveWilds},
		{"cap_tags", st.CapTags},
		{"cap_tokens", st.CapTokens},
	} {
		fmt.Fprintf(rw, "mapkit_component_size{component=%q} %d\n", c.name, c.n)
	}

	fmt.Fprintf(rw, "# HELP mapkit_cue_subscribers Connected cue subscribers.\n")
	fmt.Fprintf(rw, "# TYPE mapkit_cue_subscribers gauge\n")
	fmt.Fprintf(rw, "mapkit_cue_subscribers %d\n", rt.hub.Len())

	fmt.Fprintf(rw, "# HELP mapkit_cue_dropped_total Messages dropped for slow subscribers.\n")
	fmt.Fprintf(rw, "# TYPE mapkit_cue_dropped_total counter\n")
	fmt.Fprintf(rw, "mapkit_cue_dropped_total %d\n", rt.hub.Drops())

	if rt.idx != nil {
		s := rt.idx.Stats()
		fmt.Fprintf(rw, "# HELP mapkit_index_queue_depth Event index queue depth.\n")
		fmt.Fprintf(rw, "# TYPE mapkit_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "mapkit_index_queue_depth %d\n", s.QueueDepth)
		fmt.Fprintf(rw, "# HELP mapkit_index_dropped_total Events dropped because the index queue was full.\n")
		fmt.Fprintf(rw, "# TYPE mapkit_index_dropped_total counter\n")
		fmt.Fprintf(rw, "mapkit_index_dropped_total %d\n", s.DropEventTotal)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
