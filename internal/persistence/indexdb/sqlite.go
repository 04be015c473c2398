package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"mapkit/internal/sim/engine"
)

// SQLiteIndex is a secondary, queryable index of engine events. Writes are
// queued and applied by one writer goroutine; the zstd journal remains the
// source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvents atomic.Uint64
}

type req struct {
	ev engine.Event
}

type Stats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	DropEventTotal uint64 `json:"drop_event_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	s, err := open(path, 65536)
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func open(path string, queue int) (*SQLiteIndex, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteIndex{db: db, ch: make(chan req, queue)}, nil
}

// OpenDB opens the index file with the writer pragmas applied. Readers (the
// admin CLI) use it directly.
func OpenDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			actor TEXT,
			world TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_tick ON events(kind, tick);`,
		`CREATE TABLE IF NOT EXISTS encounters (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			world TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			zone_id TEXT NOT NULL,
			species TEXT NOT NULL,
			level INTEGER NOT NULL,
			shiny INTEGER NOT NULL,
			handle TEXT,
			refused INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_encounters_species ON encounters(species, tick);`,
		`CREATE TABLE IF NOT EXISTS reversions (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			world TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			moved_x INTEGER NOT NULL,
			moved_y INTEGER NOT NULL,
			moved_z INTEGER NOT NULL,
			block TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS teleports (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			actor TEXT NOT NULL,
			from_world TEXT,
			target_world TEXT NOT NULL,
			target_x INTEGER NOT NULL,
			target_y INTEGER NOT NULL,
			target_z INTEGER NOT NULL,
			landing_x REAL NOT NULL,
			landing_y REAL NOT NULL,
			landing_z REAL NOT NULL,
			elapsed INTEGER NOT NULL,
			obstructed INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_teleports_actor ON teleports(actor, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteEvent queues ev. It never blocks the tick loop.
func (s *SQLiteIndex) WriteEvent(ev engine.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{ev: ev}:
	default:
		// Drop if the indexer falls behind; the journal keeps everything.
		s.dropEvents.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropEventTotal: s.dropEvents.Load(),
	}
}

// UpsertConfig records the loaded config documents (tuning, worlds) with a
// digest of their canonical JSON.
func (s *SQLiteIndex) UpsertConfig(docs map[string]any) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for name, v := range docs {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
		sum := sha256.Sum256(b)
		if _, err := stmt.Exec(name, hex.EncodeToString(sum[:]), string(b), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(tick,seq,kind,actor,world,raw_json) VALUES(?,?,?,?,?,?)`)
	insertEncounter, _ := s.db.Prepare(`INSERT OR REPLACE INTO encounters(tick,seq,actor,world,x,y,z,zone_id,species,level,shiny,handle,refused) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertReversion, _ := s.db.Prepare(`INSERT OR REPLACE INTO reversions(tick,seq,kind,world,x,y,z,moved_x,moved_y,moved_z,block) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertTeleport, _ := s.db.Prepare(`INSERT OR REPLACE INTO teleports(tick,seq,kind,actor,from_world,target_world,target_x,target_y,target_z,landing_x,landing_y,landing_z,elapsed,obstructed) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEvent, insertEncounter, insertReversion, insertTeleport} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastTick uint64
		seq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return true
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		ev := r.ev
		if ev.Tick != lastTick {
			lastTick = ev.Tick
			seq = 0
		}
		n := seq
		seq++
		tick := int64(ev.Tick)

		raw, _ := json.Marshal(ev)
		if !exec(insertEvent, tick, n, string(ev.Kind), string(ev.Actor), string(ev.World), string(raw)) {
			continue
		}

		switch {
		case ev.Encounter != nil:
			e := ev.Encounter
			exec(insertEncounter, tick, n, string(e.Actor), string(e.At.World),
				e.At.Pos.X, e.At.Pos.Y, e.At.Pos.Z,
				e.ZoneID.String(), e.Species, e.Level, boolInt(e.Shiny), ev.Handle,
				boolInt(ev.Kind == engine.EventEncounterRefused))
		case ev.Reversion != nil:
			d := ev.Reversion
			exec(insertReversion, tick, n, string(ev.Kind), string(d.Original.World),
				d.Original.Pos.X, d.Original.Pos.Y, d.Original.Pos.Z,
				d.MovedTo.Pos.X, d.MovedTo.Pos.Y, d.MovedTo.Pos.Z,
				d.Snapshot.Kind)
		case ev.Teleport != nil:
			d := ev.Teleport
			exec(insertTeleport, tick, n, string(ev.Kind), string(ev.Actor), string(d.From.World),
				string(d.Target.World), d.Target.Pos.X, d.Target.Pos.Y, d.Target.Pos.Z,
				d.Landing.X, d.Landing.Y, d.Landing.Z, d.Elapsed, boolInt(d.Obstructed))
		}

		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
