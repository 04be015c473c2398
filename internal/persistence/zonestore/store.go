// Package zonestore persists encounter zones to a single JSON file. Every
// mutation rewrites the file through a temp file and an atomic rename.
package zonestore

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"mapkit/internal/sim/space"
	"mapkit/internal/sim/zones"
)

const SchemaVersion = 1

var (
	ErrNotFound = errors.New("zone not found")
	ErrInvalid  = errors.New("invalid zone")
)

//go:embed zone.schema.json
var zoneSchemaJSON []byte

type fileData struct {
	SchemaVersion *int              `json:"schemaVersion"`
	Zones         []json.RawMessage `json:"zones"`
}

type fileOut struct {
	SchemaVersion int          `json:"schemaVersion"`
	Zones         []zones.Zone `json:"zones"`
}

// record is the loose on-disk shape. Y is the single-layer form older files use.
type record struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	WorldKey    string        `json:"worldKey"`
	MinX        int           `json:"minX"`
	MinY        *int          `json:"minY"`
	MinZ        int           `json:"minZ"`
	MaxX        int           `json:"maxX"`
	MaxY        *int          `json:"maxY"`
	MaxZ        int           `json:"maxZ"`
	Y           *int          `json:"y"`
	TimeCreated int64         `json:"timeCreated"`
	ShinyOdds   int           `json:"shinyOdds"`
	Spawns      []spawnRecord `json:"spawns"`
}

type spawnRecord struct {
	Species  string `json:"species"`
	MinLevel int    `json:"minLevel"`
	MaxLevel int    `json:"maxLevel"`
	Weight   int    `json:"weight"`
	Time     string `json:"time"`
	Aspect   string `json:"aspect"`
}

// LoadReport summarizes what Load kept and dropped.
type LoadReport struct {
	Loaded         int  `json:"loaded"`
	DroppedZones   int  `json:"dropped_zones"`
	DroppedSpawns  int  `json:"dropped_spawns"`
	VersionChanged bool `json:"version_changed"`
	Rewritten      bool `json:"rewritten"`
}

// Store owns the file and keeps idx in sync with it.
type Store struct {
	path   string
	idx    *zones.Index
	log    *log.Logger
	schema *jsonschema.Schema
	now    func() time.Time

	mu sync.Mutex
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("zone.schema.json", bytes.NewReader(zoneSchemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("zone.schema.json")
}

func New(path string, idx *zones.Index, logger *log.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("zonestore: empty path")
	}
	if idx == nil {
		idx = zones.NewIndex()
	}
	if logger == nil {
		logger = log.Default()
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("zonestore: schema: %w", err)
	}
	return &Store{path: path, idx: idx, log: logger, schema: schema, now: time.Now}, nil
}

// Open creates a store and loads the file into idx.
func Open(path string, idx *zones.Index, logger *log.Logger) (*Store, LoadReport, error) {
	s, err := New(path, idx, logger)
	if err != nil {
		return nil, LoadReport{}, err
	}
	rep, err := s.Load()
	return s, rep, err
}

func (s *Store) Index() *zones.Index { return s.idx }
func (s *Store) Path() string        { return s.path }

// Load reads the file, keeps every valid record and rewrites the file when
// anything was dropped, the version differs or the file was missing.
func (s *Store) Load() (LoadReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rep LoadReport
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.idx.Replace(nil)
		rep.Rewritten = true
		return rep, s.writeLocked(nil)
	}
	if err != nil {
		return rep, fmt.Errorf("zonestore: read: %w", err)
	}

	dirty := false
	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		s.log.Printf("warn: zone store %s unreadable, rewriting clean: %v", s.path, err)
		dirty = true
	}
	if data.SchemaVersion != nil && *data.SchemaVersion != SchemaVersion {
		s.log.Printf("warn: zone store schemaVersion %d != %d, rewriting clean", *data.SchemaVersion, SchemaVersion)
		rep.VersionChanged = true
		dirty = true
	}
	if data.Zones == nil && !dirty {
		dirty = true
	}

	loaded := make([]zones.Zone, 0, len(data.Zones))
	seen := map[uuid.UUID]bool{}
	for i, rm := range data.Zones {
		z, droppedSpawns, err := s.decode(rm)
		rep.DroppedSpawns += droppedSpawns
		if droppedSpawns > 0 {
			dirty = true
		}
		if err == nil && seen[z.ID] {
			err = fmt.Errorf("duplicate id %s", z.ID)
		}
		if err != nil {
			s.log.Printf("warn: skipping invalid zone record %d: %v", i, err)
			rep.DroppedZones++
			dirty = true
			continue
		}
		seen[z.ID] = true
		loaded = append(loaded, z)
	}

	s.idx.Replace(loaded)
	rep.Loaded = len(loaded)
	if !dirty {
		return rep, nil
	}
	rep.Rewritten = true
	return rep, s.writeLocked(loaded)
}

func (s *Store) decode(rm json.RawMessage) (zones.Zone, int, error) {
	dec := json.NewDecoder(bytes.NewReader(rm))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return zones.Zone{}, 0, err
	}
	if err := s.schema.Validate(doc); err != nil {
		return zones.Zone{}, 0, err
	}
	var r record
	if err := json.Unmarshal(rm, &r); err != nil {
		return zones.Zone{}, 0, err
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return zones.Zone{}, 0, fmt.Errorf("bad id %q: %w", r.ID, err)
	}

	var minY, maxY int
	switch {
	case r.MinY != nil && r.MaxY != nil:
		minY, maxY = *r.MinY, *r.MaxY
	case r.Y != nil:
		minY, maxY = *r.Y, *r.Y
	default:
		return zones.Zone{}, 0, fmt.Errorf("zone %s: no y bounds", id)
	}

	dropped := 0
	spawns := make([]zones.SpawnEntry, 0, len(r.Spawns))
	for _, sr := range r.Spawns {
		tf, err := zones.ParseTimeFilter(sr.Time)
		e := zones.SpawnEntry{
			Species:  strings.TrimSpace(sr.Species),
			MinLevel: sr.MinLevel,
			MaxLevel: sr.MaxLevel,
			Weight:   sr.Weight,
			Time:     tf,
			Aspect:   sr.Aspect,
		}
		if err == nil {
			err = e.Validate()
		}
		if err != nil {
			s.log.Printf("warn: zone %s: dropping spawn: %v", id, err)
			dropped++
			continue
		}
		spawns = append(spawns, e)
	}

	created := r.TimeCreated
	if created == 0 {
		created = s.now().UnixMilli()
	}
	b := zones.Bounds{MinX: r.MinX, MinY: minY, MinZ: r.MinZ, MaxX: r.MaxX, MaxY: maxY, MaxZ: r.MaxZ}
	return zones.New(id, r.Name, space.WorldKey(r.WorldKey), b, created, r.ShinyOdds, spawns), dropped, nil
}

func (s *Store) writeLocked(zs []zones.Zone) error {
	if zs == nil {
		zs = []zones.Zone{}
	}
	b, err := json.MarshalIndent(fileOut{SchemaVersion: SchemaVersion, Zones: zs}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("zonestore: rename: %w", err)
	}
	return nil
}

// commitLocked writes zs and only then swaps it into the index, so a failed
// write leaves both the file and the live zones untouched.
func (s *Store) commitLocked(zs []zones.Zone) error {
	if err := s.writeLocked(zs); err != nil {
		return err
	}
	s.idx.Replace(zs)
	return nil
}

// with returns the current zones with z replaced in place or appended.
func (s *Store) with(z zones.Zone) []zones.Zone {
	all := s.idx.All()
	for i := range all {
		if all[i].ID == z.ID {
			all[i] = z
			return all
		}
	}
	return append(all, z)
}

func (s *Store) without(id uuid.UUID) []zones.Zone {
	all := s.idx.All()
	out := all[:0]
	for _, z := range all {
		if z.ID != id {
			out = append(out, z)
		}
	}
	return out
}

// Add creates a zone with a fresh id and persists it. shinyOdds <= 0 means
// the global default.
func (s *Store) Add(name string, world space.WorldKey, b zones.Bounds, shinyOdds int, spawns []zones.SpawnEntry) (zones.Zone, error) {
	if strings.TrimSpace(string(world)) == "" {
		return zones.Zone{}, fmt.Errorf("world must not be empty: %w", ErrInvalid)
	}
	for _, e := range spawns {
		if err := e.Validate(); err != nil {
			return zones.Zone{}, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	z := zones.New(uuid.New(), strings.TrimSpace(name), world, b, s.now().UnixMilli(), shinyOdds, spawns)
	if err := s.commitLocked(s.with(z)); err != nil {
		return zones.Zone{}, err
	}
	return z, nil
}

func (s *Store) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.idx.Get(id); !ok {
		return ErrNotFound
	}
	return s.commitLocked(s.without(id))
}

// RemoveByName removes the zone FindByName resolves (exact, then prefix).
func (s *Store) RemoveByName(name string) (zones.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.idx.FindByName(name)
	if !ok {
		return zones.Zone{}, ErrNotFound
	}
	if err := s.commitLocked(s.without(z.ID)); err != nil {
		return zones.Zone{}, err
	}
	return z, nil
}

// RemoveHere removes the oldest zone under the location, trying the cell
// below when nothing contains l itself.
func (s *Store) RemoveHere(l space.Location) (zones.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.idx.FindUnder(l)
	if !ok {
		return zones.Zone{}, ErrNotFound
	}
	if err := s.commitLocked(s.without(z.ID)); err != nil {
		return zones.Zone{}, err
	}
	return z, nil
}

func (s *Store) AddSpawn(id uuid.UUID, e zones.SpawnEntry) (zones.Zone, error) {
	if e.Time == "" {
		e.Time = zones.TimeBoth
	}
	if err := e.Validate(); err != nil {
		return zones.Zone{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.idx.Get(id)
	if !ok {
		return zones.Zone{}, ErrNotFound
	}
	z = z.WithSpawnAdded(e)
	if err := s.commitLocked(s.with(z)); err != nil {
		return zones.Zone{}, err
	}
	return z, nil
}

// RemoveSpawn drops every entry for species (case-insensitive) and reports
// how many were removed.
func (s *Store) RemoveSpawn(id uuid.UUID, species string) (zones.Zone, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.idx.Get(id)
	if !ok {
		return zones.Zone{}, 0, ErrNotFound
	}
	z, n := z.WithSpawnRemoved(species)
	if err := s.commitLocked(s.with(z)); err != nil {
		return zones.Zone{}, 0, err
	}
	return z, n, nil
}
