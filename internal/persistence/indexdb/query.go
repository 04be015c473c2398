package indexdb

import (
	"context"
	"database/sql"
)

type EncounterRow struct {
	Tick    uint64 `json:"tick"`
	Actor   string `json:"actor"`
	World   string `json:"world"`
	Pos     [3]int `json:"pos"`
	ZoneID  string `json:"zone_id"`
	Species string `json:"species"`
	Level   int    `json:"level"`
	Shiny   bool   `json:"shiny"`
	Handle  string `json:"handle,omitempty"`
	Refused bool   `json:"refused,omitempty"`
}

type ReversionRow struct {
	Tick    uint64 `json:"tick"`
	Kind    string `json:"kind"`
	World   string `json:"world"`
	Pos     [3]int `json:"pos"`
	MovedTo [3]int `json:"moved_to"`
	Block   string `json:"block"`
}

type TeleportRow struct {
	Tick        uint64     `json:"tick"`
	Kind        string     `json:"kind"`
	Actor       string     `json:"actor"`
	FromWorld   string     `json:"from_world"`
	TargetWorld string     `json:"target_world"`
	Target      [3]int     `json:"target"`
	Landing     [3]float64 `json:"landing"`
	Elapsed     int        `json:"elapsed"`
	Obstructed  bool       `json:"obstructed,omitempty"`
}

type SpeciesCount struct {
	Species string `json:"species"`
	Count   int    `json:"count"`
	Shiny   int    `json:"shiny"`
}

func clampLimit(n int) int {
	if n <= 0 || n > 1000 {
		return 50
	}
	return n
}

// RecentEncounters returns the latest encounters, newest first. An empty
// actor matches everyone.
func RecentEncounters(ctx context.Context, db *sql.DB, actor string, limit int) ([]EncounterRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT tick,actor,world,x,y,z,zone_id,species,level,shiny,COALESCE(handle,''),refused
		FROM encounters WHERE (?='' OR actor=?) ORDER BY tick DESC, seq DESC LIMIT ?`, actor, actor, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EncounterRow
	for rows.Next() {
		var r EncounterRow
		var shiny, refused int
		if err := rows.Scan(&r.Tick, &r.Actor, &r.World, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.ZoneID, &r.Species, &r.Level, &shiny, &r.Handle, &refused); err != nil {
			return nil, err
		}
		r.Shiny, r.Refused = shiny != 0, refused != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// SpeciesCounts tallies started encounters per species.
func SpeciesCounts(ctx context.Context, db *sql.DB) ([]SpeciesCount, error) {
	rows, err := db.QueryContext(ctx, `SELECT species, COUNT(*), SUM(shiny) FROM encounters
		WHERE refused=0 GROUP BY species ORDER BY COUNT(*) DESC, species`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SpeciesCount
	for rows.Next() {
		var c SpeciesCount
		if err := rows.Scan(&c.Species, &c.Count, &c.Shiny); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func RecentReversions(ctx context.Context, db *sql.DB, limit int) ([]ReversionRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT tick,kind,world,x,y,z,moved_x,moved_y,moved_z,block
		FROM reversions ORDER BY tick DESC, seq DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReversionRow
	for rows.Next() {
		var r ReversionRow
		if err := rows.Scan(&r.Tick, &r.Kind, &r.World, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.MovedTo[0], &r.MovedTo[1], &r.MovedTo[2], &r.Block); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func RecentTeleports(ctx context.Context, db *sql.DB, actor string, limit int) ([]TeleportRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT tick,kind,actor,COALESCE(from_world,''),target_world,target_x,target_y,target_z,landing_x,landing_y,landing_z,elapsed,obstructed
		FROM teleports WHERE (?='' OR actor=?) ORDER BY tick DESC, seq DESC LIMIT ?`, actor, actor, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TeleportRow
	for rows.Next() {
		var r TeleportRow
		var obstructed int
		if err := rows.Scan(&r.Tick, &r.Kind, &r.Actor, &r.FromWorld, &r.TargetWorld, &r.Target[0], &r.Target[1], &r.Target[2],
			&r.Landing[0], &r.Landing[1], &r.Landing[2], &r.Elapsed, &obstructed); err != nil {
			return nil, err
		}
		r.Obstructed = obstructed != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
