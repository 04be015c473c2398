package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mapkit/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/mapkit.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	actor := fs.String("actor", "", "actor filter (encounters, teleports)")
	_ = fs.Parse(args)

	q := "encounters"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "mapkit.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "db:", err)
		os.Exit(1)
	}
	db, err := indexdb.OpenDB(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runQuery(ctx, db, q, *actor, *limit); err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

func runQuery(ctx context.Context, db *sql.DB, q, actor string, limit int) error {
	switch q {
	case "encounters":
		rows, err := indexdb.RecentEncounters(ctx, db, actor, limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			printJSON(r)
		}
	case "species":
		rows, err := indexdb.SpeciesCounts(ctx, db)
		if err != nil {
			return err
		}
		for _, r := range rows {
			printJSON(r)
		}
	case "reversions":
		rows, err := indexdb.RecentReversions(ctx, db, limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			printJSON(r)
		}
	case "teleports":
		rows, err := indexdb.RecentTeleports(ctx, db, actor, limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			printJSON(r)
		}
	default:
		return fmt.Errorf("unknown db query %q (encounters, species, reversions, teleports)", q)
	}
	return nil
}
