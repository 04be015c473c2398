package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	persistlog "mapkit/internal/persistence/log"
	"mapkit/internal/sim/engine"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "zones":
		zonesCmd(os.Args[2:])
	case "state":
		stateCmd(os.Args[2:])
	case "db":
		dbCmd(os.Args[2:])
	case "audit":
		auditCmd(os.Args[2:])
	case "events":
		eventsCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

  zones list|show|add|remove|here|checklist|spawn-add|spawn-remove
  state
  db encounters|species|reversions|teleports
  audit   -data <dir> [-action A]
  events  -data <dir> [-kind K] [-actor ID]`)
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	action := fs.String("action", "", "action filter (ZONE_CREATE, ZONE_REMOVE, SPAWN_ADD, SPAWN_REMOVE)")
	_ = fs.Parse(args)

	err := readJSONLZstd(filepath.Join(*dataDir, "audit"), "audit-", func(raw []byte) error {
		var e persistlog.AuditEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		if *action != "" && !strings.EqualFold(e.Action, *action) {
			return nil
		}
		printJSON(e)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "audit:", err)
		os.Exit(1)
	}
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	kind := fs.String("kind", "", "event kind filter")
	actor := fs.String("actor", "", "actor filter")
	_ = fs.Parse(args)

	err := readJSONLZstd(filepath.Join(*dataDir, "events"), "events-", func(raw []byte) error {
		var ev engine.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		if *kind != "" && !strings.EqualFold(string(ev.Kind), *kind) {
			return nil
		}
		if *actor != "" && string(ev.Actor) != *actor {
			return nil
		}
		printJSON(ev)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "events:", err)
		os.Exit(1)
	}
}

// readJSONLZstd feeds every line of the <prefix>*.jsonl.zst files in dir to
// fn, oldest file first.
func readJSONLZstd(dir, prefix string, fn func(line []byte) error) error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := readOne(filepath.Join(dir, name), fn); err != nil {
			return err
		}
	}
	return nil
}

func readOne(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
