package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"mapkit/internal/persistence/indexdb"
	persistlog "mapkit/internal/persistence/log"
	"mapkit/internal/sim/engine"
)

func TestParseVec3(t *testing.T) {
	v, err := parseVec3(" 1, -2 ,3")
	if err != nil || v != [3]int{1, -2, 3} {
		t.Fatalf("v=%v err=%v", v, err)
	}
	for _, bad := range []string{"", "1,2", "1,2,x", "1,2,3,4"} {
		if _, err := parseVec3(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestChecklistPath(t *testing.T) {
	p := checklistPath("minecraft:overworld", "5,65,-5")
	u, err := url.Parse(p)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Path != "/admin/v1/zones/checklist" {
		t.Fatalf("path=%s", u.Path)
	}
	q := u.Query()
	if q.Get("world") != "minecraft:overworld" || q.Get("x") != "5" || q.Get("y") != "65" || q.Get("z") != "-5" {
		t.Fatalf("query=%v", q)
	}
}

func TestReadJournalAndAudit(t *testing.T) {
	dir := t.TempDir()
	j := persistlog.NewEventJournal(dir)
	for i, k := range []engine.EventKind{engine.EventActorJoined, engine.EventTeleported, engine.EventActorLeft} {
		if err := j.WriteEvent(engine.Event{Tick: uint64(i), Kind: k, Actor: "ash"}); err != nil {
			t.Fatalf("write event: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}
	a := persistlog.NewAuditLogger(dir)
	if err := a.WriteAudit(persistlog.AuditEntry{Action: "ZONE_CREATE", Zone: "Route 1"}); err != nil {
		t.Fatalf("write audit: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close audit: %v", err)
	}

	var kinds []string
	err := readJSONLZstd(filepath.Join(dir, "events"), "events-", func(raw []byte) error {
		var ev engine.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		kinds = append(kinds, string(ev.Kind))
		return nil
	})
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if strings.Join(kinds, ",") != "ACTOR_JOINED,TELEPORTED,ACTOR_LEFT" {
		t.Fatalf("kinds=%v", kinds)
	}

	var actions []string
	err = readJSONLZstd(filepath.Join(dir, "audit"), "audit-", func(raw []byte) error {
		var e persistlog.AuditEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		actions = append(actions, e.Action)
		return nil
	})
	if err != nil || len(actions) != 1 || actions[0] != "ZONE_CREATE" {
		t.Fatalf("audit actions=%v err=%v", actions, err)
	}

	if err := readJSONLZstd(filepath.Join(dir, "missing"), "x-", func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestAdminClientSendsActorAndBody(t *testing.T) {
	var gotActor, gotBody, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotActor = r.Header.Get("X-Admin-Actor")
		gotMethod = r.Method + " " + r.URL.RequestURI()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		rw.WriteHeader(http.StatusCreated)
		_, _ = rw.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newAdminClient(srv.URL+"/", "oak")
	status, body, err := c.do(http.MethodPost, "/admin/v1/zones", map[string]any{"name": "Route 1"})
	if err != nil || status != http.StatusCreated || string(body) != `{"ok":true}` {
		t.Fatalf("status=%d body=%s err=%v", status, body, err)
	}
	if gotActor != "oak" || gotMethod != "POST /admin/v1/zones" || !strings.Contains(gotBody, `"name":"Route 1"`) {
		t.Fatalf("actor=%q method=%q body=%q", gotActor, gotMethod, gotBody)
	}
}

func TestRunQueryRejectsUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	db, err := indexdb.OpenDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := runQuery(ctx, db, "bogus", "", 10); err == nil {
		t.Fatalf("expected error for unknown query")
	}
	for _, q := range []string{"encounters", "species", "reversions", "teleports"} {
		if err := runQuery(ctx, db, q, "", 10); err != nil {
			t.Fatalf("%s on empty db: %v", q, err)
		}
	}
}
