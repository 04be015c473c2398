package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"mapkit/internal/sim/zones"
)

type adminClient struct {
	base  string
	actor string
	cl    *http.Client
}

func newAdminClient(baseURL, actor string) *adminClient {
	return &adminClient{
		base:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		actor: actor,
		cl:    &http.Client{Timeout: 10 * time.Second},
	}
}

// do sends the request and returns the status and raw body.
func (c *adminClient) do(method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set("X-Admin-Actor", c.actor)
	}
	resp, err := c.cl.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

// run prints the response body and exits non-zero on a failed request.
func (c *adminClient) run(method, path string, body any) {
	status, b, err := c.do(method, path, body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	fmt.Println(strings.TrimRight(string(b), "\n"))
	if status/100 != 2 {
		os.Exit(1)
	}
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	newAdminClient(*baseURL, "").run(http.MethodGet, "/admin/v1/state", nil)
}

func zonesCmd(args []string) {
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	sub := args[0]
	fs := flag.NewFlagSet("zones "+sub, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	actor := fs.String("as", os.Getenv("USER"), "operator name recorded in the audit log")
	id := fs.String("id", "", "zone id")
	name := fs.String("name", "", "zone name (add, remove by name)")
	world := fs.String("world", "minecraft:overworld", "world key")
	at := fs.String("at", "", "cell x,y,z (here, checklist)")
	cornerA := fs.String("min", "", "corner x,y,z (add)")
	cornerB := fs.String("max", "", "corner x,y,z (add)")
	shiny := fs.Int("shiny", 0, "shiny odds (add; 0 uses the server default)")
	species := fs.String("species", "", "species (spawn-add, spawn-remove)")
	minLevel := fs.Int("min_level", 1, "minimum level (spawn-add)")
	maxLevel := fs.Int("max_level", 1, "maximum level (spawn-add)")
	weight := fs.Int("weight", 1, "selection weight (spawn-add)")
	tod := fs.String("time", "BOTH", "DAY, NIGHT or BOTH (spawn-add)")
	aspect := fs.String("aspect", "", "aspect (spawn-add)")
	_ = fs.Parse(args[1:])

	c := newAdminClient(*baseURL, *actor)
	switch sub {
	case "list":
		q := ""
		if isFlagSet(fs, "world") {
			q = "?world=" + url.QueryEscape(*world)
		}
		c.run(http.MethodGet, "/admin/v1/zones"+q, nil)
	case "show":
		c.run(http.MethodGet, "/admin/v1/zones/"+url.PathEscape(need(*id, "-id")), nil)
	case "add":
		lo, err := parseVec3(need(*cornerA, "-min"))
		exitOn(err)
		hi, err := parseVec3(need(*cornerB, "-max"))
		exitOn(err)
		c.run(http.MethodPost, "/admin/v1/zones", map[string]any{
			"name":      *name,
			"world":     *world,
			"min":       lo,
			"max":       hi,
			"shinyOdds": *shiny,
		})
	case "remove":
		if *id != "" {
			c.run(http.MethodDelete, "/admin/v1/zones/"+url.PathEscape(*id), nil)
			return
		}
		c.run(http.MethodDelete, "/admin/v1/zones?name="+url.QueryEscape(need(*name, "-id or -name")), nil)
	case "here":
		p, err := parseVec3(need(*at, "-at"))
		exitOn(err)
		c.run(http.MethodPost, "/admin/v1/zones/removehere", map[string]any{"world": *world, "x": p[0], "y": p[1], "z": p[2]})
	case "checklist":
		c.run(http.MethodGet, checklistPath(*world, need(*at, "-at")), nil)
	case "spawn-add":
		tf, err := zones.ParseTimeFilter(*tod)
		exitOn(err)
		c.run(http.MethodPost, "/admin/v1/zones/"+url.PathEscape(need(*id, "-id"))+"/spawns", zones.SpawnEntry{
			Species:  need(*species, "-species"),
			MinLevel: *minLevel,
			MaxLevel: *maxLevel,
			Weight:   *weight,
			Time:     tf,
			Aspect:   *aspect,
		})
	case "spawn-remove":
		c.run(http.MethodDelete, "/admin/v1/zones/"+url.PathEscape(need(*id, "-id"))+"/spawns?species="+url.QueryEscape(need(*species, "-species")), nil)
	default:
		usage()
		os.Exit(2)
	}
}

func checklistPath(world, at string) string {
	p, err := parseVec3(at)
	exitOn(err)
	q := url.Values{}
	q.Set("world", world)
	q.Set("x", fmt.Sprint(p[0]))
	q.Set("y", fmt.Sprint(p[1]))
	q.Set("z", fmt.Sprint(p[2]))
	return "/admin/v1/zones/checklist?" + q.Encode()
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func need(v, flagName string) string {
	if strings.TrimSpace(v) == "" {
		fmt.Fprintln(os.Stderr, "missing", flagName)
		os.Exit(2)
	}
	return v
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
