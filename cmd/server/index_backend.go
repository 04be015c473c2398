package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mapkit/internal/persistence/indexdb"
	"mapkit/internal/sim/engine"
)

type runtimeIndex interface {
	engine.EventSink
	Close() error
	Stats() indexdb.Stats
	UpsertConfig(docs map[string]any) error
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("MK_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "mapkit.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported MK_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
