package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := "tick_rate_hz: 10\nencounter:\n  step_chance: 0.5\nlevelcap:\n  enabled: false\n"
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TickRateHz != 10 || got.Encounter.StepChance != 0.5 {
		t.Fatalf("overrides lost: %+v", got)
	}
	if got.Encounter.CooldownTicks != 60 || got.Transition.AnimTicks != 20 || got.Reversion.ScanDepth != 64 {
		t.Fatalf("defaults lost: %+v", got)
	}
	if got.LevelCap.Enabled {
		t.Fatalf("levelcap.enabled override lost")
	}
	if got.SecondsToTicks(2) != 20 {
		t.Fatalf("SecondsToTicks=%d", got.SecondsToTicks(2))
	}
}

func TestLoadRepoConfig(t *testing.T) {
	got, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TickRateHz != 20 || got.Encounter.DefaultShinyOdds != 4096 {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestValidateRejectsChanceOverOne(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	_ = os.WriteFile(p, []byte("encounter:\n  step_chance: 1.5\n"), 0o644)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEmptyPathIsDefaults(t *testing.T) {
	got, err := Load("")
	if err != nil || got != Defaults() {
		t.Fatalf("got=%+v err=%v", got, err)
	}
}
