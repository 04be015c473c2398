package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`

	Encounter  Encounter  `yaml:"encounter"`
	Transition Transition `yaml:"transition"`
	Reversion  Reversion  `yaml:"reversion"`
	LevelCap   LevelCap   `yaml:"levelcap"`
}

type Encounter struct {
	CooldownTicks    int     `yaml:"cooldown_ticks"`
	StepChance       float64 `yaml:"step_chance"`
	DefaultShinyOdds int     `yaml:"default_shiny_odds"`
}

type Transition struct {
	AnimTicks            int     `yaml:"anim_ticks"`
	LiftVelocity         float64 `yaml:"lift_velocity"`
	TotalRotationDeg     float64 `yaml:"total_rotation_deg"`
	ArrivalSuppressTicks int     `yaml:"arrival_suppress_ticks"`
	LandingHeadroom      int     `yaml:"landing_headroom"`
}

type Reversion struct {
	ScanDepth int `yaml:"scan_depth"`
}

type LevelCap struct {
	Enabled            bool `yaml:"enabled"`
	DefaultCap         int  `yaml:"default_cap"`
	BypassWindowTicks  int  `yaml:"bypass_window_ticks"`
	BypassIfShiny      bool `yaml:"bypass_if_shiny"`
	BypassOnMasterBall bool `yaml:"bypass_on_master_ball"`
	ClampGainedOverCap bool `yaml:"clamp_gained_over_cap"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      20,
		Encounter: Encounter{
			CooldownTicks:    60,
			StepChance:       0.08,
			DefaultShinyOdds: 4096,
		},
		Transition: Transition{
			AnimTicks:            20,
			LiftVelocity:         0.004,
			TotalRotationDeg:     160,
			ArrivalSuppressTicks: 6,
			LandingHeadroom:      6,
		},
		Reversion: Reversion{ScanDepth: 64},
		LevelCap: LevelCap{
			Enabled:            true,
			DefaultCap:         100,
			BypassWindowTicks:  400,
			BypassIfShiny:      true,
			BypassOnMasterBall: true,
			ClampGainedOverCap: true,
		},
	}
}

// Load reads tuning.yaml over Defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// applyDefaults fills zero values left by a partial file.
func (t *Tuning) applyDefaults() {
	d := Defaults()
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.Encounter.CooldownTicks <= 0 {
		t.Encounter.CooldownTicks = d.Encounter.CooldownTicks
	}
	if t.Encounter.StepChance <= 0 {
		t.Encounter.StepChance = d.Encounter.StepChance
	}
	if t.Encounter.DefaultShinyOdds <= 0 {
		t.Encounter.DefaultShinyOdds = d.Encounter.DefaultShinyOdds
	}
	if t.Transition.AnimTicks <= 0 {
		t.Transition.AnimTicks = d.Transition.AnimTicks
	}
	if t.Transition.LiftVelocity <= 0 {
		t.Transition.LiftVelocity = d.Transition.LiftVelocity
	}
	if t.Transition.TotalRotationDeg <= 0 {
		t.Transition.TotalRotationDeg = d.Transition.TotalRotationDeg
	}
	if t.Transition.ArrivalSuppressTicks <= 0 {
		t.Transition.ArrivalSuppressTicks = d.Transition.ArrivalSuppressTicks
	}
	if t.Transition.LandingHeadroom <= 0 {
		t.Transition.LandingHeadroom = d.Transition.LandingHeadroom
	}
	if t.Reversion.ScanDepth <= 0 {
		t.Reversion.ScanDepth = d.Reversion.ScanDepth
	}
	if t.LevelCap.DefaultCap <= 0 {
		t.LevelCap.DefaultCap = d.LevelCap.DefaultCap
	}
	if t.LevelCap.BypassWindowTicks <= 0 {
		t.LevelCap.BypassWindowTicks = d.LevelCap.BypassWindowTicks
	}
}

func (t Tuning) Validate() error {
	if t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz %d out of range", t.TickRateHz)
	}
	if t.Encounter.StepChance > 1 {
		return fmt.Errorf("encounter.step_chance must be <= 1")
	}
	return nil
}

// SecondsToTicks converts a wall-clock delay at the configured tick rate.
func (t Tuning) SecondsToTicks(s int) int { return s * t.TickRateHz }
