package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all lexflow configuration, parsed from LEXFLOW_-prefixed
// environment variables.
type Config struct {
	DBPath   string `envconfig:"DB_PATH" default:""`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// RulesPath points at an optional declarative rule spec document that is
	// registered alongside the built-in rules.
	RulesPath string `envconfig:"RULES_PATH" default:""`

	// Reminder sweep cadence and lead times.
	SweepSchedule string        `envconfig:"SWEEP_SCHEDULE" default:"0 * * * *"`
	TaskLead      time.Duration `envconfig:"TASK_LEAD" default:"24h"`
	HearingLead   time.Duration `envconfig:"HEARING_LEAD" default:"72h"`

	// Working hours bound the availability window for day-slot queries.
	WorkStartHour int `envconfig:"WORK_START_HOUR" default:"9"`
	WorkEndHour   int `envconfig:"WORK_END_HOUR" default:"18"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("LEXFLOW", &cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(lexflowDir(), "lexflow.db")
	}
	if cfg.WorkStartHour < 0 || cfg.WorkEndHour > 24 || cfg.WorkStartHour >= cfg.WorkEndHour {
		return cfg, fmt.Errorf("invalid working hours %d-%d", cfg.WorkStartHour, cfg.WorkEndHour)
	}
	return cfg, nil
}

func lexflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lexflow"
	}
	return filepath.Join(home, ".lexflow")
}
