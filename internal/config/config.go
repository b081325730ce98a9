// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for server, rules and storage settings.
//
// IMPORTANT: When changing default values, only modify this file.
// Environment variables are overlaid on top of the defaults by the XFromEnv functions.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `env:"PORT"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	AdminToken     string   `env:"ADMIN_TOKEN"` // Enables the authority end-turn shortcut when set
	SeatSecret     string   `env:"SEAT_SECRET"` // HMAC key for seat tokens (random when empty)
	DisableDebug   bool     `env:"DISABLE_DEBUG_SERVER"`
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port: 3000,
		AllowedOrigins: []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		},
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() (ServerConfig, error) {
	cfg := DefaultServer()
	if err := parseEnv(&cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// =============================================================================
// RULES CONFIGURATION
// =============================================================================

// RulesConfig holds the tunable match rules.
// Durations are counted in turn starts, costs in points.
type RulesConfig struct {
	BoardWidth  int `env:"RULES_BOARD_WIDTH"`
	BoardHeight int `env:"RULES_BOARD_HEIGHT"`

	MaxUnitsPerTeam   int `env:"RULES_MAX_UNITS_PER_TEAM"`
	MaxRitualPoints   int `env:"RULES_MAX_RITUAL_POINTS"`
	MaxOgounEvolution int `env:"RULES_MAX_OGOUN_EVOLUTIONS"`

	CostResurrectShadow int `env:"RULES_COST_RESURRECT_SHADOW"`
	CostResurrectRitual int `env:"RULES_COST_RESURRECT_RITUAL"`
	CostStealRitual     int `env:"RULES_COST_STEAL_RITUAL"`
	CostMarkRitual      int `env:"RULES_COST_MARK_RITUAL"`
	CostBoostRitual     int `env:"RULES_COST_BOOST_RITUAL"`

	MarkTurns  int `env:"RULES_MARK_TURNS"`  // Marking-team turn starts
	BoostTurns int `env:"RULES_BOOST_TURNS"` // Owning-team turn starts
	LockTurns  int `env:"RULES_LOCK_TURNS"`  // Global turn starts

	ForwardScanRequiresCapture bool `env:"RULES_FORWARD_SCAN_REQUIRES_CAPTURE"`

	// BonusCells is a list of "x:y" cells that award shadow points.
	BonusCells     []string `env:"RULES_BONUS_CELLS" envSeparator:","`
	BonusCellsOnce bool     `env:"RULES_BONUS_CELLS_ONCE"`
}

// DefaultRules returns the standard 9x9 ruleset.
func DefaultRules() RulesConfig {
	return RulesConfig{
		BoardWidth:  9,
		BoardHeight: 9,

		MaxUnitsPerTeam:   7,
		MaxRitualPoints:   3,
		MaxOgounEvolution: 2,

		CostResurrectShadow: 3,
		CostResurrectRitual: 1,
		CostStealRitual:     2,
		CostMarkRitual:      1,
		CostBoostRitual:     1,

		MarkTurns:  2,
		BoostTurns: 3,
		LockTurns:  3,

		ForwardScanRequiresCapture: true,

		BonusCells:     []string{"0:4", "4:4", "8:4"},
		BonusCellsOnce: true,
	}
}

// RulesFromEnv returns the ruleset with environment variable overrides.
func RulesFromEnv() (RulesConfig, error) {
	cfg := DefaultRules()
	if err := parseEnv(&cfg); err != nil {
		return RulesConfig{}, err
	}
	if cfg.BoardWidth < 3 || cfg.BoardHeight < 3 {
		return RulesConfig{}, fmt.Errorf("board %dx%d is too small", cfg.BoardWidth, cfg.BoardHeight)
	}
	return cfg, nil
}

// =============================================================================
// STORAGE CONFIGURATION
// =============================================================================

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DBPath       string `env:"DB_PATH"`        // SQLite match journal; "off" disables it
	EventLogPath string `env:"EVENT_LOG_PATH"` // JSONL event log; "off" disables it
}

// DefaultStorage returns the default storage configuration.
func DefaultStorage() StorageConfig {
	return StorageConfig{
		DBPath:       "loa-board.db",
		EventLogPath: "events.jsonl",
	}
}

// StorageFromEnv returns storage configuration with environment variable overrides.
func StorageFromEnv() (StorageConfig, error) {
	cfg := DefaultStorage()
	if err := parseEnv(&cfg); err != nil {
		return StorageConfig{}, err
	}
	if cfg.DBPath == "off" {
		cfg.DBPath = ""
	}
	if cfg.EventLogPath == "off" {
		cfg.EventLogPath = ""
	}
	return cfg, nil
}

// =============================================================================
// MIRROR CLIENT CONFIGURATION
// =============================================================================

// MirrorConfig holds settings for the read-only mirror client.
type MirrorConfig struct {
	URL    string `env:"MIRROR_URL"`
	Origin string `env:"MIRROR_ORIGIN"`
	Token  string `env:"MIRROR_SEAT_TOKEN"` // Optional, lets the mirror propose
}

// DefaultMirror returns the default mirror configuration.
func DefaultMirror() MirrorConfig {
	return MirrorConfig{
		URL:    "ws://localhost:3000/ws",
		Origin: "http://localhost",
	}
}

// MirrorFromEnv returns mirror configuration with environment variable overrides.
func MirrorFromEnv() (MirrorConfig, error) {
	cfg := DefaultMirror()
	if err := parseEnv(&cfg); err != nil {
		return MirrorConfig{}, err
	}
	return cfg, nil
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server  ServerConfig
	Rules   RulesConfig
	Storage StorageConfig
}

// Load returns the complete configuration with environment overrides.
func Load() (AppConfig, error) {
	server, err := ServerFromEnv()
	if err != nil {
		return AppConfig{}, err
	}
	rules, err := RulesFromEnv()
	if err != nil {
		return AppConfig{}, err
	}
	storage, err := StorageFromEnv()
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{
		Server:  server,
		Rules:   rules,
		Storage: storage,
	}, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// parseEnv overlays environment variables onto target.
// Fields whose variable is unset keep their default value.
func parseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
