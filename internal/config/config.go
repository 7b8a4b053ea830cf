package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Backend     BackendConfig             `json:"backend"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// SaveIndicatorDelayMS controls how long the "saving" flag stays up
	// after a persistence write. UI feedback only.
	SaveIndicatorDelayMS int `json:"save_indicator_delay_ms"`
	// PacingDelayMS delays locally resolved answers (no backend call) so
	// responses don't appear instantaneous.
	PacingDelayMS int `json:"pacing_delay_ms"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	MirrorTTLMinutes int    `json:"mirror_ttl_minutes"`
}

type BackendConfig struct {
	BaseURL string `json:"base_url"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:        ":8090",
			SaveIndicatorDelayMS: 500,
			PacingDelayMS:        400,
		},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "./data/archagent.db"},
		},
		Backend: BackendConfig{BaseURL: "http://127.0.0.1:8000"},
	}
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default config file is not an error; Default() is used instead.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return Default(), nil
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	cfg := Default()
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}

	for name, dbCfg := range cfg.Databases {
		if looksLikeFilePath(dbCfg.DSN) && !filepath.IsAbs(dbCfg.DSN) {
			dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
			cfg.Databases[name] = dbCfg
		}
	}

	return cfg, nil
}

// looksLikeFilePath reports whether a sqlite DSN refers to a file on disk
// rather than an in-memory database or URI-style DSN.
func looksLikeFilePath(dsn string) bool {
	return dsn != "" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:")
}
