package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Gemini      GeminiConfig              `json:"gemini"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// HistoryLimit caps the recent-query list per client. Defaults to 20.
	HistoryLimit int `json:"history_limit"`
	// AskRatePerMinute limits consultations per client. Defaults to 10.
	AskRatePerMinute int `json:"ask_rate_per_minute"`
	// SessionRetentionDays prunes sessions idle longer than this. 0 keeps forever.
	SessionRetentionDays int `json:"session_retention_days"`
	// AnswerCacheTTLMinutes controls the redis answer cache. Defaults to 15.
	AnswerCacheTTLMinutes int `json:"answer_cache_ttl_minutes"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type GeminiConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
	// TitleModel answers the short title prompts; defaults to Model.
	TitleModel string `json:"title_model"`
}

// Load reads configuration from the provided path (defaults to config.json).
// The GEMINI_API_KEY environment variable overrides the configured key.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Gemini.APIKey = key
	}
	if cfg.Gemini.APIKey == "" {
		return nil, fmt.Errorf("gemini api_key must be configured")
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.0-flash"
	}
	if cfg.Gemini.TitleModel == "" {
		cfg.Gemini.TitleModel = cfg.Gemini.Model
	}

	// sqlite paths are resolved relative to the config file.
	for name, db := range cfg.Databases {
		if db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	if cfg.BasicConfig.HistoryLimit <= 0 {
		cfg.BasicConfig.HistoryLimit = 20
	}
	if cfg.BasicConfig.AskRatePerMinute <= 0 {
		cfg.BasicConfig.AskRatePerMinute = 10
	}
	if cfg.BasicConfig.AnswerCacheTTLMinutes <= 0 {
		cfg.BasicConfig.AnswerCacheTTLMinutes = 15
	}

	return &cfg, nil
}
