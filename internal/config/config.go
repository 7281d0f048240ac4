// Package config loads engine settings with the precedence
// environment (NL2SQL_*) > config.local.yaml > config.yaml > defaults.
// Unknown keys in either file are an error so that a typo never silently
// falls back to a default.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Database points the executor at the target warehouse.
type Database struct {
	Driver       string `mapstructure:"driver"` // "postgres" or "mysql"
	DSN          string `mapstructure:"dsn"`
	DatabaseID   string `mapstructure:"database_id"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// Index points the retriever at the Postgres schema index.
type Index struct {
	DSN          string `mapstructure:"dsn"`
	EmbedURL     string `mapstructure:"embed_url"`
	EmbeddingDim int    `mapstructure:"embedding_dim"`
}

// Generation selects and tunes the SQL generation backend.
type Generation struct {
	Backend     string  `mapstructure:"backend"` // "sidecar" or "model"
	SidecarURL  string  `mapstructure:"sidecar_url"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	MaxAttempts int     `mapstructure:"max_attempts"`
	Temperature float64 `mapstructure:"temperature"`
	TimeoutSec  int     `mapstructure:"timeout_sec"`
}

// Retrieval tunes schema retrieval and fusion.
type Retrieval struct {
	TableTopK     int     `mapstructure:"table_top_k"`
	ColumnTopK    int     `mapstructure:"column_top_k"`
	MaxTables     int     `mapstructure:"max_tables"`
	MinScore      float64 `mapstructure:"min_score"`
	FKHopCap      int     `mapstructure:"fk_hop_cap"`
	GenericWeight float64 `mapstructure:"generic_weight"`
	HubBonus      float64 `mapstructure:"hub_bonus"`
}

// Executor tunes the safe execution layer.
type Executor struct {
	ProbeTimeoutMS int `mapstructure:"probe_timeout_ms"`
	ExecTimeoutMS  int `mapstructure:"exec_timeout_ms"`
	MaxRows        int `mapstructure:"max_rows"`
	DefaultLimit   int `mapstructure:"default_limit"`
	MaxLimit       int `mapstructure:"max_limit"`
}

// Audit configures the local audit trail.
type Audit struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Log configures console logging.
type Log struct {
	Level string `mapstructure:"level"`
}

// Config is the full engine configuration.
type Config struct {
	Database   Database   `mapstructure:"database"`
	Index      Index      `mapstructure:"index"`
	Generation Generation `mapstructure:"generation"`
	Retrieval  Retrieval  `mapstructure:"retrieval"`
	Executor   Executor   `mapstructure:"executor"`
	Audit      Audit      `mapstructure:"audit"`
	Log        Log        `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.database_id", "default")
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("index.embed_url", "http://127.0.0.1:8091")
	v.SetDefault("index.embedding_dim", 1024)
	v.SetDefault("generation.backend", "sidecar")
	v.SetDefault("generation.sidecar_url", "http://127.0.0.1:8090")
	v.SetDefault("generation.max_attempts", 3)
	v.SetDefault("generation.temperature", 0.2)
	v.SetDefault("generation.timeout_sec", 60)
	v.SetDefault("retrieval.table_top_k", 20)
	v.SetDefault("retrieval.column_top_k", 30)
	v.SetDefault("retrieval.max_tables", 8)
	v.SetDefault("retrieval.min_score", 0.02)
	v.SetDefault("retrieval.fk_hop_cap", 3)
	v.SetDefault("retrieval.generic_weight", 0.7)
	v.SetDefault("retrieval.hub_bonus", 0.05)
	v.SetDefault("executor.probe_timeout_ms", 2000)
	v.SetDefault("executor.exec_timeout_ms", 30000)
	v.SetDefault("executor.max_rows", 1000)
	v.SetDefault("executor.default_limit", 100)
	v.SetDefault("executor.max_limit", 1000)
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.path", "nl2sql_audit.db")
	v.SetDefault("log.level", "info")
}

// Load reads the configuration from dir. Both config files are optional;
// environment variables always win.
func Load(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	}

	v.SetConfigName("config.local")
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config.local.yaml: %w", err)
		}
	}

	v.SetEnvPrefix("NL2SQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	}); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver must be postgres or mysql, got %q", c.Database.Driver)
	}
	switch c.Generation.Backend {
	case "sidecar", "model":
	default:
		return fmt.Errorf("generation.backend must be sidecar or model, got %q", c.Generation.Backend)
	}
	if c.Generation.MaxAttempts < 1 {
		return fmt.Errorf("generation.max_attempts must be at least 1")
	}
	if c.Retrieval.FKHopCap < 0 {
		return fmt.Errorf("retrieval.fk_hop_cap must not be negative")
	}
	if c.Executor.MaxLimit < c.Executor.DefaultLimit {
		return fmt.Errorf("executor.max_limit (%d) must not be below executor.default_limit (%d)",
			c.Executor.MaxLimit, c.Executor.DefaultLimit)
	}
	return nil
}
